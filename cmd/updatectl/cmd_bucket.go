// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"

	"github.com/AleutianAI/updategraph/pkg/rollout"
	"github.com/spf13/cobra"
)

// bucketCmd answers the most common support question during a staged
// rollout: which bucket is this machine in, and at what ramp threshold
// will it start seeing the release?
//
// # Examples
//
//	updatectl bucket 7c16d2ef-9d4a-4f5c-8b3e-2a1f0e9d8c7b
var bucketCmd = &cobra.Command{
	Use:   "bucket <client-id>",
	Short: "Print the stable rollout bucket for a client identifier",
	Args:  cobra.ExactArgs(1),
	RunE:  runBucketCommand,
}

func init() {
	rootCmd.AddCommand(bucketCmd)
}

func runBucketCommand(cmd *cobra.Command, args []string) error {
	clientID := args[0]
	if clientID == "" {
		return fmt.Errorf("client id must not be empty")
	}

	bucket := rollout.Bucket(clientID)
	cmd.Printf("client_id: %s\n", clientID)
	cmd.Printf("bucket: %.0f\n", bucket)
	cmd.Printf("hash_version: %d\n", rollout.BucketHashVersion)
	return nil
}
