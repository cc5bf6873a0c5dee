// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// updatectl is the operator CLI for the update-graph services.
package main

import (
	"log"

	"github.com/AleutianAI/updategraph/pkg/logging"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "updatectl",
	Short: "Operator tooling for the update-graph services",
	Long: `updatectl inspects and debugs the fleet update distribution backend.

Examples:
  updatectl bucket 7c16...              # Which rollout bucket is this machine in?
  updatectl graph fetch --url http://builder:8080 --stream stable --basearch x86_64
  updatectl graph validate graph.json   # Run invariant checks on a saved graph`,
}

func main() {
	logging.SetupCLI()
	// Execute the root command. Cobra handles parsing the arguments.
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}
