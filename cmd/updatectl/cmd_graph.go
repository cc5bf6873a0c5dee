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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/AleutianAI/updategraph/pkg/graph"
	"github.com/AleutianAI/updategraph/pkg/scope"
	"github.com/spf13/cobra"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	graphFetchURL      string // Base URL of a graph-builder or policy-engine
	graphFetchStream   string // Stream to request
	graphFetchBasearch string // Basearch to request
	graphFetchClientID string // Optional client id (policy-engine endpoints)
	graphFetchTimeout  time.Duration
)

// =============================================================================
// COMMAND DEFINITIONS
// =============================================================================

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Fetch and inspect update graphs",
}

// graphFetchCmd pulls a graph from a running service and pretty-prints it.
//
// # Examples
//
//	updatectl graph fetch --url http://builder:8080 --stream stable --basearch x86_64
//	updatectl graph fetch --url http://engine:8081 --stream stable --basearch x86_64 --client-id $(uuidgen)
var graphFetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch a graph from a running service and pretty-print it",
	RunE:  runGraphFetchCommand,
}

// graphValidateCmd runs the structural invariant checks on a graph document
// saved to disk, for debugging assembly problems offline.
var graphValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Run invariant checks on a saved graph document",
	Args:  cobra.ExactArgs(1),
	RunE:  runGraphValidateCommand,
}

// =============================================================================
// COMMAND INITIALIZATION
// =============================================================================

func init() {
	graphFetchCmd.Flags().StringVar(&graphFetchURL, "url", "http://localhost:8080",
		"Base URL of the graph-builder or policy-engine")
	graphFetchCmd.Flags().StringVar(&graphFetchStream, "stream", "stable",
		"Release stream to request")
	graphFetchCmd.Flags().StringVar(&graphFetchBasearch, "basearch", "x86_64",
		"Base architecture to request")
	graphFetchCmd.Flags().StringVar(&graphFetchClientID, "client-id", "",
		"Client id for policy-engine requests (omit for raw builder graphs)")
	graphFetchCmd.Flags().DurationVar(&graphFetchTimeout, "timeout", 30*time.Second,
		"Request timeout")

	graphCmd.AddCommand(graphFetchCmd)
	graphCmd.AddCommand(graphValidateCmd)
	rootCmd.AddCommand(graphCmd)
}

// =============================================================================
// COMMAND IMPLEMENTATIONS
// =============================================================================

func runGraphFetchCommand(cmd *cobra.Command, _ []string) error {
	sc := scope.Scope{Stream: graphFetchStream, Basearch: graphFetchBasearch}
	if err := sc.Validate(); err != nil {
		return err
	}

	base, err := url.Parse(graphFetchURL)
	if err != nil {
		return fmt.Errorf("invalid --url: %w", err)
	}
	base = base.JoinPath("/v1/graph")
	q := url.Values{}
	q.Set("stream", sc.Stream)
	q.Set("basearch", sc.Basearch)
	if graphFetchClientID != "" {
		q.Set("client_id", graphFetchClientID)
	}
	base.RawQuery = q.Encode()

	ctx, cancel := context.WithTimeout(cmd.Context(), graphFetchTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base.String(), nil)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("service returned %d: %s", resp.StatusCode, string(body))
	}

	g, err := decodeAndValidate(body)
	if err != nil {
		return err
	}

	pretty, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return err
	}
	cmd.Println(string(pretty))
	cmd.Printf("\n%d nodes, %d edges, etag %s\n", len(g.Nodes), len(g.Edges), resp.Header.Get("ETag"))
	return nil
}

func runGraphValidateCommand(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}

	g, err := decodeAndValidate(raw)
	if err != nil {
		return err
	}

	cmd.Printf("ok: %d nodes, %d edges\n", len(g.Nodes), len(g.Edges))
	return nil
}

// decodeAndValidate parses a graph document and checks both the structural
// invariants and every node's annotation metadata.
func decodeAndValidate(raw []byte) (*graph.Graph, error) {
	var g graph.Graph
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("failed to decode graph: %w", err)
	}
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("invariant violation: %w", err)
	}
	for _, node := range g.Nodes {
		if _, err := graph.ParseAnnotations(node); err != nil {
			return nil, fmt.Errorf("bad annotations: %w", err)
		}
	}
	return &g, nil
}
