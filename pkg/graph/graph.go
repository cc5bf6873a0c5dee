// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph defines the update-graph data model shared by the graph
// builder and the policy engine: release nodes, upgrade edges, the graph
// invariants both services enforce, and the wire serialization.
//
// # Description
//
// An update graph is a DAG whose nodes are published releases in age order
// (index 0 is the oldest release) and whose edges are permitted upgrade
// paths. Edges reference node positions, not versions, so a graph is only
// meaningful as a whole; Validate checks the structural invariants that make
// the position-based encoding safe to consume.
//
// # Invariants
//
//  1. Every edge endpoint indexes an existing node.
//  2. Every edge points forward in age order (From < To), which makes the
//     edge relation acyclic by construction.
//  3. Node versions are unique within a graph.
//
// A fourth invariant, immutability after publication, is enforced by the
// snapshot caches in the services: a published *Graph is never mutated,
// refresh cycles always build and publish a fresh instance.
package graph

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// Node is a single release entry in the update graph.
type Node struct {
	// Version uniquely identifies the release within a scope.
	Version string `json:"version"`

	// Payload is the content address of the release artifact. It is opaque
	// to this system and forwarded verbatim to update agents.
	Payload string `json:"payload"`

	// Metadata carries rollout and policy annotations as string key/values.
	// See annotations.go for the recognized keys.
	Metadata map[string]string `json:"metadata"`
}

// Edge is a permitted upgrade path between two node positions.
// Serialized as a two-element JSON array [from, to].
type Edge [2]int

// From returns the source node index.
func (e Edge) From() int { return e[0] }

// To returns the target node index.
func (e Edge) To() int { return e[1] }

// Graph is an update graph: releases in age order plus upgrade edges.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Validate checks invariants 1-3 (endpoint existence, forward edges,
// version uniqueness). A nil error means the graph is safe to publish.
func (g *Graph) Validate() error {
	seen := make(map[string]struct{}, len(g.Nodes))
	for i, node := range g.Nodes {
		if node.Version == "" {
			return fmt.Errorf("node %d has an empty version", i)
		}
		if _, dup := seen[node.Version]; dup {
			return fmt.Errorf("duplicate version %q", node.Version)
		}
		seen[node.Version] = struct{}{}
	}

	for _, edge := range g.Edges {
		if edge.From() < 0 || edge.From() >= len(g.Nodes) {
			return fmt.Errorf("edge %v: source index out of range (graph has %d nodes)", edge, len(g.Nodes))
		}
		if edge.To() < 0 || edge.To() >= len(g.Nodes) {
			return fmt.Errorf("edge %v: target index out of range (graph has %d nodes)", edge, len(g.Nodes))
		}
		if edge.From() >= edge.To() {
			return fmt.Errorf("edge %v: does not point forward in age order", edge)
		}
	}
	return nil
}

// FindVersion returns the index of the node with the given version, or -1.
func (g *Graph) FindVersion(version string) int {
	for i, node := range g.Nodes {
		if node.Version == version {
			return i
		}
	}
	return -1
}

// Marshal serializes the graph to its canonical wire form.
func (g *Graph) Marshal() ([]byte, error) {
	body, err := json.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize graph: %w", err)
	}
	return body, nil
}

// ETag derives the opacity token for a serialized graph body. Tokens are
// content-addressed, so two identical bodies always produce the same token
// across processes and hosts.
func ETag(body []byte) string {
	sum := sha256.Sum256(body)
	return fmt.Sprintf("%q", fmt.Sprintf("%x", sum))
}
