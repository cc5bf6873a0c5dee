// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package evaluate applies per-client rollout policy to a mirrored graph.
//
// # Description
//
// Evaluation is a pure function of the snapshot, the client parameters, and
// the supplied time; it never mutates the input graph. Nodes are filtered
// first against the client's rollout bucket, then edges are filtered
// against the surviving node set and re-indexed, so the output can never
// contain a dangling edge.
//
// Barrier and deadend restrictions are not re-evaluated here: those edges
// were already removed when the graph was assembled, and no client-side
// parameter can bring them back.
package evaluate

import (
	"time"

	"github.com/AleutianAI/updategraph/pkg/graph"
	"github.com/AleutianAI/updategraph/pkg/rollout"
)

// Request carries the per-client evaluation parameters.
type Request struct {
	// ClientID is the opaque identifier hashed into the rollout bucket.
	ClientID string

	// CurrentVersion, when set, marks a node that is always retained: a
	// client must be able to see where it currently stands, whatever the
	// ramp says.
	CurrentVersion string

	// Wariness, when non-nil, replaces the hashed bucket. 0 opts into
	// every rollout immediately; 100 waits for full availability.
	Wariness *float64

	// Now is the evaluation time. Injected so tests and replay tooling can
	// pin the clock.
	Now time.Time
}

// Bucket returns the effective rollout bucket for the request.
func (r Request) Bucket() float64 {
	if r.Wariness != nil {
		return *r.Wariness
	}
	return rollout.Bucket(r.ClientID)
}

// Evaluator filters graphs for individual clients.
type Evaluator struct {
	// defaultRampDuration applies to rollout annotations without an
	// explicit duration.
	defaultRampDuration time.Duration
}

// New creates an evaluator.
func New(defaultRampDuration time.Duration) *Evaluator {
	return &Evaluator{defaultRampDuration: defaultRampDuration}
}

// Evaluate returns the subgraph visible to one client at one moment.
//
// A node is retained when any of these hold:
//   - its ramp threshold strictly exceeds the client's bucket,
//   - it carries no gradual rollout (immediate ramp),
//   - it is the client's current version.
//
// Edges are then retained only when both endpoints survived, with indices
// rewritten for the compacted node list.
func (e *Evaluator) Evaluate(g *graph.Graph, req Request) (*graph.Graph, error) {
	bucket := req.Bucket()

	kept := make([]graph.Node, 0, len(g.Nodes))
	remap := make(map[int]int, len(g.Nodes))

	for index, node := range g.Nodes {
		ann, err := graph.ParseAnnotations(node)
		if err != nil {
			return nil, err
		}

		ramp := rollout.ForNode(ann, e.defaultRampDuration)
		visible := ramp == rollout.Immediate ||
			rollout.Eligible(ramp, bucket, req.Now) ||
			(req.CurrentVersion != "" && node.Version == req.CurrentVersion)
		if !visible {
			continue
		}

		remap[index] = len(kept)
		kept = append(kept, node)
	}

	edges := make([]graph.Edge, 0, len(g.Edges))
	for _, edge := range g.Edges {
		from, fromKept := remap[edge.From()]
		to, toKept := remap[edge.To()]
		if !fromKept || !toKept {
			continue
		}
		edges = append(edges, graph.Edge{from, to})
	}

	return &graph.Graph{Nodes: kept, Edges: edges}, nil
}
