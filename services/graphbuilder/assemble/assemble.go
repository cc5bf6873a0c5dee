// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package assemble turns a raw release enumeration into a validated update
// graph for one scope.
//
// # Description
//
// Assembly is a single pass per refresh cycle:
//
//  1. Build nodes in age order, keeping only releases that carry a payload
//     for the requested basearch, and inject barrier/deadend/rollout
//     annotations from the updates document.
//  2. Compute edges: every release may upgrade to every newer release,
//     except that no edge may cross a barrier and deadend nodes contribute
//     no outgoing edges.
//  3. Validate the structural invariants. A violation fails the whole
//     cycle; nothing partially assembled is ever returned.
//
// # Exclusion precedence
//
// When a release is both a barrier and a deadend, the barrier governs its
// inbound edges (clients below still funnel through it) and the deadend
// governs its outbound edges (nothing routes past it). This ordering is
// deterministic and documented here because upstream metadata does not
// define combined semantics.
package assemble

import (
	"fmt"
	"strconv"

	"github.com/AleutianAI/updategraph/pkg/graph"
	"github.com/AleutianAI/updategraph/pkg/scope"
	"github.com/AleutianAI/updategraph/services/graphbuilder/source"
)

// AssemblyError is a fatal per-cycle failure: the raw enumeration was
// malformed or the assembled graph violated an invariant. The caller keeps
// serving the previous snapshot.
type AssemblyError struct {
	Scope  scope.Scope
	Reason string
	Err    error
}

func (e *AssemblyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("assembly failed for %s: %s: %v", e.Scope, e.Reason, e.Err)
	}
	return fmt.Sprintf("assembly failed for %s: %s", e.Scope, e.Reason)
}

func (e *AssemblyError) Unwrap() error { return e.Err }

// Assemble builds the annotated update graph for one scope.
//
// An index with zero releases produces a valid empty graph. Duplicate
// versions in the raw input are a fatal error, since the source data is
// ambiguous and no correct graph can be derived from it.
func Assemble(sc scope.Scope, index *source.ReleaseIndex, updates *source.UpdatesDoc) (*graph.Graph, error) {
	nodes, err := buildNodes(sc, index, updates)
	if err != nil {
		return nil, err
	}

	edges, err := computeEdges(nodes)
	if err != nil {
		return nil, &AssemblyError{Scope: sc, Reason: "edge computation failed", Err: err}
	}

	g := &graph.Graph{Nodes: nodes, Edges: edges}
	if err := g.Validate(); err != nil {
		return nil, &AssemblyError{Scope: sc, Reason: "invariant violation", Err: err}
	}
	return g, nil
}

// buildNodes creates annotated nodes in age order, skipping releases that
// have no payload for the scope's basearch.
func buildNodes(sc scope.Scope, index *source.ReleaseIndex, updates *source.UpdatesDoc) ([]graph.Node, error) {
	seen := make(map[string]struct{}, len(index.Releases))
	nodes := make([]graph.Node, 0, len(index.Releases))

	for position, entry := range index.Releases {
		if entry.Version == "" {
			return nil, &AssemblyError{Scope: sc, Reason: "release with empty version in index"}
		}
		if _, dup := seen[entry.Version]; dup {
			return nil, &AssemblyError{Scope: sc, Reason: fmt.Sprintf("duplicate version %q in index", entry.Version)}
		}
		seen[entry.Version] = struct{}{}

		payload := ""
		for _, commit := range entry.Commits {
			if commit.Architecture != sc.Basearch || commit.Checksum == "" {
				continue
			}
			payload = commit.Checksum
		}
		// Not published for this basearch; the release simply does not
		// exist in this scope's graph.
		if payload == "" {
			continue
		}

		// The age index is the release's position in the upstream index, so
		// releases skipped for this basearch still consume indices and the
		// metadata matches across scopes.
		node := graph.Node{
			Version: entry.Version,
			Payload: payload,
			Metadata: map[string]string{
				graph.KeyAgeIndex: strconv.Itoa(position),
				graph.KeyScheme:   "checksum",
			},
		}
		annotate(&node, updates.NoteForVersion(entry.Version))
		nodes = append(nodes, node)
	}

	return nodes, nil
}

// annotate copies the operator policy note for a version into the node's
// metadata, applying the "generic" reason fallback.
func annotate(node *graph.Node, note *source.UpdateNote) {
	if note == nil {
		return
	}

	if barrier := note.Metadata.Barrier; barrier != nil {
		reason := barrier.Reason
		if reason == "" {
			reason = "generic"
		}
		node.Metadata[graph.KeyBarrier] = "true"
		node.Metadata[graph.KeyBarrierReason] = reason
	}

	if deadend := note.Metadata.Deadend; deadend != nil {
		reason := deadend.Reason
		if reason == "" {
			reason = "generic"
		}
		node.Metadata[graph.KeyDeadend] = "true"
		node.Metadata[graph.KeyDeadendReason] = reason
	}

	if note.Metadata.RolloutSkip {
		node.Metadata[graph.KeyRolloutSkip] = "true"
	}

	if rollout := note.Metadata.Rollout; rollout != nil {
		node.Metadata[graph.KeyRollout] = "true"
		if rollout.StartEpoch != nil {
			node.Metadata[graph.KeyRolloutStartEpoch] = strconv.FormatInt(*rollout.StartEpoch, 10)
		}
		if rollout.StartPercentage != nil {
			node.Metadata[graph.KeyRolloutStartPercentage] = strconv.FormatFloat(*rollout.StartPercentage, 'f', -1, 64)
		}
		if rollout.DurationMinutes != nil {
			node.Metadata[graph.KeyRolloutDurationMinutes] = strconv.FormatInt(*rollout.DurationMinutes, 10)
		}
	}
}

// computeEdges derives upgrade edges from the node annotations.
//
// Candidate edges run from every release to every newer release. Two
// exclusions apply:
//
//   - A barrier at index b removes every edge crossing it (from < b < to):
//     clients below the barrier must funnel through it before seeing
//     anything newer. Equivalently, the allowed sources for a target are
//     the nodes since the previous barrier, barrier included.
//   - A deadend contributes no outgoing edges.
//
// Rollout annotations do not remove edges here; they gate node visibility
// per client in the policy engine.
func computeEdges(nodes []graph.Node) ([]graph.Edge, error) {
	barriers := make([]int, 0)
	deadends := make(map[int]bool)

	for index, node := range nodes {
		ann, err := graph.ParseAnnotations(node)
		if err != nil {
			return nil, err
		}
		if ann.Barrier != nil {
			barriers = append(barriers, index)
		}
		if ann.Deadend != nil {
			deadends[index] = true
		}
	}

	var edges []graph.Edge
	for target := 1; target < len(nodes); target++ {
		floor := previousBarrier(barriers, target)
		for from := floor; from < target; from++ {
			if deadends[from] {
				continue
			}
			edges = append(edges, graph.Edge{from, target})
		}
	}
	return edges, nil
}

// previousBarrier returns the highest barrier index strictly below target,
// or 0 when none exists. barriers must be sorted ascending, which holds by
// construction in computeEdges.
func previousBarrier(barriers []int, target int) int {
	floor := 0
	for _, b := range barriers {
		if b >= target {
			break
		}
		floor = b
	}
	return floor
}
