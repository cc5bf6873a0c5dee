// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package assemble

import (
	"testing"

	"github.com/AleutianAI/updategraph/pkg/graph"
	"github.com/AleutianAI/updategraph/pkg/scope"
	"github.com/AleutianAI/updategraph/services/graphbuilder/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testScope = scope.Scope{Stream: "stable", Basearch: "x86_64"}

func release(version string, arches ...string) source.Entry {
	entry := source.Entry{Version: version}
	for _, arch := range arches {
		entry.Commits = append(entry.Commits, source.Commit{
			Architecture: arch,
			Checksum:     "sha256:" + version + "-" + arch,
		})
	}
	return entry
}

func index(entries ...source.Entry) *source.ReleaseIndex {
	return &source.ReleaseIndex{Stream: "stable", Releases: entries}
}

func emptyUpdates() *source.UpdatesDoc {
	return &source.UpdatesDoc{Stream: "stable"}
}

func hasEdge(g *graph.Graph, from, to int) bool {
	for _, e := range g.Edges {
		if e.From() == from && e.To() == to {
			return true
		}
	}
	return false
}

func TestAssemble_EmptyIndex(t *testing.T) {
	g, err := Assemble(testScope, index(), emptyUpdates())
	require.NoError(t, err, "zero releases must produce an empty valid graph, not an error")
	assert.Empty(t, g.Nodes)
	assert.Empty(t, g.Edges)
	require.NoError(t, g.Validate())
}

func TestAssemble_LinearChain(t *testing.T) {
	g, err := Assemble(testScope, index(
		release("40.1.0", "x86_64"),
		release("40.2.0", "x86_64"),
		release("40.3.0", "x86_64"),
	), emptyUpdates())
	require.NoError(t, err)

	require.Len(t, g.Nodes, 3)
	assert.Equal(t, "40.1.0", g.Nodes[0].Version)
	assert.Equal(t, "sha256:40.2.0-x86_64", g.Nodes[1].Payload)
	assert.Equal(t, "0", g.Nodes[0].Metadata[graph.KeyAgeIndex])
	assert.Equal(t, "2", g.Nodes[2].Metadata[graph.KeyAgeIndex])

	// Without exclusions every older release may reach every newer one.
	assert.True(t, hasEdge(g, 0, 1))
	assert.True(t, hasEdge(g, 1, 2))
	assert.True(t, hasEdge(g, 0, 2))
	assert.Len(t, g.Edges, 3)
}

func TestAssemble_SkipsForeignBasearch(t *testing.T) {
	g, err := Assemble(testScope, index(
		release("40.1.0", "x86_64", "aarch64"),
		release("40.2.0", "aarch64"),
		release("40.3.0", "x86_64"),
	), emptyUpdates())
	require.NoError(t, err)

	require.Len(t, g.Nodes, 2, "aarch64-only release must not appear in the x86_64 graph")
	assert.Equal(t, "40.1.0", g.Nodes[0].Version)
	assert.Equal(t, "40.3.0", g.Nodes[1].Version)
	assert.True(t, hasEdge(g, 0, 1))

	// Skipped releases still consume age indices, so the same release
	// carries the same index in every scope's graph.
	assert.Equal(t, "0", g.Nodes[0].Metadata[graph.KeyAgeIndex])
	assert.Equal(t, "2", g.Nodes[1].Metadata[graph.KeyAgeIndex])
}

func TestAssemble_DuplicateVersionIsFatal(t *testing.T) {
	_, err := Assemble(testScope, index(
		release("40.1.0", "x86_64"),
		release("40.1.0", "x86_64"),
	), emptyUpdates())
	require.Error(t, err)

	var asmErr *AssemblyError
	require.ErrorAs(t, err, &asmErr)
	assert.Equal(t, testScope, asmErr.Scope)
}

func TestAssemble_EmptyVersionIsFatal(t *testing.T) {
	_, err := Assemble(testScope, index(release("", "x86_64")), emptyUpdates())
	require.Error(t, err)
}

func TestAssemble_BarrierBlocksCrossingEdges(t *testing.T) {
	updates := &source.UpdatesDoc{
		Stream: "stable",
		Releases: []source.UpdateNote{
			{Version: "40.2.0", Metadata: source.UpdateMetadata{
				Barrier: &source.ReasonNote{Reason: "storage migration"},
			}},
		},
	}

	g, err := Assemble(testScope, index(
		release("40.1.0", "x86_64"),
		release("40.2.0", "x86_64"),
		release("40.3.0", "x86_64"),
		release("40.4.0", "x86_64"),
	), updates)
	require.NoError(t, err)

	// Everything below the barrier funnels into it.
	assert.True(t, hasEdge(g, 0, 1))
	// No edge may skip past the barrier.
	assert.False(t, hasEdge(g, 0, 2))
	assert.False(t, hasEdge(g, 0, 3))
	// Above the barrier the graph is unrestricted again.
	assert.True(t, hasEdge(g, 1, 2))
	assert.True(t, hasEdge(g, 1, 3))
	assert.True(t, hasEdge(g, 2, 3))

	assert.Equal(t, "true", g.Nodes[1].Metadata[graph.KeyBarrier])
	assert.Equal(t, "storage migration", g.Nodes[1].Metadata[graph.KeyBarrierReason])
}

func TestAssemble_TwoBarriers(t *testing.T) {
	updates := &source.UpdatesDoc{
		Stream: "stable",
		Releases: []source.UpdateNote{
			{Version: "40.2.0", Metadata: source.UpdateMetadata{Barrier: &source.ReasonNote{}}},
			{Version: "40.4.0", Metadata: source.UpdateMetadata{Barrier: &source.ReasonNote{}}},
		},
	}

	g, err := Assemble(testScope, index(
		release("40.1.0", "x86_64"),
		release("40.2.0", "x86_64"),
		release("40.3.0", "x86_64"),
		release("40.4.0", "x86_64"),
		release("40.5.0", "x86_64"),
	), updates)
	require.NoError(t, err)

	assert.True(t, hasEdge(g, 0, 1))
	assert.False(t, hasEdge(g, 0, 3), "edge would cross the first barrier")
	assert.True(t, hasEdge(g, 2, 3))
	assert.False(t, hasEdge(g, 1, 4), "edge would cross the second barrier")
	assert.True(t, hasEdge(g, 3, 4))
	assert.Equal(t, "generic", g.Nodes[1].Metadata[graph.KeyBarrierReason])
}

func TestAssemble_DeadendHasNoOutgoingEdges(t *testing.T) {
	updates := &source.UpdatesDoc{
		Stream: "stable",
		Releases: []source.UpdateNote{
			{Version: "40.2.0", Metadata: source.UpdateMetadata{
				Deadend: &source.ReasonNote{Reason: "bad kernel"},
			}},
		},
	}

	g, err := Assemble(testScope, index(
		release("40.1.0", "x86_64"),
		release("40.2.0", "x86_64"),
		release("40.3.0", "x86_64"),
	), updates)
	require.NoError(t, err)

	// Clients may still land on the deadend...
	assert.True(t, hasEdge(g, 0, 1))
	// ...but nothing routes out of it.
	assert.False(t, hasEdge(g, 1, 2))
	assert.True(t, hasEdge(g, 0, 2))
	assert.Equal(t, "bad kernel", g.Nodes[1].Metadata[graph.KeyDeadendReason])
}

func TestAssemble_BarrierAndDeadendPrecedence(t *testing.T) {
	// A node that is both keeps inbound edges (barrier) and loses outbound
	// edges (deadend).
	updates := &source.UpdatesDoc{
		Stream: "stable",
		Releases: []source.UpdateNote{
			{Version: "40.2.0", Metadata: source.UpdateMetadata{
				Barrier: &source.ReasonNote{},
				Deadend: &source.ReasonNote{},
			}},
		},
	}

	g, err := Assemble(testScope, index(
		release("40.1.0", "x86_64"),
		release("40.2.0", "x86_64"),
		release("40.3.0", "x86_64"),
	), updates)
	require.NoError(t, err)

	assert.True(t, hasEdge(g, 0, 1), "barrier keeps its inbound edges")
	assert.False(t, hasEdge(g, 1, 2), "deadend loses its outbound edges")
	assert.False(t, hasEdge(g, 0, 2), "edge would cross the barrier")
	assert.Len(t, g.Edges, 1, "only the inbound edge survives")
}

func TestAssemble_RolloutMetadataCarried(t *testing.T) {
	startEpoch := int64(1750000000)
	startPct := 5.0
	duration := int64(10080)
	updates := &source.UpdatesDoc{
		Stream: "stable",
		Releases: []source.UpdateNote{
			{Version: "40.2.0", Metadata: source.UpdateMetadata{
				Rollout: &source.RolloutNote{
					StartEpoch:      &startEpoch,
					StartPercentage: &startPct,
					DurationMinutes: &duration,
				},
			}},
		},
	}

	g, err := Assemble(testScope, index(
		release("40.1.0", "x86_64"),
		release("40.2.0", "x86_64"),
	), updates)
	require.NoError(t, err)

	node := g.Nodes[1]
	assert.Equal(t, "true", node.Metadata[graph.KeyRollout])
	assert.Equal(t, "1750000000", node.Metadata[graph.KeyRolloutStartEpoch])
	assert.Equal(t, "5", node.Metadata[graph.KeyRolloutStartPercentage])
	assert.Equal(t, "10080", node.Metadata[graph.KeyRolloutDurationMinutes])

	// Rollout never removes edges at assembly time.
	assert.True(t, hasEdge(g, 0, 1))
}

func TestAssemble_Acyclicity(t *testing.T) {
	// Property from the data model: any unique-version enumeration yields
	// only forward edges, hence no cycles.
	entries := []source.Entry{}
	for _, v := range []string{"1", "2", "3", "4", "5", "6", "7", "8"} {
		entries = append(entries, release("40."+v+".0", "x86_64"))
	}
	g, err := Assemble(testScope, index(entries...), emptyUpdates())
	require.NoError(t, err)
	for _, e := range g.Edges {
		require.Less(t, e.From(), e.To())
	}
	require.NoError(t, g.Validate())
}
