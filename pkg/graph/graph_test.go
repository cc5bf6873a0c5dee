// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGraph() *Graph {
	return &Graph{
		Nodes: []Node{
			{Version: "40.1.0", Payload: "sha256:aaa", Metadata: map[string]string{KeyAgeIndex: "0"}},
			{Version: "40.2.0", Payload: "sha256:bbb", Metadata: map[string]string{KeyAgeIndex: "1"}},
			{Version: "40.3.0", Payload: "sha256:ccc", Metadata: map[string]string{KeyAgeIndex: "2"}},
		},
		Edges: []Edge{{0, 1}, {1, 2}, {0, 2}},
	}
}

func TestValidate_OK(t *testing.T) {
	require.NoError(t, testGraph().Validate())
}

func TestValidate_EmptyGraph(t *testing.T) {
	g := &Graph{}
	require.NoError(t, g.Validate(), "an empty graph is valid")
}

func TestValidate_DuplicateVersion(t *testing.T) {
	g := testGraph()
	g.Nodes[2].Version = g.Nodes[0].Version
	err := g.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate version")
}

func TestValidate_DanglingEdge(t *testing.T) {
	g := testGraph()
	g.Edges = append(g.Edges, Edge{1, 7})
	require.Error(t, g.Validate())

	g = testGraph()
	g.Edges = append(g.Edges, Edge{-1, 2})
	require.Error(t, g.Validate())
}

func TestValidate_BackwardEdge(t *testing.T) {
	g := testGraph()
	g.Edges = append(g.Edges, Edge{2, 1})
	err := g.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "forward")

	// Self-loops are backward edges too.
	g = testGraph()
	g.Edges = []Edge{{1, 1}}
	require.Error(t, g.Validate())
}

func TestEdgeWireFormat(t *testing.T) {
	body, err := json.Marshal(Edge{3, 7})
	require.NoError(t, err)
	assert.Equal(t, "[3,7]", string(body))

	var e Edge
	require.NoError(t, json.Unmarshal([]byte("[1,2]"), &e))
	assert.Equal(t, 1, e.From())
	assert.Equal(t, 2, e.To())
}

func TestETag_Stable(t *testing.T) {
	a, err := testGraph().Marshal()
	require.NoError(t, err)
	b, err := testGraph().Marshal()
	require.NoError(t, err)

	assert.Equal(t, ETag(a), ETag(b), "identical bodies must produce identical tags")

	other := testGraph()
	other.Nodes[0].Payload = "sha256:zzz"
	c, err := other.Marshal()
	require.NoError(t, err)
	assert.NotEqual(t, ETag(a), ETag(c))

	// Tags are sent in HTTP headers; they must be quoted.
	assert.Equal(t, byte('"'), ETag(a)[0])
}

func TestFindVersion(t *testing.T) {
	g := testGraph()
	assert.Equal(t, 1, g.FindVersion("40.2.0"))
	assert.Equal(t, -1, g.FindVersion("99.0.0"))
}

func TestParseAnnotations_Barrier(t *testing.T) {
	node := Node{
		Version: "40.2.0",
		Metadata: map[string]string{
			KeyBarrier:       "true",
			KeyBarrierReason: "fixes migration bug",
		},
	}
	ann, err := ParseAnnotations(node)
	require.NoError(t, err)
	require.NotNil(t, ann.Barrier)
	assert.Equal(t, "fixes migration bug", *ann.Barrier)
	assert.Nil(t, ann.Deadend)
	assert.Nil(t, ann.Rollout)
}

func TestParseAnnotations_BarrierDefaultReason(t *testing.T) {
	ann, err := ParseAnnotations(Node{Version: "v", Metadata: map[string]string{KeyBarrier: "true"}})
	require.NoError(t, err)
	require.NotNil(t, ann.Barrier)
	assert.Equal(t, "generic", *ann.Barrier)
}

func TestParseAnnotations_Rollout(t *testing.T) {
	node := Node{
		Version: "40.3.0",
		Metadata: map[string]string{
			KeyRollout:                "true",
			KeyRolloutStartEpoch:      "1700000000",
			KeyRolloutStartPercentage: "5",
			KeyRolloutDurationMinutes: "10080",
		},
	}
	ann, err := ParseAnnotations(node)
	require.NoError(t, err)
	require.NotNil(t, ann.Rollout)
	assert.Equal(t, int64(1700000000), ann.Rollout.StartEpoch)
	assert.Equal(t, 5.0, ann.Rollout.StartPercentage)
	assert.Equal(t, int64(10080), ann.Rollout.DurationMinutes)
}

func TestParseAnnotations_MalformedValues(t *testing.T) {
	cases := map[string]map[string]string{
		"bad age index":   {KeyAgeIndex: "three"},
		"bad start epoch": {KeyRollout: "true", KeyRolloutStartEpoch: "soon"},
		"bad percentage":  {KeyRollout: "true", KeyRolloutStartPercentage: "150"},
		"bad duration":    {KeyRollout: "true", KeyRolloutDurationMinutes: "-1"},
	}
	for name, md := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseAnnotations(Node{Version: "v", Metadata: md})
			require.Error(t, err)
		})
	}
}

func TestParseAnnotations_UnknownKeysIgnored(t *testing.T) {
	ann, err := ParseAnnotations(Node{Version: "v", Metadata: map[string]string{"io.example.custom": "1"}})
	require.NoError(t, err)
	assert.Equal(t, Annotations{}, ann)
}

func TestParseAnnotations_FlagMustBeTrue(t *testing.T) {
	// "1", "yes" etc. do not enable markers; only the literal "true".
	ann, err := ParseAnnotations(Node{Version: "v", Metadata: map[string]string{KeyBarrier: "1"}})
	require.NoError(t, err)
	assert.Nil(t, ann.Barrier)
}
