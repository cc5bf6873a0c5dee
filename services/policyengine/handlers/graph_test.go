// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/AleutianAI/updategraph/pkg/graph"
	"github.com/AleutianAI/updategraph/pkg/scope"
	"github.com/AleutianAI/updategraph/services/policyengine/evaluate"
	"github.com/AleutianAI/updategraph/services/policyengine/fetcher"
	"github.com/AleutianAI/updategraph/services/policyengine/observability"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	// Set Gin to test mode to reduce noise in test output
	gin.SetMode(gin.TestMode)
}

// Metrics register against the global Prometheus registry, so initialize
// them once for the whole test binary.
var testMetrics = observability.InitMetrics()

var testScope = scope.Scope{Stream: "stable", Basearch: "x86_64"}

func mirroredGraph(t *testing.T, rolloutVersion string, rampStart time.Time) *fetcher.Mirror {
	t.Helper()
	g := &graph.Graph{
		Nodes: []graph.Node{
			{Version: "40.1.0", Payload: "sha256:a", Metadata: map[string]string{graph.KeyAgeIndex: "0"}},
			{Version: "40.2.0", Payload: "sha256:b", Metadata: map[string]string{graph.KeyAgeIndex: "1"}},
		},
		Edges: []graph.Edge{{0, 1}},
	}
	if rolloutVersion != "" {
		for i := range g.Nodes {
			if g.Nodes[i].Version != rolloutVersion {
				continue
			}
			g.Nodes[i].Metadata[graph.KeyRollout] = "true"
			g.Nodes[i].Metadata[graph.KeyRolloutStartEpoch] = strconv.FormatInt(rampStart.Unix(), 10)
			g.Nodes[i].Metadata[graph.KeyRolloutStartPercentage] = "0"
			g.Nodes[i].Metadata[graph.KeyRolloutDurationMinutes] = strconv.Itoa(7 * 24 * 60)
		}
	}
	body, err := g.Marshal()
	require.NoError(t, err)

	m := fetcher.NewMirror()
	now := time.Now()
	m.Replace(testScope, &fetcher.Entry{
		Graph:     g,
		Body:      body,
		ETag:      graph.ETag(body),
		FetchedAt: now,
		CheckedAt: now,
	})
	return m
}

func engineRouter(m *fetcher.Mirror) *gin.Engine {
	served := map[scope.Scope]bool{testScope: true}
	router := gin.New()
	router.GET("/v1/graph", GetGraph(m, evaluate.New(7*24*time.Hour), testMetrics, served))
	return router
}

func doRequest(router *gin.Engine, target string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeGraph(t *testing.T, body []byte) *graph.Graph {
	t.Helper()
	var g graph.Graph
	require.NoError(t, json.Unmarshal(body, &g))
	return &g
}

func TestGetGraph_OK(t *testing.T) {
	m := mirroredGraph(t, "", time.Time{})
	w := doRequest(engineRouter(m),
		"/v1/graph?stream=stable&basearch=x86_64&client_id=node-1", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("ETag"))
	assert.NotEmpty(t, w.Header().Get("Last-Modified"))

	g := decodeGraph(t, w.Body.Bytes())
	assert.Len(t, g.Nodes, 2)
	assert.Len(t, g.Edges, 1)
}

func TestGetGraph_NotModified(t *testing.T) {
	m := mirroredGraph(t, "", time.Time{})
	router := engineRouter(m)

	first := doRequest(router, "/v1/graph?stream=stable&basearch=x86_64&client_id=node-1", nil)
	require.Equal(t, http.StatusOK, first.Code)
	etag := first.Header().Get("ETag")
	require.NotEmpty(t, etag)

	second := doRequest(router, "/v1/graph?stream=stable&basearch=x86_64&client_id=node-1",
		map[string]string{"If-None-Match": etag})
	require.Equal(t, http.StatusNotModified, second.Code)
	assert.Empty(t, second.Body.String())
}

func TestGetGraph_BadRequest(t *testing.T) {
	m := mirroredGraph(t, "", time.Time{})
	router := engineRouter(m)

	for name, target := range map[string]string{
		"missing client_id": "/v1/graph?stream=stable&basearch=x86_64",
		"missing scope":     "/v1/graph?client_id=node-1",
		"wariness too high": "/v1/graph?stream=stable&basearch=x86_64&client_id=node-1&rollout_wariness=101",
		"wariness negative": "/v1/graph?stream=stable&basearch=x86_64&client_id=node-1&rollout_wariness=-1",
		"bad stream chars":  "/v1/graph?stream=St@ble&basearch=x86_64&client_id=node-1",
	} {
		t.Run(name, func(t *testing.T) {
			w := doRequest(router, target, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestGetGraph_UnservedScopeIsClientError(t *testing.T) {
	// A well-formed scope outside the configured set must be rejected, not
	// reported as warmup: a 503 with Retry-After would make agents poll
	// forever for a graph that will never be mirrored.
	m := mirroredGraph(t, "", time.Time{})
	w := doRequest(engineRouter(m),
		"/v1/graph?stream=no-such-stream&basearch=x86_64&client_id=node-1", nil)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, w.Header().Get("Retry-After"))

	other := doRequest(engineRouter(m),
		"/v1/graph?stream=stable&basearch=riscv64&client_id=node-1", nil)
	require.Equal(t, http.StatusBadRequest, other.Code)
}

func TestGetGraph_NotYetAvailable(t *testing.T) {
	w := doRequest(engineRouter(fetcher.NewMirror()),
		"/v1/graph?stream=stable&basearch=x86_64&client_id=node-1", nil)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "30", w.Header().Get("Retry-After"))
}

func TestGetGraph_WarinessFiltersMidRollout(t *testing.T) {
	// The ramp started half a week ago, so the threshold sits at 50.
	m := mirroredGraph(t, "40.2.0", time.Now().Add(-3*24*time.Hour-12*time.Hour))
	router := engineRouter(m)

	low := doRequest(router,
		"/v1/graph?stream=stable&basearch=x86_64&client_id=node-1&rollout_wariness=40", nil)
	require.Equal(t, http.StatusOK, low.Code)
	assert.Len(t, decodeGraph(t, low.Body.Bytes()).Nodes, 2)

	high := doRequest(router,
		"/v1/graph?stream=stable&basearch=x86_64&client_id=node-1&rollout_wariness=60", nil)
	require.Equal(t, http.StatusOK, high.Code)
	g := decodeGraph(t, high.Body.Bytes())
	assert.Len(t, g.Nodes, 1)
	assert.Empty(t, g.Edges)
}

func TestGetGraph_CurrentVersionRetained(t *testing.T) {
	// Ramp starts in the future: nobody qualifies by bucket.
	m := mirroredGraph(t, "40.2.0", time.Now().Add(24*time.Hour))
	router := engineRouter(m)

	without := doRequest(router,
		"/v1/graph?stream=stable&basearch=x86_64&client_id=node-1&rollout_wariness=50", nil)
	require.Equal(t, http.StatusOK, without.Code)
	assert.Len(t, decodeGraph(t, without.Body.Bytes()).Nodes, 1)

	with := doRequest(router,
		"/v1/graph?stream=stable&basearch=x86_64&client_id=node-1&rollout_wariness=50&current_version=40.2.0", nil)
	require.Equal(t, http.StatusOK, with.Code)
	assert.Len(t, decodeGraph(t, with.Body.Bytes()).Nodes, 2)
}

func TestHealthCheck_States(t *testing.T) {
	t.Run("unavailable scope degrades", func(t *testing.T) {
		router := gin.New()
		router.GET("/health", HealthCheck(fetcher.NewMirror(), []scope.Scope{testScope}, 30*time.Minute))

		w := doRequest(router, "/health", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var body struct {
			Status string `json:"status"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "degraded", body.Status)
	})

	t.Run("mirrored scope is ok", func(t *testing.T) {
		m := mirroredGraph(t, "", time.Time{})
		router := gin.New()
		router.GET("/health", HealthCheck(m, []scope.Scope{testScope}, 30*time.Minute))

		w := doRequest(router, "/health", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var body struct {
			Status string `json:"status"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "ok", body.Status)
	})
}
