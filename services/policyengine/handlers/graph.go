// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the policy-engine HTTP endpoints.
//
// The graph endpoint walks a fixed sequence per request: bind and validate
// the client parameters, resolve the mirrored snapshot for the scope, run
// the policy evaluation, then serialize with caching headers. Each stage
// maps to exactly one failure status so clients can tell their own mistakes
// (400) from service warmup (503).
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/updategraph/pkg/graph"
	"github.com/AleutianAI/updategraph/pkg/middleware"
	"github.com/AleutianAI/updategraph/pkg/scope"
	"github.com/AleutianAI/updategraph/services/policyengine/evaluate"
	"github.com/AleutianAI/updategraph/services/policyengine/fetcher"
	"github.com/AleutianAI/updategraph/services/policyengine/observability"
	"github.com/gin-gonic/gin"
)

// retryAfterSeconds is suggested to clients hitting a scope that has not
// been mirrored yet.
const retryAfterSeconds = "30"

// GraphRequest is the client-supplied query surface.
type GraphRequest struct {
	Stream   string `form:"stream" binding:"required"`
	Basearch string `form:"basearch" binding:"required"`

	// ClientID is opaque; only presence and a sane length are enforced.
	ClientID string `form:"client_id" binding:"required,max=256"`

	// RolloutWariness overrides the hashed bucket, mainly for canary
	// machines and testing.
	RolloutWariness *float64 `form:"rollout_wariness" binding:"omitempty,gte=0,lte=100"`

	CurrentVersion string `form:"current_version" binding:"omitempty,max=256"`
}

// GetGraph serves the policy-filtered update graph for one client.
//
// Responses:
//   - 200 with the filtered graph, a strong ETag, and caching headers
//   - 304 when If-None-Match matches the response ETag
//   - 400 on malformed parameters or a stream/basearch pair this
//     deployment does not serve
//   - 503 with Retry-After while the scope has not been mirrored yet
//
// Unserved scopes are a client error, not a warmup condition: a 503 would
// tell agents to retry forever for a graph that will never be mirrored.
func GetGraph(m *fetcher.Mirror, e *evaluate.Evaluator, metrics *observability.EngineMetrics, served map[scope.Scope]bool) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		var req GraphRequest
		if err := ctx.ShouldBindQuery(&req); err != nil {
			metrics.RecordRequest(observability.StatusBadRequest)
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		sc := scope.Scope{Stream: req.Stream, Basearch: req.Basearch}
		if err := sc.Validate(); err != nil {
			metrics.RecordRequest(observability.StatusBadRequest)
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if !served[sc] {
			metrics.RecordRequest(observability.StatusBadRequest)
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "unrecognized stream/basearch pair"})
			return
		}

		entry, err := m.Get(sc)
		if errors.Is(err, fetcher.ErrNotYetAvailable) {
			metrics.RecordRequest(observability.StatusUnavailable)
			ctx.Header("Retry-After", retryAfterSeconds)
			ctx.JSON(http.StatusServiceUnavailable, gin.H{"error": "graph not yet available"})
			return
		}
		if err != nil {
			slog.Error("failed to resolve mirrored graph", "scope", sc.String(), "error", err)
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		started := time.Now()
		filtered, err := e.Evaluate(entry.Graph, evaluate.Request{
			ClientID:       req.ClientID,
			CurrentVersion: req.CurrentVersion,
			Wariness:       req.RolloutWariness,
			Now:            time.Now(),
		})
		if err != nil {
			slog.Error("policy evaluation failed",
				"scope", sc.String(),
				"request_id", middleware.GetRequestID(ctx),
				"error", err)
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": "policy evaluation failed"})
			return
		}
		metrics.EvaluationSeconds.Observe(time.Since(started).Seconds())

		body, err := filtered.Marshal()
		if err != nil {
			slog.Error("failed to serialize filtered graph", "scope", sc.String(), "error", err)
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		etag := graph.ETag(body)
		ctx.Header("ETag", etag)
		ctx.Header("Cache-Control", "private, max-age=60")
		ctx.Header("Last-Modified", entry.FetchedAt.UTC().Format(http.TimeFormat))

		if match := ctx.GetHeader("If-None-Match"); match != "" && match == etag {
			metrics.RecordRequest(observability.StatusNotModified)
			ctx.Status(http.StatusNotModified)
			return
		}

		slog.Info("served update graph",
			"scope", sc.String(),
			"request_id", middleware.GetRequestID(ctx),
			"nodes", len(filtered.Nodes),
			"edges", len(filtered.Edges))
		metrics.RecordRequest(observability.StatusOK)
		ctx.Data(http.StatusOK, "application/json", body)
	}
}
