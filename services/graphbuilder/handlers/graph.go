// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the graph-builder HTTP endpoints.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/AleutianAI/updategraph/pkg/scope"
	"github.com/AleutianAI/updategraph/services/graphbuilder/cache"
	"github.com/AleutianAI/updategraph/services/graphbuilder/scraper"
	"github.com/gin-gonic/gin"
)

// retryAfterSeconds is suggested to clients hitting a scope whose first
// refresh cycle has not completed yet.
const retryAfterSeconds = "30"

// scopeFromQuery parses and validates the stream/basearch query parameters.
// It writes the error response itself and returns false on failure.
func scopeFromQuery(c *gin.Context) (scope.Scope, bool) {
	sc := scope.Scope{
		Stream:   c.Query("stream"),
		Basearch: c.Query("basearch"),
	}
	if err := sc.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return scope.Scope{}, false
	}
	return sc, true
}

// GetGraph serves the full annotated update graph for one scope.
//
// Responses:
//   - 200 with the serialized graph and a strong ETag
//   - 304 when If-None-Match matches the current ETag
//   - 400 on a malformed scope
//   - 404 when the scope is not served by this deployment
//   - 503 with Retry-After while the first refresh cycle is pending
func GetGraph(c *cache.Cache, served map[scope.Scope]bool) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		sc, ok := scopeFromQuery(ctx)
		if !ok {
			return
		}
		if !served[sc] {
			ctx.JSON(http.StatusNotFound, gin.H{"error": "unknown stream/basearch pair"})
			return
		}

		snap, err := c.Get(sc)
		if errors.Is(err, cache.ErrNotYetAvailable) {
			ctx.Header("Retry-After", retryAfterSeconds)
			ctx.JSON(http.StatusServiceUnavailable, gin.H{"error": "graph not yet available"})
			return
		}
		if err != nil {
			slog.Error("failed to read graph snapshot", "scope", sc.String(), "error", err)
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		ctx.Header("ETag", snap.ETag)
		ctx.Header("Cache-Control", "public, max-age=60")
		if match := ctx.GetHeader("If-None-Match"); match != "" && match == snap.ETag {
			ctx.Status(http.StatusNotModified)
			return
		}
		ctx.Data(http.StatusOK, "application/json", snap.Body)
	}
}

// ForceRefresh triggers an immediate refresh cycle for one scope, outside
// the periodic schedule. Intended for operators after publishing new
// release metadata.
func ForceRefresh(s *scraper.Scraper, served map[scope.Scope]bool) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		sc, ok := scopeFromQuery(ctx)
		if !ok {
			return
		}
		if !served[sc] {
			ctx.JSON(http.StatusNotFound, gin.H{"error": "unknown stream/basearch pair"})
			return
		}

		slog.Info("forced refresh requested", "scope", sc.String())
		if err := s.ForceRefresh(ctx.Request.Context(), sc); err != nil {
			slog.Error("forced refresh failed", "scope", sc.String(), "error", err)
			ctx.JSON(http.StatusBadGateway, gin.H{"error": "refresh cycle failed"})
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"status": "refreshed", "scope": sc.String()})
	}
}
