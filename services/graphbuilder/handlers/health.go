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
	"net/http"

	"github.com/AleutianAI/updategraph/pkg/scope"
	"github.com/AleutianAI/updategraph/services/graphbuilder/cache"
	"github.com/gin-gonic/gin"
)

// HealthCheck reports process liveness and per-scope readiness. The status
// is "degraded" while any configured scope still lacks a snapshot; the
// response code stays 200 so orchestrators do not kill a service that is
// merely warming up.
func HealthCheck(c *cache.Cache, scopes []scope.Scope) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ready := make(map[string]bool, len(scopes))
		allReady := true
		for _, sc := range scopes {
			_, err := c.Get(sc)
			ready[sc.String()] = err == nil
			if err != nil {
				allReady = false
			}
		}

		status := "ok"
		if !allReady {
			status = "degraded"
		}
		ctx.JSON(http.StatusOK, gin.H{"status": status, "scopes": ready})
	}
}
