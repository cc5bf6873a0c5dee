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
	"time"

	"github.com/AleutianAI/updategraph/pkg/scope"
	"github.com/AleutianAI/updategraph/services/policyengine/fetcher"
	"github.com/gin-gonic/gin"
)

// HealthCheck reports process liveness plus per-scope mirror state. Scopes
// past the staleness threshold mark the status "degraded"; the response
// code stays 200 because the engine keeps serving last known good data.
func HealthCheck(m *fetcher.Mirror, scopes []scope.Scope, staleThreshold time.Duration) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		now := time.Now()
		status := "ok"
		perScope := make(map[string]gin.H, len(scopes))

		for _, sc := range scopes {
			_, err := m.Get(sc)
			available := err == nil
			stale := m.Stale(sc, staleThreshold, now)
			if !available || stale {
				status = "degraded"
			}
			perScope[sc.String()] = gin.H{
				"available":            available,
				"stale":                stale,
				"consecutive_failures": m.Failures(sc),
			}
		}

		ctx.JSON(http.StatusOK, gin.H{"status": status, "scopes": perScope})
	}
}
