// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/AleutianAI/updategraph/pkg/middleware"
	"github.com/AleutianAI/updategraph/pkg/scope"
	"github.com/AleutianAI/updategraph/services/graphbuilder/cache"
	"github.com/AleutianAI/updategraph/services/graphbuilder/handlers"
	"github.com/AleutianAI/updategraph/services/graphbuilder/scraper"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupRoutes(router *gin.Engine, c *cache.Cache, s *scraper.Scraper, scopes []scope.Scope) {
	served := make(map[scope.Scope]bool, len(scopes))
	for _, sc := range scopes {
		served[sc] = true
	}

	router.Use(middleware.RequestID())

	router.GET("/health", handlers.HealthCheck(c, scopes))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.GET("/graph", handlers.GetGraph(c, served))
		// Operator route: pull fresh release metadata outside the schedule
		v1.POST("/refresh", handlers.ForceRefresh(s, served))
	}
}
