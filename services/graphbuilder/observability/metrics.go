// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the graph-builder.
//
// # Description
//
// Metrics cover the refresh pipeline (scrape attempts and failures per
// scope, last successful refresh timestamp) and the published graph shape
// (node and edge counts per scope). Graph-shape gauges are the primary
// alerting signal: a sudden drop in final_releases means the upstream
// index shrank or assembly started rejecting cycles.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "updategraph"

const builderSubsystem = "builder"

// BuilderMetrics holds all Prometheus metrics for the graph-builder.
//
// # Fields
//
//   - FinalReleases: Gauge of nodes in the published graph per scope
//   - FinalEdges: Gauge of edges in the published graph per scope
//   - LastRefreshTimestamp: Gauge of the last successful refresh (unix seconds)
//   - ScrapesTotal: Counter of upstream scrape attempts per scope
//   - ScrapeFailuresTotal: Counter of failed scrape or assembly cycles
//
// # Thread Safety
//
// All operations are thread-safe.
type BuilderMetrics struct {
	// FinalReleases tracks node count in the currently published graph.
	// Labels: stream, basearch
	FinalReleases *prometheus.GaugeVec

	// FinalEdges tracks edge count in the currently published graph.
	// Labels: stream, basearch
	FinalEdges *prometheus.GaugeVec

	// LastRefreshTimestamp is the unix time of the last successful publish.
	// Labels: stream, basearch
	LastRefreshTimestamp *prometheus.GaugeVec

	// ScrapesTotal counts refresh cycle attempts.
	// Labels: stream, basearch
	ScrapesTotal *prometheus.CounterVec

	// ScrapeFailuresTotal counts refresh cycles that failed before publish.
	// Labels: stream, basearch, stage (fetch, assemble)
	ScrapeFailuresTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance of BuilderMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *BuilderMetrics

// InitMetrics creates and registers all graph-builder metrics. Call once at
// startup; a second call panics on duplicate registration.
func InitMetrics() *BuilderMetrics {
	DefaultMetrics = &BuilderMetrics{
		FinalReleases: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: builderSubsystem,
				Name:      "final_releases",
				Help:      "Number of nodes in the published update graph",
			},
			[]string{"stream", "basearch"},
		),

		FinalEdges: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: builderSubsystem,
				Name:      "final_edges",
				Help:      "Number of edges in the published update graph",
			},
			[]string{"stream", "basearch"},
		),

		LastRefreshTimestamp: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: builderSubsystem,
				Name:      "last_refresh_timestamp",
				Help:      "Unix timestamp of the last successful graph publish",
			},
			[]string{"stream", "basearch"},
		),

		ScrapesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: builderSubsystem,
				Name:      "scrapes_total",
				Help:      "Total refresh cycle attempts against the release source",
			},
			[]string{"stream", "basearch"},
		),

		ScrapeFailuresTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: builderSubsystem,
				Name:      "scrape_failures_total",
				Help:      "Total refresh cycles that failed before publishing",
			},
			[]string{"stream", "basearch", "stage"},
		),
	}

	return DefaultMetrics
}

// FailureStage labels where in the refresh cycle a failure occurred.
type FailureStage string

const (
	// StageFetch indicates the release source could not be read.
	StageFetch FailureStage = "fetch"

	// StageAssemble indicates the raw enumeration could not be turned into
	// a valid graph.
	StageAssemble FailureStage = "assemble"
)

// RecordScrape counts one refresh attempt for a scope.
func (m *BuilderMetrics) RecordScrape(stream, basearch string) {
	m.ScrapesTotal.WithLabelValues(stream, basearch).Inc()
}

// RecordFailure counts one failed refresh cycle.
func (m *BuilderMetrics) RecordFailure(stream, basearch string, stage FailureStage) {
	m.ScrapeFailuresTotal.WithLabelValues(stream, basearch, string(stage)).Inc()
}

// RecordPublish records the shape and time of a successful publish.
func (m *BuilderMetrics) RecordPublish(stream, basearch string, nodes, edges int, unixSeconds float64) {
	m.FinalReleases.WithLabelValues(stream, basearch).Set(float64(nodes))
	m.FinalEdges.WithLabelValues(stream, basearch).Set(float64(edges))
	m.LastRefreshTimestamp.WithLabelValues(stream, basearch).Set(unixSeconds)
}
