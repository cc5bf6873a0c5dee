// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the policy engine.
//
// # Description
//
// Metrics cover the upstream mirror (fetch attempts and outcomes,
// consecutive failures, staleness) and the client-facing request path
// (request counts by outcome, evaluation latency).
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

const engineSubsystem = "engine"

// EngineMetrics holds all Prometheus metrics for the policy engine.
//
// # Fields
//
//   - UpstreamFetchesTotal: Counter of upstream fetch attempts by outcome
//   - ConsecutiveFetchFailures: Gauge of consecutive failures per scope
//   - MirrorLastCheckedTimestamp: Gauge of last upstream confirmation per scope
//   - MirrorStale: Gauge flagging scopes past the staleness threshold
//   - RequestsTotal: Counter of client graph requests by status
//   - EvaluationSeconds: Histogram of policy evaluation latency
//
// # Thread Safety
//
// All operations are thread-safe.
type EngineMetrics struct {
	// UpstreamFetchesTotal counts fetch attempts against upstream builders.
	// Labels: stream, basearch, outcome (fresh, unchanged, failure)
	UpstreamFetchesTotal *prometheus.CounterVec

	// ConsecutiveFetchFailures tracks the current failure streak per scope.
	// Labels: stream, basearch
	ConsecutiveFetchFailures *prometheus.GaugeVec

	// MirrorLastCheckedTimestamp is the unix time the upstream last
	// confirmed a scope's entry (200 or 304).
	// Labels: stream, basearch
	MirrorLastCheckedTimestamp *prometheus.GaugeVec

	// MirrorStale is 1 when a scope's entry is older than the configured
	// staleness threshold, else 0.
	// Labels: stream, basearch
	MirrorStale *prometheus.GaugeVec

	// RequestsTotal counts client graph requests.
	// Labels: status (ok, not_modified, bad_request, unavailable)
	RequestsTotal *prometheus.CounterVec

	// EvaluationSeconds measures policy evaluation latency.
	EvaluationSeconds prometheus.Histogram
}

// DefaultMetrics is the singleton instance of EngineMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *EngineMetrics

// InitMetrics creates and registers all policy-engine metrics. Call once at
// startup; a second call panics on duplicate registration.
func InitMetrics() *EngineMetrics {
	DefaultMetrics = &EngineMetrics{
		UpstreamFetchesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "upstream_fetches_total",
				Help:      "Total upstream graph fetch attempts by outcome",
			},
			[]string{"stream", "basearch", "outcome"},
		),

		ConsecutiveFetchFailures: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "consecutive_fetch_failures",
				Help:      "Current consecutive upstream fetch failures per scope",
			},
			[]string{"stream", "basearch"},
		),

		MirrorLastCheckedTimestamp: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "mirror_last_checked_timestamp",
				Help:      "Unix timestamp of the last upstream confirmation per scope",
			},
			[]string{"stream", "basearch"},
		),

		MirrorStale: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "mirror_stale",
				Help:      "Whether the mirrored graph is past the staleness threshold (0 or 1)",
			},
			[]string{"stream", "basearch"},
		),

		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "requests_total",
				Help:      "Total client graph requests by status",
			},
			[]string{"status"},
		),

		EvaluationSeconds: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "evaluation_seconds",
				Help:      "Policy evaluation latency in seconds",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
			},
		),
	}

	return DefaultMetrics
}

// FetchOutcome labels the result of one upstream fetch.
type FetchOutcome string

const (
	// OutcomeFresh indicates a 200 with a replaced mirror entry.
	OutcomeFresh FetchOutcome = "fresh"

	// OutcomeUnchanged indicates a 304 confirming the current entry.
	OutcomeUnchanged FetchOutcome = "unchanged"

	// OutcomeFailure indicates a transport error, bad status, or a
	// malformed body.
	OutcomeFailure FetchOutcome = "failure"
)

// RequestStatus labels the outcome of one client graph request.
type RequestStatus string

const (
	StatusOK          RequestStatus = "ok"
	StatusNotModified RequestStatus = "not_modified"
	StatusBadRequest  RequestStatus = "bad_request"
	StatusUnavailable RequestStatus = "unavailable"
)

// RecordFetch counts one upstream fetch and updates the per-scope gauges.
func (m *EngineMetrics) RecordFetch(stream, basearch string, outcome FetchOutcome, consecutiveFailures int) {
	m.UpstreamFetchesTotal.WithLabelValues(stream, basearch, string(outcome)).Inc()
	m.ConsecutiveFetchFailures.WithLabelValues(stream, basearch).Set(float64(consecutiveFailures))
}

// RecordChecked records a successful upstream confirmation time.
func (m *EngineMetrics) RecordChecked(stream, basearch string, unixSeconds float64) {
	m.MirrorLastCheckedTimestamp.WithLabelValues(stream, basearch).Set(unixSeconds)
}

// RecordStale flags or clears the per-scope staleness gauge.
func (m *EngineMetrics) RecordStale(stream, basearch string, stale bool) {
	v := 0.0
	if stale {
		v = 1.0
	}
	m.MirrorStale.WithLabelValues(stream, basearch).Set(v)
}

// RecordRequest counts one client graph request.
func (m *EngineMetrics) RecordRequest(status RequestStatus) {
	m.RequestsTotal.WithLabelValues(string(status)).Inc()
}
