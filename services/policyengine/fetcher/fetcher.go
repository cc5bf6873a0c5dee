// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package fetcher mirrors update graphs from upstream graph-builder
// instances into the policy engine.
//
// # Description
//
// One goroutine per scope polls the configured upstreams with conditional
// GETs. A 200 replaces the mirror entry after the body has been validated
// and re-serialized; a 304 only refreshes the entry's freshness. Any
// failure leaves the entry untouched and bumps a consecutive-failure
// counter: a stale last known good graph beats no graph at all, so
// staleness is a health signal, never a client-visible error.
//
// # Thread Safety
//
// Run may be called once. The mirror it feeds is safe for concurrent
// readers.
package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/AleutianAI/updategraph/pkg/graph"
	"github.com/AleutianAI/updategraph/pkg/scope"
	"github.com/AleutianAI/updategraph/services/policyengine/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var fetchTracer = otel.Tracer("updategraph.engine.fetcher")

// maxGraphBytes bounds an upstream response body.
const maxGraphBytes = 64 << 20

// TransferError is a failed upstream fetch attempt. The mirror entry for
// the scope is retained; the error only feeds logs and counters.
type TransferError struct {
	Upstream string
	Scope    scope.Scope
	Status   int
	Err      error
}

func (e *TransferError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch from %s for %s: unexpected status %d", e.Upstream, e.Scope, e.Status)
	}
	return fmt.Sprintf("fetch from %s for %s: %v", e.Upstream, e.Scope, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// Fetcher polls upstream builders and maintains the mirror.
type Fetcher struct {
	client    *http.Client
	upstreams []string
	mirror    *Mirror
	scopes    []scope.Scope
	interval  time.Duration
	stale     time.Duration
	metrics   *observability.EngineMetrics

	// now is replaceable for tests.
	now func() time.Time
}

// Options configures New.
type Options struct {
	// Upstreams are graph-builder base URLs, tried in order each cycle.
	Upstreams []string

	Scopes []scope.Scope

	// FetchInterval is the polling period per scope.
	FetchInterval time.Duration

	// FetchTimeout bounds one HTTP request.
	FetchTimeout time.Duration

	// StaleThreshold is how old an entry may grow before the staleness
	// gauge flips.
	StaleThreshold time.Duration
}

// New creates a fetcher feeding the given mirror.
func New(m *Mirror, metrics *observability.EngineMetrics, opts Options) *Fetcher {
	timeout := opts.FetchTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{
		client:    &http.Client{Timeout: timeout},
		upstreams: opts.Upstreams,
		mirror:    m,
		scopes:    opts.Scopes,
		interval:  opts.FetchInterval,
		stale:     opts.StaleThreshold,
		metrics:   metrics,
		now:       time.Now,
	}
}

// Run starts one fetch loop per scope and blocks until ctx is canceled.
// Each loop fetches immediately on startup.
func (f *Fetcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, sc := range f.scopes {
		sc := sc
		g.Go(func() error {
			f.loop(ctx, sc)
			return nil
		})
	}
	return g.Wait()
}

func (f *Fetcher) loop(ctx context.Context, sc scope.Scope) {
	f.fetchScope(ctx, sc)

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.fetchScope(ctx, sc)
		}
	}
}

// fetchScope runs one fetch cycle for a scope: upstreams are tried in
// order, the first conclusive answer (200 or 304) wins.
func (f *Fetcher) fetchScope(ctx context.Context, sc scope.Scope) {
	ctx, span := fetchTracer.Start(ctx, "FetchScope",
		trace.WithAttributes(
			attribute.String("stream", sc.Stream),
			attribute.String("basearch", sc.Basearch),
		))
	defer span.End()

	var lastErr error
	for _, upstream := range f.upstreams {
		outcome, err := f.fetchOne(ctx, upstream, sc)
		if err == nil {
			span.SetAttributes(attribute.String("outcome", string(outcome)))
			f.metrics.RecordFetch(sc.Stream, sc.Basearch, outcome, 0)
			f.metrics.RecordChecked(sc.Stream, sc.Basearch, float64(f.now().Unix()))
			f.metrics.RecordStale(sc.Stream, sc.Basearch, false)
			return
		}
		lastErr = err
	}

	span.RecordError(lastErr)
	failures := f.mirror.RecordFailure(sc)
	f.metrics.RecordFetch(sc.Stream, sc.Basearch, observability.OutcomeFailure, failures)
	f.metrics.RecordStale(sc.Stream, sc.Basearch, f.mirror.Stale(sc, f.stale, f.now()))
	slog.Error("upstream fetch failed, serving last known good",
		"scope", sc.String(),
		"consecutive_failures", failures,
		"error", lastErr)
}

// fetchOne performs one conditional GET against one upstream.
func (f *Fetcher) fetchOne(ctx context.Context, upstream string, sc scope.Scope) (observability.FetchOutcome, error) {
	target, err := graphURL(upstream, sc)
	if err != nil {
		return observability.OutcomeFailure, &TransferError{Upstream: upstream, Scope: sc, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return observability.OutcomeFailure, &TransferError{Upstream: upstream, Scope: sc, Err: err}
	}
	if entry, err := f.mirror.Get(sc); err == nil && entry.ETag != "" {
		req.Header.Set("If-None-Match", entry.ETag)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return observability.OutcomeFailure, &TransferError{Upstream: upstream, Scope: sc, Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		if err := f.storeBody(sc, resp); err != nil {
			return observability.OutcomeFailure, &TransferError{Upstream: upstream, Scope: sc, Err: err}
		}
		return observability.OutcomeFresh, nil
	case http.StatusNotModified:
		f.mirror.Touch(sc, f.now())
		return observability.OutcomeUnchanged, nil
	default:
		// Includes 503 while the upstream warms up; the mirror entry, if
		// any, stays in place.
		return observability.OutcomeFailure, &TransferError{Upstream: upstream, Scope: sc, Status: resp.StatusCode}
	}
}

// storeBody validates and re-serializes a 200 response, then replaces the
// mirror entry. Malformed upstream data is a failure, not a replacement.
func (f *Fetcher) storeBody(sc scope.Scope, resp *http.Response) error {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxGraphBytes))
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	var g graph.Graph
	if err := json.Unmarshal(raw, &g); err != nil {
		return fmt.Errorf("failed to decode upstream graph: %w", err)
	}
	if err := g.Validate(); err != nil {
		return fmt.Errorf("upstream graph violates invariants: %w", err)
	}

	body, err := g.Marshal()
	if err != nil {
		return fmt.Errorf("failed to re-serialize graph: %w", err)
	}

	etag := resp.Header.Get("ETag")
	if etag == "" {
		etag = graph.ETag(body)
	}

	now := f.now()
	f.mirror.Replace(sc, &Entry{
		Graph:     &g,
		Body:      body,
		ETag:      etag,
		FetchedAt: now,
		CheckedAt: now,
	})
	return nil
}

func graphURL(upstream string, sc scope.Scope) (string, error) {
	base, err := url.Parse(upstream)
	if err != nil {
		return "", err
	}
	base = base.JoinPath("/v1/graph")
	q := url.Values{}
	q.Set("stream", sc.Stream)
	q.Set("basearch", sc.Basearch)
	base.RawQuery = q.Encode()
	return base.String(), nil
}
