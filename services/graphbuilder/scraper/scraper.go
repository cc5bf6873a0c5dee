// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scraper drives the periodic refresh cycle of the graph-builder.
//
// # Description
//
// One goroutine per configured scope fetches the raw release enumeration,
// assembles it into a validated graph, and publishes the result to the
// snapshot cache. A failed cycle is logged and counted but never unpublishes
// the previous snapshot; clients keep reading last known good data until the
// next successful cycle.
//
// # Thread Safety
//
// Run may be called once. ForceRefresh is safe for concurrent use and
// deduplicates overlapping requests per scope.
package scraper

import (
	"context"
	"log/slog"
	"time"

	"github.com/AleutianAI/updategraph/pkg/scope"
	"github.com/AleutianAI/updategraph/services/graphbuilder/assemble"
	"github.com/AleutianAI/updategraph/services/graphbuilder/cache"
	"github.com/AleutianAI/updategraph/services/graphbuilder/observability"
	"github.com/AleutianAI/updategraph/services/graphbuilder/source"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

var refreshTracer = otel.Tracer("updategraph.builder.scraper")

// Scraper owns the refresh loops for every configured scope.
type Scraper struct {
	source   source.Source
	cache    *cache.Cache
	scopes   []scope.Scope
	interval time.Duration
	metrics  *observability.BuilderMetrics

	// group deduplicates forced refreshes per scope key so an admin
	// hammering the refresh endpoint triggers one upstream fetch, not many.
	group singleflight.Group

	// now is replaceable for tests.
	now func() time.Time
}

// New creates a scraper. metrics may not be nil; pass the instance returned
// by observability.InitMetrics.
func New(src source.Source, c *cache.Cache, scopes []scope.Scope, interval time.Duration, metrics *observability.BuilderMetrics) *Scraper {
	return &Scraper{
		source:   src,
		cache:    c,
		scopes:   scopes,
		interval: interval,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Run starts one refresh loop per scope and blocks until ctx is canceled.
// Each loop refreshes immediately on startup so the service becomes ready
// without waiting a full interval.
func (s *Scraper) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, sc := range s.scopes {
		sc := sc
		g.Go(func() error {
			s.loop(ctx, sc)
			return nil
		})
	}
	return g.Wait()
}

func (s *Scraper) loop(ctx context.Context, sc scope.Scope) {
	if err := s.refresh(ctx, sc); err != nil {
		slog.Error("initial refresh failed", "scope", sc.String(), "error", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.refresh(ctx, sc); err != nil {
				slog.Error("refresh failed, keeping previous snapshot",
					"scope", sc.String(), "error", err)
			}
		}
	}
}

// ForceRefresh runs one refresh cycle for a scope outside the normal
// schedule. Concurrent calls for the same scope share a single cycle.
func (s *Scraper) ForceRefresh(ctx context.Context, sc scope.Scope) error {
	_, err, _ := s.group.Do(sc.String(), func() (any, error) {
		return nil, s.refresh(ctx, sc)
	})
	return err
}

// refresh runs one fetch-assemble-publish cycle for a scope.
func (s *Scraper) refresh(ctx context.Context, sc scope.Scope) error {
	ctx, span := refreshTracer.Start(ctx, "RefreshScope",
		trace.WithAttributes(
			attribute.String("stream", sc.Stream),
			attribute.String("basearch", sc.Basearch),
		))
	defer span.End()

	s.metrics.RecordScrape(sc.Stream, sc.Basearch)
	started := s.now()

	index, updates, err := s.source.Fetch(ctx, sc)
	if err != nil {
		span.RecordError(err)
		s.metrics.RecordFailure(sc.Stream, sc.Basearch, observability.StageFetch)
		return err
	}

	g, err := assemble.Assemble(sc, index, updates)
	if err != nil {
		span.RecordError(err)
		s.metrics.RecordFailure(sc.Stream, sc.Basearch, observability.StageAssemble)
		return err
	}

	snap, err := cache.NewSnapshot(g, s.now())
	if err != nil {
		s.metrics.RecordFailure(sc.Stream, sc.Basearch, observability.StageAssemble)
		return err
	}

	s.cache.Publish(sc, snap)
	s.metrics.RecordPublish(sc.Stream, sc.Basearch,
		len(g.Nodes), len(g.Edges), float64(snap.FetchedAt.Unix()))
	span.SetAttributes(
		attribute.Int("nodes", len(g.Nodes)),
		attribute.Int("edges", len(g.Edges)),
	)

	slog.Info("published graph snapshot",
		"scope", sc.String(),
		"nodes", len(g.Nodes),
		"edges", len(g.Edges),
		"duration", s.now().Sub(started).String())
	return nil
}
