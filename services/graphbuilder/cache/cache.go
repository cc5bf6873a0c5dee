// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache holds the latest successfully assembled graph snapshot per
// scope.
//
// # Thread Safety
//
// The cache is read-mostly: many request handlers read concurrently while
// one refresh loop per scope publishes. Publication swaps an immutable
// *Snapshot pointer under a short write lock, so readers never observe a
// half-updated graph and never contend with an in-progress assembly.
// Snapshots are never mutated after publication; a failed refresh cycle
// simply leaves the previous snapshot in place as last known good.
package cache

import (
	"errors"
	"sync"
	"time"

	"github.com/AleutianAI/updategraph/pkg/graph"
	"github.com/AleutianAI/updategraph/pkg/scope"
)

// ErrNotYetAvailable reports a scope that has never had a successful
// assembly cycle. It is a distinct condition, not a server fault: callers
// translate it into a retryable "not ready" response instead of an empty
// graph or a generic error.
var ErrNotYetAvailable = errors.New("graph not yet available")

// Snapshot is one published, immutable graph for one scope.
type Snapshot struct {
	Graph *graph.Graph

	// Body is the canonical serialized form served on the wire.
	Body []byte

	// ETag is the content-derived opacity token for conditional fetches.
	ETag string

	// FetchedAt is when the assembly cycle that produced this snapshot
	// completed.
	FetchedAt time.Time
}

// NewSnapshot serializes and seals a validated graph.
func NewSnapshot(g *graph.Graph, fetchedAt time.Time) (*Snapshot, error) {
	body, err := g.Marshal()
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		Graph:     g,
		Body:      body,
		ETag:      graph.ETag(body),
		FetchedAt: fetchedAt,
	}, nil
}

// Cache maps scopes to their latest snapshot.
type Cache struct {
	mu        sync.RWMutex
	snapshots map[scope.Scope]*Snapshot
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{snapshots: make(map[scope.Scope]*Snapshot)}
}

// Get returns the current snapshot for a scope, or ErrNotYetAvailable.
// The returned snapshot is shared and must not be modified.
func (c *Cache) Get(sc scope.Scope) (*Snapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap, ok := c.snapshots[sc]
	if !ok {
		return nil, ErrNotYetAvailable
	}
	return snap, nil
}

// Publish atomically replaces the snapshot for a scope. The previous
// snapshot remains visible to readers that already hold it.
func (c *Cache) Publish(sc scope.Scope, snap *Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshots[sc] = snap
}

// Scopes returns the scopes that currently have a snapshot.
func (c *Cache) Scopes() []scope.Scope {
	c.mu.RLock()
	defer c.mu.RUnlock()

	scopes := make([]scope.Scope, 0, len(c.snapshots))
	for sc := range c.snapshots {
		scopes = append(scopes, sc)
	}
	return scopes
}
