// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fetcher

import (
	"errors"
	"sync"
	"time"

	"github.com/AleutianAI/updategraph/pkg/graph"
	"github.com/AleutianAI/updategraph/pkg/scope"
)

// ErrNotYetAvailable reports a scope that has never been successfully
// mirrored from an upstream builder.
var ErrNotYetAvailable = errors.New("graph not yet available")

// Entry is one mirrored graph for one scope. Entries are immutable once
// stored; a refresh stores a replacement rather than mutating in place.
type Entry struct {
	Graph *graph.Graph

	// Body is the re-serialized canonical form; it is what gets evaluated
	// and served, never the raw upstream bytes.
	Body []byte

	// ETag is sent on conditional fetches against the upstream.
	ETag string

	// FetchedAt is when the entry body was last replaced (a 200).
	FetchedAt time.Time

	// CheckedAt is when the upstream last confirmed the entry, by a 200 or
	// a 304. Staleness is measured from here.
	CheckedAt time.Time
}

// Mirror holds the last known good graph per scope together with fetch
// health bookkeeping.
//
// # Thread Safety
//
// Reads and writes are guarded by one RWMutex; entries are swapped as whole
// pointers so request handlers never observe a partial update.
type Mirror struct {
	mu       sync.RWMutex
	entries  map[scope.Scope]*Entry
	failures map[scope.Scope]int
}

// NewMirror creates an empty mirror.
func NewMirror() *Mirror {
	return &Mirror{
		entries:  make(map[scope.Scope]*Entry),
		failures: make(map[scope.Scope]int),
	}
}

// Get returns the current entry for a scope, or ErrNotYetAvailable.
func (m *Mirror) Get(sc scope.Scope) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.entries[sc]
	if !ok {
		return nil, ErrNotYetAvailable
	}
	return entry, nil
}

// Replace stores a freshly fetched entry and resets the failure counter.
func (m *Mirror) Replace(sc scope.Scope, entry *Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[sc] = entry
	m.failures[sc] = 0
}

// Touch records an upstream 304: the entry is unchanged but confirmed
// fresh. A scope without an entry is ignored.
func (m *Mirror) Touch(sc scope.Scope, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[sc]
	if !ok {
		return
	}
	fresh := *entry
	fresh.CheckedAt = at
	m.entries[sc] = &fresh
	m.failures[sc] = 0
}

// RecordFailure increments and returns the consecutive failure count for a
// scope. The entry, if any, is deliberately left in place.
func (m *Mirror) RecordFailure(sc scope.Scope) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[sc]++
	return m.failures[sc]
}

// Failures returns the consecutive failure count for a scope.
func (m *Mirror) Failures(sc scope.Scope) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.failures[sc]
}

// Stale reports whether a scope's entry has gone unconfirmed longer than
// threshold. A scope with no entry is not stale, it is unavailable.
func (m *Mirror) Stale(sc scope.Scope, threshold time.Duration, now time.Time) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.entries[sc]
	if !ok {
		return false
	}
	return now.Sub(entry.CheckedAt) > threshold
}
