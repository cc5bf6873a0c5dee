// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package rollout implements staged-rollout eligibility: the time-based
// threshold ramp attached to each release and the deterministic client
// bucketing that decides which clients cross the threshold when.
//
// Both halves are pure functions. Threshold depends only on the ramp
// parameters and the supplied time; Bucket depends only on the client
// identifier. That keeps eligibility decisions deterministic, testable with
// a fixed clock, and identical across policy-engine instances.
package rollout

import (
	"time"

	"github.com/AleutianAI/updategraph/pkg/graph"
)

// Ramp is the eligibility threshold function for one release.
type Ramp struct {
	// Start is when the ramp begins. Before Start the threshold holds at
	// StartPercentage.
	Start time.Time

	// StartPercentage is the threshold at ramp start, in [0,100].
	StartPercentage float64

	// Duration is how long the ramp takes to reach 100%. A zero Duration
	// makes the ramp immediate: the threshold is 100 at all times.
	Duration time.Duration
}

// Immediate is the ramp for releases without gradual rollout: every client
// is eligible from the moment the release is published.
var Immediate = Ramp{StartPercentage: 100}

// Threshold returns the eligibility percentage at time t.
//
// The function is monotonically non-decreasing in t and clamped to
// [StartPercentage, 100]: it holds at StartPercentage until Start, rises
// linearly, and stays at 100 once Start+Duration has elapsed.
func (r Ramp) Threshold(t time.Time) float64 {
	if r.Duration <= 0 {
		if r.StartPercentage >= 100 {
			return 100
		}
		// A ramp with no duration jumps straight to 100 at Start.
		if !t.Before(r.Start) {
			return 100
		}
		return r.StartPercentage
	}

	if t.Before(r.Start) {
		return r.StartPercentage
	}
	end := r.Start.Add(r.Duration)
	if !t.Before(end) {
		return 100
	}

	elapsed := t.Sub(r.Start).Seconds()
	total := r.Duration.Seconds()
	return r.StartPercentage + (100-r.StartPercentage)*(elapsed/total)
}

// ForNode derives the ramp for a node from its parsed annotations.
//
// Releases without a rollout annotation, and releases carrying the explicit
// skip marker, get the Immediate ramp. defaultDuration applies when the
// annotation does not specify its own duration.
func ForNode(ann graph.Annotations, defaultDuration time.Duration) Ramp {
	if ann.RolloutSkip || ann.Rollout == nil {
		return Immediate
	}

	params := ann.Rollout
	duration := defaultDuration
	if params.DurationMinutes > 0 {
		duration = time.Duration(params.DurationMinutes) * time.Minute
	}
	return Ramp{
		Start:           time.Unix(params.StartEpoch, 0).UTC(),
		StartPercentage: params.StartPercentage,
		Duration:        duration,
	}
}
