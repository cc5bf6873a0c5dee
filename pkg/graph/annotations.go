// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"fmt"
	"strconv"
)

// Metadata keys recognized on release nodes. The assembler writes these and
// every later stage parses them through ParseAnnotations; nothing else in
// the system string-matches metadata values.
const (
	// KeyAgeIndex is the position of the release in age order at assembly
	// time, kept for debugging and client display.
	KeyAgeIndex = "io.aleutian.update.age_index"

	// KeyScheme names the payload addressing scheme ("checksum" today).
	KeyScheme = "io.aleutian.update.payload_scheme"

	// KeyBarrier marks a release that must not be skipped: upgrades from
	// below it cannot target anything past it until it is cleared.
	KeyBarrier       = "io.aleutian.update.barrier"
	KeyBarrierReason = "io.aleutian.update.barrier.reason"

	// KeyDeadend marks a release with no outgoing upgrade paths. Clients
	// already on it can only be rescued by a manual action.
	KeyDeadend       = "io.aleutian.update.deadend"
	KeyDeadendReason = "io.aleutian.update.deadend.reason"

	// KeyRollout and friends describe the staged-rollout ramp.
	KeyRollout                = "io.aleutian.update.rollout"
	KeyRolloutStartEpoch      = "io.aleutian.update.rollout.start_epoch"
	KeyRolloutStartPercentage = "io.aleutian.update.rollout.start_percentage"
	KeyRolloutDurationMinutes = "io.aleutian.update.rollout.duration_minutes"

	// KeyRolloutSkip opts a release out of gradual rollout entirely
	// (immediate 100% eligibility, used for emergency releases).
	KeyRolloutSkip = "io.aleutian.update.rollout.skip"
)

// RolloutParams is the parsed staged-rollout ramp for one node.
type RolloutParams struct {
	// StartEpoch is the ramp start as Unix seconds. Zero means the ramp
	// starts immediately at whatever time the release was published.
	StartEpoch int64

	// StartPercentage is the eligibility percentage at ramp start, in
	// [0,100]. Defaults to 0.
	StartPercentage float64

	// DurationMinutes is the ramp length. Zero means the configured
	// service-wide default applies.
	DurationMinutes int64
}

// Annotations is the closed set of policy markers a node can carry, parsed
// once from the free-form metadata map.
type Annotations struct {
	AgeIndex int

	// Barrier is non-nil when the node is a barrier; the string is the
	// operator-supplied reason ("generic" when none was given).
	Barrier *string

	// Deadend is non-nil when the node is a deadend, same reason handling.
	Deadend *string

	// Rollout is non-nil when the node has a gradual-rollout ramp.
	Rollout *RolloutParams

	// RolloutSkip reports the explicit opt-out marker.
	RolloutSkip bool
}

// ParseAnnotations extracts the recognized markers from a node's metadata.
//
// Unrecognized keys are ignored (forward compatibility); recognized keys
// with malformed values are an error, since they change policy decisions.
func ParseAnnotations(node Node) (Annotations, error) {
	var ann Annotations

	if raw, ok := node.Metadata[KeyAgeIndex]; ok {
		idx, err := strconv.Atoi(raw)
		if err != nil {
			return Annotations{}, fmt.Errorf("node %q: malformed age index %q: %w", node.Version, raw, err)
		}
		ann.AgeIndex = idx
	}

	if truthy(node.Metadata[KeyBarrier]) {
		reason := node.Metadata[KeyBarrierReason]
		if reason == "" {
			reason = "generic"
		}
		ann.Barrier = &reason
	}

	if truthy(node.Metadata[KeyDeadend]) {
		reason := node.Metadata[KeyDeadendReason]
		if reason == "" {
			reason = "generic"
		}
		ann.Deadend = &reason
	}

	if truthy(node.Metadata[KeyRolloutSkip]) {
		ann.RolloutSkip = true
	}

	if truthy(node.Metadata[KeyRollout]) {
		params := RolloutParams{}
		if raw, ok := node.Metadata[KeyRolloutStartEpoch]; ok {
			epoch, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return Annotations{}, fmt.Errorf("node %q: malformed rollout start epoch %q: %w", node.Version, raw, err)
			}
			params.StartEpoch = epoch
		}
		if raw, ok := node.Metadata[KeyRolloutStartPercentage]; ok {
			pct, err := strconv.ParseFloat(raw, 64)
			if err != nil || pct < 0 || pct > 100 {
				return Annotations{}, fmt.Errorf("node %q: malformed rollout start percentage %q", node.Version, raw)
			}
			params.StartPercentage = pct
		}
		if raw, ok := node.Metadata[KeyRolloutDurationMinutes]; ok {
			minutes, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || minutes < 0 {
				return Annotations{}, fmt.Errorf("node %q: malformed rollout duration %q", node.Version, raw)
			}
			params.DurationMinutes = minutes
		}
		ann.Rollout = &params
	}

	return ann, nil
}

// truthy interprets a metadata flag value. Only "true" enables a marker;
// absent keys and any other value leave it off.
func truthy(value string) bool {
	return value == "true"
}
