// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package source reads raw release metadata from the external object store.
// It is a read-only adapter: everything it returns is untrusted input that
// the assembler validates in full before anything is published.
package source

// ReleaseIndex is the per-stream enumeration of published releases, oldest
// first. The order of the releases array is the age order the assembler
// builds the graph from.
type ReleaseIndex struct {
	Stream   string  `json:"stream"`
	Releases []Entry `json:"releases"`
}

// Entry is one published release in the index.
type Entry struct {
	Version string   `json:"version"`
	Commits []Commit `json:"commits"`
}

// Commit is a per-architecture payload reference for a release.
type Commit struct {
	Architecture string `json:"architecture"`
	Checksum     string `json:"checksum"`
}

// UpdatesDoc carries the operator-maintained update policy notes for a
// stream: barriers, deadends, and rollout ramps keyed by version.
type UpdatesDoc struct {
	Stream   string       `json:"stream"`
	Releases []UpdateNote `json:"releases"`
}

// UpdateNote is the policy metadata attached to one version.
type UpdateNote struct {
	Version  string         `json:"version"`
	Metadata UpdateMetadata `json:"metadata"`
}

// UpdateMetadata is the closed set of policy markers an operator can set.
type UpdateMetadata struct {
	Barrier     *ReasonNote  `json:"barrier,omitempty"`
	Deadend     *ReasonNote  `json:"deadend,omitempty"`
	Rollout     *RolloutNote `json:"rollout,omitempty"`
	RolloutSkip bool         `json:"rollout_skip,omitempty"`
}

// ReasonNote carries an operator-supplied explanation for a marker.
type ReasonNote struct {
	Reason string `json:"reason"`
}

// RolloutNote describes a staged rollout ramp. All fields are optional;
// missing values fall back to the service defaults at annotation time.
type RolloutNote struct {
	StartEpoch      *int64   `json:"start_epoch,omitempty"`
	StartPercentage *float64 `json:"start_percentage,omitempty"`
	DurationMinutes *int64   `json:"duration_minutes,omitempty"`
}

// NoteForVersion returns the update note for a version, or nil.
func (d *UpdatesDoc) NoteForVersion(version string) *UpdateNote {
	if d == nil {
		return nil
	}
	for i := range d.Releases {
		if d.Releases[i].Version == version {
			return &d.Releases[i]
		}
	}
	return nil
}
