// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scope defines the (stream, basearch) key that partitions the
// update-graph space. Every cached graph, refresh loop, and client request
// is scoped to exactly one Scope value.
package scope

import (
	"fmt"
	"regexp"
)

// streamPattern matches valid release stream names.
// Allows: lowercase letters, digits, dots and hyphens, e.g. "stable",
// "testing-devel", "next-4.2". Max length: 64 characters.
var streamPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9.\-]{0,63}$`)

// basearchPattern matches valid base architecture names, e.g. "x86_64",
// "aarch64", "s390x", "ppc64le".
var basearchPattern = regexp.MustCompile(`^[a-z0-9_]{1,32}$`)

// Scope identifies one update-graph partition: a release stream served for
// one base architecture. Scope is comparable and usable as a map key.
type Scope struct {
	Stream   string `json:"stream" yaml:"stream"`
	Basearch string `json:"basearch" yaml:"basearch"`
}

// String renders the scope as "stream/basearch" for logs and metric labels.
func (s Scope) String() string {
	return s.Stream + "/" + s.Basearch
}

// Validate checks that both components are well-formed. It does not check
// that the scope is actually configured; that is the caller's allowlist.
func (s Scope) Validate() error {
	if !streamPattern.MatchString(s.Stream) {
		return fmt.Errorf("invalid stream %q (must be 1-64 lowercase alphanumeric chars, dots, or hyphens)", s.Stream)
	}
	if !basearchPattern.MatchString(s.Basearch) {
		return fmt.Errorf("invalid basearch %q (must be 1-32 lowercase alphanumeric chars or underscores)", s.Basearch)
	}
	return nil
}
