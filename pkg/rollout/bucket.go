// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rollout

import (
	"time"

	"github.com/cespare/xxhash/v2"
)

// BucketHashVersion identifies the bucketing function below. Changing the
// hash or the reduction silently would re-bucket the entire fleet, which is
// a breaking change requiring an explicit migration; any replacement must
// bump this constant and be rolled out deliberately.
const BucketHashVersion = 1

// bucketSpace is the number of distinct buckets. Thresholds are percentages,
// so buckets live in [0,100).
const bucketSpace = 100

// Bucket maps a client identifier to its stable rollout bucket in [0,100).
//
// The mapping is deterministic across process restarts and across builder
// and engine instances: the same identifier always lands in the same bucket.
// Identifiers are treated as opaque bytes; no normalization is applied.
func Bucket(clientID string) float64 {
	sum := xxhash.Sum64String(clientID)
	return float64(sum % bucketSpace)
}

// Eligible reports whether a node with the given ramp is visible to a client
// bucket at time t. The client's current version is always eligible as a
// no-op target regardless of the ramp; callers handle that case before
// consulting Eligible.
func Eligible(r Ramp, bucket float64, t time.Time) bool {
	return r.Threshold(t) > bucket
}
