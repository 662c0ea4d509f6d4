// Copyright 2023-2025 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package backoff maps a count of failed request attempts to the delay to
// wait before the next attempt, or to a give-up signal once the schedule
// is exhausted.
package backoff

import (
	"fmt"
	"time"
)

// Schedule decides how long to wait after a failed attempt. Implementations
// must be immutable and safe for unsynchronized concurrent use.
type Schedule interface {
	// Delay returns the wait before the attempt following the numFailed'th
	// consecutive failure, counted from 1. The second return value is false
	// when no further attempts should be made; the delay is then
	// meaningless. A zero delay with true still means "retry immediately",
	// which is distinct from giving up.
	//
	// Calling Delay with numFailed < 1 is a bug in the caller and panics.
	Delay(numFailed int) (time.Duration, bool)
}

// NewStep creates a Schedule that follows a fixed sequence of delays: the
// i'th failure (1-indexed) waits steps[i-1], and failures beyond the end of
// the sequence give up. An empty sequence disables retries entirely. It
// returns an error when any step is negative.
func NewStep(steps []time.Duration) (Schedule, error) {
	for i, step := range steps {
		if step < 0 {
			return nil, fmt.Errorf("backoff: step %v at index %d is negative", step, i)
		}
	}
	copied := make([]time.Duration, len(steps))
	copy(copied, steps)
	return stepSchedule(copied), nil
}

type stepSchedule []time.Duration

func (s stepSchedule) Delay(numFailed int) (time.Duration, bool) {
	if numFailed < 1 {
		panic(fmt.Sprintf("backoff: Delay called with numFailed=%d; must be >= 1", numFailed))
	}
	if numFailed > len(s) {
		return 0, false
	}
	return s[numFailed-1], true
}
