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

// Package cluster decides which coordinator URL a request is sent to.
//
// This package defines the core interface, [Selector], which returns one
// coordinator base URL per call, and two implementations: a uniform random
// selector and a weighted random selector. Selection is independent of
// history, so a request that fails against one coordinator and retries
// naturally fails over to a different one with high probability.
//
// Both implementations hold no mutable state and are safe for
// unsynchronized concurrent use.
package cluster

import (
	"fmt"
	"math/rand/v2"
	"strings"
)

// Selector picks the coordinator base URL for a single request attempt.
type Selector interface {
	// SelectNextURL returns the base URL of the coordinator the next
	// attempt should be sent to, without a trailing slash.
	SelectNextURL() string
}

// NewRandom creates a Selector that distributes attempts uniformly at
// random across the given coordinator URLs. It returns an error when no
// URLs are given.
func NewRandom(urls []string) (Selector, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("cluster: at least one coordinator URL is required")
	}
	return &randomSelector{urls: normalizeURLs(urls)}, nil
}

// NewWeightedRandom creates a Selector that distributes attempts across the
// given coordinator URLs proportionally to the given weights. It returns an
// error when no URLs are given, when the number of weights does not match
// the number of URLs, or when any weight is not positive.
func NewWeightedRandom(urls []string, weights []float64) (Selector, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("cluster: at least one coordinator URL is required")
	}
	if len(weights) != len(urls) {
		return nil, fmt.Errorf("cluster: got %d weights for %d URLs", len(weights), len(urls))
	}
	cumulative := make([]float64, len(weights))
	var total float64
	for i, w := range weights {
		if w <= 0 {
			return nil, fmt.Errorf("cluster: weight %v at index %d is not positive", w, i)
		}
		total += w
		cumulative[i] = total
	}
	return &weightedRandomSelector{
		urls:       normalizeURLs(urls),
		cumulative: cumulative,
		total:      total,
	}, nil
}

type randomSelector struct {
	urls []string
}

func (s *randomSelector) SelectNextURL() string {
	return s.urls[rand.IntN(len(s.urls))] //nolint:gosec // does not need to be cryptographically secure
}

type weightedRandomSelector struct {
	urls       []string
	cumulative []float64
	total      float64
}

func (s *weightedRandomSelector) SelectNextURL() string {
	draw := rand.Float64() * s.total //nolint:gosec // does not need to be cryptographically secure
	for i, sum := range s.cumulative {
		if sum >= draw {
			return s.urls[i]
		}
	}
	// Only reachable through float rounding at the very top of the range.
	return s.urls[len(s.urls)-1]
}

func normalizeURLs(urls []string) []string {
	normalized := make([]string, len(urls))
	for i, u := range urls {
		normalized[i] = strings.TrimRight(u, "/")
	}
	return normalized
}
