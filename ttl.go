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

package arangocrud

import "time"

// TTL describes the time-to-live applied to a document by a write: the
// Config's default, no expiry at all, or an explicit duration.
type TTL struct {
	kind     ttlKind
	duration time.Duration
}

type ttlKind int

const (
	ttlDefault ttlKind = iota
	ttlNever
	ttlExplicit
)

//nolint:gochecknoglobals
var (
	// TTLDefault applies whatever default the Config was built with
	// (WithDefaultTTL), which may be no expiry.
	TTLDefault = TTL{kind: ttlDefault}

	// TTLNever marks the document to never expire, regardless of the
	// Config default.
	TTLNever = TTL{kind: ttlNever}
)

// TTLOf applies an explicit time-to-live for this write only.
func TTLOf(d time.Duration) TTL {
	return TTL{kind: ttlExplicit, duration: d}
}

// resolve returns the effective expiry duration, or nil for no expiry.
func (t TTL) resolve(c *Config) *time.Duration {
	switch t.kind {
	case ttlNever:
		return nil
	case ttlExplicit:
		d := t.duration
		return &d
	default:
		return c.defaultTTL
	}
}
