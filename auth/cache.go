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

package auth

import (
	"encoding/json"
	"time"
)

// Token is an opaque bearer token with an absolute expiry. Tokens are
// replaced, never mutated.
type Token struct {
	// Value is the opaque token string.
	Value string
	// ExpiresAt is when the server will stop accepting the token.
	ExpiresAt time.Time
}

// tokenJSON is the on-disk form of a Token.
type tokenJSON struct {
	Token               string  `json:"token"`
	ExpiresAtUTCSeconds float64 `json:"expires_at_utc_seconds"`
}

// MarshalJSON encodes the token in the store-file format, with the expiry
// as fractional seconds since the Unix epoch.
func (t Token) MarshalJSON() ([]byte, error) {
	return json.Marshal(tokenJSON{
		Token:               t.Value,
		ExpiresAtUTCSeconds: unixSeconds(t.ExpiresAt),
	})
}

// UnmarshalJSON decodes the store-file format.
func (t *Token) UnmarshalJSON(data []byte) error {
	var decoded tokenJSON
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	t.Value = decoded.Token
	t.ExpiresAt = timeFromUnixSeconds(decoded.ExpiresAtUTCSeconds)
	return nil
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func timeFromUnixSeconds(s float64) time.Time {
	return time.Unix(0, int64(s*float64(time.Second))).UTC()
}

// Cache stores a JWT so that independent instances, including separate
// processes, can reuse it instead of minting their own. The more reuse a
// cache enables, the less load token minting puts on the cluster.
type Cache interface {
	// Fetch returns the cached token, or nil when the cache holds no
	// value. Corrupt or partially written content counts as no value,
	// never as an error.
	Fetch() *Token

	// TryAcquireLock attempts to acquire permission to mint or refresh
	// the shared token. It is non-blocking and single-shot; a caller that
	// loses should poll Fetch for the winner's token instead of blocking.
	TryAcquireLock() bool

	// TrySet stores a freshly minted token. It should only be called
	// after a recent successful TryAcquireLock. A false return means the
	// cache could not be updated; the token is still valid for local use,
	// which degrades this instance to memory-only caching.
	TrySet(token Token) bool
}

// LockTimer is implemented by caches whose lock is abandoned after a fixed
// duration rather than explicitly released. The JWT strategy uses it to
// bound how long it polls for a contended lock before proceeding without
// one.
type LockTimer interface {
	LockTime() time.Duration
}
