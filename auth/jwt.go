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
	"context"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/Tjstretchalot/arango-crud/internal"
	"github.com/Tjstretchalot/arango-crud/transport"
	"pkt.systems/pslog"
)

const (
	// forceRefreshWindow is how close to expiry a token may get before a
	// refresh becomes mandatory rather than opportunistic.
	forceRefreshWindow = 60 * time.Second

	// refreshJitterMean spreads proactive refreshes across independently
	// running instances: each check draws an exponentially distributed
	// horizon with this mean and refreshes only when the token expires
	// within it. Without the jitter, every instance that started at the
	// same time would hit the cluster for a new token at the same moment.
	refreshJitterMean = 250000 * time.Second

	// tokenLifetime is how long a freshly minted token is assumed to be
	// valid. The mint endpoint does not report an expiry; the server's
	// default session length is one month.
	tokenLifetime = 30 * 24 * time.Hour

	// lockPollInterval is how long a contender that lost the cache lock
	// waits between checks for the winner's token.
	lockPollInterval = 500 * time.Millisecond
)

// JWT exchanges a username and password for a bearer token on first use
// and reuses the token until it nears expiry. With a cache, the token is
// shared with every other instance pointed at the same cache, and the
// cache's lock keeps a herd of instances from all minting at once.
//
// JWT is stateful and must not be shared across goroutines; the root
// package wraps it in a [Guard] automatically.
type JWT struct {
	username string
	password string
	cache    Cache

	token    *Token
	badToken string

	clock  internal.Clock
	rng    *rand.Rand
	logger pslog.Base
}

var _ Stateful = (*JWT)(nil)

// NewJWT creates a JWT strategy. cache may be nil, in which case the token
// is held in memory only and every instance mints its own.
func NewJWT(username, password string, cache Cache, opts ...Option) *JWT {
	resolved := newOptions(opts)
	return &JWT{
		username: username,
		password: password,
		cache:    cache,
		clock:    internal.NewRealClock(),
		rng:      internal.NewRand(),
		logger:   resolved.logger,
	}
}

// Prepare loads or mints a token so the first real request does not pay
// for it.
func (j *JWT) Prepare(ctx context.Context, rt transport.Requester) error {
	return j.ensureToken(ctx, rt)
}

// Authorize ensures a token and sets the bearer header. When no token
// could be obtained the headers are left unauthenticated, so the request
// fails visibly at the server rather than silently going out with stale
// or partial credentials.
func (j *JWT) Authorize(ctx context.Context, rt transport.Requester, headers http.Header) error {
	if err := j.ensureToken(ctx, rt); err != nil {
		j.logger.Warn("could not obtain jwt, sending request unauthenticated", "error", err)
		return nil
	}
	headers.Set("Authorization", "Bearer "+j.token.Value)
	return nil
}

// TryRecoverAuthFailure reacts to the server rejecting our token: the
// token is remembered as bad, so a cache fetch cannot hand it straight
// back, and dropped, so the next Authorize acquires a fresh one.
func (j *JWT) TryRecoverAuthFailure() bool {
	if j.token == nil {
		return false
	}
	j.badToken = j.token.Value
	j.token = nil
	return true
}

// CopyAndStripState returns an independent JWT with the same credentials
// and cache but no token.
func (j *JWT) CopyAndStripState() Stateful {
	return &JWT{
		username: j.username,
		password: j.password,
		cache:    j.cache,
		clock:    j.clock,
		rng:      internal.NewRand(),
		logger:   j.logger,
	}
}

// ensureToken leaves j.token holding a usable token, or returns an error.
func (j *JWT) ensureToken(ctx context.Context, rt transport.Requester) error {
	if j.token != nil {
		remaining := j.token.ExpiresAt.Sub(j.clock.Now())
		if remaining <= forceRefreshWindow {
			// Too close to expiry to keep using; refresh synchronously.
			return j.acquireToken(ctx, rt)
		}
		horizon := j.drawRefreshHorizon()
		if remaining > horizon {
			return nil
		}
		return j.refreshEarly(ctx, rt)
	}
	return j.acquireToken(ctx, rt)
}

// drawRefreshHorizon samples the jittered early-refresh threshold,
// -mean * ln(U) with U uniform on (0, 1].
func (j *JWT) drawRefreshHorizon() time.Duration {
	u := 1 - j.rng.Float64()
	return time.Duration(-float64(refreshJitterMean) * math.Log(u))
}

// refreshEarly refreshes a token that is still far from expiry. Losing
// the cache lock is fine here: some other instance is refreshing, and the
// token in hand keeps working in the meantime.
func (j *JWT) refreshEarly(ctx context.Context, rt transport.Requester) error {
	if j.cache == nil {
		return j.mintAndStore(ctx, rt, false)
	}
	if token := j.usableFromCache(); token != nil && token.ExpiresAt.After(j.token.ExpiresAt) {
		j.adopt(token)
		return nil
	}
	if !j.cache.TryAcquireLock() {
		return nil
	}
	if token := j.usableFromCache(); token != nil && token.ExpiresAt.After(j.token.ExpiresAt) {
		j.adopt(token)
		return nil
	}
	return j.mintAndStore(ctx, rt, true)
}

// acquireToken obtains a token when none in hand is usable: take one from
// the cache, else win the lock and mint, else poll for the winner's token
// for a bounded time, else mint without the lock. The bounded poll trades
// strict exclusivity for liveness: a crashed lock holder cannot leave
// everyone else waiting forever.
func (j *JWT) acquireToken(ctx context.Context, rt transport.Requester) error {
	if j.cache == nil {
		return j.mintAndStore(ctx, rt, false)
	}
	if token := j.usableFromCache(); token != nil {
		j.adopt(token)
		return nil
	}
	if j.cache.TryAcquireLock() {
		// The previous lock holder may have stored a fresh token between
		// our fetch and our lock attempt.
		if token := j.usableFromCache(); token != nil {
			j.adopt(token)
			return nil
		}
		return j.mintAndStore(ctx, rt, true)
	}
	for i := 0; i < j.lockPollAttempts(); i++ {
		if err := j.sleep(ctx, lockPollInterval); err != nil {
			return err
		}
		if token := j.usableFromCache(); token != nil {
			j.adopt(token)
			return nil
		}
	}
	return j.mintAndStore(ctx, rt, false)
}

// lockPollAttempts bounds the poll loop at ceil(lockTime / 10s) checks.
func (j *JWT) lockPollAttempts() int {
	lockTime := 10 * time.Second
	if timer, ok := j.cache.(LockTimer); ok {
		lockTime = timer.LockTime()
	}
	attempts := int(math.Ceil(lockTime.Seconds() / 10))
	if attempts < 1 {
		attempts = 1
	}
	return attempts
}

// usableFromCache fetches from the cache and filters out tokens this
// instance cannot use: the one the server already rejected, and any too
// close to expiry.
func (j *JWT) usableFromCache() *Token {
	if j.cache == nil {
		return nil
	}
	token := j.cache.Fetch()
	if token == nil || token.Value == j.badToken {
		return nil
	}
	if token.ExpiresAt.Sub(j.clock.Now()) <= forceRefreshWindow {
		return nil
	}
	return token
}

func (j *JWT) adopt(token *Token) {
	j.token = token
	j.badToken = ""
}

// mintAndStore mints a token and, when store is set and the cache accepts
// it, publishes it for other instances. A cache that refuses the write
// only costs sharing, not correctness.
func (j *JWT) mintAndStore(ctx context.Context, rt transport.Requester, store bool) error {
	token, err := j.mint(ctx, rt)
	if err != nil {
		return err
	}
	if store && j.cache != nil && !j.cache.TrySet(*token) {
		j.logger.Warn("could not persist jwt to cache, continuing with in-memory token")
	}
	j.adopt(token)
	return nil
}

// mint exchanges the credentials for a token. The request goes through
// the normal orchestrator, unauthenticated, so it gets the same failover
// and backoff behavior as everything else.
func (j *JWT) mint(ctx context.Context, rt transport.Requester) (*Token, error) {
	resp, err := rt.Do(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   "/_open/auth",
		Body: map[string]string{
			"username": j.username,
			"password": j.password,
		},
		NoAuth: true,
	})
	if err != nil {
		return nil, fmt.Errorf("auth: minting jwt: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth: minting jwt failed with status %d", resp.StatusCode)
	}
	var body struct {
		JWT string `json:"jwt"`
	}
	if err := resp.DecodeJSON(&body); err != nil {
		return nil, fmt.Errorf("auth: minting jwt: %w", err)
	}
	if body.JWT == "" {
		return nil, fmt.Errorf("auth: mint response carried no jwt")
	}
	return &Token{
		Value:     body.JWT,
		ExpiresAt: j.clock.Now().Add(tokenLifetime),
	}, nil
}

func (j *JWT) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-j.clock.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
