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
	"net/http"
	"os"

	"github.com/Tjstretchalot/arango-crud/transport"
	"github.com/petermattis/goid"
)

// AffinityError reports that a stateful strategy bound to one goroutine
// was reused from another goroutine in the same process. This is always a
// bug in the caller: the original goroutine may still be using the
// strategy concurrently, so its state cannot be migrated safely. Each
// goroutine needs its own independent configuration copy, obtained up
// front via Config.Clone in the root package.
type AffinityError struct {
	// PID is the process both goroutines run in.
	PID int
	// BoundGoroutine is the goroutine the strategy was first used from.
	BoundGoroutine int64
	// CallerGoroutine is the goroutine that attempted the unsafe reuse.
	CallerGoroutine int64
}

func (e *AffinityError) Error() string {
	return fmt.Sprintf(
		"auth: stateful auth bound to goroutine %d was reused from goroutine %d (pid %d); give each goroutine its own configuration via Config.Clone",
		e.BoundGoroutine, e.CallerGoroutine, e.PID)
}

// Guard wraps a stateful strategy and checks, on every call, that it is
// still being used from the process and goroutine it was first used from.
//
// A process id change means this memory is a forked child's private copy:
// the delegate is silently replaced with a freshly stripped one and the
// guard re-binds, which the parent cannot observe. A goroutine change
// within the same process fails with [AffinityError] instead, since the
// bound goroutine might still be mid-call on the shared state.
//
// Identifiers get reused by the OS and the runtime, so this is detection
// on a best-effort basis, not an ironclad fence. Without deliberately
// serializing a guard across processes it is very unlikely to miss.
type Guard struct {
	delegate Stateful
	bound    bool
	pid      int
	gid      int64
}

var _ Stateful = (*Guard)(nil)

// NewGuard wraps delegate. The affinity binding is captured lazily on
// first use, not at construction, so a configuration may be built on one
// goroutine and used on another as long as use stays on one goroutine.
func NewGuard(delegate Stateful) *Guard {
	return &Guard{delegate: delegate}
}

// Prepare verifies affinity, then delegates.
func (g *Guard) Prepare(ctx context.Context, rt transport.Requester) error {
	if err := g.check(); err != nil {
		return err
	}
	return g.delegate.Prepare(ctx, rt)
}

// Authorize verifies affinity, then delegates.
func (g *Guard) Authorize(ctx context.Context, rt transport.Requester, headers http.Header) error {
	if err := g.check(); err != nil {
		return err
	}
	return g.delegate.Authorize(ctx, rt, headers)
}

// TryRecoverAuthFailure verifies affinity, then delegates. An affinity
// violation here reports the failure as unrecoverable; the orchestrator
// then hands the authentication failure back to the caller rather than
// retrying on corrupted state.
func (g *Guard) TryRecoverAuthFailure() bool {
	if err := g.check(); err != nil {
		return false
	}
	return g.delegate.TryRecoverAuthFailure()
}

// CopyAndStripState returns a new unbound guard around a stripped copy of
// the delegate.
func (g *Guard) CopyAndStripState() Stateful {
	return NewGuard(g.delegate.CopyAndStripState())
}

// Reset clears the affinity binding without touching the delegate's
// state. The next use re-binds to whichever goroutine makes it.
func (g *Guard) Reset() {
	g.bound = false
}

func (g *Guard) check() error {
	pid := os.Getpid()
	gid := goid.Get()
	if !g.bound {
		g.pid, g.gid, g.bound = pid, gid, true
		return nil
	}
	if pid != g.pid {
		// Forked child with a private copy of this memory; resetting is
		// invisible to the parent and the stripped state is safe here.
		g.delegate = g.delegate.CopyAndStripState()
		g.pid, g.gid = pid, gid
		return nil
	}
	if gid != g.gid {
		return &AffinityError{PID: pid, BoundGoroutine: g.gid, CallerGoroutine: gid}
	}
	return nil
}
