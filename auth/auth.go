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

// Package auth sets authentication headers on outgoing requests.
//
// Two strategies are provided. [Basic] resends the username and password
// with every request and holds no state. [JWT] exchanges the credentials
// for a bearer token once and reuses it until it nears expiry; with a
// [DiskCache] the token is shared between every process and goroutine
// pointed at the same files.
//
// A stateful strategy must not be shared across goroutines. [Guard] wraps
// one and fails fast when it detects such sharing; the supported way to
// use one configuration from many goroutines is to give each its own
// independent copy (see Config.Clone in the root package).
package auth

import (
	"context"
	"encoding/base64"
	"net/http"

	"github.com/Tjstretchalot/arango-crud/transport"
)

// Auth is something capable of setting authentication headers on a
// request. It is the transport.Authorizer capability plus an optional
// warm-up step.
type Auth interface {
	transport.Authorizer

	// Prepare eagerly sets up any state needed to serve future requests
	// quickly, typically loading or minting a token. Calling it is
	// optional; the same work happens lazily on the first Authorize.
	Prepare(ctx context.Context, rt transport.Requester) error
}

// Stateful is an Auth that accumulates state, such as a token, which must
// not be shared across goroutines.
type Stateful interface {
	Auth

	// CopyAndStripState returns a deep copy of this strategy with all
	// acquired state removed, suitable for handing to another goroutine.
	CopyAndStripState() Stateful
}

// Basic is a stateless strategy that sends the username and password with
// every request. Safe for concurrent use.
type Basic struct {
	header string
}

var _ Auth = (*Basic)(nil)

// NewBasic creates a Basic strategy for the given credentials.
func NewBasic(username, password string) *Basic {
	cred := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
	return &Basic{header: "Basic " + cred}
}

// Prepare is a no-op; there is no state to set up.
func (b *Basic) Prepare(context.Context, transport.Requester) error {
	return nil
}

// Authorize sets the Authorization header from the configured credentials.
func (b *Basic) Authorize(_ context.Context, _ transport.Requester, headers http.Header) error {
	headers.Set("Authorization", b.header)
	return nil
}

// TryRecoverAuthFailure reports false: the credentials sent are exactly
// the configured ones, so a rejection cannot be recovered from here.
func (b *Basic) TryRecoverAuthFailure() bool {
	return false
}
