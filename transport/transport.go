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

// Package transport executes logical REST calls against a cluster of
// coordinators, handling coordinator selection, authentication headers,
// transient-failure retries with backoff, and a single recovery retry
// after a reported authentication failure.
//
// The core type is [Executor]. Each call to [Executor.Do] is one logical
// request: the executor picks a coordinator for every attempt (so retries
// fail over), stamps credentials through its [Authorizer], classifies the
// outcome, and either returns the response, retries per the backoff
// schedule, or gives up with a [MaxRetriesError].
//
// Responses with status codes below 500 are returned to the caller as-is,
// including errors such as 404 or 409; interpreting those is the caller's
// job. The one exception is a 401 on an authenticated call, which is
// retried exactly once if the Authorizer believes it recovered.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// Request describes one logical REST call. Path is relative to whatever
// coordinator the executor selects, e.g. "/_api/document/people/alice".
type Request struct {
	// Method is the HTTP verb: GET, POST, PUT or DELETE.
	Method string
	// Path is the endpoint path, starting with a slash.
	Path string
	// Query holds optional URL query parameters.
	Query url.Values
	// Header holds extra request headers, e.g. If-Match. The executor
	// never mutates the caller's map.
	Header http.Header
	// Body, when non-nil, is marshaled to JSON and sent as the request
	// body with Content-Type application/json.
	Body any
	// NoAuth skips credential stamping. Used for endpoints that must be
	// reachable without authentication, such as minting a JWT.
	NoAuth bool
}

// Response is the outcome of a logical call that produced an HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// DecodeJSON unmarshals the response body into v.
func (r *Response) DecodeJSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("transport: decoding response body: %w", err)
	}
	return nil
}

// Requester issues one logical request with retry and failover semantics.
// It is implemented by [Executor] and accepted by authentication
// strategies that need to issue their own calls, such as minting a JWT,
// without creating a dependency on a particular executor.
type Requester interface {
	Do(ctx context.Context, req Request) (*Response, error)
}

// Authorizer stamps credentials onto outgoing request headers and reacts
// to server-reported authentication failures.
//
// Authorize may itself issue requests through the given Requester (for
// example to obtain a token); such requests must set Request.NoAuth.
// TryRecoverAuthFailure is called after the server rejects credentials
// stamped by this Authorizer; it reports whether a subsequent Authorize
// is believed to produce working credentials.
type Authorizer interface {
	Authorize(ctx context.Context, rt Requester, headers http.Header) error
	TryRecoverAuthFailure() bool
}

// MaxRetriesError is returned by [Executor.Do] when the backoff schedule is
// exhausted without the cluster producing a non-5xx response.
type MaxRetriesError struct {
	// Endpoint is the request path of the failed logical call.
	Endpoint string
	// Attempts is the total number of attempts made, including the first.
	Attempts int
}

func (e *MaxRetriesError) Error() string {
	return fmt.Sprintf("transport: max retries (%d) exceeded for endpoint %s", e.Attempts-1, e.Endpoint)
}
