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

package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Tjstretchalot/arango-crud/backoff"
	"github.com/Tjstretchalot/arango-crud/cluster"
	"github.com/Tjstretchalot/arango-crud/internal"
	"pkt.systems/pslog"
)

const defaultTimeout = 3 * time.Second

// ExecutorOption is an option used to customize the behavior of an Executor.
type ExecutorOption interface {
	apply(*Executor)
}

type executorOptionFunc func(*Executor)

func (f executorOptionFunc) apply(e *Executor) {
	f(e)
}

// WithTimeout sets the per-attempt timeout. Each attempt of a logical call
// gets a fresh timeout; there is no deadline across attempts beyond what
// the caller's context carries. If not specified, 3 seconds is used.
func WithTimeout(d time.Duration) ExecutorOption {
	return executorOptionFunc(func(e *Executor) {
		e.timeout = d
	})
}

// WithAuthorizer sets the Authorizer used to stamp credentials onto
// authenticated calls. Without one, all calls go out unauthenticated.
func WithAuthorizer(auth Authorizer) ExecutorOption {
	return executorOptionFunc(func(e *Executor) {
		e.auth = auth
	})
}

// WithHTTPClient sets the underlying HTTP client. This is how a custom
// RoundTripper, such as the one from [NewH2CRoundTripper], or custom TLS
// configuration is wired in. If not specified, [http.DefaultClient] is used.
func WithHTTPClient(client *http.Client) ExecutorOption {
	return executorOptionFunc(func(e *Executor) {
		e.httpClient = client
	})
}

// WithLogger sets the structured logger used to record attempt outcomes.
// Passing nil falls back to pslog.NoopLogger().
func WithLogger(logger pslog.Base) ExecutorOption {
	return executorOptionFunc(func(e *Executor) {
		if logger == nil {
			logger = pslog.NoopLogger()
		}
		e.logger = logger
	})
}

// Executor is the request orchestrator: it drives the retry loop for
// logical calls against the cluster. Executors are immutable after
// construction and safe for concurrent use as long as their Authorizer is;
// stateful authorizers must be guarded (see the auth package).
type Executor struct {
	cluster    cluster.Selector
	backOff    backoff.Schedule
	auth       Authorizer
	httpClient *http.Client
	timeout    time.Duration
	clock      internal.Clock
	logger     pslog.Base
}

var _ Requester = (*Executor)(nil)

// NewExecutor creates an Executor that selects coordinators with selector
// and spaces retries per schedule. Both must be non-nil.
func NewExecutor(selector cluster.Selector, schedule backoff.Schedule, opts ...ExecutorOption) *Executor {
	e := &Executor{
		cluster:    selector,
		backOff:    schedule,
		httpClient: http.DefaultClient,
		timeout:    defaultTimeout,
		clock:      internal.NewRealClock(),
		logger:     pslog.NoopLogger(),
	}
	for _, opt := range opts {
		opt.apply(e)
	}
	return e
}

// Do performs one logical call. It returns the first response with a status
// code below 500 unmodified, retrying transport errors and 5xx responses
// per the backoff schedule with a fresh coordinator each attempt. A 401 on
// an authenticated call is retried at most once, after the Authorizer
// reports it recovered, without consuming a backoff slot.
func (e *Executor) Do(ctx context.Context, req Request) (*Response, error) {
	headers := make(http.Header, len(req.Header)+2)
	for key, values := range req.Header {
		for _, value := range values {
			headers.Add(key, value)
		}
	}
	var body []byte
	if req.Body != nil {
		var err error
		body, err = json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("transport: encoding request body: %w", err)
		}
		headers.Set("Content-Type", "application/json")
	}

	authorized := !req.NoAuth && e.auth != nil
	if authorized {
		if err := e.auth.Authorize(ctx, e, headers); err != nil {
			return nil, err
		}
	}

	attempt := 1
	reattemptedAuth := false
	for {
		fullURL := e.buildURL(req)
		start := e.clock.Now()
		resp, err := e.roundTrip(ctx, req.Method, fullURL, headers, body)
		elapsedMS := e.clock.Since(start).Milliseconds()

		if err == nil {
			e.logger.Debug("request complete",
				"method", req.Method,
				"url", fullURL,
				"status", resp.StatusCode,
				"elapsed_ms", elapsedMS,
				"bytes", len(resp.Body))
			if resp.StatusCode < http.StatusInternalServerError {
				if resp.StatusCode == http.StatusUnauthorized &&
					authorized && !reattemptedAuth && e.auth.TryRecoverAuthFailure() {
					if err := e.auth.Authorize(ctx, e, headers); err != nil {
						return nil, err
					}
					reattemptedAuth = true
					continue
				}
				return resp, nil
			}
		} else {
			var build *requestBuildError
			if errors.As(err, &build) {
				return nil, build.err
			}
			e.logger.Warn("request failed",
				"method", req.Method,
				"url", fullURL,
				"elapsed_ms", elapsedMS,
				"error", err)
		}

		delay, retry := e.backOff.Delay(attempt)
		if !retry {
			return nil, &MaxRetriesError{Endpoint: req.Path, Attempts: attempt}
		}
		attempt++
		if err := e.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// roundTrip executes a single attempt. Any error it returns, other than a
// requestBuildError, is treated as a transient transport failure.
func (e *Executor) roundTrip(ctx context.Context, method, fullURL string, headers http.Header, body []byte) (*Response, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, &requestBuildError{err: err}
	}
	httpReq.Header = headers.Clone()
	httpResp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()
	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}
	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       data,
	}, nil
}

func (e *Executor) buildURL(req Request) string {
	var sb strings.Builder
	sb.WriteString(e.cluster.SelectNextURL())
	if !strings.HasPrefix(req.Path, "/") {
		sb.WriteByte('/')
	}
	sb.WriteString(req.Path)
	if len(req.Query) > 0 {
		sb.WriteByte('?')
		sb.WriteString(req.Query.Encode())
	}
	return sb.String()
}

func (e *Executor) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-e.clock.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// requestBuildError marks an error constructing the HTTP request itself,
// e.g. a malformed coordinator URL. Retrying cannot help.
type requestBuildError struct {
	err error
}

func (e *requestBuildError) Error() string {
	return e.err.Error()
}
