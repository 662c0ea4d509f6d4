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

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/Tjstretchalot/arango-crud/auth"
	"github.com/Tjstretchalot/arango-crud/backoff"
	"github.com/Tjstretchalot/arango-crud/cluster"
	"github.com/Tjstretchalot/arango-crud/transport"
	"pkt.systems/pslog"
)

// Option is an option used to customize the behavior of a Config.
type Option interface {
	apply(*Config)
}

type optionFunc func(*Config)

func (f optionFunc) apply(c *Config) {
	f(c)
}

// WithTimeout sets the per-attempt request timeout. If not specified,
// 3 seconds is used. For a simple key/value workload against healthy
// coordinators that is plenty; raise it when values are large or the
// cluster queues requests.
func WithTimeout(d time.Duration) Option {
	return optionFunc(func(c *Config) {
		c.timeout = d
	})
}

// WithDefaultTTL sets the expiry applied to documents created or
// refreshed with TTLDefault, and causes collections created through this
// Config to get a TTL index. Without this option, documents never expire
// and collections are created without TTL indexes.
func WithDefaultTTL(d time.Duration) Option {
	return optionFunc(func(c *Config) {
		c.defaultTTL = &d
	})
}

// WithLogger sets the structured logger shared by the request
// orchestrator and the authentication strategy. Passing nil falls back to
// pslog.NoopLogger().
func WithLogger(logger pslog.Base) Option {
	return optionFunc(func(c *Config) {
		if logger == nil {
			logger = pslog.NoopLogger()
		}
		c.logger = logger
	})
}

// WithHTTPClient sets the underlying HTTP client used for every request.
func WithHTTPClient(client *http.Client) Option {
	return optionFunc(func(c *Config) {
		c.httpClient = client
	})
}

// WithH2C makes requests use HTTP/2 over clear-text. Multiplexes all
// traffic to a coordinator over one connection; only for deployments
// where coordinators are reached without TLS.
func WithH2C() Option {
	return optionFunc(func(c *Config) {
		c.httpClient = &http.Client{Transport: transport.NewH2CRoundTripper()}
	})
}

// WithDisableDatabaseDelete makes Database.ForceDelete refuse to run.
// A tripwire against developer error, not a security boundary.
func WithDisableDatabaseDelete() Option {
	return optionFunc(func(c *Config) {
		c.disableDatabaseDelete = true
	})
}

// WithDisableCollectionDelete makes Collection.ForceDelete refuse to run.
func WithDisableCollectionDelete() Option {
	return optionFunc(func(c *Config) {
		c.disableCollectionDelete = true
	})
}

// WithProtectedDatabases names databases that Database.ForceDelete
// refuses to delete.
func WithProtectedDatabases(names ...string) Option {
	return optionFunc(func(c *Config) {
		c.protectedDatabases = append(c.protectedDatabases, names...)
	})
}

// WithProtectedCollections names collections that Collection.ForceDelete
// refuses to delete.
func WithProtectedCollections(names ...string) Option {
	return optionFunc(func(c *Config) {
		c.protectedCollections = append(c.protectedCollections, names...)
	})
}

// Config completely characterizes how communication with the ArangoDB
// coordinators occurs: which coordinator gets a request, how failures are
// retried, and how requests are authenticated. It is the factory for
// [Database] handles.
type Config struct {
	cluster cluster.Selector
	backOff backoff.Schedule
	auth    auth.Auth

	timeout    time.Duration
	defaultTTL *time.Duration
	httpClient *http.Client
	logger     pslog.Base

	disableDatabaseDelete   bool
	disableCollectionDelete bool
	protectedDatabases      []string
	protectedCollections    []string

	executor *transport.Executor
}

// New creates a Config. A stateful authentication strategy is
// automatically wrapped in an auth.Guard, so unsafe cross-goroutine reuse
// is detected; use [Config.Clone] to obtain independent copies for other
// goroutines.
func New(selector cluster.Selector, schedule backoff.Schedule, authStrategy auth.Auth, opts ...Option) (*Config, error) {
	if selector == nil {
		return nil, errors.New("arangocrud: a cluster selector is required")
	}
	if schedule == nil {
		return nil, errors.New("arangocrud: a backoff schedule is required")
	}
	if authStrategy == nil {
		return nil, errors.New("arangocrud: an auth strategy is required")
	}
	if stateful, ok := authStrategy.(auth.Stateful); ok {
		if _, guarded := authStrategy.(*auth.Guard); !guarded {
			authStrategy = auth.NewGuard(stateful)
		}
	}
	c := &Config{
		cluster: selector,
		backOff: schedule,
		auth:    authStrategy,
		timeout: 3 * time.Second,
		logger:  pslog.NoopLogger(),
	}
	for _, opt := range opts {
		opt.apply(c)
	}
	c.executor = c.buildExecutor()
	return c, nil
}

func (c *Config) buildExecutor() *transport.Executor {
	execOpts := []transport.ExecutorOption{
		transport.WithTimeout(c.timeout),
		transport.WithAuthorizer(c.auth),
		transport.WithLogger(c.logger),
	}
	if c.httpClient != nil {
		execOpts = append(execOpts, transport.WithHTTPClient(c.httpClient))
	}
	return transport.NewExecutor(c.cluster, c.backOff, execOpts...)
}

// Prepare performs the initial loading this configuration needs,
// typically obtaining a JWT. Calling it is optional; the same work
// happens on the first request.
func (c *Config) Prepare(ctx context.Context) error {
	return c.auth.Prepare(ctx, c.executor)
}

// Clone returns an independent copy of this Config, with the
// authentication state stripped, safe to hand to another goroutine. The
// copy shares no mutable state with the original; with a disk-backed JWT
// cache, copies still share tokens through the filesystem.
func (c *Config) Clone() *Config {
	copied := *c
	if stateful, ok := c.auth.(auth.Stateful); ok {
		copied.auth = stateful.CopyAndStripState()
	}
	copied.protectedDatabases = slices.Clone(c.protectedDatabases)
	copied.protectedCollections = slices.Clone(c.protectedCollections)
	copied.executor = copied.buildExecutor()
	return &copied
}

// Database returns a handle to the database with the given name. This
// performs no networking.
func (c *Config) Database(name string) *Database {
	return &Database{config: c, name: name}
}
