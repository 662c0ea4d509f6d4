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
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Tjstretchalot/arango-crud/auth"
	"github.com/Tjstretchalot/arango-crud/backoff"
	"github.com/Tjstretchalot/arango-crud/cluster"
	"pkt.systems/pslog"
)

// FromEnv creates a Config from environment variables. It reads, with the
// shown defaults:
//
//	ARANGO_CLUSTER                            (required) comma-separated coordinator URLs
//	ARANGO_CLUSTER_STYLE                      random | weighted-random (random)
//	ARANGO_CLUSTER_WEIGHTS                    comma-separated floats, for weighted-random
//	ARANGO_TIMEOUT_SECONDS                    per-attempt timeout (3)
//	ARANGO_BACK_OFF                           step (step)
//	ARANGO_BACK_OFF_STEPS                     comma-separated seconds (0.1,0.5,1,1,1)
//	ARANGO_TTL_SECONDS                        default document expiry (no expiry)
//	ARANGO_AUTH                               basic | jwt (required)
//	ARANGO_AUTH_USERNAME                      (root)
//	ARANGO_AUTH_PASSWORD                      ("")
//	ARANGO_AUTH_CACHE                         disk | none, for jwt (disk)
//	ARANGO_AUTH_CACHE_LOCK_FILE               (.arango_jwt.lock)
//	ARANGO_AUTH_CACHE_LOCK_TIME_SECONDS       (timeout + 3)
//	ARANGO_AUTH_CACHE_STORE_FILE              (.arango_jwt)
//
// Explicit opts are applied after the environment-derived ones, so they
// win on conflict.
func FromEnv(opts ...Option) (*Config, error) {
	env := viper.New()
	env.SetEnvPrefix("arango")
	env.AutomaticEnv()
	env.SetDefault("cluster_style", "random")
	env.SetDefault("timeout_seconds", 3.0)
	env.SetDefault("back_off", "step")
	env.SetDefault("back_off_steps", "0.1,0.5,1,1,1")
	env.SetDefault("auth_username", "root")
	env.SetDefault("auth_cache", "disk")
	env.SetDefault("auth_cache_lock_file", ".arango_jwt.lock")
	env.SetDefault("auth_cache_store_file", ".arango_jwt")

	logger := loggerFromOpts(opts)

	selector, err := selectorFromEnv(env)
	if err != nil {
		return nil, err
	}
	schedule, err := scheduleFromEnv(env)
	if err != nil {
		return nil, err
	}

	timeoutSeconds := env.GetFloat64("timeout_seconds")
	if timeoutSeconds <= 0 {
		return nil, fmt.Errorf("arangocrud: ARANGO_TIMEOUT_SECONDS must be positive, got %v", timeoutSeconds)
	}
	timeout := secondsToDuration(timeoutSeconds)

	authStrategy, err := authFromEnv(env, timeout, logger)
	if err != nil {
		return nil, err
	}

	envOpts := []Option{WithTimeout(timeout)}
	if env.IsSet("ttl_seconds") {
		ttlSeconds := env.GetFloat64("ttl_seconds")
		if ttlSeconds <= 0 {
			return nil, fmt.Errorf("arangocrud: ARANGO_TTL_SECONDS must be positive, got %v", ttlSeconds)
		}
		envOpts = append(envOpts, WithDefaultTTL(secondsToDuration(ttlSeconds)))
	}
	return New(selector, schedule, authStrategy, append(envOpts, opts...)...)
}

func selectorFromEnv(env *viper.Viper) (cluster.Selector, error) {
	urls := splitNonEmpty(env.GetString("cluster"))
	if len(urls) == 0 {
		return nil, fmt.Errorf("arangocrud: ARANGO_CLUSTER must list at least one coordinator URL")
	}
	switch style := env.GetString("cluster_style"); style {
	case "random":
		return cluster.NewRandom(urls)
	case "weighted-random":
		weights, err := parseFloats(env.GetString("cluster_weights"))
		if err != nil {
			return nil, fmt.Errorf("arangocrud: invalid ARANGO_CLUSTER_WEIGHTS: %w", err)
		}
		return cluster.NewWeightedRandom(urls, weights)
	default:
		return nil, fmt.Errorf("arangocrud: unknown ARANGO_CLUSTER_STYLE %q", style)
	}
}

func scheduleFromEnv(env *viper.Viper) (backoff.Schedule, error) {
	if style := env.GetString("back_off"); style != "step" {
		return nil, fmt.Errorf("arangocrud: unknown ARANGO_BACK_OFF %q", style)
	}
	stepSeconds, err := parseFloats(env.GetString("back_off_steps"))
	if err != nil {
		return nil, fmt.Errorf("arangocrud: invalid ARANGO_BACK_OFF_STEPS: %w", err)
	}
	steps := make([]time.Duration, len(stepSeconds))
	for i, s := range stepSeconds {
		steps[i] = secondsToDuration(s)
	}
	return backoff.NewStep(steps)
}

func authFromEnv(env *viper.Viper, timeout time.Duration, logger pslog.Base) (auth.Auth, error) {
	username := env.GetString("auth_username")
	password := env.GetString("auth_password")
	switch style := env.GetString("auth"); style {
	case "basic":
		return auth.NewBasic(username, password), nil
	case "jwt":
		cache, err := jwtCacheFromEnv(env, timeout, logger)
		if err != nil {
			return nil, err
		}
		return auth.NewJWT(username, password, cache, auth.WithLogger(logger)), nil
	default:
		return nil, fmt.Errorf("arangocrud: ARANGO_AUTH must be basic or jwt, got %q", style)
	}
}

func jwtCacheFromEnv(env *viper.Viper, timeout time.Duration, logger pslog.Base) (auth.Cache, error) {
	switch style := env.GetString("auth_cache"); style {
	case "none":
		return nil, nil
	case "disk":
	default:
		return nil, fmt.Errorf("arangocrud: ARANGO_AUTH_CACHE must be disk or none, got %q", style)
	}
	lockTime := timeout + 3*time.Second
	if env.IsSet("auth_cache_lock_time_seconds") {
		lockTime = secondsToDuration(env.GetFloat64("auth_cache_lock_time_seconds"))
	}
	// A lock held for less than the request timeout can be stolen while
	// the holder is still waiting on the token endpoint.
	if lockTime < timeout {
		return nil, fmt.Errorf(
			"arangocrud: ARANGO_AUTH_CACHE_LOCK_TIME_SECONDS (%v) must be at least the request timeout (%v)",
			lockTime, timeout,
		)
	}
	if lockTime < timeout+time.Second {
		logger.Warn("jwt lock time is close to the request timeout, lock stealing may race token minting",
			"lock_time", lockTime.String(), "timeout", timeout.String())
	}
	return auth.NewDiskCache(
		env.GetString("auth_cache_store_file"),
		env.GetString("auth_cache_lock_file"),
		lockTime,
		auth.WithLogger(logger),
	)
}

// loggerFromOpts runs the options against a throwaway Config just to
// learn which logger to emit setup warnings on.
func loggerFromOpts(opts []Option) pslog.Base {
	probe := &Config{logger: pslog.NoopLogger()}
	for _, opt := range opts {
		opt.apply(probe)
	}
	return probe.logger
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseFloats(s string) ([]float64, error) {
	parts := splitNonEmpty(s)
	out := make([]float64, len(parts))
	for i, part := range parts {
		f, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
