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

import "pkt.systems/pslog"

// Option customizes the behavior of the constructors in this package.
type Option interface {
	apply(*options)
}

type optionFunc func(*options)

func (f optionFunc) apply(o *options) {
	f(o)
}

type options struct {
	logger pslog.Base
}

func newOptions(opts []Option) options {
	resolved := options{logger: pslog.NoopLogger()}
	for _, opt := range opts {
		opt.apply(&resolved)
	}
	return resolved
}

// WithLogger sets the structured logger used for warnings about cache
// corruption, lost locks, and tokens that could not be obtained or
// persisted. Passing nil falls back to pslog.NoopLogger().
func WithLogger(logger pslog.Base) Option {
	return optionFunc(func(o *options) {
		if logger == nil {
			logger = pslog.NoopLogger()
		}
		o.logger = logger
	})
}
