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
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

//nolint:gochecknoglobals
var defaultDialer = &net.Dialer{
	Timeout:   30 * time.Second,
	KeepAlive: 30 * time.Second,
}

// NewH2CRoundTripper returns a RoundTripper that forces HTTP/2 over
// clear-text (no TLS), aka H2C. ArangoDB coordinators speak HTTP/2, and on
// trusted networks running without TLS this multiplexes all traffic to a
// coordinator over one connection. Pass the result to an http.Client and
// wire it in with [WithHTTPClient].
func NewH2CRoundTripper() http.RoundTripper {
	return &http2.Transport{
		AllowHTTP: true,
		DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
			// h2c is plain-text only, so ignore the TLS config and dial
			// a regular TCP connection.
			return defaultDialer.DialContext(ctx, network, addr)
		},
	}
}
