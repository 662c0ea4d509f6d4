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
	"errors"
	"fmt"

	"github.com/Tjstretchalot/arango-crud/transport"
)

var (
	// ErrEtagRequired is returned by operations that compare against the
	// remote document version when the local document has no etag yet;
	// call Read first.
	ErrEtagRequired = errors.New("arangocrud: operation requires a document etag; call Read first")

	// ErrEtagSet is returned by Create when the local document already
	// has an etag, meaning it exists remotely and cannot be created.
	ErrEtagSet = errors.New("arangocrud: document already has an etag; Create requires a fresh document")

	// ErrDeleteProtected is returned by ForceDelete when deletion is
	// disabled or the name is protected in the Config.
	ErrDeleteProtected = errors.New("arangocrud: refusing to delete protected target")
)

// StatusError reports a response status this client does not know how to
// map for the attempted operation, such as a 403 on a document read.
type StatusError struct {
	// Operation names the high-level operation, e.g. "read document".
	Operation string
	// StatusCode is the HTTP status the coordinator returned.
	StatusCode int
	// Body is the raw response body, often an ArangoDB error document.
	Body []byte
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 256 {
		body = body[:256]
	}
	return fmt.Sprintf("arangocrud: %s: unexpected status %d: %s", e.Operation, e.StatusCode, body)
}

func newStatusError(operation string, resp *transport.Response) error {
	return &StatusError{
		Operation:  operation,
		StatusCode: resp.StatusCode,
		Body:       resp.Body,
	}
}
