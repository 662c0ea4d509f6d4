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
	"net/http"
	"net/url"
	"time"

	"github.com/Tjstretchalot/arango-crud/transport"
)

// expiresAtField is the document field holding the expiry timestamp, in
// fractional seconds since the Unix epoch. The TTL index created by
// Collection.CreateIfNotExists expires documents by this field.
const expiresAtField = "expires_at"

// Document is a handle to one document: a JSON object with
// create/read/overwrite/delete semantics and optional expiry.
//
// Body is the document body as far as this handle knows, which may lag
// the remote version; it never includes meta fields like _key. Etag is
// the remote revision last observed by a successful operation; the
// compare-and-* operations use it to detect concurrent modification.
// Etag should not be modified directly.
type Document struct {
	collection *Collection

	// Key looks this document up within its collection. Should not be
	// modified after initialization.
	Key string
	// Body is the local document body. May be modified freely between
	// operations.
	Body map[string]any
	// Etag is the last remote revision observed, or empty when the
	// document has not been read from or written to the remote.
	Etag string
}

// Read fetches the current remote value. When the document exists, Body
// and Etag are overwritten and Read returns true. When it does not, Body
// is reset to an empty map, Etag is cleared, and Read returns false.
func (d *Document) Read(ctx context.Context) (bool, error) {
	resp, err := d.executor().Do(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   d.path(),
	})
	if err != nil {
		return false, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return true, d.loadResponse(resp)
	case http.StatusNotFound:
		d.resetLocal()
		return false, nil
	default:
		return false, newStatusError("read document", resp)
	}
}

// ReadIfRemoteNewer fetches the remote value only if its revision differs
// from the local Etag, using a conditional request. It returns true when
// a different version was found and loaded, false when the remote version
// matches or the document does not exist. It requires an Etag.
func (d *Document) ReadIfRemoteNewer(ctx context.Context) (bool, error) {
	if d.Etag == "" {
		return false, ErrEtagRequired
	}
	headers := http.Header{}
	headers.Set("If-None-Match", d.Etag)
	resp, err := d.executor().Do(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   d.path(),
		Header: headers,
	})
	if err != nil {
		return false, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return true, d.loadResponse(resp)
	case http.StatusNotModified:
		return false, nil
	case http.StatusNotFound:
		d.resetLocal()
		return false, nil
	default:
		return false, newStatusError("read document", resp)
	}
}

// Create creates the document remotely with the local Body and the given
// TTL if it does not exist, returning true. When the document already
// exists remotely, nothing happens and Create returns false. It requires
// a handle without an Etag.
func (d *Document) Create(ctx context.Context, ttl TTL) (bool, error) {
	if d.Etag != "" {
		return false, ErrEtagSet
	}
	resp, err := d.executor().Do(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   d.collection.docsPath(),
		Body:   d.payload(ttl),
	})
	if err != nil {
		return false, err
	}
	switch resp.StatusCode {
	case http.StatusCreated, http.StatusAccepted:
		d.Etag = resp.Header.Get("Etag")
		return true, nil
	case http.StatusConflict:
		return false, nil
	default:
		return false, newStatusError("create document", resp)
	}
}

// CompareAndSwap replaces the remote document with the local Body and
// refreshes the TTL, but only when the remote revision still matches the
// local Etag. It returns false when the document was concurrently
// modified or deleted. It requires an Etag.
func (d *Document) CompareAndSwap(ctx context.Context, ttl TTL) (bool, error) {
	if d.Etag == "" {
		return false, ErrEtagRequired
	}
	headers := http.Header{}
	headers.Set("If-Match", d.Etag)
	return d.replace(ctx, ttl, headers, "compare-and-swap document")
}

// Overwrite replaces the remote document with the local Body and
// refreshes the TTL regardless of the remote revision, returning true.
// When the document does not exist remotely, nothing happens and
// Overwrite returns false.
func (d *Document) Overwrite(ctx context.Context, ttl TTL) (bool, error) {
	return d.replace(ctx, ttl, nil, "overwrite document")
}

// CreateOrOverwrite makes the remote document reflect the local Body and
// the given TTL, creating it when missing and replacing it otherwise.
func (d *Document) CreateOrOverwrite(ctx context.Context, ttl TTL) error {
	query := url.Values{}
	query.Set("overwrite", "true")
	resp, err := d.executor().Do(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   d.collection.docsPath(),
		Query:  query,
		Body:   d.payload(ttl),
	})
	if err != nil {
		return err
	}
	switch resp.StatusCode {
	case http.StatusCreated, http.StatusAccepted:
		d.Etag = resp.Header.Get("Etag")
		return nil
	default:
		return newStatusError("create-or-overwrite document", resp)
	}
}

// CompareAndDelete deletes the remote document when its revision still
// matches the local Etag, returning true. It returns false when the
// document was concurrently modified or no longer exists. It requires an
// Etag.
func (d *Document) CompareAndDelete(ctx context.Context) (bool, error) {
	if d.Etag == "" {
		return false, ErrEtagRequired
	}
	headers := http.Header{}
	headers.Set("If-Match", d.Etag)
	return d.delete(ctx, headers, "compare-and-delete document")
}

// ForceDelete deletes the remote document without checking its version,
// returning true when it existed and was deleted.
func (d *Document) ForceDelete(ctx context.Context) (bool, error) {
	return d.delete(ctx, nil, "delete document")
}

func (d *Document) replace(ctx context.Context, ttl TTL, headers http.Header, operation string) (bool, error) {
	resp, err := d.executor().Do(ctx, transport.Request{
		Method: http.MethodPut,
		Path:   d.path(),
		Header: headers,
		Body:   d.payload(ttl),
	})
	if err != nil {
		return false, err
	}
	switch resp.StatusCode {
	case http.StatusCreated, http.StatusAccepted:
		d.Etag = resp.Header.Get("Etag")
		return true, nil
	case http.StatusPreconditionFailed, http.StatusNotFound:
		return false, nil
	default:
		return false, newStatusError(operation, resp)
	}
}

func (d *Document) delete(ctx context.Context, headers http.Header, operation string) (bool, error) {
	resp, err := d.executor().Do(ctx, transport.Request{
		Method: http.MethodDelete,
		Path:   d.path(),
		Header: headers,
	})
	if err != nil {
		return false, err
	}
	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted:
		d.Etag = ""
		return true, nil
	case http.StatusPreconditionFailed, http.StatusNotFound:
		return false, nil
	default:
		return false, newStatusError(operation, resp)
	}
}

// payload builds the wire form of the local document: the body plus the
// _key meta field and, when the TTL resolves to an expiry, the expiry
// timestamp.
func (d *Document) payload(ttl TTL) map[string]any {
	payload := make(map[string]any, len(d.Body)+2)
	for key, value := range d.Body {
		payload[key] = value
	}
	payload["_key"] = d.Key
	if expiry := ttl.resolve(d.collection.database.config); expiry != nil {
		expiresAt := time.Now().Add(*expiry)
		payload[expiresAtField] = float64(expiresAt.UnixNano()) / float64(time.Second)
	}
	return payload
}

// loadResponse replaces the local state with a fetched document.
func (d *Document) loadResponse(resp *transport.Response) error {
	var body map[string]any
	if err := resp.DecodeJSON(&body); err != nil {
		return err
	}
	delete(body, "_key")
	delete(body, "_id")
	delete(body, "_rev")
	d.Body = body
	d.Etag = resp.Header.Get("Etag")
	return nil
}

func (d *Document) resetLocal() {
	d.Body = map[string]any{}
	d.Etag = ""
}

func (d *Document) path() string {
	return d.collection.docsPath() + "/" + url.PathEscape(d.Key)
}

func (d *Document) executor() *transport.Executor {
	return d.collection.database.config.executor
}
