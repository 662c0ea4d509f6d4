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
	"fmt"
	"net/http"
	"net/url"
	"slices"

	"github.com/Tjstretchalot/arango-crud/transport"
)

// Collection is a handle to one collection, which acts as a namespace for
// documents within a database. Most of the time it is used to create
// [Document] handles, but it also offers convenience methods for plain
// read/write/delete flows that don't need etags.
type Collection struct {
	database *Database
	name     string
}

// Name returns the collection name.
func (c *Collection) Name() string {
	return c.name
}

// Document returns a handle to the document with the given key within
// this collection. This performs no networking.
func (c *Collection) Document(key string) *Document {
	return &Document{
		collection: c,
		Key:        key,
		Body:       map[string]any{},
	}
}

// CreateIfNotExists creates this collection remotely if it does not
// exist. When it is created and the given TTL resolves to an expiry, a
// TTL index on "expires_at" is created along with it, so documents
// written with an expiry get cleaned up by the server. TTL indexes are
// not modified after creation; changing a collection between expiring and
// non-expiring requires manual intervention.
//
// It returns true if the collection was created, false if it already
// existed (in which case neither the collection nor its indexes are
// touched).
func (c *Collection) CreateIfNotExists(ctx context.Context, ttl TTL) (bool, error) {
	resp, err := c.database.config.executor.Do(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   c.database.pathPrefix() + "/_api/collection",
		Body:   map[string]any{"name": c.name},
	})
	if err != nil {
		return false, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusConflict:
		return false, nil
	default:
		return false, newStatusError("create collection", resp)
	}
	if ttl.resolve(c.database.config) == nil {
		return true, nil
	}
	query := url.Values{}
	query.Set("collection", c.name)
	resp, err = c.database.config.executor.Do(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   c.database.pathPrefix() + "/_api/index",
		Query:  query,
		Body: map[string]any{
			"type":        "ttl",
			"fields":      []string{expiresAtField},
			"expireAfter": 0,
		},
	})
	if err != nil {
		return false, err
	}
	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		return true, nil
	default:
		return false, newStatusError("create ttl index", resp)
	}
}

// CheckIfExists reports whether this collection exists remotely.
func (c *Collection) CheckIfExists(ctx context.Context) (bool, error) {
	resp, err := c.database.config.executor.Do(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   c.path(),
	})
	if err != nil {
		return false, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, newStatusError("check collection", resp)
	}
}

// ForceDelete deletes this collection and every document in it if it
// exists remotely. It returns true if the collection existed and was
// deleted. The Config's delete protections are honored.
func (c *Collection) ForceDelete(ctx context.Context) (bool, error) {
	if c.database.config.disableCollectionDelete {
		return false, fmt.Errorf("%w: collection deletes are disabled", ErrDeleteProtected)
	}
	if slices.Contains(c.database.config.protectedCollections, c.name) {
		return false, fmt.Errorf("%w: collection %q is protected", ErrDeleteProtected, c.name)
	}
	resp, err := c.database.config.executor.Do(ctx, transport.Request{
		Method: http.MethodDelete,
		Path:   c.path(),
	})
	if err != nil {
		return false, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, newStatusError("delete collection", resp)
	}
}

// CreateOrOverwriteDoc ensures the document at the given key has the
// given body and TTL, regardless of its previous state.
func (c *Collection) CreateOrOverwriteDoc(ctx context.Context, key string, body map[string]any, ttl TTL) error {
	doc := c.Document(key)
	doc.Body = body
	return doc.CreateOrOverwrite(ctx, ttl)
}

// ReadDoc fetches the body of the document at the given key. The second
// return value is false when the document does not exist.
func (c *Collection) ReadDoc(ctx context.Context, key string) (map[string]any, bool, error) {
	doc := c.Document(key)
	found, err := doc.Read(ctx)
	if err != nil || !found {
		return nil, false, err
	}
	return doc.Body, true, nil
}

// TouchDoc refreshes the TTL on the document at the given key, leaving
// the body as it was when read. This is not concurrency-safe with respect
// to writers: it will never reset a document to an old version, but may
// fail to do anything at all, returning false. It SHOULD only be used
// with a consistent TTL.
func (c *Collection) TouchDoc(ctx context.Context, key string, ttl TTL) (bool, error) {
	doc := c.Document(key)
	found, err := doc.Read(ctx)
	if err != nil || !found {
		return false, err
	}
	return doc.CompareAndSwap(ctx, ttl)
}

// ForceDeleteDoc deletes the document at the given key if it exists,
// returning true when it existed and was deleted.
func (c *Collection) ForceDeleteDoc(ctx context.Context, key string) (bool, error) {
	return c.Document(key).ForceDelete(ctx)
}

// path is the collection endpoint path.
func (c *Collection) path() string {
	return c.database.pathPrefix() + "/_api/collection/" + url.PathEscape(c.name)
}

// docsPath is the document-creation endpoint path for this collection.
func (c *Collection) docsPath() string {
	return c.database.pathPrefix() + "/_api/document/" + url.PathEscape(c.name)
}
