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

// Database is a handle to one database, which acts as a collection of
// collections. Handles perform no networking until an operation is
// called and are cheap to create.
type Database struct {
	config *Config
	name   string
}

// Name returns the database name.
func (d *Database) Name() string {
	return d.name
}

// Collection returns a handle to the collection with the given name
// within this database. This performs no networking.
func (d *Database) Collection(name string) *Collection {
	return &Collection{database: d, name: name}
}

// CreateIfNotExists creates this database remotely if it does not exist.
// It returns true if the database was created, false if it already
// existed.
func (d *Database) CreateIfNotExists(ctx context.Context) (bool, error) {
	resp, err := d.config.executor.Do(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   "/_api/database",
		Body:   map[string]any{"name": d.name},
	})
	if err != nil {
		return false, err
	}
	switch resp.StatusCode {
	case http.StatusCreated:
		return true, nil
	case http.StatusConflict:
		return false, nil
	default:
		return false, newStatusError("create database", resp)
	}
}

// CheckIfExists reports whether this database exists remotely.
func (d *Database) CheckIfExists(ctx context.Context) (bool, error) {
	resp, err := d.config.executor.Do(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   d.pathPrefix() + "/_api/database/current",
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
		return false, newStatusError("check database", resp)
	}
}

// ForceDelete deletes this database and everything in it if it exists
// remotely. It returns true if the database existed and was deleted. The
// Config's delete protections are honored.
func (d *Database) ForceDelete(ctx context.Context) (bool, error) {
	if d.config.disableDatabaseDelete {
		return false, fmt.Errorf("%w: database deletes are disabled", ErrDeleteProtected)
	}
	if slices.Contains(d.config.protectedDatabases, d.name) {
		return false, fmt.Errorf("%w: database %q is protected", ErrDeleteProtected, d.name)
	}
	resp, err := d.config.executor.Do(ctx, transport.Request{
		Method: http.MethodDelete,
		Path:   "/_api/database/" + url.PathEscape(d.name),
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
		return false, newStatusError("delete database", resp)
	}
}

// pathPrefix scopes an endpoint path to this database.
func (d *Database) pathPrefix() string {
	return "/_db/" + url.PathEscape(d.name)
}
