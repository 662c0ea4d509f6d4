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
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Tjstretchalot/arango-crud/auth"
	"github.com/Tjstretchalot/arango-crud/backoff"
	"github.com/Tjstretchalot/arango-crud/cluster"
	"github.com/stretchr/testify/require"
)

// fakeArango is an in-memory stand-in for a coordinator, covering the
// endpoints this library speaks.
type fakeArango struct {
	authHeader string

	mu          sync.Mutex
	databases   map[string]bool
	collections map[string]bool
	docs        map[string]*storedDoc
	indexes     []map[string]any
	mints       int
	nextRev     int
}

type storedDoc struct {
	body map[string]any
	etag string
}

func newFakeArango(authHeader string) *fakeArango {
	return &fakeArango{
		authHeader:  authHeader,
		databases:   map[string]bool{},
		collections: map[string]bool{},
		docs:        map[string]*storedDoc{},
	}
}

func (f *fakeArango) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /_open/auth", f.handleMint)
	mux.HandleFunc("POST /_api/database", f.authed(f.handleCreateDatabase))
	mux.HandleFunc("DELETE /_api/database/{db}", f.authed(f.handleDeleteDatabase))
	mux.HandleFunc("GET /_db/{db}/_api/database/current", f.authed(f.handleCurrentDatabase))
	mux.HandleFunc("POST /_db/{db}/_api/collection", f.authed(f.handleCreateCollection))
	mux.HandleFunc("GET /_db/{db}/_api/collection/{coll}", f.authed(f.handleGetCollection))
	mux.HandleFunc("DELETE /_db/{db}/_api/collection/{coll}", f.authed(f.handleDeleteCollection))
	mux.HandleFunc("POST /_db/{db}/_api/index", f.authed(f.handleCreateIndex))
	mux.HandleFunc("POST /_db/{db}/_api/document/{coll}", f.authed(f.handleCreateDocument))
	mux.HandleFunc("GET /_db/{db}/_api/document/{coll}/{key}", f.authed(f.handleReadDocument))
	mux.HandleFunc("PUT /_db/{db}/_api/document/{coll}/{key}", f.authed(f.handleReplaceDocument))
	mux.HandleFunc("DELETE /_db/{db}/_api/document/{coll}/{key}", f.authed(f.handleDeleteDocument))
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func (f *fakeArango) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != f.authHeader {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (f *fakeArango) handleMint(w http.ResponseWriter, r *http.Request) {
	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil || creds.Username == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.mints++
	f.mu.Unlock()
	_, _ = fmt.Fprintf(w, `{"jwt":"minted-for-%s"}`, creds.Username)
}

func (f *fakeArango) handleCreateDatabase(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.databases[body.Name] {
		w.WriteHeader(http.StatusConflict)
		return
	}
	f.databases[body.Name] = true
	w.WriteHeader(http.StatusCreated)
}

func (f *fakeArango) handleDeleteDatabase(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := r.PathValue("db")
	if !f.databases[name] {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	delete(f.databases, name)
	w.WriteHeader(http.StatusOK)
}

func (f *fakeArango) handleCurrentDatabase(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.databases[r.PathValue("db")] {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (f *fakeArango) handleCreateCollection(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := r.PathValue("db") + "/" + body.Name
	if f.collections[key] {
		w.WriteHeader(http.StatusConflict)
		return
	}
	f.collections[key] = true
	w.WriteHeader(http.StatusOK)
}

func (f *fakeArango) handleGetCollection(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.collections[r.PathValue("db")+"/"+r.PathValue("coll")] {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (f *fakeArango) handleDeleteCollection(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := r.PathValue("db") + "/" + r.PathValue("coll")
	if !f.collections[key] {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	delete(f.collections, key)
	w.WriteHeader(http.StatusOK)
}

func (f *fakeArango) handleCreateIndex(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	body["collection"] = r.URL.Query().Get("collection")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexes = append(f.indexes, body)
	w.WriteHeader(http.StatusCreated)
}

func (f *fakeArango) docKey(r *http.Request, key string) string {
	return r.PathValue("db") + "/" + r.PathValue("coll") + "/" + key
}

func (f *fakeArango) newEtag() string {
	f.nextRev++
	return fmt.Sprintf(`"rev-%d"`, f.nextRev)
}

func (f *fakeArango) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	key, _ := body["_key"].(string)
	if key == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.docKey(r, key)
	if _, exists := f.docs[id]; exists && r.URL.Query().Get("overwrite") != "true" {
		w.WriteHeader(http.StatusConflict)
		return
	}
	etag := f.newEtag()
	f.docs[id] = &storedDoc{body: body, etag: etag}
	w.Header().Set("Etag", etag)
	w.WriteHeader(http.StatusCreated)
}

func (f *fakeArango) handleReadDocument(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, exists := f.docs[f.docKey(r, r.PathValue("key"))]
	if !exists {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Header.Get("If-None-Match") == doc.etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Etag", doc.etag)
	_ = json.NewEncoder(w).Encode(doc.body)
}

func (f *fakeArango) handleReplaceDocument(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.docKey(r, r.PathValue("key"))
	doc, exists := f.docs[id]
	if !exists {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if match := r.Header.Get("If-Match"); match != "" && match != doc.etag {
		w.WriteHeader(http.StatusPreconditionFailed)
		return
	}
	etag := f.newEtag()
	f.docs[id] = &storedDoc{body: body, etag: etag}
	w.Header().Set("Etag", etag)
	w.WriteHeader(http.StatusCreated)
}

func (f *fakeArango) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.docKey(r, r.PathValue("key"))
	doc, exists := f.docs[id]
	if !exists {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if match := r.Header.Get("If-Match"); match != "" && match != doc.etag {
		w.WriteHeader(http.StatusPreconditionFailed)
		return
	}
	delete(f.docs, id)
	w.WriteHeader(http.StatusOK)
}

func (f *fakeArango) storedBody(db, coll, key string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, exists := f.docs[db+"/"+coll+"/"+key]
	if !exists {
		return nil
	}
	return doc.body
}

const testBasicHeader = "Basic cm9vdDpodW50ZXIy" // base64("root:hunter2")

// newBasicConfig spins up a fake coordinator with basic auth and returns
// a Config pointed at it.
func newBasicConfig(t *testing.T, opts ...Option) (*Config, *fakeArango) {
	t.Helper()
	fake := newFakeArango(testBasicHeader)
	server := fake.server(t)
	selector, err := cluster.NewRandom([]string{server.URL})
	require.NoError(t, err)
	schedule, err := backoff.NewStep([]time.Duration{0, 0})
	require.NoError(t, err)
	cfg, err := New(selector, schedule, auth.NewBasic("root", "hunter2"), opts...)
	require.NoError(t, err)
	return cfg, fake
}
