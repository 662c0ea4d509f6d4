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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatabaseLifecycle(t *testing.T) {
	t.Parallel()
	cfg, _ := newBasicConfig(t)
	ctx := context.Background()
	db := cfg.Database("mydb")

	exists, err := db.CheckIfExists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)

	created, err := db.CreateIfNotExists(ctx)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = db.CreateIfNotExists(ctx)
	require.NoError(t, err)
	assert.False(t, created)

	exists, err = db.CheckIfExists(ctx)
	require.NoError(t, err)
	assert.True(t, exists)

	deleted, err := db.ForceDelete(ctx)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = db.ForceDelete(ctx)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestCollectionLifecycle(t *testing.T) {
	t.Parallel()
	cfg, _ := newBasicConfig(t)
	ctx := context.Background()
	coll := cfg.Database("mydb").Collection("users")

	exists, err := coll.CheckIfExists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)

	created, err := coll.CreateIfNotExists(ctx, TTLNever)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = coll.CreateIfNotExists(ctx, TTLNever)
	require.NoError(t, err)
	assert.False(t, created)

	exists, err = coll.CheckIfExists(ctx)
	require.NoError(t, err)
	assert.True(t, exists)

	deleted, err := coll.ForceDelete(ctx)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = coll.ForceDelete(ctx)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestCollectionCreateWithTTLIndex(t *testing.T) {
	t.Parallel()
	cfg, fake := newBasicConfig(t, WithDefaultTTL(time.Hour))
	ctx := context.Background()

	created, err := cfg.Database("mydb").Collection("sessions").CreateIfNotExists(ctx, TTLDefault)
	require.NoError(t, err)
	assert.True(t, created)

	require.Len(t, fake.indexes, 1)
	index := fake.indexes[0]
	assert.Equal(t, "ttl", index["type"])
	assert.Equal(t, "sessions", index["collection"])
	assert.Equal(t, []any{"expires_at"}, index["fields"])
	assert.Equal(t, float64(0), index["expireAfter"])
}

func TestCollectionCreateWithoutTTLSkipsIndex(t *testing.T) {
	t.Parallel()
	cfg, fake := newBasicConfig(t)
	ctx := context.Background()

	created, err := cfg.Database("mydb").Collection("users").CreateIfNotExists(ctx, TTLDefault)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Empty(t, fake.indexes)
}

func TestDocumentCreateReadSwapDelete(t *testing.T) {
	t.Parallel()
	cfg, _ := newBasicConfig(t)
	ctx := context.Background()
	coll := cfg.Database("mydb").Collection("users")

	doc := coll.Document("alice")
	doc.Body["name"] = "Alice"
	created, err := doc.Create(ctx, TTLNever)
	require.NoError(t, err)
	require.True(t, created)
	require.NotEmpty(t, doc.Etag)

	reader := coll.Document("alice")
	found, err := reader.Read(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, map[string]any{"name": "Alice"}, reader.Body)
	assert.Equal(t, doc.Etag, reader.Etag)

	// Writer updates; the reader's etag goes stale.
	doc.Body["name"] = "Alice Smith"
	swapped, err := doc.CompareAndSwap(ctx, TTLNever)
	require.NoError(t, err)
	require.True(t, swapped)

	reader.Body["name"] = "clobbered"
	swapped, err = reader.CompareAndSwap(ctx, TTLNever)
	require.NoError(t, err)
	assert.False(t, swapped)

	// After catching up, the reader can write again.
	changed, err := reader.ReadIfRemoteNewer(ctx)
	require.NoError(t, err)
	require.True(t, changed)
	assert.Equal(t, "Alice Smith", reader.Body["name"])

	changed, err = reader.ReadIfRemoteNewer(ctx)
	require.NoError(t, err)
	assert.False(t, changed)

	deleted, err := reader.CompareAndDelete(ctx)
	require.NoError(t, err)
	assert.True(t, deleted)

	found, err = coll.Document("alice").Read(ctx)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDocumentCreateConflict(t *testing.T) {
	t.Parallel()
	cfg, _ := newBasicConfig(t)
	ctx := context.Background()
	coll := cfg.Database("mydb").Collection("users")

	first := coll.Document("bob")
	created, err := first.Create(ctx, TTLNever)
	require.NoError(t, err)
	require.True(t, created)

	second := coll.Document("bob")
	created, err = second.Create(ctx, TTLNever)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Empty(t, second.Etag)
}

func TestDocumentEtagPreconditions(t *testing.T) {
	t.Parallel()
	cfg, _ := newBasicConfig(t)
	ctx := context.Background()
	coll := cfg.Database("mydb").Collection("users")

	doc := coll.Document("carol")
	_, err := doc.CompareAndSwap(ctx, TTLNever)
	require.ErrorIs(t, err, ErrEtagRequired)
	_, err = doc.CompareAndDelete(ctx)
	require.ErrorIs(t, err, ErrEtagRequired)
	_, err = doc.ReadIfRemoteNewer(ctx)
	require.ErrorIs(t, err, ErrEtagRequired)

	created, err := doc.Create(ctx, TTLNever)
	require.NoError(t, err)
	require.True(t, created)
	_, err = doc.Create(ctx, TTLNever)
	require.ErrorIs(t, err, ErrEtagSet)
}

func TestDocumentOverwriteIgnoresConcurrentWrites(t *testing.T) {
	t.Parallel()
	cfg, _ := newBasicConfig(t)
	ctx := context.Background()
	coll := cfg.Database("mydb").Collection("users")

	doc := coll.Document("dave")
	require.NoError(t, doc.CreateOrOverwrite(ctx, TTLNever))
	firstEtag := doc.Etag

	other := coll.Document("dave")
	other.Body["note"] = "concurrent"
	require.NoError(t, other.CreateOrOverwrite(ctx, TTLNever))

	doc.Body["note"] = "mine"
	replaced, err := doc.Overwrite(ctx, TTLNever)
	require.NoError(t, err)
	assert.True(t, replaced)
	assert.NotEqual(t, firstEtag, doc.Etag)

	missing := coll.Document("nope")
	replaced, err = missing.Overwrite(ctx, TTLNever)
	require.NoError(t, err)
	assert.False(t, replaced)
}

func TestDocumentExpiryInjection(t *testing.T) {
	t.Parallel()
	cfg, fake := newBasicConfig(t, WithDefaultTTL(time.Hour))
	ctx := context.Background()
	coll := cfg.Database("mydb").Collection("sessions")

	require.NoError(t, coll.CreateOrOverwriteDoc(ctx, "default", map[string]any{"v": 1}, TTLDefault))
	require.NoError(t, coll.CreateOrOverwriteDoc(ctx, "explicit", map[string]any{"v": 2}, TTLOf(2*time.Hour)))
	require.NoError(t, coll.CreateOrOverwriteDoc(ctx, "never", map[string]any{"v": 3}, TTLNever))

	now := float64(time.Now().UnixNano()) / float64(time.Second)
	expiry, hasExpiry := fake.storedBody("mydb", "sessions", "default")["expires_at"].(float64)
	require.True(t, hasExpiry)
	assert.InDelta(t, now+3600, expiry, 60)

	expiry, hasExpiry = fake.storedBody("mydb", "sessions", "explicit")["expires_at"].(float64)
	require.True(t, hasExpiry)
	assert.InDelta(t, now+7200, expiry, 60)

	_, hasExpiry = fake.storedBody("mydb", "sessions", "never")["expires_at"]
	assert.False(t, hasExpiry)
}

func TestDocumentTouchRefreshesExpiry(t *testing.T) {
	t.Parallel()
	cfg, fake := newBasicConfig(t, WithDefaultTTL(time.Hour))
	ctx := context.Background()
	coll := cfg.Database("mydb").Collection("sessions")

	require.NoError(t, coll.CreateOrOverwriteDoc(ctx, "sess", map[string]any{"user": "alice"}, TTLOf(time.Minute)))
	before := fake.storedBody("mydb", "sessions", "sess")["expires_at"].(float64)

	touched, err := coll.TouchDoc(ctx, "sess", TTLOf(time.Hour))
	require.NoError(t, err)
	require.True(t, touched)

	after := fake.storedBody("mydb", "sessions", "sess")["expires_at"].(float64)
	assert.Greater(t, after, before)
	assert.Equal(t, "alice", fake.storedBody("mydb", "sessions", "sess")["user"])

	touched, err = coll.TouchDoc(ctx, "missing", TTLOf(time.Hour))
	require.NoError(t, err)
	assert.False(t, touched)
}

func TestDocumentReadStripsMetaFields(t *testing.T) {
	t.Parallel()
	cfg, _ := newBasicConfig(t)
	ctx := context.Background()
	coll := cfg.Database("mydb").Collection("users")

	require.NoError(t, coll.CreateOrOverwriteDoc(ctx, "erin", map[string]any{"name": "Erin"}, TTLNever))
	body, found, err := coll.ReadDoc(ctx, "erin")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, map[string]any{"name": "Erin"}, body)

	_, found, err = coll.ReadDoc(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDeleteProtections(t *testing.T) {
	t.Parallel()
	cfg, _ := newBasicConfig(t,
		WithDisableDatabaseDelete(),
		WithProtectedCollections("precious"),
	)
	ctx := context.Background()
	db := cfg.Database("mydb")

	_, err := db.ForceDelete(ctx)
	require.ErrorIs(t, err, ErrDeleteProtected)

	_, err = db.Collection("precious").ForceDelete(ctx)
	require.ErrorIs(t, err, ErrDeleteProtected)

	// Unprotected collections still delete (nothing exists, so false).
	deleted, err := db.Collection("scratch").ForceDelete(ctx)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestProtectedDatabases(t *testing.T) {
	t.Parallel()
	cfg, _ := newBasicConfig(t, WithProtectedDatabases("prod"))
	ctx := context.Background()

	_, err := cfg.Database("prod").ForceDelete(ctx)
	require.ErrorIs(t, err, ErrDeleteProtected)

	deleted, err := cfg.Database("staging").ForceDelete(ctx)
	require.NoError(t, err)
	assert.False(t, deleted)
}
