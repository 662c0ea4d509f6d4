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

// Package arangocrud is a client for using an ArangoDB cluster as a
// key/value store with optional expiry: create/read/overwrite/delete on
// JSON documents, compare-and-swap through etags, and time-to-live
// indexes, over ArangoDB's REST API.
//
// To create a client, build a [Config] with [New], or from ARANGO_*
// environment variables with [FromEnv]:
//
//	selector, err := cluster.NewRandom([]string{"http://127.0.0.1:8529"})
//	// handle err
//	schedule, err := backoff.NewStep([]time.Duration{
//	    100 * time.Millisecond, 500 * time.Millisecond, time.Second,
//	})
//	// handle err
//	cfg, err := arangocrud.New(selector, schedule,
//	    auth.NewBasic("root", "password"))
//	// handle err
//
//	db := cfg.Database("mydb")
//	coll := db.Collection("users")
//	doc := coll.Document("alice")
//	doc.Body["name"] = "Alice"
//	created, err := doc.Create(ctx, arangocrud.TTLDefault)
//
// Requests are distributed across the configured coordinators and retried
// on connection errors and 5xx responses per the backoff schedule, failing
// over to a different coordinator on each attempt. See the transport
// package for the orchestration details, the cluster package for
// coordinator selection, and the auth package for Basic and JWT
// authentication, including the disk-backed JWT cache that lets many
// processes share one token.
//
// # Concurrency
//
// A Config carrying stateful authentication (JWT) is bound to the first
// goroutine that uses it and must not be shared: give each goroutine its
// own independent copy via [Config.Clone]. Sharing is detected and
// reported as an auth.AffinityError rather than silently corrupting
// token state. Configs using Basic authentication have no such state and
// may be shared freely.
package arangocrud
