// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens SQLite databases for node-local state, such
// as the peer address book, behind a small fixed-size connection pool.
//
// Connections come from zombiezen.com/go/sqlite (pure Go, via
// modernc.org/sqlite) and are prepared with WAL journaling, NORMAL
// synchronous mode and a busy timeout, then with the caller's schema.
// A connection is not safe for concurrent use; use [Pool.With] or pair
// [Pool.Take] with [Pool.Put].
package sqlitepool
