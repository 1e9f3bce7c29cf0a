// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// DefaultPoolSize is used when Config.PoolSize is not positive. Node
// state is small and write-light.
const DefaultPoolSize = 4

// connectionPragmas run on every new connection before the schema.
var connectionPragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA temp_store=MEMORY",
}

// Config describes a database to open.
type Config struct {
	// Path is the database file. Its directory must exist.
	Path string

	PoolSize int

	// Schema is executed as a script on every new connection, so it
	// must be idempotent (CREATE ... IF NOT EXISTS).
	Schema string

	Logger *slog.Logger
}

// Pool is a fixed set of prepared connections. It is safe for
// concurrent use.
type Pool struct {
	inner  *sqlitex.Pool
	path   string
	logger *slog.Logger
}

// Open creates the pool. Connections are opened lazily.
func Open(config Config) (*Pool, error) {
	if config.Path == "" {
		return nil, errors.New("sqlitepool: database path is required")
	}
	if config.PoolSize <= 0 {
		config.PoolSize = DefaultPoolSize
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	inner, err := sqlitex.NewPool(config.Path, sqlitex.PoolOptions{
		PoolSize: config.PoolSize,
		PrepareConn: func(conn *sqlite.Conn) error {
			return prepare(conn, config.Schema)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: opening %s: %w", config.Path, err)
	}
	logger.Debug("sqlite database opened", "path", config.Path, "pool_size", config.PoolSize)
	return &Pool{inner: inner, path: config.Path, logger: logger}, nil
}

// Take borrows a connection, waiting until one is free or ctx ends.
// Return it with Put.
func (p *Pool) Take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := p.inner.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: %s: %w", p.path, err)
	}
	return conn, nil
}

// Put returns a borrowed connection. A nil conn is ignored.
func (p *Pool) Put(conn *sqlite.Conn) {
	if conn != nil {
		p.inner.Put(conn)
	}
}

// With runs fn on a borrowed connection.
func (p *Pool) With(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	conn, err := p.Take(ctx)
	if err != nil {
		return err
	}
	defer p.Put(conn)
	return fn(conn)
}

// Close waits for borrowed connections to come back and closes them
// all.
func (p *Pool) Close() error {
	if err := p.inner.Close(); err != nil {
		return fmt.Errorf("sqlitepool: closing %s: %w", p.path, err)
	}
	p.logger.Debug("sqlite database closed", "path", p.path)
	return nil
}

func prepare(conn *sqlite.Conn, schema string) error {
	for _, pragma := range connectionPragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlitepool: %s: %w", pragma, err)
		}
	}
	if schema == "" {
		return nil
	}
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("sqlitepool: applying schema: %w", err)
	}
	return nil
}
