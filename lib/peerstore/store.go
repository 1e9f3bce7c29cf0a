// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package peerstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/simplep2p/docstore/lib/address"
	"github.com/simplep2p/docstore/lib/clock"
	"github.com/simplep2p/docstore/lib/identity"
	"github.com/simplep2p/docstore/lib/sqlitepool"
)

const schema = `
CREATE TABLE IF NOT EXISTS peers (
	peer_id          TEXT PRIMARY KEY,
	agent_version    TEXT NOT NULL DEFAULT '',
	protocol_version TEXT NOT NULL DEFAULT '',
	last_seen        INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS peer_addresses (
	peer_id   TEXT NOT NULL REFERENCES peers(peer_id),
	address   TEXT NOT NULL,
	last_seen INTEGER NOT NULL,
	PRIMARY KEY (peer_id, address)
);
CREATE INDEX IF NOT EXISTS peers_last_seen ON peers(last_seen);
`

// Record is what the store knows about one peer.
type Record struct {
	Peer            identity.PeerID
	AgentVersion    string
	ProtocolVersion string
	Addresses       []address.Address
	LastSeen        time.Time
}

// Store persists peer records in SQLite.
type Store struct {
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger
}

// Open opens or creates the store at path.
func Open(path string, clk clock.Clock, logger *slog.Logger) (*Store, error) {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   path,
		Schema: schema,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool, clock: clk, logger: logger}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.pool.Close()
}

// AddAddresses records that peer was seen now, listening on addresses.
// Addresses already stored have their timestamp refreshed.
func (s *Store) AddAddresses(ctx context.Context, peer identity.PeerID, addresses []address.Address) error {
	now := s.clock.Now().UnixMilli()
	return s.pool.With(ctx, func(conn *sqlite.Conn) (err error) {
		defer sqlitex.Save(conn)(&err)
		if err := touchPeer(conn, peer, now); err != nil {
			return err
		}
		for _, addr := range addresses {
			err := sqlitex.Execute(conn, `
				INSERT INTO peer_addresses (peer_id, address, last_seen) VALUES (?, ?, ?)
				ON CONFLICT (peer_id, address) DO UPDATE SET last_seen = excluded.last_seen`,
				&sqlitex.ExecOptions{Args: []any{peer.String(), addr.WithoutPeer().String(), now}})
			if err != nil {
				return fmt.Errorf("storing address for %s: %w", peer, err)
			}
		}
		return nil
	})
}

// SetIdentify records the versions peer reported in identify.
func (s *Store) SetIdentify(ctx context.Context, peer identity.PeerID, agentVersion, protocolVersion string) error {
	now := s.clock.Now().UnixMilli()
	return s.pool.With(ctx, func(conn *sqlite.Conn) (err error) {
		defer sqlitex.Save(conn)(&err)
		if err := touchPeer(conn, peer, now); err != nil {
			return err
		}
		return sqlitex.Execute(conn,
			"UPDATE peers SET agent_version = ?, protocol_version = ? WHERE peer_id = ?",
			&sqlitex.ExecOptions{Args: []any{agentVersion, protocolVersion, peer.String()}})
	})
}

// Get returns the record for peer. The boolean is false when the peer
// is unknown.
func (s *Store) Get(ctx context.Context, peer identity.PeerID) (Record, bool, error) {
	var record Record
	found := false
	err := s.pool.With(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn,
			"SELECT agent_version, protocol_version, last_seen FROM peers WHERE peer_id = ?",
			&sqlitex.ExecOptions{
				Args: []any{peer.String()},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					found = true
					record = Record{
						Peer:            peer,
						AgentVersion:    stmt.ColumnText(0),
						ProtocolVersion: stmt.ColumnText(1),
						LastSeen:        time.UnixMilli(stmt.ColumnInt64(2)),
					}
					return nil
				},
			})
		if err != nil || !found {
			return err
		}
		record.Addresses, err = s.addresses(conn, peer)
		return err
	})
	return record, found, err
}

// Recent returns up to limit records, most recently seen first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	var records []Record
	err := s.pool.With(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `
			SELECT peer_id, agent_version, protocol_version, last_seen
			FROM peers ORDER BY last_seen DESC, peer_id LIMIT ?`,
			&sqlitex.ExecOptions{
				Args: []any{limit},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					peer, err := identity.ParsePeerID(stmt.ColumnText(0))
					if err != nil {
						s.logger.Warn("skipping stored peer with invalid ID", "peer_id", stmt.ColumnText(0), "error", err)
						return nil
					}
					records = append(records, Record{
						Peer:            peer,
						AgentVersion:    stmt.ColumnText(1),
						ProtocolVersion: stmt.ColumnText(2),
						LastSeen:        time.UnixMilli(stmt.ColumnInt64(3)),
					})
					return nil
				},
			})
		if err != nil {
			return err
		}
		for i := range records {
			if records[i].Addresses, err = s.addresses(conn, records[i].Peer); err != nil {
				return err
			}
		}
		return nil
	})
	return records, err
}

// Forget deletes everything stored about peer.
func (s *Store) Forget(ctx context.Context, peer identity.PeerID) error {
	return s.pool.With(ctx, func(conn *sqlite.Conn) (err error) {
		defer sqlitex.Save(conn)(&err)
		for _, statement := range []string{
			"DELETE FROM peer_addresses WHERE peer_id = ?",
			"DELETE FROM peers WHERE peer_id = ?",
		} {
			if err := sqlitex.Execute(conn, statement, &sqlitex.ExecOptions{Args: []any{peer.String()}}); err != nil {
				return err
			}
		}
		return nil
	})
}

// Prune deletes addresses and peers not seen since before cutoff and
// returns how many peers were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	removed := 0
	err := s.pool.With(ctx, func(conn *sqlite.Conn) (err error) {
		defer sqlitex.Save(conn)(&err)
		limit := cutoff.UnixMilli()
		if err := sqlitex.Execute(conn, "DELETE FROM peer_addresses WHERE last_seen < ?",
			&sqlitex.ExecOptions{Args: []any{limit}}); err != nil {
			return err
		}
		if err := sqlitex.Execute(conn, "DELETE FROM peers WHERE last_seen < ?",
			&sqlitex.ExecOptions{Args: []any{limit}}); err != nil {
			return err
		}
		removed = conn.Changes()
		return nil
	})
	return removed, err
}

func touchPeer(conn *sqlite.Conn, peer identity.PeerID, now int64) error {
	err := sqlitex.Execute(conn, `
		INSERT INTO peers (peer_id, last_seen) VALUES (?, ?)
		ON CONFLICT (peer_id) DO UPDATE SET last_seen = excluded.last_seen`,
		&sqlitex.ExecOptions{Args: []any{peer.String(), now}})
	if err != nil {
		return fmt.Errorf("storing peer %s: %w", peer, err)
	}
	return nil
}

func (s *Store) addresses(conn *sqlite.Conn, peer identity.PeerID) ([]address.Address, error) {
	var addresses []address.Address
	err := sqlitex.Execute(conn,
		"SELECT address FROM peer_addresses WHERE peer_id = ? ORDER BY last_seen DESC, address",
		&sqlitex.ExecOptions{
			Args: []any{peer.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				parsed, err := address.Parse(stmt.ColumnText(0))
				if err != nil {
					s.logger.Warn("skipping stored address", "peer", peer, "address", stmt.ColumnText(0), "error", err)
					return nil
				}
				addresses = append(addresses, parsed.WithPeer(peer))
				return nil
			},
		})
	return addresses, err
}
