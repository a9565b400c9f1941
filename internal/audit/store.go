// Package audit implements a diagnostics-only log of mint events, never
// consulted when answering a request — token caching remains purely
// in-memory per the session manager's own caches.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const createMintEventsTable = `
CREATE TABLE IF NOT EXISTS mint_events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	identifier TEXT NOT NULL,
	cache_hit  INTEGER NOT NULL,
	error      TEXT,
	created_at DATETIME NOT NULL
)`

// Store records mint events to a local SQLite database. It implements
// session.AuditSink.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite database at path and ensures
// the mint_events table exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec(createMintEventsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create mint_events table: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordMintEvent inserts one row per generate() call.
func (s *Store) RecordMintEvent(ctx context.Context, identifier string, cacheHit bool, mintErr error) error {
	var errText sql.NullString
	if mintErr != nil {
		errText = sql.NullString{String: mintErr.Error(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO mint_events (identifier, cache_hit, error, created_at) VALUES (?, ?, ?, ?)`,
		identifier, cacheHit, errText, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert mint event: %w", err)
	}
	return nil
}

// Count returns the total number of recorded mint events, for tests and
// diagnostics.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM mint_events").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count mint events: %w", err)
	}
	return n, nil
}
