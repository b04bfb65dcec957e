// Package localstore provides a small SQLite-backed durable store for
// process-local bookkeeping that must survive a restart without depending
// on the record store: the Bootstrap Loader's completion marker and an
// optional journal of Pending Waits the Event Bridge was still tracking at
// shutdown. Grounded on the teacher's pure-Go SQLite backend
// (internal/memory/backend/sqlitevec), re-pointed at a two-table schema
// instead of vector storage.
package localstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// MarkerStore persists the Bootstrap Loader's one-time completion marker
// in a SQLite database instead of a bare file, so it survives alongside
// whatever other local state a deployment already keeps in the same
// database (spec §4.H).
type MarkerStore struct {
	db *sql.DB
}

// Open creates (if needed) the local SQLite database at path and its
// schema. path may be ":memory:" for tests.
func Open(path string) (*MarkerStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("localstore: open %s: %w", path, err)
	}

	s := &MarkerStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *MarkerStore) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS bootstrap_runs (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			completed_at TIMESTAMP NOT NULL
		);
		CREATE TABLE IF NOT EXISTS pending_waits (
			request_tag TEXT PRIMARY KEY,
			schema_name TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("localstore: init schema: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *MarkerStore) Close() error {
	return s.db.Close()
}

// AlreadyBootstrapped reports whether a prior Run completed successfully.
func (s *MarkerStore) AlreadyBootstrapped(ctx context.Context) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bootstrap_runs WHERE id = 1`).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("localstore: check bootstrap marker: %w", err)
	}
	return count > 0, nil
}

// MarkBootstrapped records a completed Run, replacing any prior marker.
func (s *MarkerStore) MarkBootstrapped(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bootstrap_runs (id, completed_at) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET completed_at = excluded.completed_at`,
		time.Now().UTC())
	if err != nil {
		return fmt.Errorf("localstore: write bootstrap marker: %w", err)
	}
	return nil
}

// RecordPendingWait journals an in-flight tool.request.v1/response.v1 wait
// so a crash between request and response can be recovered on restart
// instead of hanging forever (spec §4.C Pending Waits durability note).
func (s *MarkerStore) RecordPendingWait(ctx context.Context, requestTag, schemaName string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO pending_waits (request_tag, schema_name, created_at) VALUES (?, ?, ?)`,
		requestTag, schemaName, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("localstore: record pending wait: %w", err)
	}
	return nil
}

// ClearPendingWait removes a journaled wait once it resolves.
func (s *MarkerStore) ClearPendingWait(ctx context.Context, requestTag string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM pending_waits WHERE request_tag = ?`, requestTag)
	if err != nil {
		return fmt.Errorf("localstore: clear pending wait: %w", err)
	}
	return nil
}

// PendingWaits lists every journaled wait still outstanding, e.g. to log a
// warning on startup about waits that never resolved before a crash.
func (s *MarkerStore) PendingWaits(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT request_tag FROM pending_waits`)
	if err != nil {
		return nil, fmt.Errorf("localstore: list pending waits: %w", err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("localstore: scan pending wait: %w", err)
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}
