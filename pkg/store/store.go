// Package store opens the shared submon SQLite database.
//
// Every hook firing and CLI query is its own process, so the database is
// opened per process in WAL mode with a bounded busy timeout. Failures are
// reported as *protocol.StoreUnavailableError so callers can degrade to
// "no data" with errors.Is(err, protocol.ErrStoreUnavailable).
package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"submon/pkg/protocol"

	_ "modernc.org/sqlite" // SQLite driver
)

// DefaultBusyTimeout bounds how long a writer waits on a locked database.
// Hooks must finish well under a second.
const DefaultBusyTimeout = 500 * time.Millisecond

// Options tunes Open.
type Options struct {
	BusyTimeout time.Duration
	// MaxOpenConns caps the pool. Hook processes use 1 so prepared
	// statements stay on a single connection.
	MaxOpenConns int
}

// Open opens (creating if needed) the database at path, applies the
// schema and returns the handle. The schema is CREATE ... IF NOT EXISTS,
// so concurrent first-time opens are safe.
func Open(ctx context.Context, path string, opts Options) (*sql.DB, error) {
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = DefaultBusyTimeout
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, unavailable("create data dir", path, err)
	}

	db, err := sql.Open("sqlite", dsn(path, opts.BusyTimeout, false))
	if err != nil {
		return nil, unavailable("open sqlite", path, err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, unavailable("ping sqlite", path, err)
	}

	if _, err := db.ExecContext(ctx, protocol.SchemaDDL); err != nil {
		_ = db.Close()
		return nil, unavailable("apply schema", path, err)
	}
	migrate(ctx, db)

	return db, nil
}

// OpenReadOnly opens an existing database without creating it or touching
// the schema. Used by query commands and the dashboard.
func OpenReadOnly(ctx context.Context, path string) (*sql.DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, unavailable("stat sqlite", path, err)
	}

	db, err := sql.Open("sqlite", dsn(path, DefaultBusyTimeout, true))
	if err != nil {
		return nil, unavailable("open sqlite", path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, unavailable("ping sqlite", path, err)
	}
	return db, nil
}

// migrate brings tables from older releases up to the current schema.
// ALTER TABLE errors once a column exists; those errors are expected.
func migrate(ctx context.Context, db *sql.DB) {
	for _, stmt := range protocol.MigrateWorkerUsage {
		_, _ = db.ExecContext(ctx, stmt)
	}
}

// LogEvent appends a row to the hook_events audit table.
func LogEvent(ctx context.Context, db *sql.DB, ev protocol.HookEvent) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO hook_events (type, session_id, invocation_id, worker_type, payload) VALUES (?, ?, ?, ?, ?)`,
		ev.Type, ev.SessionID, ev.InvocationID, ev.WorkerType, ev.Payload)
	if err != nil {
		return fmt.Errorf("log hook event: %w", err)
	}
	return nil
}

// dsn builds a modernc.org/sqlite DSN. Pragmas go in the DSN rather than
// through Exec so that every pooled connection gets them.
func dsn(path string, busy time.Duration, readOnly bool) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	if readOnly {
		q.Set("mode", "ro")
	} else {
		q.Add("_pragma", "journal_mode(WAL)")
	}
	return "file:" + path + "?" + q.Encode()
}

func unavailable(op, path string, err error) error {
	return &protocol.StoreUnavailableError{Op: op, Path: path, Err: err}
}
