// Package eventlog provides read-only access to the hook_events audit table.
// It backs `submon events` and the dashboard's activity pane.
package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"submon/pkg/store"
)

// Event is one recorded hook lifecycle action.
type Event struct {
	ID           int64
	Type         string
	SessionID    string
	InvocationID string
	WorkerType   string
	Payload      string
	CreatedAt    time.Time
}

// QueryOpts specifies filter criteria for querying events.
type QueryOpts struct {
	// SessionID filters events to a host session.
	SessionID string

	// WorkerType filters events to a worker type (e.g., "reviewer", "unknown").
	WorkerType string

	// EventType filters to a specific event type (e.g., "invocation_start").
	EventType string

	// After filters events created after this time (inclusive)
	After *time.Time

	// Before filters events created before this time (inclusive)
	Before *time.Time

	// Limit restricts the number of results (0 = no limit)
	Limit int
}

// Reader provides read-only access to the audit log.
type Reader struct {
	db *sql.DB
}

// NewReader opens the submon database read-only.
// Returns an error if the database doesn't exist or cannot be opened.
func NewReader(ctx context.Context, dbPath string) (*Reader, error) {
	db, err := store.OpenReadOnly(ctx, dbPath)
	if err != nil {
		return nil, err
	}
	return &Reader{db: db}, nil
}

// Close releases the database connection.
// Safe to call multiple times.
func (r *Reader) Close() error {
	if r.db != nil {
		err := r.db.Close()
		r.db = nil
		return err
	}
	return nil
}

// Query retrieves events matching opts, newest first.
// Returns an empty slice if no events match.
func (r *Reader) Query(ctx context.Context, opts QueryOpts) ([]Event, error) {
	query, args := buildQuery(opts)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query hook events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []Event
	for rows.Next() {
		var e Event
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Type, &e.SessionID, &e.InvocationID, &e.WorkerType, &e.Payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scan hook event: %w", err)
		}
		if e.CreatedAt, err = parseTimestamp(createdAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hook events: %w", err)
	}
	return events, nil
}

// CountByType returns how many events of each type are recorded.
func (r *Reader) CountByType(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT type, COUNT(*) FROM hook_events GROUP BY type`)
	if err != nil {
		return nil, fmt.Errorf("count hook events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int)
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, fmt.Errorf("scan hook event count: %w", err)
		}
		counts[typ] = n
	}
	return counts, rows.Err()
}

// sqliteTime is the format of datetime('now').
const sqliteTime = "2006-01-02 15:04:05"

func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(sqliteTime, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse created_at: %w", err)
		}
	}
	return t, nil
}

// buildQuery constructs the SQL query and arguments from QueryOpts.
func buildQuery(opts QueryOpts) (string, []any) {
	var conditions []string
	var args []any

	query := "SELECT id, type, session_id, invocation_id, worker_type, payload, created_at FROM hook_events WHERE 1=1"

	if opts.SessionID != "" {
		conditions = append(conditions, "session_id = ?")
		args = append(args, opts.SessionID)
	}
	if opts.WorkerType != "" {
		conditions = append(conditions, "worker_type = ?")
		args = append(args, opts.WorkerType)
	}
	if opts.EventType != "" {
		conditions = append(conditions, "type = ?")
		args = append(args, opts.EventType)
	}
	if opts.After != nil {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, opts.After.UTC().Format(sqliteTime))
	}
	if opts.Before != nil {
		conditions = append(conditions, "created_at <= ?")
		args = append(args, opts.Before.UTC().Format(sqliteTime))
	}

	if len(conditions) > 0 {
		query += " AND " + strings.Join(conditions, " AND ")
	}

	// Newest first
	query += " ORDER BY id DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}

	return query, args
}
