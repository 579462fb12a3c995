// Package history stores WorkerStats rows and answers the status queries
// run by operators.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"submon/pkg/protocol"
)

// Store reads and appends worker_stats rows.
type Store struct {
	db *sql.DB
}

// New wraps an open database. The schema must already be applied.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Insert appends one row and returns its id. DetectedAt defaults to now.
func (s *Store) Insert(ctx context.Context, st protocol.WorkerStats) (int64, error) {
	if st.DetectedAt.IsZero() {
		st.DetectedAt = time.Now()
	}
	paths := st.TouchedPaths
	if paths == nil {
		paths = []string{}
	}
	pathsJSON, err := json.Marshal(paths)
	if err != nil {
		return 0, fmt.Errorf("encode touched paths: %w", err)
	}
	tools := st.Tools
	if tools == nil {
		tools = []protocol.ToolUsage{}
	}
	toolsJSON, err := json.Marshal(tools)
	if err != nil {
		return 0, fmt.Errorf("encode tools: %w", err)
	}
	messages := st.Messages
	if messages == nil {
		messages = map[string]protocol.MessageStats{}
	}
	messagesJSON, err := json.Marshal(messages)
	if err != nil {
		return 0, fmt.Errorf("encode message stats: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `INSERT INTO worker_stats (
		session_id, invocation_id, worker_type, confidence, detection_reason, low_confidence,
		runtime_seconds, turn_count, event_count,
		files_created, files_modified, files_read, files_deleted,
		touched_paths, docs_touched, anomalies,
		status, tools, message_stats, estimated_tokens, detected_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.SessionID, st.InvocationID, protocol.NormalizeWorker(st.WorkerType), st.Confidence, st.DetectionReason,
		boolInt(st.LowConfidence), st.RuntimeSeconds, st.TurnCount, st.EventCount,
		st.FilesCreated, st.FilesModified, st.FilesRead, st.FilesDeleted,
		string(pathsJSON), boolInt(st.DocsTouched), st.Anomalies,
		st.Status, string(toolsJSON), string(messagesJSON), st.EstimatedTokens, st.DetectedAt.UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert worker stats: %w", err)
	}
	return res.LastInsertId()
}

// QueryOpts filters Recent.
type QueryOpts struct {
	SessionID  string
	WorkerType string
	Since      *time.Time
	// Limit restricts the number of results (0 = no limit)
	Limit int
}

const selectColumns = `SELECT id, session_id, invocation_id, worker_type, confidence, detection_reason,
	low_confidence, runtime_seconds, turn_count, event_count,
	files_created, files_modified, files_read, files_deleted,
	touched_paths, docs_touched, anomalies,
	status, tools, message_stats, estimated_tokens, detected_at FROM worker_stats`

// Recent returns matching rows, newest first.
func (s *Store) Recent(ctx context.Context, opts QueryOpts) ([]protocol.WorkerStats, error) {
	where, args := buildWhere(opts)
	query := selectColumns + where + " ORDER BY detected_at DESC, id DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query worker stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []protocol.WorkerStats
	for rows.Next() {
		var (
			st            protocol.WorkerStats
			low, docs     int
			pathsJSON     string
			toolsJSON     string
			messagesJSON  string
			detectedNanos int64
		)
		if err := rows.Scan(&st.ID, &st.SessionID, &st.InvocationID, &st.WorkerType, &st.Confidence, &st.DetectionReason,
			&low, &st.RuntimeSeconds, &st.TurnCount, &st.EventCount,
			&st.FilesCreated, &st.FilesModified, &st.FilesRead, &st.FilesDeleted,
			&pathsJSON, &docs, &st.Anomalies,
			&st.Status, &toolsJSON, &messagesJSON, &st.EstimatedTokens, &detectedNanos); err != nil {
			return nil, fmt.Errorf("scan worker stats: %w", err)
		}
		st.LowConfidence = low != 0
		st.DocsTouched = docs != 0
		st.DetectedAt = time.Unix(0, detectedNanos)
		if err := json.Unmarshal([]byte(pathsJSON), &st.TouchedPaths); err != nil {
			return nil, fmt.Errorf("decode touched paths of row %d: %w", st.ID, err)
		}
		if err := json.Unmarshal([]byte(toolsJSON), &st.Tools); err != nil {
			return nil, fmt.Errorf("decode tools of row %d: %w", st.ID, err)
		}
		if err := json.Unmarshal([]byte(messagesJSON), &st.Messages); err != nil {
			return nil, fmt.Errorf("decode message stats of row %d: %w", st.ID, err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate worker stats: %w", err)
	}
	return out, nil
}

// WorkerSummary aggregates the history of one worker type.
type WorkerSummary struct {
	WorkerType     string    `json:"worker_type"`
	Runs           int       `json:"runs"`
	AvgRuntime     float64   `json:"avg_runtime_seconds"`
	TotalTurns     int       `json:"total_turns"`
	FilesCreated   int       `json:"files_created"`
	FilesModified  int       `json:"files_modified"`
	FilesRead      int       `json:"files_read"`
	FilesDeleted   int       `json:"files_deleted"`
	DocsRuns       int       `json:"docs_runs"`
	LowConfidence  int       `json:"low_confidence_runs"`
	AvgConfidence  float64   `json:"avg_confidence"`
	TotalTokens    int       `json:"total_estimated_tokens"`
	LastDetectedAt time.Time `json:"last_detected_at"`
}

// Summary aggregates matching rows per worker type, most runs first.
// Limit is ignored.
func (s *Store) Summary(ctx context.Context, opts QueryOpts) ([]WorkerSummary, error) {
	where, args := buildWhere(opts)
	query := `SELECT worker_type, COUNT(*), AVG(runtime_seconds), SUM(turn_count),
		SUM(files_created), SUM(files_modified), SUM(files_read), SUM(files_deleted),
		SUM(docs_touched), SUM(low_confidence), AVG(confidence), SUM(estimated_tokens), MAX(detected_at)
		FROM worker_stats` + where + ` GROUP BY worker_type ORDER BY COUNT(*) DESC, worker_type`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("summarize worker stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []WorkerSummary
	for rows.Next() {
		var ws WorkerSummary
		var last int64
		if err := rows.Scan(&ws.WorkerType, &ws.Runs, &ws.AvgRuntime, &ws.TotalTurns,
			&ws.FilesCreated, &ws.FilesModified, &ws.FilesRead, &ws.FilesDeleted,
			&ws.DocsRuns, &ws.LowConfidence, &ws.AvgConfidence, &ws.TotalTokens, &last); err != nil {
			return nil, fmt.Errorf("scan worker summary: %w", err)
		}
		ws.LastDetectedAt = time.Unix(0, last)
		out = append(out, ws)
	}
	return out, rows.Err()
}

// ToolTotal aggregates one tool's calls across matching runs.
type ToolTotal struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Calls    int    `json:"calls"`
	Runs     int    `json:"runs"`
}

// ToolUsage totals tool calls across matching rows, most calls first.
// Limit caps the number of tools returned.
func (s *Store) ToolUsage(ctx context.Context, opts QueryOpts) ([]ToolTotal, error) {
	where, args := buildWhere(opts)
	query := `SELECT json_extract(t.value, '$.name'), json_extract(t.value, '$.category'),
		SUM(json_extract(t.value, '$.count')), COUNT(DISTINCT worker_stats.id)
		FROM worker_stats, json_each(worker_stats.tools) AS t` + where + `
		GROUP BY 1, 2 ORDER BY 3 DESC, 1`
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tool usage: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []ToolTotal
	for rows.Next() {
		var tt ToolTotal
		if err := rows.Scan(&tt.Name, &tt.Category, &tt.Calls, &tt.Runs); err != nil {
			return nil, fmt.Errorf("scan tool usage: %w", err)
		}
		out = append(out, tt)
	}
	return out, rows.Err()
}

// PurgeBefore deletes rows detected before cutoff and returns how many
// were removed.
func (s *Store) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM worker_stats WHERE detected_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("purge worker stats: %w", err)
	}
	return res.RowsAffected()
}

// buildWhere constructs the WHERE clause and arguments from QueryOpts.
func buildWhere(opts QueryOpts) (string, []any) {
	var conditions []string
	var args []any

	if opts.SessionID != "" {
		conditions = append(conditions, "session_id = ?")
		args = append(args, opts.SessionID)
	}
	if opts.WorkerType != "" {
		conditions = append(conditions, "worker_type = ?")
		args = append(args, protocol.NormalizeWorker(opts.WorkerType))
	}
	if opts.Since != nil {
		conditions = append(conditions, "detected_at >= ?")
		args = append(args, opts.Since.UnixNano())
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
