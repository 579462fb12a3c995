// Package correlation lets an out-of-process tool handler learn which
// session and worker issued a call.
//
// The host's pre-call hook publishes the caller context under a
// fingerprint of (tool name, parameters). The tool server computes the
// same fingerprint from the call it receives and looks the context up.
// A record is found while now - created_at <= TTL; a TTL of zero finds
// nothing. Two identical calls inside one TTL window collide and the last
// write wins.
package correlation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"submon/pkg/logging"
	"submon/pkg/protocol"
	"submon/pkg/store"
)

// Defaults.
const (
	DefaultTTL        = 5 * time.Second
	DefaultPurgeAfter = time.Minute
	previewLimit      = 200
)

// Options configures a Service. Zero durations take defaults; use a
// negative TTL for "expire immediately".
type Options struct {
	TTL        time.Duration
	PurgeAfter time.Duration
	Now        func() time.Time
	Logger     *slog.Logger
}

// Service is the correlation store over the shared SQLite database.
type Service struct {
	db         *sql.DB
	ownsDB     bool
	ttl        time.Duration
	purgeAfter time.Duration
	now        func() time.Time
	log        *slog.Logger

	lookupStmt  *sql.Stmt
	publishStmt *sql.Stmt
}

// Open opens the database at path on a single connection and returns a
// Service that owns it.
func Open(ctx context.Context, path string, opts Options) (*Service, error) {
	db, err := store.Open(ctx, path, store.Options{MaxOpenConns: 1})
	if err != nil {
		return nil, err
	}
	s, err := New(ctx, db, opts)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

// New returns a Service over an open database with the schema applied.
func New(ctx context.Context, db *sql.DB, opts Options) (*Service, error) {
	s := &Service{
		db:         db,
		ttl:        opts.TTL,
		purgeAfter: opts.PurgeAfter,
		now:        opts.Now,
		log:        logging.OrDiscard(opts.Logger),
	}
	switch {
	case s.ttl == 0:
		s.ttl = DefaultTTL
	case s.ttl < 0:
		s.ttl = 0
	}
	if s.purgeAfter <= 0 {
		s.purgeAfter = DefaultPurgeAfter
	}
	if s.now == nil {
		s.now = time.Now
	}

	var err error
	s.lookupStmt, err = db.PrepareContext(ctx,
		`SELECT tool_name, session_id, agent_type, agent_confidence, project_path, param_preview, created_at
		 FROM correlations WHERE fingerprint = ?`)
	if err != nil {
		return nil, &protocol.StoreUnavailableError{Op: "prepare lookup", Err: err}
	}
	s.publishStmt, err = db.PrepareContext(ctx,
		`INSERT INTO correlations
		 (fingerprint, tool_name, session_id, agent_type, agent_confidence, project_path, param_preview, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(fingerprint) DO UPDATE SET
		   tool_name = excluded.tool_name,
		   session_id = excluded.session_id,
		   agent_type = excluded.agent_type,
		   agent_confidence = excluded.agent_confidence,
		   project_path = excluded.project_path,
		   param_preview = excluded.param_preview,
		   created_at = excluded.created_at`)
	if err != nil {
		_ = s.lookupStmt.Close()
		return nil, &protocol.StoreUnavailableError{Op: "prepare publish", Err: err}
	}
	return s, nil
}

// Close releases prepared statements and, for Services from Open, the
// database.
func (s *Service) Close() error {
	err := errors.Join(s.lookupStmt.Close(), s.publishStmt.Close())
	if s.ownsDB {
		err = errors.Join(err, s.db.Close())
	}
	return err
}

// TTL returns the effective record lifetime.
func (s *Service) TTL() time.Duration { return s.ttl }

// SetTTL changes the record lifetime. Zero (or less) expires every record
// at once.
func (s *Service) SetTTL(d time.Duration) {
	if d < 0 {
		d = 0
	}
	s.ttl = d
}

// Publish stores cc under fp, replacing any earlier record, and purges
// records older than the purge horizon.
func (s *Service) Publish(ctx context.Context, fp string, cc protocol.CallerContext) error {
	return s.publish(ctx, protocol.CorrelationRecord{Fingerprint: fp, Context: cc})
}

// PublishCall fingerprints (toolName, params) and publishes cc under it.
// It returns the fingerprint.
func (s *Service) PublishCall(ctx context.Context, toolName string, params any, cc protocol.CallerContext) (string, error) {
	canonical, err := Canonical(params)
	if err != nil {
		return "", err
	}
	fp, err := Fingerprint(toolName, params)
	if err != nil {
		return "", err
	}
	preview := canonical
	if len(preview) > previewLimit {
		preview = preview[:previewLimit]
	}
	return fp, s.publish(ctx, protocol.CorrelationRecord{
		Fingerprint:  fp,
		ToolName:     NormalizeToolName(toolName),
		ParamPreview: preview,
		Context:      cc,
	})
}

func (s *Service) publish(ctx context.Context, rec protocol.CorrelationRecord) error {
	now := s.now()
	cc := rec.Context
	_, err := s.publishStmt.ExecContext(ctx,
		rec.Fingerprint, rec.ToolName, cc.SessionID, cc.AgentType, cc.AgentConfidence, cc.ProjectPath,
		rec.ParamPreview, now.UnixNano())
	if err != nil {
		return fmt.Errorf("publish correlation: %w", err)
	}

	if n, err := s.purgeBefore(ctx, now.Add(-s.purgeAfter)); err != nil {
		s.log.Warn("opportunistic purge failed", "err", err)
	} else if n > 0 {
		s.log.Debug("purged correlations", "count", n)
	}
	return nil
}

// Lookup returns the context published under fp if it is no older than
// the TTL. Expired or missing records report found=false.
func (s *Service) Lookup(ctx context.Context, fp string) (protocol.CallerContext, bool, error) {
	rec, ok, err := s.record(ctx, fp)
	if err != nil || !ok {
		return protocol.CallerContext{}, false, err
	}
	return rec.Context, true, nil
}

// LookupCall fingerprints (toolName, params) and looks it up.
func (s *Service) LookupCall(ctx context.Context, toolName string, params any) (protocol.CallerContext, bool, error) {
	fp, err := Fingerprint(toolName, params)
	if err != nil {
		return protocol.CallerContext{}, false, err
	}
	return s.Lookup(ctx, fp)
}

func (s *Service) record(ctx context.Context, fp string) (protocol.CorrelationRecord, bool, error) {
	rec := protocol.CorrelationRecord{Fingerprint: fp}
	var created int64
	err := s.lookupStmt.QueryRowContext(ctx, fp).Scan(
		&rec.ToolName, &rec.Context.SessionID, &rec.Context.AgentType, &rec.Context.AgentConfidence,
		&rec.Context.ProjectPath, &rec.ParamPreview, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, false, nil
	}
	if err != nil {
		return rec, false, fmt.Errorf("lookup correlation: %w", err)
	}
	rec.CreatedAt = time.Unix(0, created)
	if !s.live(rec.CreatedAt, s.now()) {
		return rec, false, nil
	}
	return rec, true, nil
}

// live reports whether a record created at created is still visible.
func (s *Service) live(created, now time.Time) bool {
	return s.ttl > 0 && now.Sub(created) <= s.ttl
}

// liveCutoff is the oldest created_at still visible; with a zero TTL it
// lies in the future so that nothing qualifies.
func (s *Service) liveCutoff(now time.Time) time.Time {
	if s.ttl <= 0 {
		return now.Add(time.Nanosecond)
	}
	return now.Add(-s.ttl)
}

// Purge deletes records older than the purge horizon and returns how
// many were removed.
func (s *Service) Purge(ctx context.Context) (int64, error) {
	return s.purgeBefore(ctx, s.now().Add(-s.purgeAfter))
}

// PurgeExpired deletes every record past its TTL.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	return s.purgeBefore(ctx, s.liveCutoff(s.now()))
}

func (s *Service) purgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM correlations WHERE created_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("purge correlations: %w", err)
	}
	return res.RowsAffected()
}

// Stats summarizes the correlations table.
type Stats struct {
	Total          int           `json:"total"`
	Live           int           `json:"live"`
	UniqueSessions int           `json:"unique_sessions"`
	UniqueAgents   int           `json:"unique_agents"`
	OldestAge      time.Duration `json:"oldest_age"`
	NewestAge      time.Duration `json:"newest_age"`
}

// Stats reports table totals. Ages are zero for an empty table.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	now := s.now()
	var st Stats
	var oldest, newest sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*),
		COALESCE(SUM(CASE WHEN created_at >= ? THEN 1 ELSE 0 END), 0),
		COUNT(DISTINCT session_id), COUNT(DISTINCT agent_type),
		MIN(created_at), MAX(created_at) FROM correlations`,
		s.liveCutoff(now).UnixNano(),
	).Scan(&st.Total, &st.Live, &st.UniqueSessions, &st.UniqueAgents, &oldest, &newest)
	if err != nil {
		return st, fmt.Errorf("correlation stats: %w", err)
	}
	if oldest.Valid {
		st.OldestAge = now.Sub(time.Unix(0, oldest.Int64))
	}
	if newest.Valid {
		st.NewestAge = now.Sub(time.Unix(0, newest.Int64))
	}
	return st, nil
}

// Recent returns the newest records, expired or not, for debugging.
func (s *Service) Recent(ctx context.Context, limit int) ([]protocol.CorrelationRecord, error) {
	query := `SELECT fingerprint, tool_name, session_id, agent_type, agent_confidence, project_path, param_preview, created_at
		FROM correlations ORDER BY created_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("recent correlations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []protocol.CorrelationRecord
	for rows.Next() {
		var r protocol.CorrelationRecord
		var created int64
		if err := rows.Scan(&r.Fingerprint, &r.ToolName, &r.Context.SessionID, &r.Context.AgentType,
			&r.Context.AgentConfidence, &r.Context.ProjectPath, &r.ParamPreview, &created); err != nil {
			return nil, fmt.Errorf("scan correlation: %w", err)
		}
		r.CreatedAt = time.Unix(0, created)
		out = append(out, r)
	}
	return out, rows.Err()
}
