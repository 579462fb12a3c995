package protocol

// SchemaDDL defines the SQLite schema shared by every submon process.
// Tables: worker_stats (append-only history), correlations (TTL keyed store),
// hook_events (hook audit log). Execute with: db.Exec(SchemaDDL)
const SchemaDDL = `
-- Append-only history of delegated worker executions
CREATE TABLE IF NOT EXISTS worker_stats (
    id INTEGER PRIMARY KEY,
    session_id TEXT NOT NULL,
    invocation_id TEXT NOT NULL DEFAULT '',
    worker_type TEXT NOT NULL,
    confidence REAL NOT NULL DEFAULT 0,
    detection_reason TEXT NOT NULL DEFAULT '',
    low_confidence INTEGER NOT NULL DEFAULT 0,
    runtime_seconds REAL NOT NULL DEFAULT 0,
    turn_count INTEGER NOT NULL DEFAULT 0,
    event_count INTEGER NOT NULL DEFAULT 0,
    files_created INTEGER NOT NULL DEFAULT 0,
    files_modified INTEGER NOT NULL DEFAULT 0,
    files_read INTEGER NOT NULL DEFAULT 0,
    files_deleted INTEGER NOT NULL DEFAULT 0,
    touched_paths TEXT NOT NULL DEFAULT '[]',
    docs_touched INTEGER NOT NULL DEFAULT 0,
    anomalies INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT '',
    tools TEXT NOT NULL DEFAULT '[]',
    message_stats TEXT NOT NULL DEFAULT '{}',
    estimated_tokens INTEGER NOT NULL DEFAULT 0,
    detected_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_worker_stats_session ON worker_stats(session_id);
CREATE INDEX IF NOT EXISTS idx_worker_stats_type ON worker_stats(worker_type);
CREATE INDEX IF NOT EXISTS idx_worker_stats_detected ON worker_stats(detected_at);

-- Fingerprint -> caller context, last write wins, expired lazily by TTL
CREATE TABLE IF NOT EXISTS correlations (
    fingerprint TEXT PRIMARY KEY,
    tool_name TEXT NOT NULL DEFAULT '',
    session_id TEXT NOT NULL,
    agent_type TEXT NOT NULL DEFAULT '',
    agent_confidence REAL NOT NULL DEFAULT 0,
    project_path TEXT NOT NULL DEFAULT '',
    param_preview TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_correlations_created ON correlations(created_at);

-- Hook lifecycle audit log
CREATE TABLE IF NOT EXISTS hook_events (
    id INTEGER PRIMARY KEY,
    type TEXT NOT NULL,
    session_id TEXT NOT NULL DEFAULT '',
    invocation_id TEXT NOT NULL DEFAULT '',
    worker_type TEXT NOT NULL DEFAULT '',
    payload TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);
`

// MigrateWorkerUsage adds the usage columns to worker_stats tables created
// before they existed. Each statement fails harmlessly once its column is
// present, so run them one at a time and ignore errors.
var MigrateWorkerUsage = []string{
	`ALTER TABLE worker_stats ADD COLUMN status TEXT NOT NULL DEFAULT ''`,
	`ALTER TABLE worker_stats ADD COLUMN tools TEXT NOT NULL DEFAULT '[]'`,
	`ALTER TABLE worker_stats ADD COLUMN message_stats TEXT NOT NULL DEFAULT '{}'`,
	`ALTER TABLE worker_stats ADD COLUMN estimated_tokens INTEGER NOT NULL DEFAULT 0`,
}
