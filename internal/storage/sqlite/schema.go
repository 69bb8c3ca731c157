package sqlite

const schema = `
-- Dedup groups table
CREATE TABLE IF NOT EXISTS dedup_groups (
    id TEXT PRIMARY KEY,
    content_hash TEXT NOT NULL UNIQUE,
    first_seen_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    last_seen_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    occurrence_count INTEGER NOT NULL DEFAULT 1 CHECK(occurrence_count >= 1)
);

CREATE INDEX IF NOT EXISTS idx_dedup_groups_hash ON dedup_groups(content_hash);

-- Reports table (mutable current-state projection)
CREATE TABLE IF NOT EXISTS reports (
    id TEXT PRIMARY KEY,
    correlation_id TEXT NOT NULL DEFAULT '',
    title TEXT NOT NULL CHECK(length(title) <= 500),
    description TEXT NOT NULL DEFAULT '',
    error_message TEXT NOT NULL DEFAULT '',
    stack_trace TEXT NOT NULL DEFAULT '',
    route TEXT NOT NULL DEFAULT '',
    environment TEXT NOT NULL DEFAULT '',
    screenshot_ref TEXT NOT NULL DEFAULT '',
    severity TEXT NOT NULL DEFAULT 'medium' CHECK(severity IN ('critical', 'high', 'medium', 'low')),
    status TEXT NOT NULL DEFAULT 'new' CHECK(status IN ('new', 'triaged', 'in_progress', 'awaiting_verification', 'resolved', 'closed')),
    group_id TEXT NOT NULL,
    attempt_count INTEGER NOT NULL DEFAULT 0 CHECK(attempt_count >= 0),
    fix_ref TEXT NOT NULL DEFAULT '',
    verification TEXT NOT NULL DEFAULT 'pending' CHECK(verification IN ('pending', 'passed', 'failed')),
    agent_session_log TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    triaged_at DATETIME,
    started_at DATETIME,
    resolved_at DATETIME,
    closed_at DATETIME,
    FOREIGN KEY (group_id) REFERENCES dedup_groups(id)
);

CREATE INDEX IF NOT EXISTS idx_reports_status ON reports(status);
CREATE INDEX IF NOT EXISTS idx_reports_severity ON reports(severity);
CREATE INDEX IF NOT EXISTS idx_reports_group ON reports(group_id);
CREATE INDEX IF NOT EXISTS idx_reports_created_at ON reports(created_at);

-- Atomic report ID counter
CREATE TABLE IF NOT EXISTS report_counters (
    prefix TEXT PRIMARY KEY,
    last_id INTEGER NOT NULL DEFAULT 0
);

-- Report events table (append-only audit trail)
CREATE TABLE IF NOT EXISTS report_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    report_id TEXT NOT NULL,
    event_type TEXT NOT NULL CHECK(event_type IN ('status_change', 'remediation_attempt', 'note')),
    actor TEXT NOT NULL,
    old_value TEXT,
    new_value TEXT,
    detail TEXT NOT NULL DEFAULT '{}',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (report_id) REFERENCES reports(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_report_events_report ON report_events(report_id);
CREATE INDEX IF NOT EXISTS idx_report_events_type ON report_events(event_type);
CREATE INDEX IF NOT EXISTS idx_report_events_created_at ON report_events(created_at);

-- Worker instances table
-- Tracks running remediation workers for operator visibility
CREATE TABLE IF NOT EXISTS worker_instances (
    instance_id TEXT PRIMARY KEY,
    hostname TEXT NOT NULL,
    pid INTEGER NOT NULL,
    status TEXT NOT NULL DEFAULT 'running' CHECK(status IN ('running', 'stopped')),
    started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    last_heartbeat DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    version TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_worker_instances_status ON worker_instances(status);

-- Key/value config table
CREATE TABLE IF NOT EXISTS config (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`
