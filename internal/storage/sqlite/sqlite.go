package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pixelforge/remedy/internal/types"
)

const reportPrefix = "rpt"

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// New creates a new SQLite storage backend
func New(path string) (*SQLiteStorage, error) {
	// Ensure directory exists
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	// Open database with WAL mode for better concurrency
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=ON")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Initialize schema
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// CreateReport creates a new report and records its creation note event.
// The report's group_id must reference an existing dedup group.
func (s *SQLiteStorage) CreateReport(ctx context.Context, report *types.BugReport, actor string) error {
	if report.GroupID == "" {
		return fmt.Errorf("group_id is required")
	}
	if err := report.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	now := time.Now()
	report.CreatedAt = now
	report.UpdatedAt = now

	// Acquire a dedicated connection for the transaction.
	// Raw "BEGIN IMMEDIATE"/"COMMIT" must run on the same connection, and
	// database/sql's pool would otherwise hand queries to different ones.
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Close()

	// IMMEDIATE acquires the write lock up front, serializing ID generation
	// across concurrent writers. database/sql's BeginTx can't request a
	// transaction mode, so we issue the statement ourselves.
	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return fmt.Errorf("failed to begin immediate transaction: %w", err)
	}

	// Use context.Background() for ROLLBACK so cleanup happens even if ctx is canceled
	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	// Generate ID if not set (inside the transaction to prevent races)
	if report.ID == "" {
		var nextID int
		err = conn.QueryRowContext(ctx, `
			INSERT INTO report_counters (prefix, last_id)
			VALUES (?, 1)
			ON CONFLICT(prefix) DO UPDATE SET last_id = last_id + 1
			RETURNING last_id
		`, reportPrefix).Scan(&nextID)
		if err != nil {
			return fmt.Errorf("failed to generate next report ID: %w", err)
		}
		report.ID = fmt.Sprintf("%s-%d", reportPrefix, nextID)
	}

	_, err = conn.ExecContext(ctx, `
		INSERT INTO reports (
			id, correlation_id, title, description, error_message, stack_trace,
			route, environment, screenshot_ref, severity, status, group_id,
			attempt_count, fix_ref, verification, agent_session_log,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		report.ID, report.CorrelationID, report.Title, report.Description,
		report.ErrorMessage, report.StackTrace, report.Route, report.Environment,
		report.ScreenshotRef, report.Severity, report.Status, report.GroupID,
		report.AttemptCount, report.FixRef, report.Verification,
		report.AgentSessionLog, report.CreatedAt, report.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert report: %w", err)
	}

	// Record creation note event
	detail, _ := json.Marshal(map[string]interface{}{
		"action":   "created",
		"severity": report.Severity,
		"group_id": report.GroupID,
	})
	_, err = conn.ExecContext(ctx, `
		INSERT INTO report_events (report_id, event_type, actor, new_value, detail)
		VALUES (?, ?, ?, ?, ?)
	`, report.ID, types.EventNote, actor, string(report.Status), string(detail))
	if err != nil {
		return fmt.Errorf("failed to record creation event: %w", err)
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true

	return nil
}

// reportColumns is the SELECT list shared by GetReport and ListReports
const reportColumns = `
	id, correlation_id, title, description, error_message, stack_trace,
	route, environment, screenshot_ref, severity, status, group_id,
	attempt_count, fix_ref, verification, agent_session_log,
	created_at, updated_at, triaged_at, started_at, resolved_at, closed_at
`

// scanReport scans one reports row. Works for both *sql.Row and *sql.Rows.
func scanReport(row interface{ Scan(...interface{}) error }) (*types.BugReport, error) {
	var r types.BugReport
	var triagedAt, startedAt, resolvedAt, closedAt sql.NullTime

	err := row.Scan(
		&r.ID, &r.CorrelationID, &r.Title, &r.Description, &r.ErrorMessage,
		&r.StackTrace, &r.Route, &r.Environment, &r.ScreenshotRef,
		&r.Severity, &r.Status, &r.GroupID, &r.AttemptCount, &r.FixRef,
		&r.Verification, &r.AgentSessionLog, &r.CreatedAt, &r.UpdatedAt,
		&triagedAt, &startedAt, &resolvedAt, &closedAt,
	)
	if err != nil {
		return nil, err
	}

	if triagedAt.Valid {
		r.TriagedAt = &triagedAt.Time
	}
	if startedAt.Valid {
		r.StartedAt = &startedAt.Time
	}
	if resolvedAt.Valid {
		r.ResolvedAt = &resolvedAt.Time
	}
	if closedAt.Valid {
		r.ClosedAt = &closedAt.Time
	}

	return &r, nil
}

// GetReport retrieves a report by ID. Returns (nil, nil) if not found.
func (s *SQLiteStorage) GetReport(ctx context.Context, id string) (*types.BugReport, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM reports WHERE id = ?", reportColumns), id)

	report, err := scanReport(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report: %w", err)
	}
	return report, nil
}

// ListReports finds reports matching the filter, newest first
func (s *SQLiteStorage) ListReports(ctx context.Context, filter types.ReportFilter) ([]*types.BugReport, error) {
	whereClauses := []string{}
	args := []interface{}{}

	if filter.Status != nil {
		whereClauses = append(whereClauses, "status = ?")
		args = append(args, *filter.Status)
	}
	if filter.Severity != nil {
		whereClauses = append(whereClauses, "severity = ?")
		args = append(args, *filter.Severity)
	}
	if filter.GroupID != nil {
		whereClauses = append(whereClauses, "group_id = ?")
		args = append(args, *filter.GroupID)
	}

	whereSQL := ""
	if len(whereClauses) > 0 {
		whereSQL = "WHERE " + strings.Join(whereClauses, " AND ")
	}

	limitSQL := ""
	if filter.Limit > 0 {
		limitSQL = fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			limitSQL += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	querySQL := fmt.Sprintf(`
		SELECT %s FROM reports
		%s
		ORDER BY created_at DESC, id DESC
		%s
	`, reportColumns, whereSQL, limitSQL)

	rows, err := s.db.QueryContext(ctx, querySQL, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	defer rows.Close()

	var reports []*types.BugReport
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reports: %w", err)
	}

	return reports, nil
}

// GetStatistics returns aggregate report and dedup metrics
func (s *SQLiteStorage) GetStatistics(ctx context.Context) (*types.Statistics, error) {
	stats := &types.Statistics{}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM reports GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to query report counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan report count: %w", err)
		}
		stats.TotalReports += count
		switch types.Status(status) {
		case types.StatusNew:
			stats.NewReports = count
		case types.StatusTriaged:
			stats.TriagedReports = count
		case types.StatusInProgress:
			stats.InProgressReports = count
		case types.StatusAwaitingVerification:
			stats.AwaitingReview = count
		case types.StatusResolved:
			stats.ResolvedReports = count
		case types.StatusClosed:
			stats.ClosedReports = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating report counts: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(occurrence_count), 0) FROM dedup_groups
	`).Scan(&stats.DedupGroups, &stats.TotalOccurrences)
	if err != nil {
		return nil, fmt.Errorf("failed to query dedup stats: %w", err)
	}

	return stats, nil
}

// GetConfig gets a configuration value from the config table
func (s *SQLiteStorage) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetConfig sets a configuration value in the config table
func (s *SQLiteStorage) SetConfig(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
