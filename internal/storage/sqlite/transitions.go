package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pixelforge/remedy/internal/types"
)

// ErrReportNotFound is returned when a report ID does not exist
var ErrReportNotFound = errors.New("report not found")

// ErrStaleStatus is returned when a compare-and-swap transition loses a race:
// the report's status no longer matches the expected source state.
var ErrStaleStatus = errors.New("report status changed concurrently")

// ApplyTransition atomically moves a report from one status to another.
// It compare-and-swaps on the expected source status, stamps the target's
// milestone timestamp on first entry, and appends one status_change event.
// The caller (the lifecycle engine) is responsible for validating that the
// edge is allowed; this method only guarantees atomicity and CAS safety.
func (s *SQLiteStorage) ApplyTransition(ctx context.Context, id string, from, to types.Status, actor, detail string) (*types.BugReport, error) {
	if detail == "" {
		detail = "{}"
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now()

	// Stamp the milestone column on first entry into the target state.
	// COALESCE keeps an already-set milestone untouched (set exactly once).
	query := "UPDATE reports SET status = ?, updated_at = ?"
	args := []interface{}{to, now}
	if milestone := to.MilestoneField(); milestone != "" {
		query += fmt.Sprintf(", %s = COALESCE(%s, ?)", milestone, milestone)
		args = append(args, now)
	}
	query += " WHERE id = ? AND status = ?"
	args = append(args, id, from)

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update report status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		// Distinguish a missing report from a lost CAS race
		var current string
		err := tx.QueryRowContext(ctx, "SELECT status FROM reports WHERE id = ?", id).Scan(&current)
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", ErrReportNotFound, id)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to check report status: %w", err)
		}
		return nil, fmt.Errorf("%w: %s is %s, expected %s", ErrStaleStatus, id, current, from)
	}

	oldValue := string(from)
	newValue := string(to)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO report_events (report_id, event_type, actor, old_value, new_value, detail)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, types.EventStatusChange, actor, oldValue, newValue, detail)
	if err != nil {
		return nil, fmt.Errorf("failed to record status change event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transition: %w", err)
	}

	report, err := s.GetReport(ctx, id)
	if err != nil {
		return nil, err
	}
	if report == nil {
		return nil, fmt.Errorf("%w: %s", ErrReportNotFound, id)
	}
	return report, nil
}

// SetRemediationOutcome records the agent's fix reference, verification
// outcome, and session log on a report
func (s *SQLiteStorage) SetRemediationOutcome(ctx context.Context, id, fixRef string, outcome types.VerificationOutcome, sessionLog string) error {
	if !outcome.IsValid() {
		return fmt.Errorf("invalid verification outcome: %s", outcome)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE reports
		SET fix_ref = ?, verification = ?, agent_session_log = ?, updated_at = ?
		WHERE id = ?
	`, fixRef, outcome, sessionLog, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to set remediation outcome: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrReportNotFound, id)
	}
	return nil
}

// IncrementAttempts bumps a report's attempt counter and returns the new count
func (s *SQLiteStorage) IncrementAttempts(ctx context.Context, id string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		UPDATE reports
		SET attempt_count = attempt_count + 1, updated_at = ?
		WHERE id = ?
		RETURNING attempt_count
	`, time.Now(), id).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("%w: %s", ErrReportNotFound, id)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to increment attempts: %w", err)
	}
	return count, nil
}

// AddEvent appends an annotation event (remediation_attempt or note) to a
// report's audit trail. Status changes go through ApplyTransition instead.
func (s *SQLiteStorage) AddEvent(ctx context.Context, event *types.BugReportEvent) error {
	if event.ReportID == "" {
		return fmt.Errorf("report_id is required")
	}
	if !event.EventType.IsValid() {
		return fmt.Errorf("invalid event type: %s", event.EventType)
	}
	if event.EventType == types.EventStatusChange {
		return fmt.Errorf("status_change events must go through ApplyTransition")
	}
	detail := event.Detail
	if detail == "" {
		detail = "{}"
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO report_events (report_id, event_type, actor, old_value, new_value, detail)
		VALUES (?, ?, ?, ?, ?, ?)
	`, event.ReportID, event.EventType, event.Actor, event.OldValue, event.NewValue, detail)
	if err != nil {
		return fmt.Errorf("failed to add event: %w", err)
	}
	return nil
}

// GetEvents returns a report's audit trail, oldest first
func (s *SQLiteStorage) GetEvents(ctx context.Context, reportID string, limit int) ([]*types.BugReportEvent, error) {
	limitSQL := ""
	if limit > 0 {
		limitSQL = fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, report_id, event_type, actor, old_value, new_value, detail, created_at
		FROM report_events
		WHERE report_id = ?
		ORDER BY id ASC
		%s
	`, limitSQL), reportID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []*types.BugReportEvent
	for rows.Next() {
		var e types.BugReportEvent
		var oldValue, newValue sql.NullString
		err := rows.Scan(&e.ID, &e.ReportID, &e.EventType, &e.Actor,
			&oldValue, &newValue, &e.Detail, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if oldValue.Valid {
			e.OldValue = &oldValue.String
		}
		if newValue.Valid {
			e.NewValue = &newValue.String
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// VerifyEventConsistency checks that the report's cached status column
// matches the new_value of its most recent status_change event. Reports
// with no status_change events must still be in 'new'.
func (s *SQLiteStorage) VerifyEventConsistency(ctx context.Context, reportID string) error {
	report, err := s.GetReport(ctx, reportID)
	if err != nil {
		return err
	}
	if report == nil {
		return fmt.Errorf("%w: %s", ErrReportNotFound, reportID)
	}

	var lastStatus string
	err = s.db.QueryRowContext(ctx, `
		SELECT new_value FROM report_events
		WHERE report_id = ? AND event_type = ?
		ORDER BY id DESC
		LIMIT 1
	`, reportID, types.EventStatusChange).Scan(&lastStatus)
	if err == sql.ErrNoRows {
		if report.Status != types.StatusNew {
			return fmt.Errorf("report %s has status %s but no status_change events", reportID, report.Status)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to query last status change: %w", err)
	}

	if string(report.Status) != lastStatus {
		return fmt.Errorf("report %s status %s does not match last status_change event %s",
			reportID, report.Status, lastStatus)
	}
	return nil
}
