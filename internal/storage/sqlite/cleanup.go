package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/pixelforge/remedy/internal/types"
)

// PruneEvents deletes audit events older than retentionDays, always keeping
// the most recent keepPerReport events of each report and never deleting a
// report's latest status_change event (the status projection invariant
// depends on it). Returns the number of deleted events.
func (s *SQLiteStorage) PruneEvents(ctx context.Context, retentionDays, keepPerReport int) (int, error) {
	if retentionDays <= 0 {
		return 0, fmt.Errorf("retentionDays must be positive (got %d)", retentionDays)
	}
	if keepPerReport < 0 {
		return 0, fmt.Errorf("keepPerReport cannot be negative (got %d)", keepPerReport)
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	result, err := s.db.ExecContext(ctx, `
		DELETE FROM report_events
		WHERE created_at < ?
		  AND id NOT IN (
			SELECT id FROM report_events recent
			WHERE recent.report_id = report_events.report_id
			ORDER BY recent.id DESC
			LIMIT ?
		  )
		  AND id NOT IN (
			SELECT MAX(id) FROM report_events
			WHERE event_type = ?
			GROUP BY report_id
		  )
	`, cutoff, keepPerReport, types.EventStatusChange)
	if err != nil {
		return 0, fmt.Errorf("failed to prune events: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(rows), nil
}
