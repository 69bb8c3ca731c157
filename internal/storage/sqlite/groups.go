package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pixelforge/remedy/internal/types"
)

// groupID derives a stable group identifier from a content hash. The hash
// is already unique per group, so a truncated prefix is enough to be
// readable in CLI output while staying collision-free in practice.
func groupID(contentHash string) string {
	if len(contentHash) > 12 {
		contentHash = contentHash[:12]
	}
	return "grp-" + contentHash
}

// ResolveGroup returns the dedup group for a content hash, creating it on
// first occurrence or incrementing its occurrence count otherwise. The
// upsert makes create-or-increment atomic per hash: concurrent calls with
// the same hash can never create two groups.
func (s *SQLiteStorage) ResolveGroup(ctx context.Context, contentHash string) (*types.DedupGroup, error) {
	if contentHash == "" {
		return nil, fmt.Errorf("content hash is required")
	}

	now := time.Now()
	group := &types.DedupGroup{}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO dedup_groups (id, content_hash, first_seen_at, last_seen_at, occurrence_count)
		VALUES (?, ?, ?, ?, 1)
		ON CONFLICT(content_hash) DO UPDATE SET
			occurrence_count = occurrence_count + 1,
			last_seen_at = excluded.last_seen_at
		RETURNING id, content_hash, first_seen_at, last_seen_at, occurrence_count
	`, groupID(contentHash), contentHash, now, now).Scan(
		&group.ID, &group.ContentHash, &group.FirstSeenAt,
		&group.LastSeenAt, &group.OccurrenceCount,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve dedup group: %w", err)
	}

	return group, nil
}

// GetGroup retrieves a dedup group by ID. Returns (nil, nil) if not found.
func (s *SQLiteStorage) GetGroup(ctx context.Context, id string) (*types.DedupGroup, error) {
	group := &types.DedupGroup{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, content_hash, first_seen_at, last_seen_at, occurrence_count
		FROM dedup_groups
		WHERE id = ?
	`, id).Scan(
		&group.ID, &group.ContentHash, &group.FirstSeenAt,
		&group.LastSeenAt, &group.OccurrenceCount,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dedup group: %w", err)
	}
	return group, nil
}
