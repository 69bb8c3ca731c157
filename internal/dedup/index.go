package dedup

import (
	"context"
	"fmt"

	"github.com/pixelforge/remedy/internal/storage"
	"github.com/pixelforge/remedy/internal/types"
)

// Index maps content hashes to canonical dedup groups. Creation and
// occurrence counting are delegated to the storage backend, whose unique
// constraint on content_hash makes create-or-increment atomic per hash.
type Index struct {
	store storage.Storage
}

// NewIndex creates a dedup index over the given storage
func NewIndex(store storage.Storage) (*Index, error) {
	if store == nil {
		return nil, fmt.Errorf("storage is required")
	}
	return &Index{store: store}, nil
}

// Resolve returns the group for a content hash, creating it on first
// occurrence. Every call counts as one occurrence: an existing group's
// occurrence_count is incremented and its last_seen_at refreshed.
func (i *Index) Resolve(ctx context.Context, contentHash string) (*types.DedupGroup, error) {
	return i.store.ResolveGroup(ctx, contentHash)
}

// ResolveSignal hashes an error signal and resolves its group in one step
func (i *Index) ResolveSignal(ctx context.Context, message, stack, route string) (*types.DedupGroup, error) {
	return i.Resolve(ctx, Hash(message, stack, route))
}
