package storage

import (
	"context"

	"github.com/pixelforge/remedy/internal/storage/sqlite"
	"github.com/pixelforge/remedy/internal/types"
)

// Storage defines the interface for report storage backends
type Storage interface {
	// Reports
	CreateReport(ctx context.Context, report *types.BugReport, actor string) error
	GetReport(ctx context.Context, id string) (*types.BugReport, error)
	ListReports(ctx context.Context, filter types.ReportFilter) ([]*types.BugReport, error)

	// Lifecycle - called by the lifecycle engine, which validates transitions.
	// ApplyTransition compare-and-swaps on `from`, stamps the milestone
	// timestamp on first entry, and appends one status_change event, all in
	// a single transaction.
	ApplyTransition(ctx context.Context, id string, from, to types.Status, actor, detail string) (*types.BugReport, error)
	SetRemediationOutcome(ctx context.Context, id, fixRef string, outcome types.VerificationOutcome, sessionLog string) error
	IncrementAttempts(ctx context.Context, id string) (int, error)

	// Events - append-only audit trail
	AddEvent(ctx context.Context, event *types.BugReportEvent) error
	GetEvents(ctx context.Context, reportID string, limit int) ([]*types.BugReportEvent, error)
	VerifyEventConsistency(ctx context.Context, reportID string) error

	// Dedup groups
	ResolveGroup(ctx context.Context, contentHash string) (*types.DedupGroup, error)
	GetGroup(ctx context.Context, id string) (*types.DedupGroup, error)

	// Worker instances
	RegisterInstance(ctx context.Context, instance *types.WorkerInstance) error
	UpdateHeartbeat(ctx context.Context, instanceID string) error
	GetActiveInstances(ctx context.Context) ([]*types.WorkerInstance, error)
	MarkInstanceStopped(ctx context.Context, instanceID string) error

	// Housekeeping
	PruneEvents(ctx context.Context, retentionDays, keepPerReport int) (int, error)
	GetStatistics(ctx context.Context) (*types.Statistics, error)

	// Config
	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error

	// Lifecycle
	Close() error
}

// Config holds database configuration
type Config struct {
	// Path is the SQLite database file path
	// Default: ".remedy/remedy.db"
	Path string
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Path: ".remedy/remedy.db",
	}
}

// NewStorage creates a new SQLite storage backend
func NewStorage(ctx context.Context, cfg *Config) (Storage, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	if cfg.Path == "" {
		cfg.Path = ".remedy/remedy.db"
	}

	return sqlite.New(cfg.Path)
}
