// Package lifecycle owns the report state machine. Every status change in
// the system, whether requested by a human through the CLI or by the
// remediation worker, goes through Engine.Transition — there is no bypass.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/pixelforge/remedy/internal/storage"
	"github.com/pixelforge/remedy/internal/storage/sqlite"
	"github.com/pixelforge/remedy/internal/types"
)

var (
	// ErrNotFound indicates the report ID does not exist
	ErrNotFound = errors.New("report not found")

	// ErrInvalidTransition indicates the requested edge is not in the
	// allowed-transition graph for the report's current status
	ErrInvalidTransition = errors.New("invalid transition")
)

// Engine validates and applies lifecycle transitions. Concurrent transition
// requests for the same report serialize on a per-report lock; the storage
// layer's compare-and-swap is the backstop for anything that slips past.
type Engine struct {
	store storage.Storage

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine creates a lifecycle engine over the given storage
func NewEngine(store storage.Storage) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("storage is required")
	}
	return &Engine{
		store: store,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

// lockFor returns the mutex serializing transitions for one report
func (e *Engine) lockFor(reportID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[reportID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[reportID] = lock
	}
	return lock
}

// Transition moves a report to the target status. It fails with
// ErrNotFound for unknown reports and ErrInvalidTransition when the edge
// is not allowed from the report's current status. On success the status
// update, milestone timestamp, and audit event are applied atomically and
// the updated report is returned.
func (e *Engine) Transition(ctx context.Context, reportID string, target types.Status, actor, detail string) (*types.BugReport, error) {
	if !target.IsValid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, target)
	}

	lock := e.lockFor(reportID)
	lock.Lock()
	defer lock.Unlock()

	report, err := e.store.GetReport(ctx, reportID)
	if err != nil {
		return nil, fmt.Errorf("failed to load report: %w", err)
	}
	if report == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, reportID)
	}

	if !report.Status.CanTransitionTo(target) {
		return nil, fmt.Errorf("%w: %s → %s", ErrInvalidTransition, report.Status, target)
	}

	updated, err := e.store.ApplyTransition(ctx, reportID, report.Status, target, actor, detail)
	if err != nil {
		// The keyed mutex only serializes this process; a writer in another
		// process loses the storage compare-and-swap instead
		if errors.Is(err, sqlite.ErrStaleStatus) {
			return nil, fmt.Errorf("%w: report %s changed status concurrently", ErrInvalidTransition, reportID)
		}
		if errors.Is(err, sqlite.ErrReportNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, reportID)
		}
		return nil, fmt.Errorf("failed to apply transition %s → %s: %w", report.Status, target, err)
	}
	return updated, nil
}

// AddNote appends a note event to a report's audit trail without touching
// its status
func (e *Engine) AddNote(ctx context.Context, reportID, actor, note string) error {
	report, err := e.store.GetReport(ctx, reportID)
	if err != nil {
		return fmt.Errorf("failed to load report: %w", err)
	}
	if report == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, reportID)
	}

	detail, _ := json.Marshal(map[string]string{"note": note})
	return e.store.AddEvent(ctx, &types.BugReportEvent{
		ReportID:  reportID,
		EventType: types.EventNote,
		Actor:     actor,
		Detail:    string(detail),
	})
}

// RecordAttempt appends a remediation_attempt event describing one agent
// invocation and its outcome
func (e *Engine) RecordAttempt(ctx context.Context, reportID, actor string, attempt int, outcome, reason string) error {
	report, err := e.store.GetReport(ctx, reportID)
	if err != nil {
		return fmt.Errorf("failed to load report: %w", err)
	}
	if report == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, reportID)
	}

	detail, _ := json.Marshal(map[string]interface{}{
		"attempt": attempt,
		"outcome": outcome,
		"reason":  reason,
	})
	return e.store.AddEvent(ctx, &types.BugReportEvent{
		ReportID:  reportID,
		EventType: types.EventRemediationAttempt,
		Actor:     actor,
		Detail:    string(detail),
	})
}

// Get returns a report, mapping missing IDs to ErrNotFound
func (e *Engine) Get(ctx context.Context, reportID string) (*types.BugReport, error) {
	report, err := e.store.GetReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if report == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, reportID)
	}
	return report, nil
}
