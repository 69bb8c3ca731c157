// Package intake turns raw defect submissions from the capture flow into
// stored, deduplicated bug reports and hands automation-eligible ones to
// the work queue.
package intake

import (
	"context"
	"fmt"

	"github.com/pixelforge/remedy/internal/dedup"
	"github.com/pixelforge/remedy/internal/queue"
	"github.com/pixelforge/remedy/internal/storage"
	"github.com/pixelforge/remedy/internal/types"
)

// Receipt is returned to the submitter: the stored report, the group it
// joined, and whether it entered the remediation queue.
type Receipt struct {
	ReportID  string         `json:"report_id"`
	GroupID   string         `json:"group_id"`
	Status    types.Status   `json:"status"`
	Severity  types.Severity `json:"severity"`
	Enqueued  bool           `json:"enqueued"`
	Duplicate bool           `json:"duplicate"` // True when the group existed before this submission
}

// Service is the intake pipeline: validate, dedup, persist, enqueue
type Service struct {
	store storage.Storage
	index *dedup.Index
	queue *queue.WorkQueue
}

// NewService creates an intake service. The queue may be nil when running
// without automation (submit-only tooling); reports are still stored and
// grouped, just never enqueued.
func NewService(store storage.Storage, index *dedup.Index, q *queue.WorkQueue) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if index == nil {
		return nil, fmt.Errorf("dedup index is required")
	}
	return &Service{store: store, index: index, queue: q}, nil
}

// Submit processes one defect submission. Duplicates are full reports in
// their own right: they join the existing group and bump its occurrence
// count rather than being dropped. Only automation-eligible severities
// reach the work queue; critical reports are stored and left for humans.
func (s *Service) Submit(ctx context.Context, sub *types.Submission) (*Receipt, error) {
	if sub == nil {
		return nil, fmt.Errorf("submission is required")
	}
	if sub.Severity == "" {
		sub.Severity = types.SeverityMedium
	}
	if err := sub.Validate(); err != nil {
		return nil, fmt.Errorf("invalid submission: %w", err)
	}

	group, err := s.index.ResolveSignal(ctx, sub.ErrorMessage, sub.StackTrace, sub.Route)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve dedup group: %w", err)
	}

	env := sub.Environment
	if env == "" {
		env = "{}"
	}
	report := &types.BugReport{
		CorrelationID: sub.CorrelationID,
		Title:         sub.Title,
		Description:   sub.Description,
		ErrorMessage:  sub.ErrorMessage,
		StackTrace:    sub.StackTrace,
		Route:         sub.Route,
		Environment:   env,
		ScreenshotRef: sub.ScreenshotRef,
		Severity:      sub.Severity,
		Status:        types.StatusNew,
		GroupID:       group.ID,
		Verification:  types.VerificationPending,
	}
	if err := s.store.CreateReport(ctx, report, "intake"); err != nil {
		return nil, fmt.Errorf("failed to store report: %w", err)
	}

	receipt := &Receipt{
		ReportID:  report.ID,
		GroupID:   group.ID,
		Status:    report.Status,
		Severity:  report.Severity,
		Duplicate: group.OccurrenceCount > 1,
	}

	if s.queue != nil && report.Severity.AutomationEligible() {
		if err := s.queue.Enqueue(report.ID, report.Severity.QueuePriority()); err != nil {
			// The report is safely stored; a full or closed queue only
			// delays automation until the next rebuild
			return receipt, fmt.Errorf("report %s stored but not enqueued: %w", report.ID, err)
		}
		receipt.Enqueued = true
	}
	return receipt, nil
}
