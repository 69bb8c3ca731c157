package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// BugReport represents one submitted defect occurrence from the
// image-generation web app.
type BugReport struct {
	ID            string `json:"id"`
	CorrelationID string `json:"correlation_id,omitempty"` // Client-supplied, for tracing back to the capture flow

	Title         string `json:"title"`
	Description   string `json:"description"`
	ErrorMessage  string `json:"error_message"`
	StackTrace    string `json:"stack_trace"`
	Route         string `json:"route"`
	Environment   string `json:"environment"` // JSON string (must be valid JSON), captured browser/session snapshot
	ScreenshotRef string `json:"screenshot_ref,omitempty"`

	Severity Severity `json:"severity"`
	Status   Status   `json:"status"`
	GroupID  string   `json:"group_id"` // Dedup group this report belongs to

	// Remediation outcome
	AttemptCount    int                 `json:"attempt_count"`
	FixRef          string              `json:"fix_ref,omitempty"` // Commit/branch produced by the agent
	Verification    VerificationOutcome `json:"verification"`
	AgentSessionLog string              `json:"agent_session_log,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	// Milestone timestamps, each set exactly once on first entry into the state
	TriagedAt  *time.Time `json:"triaged_at,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`
}

// Validate checks if the report has valid field values
func (r *BugReport) Validate() error {
	if len(r.Title) == 0 {
		return fmt.Errorf("title is required")
	}
	if len(r.Title) > 500 {
		return fmt.Errorf("title must be 500 characters or less (got %d)", len(r.Title))
	}
	if !r.Severity.IsValid() {
		return fmt.Errorf("invalid severity: %s", r.Severity)
	}
	if !r.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", r.Status)
	}
	if !r.Verification.IsValid() {
		return fmt.Errorf("invalid verification outcome: %s", r.Verification)
	}
	if r.AttemptCount < 0 {
		return fmt.Errorf("attempt_count cannot be negative (got %d)", r.AttemptCount)
	}
	// Environment is an opaque blob but must at least be valid JSON
	if r.Environment != "" {
		var v interface{}
		if err := json.Unmarshal([]byte(r.Environment), &v); err != nil {
			return fmt.Errorf("environment must be valid JSON: %w", err)
		}
	}
	// Terminal timestamps are mutually exclusive
	if r.ResolvedAt != nil && r.ClosedAt != nil {
		return fmt.Errorf("resolved_at and closed_at cannot both be set")
	}
	// A report cannot have started while still new
	if r.StartedAt != nil && r.Status == StatusNew {
		return fmt.Errorf("started_at cannot be set while status is new")
	}
	return nil
}

// Severity classifies how badly a defect impacts users
type Severity string

const (
	SeverityCritical Severity = "critical" // Never auto-remediated
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// IsValid checks if the severity value is valid
func (s Severity) IsValid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

// AutomationEligible reports whether the severity may enter the automated
// remediation queue. Critical reports always go to a human first.
func (s Severity) AutomationEligible() bool {
	return s.IsValid() && s != SeverityCritical
}

// QueuePriority maps severity to work queue priority (lower is sooner)
func (s Severity) QueuePriority() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	default:
		return 3
	}
}

// Status represents the current lifecycle state of a report
type Status string

const (
	StatusNew                  Status = "new"
	StatusTriaged              Status = "triaged"
	StatusInProgress           Status = "in_progress"
	StatusAwaitingVerification Status = "awaiting_verification"
	StatusResolved             Status = "resolved"
	StatusClosed               Status = "closed"
)

// IsValid checks if the status value is valid
func (s Status) IsValid() bool {
	switch s {
	case StatusNew, StatusTriaged, StatusInProgress, StatusAwaitingVerification,
		StatusResolved, StatusClosed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed from this status
func (s Status) IsTerminal() bool {
	return s == StatusResolved || s == StatusClosed
}

// ValidTransitions defines the valid edges of the report lifecycle state machine.
//
// State Machine Diagram:
//
//	new → triaged → in_progress → awaiting_verification → resolved
//	 ↑                  │ ↑                │
//	 └──────────────────┘ └────────────────┘
//	   (attempt failed)     (verify failed)
//
// Any non-terminal state may also move to closed (withdrawn/invalid).
//
// Valid transitions:
//   - new → triaged (human or automated triage)
//   - new → in_progress (direct auto-pickup by a worker)
//   - triaged → in_progress (picked up for remediation)
//   - in_progress → awaiting_verification (agent produced a change)
//   - in_progress → new (remediation attempt failed, eligible for retry)
//   - awaiting_verification → resolved (verification passed)
//   - awaiting_verification → in_progress (verification failed, retry)
//   - any non-terminal → closed
func (s Status) ValidTransitions() []Status {
	switch s {
	case StatusNew:
		return []Status{StatusTriaged, StatusInProgress, StatusClosed}
	case StatusTriaged:
		return []Status{StatusInProgress, StatusClosed}
	case StatusInProgress:
		return []Status{StatusAwaitingVerification, StatusNew, StatusClosed}
	case StatusAwaitingVerification:
		return []Status{StatusResolved, StatusInProgress, StatusClosed}
	case StatusResolved, StatusClosed:
		return []Status{} // Terminal states
	default:
		return []Status{}
	}
}

// CanTransitionTo checks if a transition from this status to the target is valid
func (s Status) CanTransitionTo(target Status) bool {
	for _, valid := range s.ValidTransitions() {
		if valid == target {
			return true
		}
	}
	return false
}

// MilestoneField returns the reports column stamped on first entry into the
// status, or "" if the status has no milestone
func (s Status) MilestoneField() string {
	switch s {
	case StatusTriaged:
		return "triaged_at"
	case StatusInProgress:
		return "started_at"
	case StatusResolved:
		return "resolved_at"
	case StatusClosed:
		return "closed_at"
	}
	return ""
}

// VerificationOutcome records whether the agent's fix passed its test run
type VerificationOutcome string

const (
	VerificationPending VerificationOutcome = "pending"
	VerificationPassed  VerificationOutcome = "passed"
	VerificationFailed  VerificationOutcome = "failed"
)

// IsValid checks if the verification outcome value is valid
func (v VerificationOutcome) IsValid() bool {
	switch v {
	case VerificationPending, VerificationPassed, VerificationFailed:
		return true
	}
	return false
}

// BugReportEvent represents an immutable audit trail entry for one report
type BugReportEvent struct {
	ID        int64     `json:"id"`
	ReportID  string    `json:"report_id"`
	EventType EventType `json:"event_type"`
	Actor     string    `json:"actor"`
	OldValue  *string   `json:"old_value,omitempty"`
	NewValue  *string   `json:"new_value,omitempty"`
	Detail    string    `json:"detail"` // Structured JSON payload
	CreatedAt time.Time `json:"created_at"`
}

// EventType categorizes audit trail events
type EventType string

const (
	EventStatusChange       EventType = "status_change"
	EventRemediationAttempt EventType = "remediation_attempt"
	EventNote               EventType = "note"
)

// IsValid checks if the event type value is valid
func (t EventType) IsValid() bool {
	switch t {
	case EventStatusChange, EventRemediationAttempt, EventNote:
		return true
	}
	return false
}

// DedupGroup is a canonical cluster of structurally identical reports
type DedupGroup struct {
	ID              string    `json:"id"`
	ContentHash     string    `json:"content_hash"`
	FirstSeenAt     time.Time `json:"first_seen_at"`
	LastSeenAt      time.Time `json:"last_seen_at"`
	OccurrenceCount int       `json:"occurrence_count"`
}

// Submission is the payload handed over by the frontend capture flow
type Submission struct {
	CorrelationID string   `json:"correlation_id,omitempty"`
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	ErrorMessage  string   `json:"error_message"`
	StackTrace    string   `json:"stack_trace"`
	Route         string   `json:"route"`
	Environment   string   `json:"environment,omitempty"` // JSON string
	ScreenshotRef string   `json:"screenshot_ref,omitempty"`
	Severity      Severity `json:"severity,omitempty"` // Defaults to medium
}

// Validate checks if the submission has valid field values
func (s *Submission) Validate() error {
	if len(s.Title) == 0 {
		return fmt.Errorf("title is required")
	}
	if len(s.Title) > 500 {
		return fmt.Errorf("title must be 500 characters or less (got %d)", len(s.Title))
	}
	if s.ErrorMessage == "" {
		return fmt.Errorf("error_message is required")
	}
	if s.Severity != "" && !s.Severity.IsValid() {
		return fmt.Errorf("invalid severity: %s", s.Severity)
	}
	if s.Environment != "" {
		var v interface{}
		if err := json.Unmarshal([]byte(s.Environment), &v); err != nil {
			return fmt.Errorf("environment must be valid JSON: %w", err)
		}
	}
	return nil
}

// ReportFilter is used to filter report queries
type ReportFilter struct {
	Status   *Status
	Severity *Severity
	GroupID  *string
	Limit    int
	Offset   int
}

// WorkerStatus represents the state of a worker instance
type WorkerStatus string

const (
	WorkerStatusRunning WorkerStatus = "running"
	WorkerStatusStopped WorkerStatus = "stopped"
)

// IsValid checks if the worker status value is valid
func (s WorkerStatus) IsValid() bool {
	return s == WorkerStatusRunning || s == WorkerStatusStopped
}

// WorkerInstance represents a running remediation worker process
type WorkerInstance struct {
	InstanceID    string       `json:"instance_id"`
	Hostname      string       `json:"hostname"`
	PID           int          `json:"pid"`
	Status        WorkerStatus `json:"status"`
	StartedAt     time.Time    `json:"started_at"`
	LastHeartbeat time.Time    `json:"last_heartbeat"`
	Version       string       `json:"version"`
}

// Validate checks if the worker instance has valid field values
func (w *WorkerInstance) Validate() error {
	if w.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if w.Hostname == "" {
		return fmt.Errorf("hostname is required")
	}
	if w.PID <= 0 {
		return fmt.Errorf("pid must be positive (got %d)", w.PID)
	}
	if !w.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", w.Status)
	}
	return nil
}

// Statistics provides aggregate metrics for the status view
type Statistics struct {
	TotalReports      int `json:"total_reports"`
	NewReports        int `json:"new_reports"`
	TriagedReports    int `json:"triaged_reports"`
	InProgressReports int `json:"in_progress_reports"`
	AwaitingReview    int `json:"awaiting_review"`
	ResolvedReports   int `json:"resolved_reports"`
	ClosedReports     int `json:"closed_reports"`
	DedupGroups       int `json:"dedup_groups"`
	TotalOccurrences  int `json:"total_occurrences"`
}
