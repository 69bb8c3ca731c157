// Package worker runs the remediation pool: goroutines that pull report
// IDs off the work queue, claim them through the lifecycle engine, invoke
// the code-fixing agent, and translate agent outcomes into state
// transitions and retries.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/pixelforge/remedy/internal/agent"
	"github.com/pixelforge/remedy/internal/lifecycle"
	"github.com/pixelforge/remedy/internal/queue"
	"github.com/pixelforge/remedy/internal/storage"
	"github.com/pixelforge/remedy/internal/types"
)

// ErrRetryExhausted indicates a report has used up its automated
// remediation attempts and needs a human
var ErrRetryExhausted = errors.New("remediation retries exhausted")

// Config holds remediation pool configuration
type Config struct {
	Store  storage.Storage
	Engine *lifecycle.Engine
	Queue  *queue.WorkQueue
	Agent  agent.Client

	Workers             int           // Dequeue loops (default: 2)
	MaxConcurrentAgents int64         // Simultaneous agent subprocesses (default: 2)
	MaxAttempts         int           // Remediation attempts per report (default: 3)
	BackoffBase         time.Duration // First retry delay (default: 30s)
	BackoffCap          time.Duration // Retry delay ceiling (default: 15m)
	SpawnRate           rate.Limit    // Agent spawns per second (default: 1)
	SpawnBurst          int           // Spawn burst allowance (default: 1)
	HeartbeatPeriod     time.Duration // Instance heartbeat interval (default: 30s)
	Version             string
}

// DefaultConfig returns default pool configuration
func DefaultConfig() *Config {
	return &Config{
		Workers:             2,
		MaxConcurrentAgents: 2,
		MaxAttempts:         3,
		BackoffBase:         30 * time.Second,
		BackoffCap:          15 * time.Minute,
		SpawnRate:           1,
		SpawnBurst:          1,
		HeartbeatPeriod:     30 * time.Second,
		Version:             "0.1.0",
	}
}

// Pool is the remediation worker pool. One Pool per process; it registers
// itself as a worker instance and heartbeats while running.
type Pool struct {
	store  storage.Storage
	engine *lifecycle.Engine
	queue  *queue.WorkQueue
	agent  agent.Client

	workers         int
	maxAttempts     int
	backoffBase     time.Duration
	backoffCap      time.Duration
	heartbeatPeriod time.Duration
	version         string

	sem     *semaphore.Weighted // Bounds concurrent agent subprocesses
	limiter *rate.Limiter       // Throttles agent spawns

	instanceID string
	hostname   string
	pid        int

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopCh  chan struct{}
}

// New creates a remediation pool from the given configuration
func New(cfg *Config) (*Pool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Store == nil || cfg.Engine == nil || cfg.Queue == nil || cfg.Agent == nil {
		return nil, fmt.Errorf("store, engine, queue, and agent are required")
	}

	defaults := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = defaults.Workers
	}
	if cfg.MaxConcurrentAgents <= 0 {
		cfg.MaxConcurrentAgents = defaults.MaxConcurrentAgents
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaults.BackoffBase
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = defaults.BackoffCap
	}
	if cfg.SpawnRate <= 0 {
		cfg.SpawnRate = defaults.SpawnRate
	}
	if cfg.SpawnBurst <= 0 {
		cfg.SpawnBurst = defaults.SpawnBurst
	}
	if cfg.HeartbeatPeriod <= 0 {
		cfg.HeartbeatPeriod = defaults.HeartbeatPeriod
	}
	if cfg.Version == "" {
		cfg.Version = defaults.Version
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	return &Pool{
		store:           cfg.Store,
		engine:          cfg.Engine,
		queue:           cfg.Queue,
		agent:           cfg.Agent,
		workers:         cfg.Workers,
		maxAttempts:     cfg.MaxAttempts,
		backoffBase:     cfg.BackoffBase,
		backoffCap:      cfg.BackoffCap,
		heartbeatPeriod: cfg.HeartbeatPeriod,
		version:         cfg.Version,
		sem:             semaphore.NewWeighted(cfg.MaxConcurrentAgents),
		limiter:         rate.NewLimiter(cfg.SpawnRate, cfg.SpawnBurst),
		instanceID:      fmt.Sprintf("worker-%s", uuid.New().String()[:8]),
		hostname:        hostname,
		pid:             os.Getpid(),
		stopCh:          make(chan struct{}),
	}, nil
}

// InstanceID returns this pool's worker instance identifier
func (p *Pool) InstanceID() string {
	return p.instanceID
}

// Start registers the worker instance and launches the dequeue loops and
// the heartbeat goroutine. Returns once everything is running.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("pool is already running")
	}
	p.running = true
	p.mu.Unlock()

	instance := &types.WorkerInstance{
		InstanceID:    p.instanceID,
		Hostname:      p.hostname,
		PID:           p.pid,
		Status:        types.WorkerStatusRunning,
		StartedAt:     time.Now(),
		LastHeartbeat: time.Now(),
		Version:       p.version,
	}
	if err := p.store.RegisterInstance(ctx, instance); err != nil {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
		return fmt.Errorf("failed to register worker instance: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.runLoop(runCtx)
	}

	p.wg.Add(1)
	go p.heartbeatLoop(runCtx)

	return nil
}

// Stop shuts the pool down: loops exit after their current item, the
// heartbeat stops, and the instance is marked stopped.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return fmt.Errorf("pool is not running")
	}
	p.running = false
	cancel := p.cancel
	p.mu.Unlock()

	close(p.stopCh)
	cancel()
	p.wg.Wait()

	if err := p.store.MarkInstanceStopped(ctx, p.instanceID); err != nil {
		return fmt.Errorf("failed to mark instance stopped: %w", err)
	}
	return nil
}

func (p *Pool) heartbeatLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.heartbeatPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.store.UpdateHeartbeat(ctx, p.instanceID); err != nil && ctx.Err() == nil {
				fmt.Fprintf(os.Stderr, "Warning: heartbeat failed: %v\n", err)
			}
		}
	}
}

func (p *Pool) runLoop(ctx context.Context) {
	defer p.wg.Done()
	for {
		item, err := p.queue.Dequeue(ctx)
		if err != nil {
			// Closed queue or canceled context both mean shutdown
			return
		}
		if err := p.processItem(ctx, item); err != nil && ctx.Err() == nil {
			fmt.Fprintf(os.Stderr, "Warning: remediation of %s failed: %v\n", item.ReportID, err)
		}
	}
}

// processItem drives one remediation attempt end to end. No locks are held
// while the agent runs; concurrent human action on the same report shows
// up as an invalid transition and is treated as "stand down", not an error.
func (p *Pool) processItem(ctx context.Context, item *queue.Item) error {
	actor := p.instanceID

	report, err := p.engine.Get(ctx, item.ReportID)
	if err != nil {
		if errors.Is(err, lifecycle.ErrNotFound) {
			return nil // Deleted out from under us, drop silently
		}
		return err
	}

	switch report.Status {
	case types.StatusNew, types.StatusTriaged:
		report, err = p.engine.Transition(ctx, report.ID, types.StatusInProgress, actor, "claimed for automated remediation")
		if err != nil {
			if errors.Is(err, lifecycle.ErrInvalidTransition) {
				return nil // Raced with a human transition, stand down
			}
			return fmt.Errorf("failed to claim %s: %w", report.ID, err)
		}
	case types.StatusInProgress:
		// A retry we requeued ourselves; the claim is still ours
	default:
		// Resolved or closed while queued, nothing to do
		return nil
	}

	// Throttle and bound agent subprocesses
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	result, invokeErr := p.agent.Invoke(ctx, report)
	p.sem.Release(1)
	if invokeErr != nil {
		// Could not even start the agent; synthesize a hard failure so the
		// retry policy still applies
		result = &agent.Result{
			Outcome: agent.OutcomeHardFailure,
			Reason:  fmt.Sprintf("agent invocation failed: %v", invokeErr),
		}
	}

	attempts, err := p.store.IncrementAttempts(ctx, report.ID)
	if err != nil {
		return fmt.Errorf("failed to record attempt on %s: %w", report.ID, err)
	}
	// A successful attempt is already fully told by its status_change
	// events; only failed attempts get a remediation_attempt record
	if result.Outcome != agent.OutcomeSuccess {
		if err := p.engine.RecordAttempt(ctx, report.ID, actor, attempts, string(result.Outcome), result.Reason); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to record attempt event for %s: %v\n", report.ID, err)
		}
	}

	switch result.Outcome {
	case agent.OutcomeSuccess:
		return p.handleSuccess(ctx, report.ID, actor, result)
	case agent.OutcomeVerificationFailed:
		return p.handleVerificationFailed(ctx, report.ID, actor, attempts, result, item.Priority)
	default:
		return p.handleHardFailure(ctx, report.ID, actor, attempts, result, item.Priority)
	}
}

// handleSuccess walks a verified fix through awaiting_verification to
// resolved and records the fix reference and session log.
func (p *Pool) handleSuccess(ctx context.Context, reportID, actor string, result *agent.Result) error {
	detail := fmt.Sprintf("fix %s produced, verification passed", result.FixRef)
	if _, err := p.engine.Transition(ctx, reportID, types.StatusAwaitingVerification, actor, detail); err != nil {
		if errors.Is(err, lifecycle.ErrInvalidTransition) {
			return nil
		}
		return err
	}
	if err := p.store.SetRemediationOutcome(ctx, reportID, result.FixRef, types.VerificationPassed, result.SessionLog); err != nil {
		return fmt.Errorf("failed to record fix for %s: %w", reportID, err)
	}
	summary := result.TestSummary
	if summary == "" {
		summary = "verification passed"
	}
	if _, err := p.engine.Transition(ctx, reportID, types.StatusResolved, actor, summary); err != nil {
		if errors.Is(err, lifecycle.ErrInvalidTransition) {
			return nil
		}
		return err
	}
	return nil
}

// handleVerificationFailed records the failed verification under
// awaiting_verification, then either returns the report to in_progress and
// requeues it, or leaves it awaiting human review once retries run out.
func (p *Pool) handleVerificationFailed(ctx context.Context, reportID, actor string, attempts int, result *agent.Result, priority int) error {
	detail := fmt.Sprintf("fix produced but verification failed: %s", result.Reason)
	if _, err := p.engine.Transition(ctx, reportID, types.StatusAwaitingVerification, actor, detail); err != nil {
		if errors.Is(err, lifecycle.ErrInvalidTransition) {
			return nil
		}
		return err
	}
	if err := p.store.SetRemediationOutcome(ctx, reportID, result.FixRef, types.VerificationFailed, result.SessionLog); err != nil {
		return fmt.Errorf("failed to record outcome for %s: %w", reportID, err)
	}

	if attempts >= p.maxAttempts {
		// Out of retries; the report stays in awaiting_verification for a
		// human to inspect the attempted fix
		note := fmt.Sprintf("automated remediation exhausted after %d attempts, awaiting human review", attempts)
		if err := p.engine.AddNote(ctx, reportID, actor, note); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to add exhaustion note for %s: %v\n", reportID, err)
		}
		return fmt.Errorf("%w: %s after %d attempts", ErrRetryExhausted, reportID, attempts)
	}

	if _, err := p.engine.Transition(ctx, reportID, types.StatusInProgress, actor, "retrying after failed verification"); err != nil {
		if errors.Is(err, lifecycle.ErrInvalidTransition) {
			return nil
		}
		return err
	}
	return p.queue.RequeueAfter(reportID, priority, attempts, p.backoff(attempts))
}

// handleHardFailure returns the report to new and schedules a backed-off
// retry, or records exhaustion once the attempt cap is hit.
func (p *Pool) handleHardFailure(ctx context.Context, reportID, actor string, attempts int, result *agent.Result, priority int) error {
	detail := fmt.Sprintf("remediation attempt failed: %s", result.Reason)
	if _, err := p.engine.Transition(ctx, reportID, types.StatusNew, actor, detail); err != nil {
		if errors.Is(err, lifecycle.ErrInvalidTransition) {
			return nil
		}
		return err
	}

	if attempts >= p.maxAttempts {
		note := fmt.Sprintf("automated remediation exhausted after %d attempts, manual intervention required", attempts)
		if err := p.engine.AddNote(ctx, reportID, actor, note); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to add exhaustion note for %s: %v\n", reportID, err)
		}
		return fmt.Errorf("%w: %s after %d attempts", ErrRetryExhausted, reportID, attempts)
	}

	return p.queue.RequeueAfter(reportID, priority, attempts, p.backoff(attempts))
}

// backoff computes the delay before retry number attempts+1: the base
// doubles per completed attempt and never exceeds the cap.
func (p *Pool) backoff(attempts int) time.Duration {
	delay := p.backoffBase
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= p.backoffCap {
			return p.backoffCap
		}
	}
	if delay > p.backoffCap {
		return p.backoffCap
	}
	return delay
}

// attemptDetail is the JSON payload recorded with remediation_attempt
// events by the lifecycle engine; kept here so tests can decode it.
type attemptDetail struct {
	Attempt int    `json:"attempt"`
	Outcome string `json:"outcome"`
	Reason  string `json:"reason,omitempty"`
}

func decodeAttemptDetail(detail string) (*attemptDetail, error) {
	var d attemptDetail
	if err := json.Unmarshal([]byte(detail), &d); err != nil {
		return nil, err
	}
	return &d, nil
}
