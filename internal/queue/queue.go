// Package queue provides the in-memory remediation work queue. It holds no
// durable state: on process restart the queue is rebuilt by scanning
// storage for automation-eligible reports.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pixelforge/remedy/internal/storage"
	"github.com/pixelforge/remedy/internal/types"
)

var (
	// ErrQueueFull indicates the queue's bounded depth has been reached
	ErrQueueFull = errors.New("work queue is full")

	// ErrQueueClosed indicates the queue has been shut down
	ErrQueueClosed = errors.New("work queue is closed")
)

// DefaultMaxDepth bounds the queue when no depth is configured
const DefaultMaxDepth = 1000

// Item is one queued unit of remediation work. Items exist only in memory
// for the lifetime of the queue.
type Item struct {
	ReportID  string
	Priority  int // Lower dequeues sooner
	Attempts  int
	NotBefore time.Time // Zero means immediately eligible

	seq uint64 // Insertion order, breaks priority ties FIFO
}

// WorkQueue is a bounded, priority FIFO of report IDs awaiting automated
// remediation. All state lives behind one mutex; enqueue is idempotent per
// report ID and delayed items stay invisible to Dequeue until their
// not-before time.
type WorkQueue struct {
	mu       sync.Mutex
	wake     chan struct{} // Closed and replaced to broadcast state changes
	items    []*Item
	members  map[string]bool
	maxDepth int
	nextSeq  uint64
	closed   bool
}

// New creates a work queue with the given depth bound (0 uses the default)
func New(maxDepth int) *WorkQueue {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &WorkQueue{
		wake:     make(chan struct{}),
		members:  make(map[string]bool),
		maxDepth: maxDepth,
	}
}

// broadcastLocked wakes every blocked Dequeue. Callers must hold q.mu.
func (q *WorkQueue) broadcastLocked() {
	close(q.wake)
	q.wake = make(chan struct{})
}

// Enqueue adds a report to the queue. Enqueueing an ID that is already
// present is a silent no-op, so double submission can never produce double
// processing.
func (q *WorkQueue) Enqueue(reportID string, priority int) error {
	return q.add(reportID, priority, 0, time.Time{})
}

// RequeueAfter re-inserts a report that must not be dequeued until delay
// has elapsed. Used for retry backoff after transient agent failures.
func (q *WorkQueue) RequeueAfter(reportID string, priority, attempts int, delay time.Duration) error {
	return q.add(reportID, priority, attempts, time.Now().Add(delay))
}

func (q *WorkQueue) add(reportID string, priority, attempts int, notBefore time.Time) error {
	if reportID == "" {
		return fmt.Errorf("report ID is required")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if q.members[reportID] {
		return nil // Idempotent enqueue
	}
	if len(q.items) >= q.maxDepth {
		return fmt.Errorf("%w: depth %d", ErrQueueFull, q.maxDepth)
	}

	q.nextSeq++
	q.items = append(q.items, &Item{
		ReportID:  reportID,
		Priority:  priority,
		Attempts:  attempts,
		NotBefore: notBefore,
		seq:       q.nextSeq,
	})
	q.members[reportID] = true
	q.broadcastLocked()
	return nil
}

// pickLocked returns the best eligible item, or the duration until the
// soonest delayed item becomes eligible (0 if the queue is empty).
// Eligibility: not_before has passed. Order: priority, then insertion.
func (q *WorkQueue) pickLocked(now time.Time) (*Item, time.Duration) {
	var best *Item
	var soonest time.Duration
	for _, item := range q.items {
		if item.NotBefore.After(now) {
			if wait := item.NotBefore.Sub(now); soonest == 0 || wait < soonest {
				soonest = wait
			}
			continue
		}
		if best == nil || item.Priority < best.Priority ||
			(item.Priority == best.Priority && item.seq < best.seq) {
			best = item
		}
	}
	return best, soonest
}

func (q *WorkQueue) removeLocked(target *Item) {
	for i, item := range q.items {
		if item == target {
			q.items = append(q.items[:i], q.items[i+1:]...)
			break
		}
	}
	delete(q.members, target.ReportID)
}

// Dequeue blocks until an eligible item is available and returns it.
// Multiple workers may call Dequeue concurrently; each item is handed to
// exactly one of them. Returns ErrQueueClosed after Close, or the context
// error on cancellation.
func (q *WorkQueue) Dequeue(ctx context.Context) (*Item, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, ErrQueueClosed
		}

		best, soonest := q.pickLocked(time.Now())
		if best != nil {
			q.removeLocked(best)
			q.mu.Unlock()
			return best, nil
		}
		wake := q.wake
		q.mu.Unlock()

		// Nothing eligible: wait for an enqueue, the soonest delayed item,
		// or cancellation
		var timer *time.Timer
		var timerC <-chan time.Time
		if soonest > 0 {
			timer = time.NewTimer(soonest)
			timerC = timer.C
		}
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil, ctx.Err()
		case <-wake:
			if timer != nil {
				timer.Stop()
			}
		case <-timerC:
		}
	}
}

// Contains reports whether a report ID is currently in the queue
// (including items delayed by RequeueAfter)
func (q *WorkQueue) Contains(reportID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.members[reportID]
}

// Len returns the number of queued items, including delayed ones
func (q *WorkQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close shuts the queue down. Blocked and future Dequeue calls return
// ErrQueueClosed; future Enqueue calls are rejected.
func (q *WorkQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.broadcastLocked()
}

// Rebuild repopulates the queue from storage after a restart: every
// automation-eligible report still in new or triaged is re-enqueued.
// Returns the number of reports enqueued.
func (q *WorkQueue) Rebuild(ctx context.Context, store storage.Storage, maxAttempts int) (int, error) {
	count := 0
	for _, status := range []types.Status{types.StatusNew, types.StatusTriaged} {
		status := status
		reports, err := store.ListReports(ctx, types.ReportFilter{Status: &status})
		if err != nil {
			return count, fmt.Errorf("failed to scan %s reports: %w", status, err)
		}
		for _, report := range reports {
			if !report.Severity.AutomationEligible() {
				continue
			}
			if maxAttempts > 0 && report.AttemptCount >= maxAttempts {
				// Retries exhausted, left for manual intervention
				continue
			}
			if err := q.Enqueue(report.ID, report.Severity.QueuePriority()); err != nil {
				return count, fmt.Errorf("failed to enqueue %s: %w", report.ID, err)
			}
			count++
		}
	}
	return count, nil
}
