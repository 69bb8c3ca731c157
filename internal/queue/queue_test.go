package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelforge/remedy/internal/storage"
	"github.com/pixelforge/remedy/internal/types"
)

func TestEnqueueDequeueFIFO(t *testing.T) {
	q := New(0)
	defer q.Close()

	require.NoError(t, q.Enqueue("rpt-1", 2))
	require.NoError(t, q.Enqueue("rpt-2", 2))
	require.NoError(t, q.Enqueue("rpt-3", 2))

	ctx := context.Background()
	for _, want := range []string{"rpt-1", "rpt-2", "rpt-3"} {
		item, err := q.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, item.ReportID)
	}
	assert.Equal(t, 0, q.Len())
}

func TestDequeuePriorityBeforeFIFO(t *testing.T) {
	q := New(0)
	defer q.Close()

	require.NoError(t, q.Enqueue("rpt-low", 3))
	require.NoError(t, q.Enqueue("rpt-medium", 2))
	require.NoError(t, q.Enqueue("rpt-high", 1))
	require.NoError(t, q.Enqueue("rpt-high-2", 1))

	ctx := context.Background()
	for _, want := range []string{"rpt-high", "rpt-high-2", "rpt-medium", "rpt-low"} {
		item, err := q.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, item.ReportID, "priority order then insertion order")
	}
}

func TestEnqueueIdempotent(t *testing.T) {
	q := New(0)
	defer q.Close()

	require.NoError(t, q.Enqueue("rpt-1", 2))
	require.NoError(t, q.Enqueue("rpt-1", 2))
	require.NoError(t, q.Enqueue("rpt-1", 1))

	assert.Equal(t, 1, q.Len(), "duplicate enqueues must not grow the queue")

	item, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "rpt-1", item.ReportID)
	assert.Equal(t, 2, item.Priority, "first enqueue wins")
	assert.Equal(t, 0, q.Len())
}

func TestEnqueueBoundedDepth(t *testing.T) {
	q := New(2)
	defer q.Close()

	require.NoError(t, q.Enqueue("rpt-1", 2))
	require.NoError(t, q.Enqueue("rpt-2", 2))

	err := q.Enqueue("rpt-3", 2)
	assert.ErrorIs(t, err, ErrQueueFull)

	// A duplicate of a queued ID is still a no-op, not a full error
	assert.NoError(t, q.Enqueue("rpt-1", 2))

	// Draining one slot makes room again
	_, err = q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.NoError(t, q.Enqueue("rpt-3", 2))
}

func TestDequeueBlocksUntilEnqueue(t *testing.T) {
	q := New(0)
	defer q.Close()

	got := make(chan string, 1)
	go func() {
		item, err := q.Dequeue(context.Background())
		if err != nil {
			got <- "error: " + err.Error()
			return
		}
		got <- item.ReportID
	}()

	select {
	case id := <-got:
		t.Fatalf("Dequeue returned %q before anything was enqueued", id)
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, q.Enqueue("rpt-1", 2))

	select {
	case id := <-got:
		assert.Equal(t, "rpt-1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("Dequeue did not wake after enqueue")
	}
}

func TestDequeueContextCancel(t *testing.T) {
	q := New(0)
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRequeueAfterDelaysVisibility(t *testing.T) {
	q := New(0)
	defer q.Close()

	require.NoError(t, q.RequeueAfter("rpt-1", 2, 1, 80*time.Millisecond))
	assert.True(t, q.Contains("rpt-1"), "delayed items count as queued")

	// Before the delay elapses the item is invisible
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	_, err := q.Dequeue(ctx)
	cancel()
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, q.Len())

	// After the delay it surfaces without any new enqueue
	start := time.Now()
	item, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "rpt-1", item.ReportID)
	assert.Equal(t, 1, item.Attempts)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestDelayedItemDoesNotBlockEligibleOnes(t *testing.T) {
	q := New(0)
	defer q.Close()

	require.NoError(t, q.RequeueAfter("rpt-delayed", 1, 1, time.Hour))
	require.NoError(t, q.Enqueue("rpt-ready", 3))

	item, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "rpt-ready", item.ReportID, "an eligible low-priority item beats an ineligible high-priority one")
}

func TestCloseWakesBlockedDequeue(t *testing.T) {
	q := New(0)

	errCh := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(context.Background())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrQueueClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Dequeue did not return after Close")
	}

	assert.ErrorIs(t, q.Enqueue("rpt-1", 2), ErrQueueClosed)
	_, err := q.Dequeue(context.Background())
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestConcurrentDequeueNoDoubleDelivery(t *testing.T) {
	q := New(0)
	defer q.Close()

	const n = 20
	for i := 0; i < n; i++ {
		require.NoError(t, q.Enqueue(fmt.Sprintf("rpt-%d", i), 2))
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
				item, err := q.Dequeue(ctx)
				cancel()
				if err != nil {
					return
				}
				mu.Lock()
				seen[item.ReportID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
	for id, count := range seen {
		assert.Equal(t, 1, count, "%s delivered more than once", id)
	}
}

func TestRebuildFromStorage(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewStorage(ctx, &storage.Config{Path: t.TempDir() + "/queue-test.db"})
	require.NoError(t, err)
	defer store.Close()

	mkReport := func(severity types.Severity, attempts int) *types.BugReport {
		group, err := store.ResolveGroup(ctx, fmt.Sprintf("hash-%s-%d-%d", severity, attempts, time.Now().UnixNano()))
		require.NoError(t, err)
		report := &types.BugReport{
			Title:        "render pipeline stalls on upscale",
			ErrorMessage: "context deadline exceeded",
			Environment:  "{}",
			Severity:     severity,
			Status:       types.StatusNew,
			GroupID:      group.ID,
			AttemptCount: attempts,
			Verification: types.VerificationPending,
		}
		require.NoError(t, store.CreateReport(ctx, report, "test"))
		return report
	}

	eligible := mkReport(types.SeverityHigh, 0)
	partway := mkReport(types.SeverityMedium, 2)
	mkReport(types.SeverityCritical, 0) // excluded from automation
	exhausted := mkReport(types.SeverityLow, 3)
	done := mkReport(types.SeverityHigh, 0)
	for _, to := range []types.Status{types.StatusInProgress, types.StatusAwaitingVerification, types.StatusResolved} {
		from := done.Status
		done, err = store.ApplyTransition(ctx, done.ID, from, to, "worker", "")
		require.NoError(t, err)
	}

	q := New(0)
	defer q.Close()

	count, err := q.Rebuild(ctx, store, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.True(t, q.Contains(eligible.ID))
	assert.True(t, q.Contains(partway.ID))
	assert.False(t, q.Contains(exhausted.ID), "reports at the attempt cap stay out of the queue")
	assert.False(t, q.Contains(done.ID), "resolved reports are not requeued")

	// High severity rebuilds ahead of medium regardless of creation order
	item, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, eligible.ID, item.ReportID)
}
