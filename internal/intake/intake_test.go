package intake

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelforge/remedy/internal/dedup"
	"github.com/pixelforge/remedy/internal/queue"
	"github.com/pixelforge/remedy/internal/storage"
	"github.com/pixelforge/remedy/internal/types"
)

func newTestService(t *testing.T) (*Service, storage.Storage, *queue.WorkQueue) {
	t.Helper()
	ctx := context.Background()

	store, err := storage.NewStorage(ctx, &storage.Config{Path: t.TempDir() + "/intake-test.db"})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	index, err := dedup.NewIndex(store)
	require.NoError(t, err)

	q := queue.New(0)
	t.Cleanup(q.Close)

	svc, err := NewService(store, index, q)
	require.NoError(t, err)
	return svc, store, q
}

func testSubmission() *types.Submission {
	return &types.Submission{
		CorrelationID: "req-7c2f",
		Title:         "prompt editor loses focus after paste",
		Description:   "Pasting a prompt longer than 2k chars blurs the editor",
		ErrorMessage:  "RangeError: Maximum call stack size exceeded",
		StackTrace:    "at applyEdit (/app/src/editor.js:88:13)\nat onPaste (/app/src/editor.js:40:5)",
		Route:         "/studio/editor",
		Environment:   `{"browser":"chrome","viewport":"1440x900"}`,
		Severity:      types.SeverityHigh,
	}
}

func TestSubmitStoresEnrichedReport(t *testing.T) {
	svc, store, q := newTestService(t)
	ctx := context.Background()

	receipt, err := svc.Submit(ctx, testSubmission())
	require.NoError(t, err)
	assert.Equal(t, types.StatusNew, receipt.Status)
	assert.True(t, receipt.Enqueued)
	assert.False(t, receipt.Duplicate)
	assert.True(t, strings.HasPrefix(receipt.ReportID, "rpt-"))
	assert.True(t, strings.HasPrefix(receipt.GroupID, "grp-"))
	assert.True(t, q.Contains(receipt.ReportID))

	report, err := store.GetReport(ctx, receipt.ReportID)
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, "req-7c2f", report.CorrelationID)
	assert.Equal(t, types.SeverityHigh, report.Severity)
	assert.Equal(t, receipt.GroupID, report.GroupID)
	assert.Equal(t, types.VerificationPending, report.Verification)
	assert.WithinDuration(t, time.Now(), report.CreatedAt, 5*time.Second)
}

func TestSubmitDefaultsSeverityToMedium(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	sub := testSubmission()
	sub.Severity = ""
	receipt, err := svc.Submit(ctx, sub)
	require.NoError(t, err)
	assert.Equal(t, types.SeverityMedium, receipt.Severity)

	report, err := store.GetReport(ctx, receipt.ReportID)
	require.NoError(t, err)
	assert.Equal(t, types.SeverityMedium, report.Severity)
}

func TestSubmitRejectsInvalidSubmission(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	sub := testSubmission()
	sub.Title = ""
	_, err := svc.Submit(ctx, sub)
	assert.Error(t, err)

	sub = testSubmission()
	sub.ErrorMessage = ""
	_, err = svc.Submit(ctx, sub)
	assert.Error(t, err)

	sub = testSubmission()
	sub.Environment = "not json"
	_, err = svc.Submit(ctx, sub)
	assert.Error(t, err)
}

func TestSubmitDuplicateJoinsExistingGroup(t *testing.T) {
	svc, store, q := newTestService(t)
	ctx := context.Background()

	first, err := svc.Submit(ctx, testSubmission())
	require.NoError(t, err)

	// Same failure from another user: different correlation ID and line
	// numbers, same underlying signal
	dup := testSubmission()
	dup.CorrelationID = "req-91aa"
	dup.StackTrace = "at applyEdit (/app/src/editor.js:91:2)\nat onPaste (/app/src/editor.js:40:5)"
	second, err := svc.Submit(ctx, dup)
	require.NoError(t, err)

	assert.NotEqual(t, first.ReportID, second.ReportID, "duplicates are full reports, not dropped")
	assert.Equal(t, first.GroupID, second.GroupID)
	assert.True(t, second.Duplicate)

	group, err := store.GetGroup(ctx, first.GroupID)
	require.NoError(t, err)
	require.NotNil(t, group)
	assert.Equal(t, 2, group.OccurrenceCount)
	assert.True(t, q.Contains(first.ReportID))
	assert.True(t, q.Contains(second.ReportID))
}

func TestSubmitDistinctSignalsGetDistinctGroups(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.Submit(ctx, testSubmission())
	require.NoError(t, err)

	other := testSubmission()
	other.ErrorMessage = "TypeError: img is null"
	other.Route = "/gallery"
	second, err := svc.Submit(ctx, other)
	require.NoError(t, err)

	assert.NotEqual(t, first.GroupID, second.GroupID)
}

func TestSubmitCriticalIsStoredButNotEnqueued(t *testing.T) {
	svc, store, q := newTestService(t)
	ctx := context.Background()

	sub := testSubmission()
	sub.Severity = types.SeverityCritical
	receipt, err := svc.Submit(ctx, sub)
	require.NoError(t, err)
	assert.False(t, receipt.Enqueued)
	assert.False(t, q.Contains(receipt.ReportID))

	report, err := store.GetReport(ctx, receipt.ReportID)
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, types.StatusNew, report.Status, "critical reports still enter the tracker")
}

func TestSubmitFullQueueStillStoresReport(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewStorage(ctx, &storage.Config{Path: t.TempDir() + "/intake-full.db"})
	require.NoError(t, err)
	defer store.Close()

	index, err := dedup.NewIndex(store)
	require.NoError(t, err)
	q := queue.New(1)
	defer q.Close()
	require.NoError(t, q.Enqueue("rpt-occupied", 1))

	svc, err := NewService(store, index, q)
	require.NoError(t, err)

	receipt, err := svc.Submit(ctx, testSubmission())
	require.Error(t, err, "a full queue is reported to the caller")
	require.NotNil(t, receipt, "the receipt still identifies the stored report")
	assert.False(t, receipt.Enqueued)

	report, getErr := store.GetReport(ctx, receipt.ReportID)
	require.NoError(t, getErr)
	assert.NotNil(t, report, "storage must not be rolled back on queue overflow")
}

func TestSubmitWithoutQueue(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewStorage(ctx, &storage.Config{Path: t.TempDir() + "/intake-noq.db"})
	require.NoError(t, err)
	defer store.Close()

	index, err := dedup.NewIndex(store)
	require.NoError(t, err)

	svc, err := NewService(store, index, nil)
	require.NoError(t, err)

	receipt, err := svc.Submit(ctx, testSubmission())
	require.NoError(t, err)
	assert.False(t, receipt.Enqueued)
}
