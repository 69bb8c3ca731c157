package main

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pixelforge/remedy/internal/storage"
	"github.com/pixelforge/remedy/internal/types"
)

// withTestStore points the command globals at a temp database
func withTestStore(t *testing.T) storage.Storage {
	t.Helper()
	ctx := context.Background()

	testStore, err := storage.NewStorage(ctx, &storage.Config{
		Path: filepath.Join(t.TempDir(), "remedy.db"),
	})
	if err != nil {
		t.Fatalf("Failed to create test storage: %v", err)
	}
	t.Cleanup(func() { testStore.Close() })

	originalStore := store
	store = testStore
	t.Cleanup(func() { store = originalStore })
	return testStore
}

func createCommandTestReport(t *testing.T, testStore storage.Storage) *types.BugReport {
	t.Helper()
	ctx := context.Background()

	group, err := testStore.ResolveGroup(ctx, "hash-"+t.Name())
	if err != nil {
		t.Fatalf("Failed to resolve group: %v", err)
	}
	report := &types.BugReport{
		Title:        "Variations grid renders blank tiles",
		ErrorMessage: "TypeError: tile.src is undefined",
		Route:        "/studio/variations",
		Severity:     types.SeverityMedium,
		Status:       types.StatusNew,
		GroupID:      group.ID,
		Verification: types.VerificationPending,
	}
	if err := testStore.CreateReport(ctx, report, "intake"); err != nil {
		t.Fatalf("Failed to create report: %v", err)
	}
	return report
}

func TestTransitionCommandMovesReport(t *testing.T) {
	testStore := withTestStore(t)
	report := createCommandTestReport(t, testStore)

	if err := transitionCmd.RunE(transitionCmd, []string{report.ID, "in_progress"}); err != nil {
		t.Fatalf("Transition command failed: %v", err)
	}

	updated, err := testStore.GetReport(context.Background(), report.ID)
	if err != nil {
		t.Fatalf("Failed to get report: %v", err)
	}
	if updated.Status != types.StatusInProgress {
		t.Errorf("Expected in_progress, got %s", updated.Status)
	}
	if updated.StartedAt == nil {
		t.Error("Expected started_at to be stamped")
	}
}

func TestTransitionCommandRejectsIllegalEdge(t *testing.T) {
	testStore := withTestStore(t)
	report := createCommandTestReport(t, testStore)

	err := transitionCmd.RunE(transitionCmd, []string{report.ID, "resolved"})
	if err == nil {
		t.Fatal("Expected error for new → resolved")
	}
	// The rejection spells out where the report can go instead
	if !strings.Contains(err.Error(), "valid:") {
		t.Errorf("Expected valid targets in the error, got: %v", err)
	}

	updated, getErr := testStore.GetReport(context.Background(), report.ID)
	if getErr != nil {
		t.Fatalf("Failed to get report: %v", getErr)
	}
	if updated.Status != types.StatusNew {
		t.Errorf("Rejected transition must not move the report, got %s", updated.Status)
	}
}

func TestTransitionCommandUnknownReport(t *testing.T) {
	withTestStore(t)

	if err := transitionCmd.RunE(transitionCmd, []string{"rpt-999", "in_progress"}); err == nil {
		t.Fatal("Expected error for unknown report")
	}
}

func TestNoteCommandAppendsEvent(t *testing.T) {
	testStore := withTestStore(t)
	report := createCommandTestReport(t, testStore)

	if err := noteCmd.RunE(noteCmd, []string{report.ID, "reproduced on staging"}); err != nil {
		t.Fatalf("Note command failed: %v", err)
	}

	events, err := testStore.GetEvents(context.Background(), report.ID, 0)
	if err != nil {
		t.Fatalf("Failed to get events: %v", err)
	}
	last := events[len(events)-1]
	if last.EventType != types.EventNote {
		t.Errorf("Expected a note event, got %s", last.EventType)
	}
	if !strings.Contains(last.Detail, "reproduced on staging") {
		t.Errorf("Expected note text in detail, got %q", last.Detail)
	}
}
