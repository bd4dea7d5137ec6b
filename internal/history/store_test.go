package history

import (
	"testing"
	"time"

	"git.home.luguber.info/inful/autobuild/internal/daemon/events"
)

func testRun(profile, runID, status string, exitCode int, finished time.Time) events.RunFinished {
	return events.RunFinished{
		Profile:    profile,
		RunID:      runID,
		PID:        1234,
		Status:     status,
		ExitCode:   exitCode,
		Note:       "exit code 1",
		LogFile:    "/tmp/" + runID + ".log",
		StartedAt:  finished.Add(-3 * time.Second),
		FinishedAt: finished,
	}
}

func TestHistoryRecordAndListByProfile(t *testing.T) {
	store, err := NewStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer func() { _ = store.Close() }()

	ctx := t.Context()
	now := time.Now().UTC().Truncate(time.Millisecond)

	if err := store.Record(ctx, testRun("web", "run-1", "failed", 1, now)); err != nil {
		t.Fatalf("failed to record run: %v", err)
	}
	if err := store.Record(ctx, testRun("web", "run-2", "succeeded", 0, now.Add(time.Second))); err != nil {
		t.Fatalf("failed to record run: %v", err)
	}
	if err := store.Record(ctx, testRun("api", "run-3", "succeeded", 0, now.Add(2*time.Second))); err != nil {
		t.Fatalf("failed to record run: %v", err)
	}

	runs, err := store.ListByProfile(ctx, "web", 0)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs for web, got %d", len(runs))
	}
	if runs[0].RunID != "run-2" {
		t.Errorf("expected newest run first, got %s", runs[0].RunID)
	}
	if runs[1].Status != "failed" || runs[1].ExitCode != 1 {
		t.Errorf("unexpected run row: %+v", runs[1])
	}
	if !runs[1].FinishedAt.Equal(now) {
		t.Errorf("expected finished_at %v, got %v", now, runs[1].FinishedAt)
	}
	if runs[1].Note != "exit code 1" {
		t.Errorf("expected note to round-trip, got %q", runs[1].Note)
	}
}

func TestHistoryListRecentAppliesLimit(t *testing.T) {
	store, err := NewStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer func() { _ = store.Close() }()

	ctx := t.Context()
	now := time.Now().UTC()

	for i := range 5 {
		run := testRun("web", "run", "succeeded", 0, now.Add(time.Duration(i)*time.Second))
		run.RunID = run.RunID + "-" + string(rune('a'+i))
		if err := store.Record(ctx, run); err != nil {
			t.Fatalf("failed to record run: %v", err)
		}
	}

	runs, err := store.ListRecent(ctx, 3)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(runs))
	}
	if runs[0].RunID != "run-e" {
		t.Errorf("expected newest run first, got %s", runs[0].RunID)
	}
}

func TestHistoryListUnknownProfileIsEmpty(t *testing.T) {
	store, err := NewStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer func() { _ = store.Close() }()

	runs, err := store.ListByProfile(t.Context(), "ghost", 10)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("expected no runs, got %d", len(runs))
	}
}
