package runstore

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	domain "github.com/jinbowang1/ctdr-go/internal/domain/experiment"
)

func storesUnderTest(t *testing.T) map[string]RunStore {
	t.Helper()

	sqliteStore, err := NewSQLiteRunStore(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("failed to open sqlite store: %v", err)
	}

	stores := map[string]RunStore{
		"memory": NewMemoryRunStore(),
		"sqlite": sqliteStore,
	}
	t.Cleanup(func() {
		for _, store := range stores {
			_ = store.Close()
		}
	})
	return stores
}

func makeRun(id string, startedAt time.Time) *domain.Run {
	return &domain.Run{
		ID:        id,
		Name:      "run " + id,
		Status:    domain.RunStatusRunning,
		Config:    json.RawMessage(`{"tasks":3}`),
		StartedAt: startedAt,
	}
}

func TestRunStore_CreateGetList(t *testing.T) {
	base := time.Now().Add(-time.Hour).Truncate(time.Millisecond)

	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			for i, id := range []string{"run-a", "run-b", "run-c"} {
				if err := store.CreateRun(ctx, makeRun(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
					t.Fatalf("failed to create run %s: %v", id, err)
				}
			}

			if err := store.CreateRun(ctx, makeRun("run-a", base)); !errors.Is(err, domain.ErrRunExists) {
				t.Fatalf("expected ErrRunExists for duplicate ID, got %v", err)
			}

			run, err := store.GetRun(ctx, "run-b")
			if err != nil {
				t.Fatalf("failed to get run: %v", err)
			}
			if run.Name != "run run-b" || run.Status != domain.RunStatusRunning {
				t.Fatalf("unexpected run contents: %+v", run)
			}
			if string(run.Config) != `{"tasks":3}` {
				t.Fatalf("config did not round-trip, got %s", run.Config)
			}

			if _, err := store.GetRun(ctx, "missing"); !errors.Is(err, domain.ErrRunNotFound) {
				t.Fatalf("expected ErrRunNotFound, got %v", err)
			}

			runs, err := store.ListRuns(ctx, 0)
			if err != nil {
				t.Fatalf("failed to list runs: %v", err)
			}
			if len(runs) != 3 {
				t.Fatalf("expected 3 runs, got %d", len(runs))
			}
			if runs[0].ID != "run-c" || runs[2].ID != "run-a" {
				t.Fatalf("expected most-recent-first ordering, got %s, %s, %s", runs[0].ID, runs[1].ID, runs[2].ID)
			}

			limited, err := store.ListRuns(ctx, 2)
			if err != nil {
				t.Fatalf("failed to list limited runs: %v", err)
			}
			if len(limited) != 2 || limited[0].ID != "run-c" {
				t.Fatalf("expected the 2 most recent runs, got %d starting with %s", len(limited), limited[0].ID)
			}
		})
	}
}

func TestRunStore_StatusTransitions(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if err := store.CreateRun(ctx, makeRun("run-1", time.Now())); err != nil {
				t.Fatalf("failed to create run: %v", err)
			}

			if err := store.UpdateRunStatus(ctx, "run-1", domain.RunStatusFailed, "loss became non-finite"); err != nil {
				t.Fatalf("failed to update status: %v", err)
			}

			run, err := store.GetRun(ctx, "run-1")
			if err != nil {
				t.Fatalf("failed to get run: %v", err)
			}
			if run.Status != domain.RunStatusFailed {
				t.Fatalf("expected failed status, got %s", run.Status)
			}
			if run.Error != "loss became non-finite" {
				t.Fatalf("expected failure message to persist, got %q", run.Error)
			}
			if run.CompletedAt == nil {
				t.Fatal("expected a terminal status to stamp CompletedAt")
			}

			if err := store.UpdateRunStatus(ctx, "missing", domain.RunStatusCompleted, ""); !errors.Is(err, domain.ErrRunNotFound) {
				t.Fatalf("expected ErrRunNotFound, got %v", err)
			}
		})
	}
}

func TestRunStore_TaskResultsRoundTripAndReplace(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if err := store.CreateRun(ctx, makeRun("run-1", time.Now())); err != nil {
				t.Fatalf("failed to create run: %v", err)
			}

			finalized := time.Now().Truncate(time.Millisecond)
			for i := 0; i < 2; i++ {
				result := &domain.TaskResult{
					RunID:       "run-1",
					TaskIndex:   i,
					TaskName:    "task",
					Steps:       10 * (i + 1),
					Examples:    320,
					AvgLoss:     1.5 - float64(i),
					AvgPenalty:  0.25 * float64(i),
					Accuracies:  []float64{0.9, 0.8},
					FinalizedAt: finalized,
				}
				if err := store.SaveTaskResult(ctx, result); err != nil {
					t.Fatalf("failed to save result %d: %v", i, err)
				}
			}

			results, err := store.ListTaskResults(ctx, "run-1")
			if err != nil {
				t.Fatalf("failed to list results: %v", err)
			}
			if len(results) != 2 {
				t.Fatalf("expected 2 results, got %d", len(results))
			}
			if results[0].TaskIndex != 0 || results[1].TaskIndex != 1 {
				t.Fatalf("expected task-order listing, got %d then %d", results[0].TaskIndex, results[1].TaskIndex)
			}
			if results[0].Steps != 10 || results[0].AvgLoss != 1.5 {
				t.Fatalf("result 0 did not round-trip: %+v", results[0])
			}
			if len(results[0].Accuracies) != 2 || results[0].Accuracies[1] != 0.8 {
				t.Fatalf("accuracies did not round-trip: %v", results[0].Accuracies)
			}

			// Saving the same index again replaces the record.
			redo := &domain.TaskResult{
				RunID:       "run-1",
				TaskIndex:   0,
				TaskName:    "task-redone",
				Steps:       99,
				FinalizedAt: finalized,
			}
			if err := store.SaveTaskResult(ctx, redo); err != nil {
				t.Fatalf("failed to replace result: %v", err)
			}
			results, err = store.ListTaskResults(ctx, "run-1")
			if err != nil {
				t.Fatalf("failed to relist results: %v", err)
			}
			if len(results) != 2 || results[0].Steps != 99 || results[0].TaskName != "task-redone" {
				t.Fatalf("expected index 0 to be replaced, got %+v", results[0])
			}

			if err := store.SaveTaskResult(ctx, &domain.TaskResult{RunID: "missing", FinalizedAt: finalized}); !errors.Is(err, domain.ErrRunNotFound) {
				t.Fatalf("expected ErrRunNotFound for orphan result, got %v", err)
			}
		})
	}
}

func TestRunStore_AnchorLifecycle(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if err := store.CreateRun(ctx, makeRun("run-1", time.Now())); err != nil {
				t.Fatalf("failed to create run: %v", err)
			}

			if _, err := store.LatestAnchor(ctx, "run-1"); !errors.Is(err, domain.ErrAnchorNotFound) {
				t.Fatalf("expected ErrAnchorNotFound before any boundary, got %v", err)
			}

			committed := time.Now().Truncate(time.Millisecond)
			for count := 1; count <= 2; count++ {
				record := &domain.AnchorRecord{
					RunID:       "run-1",
					TaskCount:   count,
					Checkpoint:  []float64{0.125 * float64(count), -3.5, 1e-9},
					Importance:  []float64{1.0, 0.5, 0.9999},
					CommittedAt: committed,
				}
				if err := store.SaveAnchor(ctx, record); err != nil {
					t.Fatalf("failed to save anchor %d: %v", count, err)
				}
			}

			latest, err := store.LatestAnchor(ctx, "run-1")
			if err != nil {
				t.Fatalf("failed to load latest anchor: %v", err)
			}
			if latest.TaskCount != 2 {
				t.Fatalf("expected the second boundary, got task count %d", latest.TaskCount)
			}
			wantCheckpoint := []float64{0.25, -3.5, 1e-9}
			for i, v := range latest.Checkpoint {
				if v != wantCheckpoint[i] {
					t.Fatalf("checkpoint did not round-trip at index %d: got %g, want %g", i, v, wantCheckpoint[i])
				}
			}
			if latest.Importance[2] != 0.9999 {
				t.Fatalf("importance did not round-trip: %v", latest.Importance)
			}

			if err := store.SaveAnchor(ctx, &domain.AnchorRecord{RunID: "missing", TaskCount: 1, Checkpoint: []float64{1}, Importance: []float64{1}, CommittedAt: committed}); !errors.Is(err, domain.ErrRunNotFound) {
				t.Fatalf("expected ErrRunNotFound for orphan anchor, got %v", err)
			}
		})
	}
}

func TestRunStore_DeleteRunRemovesEverything(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if err := store.CreateRun(ctx, makeRun("run-1", time.Now())); err != nil {
				t.Fatalf("failed to create run: %v", err)
			}
			if err := store.SaveTaskResult(ctx, &domain.TaskResult{RunID: "run-1", TaskIndex: 0, FinalizedAt: time.Now()}); err != nil {
				t.Fatalf("failed to save result: %v", err)
			}
			if err := store.SaveAnchor(ctx, &domain.AnchorRecord{RunID: "run-1", TaskCount: 1, Checkpoint: []float64{1}, Importance: []float64{1}, CommittedAt: time.Now()}); err != nil {
				t.Fatalf("failed to save anchor: %v", err)
			}

			if err := store.DeleteRun(ctx, "run-1"); err != nil {
				t.Fatalf("failed to delete run: %v", err)
			}

			if _, err := store.GetRun(ctx, "run-1"); !errors.Is(err, domain.ErrRunNotFound) {
				t.Fatalf("expected the run to be gone, got %v", err)
			}
			if _, err := store.ListTaskResults(ctx, "run-1"); !errors.Is(err, domain.ErrRunNotFound) {
				t.Fatalf("expected results to be gone with the run, got %v", err)
			}
			if err := store.DeleteRun(ctx, "run-1"); !errors.Is(err, domain.ErrRunNotFound) {
				t.Fatalf("expected ErrRunNotFound on double delete, got %v", err)
			}
		})
	}
}

func TestRunStore_ClosedStoreRejectsOperations(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if err := store.Close(); err != nil {
				t.Fatalf("failed to close store: %v", err)
			}

			if err := store.CreateRun(ctx, makeRun("run-1", time.Now())); !errors.Is(err, domain.ErrStoreClosed) {
				t.Fatalf("expected ErrStoreClosed from CreateRun, got %v", err)
			}
			if _, err := store.ListRuns(ctx, 0); !errors.Is(err, domain.ErrStoreClosed) {
				t.Fatalf("expected ErrStoreClosed from ListRuns, got %v", err)
			}
		})
	}
}

func TestMemoryRunStore_ReturnsDefensiveCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRunStore()

	if err := store.CreateRun(ctx, makeRun("run-1", time.Now())); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}
	if err := store.SaveAnchor(ctx, &domain.AnchorRecord{
		RunID:       "run-1",
		TaskCount:   1,
		Checkpoint:  []float64{1.0, 2.0},
		Importance:  []float64{1.0, 1.0},
		CommittedAt: time.Now(),
	}); err != nil {
		t.Fatalf("failed to save anchor: %v", err)
	}

	run, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	run.Name = "tampered"

	anchor, err := store.LatestAnchor(ctx, "run-1")
	if err != nil {
		t.Fatalf("failed to load anchor: %v", err)
	}
	anchor.Checkpoint[0] = 999

	storedRun, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("failed to reload run: %v", err)
	}
	if storedRun.Name != "run run-1" {
		t.Fatalf("expected stored run name to remain unchanged, got %q", storedRun.Name)
	}

	storedAnchor, err := store.LatestAnchor(ctx, "run-1")
	if err != nil {
		t.Fatalf("failed to reload anchor: %v", err)
	}
	if storedAnchor.Checkpoint[0] != 1.0 {
		t.Fatalf("expected stored checkpoint to remain unchanged, got %g", storedAnchor.Checkpoint[0])
	}
}

func TestSQLiteRunStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "runs.db")

	store, err := NewSQLiteRunStore(dbPath)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if err := store.CreateRun(ctx, makeRun("run-1", time.Now())); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}
	if err := store.SaveAnchor(ctx, &domain.AnchorRecord{
		RunID:       "run-1",
		TaskCount:   1,
		Checkpoint:  []float64{0.5},
		Importance:  []float64{1.0},
		CommittedAt: time.Now(),
	}); err != nil {
		t.Fatalf("failed to save anchor: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}

	reopened, err := NewSQLiteRunStore(dbPath)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer reopened.Close()

	run, err := reopened.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("expected the run to survive a reopen: %v", err)
	}
	if run.ID != "run-1" {
		t.Fatalf("unexpected run after reopen: %+v", run)
	}
	anchor, err := reopened.LatestAnchor(ctx, "run-1")
	if err != nil {
		t.Fatalf("expected the anchor to survive a reopen: %v", err)
	}
	if anchor.Checkpoint[0] != 0.5 {
		t.Fatalf("anchor did not survive the reopen intact: %v", anchor.Checkpoint)
	}
}
