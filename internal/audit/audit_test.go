package audit

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/bakkerme/culler/internal/core"
)

func sampleRun(id string, startedAt time.Time) *core.Run {
	completed := startedAt.Add(time.Second)
	return &core.Run{
		ID:          id,
		Job:         "tabs",
		StartedAt:   startedAt,
		CompletedAt: &completed,
		Status:      core.RunStatusCompleted,
		RemovalSet:  core.NewRemovalSet("t2", "t3"),
		Outcomes: []core.RemovalOutcome{
			{ID: "t2", Status: core.OutcomeSucceeded, Attempts: 1},
			{ID: "t3", Status: core.OutcomeSkipped, Reason: "not found", Attempts: 1},
		},
		Summary: core.Summary{ResourcesSeen: 3, GroupsFound: 1, SurvivorsKept: 1, RemovalsIssued: 2, RemovalsSucceeded: 1, RemovalsSkipped: 1},
	}
}

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	sqliteStore, err := NewSQLiteStore(filepath.Join(t.TempDir(), "audit.db"), "")
	if err != nil {
		t.Fatalf("failed to init sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = sqliteStore.Close() })

	badgerStore, err := NewBadgerStore(filepath.Join(t.TempDir(), "badger"))
	if err != nil {
		t.Fatalf("failed to init badger store: %v", err)
	}
	t.Cleanup(func() { _ = badgerStore.Close() })

	return map[string]Store{"sqlite": sqliteStore, "badger": badgerStore}
}

func TestStoreRecordAndGet(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			run := sampleRun("run-1", time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
			if err := store.Record(ctx, run); err != nil {
				t.Fatalf("record failed: %v", err)
			}

			got, err := store.Get(ctx, "run-1")
			if err != nil {
				t.Fatalf("get failed: %v", err)
			}
			if got.Job != "tabs" || got.Status != core.RunStatusCompleted {
				t.Fatalf("unexpected run %+v", got)
			}
			if len(got.Outcomes) != 2 || got.Outcomes[1].Status != core.OutcomeSkipped || got.Outcomes[1].Reason != "not found" {
				t.Fatalf("unexpected outcomes %+v", got.Outcomes)
			}
			if got.RemovalSet.Len() != 2 || !got.RemovalSet.Has("t3") {
				t.Fatalf("unexpected removal set %v", got.RemovalSet.IDs())
			}
			if got.Summary.RemovalsSkipped != 1 {
				t.Fatalf("unexpected summary %+v", got.Summary)
			}
		})
	}
}

func TestStoreRecordReplacesOutcomes(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			run := sampleRun("run-1", time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
			if err := store.Record(ctx, run); err != nil {
				t.Fatalf("record failed: %v", err)
			}
			run.Outcomes = run.Outcomes[:1]
			run.Status = core.RunStatusFailed
			if err := store.Record(ctx, run); err != nil {
				t.Fatalf("second record failed: %v", err)
			}

			got, err := store.Get(ctx, "run-1")
			if err != nil {
				t.Fatalf("get failed: %v", err)
			}
			if len(got.Outcomes) != 1 || got.Status != core.RunStatusFailed {
				t.Fatalf("expected updated run, got %+v", got)
			}
		})
	}
}

func TestStoreGetMissing(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get(context.Background(), "nope")
			if !errors.Is(err, ErrRunNotFound) {
				t.Fatalf("expected ErrRunNotFound, got %v", err)
			}
		})
	}
}

func TestStoreListNewestFirst(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
			for i, id := range []string{"old", "mid", "new"} {
				if err := store.Record(ctx, sampleRun(id, base.Add(time.Duration(i)*time.Hour))); err != nil {
					t.Fatalf("record failed: %v", err)
				}
			}

			runs, err := store.List(ctx, 2)
			if err != nil {
				t.Fatalf("list failed: %v", err)
			}
			if len(runs) != 2 || runs[0].ID != "new" || runs[1].ID != "mid" {
				t.Fatalf("unexpected order: %+v", runs)
			}
		})
	}
}

func TestStoreRejectsRunWithoutID(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			if err := store.Record(context.Background(), &core.Run{}); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestOpen(t *testing.T) {
	store, err := Open("", "")
	if err != nil || store != nil {
		t.Fatalf("expected no store for empty driver, got %v, %v", store, err)
	}
	if _, err := Open("postgres", "x"); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
	store, err = Open("sqlite", filepath.Join(t.TempDir(), "a.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	_ = store.Close()
}

func TestSQLiteStoreRejectsBadPrefix(t *testing.T) {
	if _, err := NewSQLiteStore(filepath.Join(t.TempDir(), "a.db"), "bad-prefix"); err == nil {
		t.Fatalf("expected invalid identifier error")
	}
}
