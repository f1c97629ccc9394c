package run

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/tombee/promptflow/pkg/errors"
)

func createTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := NewSQLiteStore(SQLiteConfig{Path: dbPath, WAL: true})
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_CreateGetUpdate(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	r := &Run{
		ID:            "run-1",
		Name:          "classify-flow",
		FlowPath:      "./flows/classify",
		Status:        StatusRunning,
		Inputs:        map[string]any{"topic": "refund"},
		InputsMapping: map[string]string{"topic": "${data.topic}"},
		BatchSize:     3,
	}
	if err := store.Create(ctx, r); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := store.Get(ctx, "run-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "classify-flow" || got.BatchSize != 3 || got.Inputs["topic"] != "refund" {
		t.Fatalf("unexpected run: %+v", got)
	}

	got.Status = StatusCompleted
	got.Completed = 3
	if err := store.Update(ctx, got); err != nil {
		t.Fatalf("Update: %v", err)
	}

	reread, err := store.Get(ctx, "run-1")
	if err != nil {
		t.Fatalf("Get after update: %v", err)
	}
	if reread.Status != StatusCompleted || reread.Completed != 3 {
		t.Fatalf("expected update to persist, got %+v", reread)
	}
}

func TestSQLiteStore_GetMissingErrors(t *testing.T) {
	store := createTestStore(t)
	_, err := store.Get(context.Background(), "nope")
	if _, ok := err.(*errors.RunNotFoundError); !ok {
		t.Fatalf("expected *errors.RunNotFoundError, got %T: %v", err, err)
	}
}

func TestSQLiteStore_CreateDuplicateErrors(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()
	r := &Run{ID: "run-1", Name: "n", FlowPath: "p", Status: StatusRunning}
	if err := store.Create(ctx, r); err != nil {
		t.Fatalf("Create: %v", err)
	}
	err := store.Create(ctx, r)
	if _, ok := err.(*errors.RunExistsError); !ok {
		t.Fatalf("expected *errors.RunExistsError, got %T: %v", err, err)
	}
}

func TestSQLiteStore_ListFiltersByStatus(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	for i, st := range []Status{StatusCompleted, StatusFailed, StatusCompleted} {
		r := &Run{ID: string(rune('a' + i)), Name: "n", FlowPath: "p", Status: st}
		if err := store.Create(ctx, r); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	completed, err := store.List(ctx, Filter{Status: StatusCompleted})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(completed) != 2 {
		t.Fatalf("expected 2 completed runs, got %d", len(completed))
	}
}

func TestSQLiteStore_DeleteRemovesRun(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()
	r := &Run{ID: "run-1", Name: "n", FlowPath: "p", Status: StatusRunning}
	if err := store.Create(ctx, r); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Delete(ctx, "run-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, "run-1"); err == nil {
		t.Fatalf("expected deleted run to be gone")
	}
}
