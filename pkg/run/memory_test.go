package run

import (
	"context"
	"testing"

	"github.com/tombee/promptflow/pkg/errors"
)

func TestMemoryStore_CreateGetUpdate(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	r := &Run{ID: "run-1", Name: "classify-flow", FlowPath: "./flows/classify", Status: StatusRunning}
	if err := store.Create(ctx, r); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := store.Get(ctx, "run-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "classify-flow" || got.Status != StatusRunning {
		t.Fatalf("unexpected run: %+v", got)
	}

	got.Status = StatusCompleted
	if err := store.Update(ctx, got); err != nil {
		t.Fatalf("Update: %v", err)
	}

	reread, err := store.Get(ctx, "run-1")
	if err != nil {
		t.Fatalf("Get after update: %v", err)
	}
	if reread.Status != StatusCompleted {
		t.Fatalf("expected updated status to persist, got %v", reread.Status)
	}
}

func TestMemoryStore_CreateDuplicateErrors(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	r := &Run{ID: "run-1", Name: "n", FlowPath: "p"}
	if err := store.Create(ctx, r); err != nil {
		t.Fatalf("Create: %v", err)
	}
	err := store.Create(ctx, r)
	if err == nil {
		t.Fatalf("expected duplicate create to fail")
	}
	if _, ok := err.(*errors.RunExistsError); !ok {
		t.Fatalf("expected *errors.RunExistsError, got %T", err)
	}
}

func TestMemoryStore_GetMissingErrors(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Get(context.Background(), "nope")
	if _, ok := err.(*errors.RunNotFoundError); !ok {
		t.Fatalf("expected *errors.RunNotFoundError, got %T", err)
	}
}

func TestMemoryStore_ListFiltersAndOrdersByCreatedAtDesc(t *testing.T) {
	store := NewMemoryStore()
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

func TestMemoryStore_CopiesPreventAliasing(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	r := &Run{ID: "run-1", Name: "n", FlowPath: "p", Inputs: map[string]any{"topic": "refund"}}
	if err := store.Create(ctx, r); err != nil {
		t.Fatalf("Create: %v", err)
	}

	r.Inputs["topic"] = "mutated"

	got, err := store.Get(ctx, "run-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Inputs["topic"] != "refund" {
		t.Fatalf("expected stored run to be unaffected by caller mutation, got %+v", got.Inputs)
	}
}
