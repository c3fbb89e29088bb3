package server

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestRunManager_StartAndFinish(t *testing.T) {
	rm := NewRunManager()
	defer rm.CloseAll()

	run, ctx, err := rm.Start(context.Background(), "run-1", 3, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if run.ID != "run-1" || run.LabID != 3 || run.SubmitterID != "alice" {
		t.Errorf("run = %+v", run)
	}
	if _, ok := rm.Get("run-1"); !ok {
		t.Error("expected run to be tracked")
	}

	rm.Finish(run)

	if ctx.Err() == nil {
		t.Error("expected context to be cancelled after Finish")
	}
	if _, ok := rm.Get("run-1"); ok {
		t.Error("expected run to be removed")
	}
}

func TestRunManager_GeneratesID(t *testing.T) {
	rm := NewRunManager()
	defer rm.CloseAll()

	a, _, err := rm.Start(context.Background(), "", 1, "alice")
	if err != nil {
		t.Fatal(err)
	}
	b, _, err := rm.Start(context.Background(), "", 1, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if a.ID == "" || a.ID == b.ID {
		t.Errorf("ids = %q, %q, want distinct non-empty", a.ID, b.ID)
	}
}

func TestRunManager_RejectsDuplicateAndLongIDs(t *testing.T) {
	rm := NewRunManager()
	defer rm.CloseAll()

	if _, _, err := rm.Start(context.Background(), "dup", 1, "alice"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := rm.Start(context.Background(), "dup", 1, "bob"); !errors.Is(err, ErrRunExists) {
		t.Errorf("err = %v, want ErrRunExists", err)
	}
	if _, _, err := rm.Start(context.Background(), strings.Repeat("x", 200), 1, "alice"); !errors.Is(err, ErrInvalidRunID) {
		t.Errorf("err = %v, want ErrInvalidRunID", err)
	}
}

func TestRunManager_CancelChecksOwner(t *testing.T) {
	rm := NewRunManager()
	defer rm.CloseAll()

	_, ctx, err := rm.Start(context.Background(), "r", 1, "alice")
	if err != nil {
		t.Fatal(err)
	}

	if rm.Cancel("r", "mallory") {
		t.Error("another submitter must not cancel the run")
	}
	if ctx.Err() != nil {
		t.Fatal("context cancelled by wrong submitter")
	}
	if rm.Cancel("missing", "alice") {
		t.Error("unknown run reported as cancelled")
	}
	if !rm.Cancel("r", "alice") {
		t.Error("owner could not cancel")
	}
	if ctx.Err() == nil {
		t.Error("expected context to be cancelled")
	}
}

func TestRunManager_List(t *testing.T) {
	rm := NewRunManager()
	defer rm.CloseAll()

	rm.Start(context.Background(), "a1", 1, "alice")
	rm.Start(context.Background(), "b1", 1, "bob")
	rm.Start(context.Background(), "a2", 2, "alice")

	runs := rm.List("alice")
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	if got := rm.List("carol"); len(got) != 0 {
		t.Errorf("got %d runs for carol, want 0", len(got))
	}
}

func TestRunManager_CloseAll(t *testing.T) {
	rm := NewRunManager()

	var ctxs []context.Context
	for _, id := range []string{"a", "b", "c"} {
		_, ctx, err := rm.Start(context.Background(), id, 1, "alice")
		if err != nil {
			t.Fatal(err)
		}
		ctxs = append(ctxs, ctx)
	}

	rm.CloseAll()

	for i, ctx := range ctxs {
		if ctx.Err() == nil {
			t.Errorf("run %d not cancelled", i)
		}
	}
	if _, ok := rm.Get("a"); ok {
		t.Error("expected all runs to be cleared")
	}
}
