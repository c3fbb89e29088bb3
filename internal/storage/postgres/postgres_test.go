package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/michaelbrown/labforge/internal/storage"
)

// testStore connects to LABFORGE_POSTGRES_DSN; the tests are skipped without it.
func testStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("LABFORGE_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("LABFORGE_POSTGRES_DSN not set")
	}
	s, err := Open(context.Background(), dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// labID returns an ID unlikely to collide with other runs against the same database.
func labID() int64 {
	return time.Now().UnixNano() % 1_000_000_000
}

func TestLabRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	id := labID()

	if err := s.UpsertLab(ctx, &storage.Lab{ID: id, Title: "pg lab", MaxScore: 40}); err != nil {
		t.Fatalf("UpsertLab: %v", err)
	}
	got, err := s.GetLab(ctx, id)
	if err != nil {
		t.Fatalf("GetLab: %v", err)
	}
	if got.Title != "pg lab" || got.MaxScore != 40 {
		t.Errorf("got %+v", got)
	}

	if _, err := s.GetLab(ctx, -1); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetLab(-1) err = %v, want ErrNotFound", err)
	}
}

func TestSubmissionRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	id := labID()
	if err := s.UpsertLab(ctx, &storage.Lab{ID: id, MaxScore: 100}); err != nil {
		t.Fatalf("UpsertLab: %v", err)
	}

	first := &storage.Submission{LabID: id, SubmitterID: "alice", Score: 10}
	second := &storage.Submission{LabID: id, SubmitterID: "alice", Score: 90, Passed: true}
	for _, sub := range []*storage.Submission{first, second} {
		if err := s.SaveSubmission(ctx, sub); err != nil {
			t.Fatalf("SaveSubmission: %v", err)
		}
	}
	if second.ID <= first.ID {
		t.Fatalf("ids not increasing: %d, %d", first.ID, second.ID)
	}

	latest, err := storage.LatestSubmission(ctx, s, id, "alice")
	if err != nil {
		t.Fatalf("LatestSubmission: %v", err)
	}
	if latest == nil || latest.ID != second.ID || !latest.Passed {
		t.Errorf("latest = %+v, want submission %d", latest, second.ID)
	}

	if _, err := s.GetSubmission(ctx, -1); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetSubmission(-1) err = %v, want ErrNotFound", err)
	}
}
