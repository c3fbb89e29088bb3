package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/michaelbrown/labforge/internal/storage"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("opening memory db: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedLab(t *testing.T, s *SQLiteStore, id int64) *storage.Lab {
	t.Helper()
	l := &storage.Lab{ID: id, Title: fmt.Sprintf("lab %d", id), MaxScore: 100}
	if err := s.UpsertLab(context.Background(), l); err != nil {
		t.Fatalf("UpsertLab: %v", err)
	}
	return l
}

func TestUpsertAndGetLab(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	l := &storage.Lab{
		ID:            7,
		Title:         "FizzBuzz",
		Prompt:        "Write FizzBuzz.",
		MaxScore:      50,
		StarterBundle: "/labs/7/starter.zip",
		TestBundle:    "/labs/7/tests.zip",
	}
	if err := s.UpsertLab(ctx, l); err != nil {
		t.Fatalf("UpsertLab: %v", err)
	}

	got, err := s.GetLab(ctx, 7)
	if err != nil {
		t.Fatalf("GetLab: %v", err)
	}
	if got.Title != "FizzBuzz" {
		t.Errorf("title = %q, want %q", got.Title, "FizzBuzz")
	}
	if got.MaxScore != 50 {
		t.Errorf("max_score = %d, want 50", got.MaxScore)
	}
	if got.TestBundle != "/labs/7/tests.zip" {
		t.Errorf("test_bundle = %q", got.TestBundle)
	}
	if got.CreatedAt.IsZero() {
		t.Error("created_at should not be zero")
	}
}

func TestUpsertLabReplaces(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	seedLab(t, s, 1)
	if err := s.UpsertLab(ctx, &storage.Lab{ID: 1, Title: "renamed", MaxScore: 10}); err != nil {
		t.Fatalf("UpsertLab: %v", err)
	}

	got, err := s.GetLab(ctx, 1)
	if err != nil {
		t.Fatalf("GetLab: %v", err)
	}
	if got.Title != "renamed" || got.MaxScore != 10 {
		t.Errorf("got %+v, want renamed/10", got)
	}
}

func TestGetLabNotFound(t *testing.T) {
	s := testStore(t)

	_, err := s.GetLab(context.Background(), 404)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListLabs(t *testing.T) {
	s := testStore(t)

	for _, id := range []int64{3, 1, 2} {
		seedLab(t, s, id)
	}

	labs, err := s.ListLabs(context.Background())
	if err != nil {
		t.Fatalf("ListLabs: %v", err)
	}
	if len(labs) != 3 {
		t.Fatalf("got %d labs, want 3", len(labs))
	}
	for i, l := range labs {
		if l.ID != int64(i+1) {
			t.Errorf("labs[%d].ID = %d, want %d", i, l.ID, i+1)
		}
	}
}

func TestSaveAndGetSubmission(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	seedLab(t, s, 1)

	sub := &storage.Submission{
		LabID:        1,
		SubmitterID:  "student-1",
		Code:         "class UserCode {}",
		Score:        66,
		Passed:       false,
		TestResults:  "Passed A\nPassed B\nFailed C\n",
		ErrorMessage: "Tests exited with status 1",
		DurationMs:   1234,
	}
	if err := s.SaveSubmission(ctx, sub); err != nil {
		t.Fatalf("SaveSubmission: %v", err)
	}
	if sub.ID == 0 {
		t.Fatal("expected submission ID to be set")
	}

	got, err := s.GetSubmission(ctx, sub.ID)
	if err != nil {
		t.Fatalf("GetSubmission: %v", err)
	}
	if got.Score != 66 || got.Passed {
		t.Errorf("score/passed = %d/%v, want 66/false", got.Score, got.Passed)
	}
	if got.TestResults != sub.TestResults {
		t.Errorf("test_results = %q, want %q", got.TestResults, sub.TestResults)
	}
	if got.DurationMs != 1234 {
		t.Errorf("duration_ms = %d, want 1234", got.DurationMs)
	}
	if got.SubmittedAt.IsZero() {
		t.Error("submitted_at should not be zero")
	}
}

func TestSaveSubmissionUnknownLab(t *testing.T) {
	s := testStore(t)

	err := s.SaveSubmission(context.Background(), &storage.Submission{LabID: 99, SubmitterID: "x"})
	if err == nil {
		t.Fatal("expected foreign key error")
	}
}

func TestGetSubmissionNotFound(t *testing.T) {
	s := testStore(t)

	_, err := s.GetSubmission(context.Background(), 1)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListSubmissionsFilters(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	seedLab(t, s, 1)
	seedLab(t, s, 2)

	for _, sub := range []storage.Submission{
		{LabID: 1, SubmitterID: "alice", Score: 10},
		{LabID: 1, SubmitterID: "bob", Score: 20},
		{LabID: 1, SubmitterID: "alice", Score: 30},
		{LabID: 2, SubmitterID: "alice", Score: 40},
	} {
		if err := s.SaveSubmission(ctx, &sub); err != nil {
			t.Fatalf("SaveSubmission: %v", err)
		}
	}

	subs, err := s.ListSubmissions(ctx, storage.SubmissionListOptions{LabID: 1, SubmitterID: "alice"})
	if err != nil {
		t.Fatalf("ListSubmissions: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("got %d submissions, want 2", len(subs))
	}
	if subs[0].Score != 30 {
		t.Errorf("newest first: subs[0].Score = %d, want 30", subs[0].Score)
	}

	all, err := s.ListSubmissions(ctx, storage.SubmissionListOptions{})
	if err != nil {
		t.Fatalf("ListSubmissions: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("got %d submissions, want 4", len(all))
	}

	page, err := s.ListSubmissions(ctx, storage.SubmissionListOptions{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("ListSubmissions: %v", err)
	}
	if len(page) != 2 || page[0].Score != 30 {
		t.Errorf("page = %+v, want 2 items starting at score 30", page)
	}
}

func TestLatestSubmission(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	seedLab(t, s, 1)

	got, err := storage.LatestSubmission(ctx, s, 1, "alice")
	if err != nil {
		t.Fatalf("LatestSubmission: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil before any submission, got %+v", got)
	}

	s.SaveSubmission(ctx, &storage.Submission{LabID: 1, SubmitterID: "alice", Score: 1})
	s.SaveSubmission(ctx, &storage.Submission{LabID: 1, SubmitterID: "alice", Score: 2})

	got, err = storage.LatestSubmission(ctx, s, 1, "alice")
	if err != nil {
		t.Fatalf("LatestSubmission: %v", err)
	}
	if got == nil || got.Score != 2 {
		t.Errorf("latest = %+v, want score 2", got)
	}
}

func TestConcurrentSubmissions(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	seedLab(t, s, 1)

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- s.SaveSubmission(ctx, &storage.Submission{LabID: 1, SubmitterID: fmt.Sprintf("s%d", i)})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("SaveSubmission: %v", err)
		}
	}

	subs, err := s.ListSubmissions(ctx, storage.SubmissionListOptions{Limit: 100})
	if err != nil {
		t.Fatalf("ListSubmissions: %v", err)
	}
	if len(subs) != n {
		t.Errorf("got %d submissions, want %d", len(subs), n)
	}
}

func TestOpenFileDatabaseReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "labforge.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	seedLab(t, s, 5)
	s.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	if _, err := s2.GetLab(context.Background(), 5); err != nil {
		t.Errorf("GetLab after reopen: %v", err)
	}
}
