package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a lab or submission does not exist.
var ErrNotFound = errors.New("not found")

// DefaultMaxScore applies to labs created without an explicit maximum.
const DefaultMaxScore = 100

// Lab is a gradable exercise. The runner only reads it.
type Lab struct {
	ID            int64     `json:"id"`
	Title         string    `json:"title"`
	Prompt        string    `json:"prompt"`
	MaxScore      int       `json:"max_score"`
	StarterBundle string    `json:"starter_bundle,omitempty"` // zip path, optional
	TestBundle    string    `json:"test_bundle,omitempty"`    // zip path, optional
	CreatedAt     time.Time `json:"created_at"`
}

// Submission records one graded attempt.
type Submission struct {
	ID           int64     `json:"id"`
	LabID        int64     `json:"lab_id"`
	SubmitterID  string    `json:"submitter_id"`
	Code         string    `json:"code"`
	Score        int       `json:"score"`
	Passed       bool      `json:"passed"`
	TestResults  string    `json:"test_results,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	TimedOut     bool      `json:"timed_out"`
	DurationMs   int64     `json:"duration_ms"`
	SubmittedAt  time.Time `json:"submitted_at"`
}

// SubmissionListOptions controls filtering and pagination for ListSubmissions.
type SubmissionListOptions struct {
	LabID       int64
	SubmitterID string
	Limit       int
	Offset      int
}

// Store is the persistence interface for labs and submissions.
type Store interface {
	// UpsertLab inserts a lab or replaces the lab with the same ID.
	UpsertLab(ctx context.Context, l *Lab) error

	// GetLab returns a lab by ID or ErrNotFound.
	GetLab(ctx context.Context, id int64) (*Lab, error)

	// ListLabs returns all labs ordered by ID.
	ListLabs(ctx context.Context) ([]Lab, error)

	// SaveSubmission inserts a submission and sets its ID.
	SaveSubmission(ctx context.Context, s *Submission) error

	// GetSubmission returns a submission by ID or ErrNotFound.
	GetSubmission(ctx context.Context, id int64) (*Submission, error)

	// ListSubmissions returns submissions newest first.
	ListSubmissions(ctx context.Context, opts SubmissionListOptions) ([]Submission, error)

	// Close releases resources.
	Close() error
}

// LatestSubmission returns the submitter's most recent attempt at a lab, or
// nil when there is none.
func LatestSubmission(ctx context.Context, s Store, labID int64, submitterID string) (*Submission, error) {
	subs, err := s.ListSubmissions(ctx, SubmissionListOptions{LabID: labID, SubmitterID: submitterID, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, nil
	}
	return &subs[0], nil
}
