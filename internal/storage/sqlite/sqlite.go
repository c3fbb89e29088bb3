package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/michaelbrown/labforge/internal/storage"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements storage.Store backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path and runs migrations.
// Use ":memory:" for an in-memory database (useful for testing).
func Open(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	// Pragmas in the DSN apply to every pooled connection.
	dsn := dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// Every connection to :memory: is a separate database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) UpsertLab(ctx context.Context, l *storage.Lab) error {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO labs (id, title, prompt, max_score, starter_bundle, test_bundle, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			prompt = excluded.prompt,
			max_score = excluded.max_score,
			starter_bundle = excluded.starter_bundle,
			test_bundle = excluded.test_bundle`,
		l.ID, l.Title, l.Prompt, l.MaxScore, l.StarterBundle, l.TestBundle,
		l.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting lab %d: %w", l.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetLab(ctx context.Context, id int64) (*storage.Lab, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, prompt, max_score, starter_bundle, test_bundle, created_at
		FROM labs WHERE id = ?`, id)
	l, err := scanLab(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lab %d: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying lab: %w", err)
	}
	return l, nil
}

func (s *SQLiteStore) ListLabs(ctx context.Context) ([]storage.Lab, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, prompt, max_score, starter_bundle, test_bundle, created_at
		FROM labs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing labs: %w", err)
	}
	defer rows.Close()

	var labs []storage.Lab
	for rows.Next() {
		l, err := scanLab(rows)
		if err != nil {
			return nil, err
		}
		labs = append(labs, *l)
	}
	return labs, rows.Err()
}

func (s *SQLiteStore) SaveSubmission(ctx context.Context, sub *storage.Submission) error {
	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO lab_submissions
			(lab_id, submitter_id, code, score, passed, test_results, error_message, timed_out, duration_ms, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.LabID, sub.SubmitterID, sub.Code, sub.Score, sub.Passed,
		sub.TestResults, sub.ErrorMessage, sub.TimedOut, sub.DurationMs,
		sub.SubmittedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting submission: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading submission id: %w", err)
	}
	sub.ID = id
	return nil
}

func (s *SQLiteStore) GetSubmission(ctx context.Context, id int64) (*storage.Submission, error) {
	row := s.db.QueryRowContext(ctx, submissionColumns+` WHERE id = ?`, id)
	sub, err := scanSubmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("submission %d: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying submission: %w", err)
	}
	return sub, nil
}

func (s *SQLiteStore) ListSubmissions(ctx context.Context, opts storage.SubmissionListOptions) ([]storage.Submission, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	query := submissionColumns + ` WHERE 1 = 1`
	var args []any

	if opts.LabID != 0 {
		query += ` AND lab_id = ?`
		args = append(args, opts.LabID)
	}
	if opts.SubmitterID != "" {
		query += ` AND submitter_id = ?`
		args = append(args, opts.SubmitterID)
	}

	query += ` ORDER BY id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing submissions: %w", err)
	}
	defer rows.Close()

	var subs []storage.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const submissionColumns = `
	SELECT id, lab_id, submitter_id, code, score, passed, test_results,
		error_message, timed_out, duration_ms, submitted_at
	FROM lab_submissions`

// Scanner interface to work with both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func scanLab(s scanner) (*storage.Lab, error) {
	var l storage.Lab
	var createdAt string
	err := s.Scan(&l.ID, &l.Title, &l.Prompt, &l.MaxScore,
		&l.StarterBundle, &l.TestBundle, &createdAt)
	if err != nil {
		return nil, err
	}
	l.CreatedAt = parseTime(createdAt)
	return &l, nil
}

func scanSubmission(s scanner) (*storage.Submission, error) {
	var sub storage.Submission
	var submittedAt string
	err := s.Scan(&sub.ID, &sub.LabID, &sub.SubmitterID, &sub.Code, &sub.Score,
		&sub.Passed, &sub.TestResults, &sub.ErrorMessage, &sub.TimedOut,
		&sub.DurationMs, &submittedAt)
	if err != nil {
		return nil, err
	}
	sub.SubmittedAt = parseTime(submittedAt)
	return &sub, nil
}

// parseTime accepts both our RFC 3339 values and SQLite's datetime('now').
func parseTime(v string) time.Time {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t
	}
	t, _ := time.Parse(time.DateTime, v)
	return t
}
