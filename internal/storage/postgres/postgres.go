// Package postgres implements storage.Store on PostgreSQL via pgxpool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/michaelbrown/labforge/internal/storage"
)

const connectTimeout = 3 * time.Second

const schema = `
CREATE TABLE IF NOT EXISTS labs (
    id             BIGINT PRIMARY KEY,
    title          TEXT NOT NULL DEFAULT '',
    prompt         TEXT NOT NULL DEFAULT '',
    max_score      INTEGER NOT NULL DEFAULT 100 CHECK (max_score >= 0),
    starter_bundle TEXT NOT NULL DEFAULT '',
    test_bundle    TEXT NOT NULL DEFAULT '',
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS lab_submissions (
    id            BIGSERIAL PRIMARY KEY,
    lab_id        BIGINT NOT NULL REFERENCES labs(id) ON DELETE CASCADE,
    submitter_id  TEXT NOT NULL,
    code          TEXT NOT NULL,
    score         INTEGER NOT NULL DEFAULT 0,
    passed        BOOLEAN NOT NULL DEFAULT false,
    test_results  TEXT NOT NULL DEFAULT '',
    error_message TEXT NOT NULL DEFAULT '',
    timed_out     BOOLEAN NOT NULL DEFAULT false,
    duration_ms   BIGINT NOT NULL DEFAULT 0,
    submitted_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_submissions_lab_submitter
    ON lab_submissions (lab_id, submitter_id, id DESC);
`

// Store implements storage.Store backed by a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to dsn and creates the schema if needed.
func Open(ctx context.Context, dsn string) (*Store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	pool, err := pgxpool.New(connectCtx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) UpsertLab(ctx context.Context, l *storage.Lab) error {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO labs (id, title, prompt, max_score, starter_bundle, test_bundle, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			prompt = EXCLUDED.prompt,
			max_score = EXCLUDED.max_score,
			starter_bundle = EXCLUDED.starter_bundle,
			test_bundle = EXCLUDED.test_bundle`,
		l.ID, l.Title, l.Prompt, l.MaxScore, l.StarterBundle, l.TestBundle, l.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting lab %d: %w", l.ID, err)
	}
	return nil
}

func (s *Store) GetLab(ctx context.Context, id int64) (*storage.Lab, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, title, prompt, max_score, starter_bundle, test_bundle, created_at
		FROM labs WHERE id = $1`, id)
	l, err := scanLab(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("lab %d: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying lab: %w", err)
	}
	return l, nil
}

func (s *Store) ListLabs(ctx context.Context) ([]storage.Lab, error) {
	rows, err := s.pool.Query(ctx, `
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

func (s *Store) SaveSubmission(ctx context.Context, sub *storage.Submission) error {
	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = time.Now().UTC()
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO lab_submissions
			(lab_id, submitter_id, code, score, passed, test_results, error_message, timed_out, duration_ms, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		sub.LabID, sub.SubmitterID, sub.Code, sub.Score, sub.Passed,
		sub.TestResults, sub.ErrorMessage, sub.TimedOut, sub.DurationMs, sub.SubmittedAt,
	).Scan(&sub.ID)
	if err != nil {
		return fmt.Errorf("inserting submission: %w", err)
	}
	return nil
}

func (s *Store) GetSubmission(ctx context.Context, id int64) (*storage.Submission, error) {
	row := s.pool.QueryRow(ctx, submissionColumns+` WHERE id = $1`, id)
	sub, err := scanSubmission(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("submission %d: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying submission: %w", err)
	}
	return sub, nil
}

func (s *Store) ListSubmissions(ctx context.Context, opts storage.SubmissionListOptions) ([]storage.Submission, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	query := submissionColumns + ` WHERE 1 = 1`
	var args []any
	if opts.LabID != 0 {
		args = append(args, opts.LabID)
		query += fmt.Sprintf(` AND lab_id = $%d`, len(args))
	}
	if opts.SubmitterID != "" {
		args = append(args, opts.SubmitterID)
		query += fmt.Sprintf(` AND submitter_id = $%d`, len(args))
	}
	args = append(args, limit, opts.Offset)
	query += fmt.Sprintf(` ORDER BY id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
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

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

const submissionColumns = `
	SELECT id, lab_id, submitter_id, code, score, passed, test_results,
		error_message, timed_out, duration_ms, submitted_at
	FROM lab_submissions`

func scanLab(row pgx.Row) (*storage.Lab, error) {
	var l storage.Lab
	err := row.Scan(&l.ID, &l.Title, &l.Prompt, &l.MaxScore,
		&l.StarterBundle, &l.TestBundle, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func scanSubmission(row pgx.Row) (*storage.Submission, error) {
	var sub storage.Submission
	err := row.Scan(&sub.ID, &sub.LabID, &sub.SubmitterID, &sub.Code, &sub.Score,
		&sub.Passed, &sub.TestResults, &sub.ErrorMessage, &sub.TimedOut,
		&sub.DurationMs, &sub.SubmittedAt)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}
