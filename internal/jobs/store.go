package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the Postgres-backed job table. It shares the connection pool
// with the entity store but is kept a distinct, independently testable
// package since the job runner is a separate concern (spec.md §4.3).
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const selectJobSQL = `
	SELECT id, queue, job_key, payload, status, attempts, max_attempts, run_at, locked_by, locked_at, last_error, created_at, updated_at
	FROM jobs
`

// Enqueue inserts a new queued job. If jobKey collides with an
// outstanding (queued or running) job in the same queue, Enqueue is a
// no-op and returns the existing job (spec.md §4.3 dedup window).
func (s *Store) Enqueue(ctx context.Context, e Enqueue) (Job, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return Job{}, fmt.Errorf("jobs: marshal payload: %w", err)
	}
	maxAttempts := e.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 8
	}
	runAt := time.Now().UTC()
	if e.RunAt != nil {
		runAt = *e.RunAt
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO jobs (queue, job_key, payload, max_attempts, run_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (queue, job_key) WHERE job_key IS NOT NULL AND status IN ('queued', 'running') DO NOTHING
		RETURNING id, queue, job_key, payload, status, attempts, max_attempts, run_at, locked_by, locked_at, last_error, created_at, updated_at
	`, e.Queue, e.JobKey, payload, maxAttempts, runAt)

	j, err := scanJob(row)
	if err == nil {
		return j, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Job{}, fmt.Errorf("jobs: enqueue: %w", err)
	}
	if e.JobKey == nil {
		return Job{}, fmt.Errorf("jobs: enqueue: unexpected conflict with no jobKey")
	}

	existing := s.pool.QueryRow(ctx, selectJobSQL+`
		WHERE queue = $1 AND job_key = $2 AND status IN ('queued', 'running')
	`, e.Queue, *e.JobKey)
	j, err = scanJob(existing)
	if err != nil {
		return Job{}, fmt.Errorf("jobs: enqueue: fetch existing: %w", err)
	}
	return j, nil
}

// claimNext atomically claims the oldest runnable job in queue for
// workerID, matching the teacher's claimNextSession FOR UPDATE SKIP
// LOCKED pattern. Returns (Job{}, false, nil) when nothing is runnable.
func (s *Store) claimNext(ctx context.Context, queue, workerID string) (Job, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Job{}, false, fmt.Errorf("jobs: claim: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, selectJobSQL+`
		WHERE queue = $1 AND status = 'queued' AND run_at <= now()
		ORDER BY run_at
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`, queue)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Job{}, false, nil
	}
	if err != nil {
		return Job{}, false, fmt.Errorf("jobs: claim: select: %w", err)
	}

	now := time.Now().UTC()
	row = tx.QueryRow(ctx, `
		UPDATE jobs SET status = 'running', attempts = attempts + 1, locked_by = $2, locked_at = $3
		WHERE id = $1
		RETURNING id, queue, job_key, payload, status, attempts, max_attempts, run_at, locked_by, locked_at, last_error, created_at, updated_at
	`, j.ID, workerID, now)
	j, err = scanJob(row)
	if err != nil {
		return Job{}, false, fmt.Errorf("jobs: claim: update: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Job{}, false, fmt.Errorf("jobs: claim: commit: %w", err)
	}
	return j, true, nil
}

// complete marks a job succeeded.
func (s *Store) complete(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `UPDATE jobs SET status = 'succeeded' WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("jobs: complete: %w", err)
	}
	return nil
}

// retry reschedules a job after backoff, or marks it dead if it has
// exhausted maxAttempts.
func (s *Store) retry(ctx context.Context, j Job, backoff time.Duration, cause error) error {
	errMsg := ""
	if cause != nil {
		errMsg = cause.Error()
	}
	if j.Attempts >= j.MaxAttempts {
		_, err := s.pool.Exec(ctx, `UPDATE jobs SET status = 'dead', last_error = $2 WHERE id = $1`, j.ID, errMsg)
		if err != nil {
			return fmt.Errorf("jobs: mark dead: %w", err)
		}
		return nil
	}
	runAt := time.Now().UTC().Add(backoff)
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = 'queued', run_at = $2, last_error = $3, locked_by = NULL, locked_at = NULL
		WHERE id = $1
	`, j.ID, runAt, errMsg)
	if err != nil {
		return fmt.Errorf("jobs: retry: %w", err)
	}
	return nil
}

// fail marks a job permanently failed (no further retries).
func (s *Store) fail(ctx context.Context, id uuid.UUID, cause error) error {
	errMsg := ""
	if cause != nil {
		errMsg = cause.Error()
	}
	_, err := s.pool.Exec(ctx, `UPDATE jobs SET status = 'failed', last_error = $2 WHERE id = $1`, id, errMsg)
	if err != nil {
		return fmt.Errorf("jobs: fail: %w", err)
	}
	return nil
}

func scanJob(row interface{ Scan(dest ...any) error }) (Job, error) {
	var j Job
	var payload []byte
	if err := row.Scan(
		&j.ID, &j.Queue, &j.JobKey, &payload, &j.Status, &j.Attempts, &j.MaxAttempts,
		&j.RunAt, &j.LockedBy, &j.LockedAt, &j.LastError, &j.CreatedAt, &j.UpdatedAt,
	); err != nil {
		return Job{}, err
	}
	j.Payload = payload
	return j, nil
}
