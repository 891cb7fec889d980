// Package jobs implements the durable named-queue job runner (C3):
// at-least-once delivery with (queue, jobKey) dedup, exponential backoff
// with jitter on retry, and a bounded worker pool claiming rows with
// SELECT ... FOR UPDATE SKIP LOCKED, grounded on the teacher's polling
// session worker (internal/queue's Worker pattern, adapted here from the
// codeready-toolchain-tarsy pack example since the teacher itself has no
// generic job queue).
package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusDead      Status = "dead"
)

// Job is one row of the durable queue.
type Job struct {
	ID          uuid.UUID
	Queue       string
	JobKey      *string
	Payload     json.RawMessage
	Status      Status
	Attempts    int
	MaxAttempts int
	RunAt       time.Time
	LockedBy    *string
	LockedAt    *time.Time
	LastError   *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Outcome is what a Handler returns to tell the runner what happened.
type Outcome int

const (
	// OutcomeSuccess marks the job succeeded; it will not run again.
	OutcomeSuccess Outcome = iota
	// OutcomeRetry schedules another attempt with exponential backoff,
	// unless MaxAttempts has been reached, in which case the job is
	// marked dead. If the accompanying error is not retryable per
	// apierrors.IsRetryable, the runner marks the job failed instead.
	OutcomeRetry
	// OutcomeFatal marks the job failed permanently with no further
	// retries, regardless of remaining attempts.
	OutcomeFatal
)

// Handler processes one job's payload. Handlers must be idempotent:
// at-least-once delivery means the same job may run more than once
// (e.g. if the process crashes after a handler succeeds but before the
// runner records StatusSucceeded).
type Handler func(ctx context.Context, job Job) (Outcome, error)

// Enqueue describes a new job submission.
type Enqueue struct {
	Queue       string
	JobKey      *string
	Payload     any
	MaxAttempts int
	RunAt       *time.Time
}
