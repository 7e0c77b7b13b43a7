// Package store provides the durable job record layer on top of the shared
// Redis instance.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/nekazari/intelligence/pkg/models"
)

var (
	// ErrNotFound is returned when a job does not exist or belongs to a
	// different tenant. The two cases are deliberately indistinguishable.
	ErrNotFound = errors.New("job not found")

	// ErrInvalidTransition is returned when a status update would move a job
	// backward or out of a terminal state.
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// Store is the job persistence interface. All job record operations go
// through here. Implementations must be safe for concurrent use and must
// enforce monotonic status transitions at single-job granularity.
type Store interface {
	Ping(ctx context.Context) error

	// Create persists a new pending job.
	Create(ctx context.Context, job *models.Job) error

	// Get loads a job, enforcing tenant ownership. A mismatched tenant
	// returns ErrNotFound rather than leaking the record's existence.
	Get(ctx context.Context, id uuid.UUID, tenantID string) (*models.Job, error)

	// GetByID loads a job without tenant filtering. Worker-side only; the
	// API path must always go through Get.
	GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error)

	// MarkRunning atomically claims a pending job. Exactly one concurrent
	// caller wins; the rest receive ErrInvalidTransition.
	MarkRunning(ctx context.Context, id uuid.UUID) error

	// Reclaim re-asserts the claim on a job already running, for deliveries
	// that came back through the visibility sweep after their claimer died.
	// A job no longer running returns ErrInvalidTransition.
	Reclaim(ctx context.Context, id uuid.UUID) error

	// Complete transitions a running job to completed with its result.
	Complete(ctx context.Context, id uuid.UUID, result models.Forecast) error

	// Fail transitions a pending or running job to failed with a classified
	// error and bumps the retry counter.
	Fail(ctx context.Context, id uuid.UUID, jobErr models.JobError) error

	// RequestCancel flags a pending job for cooperative cancellation. The
	// worker honours the flag at its pre-execution checkpoint only.
	RequestCancel(ctx context.Context, id uuid.UUID, tenantID string) error

	// ListPending returns jobs still waiting for a worker. An empty tenantID
	// lists across all tenants.
	ListPending(ctx context.Context, tenantID string) ([]*models.Job, error)

	// IncrWithExpiry increments a counter key, setting its expiry on every
	// call. Used by the per-tenant rate limiter.
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)
}
