// Package intake validates submissions, creates job records, and enqueues
// them for the worker pool. It is the only producer side of the queue.
package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/nekazari/intelligence/internal/plugin"
	"github.com/nekazari/intelligence/internal/queue"
	"github.com/nekazari/intelligence/internal/store"
	"github.com/nekazari/intelligence/pkg/models"
)

// DefaultPlugin is used when a submission names no plugin.
const DefaultPlugin = "simple_predictor"

// Horizon defaults and bounds, in hours. A submission that carries no
// prediction_horizon gets DefaultHorizon; anything outside 1..MaxHorizon is
// rejected.
const (
	DefaultHorizon = 24
	MaxHorizon     = 168
)

var (
	// ErrValidation is returned for malformed submissions. The job is never
	// created.
	ErrValidation = errors.New("invalid submission")

	// ErrUnavailable is returned when the store or queue stayed unreachable
	// through the retry budget. Maps to a 503 at the API boundary.
	ErrUnavailable = errors.New("job store unavailable")
)

const (
	retryInitialInterval = 100 * time.Millisecond
	retryMax             = 3
)

// SubmitParams is a validated-on-entry analysis or prediction request.
type SubmitParams struct {
	TenantID  string
	Kind      string
	EntityID  string
	Attribute string
	Samples   []models.Sample
	Horizon   int
	Plugin    string
}

// Service owns job creation and polling.
type Service struct {
	store    store.Store
	queue    queue.Queue
	registry *plugin.Registry
}

// NewService creates an intake Service.
func NewService(s store.Store, q queue.Queue, r *plugin.Registry) *Service {
	return &Service{store: s, queue: q, registry: r}
}

// Submit validates the request, creates a pending job, and enqueues its
// reference. Validation failures never reach the job store.
func (s *Service) Submit(ctx context.Context, params SubmitParams) (*models.Job, error) {
	if params.Plugin == "" {
		params.Plugin = DefaultPlugin
	}
	if params.Horizon == 0 {
		params.Horizon = DefaultHorizon
	}
	if err := s.validate(params); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	job := &models.Job{
		ID:       uuid.New(),
		TenantID: params.TenantID,
		Kind:     params.Kind,
		Plugin:   params.Plugin,
		Payload: models.Payload{
			EntityID:  params.EntityID,
			Attribute: params.Attribute,
			Samples:   params.Samples,
			Horizon:   params.Horizon,
		},
		Status:    models.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.retried(ctx, func() error { return s.store.Create(ctx, job) }); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := s.retried(ctx, func() error { return s.queue.Enqueue(ctx, job.ID) }); err != nil {
		// The record exists but no worker will ever see it; fail it so the
		// caller polling the job does not wait forever.
		failErr := s.store.Fail(ctx, job.ID, models.JobError{
			Kind:    models.ErrKindInternal,
			Message: "job could not be enqueued",
		})
		if failErr != nil {
			slog.Error("failing unenqueued job errored", "job_id", job.ID, "error", failErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	slog.Info("job submitted",
		"job_id", job.ID, "tenant_id", job.TenantID, "kind", job.Kind, "plugin", job.Plugin)
	return job, nil
}

// Poll returns the job's current state, tenant-scoped.
func (s *Service) Poll(ctx context.Context, id uuid.UUID, tenantID string) (*models.Job, error) {
	return s.store.Get(ctx, id, tenantID)
}

// Cancel flags a pending job for cooperative cancellation.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, tenantID string) error {
	return s.store.RequestCancel(ctx, id, tenantID)
}

// Plugins lists the registered plugin names.
func (s *Service) Plugins() []string {
	return s.registry.Names()
}

func (s *Service) validate(params SubmitParams) error {
	if params.TenantID == "" {
		return fmt.Errorf("%w: tenant is required", ErrValidation)
	}
	if params.Kind != models.JobKindAnalyze && params.Kind != models.JobKindPredict {
		return fmt.Errorf("%w: kind must be %q or %q", ErrValidation, models.JobKindAnalyze, models.JobKindPredict)
	}
	if params.EntityID == "" {
		return fmt.Errorf("%w: entity_id is required", ErrValidation)
	}
	if params.Attribute == "" {
		return fmt.Errorf("%w: attribute is required", ErrValidation)
	}
	if len(params.Samples) == 0 {
		return fmt.Errorf("%w: historical_data must not be empty", ErrValidation)
	}
	if params.Horizon < 1 || params.Horizon > MaxHorizon {
		return fmt.Errorf("%w: prediction_horizon must be between 1 and %d", ErrValidation, MaxHorizon)
	}
	// Unresolved plugin names are a creation-time error, not a worker-side
	// failure.
	if _, err := s.registry.Get(params.Plugin); err != nil {
		return err
	}
	return nil
}

// retried runs op with short exponential backoff so transient store or queue
// unavailability does not immediately surface to the caller.
func (s *Service) retried(ctx context.Context, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = retryInitialInterval
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, retryMax), ctx))
}
