// Package worker runs the fixed-size pool that drains the job queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nekazari/intelligence/internal/orion"
	"github.com/nekazari/intelligence/internal/plugin"
	"github.com/nekazari/intelligence/internal/queue"
	"github.com/nekazari/intelligence/internal/store"
	"github.com/nekazari/intelligence/pkg/models"
)

const errorRetryDelay = 5 * time.Second

// Pool is a fixed-size set of workers, each independently blocking on the
// queue. Workers share no mutable state except through the store and queue.
type Pool struct {
	store     store.Store
	queue     queue.Queue
	registry  *plugin.Registry
	publisher orion.Publisher

	workers     int
	pollTimeout time.Duration
	execTimeout time.Duration
}

// Config holds the pool's fixed external configuration.
type Config struct {
	Workers     int
	PollTimeout time.Duration
	ExecTimeout time.Duration
}

// NewPool creates a worker pool. It does not start any goroutines; call Run.
func NewPool(s store.Store, q queue.Queue, r *plugin.Registry, p orion.Publisher, cfg Config) *Pool {
	return &Pool{
		store:       s,
		queue:       q,
		registry:    r,
		publisher:   p,
		workers:     cfg.Workers,
		pollTimeout: cfg.PollTimeout,
		execTimeout: cfg.ExecTimeout,
	}
}

// Run starts the worker goroutines and blocks until ctx is cancelled and all
// in-flight jobs have finished.
func (p *Pool) Run(ctx context.Context) error {
	slog.Info("worker pool starting", "workers", p.workers)

	var wg sync.WaitGroup
	for i := range p.workers {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.loop(ctx, id)
		}(i)
	}
	wg.Wait()

	slog.Info("worker pool stopped")
	return nil
}

// loop services jobs until ctx is cancelled. No single job failure may
// terminate the loop.
func (p *Pool) loop(ctx context.Context, workerID int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		jobID, err := p.queue.Dequeue(ctx, p.pollTimeout)
		if errors.Is(err, queue.ErrEmpty) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("dequeue failed", "worker", workerID, "error", err)
			sleepCtx(ctx, errorRetryDelay)
			continue
		}

		p.process(ctx, workerID, jobID)
	}
}

// process drives one delivered job reference to an acknowledged outcome.
// A delivery in hand must reach that outcome even if the pool is shutting
// down, so everything past the dequeue runs detached from the lifecycle
// context; the plugin stays bounded by the execution timeout.
func (p *Pool) process(ctx context.Context, workerID int, jobID uuid.UUID) {
	ctx = context.WithoutCancel(ctx)
	log := slog.With("worker", workerID, "job_id", jobID)

	job, err := p.store.GetByID(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		// Job record expired out from under the queue; nothing to run.
		log.Warn("dequeued reference to missing job, dropping")
		p.ack(ctx, jobID, log)
		return
	}
	if err != nil {
		// Leave the delivery unacked; the visibility timeout redelivers it.
		log.Error("load job failed", "error", err)
		return
	}

	// A redelivered reference for an already-finished job is the normal
	// at-least-once duplicate; drop it.
	if job.Terminal() {
		p.ack(ctx, jobID, log)
		return
	}

	// Pre-execution cancellation checkpoint. Execution already under way on
	// another worker is never preempted.
	if job.CancelRequested {
		p.fail(ctx, job, models.JobError{
			Kind:    models.ErrKindJobCancelled,
			Message: "cancellation requested before execution",
		}, log)
		p.ack(ctx, jobID, log)
		return
	}

	// A redelivered reference for a job already running means the previous
	// claimer missed its visibility deadline and is presumed dead: re-assert
	// the claim and re-run. Plugins are re-runnable and a duplicate publish
	// is absorbed by the broker's generatedAt gate.
	claim := p.store.MarkRunning
	if job.Status == models.JobStatusRunning {
		claim = p.store.Reclaim
		log.Warn("re-claiming job from presumed-dead worker")
	}
	if err := claim(ctx, jobID); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			// Lost a live claim race, or the job just went terminal. Keep
			// this delivery unacked: the visibility timeout hands the
			// reference back and the terminal-state check above resolves it.
			log.Warn("claim unavailable, leaving delivery for reaper")
			return
		}
		log.Error("claim job failed", "error", err)
		return
	}

	log.Info("processing job", "kind", job.Kind, "plugin", job.Plugin, "tenant_id", job.TenantID)

	forecast, jobErr := p.execute(ctx, job)
	if jobErr != nil {
		p.fail(ctx, job, *jobErr, log)
		p.ack(ctx, jobID, log)
		return
	}

	// A prediction is only reportable once the broker holds it. Publish
	// failure fails the job; it is never marked completed with an
	// unpublished result.
	if job.Kind == models.JobKindPredict {
		err := p.publisher.Publish(ctx, orion.PredictionParams{
			TenantID:    job.TenantID,
			EntityID:    job.Payload.EntityID,
			Attribute:   job.Payload.Attribute,
			Points:      forecast.Points,
			Confidence:  forecast.Confidence,
			Model:       forecast.Model,
			GeneratedAt: time.Now().UTC(),
		})
		if err != nil {
			log.Error("broker publish failed", "error", err)
			p.fail(ctx, job, models.JobError{
				Kind:    models.ErrKindBrokerWrite,
				Message: err.Error(),
			}, log)
			p.ack(ctx, jobID, log)
			return
		}
	}

	if err := p.store.Complete(ctx, jobID, forecast); err != nil {
		log.Error("complete job failed", "error", err)
		return
	}
	p.ack(ctx, jobID, log)
	log.Info("job completed", "points", len(forecast.Points))
}

// execute resolves the plugin and runs it under the bounded execution
// timeout, enforcing the exact-horizon contract on the result.
func (p *Pool) execute(ctx context.Context, job *models.Job) (models.Forecast, *models.JobError) {
	plug, err := p.registry.Get(job.Plugin)
	if err != nil {
		return models.Forecast{}, &models.JobError{
			Kind:    models.ErrKindPluginNotFound,
			Message: err.Error(),
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, p.execTimeout)
	defer cancel()

	forecast, err := plug.Execute(execCtx, models.PluginRequest{
		EntityID:  job.Payload.EntityID,
		Attribute: job.Payload.Attribute,
		Samples:   job.Payload.Samples,
		Horizon:   job.Payload.Horizon,
	})
	if err != nil {
		kind := models.ErrKindInternal
		if errors.Is(err, context.DeadlineExceeded) || execCtx.Err() == context.DeadlineExceeded {
			kind = models.ErrKindPluginTimeout
		}
		return models.Forecast{}, &models.JobError{Kind: kind, Message: err.Error()}
	}

	// Wrong-shaped results are a contract violation, never silently
	// truncated or padded.
	if len(forecast.Points) != job.Payload.Horizon {
		return models.Forecast{}, &models.JobError{
			Kind: models.ErrKindPluginContract,
			Message: fmt.Sprintf("plugin %q returned %d points for horizon %d",
				job.Plugin, len(forecast.Points), job.Payload.Horizon),
		}
	}

	return forecast, nil
}

func (p *Pool) fail(ctx context.Context, job *models.Job, jobErr models.JobError, log *slog.Logger) {
	if err := p.store.Fail(ctx, job.ID, jobErr); err != nil {
		log.Error("mark job failed errored", "error", err)
		return
	}
	log.Warn("job failed", "error_kind", jobErr.Kind, "error_message", jobErr.Message)
}

func (p *Pool) ack(ctx context.Context, jobID uuid.UUID, log *slog.Logger) {
	if err := p.queue.Ack(ctx, jobID); err != nil {
		log.Error("ack failed", "error", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
