package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Janitor periodically sweeps expired visibility deadlines back onto the
// main queue so deliveries orphaned by a crashed worker are retried.
type Janitor struct {
	queue    Queue
	interval time.Duration
	cron     *cron.Cron
}

// NewJanitor creates a Janitor sweeping at the given interval.
func NewJanitor(q Queue, interval time.Duration) *Janitor {
	return &Janitor{queue: q, interval: interval, cron: cron.New()}
}

// Start schedules the sweep. The returned error only reflects an invalid
// schedule, which cannot happen with a fixed interval.
func (j *Janitor) Start(ctx context.Context) error {
	_, err := j.cron.AddFunc(fmt.Sprintf("@every %s", j.interval), func() {
		sweepCtx, cancel := context.WithTimeout(ctx, j.interval)
		defer cancel()

		n, err := j.queue.ReapExpired(sweepCtx)
		if err != nil {
			slog.Error("visibility sweep failed", "error", err)
			return
		}
		if n > 0 {
			slog.Warn("requeued expired deliveries", "count", n)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule visibility sweep: %w", err)
	}
	j.cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}
