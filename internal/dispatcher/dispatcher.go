// Package dispatcher runs submitted harvest jobs in the background with bounded
// concurrency.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/review-harvester/internal/harvest"
	"github.com/JakeFAU/review-harvester/internal/metrics"
	"github.com/JakeFAU/review-harvester/internal/queue/memory"
)

// ErrQueueFull is returned by Submit when no job slot is free.
var ErrQueueFull = errors.New("dispatcher queue full")

// Runner executes one harvest.
type Runner interface {
	RunJob(ctx context.Context, jobID string, req harvest.Request) (harvest.Summary, error)
}

// Item is a queued harvest job.
type Item struct {
	JobID   string
	Request harvest.Request
}

// Dispatcher fans queued jobs out to a fixed number of runner goroutines.
type Dispatcher struct {
	queue       *memory.Queue[Item]
	runner      Runner
	jobs        harvest.JobStore
	clock       harvest.Clock
	concurrency int
	logger      *zap.Logger
}

// New creates a Dispatcher.
func New(
	queue *memory.Queue[Item],
	runner Runner,
	jobs harvest.JobStore,
	clock harvest.Clock,
	concurrency int,
	logger *zap.Logger,
) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:       queue,
		runner:      runner,
		jobs:        jobs,
		clock:       clock,
		concurrency: max(concurrency, 1),
		logger:      logger,
	}
}

// Run starts the runners and blocks until the context finishes. Jobs run under ctx,
// not under the context of the request that submitted them.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := range d.concurrency {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			d.loop(ctx, id)
		}(i + 1)
	}
	<-ctx.Done()
	wg.Wait()
}

// Submit queues a job without blocking.
func (d *Dispatcher) Submit(item Item) error {
	if err := d.queue.TryEnqueue(item); err != nil {
		metrics.ObserveSchedulingFailure()
		if errors.Is(err, memory.ErrFull) {
			return ErrQueueFull
		}
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

func (d *Dispatcher) loop(ctx context.Context, runnerID int) {
	for {
		item, err := d.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() == nil {
				d.logger.Error("job dequeue failed", zap.Int("runner", runnerID), zap.Error(err))
			}
			return
		}
		d.runJob(ctx, item)
		d.queue.Done()
	}
}

func (d *Dispatcher) runJob(ctx context.Context, item Item) {
	logger := d.logger.With(zap.String("job_id", item.JobID), zap.String("base_url", item.Request.URL))
	if err := d.jobs.StartJob(ctx, item.JobID, d.now()); err != nil {
		logger.Error("start job failed", zap.Error(err))
	}
	logger.Info("harvest job started")

	summary, err := d.runner.RunJob(ctx, item.JobID, item.Request)

	status := harvest.JobStatusSucceeded
	errText := ""
	switch {
	case err != nil:
		status = harvest.JobStatusFailed
		errText = err.Error()
	case summary.Status == harvest.StatusFailed:
		status = harvest.JobStatusFailed
		errText = fmt.Sprintf("harvest finished with status %s", summary.Status)
	}
	// The final status is stored even during shutdown.
	if ferr := d.jobs.FinishJob(context.WithoutCancel(ctx), item.JobID, status, d.now(), errText, &summary); ferr != nil {
		logger.Error("finish job failed", zap.Error(ferr))
	}
	logger.Info("harvest job finished",
		zap.String("job_status", string(status)),
		zap.String("harvest_status", string(summary.Status)),
	)
}

func (d *Dispatcher) now() time.Time {
	if d.clock != nil {
		return d.clock.Now()
	}
	return time.Now().UTC()
}
