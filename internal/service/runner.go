package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/timmy/alttext/internal/domain"
	"github.com/timmy/alttext/internal/logger"
)

// TaskQueue is the consuming side of the durable schedule.
type TaskQueue interface {
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledTask, error)
	MarkDone(ctx context.Context, id string) error
}

// RunnerConfig holds the tunables of a Runner.
type RunnerConfig struct {
	Workers      int
	BatchSize    int
	PollInterval time.Duration
}

// Runner claims due scheduled tasks and runs their jobs.
type Runner struct {
	queue TaskQueue
	sync  *Synchronizer
	cfg   RunnerConfig
}

// NewRunner creates a runner. Zero config values fall back to one worker,
// twenty tasks per poll and a ten second interval.
func NewRunner(queue TaskQueue, s *Synchronizer, cfg RunnerConfig) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	return &Runner{queue: queue, sync: s, cfg: cfg}
}

// Run polls until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	ctx = logger.SetComponent(ctx, "runner")
	logger.CtxInfo(ctx, "Scheduler runner started (poll every %s)", r.cfg.PollInterval)

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		n, err := r.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			logger.CtxError(ctx, "Scheduler poll failed: %v", err)
		}
		// A full page means more work is probably due; poll again right away.
		if n == r.cfg.BatchSize && ctx.Err() == nil {
			continue
		}
		select {
		case <-ctx.Done():
			logger.CtxInfo(ctx, "Scheduler runner stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce claims one page of due tasks and processes them on the worker pool.
// Returns the number of tasks claimed.
func (r *Runner) RunOnce(ctx context.Context) (int, error) {
	tasks, err := r.queue.ClaimDue(ctx, r.sync.now(), r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(tasks) == 0 {
		return 0, nil
	}

	taskChan := make(chan domain.ScheduledTask, len(tasks))
	for _, t := range tasks {
		taskChan <- t
	}
	close(taskChan)

	var processed, skipped int64
	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range taskChan {
				if r.runTask(ctx, task) {
					atomic.AddInt64(&processed, 1)
				} else {
					atomic.AddInt64(&skipped, 1)
				}
			}
		}()
	}
	wg.Wait()

	logger.With(logger.Fields{
		"processed": processed,
		"skipped":   skipped,
	}).WithCount(len(tasks)).Debug(ctx, "Scheduler page done")
	return len(tasks), nil
}

// runTask reports whether the job actually ran.
func (r *Runner) runTask(ctx context.Context, task domain.ScheduledTask) bool {
	taskCtx := logger.WithFields(ctx, logger.Fields{
		"task_id": task.ID,
		"reason":  string(task.Reason),
	})
	if task.BatchID != "" {
		taskCtx = logger.SetBatchID(taskCtx, task.BatchID)
	}
	defer func() {
		if err := r.queue.MarkDone(context.WithoutCancel(taskCtx), task.ID); err != nil {
			logger.CtxError(taskCtx, "Failed to mark task done: %v", err)
		}
	}()

	_, err := r.sync.ProcessJob(taskCtx, task.JobID)
	switch {
	case err == nil:
		return true
	case errors.Is(err, domain.ErrJobInFlight), errors.Is(err, domain.ErrInvalidStatus):
		// Another trigger got there first, or the job was reviewed meanwhile.
		logger.CtxDebug(taskCtx, "Skipping scheduled job %s: %v", task.JobID, err)
	default:
		logger.CtxError(taskCtx, "Scheduled job %s could not start: %v", task.JobID, err)
	}
	return false
}
