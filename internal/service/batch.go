package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/alttext/internal/domain"
	"github.com/timmy/alttext/internal/logger"
)

// BatchOptions control one batch run.
type BatchOptions struct {
	BatchID  string // generated when empty
	Language string
	Workers  int // overrides the processor default when positive
}

// BatchItemResult is the per-subject line of a batch report.
type BatchItemResult struct {
	SubjectID string           `json:"subject_id"`
	JobID     string           `json:"job_id,omitempty"`
	Status    domain.JobStatus `json:"status,omitempty"`
	Errors    []string         `json:"errors,omitempty"`
}

// BatchResult aggregates a batch run.
type BatchResult struct {
	BatchID     string            `json:"batch_id"`
	Total       int64             `json:"total"`
	Processed   int64             `json:"processed"`
	Approved    int64             `json:"approved"`
	NeedsReview int64             `json:"needs_review"`
	Failed      int64             `json:"failed"`
	Rescheduled int64             `json:"rescheduled"`
	Cancelled   int64             `json:"cancelled"`
	RateLimited bool              `json:"rate_limited"`
	ResumeAt    *time.Time        `json:"resume_at,omitempty"`
	TotalCost   float64           `json:"total_cost"`
	Items       []BatchItemResult `json:"items"`
	StartTime   time.Time         `json:"start_time"`
	EndTime     time.Time         `json:"end_time"`
}

// BatchProcessor fans a list of subjects out over a bounded worker pool.
type BatchProcessor struct {
	sync      *Synchronizer
	scheduler Scheduler
	workers   int

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// NewBatchProcessor creates a processor with the given default concurrency.
func NewBatchProcessor(s *Synchronizer, scheduler Scheduler, workers int) *BatchProcessor {
	if workers <= 0 {
		workers = 1
	}
	return &BatchProcessor{
		sync:      s,
		scheduler: scheduler,
		workers:   workers,
		running:   make(map[string]context.CancelFunc),
	}
}

type batchWork struct {
	index int
	job   *domain.ProcessingJob
}

// batchState is shared between the feeder and the workers of one run.
type batchState struct {
	result  *BatchResult
	mu      sync.Mutex // guards result.Items, TotalCost and the stop fields
	stopped atomic.Bool
	delay   int
}

// stop records a rate-limit hit. The group resumes after the longest delay seen.
func (st *batchState) stop(delay int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if delay > st.delay {
		st.delay = delay
	}
	st.stopped.Store(true)
}

// Run processes subjects with up to opts.Workers concurrent jobs.
// A rate-limit hit stops dispatch; every item not yet started is then
// rescheduled as one group at a single resume time. Cancelling ctx stops
// dispatch and removes the batch's queued tasks; calls already in flight
// finish and are recorded but not applied.
// Parameters:
//   - ctx: cancellation for the batch as a whole.
//   - subjectIDs: subjects to process, in order.
//   - opts: batch ID, language and concurrency.
// Returns:
//   - *BatchResult: aggregate counts and per-item results.
func (b *BatchProcessor) Run(ctx context.Context, subjectIDs []string, opts BatchOptions) *BatchResult {
	if opts.BatchID == "" {
		opts.BatchID = uuid.New().String()
	}
	workers := b.workers
	if opts.Workers > 0 {
		workers = opts.Workers
	}

	batchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	b.register(opts.BatchID, cancel)
	defer b.unregister(opts.BatchID)

	logCtx := logger.SetComponent(logger.SetBatchID(ctx, opts.BatchID), "batch")
	st := &batchState{result: &BatchResult{
		BatchID:   opts.BatchID,
		Total:     int64(len(subjectIDs)),
		Items:     make([]BatchItemResult, len(subjectIDs)),
		StartTime: time.Now(),
	}}
	for i, id := range subjectIDs {
		st.result.Items[i].SubjectID = id
	}

	logger.With(logger.Fields{
		"workers": workers,
	}).WithCount(len(subjectIDs)).Info(logCtx, "Starting batch")

	workChan := make(chan batchWork, workers*2)
	var leftovers []batchWork
	var leftoverMu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for w := range workChan {
				if st.stopped.Load() || batchCtx.Err() != nil {
					leftoverMu.Lock()
					leftovers = append(leftovers, w)
					leftoverMu.Unlock()
					continue
				}
				b.runItem(logCtx, batchCtx, st, w)
			}
		}()
	}

	next := 0
feed:
	for ; next < len(subjectIDs); next++ {
		if st.stopped.Load() || batchCtx.Err() != nil {
			break
		}
		job, err := b.sync.EnsureJob(logCtx, subjectIDs[next], opts.Language)
		if err != nil {
			b.recordError(st, next, "", err)
			continue
		}
		st.mu.Lock()
		st.result.Items[next].JobID = job.ID
		st.result.Items[next].Status = job.Status
		st.mu.Unlock()

		select {
		case workChan <- batchWork{index: next, job: job}:
		case <-batchCtx.Done():
			leftoverMu.Lock()
			leftovers = append(leftovers, batchWork{index: next, job: job})
			leftoverMu.Unlock()
			next++
			break feed
		}
	}
	close(workChan)
	wg.Wait()

	// Items the feeder never reached still need a job for the group reschedule.
	for ; next < len(subjectIDs); next++ {
		if batchCtx.Err() != nil {
			break
		}
		job, err := b.sync.EnsureJob(logCtx, subjectIDs[next], opts.Language)
		if err != nil {
			b.recordError(st, next, "", err)
			continue
		}
		st.result.Items[next].JobID = job.ID
		st.result.Items[next].Status = job.Status
		leftovers = append(leftovers, batchWork{index: next, job: job})
	}
	// Whatever is left after a cancel was never started.
	st.result.Cancelled += int64(len(subjectIDs) - next)

	switch {
	case batchCtx.Err() != nil:
		b.cancelLeftovers(logCtx, st, opts.BatchID, leftovers)
	case st.stopped.Load():
		b.rescheduleLeftovers(logCtx, st, opts.BatchID, leftovers)
	}

	st.result.EndTime = time.Now()
	logger.With(logger.Fields{
		"processed":    st.result.Processed,
		"approved":     st.result.Approved,
		"needs_review": st.result.NeedsReview,
		"failed":       st.result.Failed,
		"rescheduled":  st.result.Rescheduled,
		"cancelled":    st.result.Cancelled,
	}).WithDuration(st.result.EndTime.Sub(st.result.StartTime).Milliseconds()).
		WithCost(st.result.TotalCost).
		Info(logCtx, "Batch completed")
	return st.result
}

func (b *BatchProcessor) runItem(logCtx, batchCtx context.Context, st *batchState, w batchWork) {
	// The job itself runs detached so in-flight calls finish; batchCtx only
	// decides whether its result may be applied.
	outcome, err := b.sync.process(context.WithoutCancel(logCtx), w.job.ID, batchCtx.Done())
	if err != nil {
		b.recordError(st, w.index, w.job.ID, err)
		return
	}

	atomic.AddInt64(&st.result.Processed, 1)
	st.mu.Lock()
	item := &st.result.Items[w.index]
	item.Status = outcome.Status
	item.Errors = outcome.Errors
	st.result.TotalCost += outcome.Cost
	st.mu.Unlock()

	switch {
	case outcome.RateLimited:
		atomic.AddInt64(&st.result.Rescheduled, 1)
		st.stop(outcome.RetryAfter)
	case outcome.Cancelled:
		atomic.AddInt64(&st.result.Cancelled, 1)
	case outcome.Status == domain.JobStatusApproved:
		atomic.AddInt64(&st.result.Approved, 1)
	case outcome.Status == domain.JobStatusNeedsReview:
		atomic.AddInt64(&st.result.NeedsReview, 1)
	default:
		atomic.AddInt64(&st.result.Failed, 1)
	}
}

func (b *BatchProcessor) recordError(st *batchState, index int, jobID string, err error) {
	atomic.AddInt64(&st.result.Failed, 1)
	st.mu.Lock()
	defer st.mu.Unlock()
	item := &st.result.Items[index]
	if jobID != "" {
		item.JobID = jobID
	}
	item.Errors = append(item.Errors, err.Error())
}

// rescheduleLeftovers queues every unstarted item at one resume time.
func (b *BatchProcessor) rescheduleLeftovers(ctx context.Context, st *batchState, batchID string, leftovers []batchWork) {
	st.result.RateLimited = true
	if len(leftovers) == 0 {
		return
	}

	delay := st.delay
	if delay < 1 {
		delay = 1
	}
	at := b.sync.now().Add(time.Duration(delay) * time.Second)
	refs := make([]domain.JobRef, 0, len(leftovers))
	for _, w := range leftovers {
		refs = append(refs, domain.JobRef{
			JobID:   w.job.ID,
			BatchID: batchID,
			Reason:  domain.TaskReasonRateLimit,
			Attempt: w.job.RetryCount,
		})
	}

	if err := b.scheduler.EnqueueGroupAt(ctx, at, refs); err != nil {
		logger.CtxError(ctx, "Failed to reschedule %d batch items: %v", len(refs), err)
		for _, w := range leftovers {
			b.recordError(st, w.index, w.job.ID, fmt.Errorf("failed to reschedule: %w", err))
		}
		return
	}
	st.result.Rescheduled += int64(len(refs))
	st.result.ResumeAt = &at
	for _, w := range leftovers {
		st.result.Items[w.index].Errors = append(st.result.Items[w.index].Errors,
			fmt.Sprintf("rate limit reached, rescheduled for %s", at.Format(time.RFC3339)))
	}
	logger.With(logger.Fields{
		"resume_at": at.Format(time.RFC3339),
	}).WithCount(len(refs)).Info(ctx, "Batch stopped on rate limit, remaining items rescheduled")
}

// cancelLeftovers skips unstarted jobs and drops any queued tasks of the batch.
func (b *BatchProcessor) cancelLeftovers(ctx context.Context, st *batchState, batchID string, leftovers []batchWork) {
	st.result.Cancelled += int64(len(leftovers))
	ctx = context.WithoutCancel(ctx)
	for _, w := range leftovers {
		ok, err := b.sync.jobs.CompareAndSetStatus(ctx, w.job.ID, domain.JobStatusPending, domain.JobStatusSkipped, map[string]interface{}{
			"error_message": "batch cancelled",
		})
		if err != nil {
			logger.CtxWarn(ctx, "Failed to skip cancelled job %s: %v", w.job.ID, err)
			continue
		}
		if ok {
			st.result.Items[w.index].Status = domain.JobStatusSkipped
		}
	}
	removed, err := b.scheduler.RemoveQueuedByBatch(ctx, batchID)
	if err != nil {
		logger.CtxError(ctx, "Failed to remove queued batch tasks: %v", err)
	}
	logger.With(logger.Fields{
		"removed_tasks": removed,
	}).WithCount(len(leftovers)).Warn(ctx, "Batch cancelled")
}

// Cancel stops a running batch and removes its queued tasks. It reports
// whether a batch with that ID was running in this process.
func (b *BatchProcessor) Cancel(ctx context.Context, batchID string) (bool, int64, error) {
	b.mu.Lock()
	cancel, ok := b.running[batchID]
	b.mu.Unlock()
	if ok {
		cancel()
	}
	removed, err := b.scheduler.RemoveQueuedByBatch(ctx, batchID)
	return ok, removed, err
}

func (b *BatchProcessor) register(id string, cancel context.CancelFunc) {
	b.mu.Lock()
	b.running[id] = cancel
	b.mu.Unlock()
}

func (b *BatchProcessor) unregister(id string) {
	b.mu.Lock()
	delete(b.running, id)
	b.mu.Unlock()
}
