package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/timmy/alttext/internal/domain"
	"github.com/timmy/alttext/internal/logger"
	"github.com/timmy/alttext/internal/prompts"
	"github.com/timmy/alttext/internal/provider"
	"github.com/timmy/alttext/internal/quality"
)

// ProcessOutcome is the structured result of one job run. The pipeline never
// returns a panic or an unclassified failure across this boundary.
type ProcessOutcome struct {
	JobID       string              `json:"job_id"`
	SubjectID   string              `json:"subject_id"`
	Status      domain.JobStatus    `json:"status"`
	Success     bool                `json:"success"`
	Errors      []string            `json:"errors,omitempty"`
	ErrorKind   domain.ErrorKind    `json:"error_kind,omitempty"`
	Provider    string              `json:"provider,omitempty"`
	Score       float64             `json:"score,omitempty"`
	Cost        float64             `json:"cost,omitempty"`
	RateLimited bool                `json:"rate_limited,omitempty"`
	RetryAfter  int                 `json:"retry_after_seconds,omitempty"`
	RetryAt     *time.Time          `json:"retry_at,omitempty"`
	Cancelled   bool                `json:"cancelled,omitempty"`
	Evaluation  *quality.Evaluation `json:"evaluation,omitempty"`
}

func (o *ProcessOutcome) addError(err error) {
	o.Errors = append(o.Errors, err.Error())
	if o.ErrorKind == "" {
		o.ErrorKind = domain.KindOf(err)
	}
}

// SynchronizerConfig holds the tunables of a Synchronizer.
type SynchronizerConfig struct {
	RequestTimeout  time.Duration
	Backoff         Backoff
	FallbackEnabled bool
	PromptTier      prompts.Tier
	DefaultLanguage string
}

// Synchronizer drives one job through the state machine:
// pending -> processing -> approved | needs_review | failed.
type Synchronizer struct {
	jobs      JobStore
	subjects  SubjectStore
	resolver  Resolver
	providers ProviderSelector
	limiter   RateLimiter
	scorer    *quality.Scorer
	scheduler Scheduler
	cfg       SynchronizerConfig
	now       func() time.Time
}

// NewSynchronizer wires a Synchronizer.
// Parameters:
//   - jobs: job store, used for compare-and-set status changes.
//   - subjects: subject store that receives applied or draft metadata.
//   - resolver: image and context lookup.
//   - providers: primary and fallback selection.
//   - limiter: per-provider rate limiter.
//   - scorer: quality gate.
//   - scheduler: durable delayed queue for retries and reschedules.
//   - cfg: timeouts, backoff and fallback settings.
// Returns:
//   - *Synchronizer: ready synchronizer.
func NewSynchronizer(
	jobs JobStore,
	subjects SubjectStore,
	resolver Resolver,
	providers ProviderSelector,
	limiter RateLimiter,
	scorer *quality.Scorer,
	scheduler Scheduler,
	cfg SynchronizerConfig,
) *Synchronizer {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = provider.DefaultTimeout
	}
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = "en"
	}
	return &Synchronizer{
		jobs:      jobs,
		subjects:  subjects,
		resolver:  resolver,
		providers: providers,
		limiter:   limiter,
		scorer:    scorer,
		scheduler: scheduler,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source. Intended for tests.
func (s *Synchronizer) SetClock(clk func() time.Time) {
	s.now = clk
}

// ProcessSubject processes the current job of a subject, creating one if the
// subject has none or its latest job is finished.
func (s *Synchronizer) ProcessSubject(ctx context.Context, subjectID, lang string) (*ProcessOutcome, error) {
	job, err := s.EnsureJob(ctx, subjectID, lang)
	if err != nil {
		return nil, err
	}
	return s.ProcessJob(ctx, job.ID)
}

// EnsureJob returns the open job for subject and language, or creates one.
// A job that is processing is returned as is; ProcessJob will refuse it.
// When a concurrent caller creates the open job first, that job is returned.
func (s *Synchronizer) EnsureJob(ctx context.Context, subjectID, lang string) (*domain.ProcessingJob, error) {
	if lang == "" {
		lang = s.cfg.DefaultLanguage
	}
	if _, err := s.subjects.GetByID(ctx, subjectID); err != nil {
		return nil, err
	}

	latest, err := s.jobs.GetLatestBySubject(ctx, subjectID, lang)
	if err != nil {
		return nil, fmt.Errorf("failed to look up job: %w", err)
	}
	if latest != nil {
		switch latest.Status {
		case domain.JobStatusPending, domain.JobStatusProcessing:
			return latest, nil
		case domain.JobStatusFailed:
			if s.cfg.Backoff.CanRetry(latest.RetryCount) {
				return latest, nil
			}
		}
	}

	job := &domain.ProcessingJob{
		SubjectID:    subjectID,
		LanguageCode: lang,
		Status:       domain.JobStatusPending,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		if !errors.Is(err, domain.ErrDuplicateJob) {
			return nil, fmt.Errorf("failed to create job: %w", err)
		}
		open, getErr := s.jobs.GetLatestBySubject(ctx, subjectID, lang)
		if getErr != nil {
			return nil, fmt.Errorf("failed to look up job: %w", getErr)
		}
		if open == nil {
			return nil, fmt.Errorf("failed to create job: %w", err)
		}
		return open, nil
	}
	return job, nil
}

// ProcessJob runs a job once. Failures are reported in the outcome; the
// returned error is reserved for jobs that cannot be started at all
// (unknown job, already in flight, illegal status).
func (s *Synchronizer) ProcessJob(ctx context.Context, jobID string) (*ProcessOutcome, error) {
	return s.process(ctx, jobID, nil)
}

// process is ProcessJob with an optional cancellation signal that is checked
// after the provider call. A result arriving after cancel is recorded but not applied.
func (s *Synchronizer) process(ctx context.Context, jobID string, cancelled <-chan struct{}) (outcome *ProcessOutcome, err error) {
	ctx = logger.SetComponent(logger.SetJobID(ctx, jobID), "synchronizer")

	var job *domain.ProcessingJob
	defer func() {
		if r := recover(); r != nil {
			logger.CtxError(ctx, "Panic while processing job: %v", r)
			if outcome == nil {
				outcome = &ProcessOutcome{JobID: jobID}
			}
			panicErr := domain.NewProcessingError(domain.ErrKindProcessingFailed, "", fmt.Sprintf("panic: %v", r), nil)
			if job != nil && job.Status == domain.JobStatusProcessing {
				// We own the job; release it so it does not stay processing forever.
				s.fail(ctx, job, outcome, panicErr)
			} else {
				outcome.Success = false
				outcome.addError(panicErr)
			}
			err = nil
		}
	}()

	job, err = s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	ctx = logger.SetSubjectID(ctx, job.SubjectID)

	if err := s.reopenFailed(ctx, job); err != nil {
		return &ProcessOutcome{JobID: job.ID, SubjectID: job.SubjectID, Status: job.Status, Errors: []string{err.Error()}, ErrorKind: domain.ErrKindProcessingFailed}, nil
	}

	ok, err := s.jobs.CompareAndSetStatus(ctx, job.ID, domain.JobStatusPending, domain.JobStatusProcessing, map[string]interface{}{
		"error_message":   "",
		"next_attempt_at": nil,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		current, getErr := s.jobs.GetByID(ctx, job.ID)
		if getErr == nil && current.Status == domain.JobStatusProcessing {
			return nil, fmt.Errorf("%w: %s", domain.ErrJobInFlight, job.ID)
		}
		status := job.Status
		if getErr == nil {
			status = current.Status
		}
		return nil, fmt.Errorf("%w: job %s is %s", domain.ErrInvalidStatus, job.ID, status)
	}
	job.Status = domain.JobStatusProcessing

	outcome = &ProcessOutcome{JobID: job.ID, SubjectID: job.SubjectID, Status: domain.JobStatusProcessing}
	s.run(ctx, job, outcome, cancelled)
	return outcome, nil
}

// reopenFailed moves a failed job back to pending while it is under the retry ceiling.
func (s *Synchronizer) reopenFailed(ctx context.Context, job *domain.ProcessingJob) error {
	if job.Status != domain.JobStatusFailed {
		return nil
	}
	if !s.cfg.Backoff.CanRetry(job.RetryCount) {
		return fmt.Errorf("job %s reached the retry ceiling (%d)", job.ID, s.cfg.Backoff.MaxRetries)
	}
	ok, err := s.jobs.CompareAndSetStatus(ctx, job.ID, domain.JobStatusFailed, domain.JobStatusPending, nil)
	if err != nil {
		return err
	}
	if ok {
		job.Status = domain.JobStatusPending
	}
	return nil
}

// run executes a job that this caller owns in processing status.
func (s *Synchronizer) run(ctx context.Context, job *domain.ProcessingJob, outcome *ProcessOutcome, cancelled <-chan struct{}) {
	candidates, err := s.candidates()
	if err != nil {
		s.fail(ctx, job, outcome, err)
		return
	}

	req, err := s.buildRequest(ctx, job)
	if err != nil {
		s.fail(ctx, job, outcome, err)
		return
	}

	var (
		lastErr   error
		minDelay  int
		attempted bool
	)
	for _, p := range candidates {
		delay, err := s.limiter.Acquire(ctx, p.Name())
		if err != nil {
			lastErr = domain.NewProcessingError(domain.ErrKindUnavailable, p.Name(), "rate limiter unavailable", err)
			continue
		}
		if delay > 0 {
			logger.With(logger.Fields{
				logger.FieldProvider: string(p.Name()),
				"delay_seconds":      delay,
			}).Info(ctx, "Provider rate limit reached")
			if minDelay == 0 || delay < minDelay {
				minDelay = delay
			}
			continue
		}

		attempted = true
		result, err := s.callProvider(ctx, p, req)
		if err == nil {
			s.complete(ctx, job, outcome, result, isClosed(cancelled))
			return
		}
		lastErr = err
		logger.With(logger.Fields{
			logger.FieldProvider: string(p.Name()),
			"error_kind":         string(domain.KindOf(err)),
		}).Warn(ctx, "Provider call failed: %v", err)
		if !domain.IsRetryable(err) {
			break
		}
	}

	if !attempted && minDelay > 0 {
		s.reschedule(ctx, job, outcome, minDelay)
		return
	}
	if lastErr == nil {
		lastErr = domain.ErrNoProvider
	}
	s.fail(ctx, job, outcome, lastErr)
}

// candidates is the primary provider, or the whole chain when fallback is on.
func (s *Synchronizer) candidates() ([]provider.Provider, error) {
	if s.cfg.FallbackEnabled {
		chain := s.providers.Chain()
		if len(chain) == 0 {
			return nil, domain.NewProcessingError(domain.ErrKindConfig, "", "no provider available", domain.ErrNoProvider)
		}
		return chain, nil
	}
	p, err := s.providers.Primary()
	if err != nil {
		return nil, domain.NewProcessingError(domain.ErrKindConfig, "", "no provider available", err)
	}
	return []provider.Provider{p}, nil
}

func (s *Synchronizer) buildRequest(ctx context.Context, job *domain.ProcessingJob) (*provider.AnalyzeRequest, error) {
	img, err := s.resolver.GetImage(ctx, job.SubjectID)
	if err != nil {
		kind := domain.ErrKindProcessingFailed
		if errors.Is(err, domain.ErrStorageUnavailable) {
			kind = domain.ErrKindUnavailable
		}
		return nil, domain.NewProcessingError(kind, "", "failed to resolve image", err)
	}
	sc, err := s.resolver.GetContext(ctx, job.SubjectID)
	if err != nil {
		return nil, domain.NewProcessingError(domain.ErrKindProcessingFailed, "", "failed to resolve context", err)
	}
	return &provider.AnalyzeRequest{
		SubjectID:  job.SubjectID,
		Language:   job.LanguageCode,
		Image:      img,
		Context:    sc,
		PromptTier: s.cfg.PromptTier,
	}, nil
}

// callProvider bounds the vendor call by the request timeout. The call is
// detached from ctx cancellation so an in-flight request can finish.
func (s *Synchronizer) callProvider(ctx context.Context, p provider.Provider, req *provider.AnalyzeRequest) (*provider.AnalyzeResult, error) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.RequestTimeout)
	defer cancel()

	started := s.now()
	result, err := p.Analyze(logger.SetProvider(callCtx, string(p.Name())), req)
	if err == nil {
		logger.With(logger.Fields{
			logger.FieldProvider: string(p.Name()),
			logger.FieldTokens:   result.Usage.InputTokens + result.Usage.OutputTokens,
		}).WithDuration(s.now().Sub(started).Milliseconds()).
			WithCost(result.Cost.TotalCost).
			Info(ctx, "Provider call succeeded")
	}
	return result, err
}

// complete applies the quality gate and records the result.
func (s *Synchronizer) complete(ctx context.Context, job *domain.ProcessingJob, outcome *ProcessOutcome, result *provider.AnalyzeResult, cancelled bool) {
	ctx = context.WithoutCancel(ctx)
	eval := s.scorer.Evaluate(result.Metadata)
	now := s.now()

	fields := map[string]interface{}{
		"provider":         string(result.Provider),
		"model":            result.Model,
		"prompt_version":   result.PromptVersion,
		"request_payload":  s.requestRecord(result),
		"response_payload": result.ResponsePayload,
		"input_tokens":     result.Usage.InputTokens,
		"output_tokens":    result.Usage.OutputTokens,
		"estimated_input":  result.Usage.EstimatedInput,
		"input_cost":       result.Cost.InputCost,
		"output_cost":      result.Cost.OutputCost,
		"total_cost":       result.Cost.TotalCost,
		"score":            eval.VendorScore,
		"error_message":    "",
		"processed_at":     now,
	}

	outcome.Provider = string(result.Provider)
	outcome.Score = eval.VendorScore
	outcome.Cost = result.Cost.TotalCost
	outcome.Evaluation = &eval

	target := domain.JobStatusNeedsReview
	switch {
	case cancelled:
		fields["cancelled"] = true
		outcome.Cancelled = true
	case eval.PassesAutoApprove:
		target = domain.JobStatusApproved
		fields["approved_at"] = now
	}

	var storeErr error
	if target == domain.JobStatusApproved {
		storeErr = s.subjects.ApplyMetadata(ctx, job.SubjectID, result.Metadata)
	} else if !cancelled {
		storeErr = s.subjects.SaveDraft(ctx, job.SubjectID, result.Metadata)
	}
	if storeErr != nil {
		s.fail(ctx, job, outcome, domain.NewProcessingError(domain.ErrKindProcessingFailed, result.Provider, "failed to store metadata", storeErr))
		return
	}

	if err := s.transition(ctx, job, target, fields); err != nil {
		outcome.addError(err)
		return
	}
	outcome.Status = target
	outcome.Success = true

	logger.With(logger.Fields{
		logger.FieldProvider: string(result.Provider),
		"score":              eval.VendorScore,
		"composite":          eval.Score,
		"cancelled":          cancelled,
	}).WithStatus(string(target)).
		WithCost(result.Cost.TotalCost).
		Info(ctx, "Job processed")
}

// requestRecord stores the redacted request together with the fallback order.
func (s *Synchronizer) requestRecord(result *provider.AnalyzeResult) string {
	record := struct {
		Chain   []string        `json:"chain"`
		Request json.RawMessage `json:"request"`
	}{
		Chain:   s.providers.ChainNames(),
		Request: json.RawMessage(result.RequestPayload),
	}
	if !json.Valid(record.Request) {
		record.Request = json.RawMessage("null")
	}
	b, err := json.Marshal(record)
	if err != nil {
		return result.RequestPayload
	}
	return string(b)
}

// reschedule returns the job to pending and queues it after the rate-limit delay.
func (s *Synchronizer) reschedule(ctx context.Context, job *domain.ProcessingJob, outcome *ProcessOutcome, delay int) {
	ctx = context.WithoutCancel(ctx)
	at := s.now().Add(time.Duration(delay) * time.Second)

	if err := s.transition(ctx, job, domain.JobStatusPending, map[string]interface{}{
		"next_attempt_at": at,
	}); err != nil {
		outcome.addError(err)
		return
	}
	outcome.Status = domain.JobStatusPending
	outcome.RateLimited = true
	outcome.RetryAfter = delay
	outcome.RetryAt = &at
	outcome.ErrorKind = domain.ErrKindRateLimited

	if err := s.scheduler.EnqueueAt(ctx, at, domain.JobRef{
		JobID:   job.ID,
		Reason:  domain.TaskReasonRateLimit,
		Attempt: job.RetryCount,
	}); err != nil {
		outcome.addError(fmt.Errorf("failed to reschedule: %w", err))
		return
	}

	logger.With(logger.Fields{
		"delay_seconds": delay,
	}).Info(ctx, "Job rescheduled after rate limit")
}

// fail records a failure and schedules a retry when the error allows one.
func (s *Synchronizer) fail(ctx context.Context, job *domain.ProcessingJob, outcome *ProcessOutcome, cause error) {
	ctx = context.WithoutCancel(ctx)
	outcome.addError(cause)
	outcome.Success = false

	retries := job.RetryCount + 1
	fields := map[string]interface{}{
		"error_message": truncateMessage(cause.Error(), 2000),
		"retry_count":   retries,
		"processed_at":  s.now(),
	}
	var pe *domain.ProcessingError
	if errors.As(cause, &pe) && pe.Provider != "" {
		fields["provider"] = string(pe.Provider)
	}

	willRetry := domain.IsRetryable(cause) && s.cfg.Backoff.CanRetry(retries)
	var retryAt time.Time
	if willRetry {
		retryAt = s.now().Add(s.cfg.Backoff.Delay(retries))
		fields["next_attempt_at"] = retryAt
	}

	if err := s.transition(ctx, job, domain.JobStatusFailed, fields); err != nil {
		outcome.addError(err)
		return
	}
	job.RetryCount = retries
	outcome.Status = domain.JobStatusFailed

	if !willRetry {
		logger.With(logger.Fields{
			"error_kind":  string(domain.KindOf(cause)),
			"retry_count": retries,
		}).WithStatus(string(domain.JobStatusFailed)).
			Error(ctx, "Job failed permanently: %v", cause)
		return
	}

	outcome.RetryAt = &retryAt
	if err := s.scheduler.EnqueueAt(ctx, retryAt, domain.JobRef{
		JobID:   job.ID,
		Reason:  domain.TaskReasonRetry,
		Attempt: retries,
	}); err != nil {
		outcome.addError(fmt.Errorf("failed to schedule retry: %w", err))
		return
	}
	logger.With(logger.Fields{
		"retry_count": retries,
		"retry_at":    retryAt.Format(time.RFC3339),
	}).Warn(ctx, "Job failed, retry scheduled: %v", cause)
}

// transition moves a job this caller owns out of processing.
func (s *Synchronizer) transition(ctx context.Context, job *domain.ProcessingJob, to domain.JobStatus, fields map[string]interface{}) error {
	ok, err := s.jobs.CompareAndSetStatus(ctx, job.ID, job.Status, to, fields)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", job.ID, err)
	}
	if !ok {
		return fmt.Errorf("%w: job %s left %s unexpectedly", domain.ErrInvalidStatus, job.ID, job.Status)
	}
	job.Status = to
	return nil
}

// RequeueFailed schedules every failed job under the retry ceiling to run now.
// Returns the number of jobs queued.
func (s *Synchronizer) RequeueFailed(ctx context.Context, limit int) (int, error) {
	jobs, err := s.jobs.ListRetryable(ctx, s.cfg.Backoff.MaxRetries, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list retryable jobs: %w", err)
	}
	now := s.now()
	for i, job := range jobs {
		if err := s.scheduler.EnqueueAt(ctx, now, domain.JobRef{
			JobID:   job.ID,
			Reason:  domain.TaskReasonRetry,
			Attempt: job.RetryCount,
		}); err != nil {
			return i, err
		}
	}
	return len(jobs), nil
}

func isClosed(ch <-chan struct{}) bool {
	if ch == nil {
		return false
	}
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func truncateMessage(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}
