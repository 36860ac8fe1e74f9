package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/timmy/alttext/internal/domain"
	"github.com/timmy/alttext/internal/logger"
)

// ErrNoDraft is returned when a needs_review job's subject has no draft to apply.
var ErrNoDraft = errors.New("subject has no draft metadata")

// ApproveDraft applies the reviewed draft of a needs_review job to its subject.
func (s *Synchronizer) ApproveDraft(ctx context.Context, jobID string) (*domain.ProcessingJob, error) {
	job, err := s.reviewable(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if job.Cancelled {
		// Results of cancelled batches were recorded but never drafted.
		return nil, fmt.Errorf("%w: job %s was cancelled, reprocess the subject instead", ErrNoDraft, job.ID)
	}

	subject, err := s.subjects.GetByID(ctx, job.SubjectID)
	if err != nil {
		return nil, err
	}
	state := domain.StateOf(subject)
	if state.Kind() != domain.StateDraft {
		return nil, fmt.Errorf("%w: %s", ErrNoDraft, subject.ID)
	}

	if err := s.subjects.ApplyMetadata(ctx, subject.ID, state.Metadata()); err != nil {
		return nil, fmt.Errorf("failed to apply draft: %w", err)
	}
	now := s.now()
	if err := s.transition(ctx, job, domain.JobStatusApproved, map[string]interface{}{
		"approved_at": now,
	}); err != nil {
		return nil, err
	}
	job.ApprovedAt = &now

	logger.CtxInfo(logger.SetSubjectID(logger.SetJobID(ctx, job.ID), job.SubjectID), "Draft approved")
	return job, nil
}

// RejectDraft discards the draft of a needs_review job and skips the job.
func (s *Synchronizer) RejectDraft(ctx context.Context, jobID string) (*domain.ProcessingJob, error) {
	job, err := s.reviewable(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.Cancelled {
		if err := s.subjects.DiscardDraft(ctx, job.SubjectID); err != nil {
			return nil, fmt.Errorf("failed to discard draft: %w", err)
		}
	}
	if err := s.transition(ctx, job, domain.JobStatusSkipped, nil); err != nil {
		return nil, err
	}

	logger.CtxInfo(logger.SetSubjectID(logger.SetJobID(ctx, job.ID), job.SubjectID), "Draft rejected")
	return job, nil
}

func (s *Synchronizer) reviewable(ctx context.Context, jobID string) (*domain.ProcessingJob, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.JobStatusNeedsReview {
		return nil, fmt.Errorf("%w: job %s is %s, not %s", domain.ErrInvalidStatus, job.ID, job.Status, domain.JobStatusNeedsReview)
	}
	return job, nil
}
