package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/alttext/internal/domain"
	"gorm.io/gorm"
)

// JobRepository handles processing job data operations.
type JobRepository struct {
	db *gorm.DB
}

// NewJobRepository creates a new JobRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *JobRepository: repository instance bound to db.
func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create inserts a new job. A missing ID or status is filled in.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - job: job record to persist.
// Returns:
//   - error: domain.ErrDuplicateJob if the subject already has an open job
//     in that language, or an insert error.
func (r *JobRepository) Create(ctx context.Context, job *domain.ProcessingJob) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = domain.JobStatusPending
	}
	err := r.db.WithContext(ctx).Create(job).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %s/%s", domain.ErrDuplicateJob, job.SubjectID, job.LanguageCode)
	}
	return err
}

// GetByID retrieves a job by its ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job ID.
// Returns:
//   - *domain.ProcessingJob: job record if found.
//   - error: domain.ErrJobNotFound if no row matches.
func (r *JobRepository) GetByID(ctx context.Context, id string) (*domain.ProcessingJob, error) {
	var job domain.ProcessingJob
	if err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
		}
		return nil, err
	}
	return &job, nil
}

// GetLatestBySubject returns the most recent job for a subject and language.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - subjectID: subject ID.
//   - lang: language code.
// Returns:
//   - *domain.ProcessingJob: latest job, or nil if the subject was never queued.
//   - error: non-nil if the query fails.
func (r *JobRepository) GetLatestBySubject(ctx context.Context, subjectID, lang string) (*domain.ProcessingJob, error) {
	var job domain.ProcessingJob
	err := r.db.WithContext(ctx).
		Where("subject_id = ? AND language_code = ?", subjectID, lang).
		Order("created_at DESC").
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// CompareAndSetStatus moves a job from one status to another only if it is
// still in the expected status. Extra column updates are applied atomically
// with the status change.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job ID.
//   - from: status the job must currently be in.
//   - to: target status; must be a legal transition from from.
//   - fields: additional columns to update, keyed by column name; may be nil.
// Returns:
//   - bool: true if this call performed the transition.
//   - error: domain.ErrInvalidStatus for an illegal transition, or a query error.
func (r *JobRepository) CompareAndSetStatus(ctx context.Context, id string, from, to domain.JobStatus, fields map[string]interface{}) (bool, error) {
	if !domain.CanTransition(from, to) {
		return false, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidStatus, from, to)
	}

	updates := make(map[string]interface{}, len(fields)+2)
	for k, v := range fields {
		updates[k] = v
	}
	updates["status"] = to
	updates["updated_at"] = time.Now().UTC()

	res := r.db.WithContext(ctx).
		Model(&domain.ProcessingJob{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
		return false, fmt.Errorf("%w: job %s", domain.ErrDuplicateJob, id)
	}
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// UpdateStatus moves a job to a new status from whatever status it is in now.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job ID.
//   - to: target status.
//   - fields: additional columns to update; may be nil.
// Returns:
//   - error: domain.ErrInvalidStatus if the transition is illegal or lost a race.
func (r *JobRepository) UpdateStatus(ctx context.Context, id string, to domain.JobStatus, fields map[string]interface{}) error {
	job, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	ok, err := r.CompareAndSetStatus(ctx, id, job.Status, to, fields)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: job %s changed status concurrently", domain.ErrInvalidStatus, id)
	}
	return nil
}

// UpdateFields writes columns that do not change the job's status.
func (r *JobRepository) UpdateFields(ctx context.Context, id string, fields map[string]interface{}) error {
	if _, ok := fields["status"]; ok {
		return fmt.Errorf("%w: use CompareAndSetStatus to change status", domain.ErrInvalidStatus)
	}
	return r.db.WithContext(ctx).
		Model(&domain.ProcessingJob{}).
		Where("id = ?", id).
		Updates(fields).Error
}

// GetPending returns pending jobs matching the filter, oldest first.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - filter: narrowing options; its Status is ignored.
// Returns:
//   - []domain.ProcessingJob: pending jobs.
//   - error: non-nil if the query fails.
func (r *JobRepository) GetPending(ctx context.Context, filter domain.JobFilter) ([]domain.ProcessingJob, error) {
	filter.Status = domain.JobStatusPending
	return r.List(ctx, filter)
}

// List returns jobs matching the filter, oldest first.
func (r *JobRepository) List(ctx context.Context, filter domain.JobFilter) ([]domain.ProcessingJob, error) {
	query := r.db.WithContext(ctx).Model(&domain.ProcessingJob{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.LanguageCode != "" {
		query = query.Where("language_code = ?", filter.LanguageCode)
	}
	if len(filter.SubjectIDs) > 0 {
		query = query.Where("subject_id IN ?", filter.SubjectIDs)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var jobs []domain.ProcessingJob
	if err := query.Order("created_at ASC").Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// ListRetryable returns failed jobs that have not reached the retry ceiling.
func (r *JobRepository) ListRetryable(ctx context.Context, maxRetries, limit int) ([]domain.ProcessingJob, error) {
	var jobs []domain.ProcessingJob
	query := r.db.WithContext(ctx).
		Where("status = ? AND retry_count < ?", domain.JobStatusFailed, maxRetries).
		Order("updated_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// Stats aggregates job counts per status and the total recorded spend.
// Parameters:
//   - ctx: context for cancellation and deadlines.
// Returns:
//   - *domain.JobStats: counts and spend.
//   - error: non-nil if the query fails.
func (r *JobRepository) Stats(ctx context.Context) (*domain.JobStats, error) {
	var rows []struct {
		Status domain.JobStatus
		Count  int64
		Cost   float64
	}
	if err := r.db.WithContext(ctx).
		Model(&domain.ProcessingJob{}).
		Select("status, COUNT(*) AS count, COALESCE(SUM(total_cost), 0) AS cost").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	stats := &domain.JobStats{ByStatus: make(map[domain.JobStatus]int64, len(rows))}
	for _, row := range rows {
		stats.ByStatus[row.Status] = row.Count
		stats.TotalCost += row.Cost
	}
	return stats, nil
}
