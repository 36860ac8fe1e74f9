package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/alttext/internal/domain"
	"gorm.io/gorm"
)

// ScheduleRepository is the durable delayed-task queue backing retries and
// rate-limit reschedules.
type ScheduleRepository struct {
	db *gorm.DB
}

// NewScheduleRepository creates a new ScheduleRepository.
func NewScheduleRepository(db *gorm.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

func newTask(at time.Time, ref domain.JobRef) domain.ScheduledTask {
	reason := ref.Reason
	if reason == "" {
		reason = domain.TaskReasonInitial
	}
	return domain.ScheduledTask{
		ID:      uuid.New().String(),
		JobID:   ref.JobID,
		BatchID: ref.BatchID,
		RunAt:   at.UTC(),
		Status:  domain.TaskStatusQueued,
		Reason:  reason,
		Attempt: ref.Attempt,
	}
}

// EnqueueAt schedules a job to run at or after at.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - at: earliest run time.
//   - ref: job reference and scheduling reason.
// Returns:
//   - error: non-nil if the insert fails.
func (r *ScheduleRepository) EnqueueAt(ctx context.Context, at time.Time, ref domain.JobRef) error {
	task := newTask(at, ref)
	return r.db.WithContext(ctx).Create(&task).Error
}

// EnqueueGroupAt schedules several jobs for the same time in one insert.
func (r *ScheduleRepository) EnqueueGroupAt(ctx context.Context, at time.Time, refs []domain.JobRef) error {
	if len(refs) == 0 {
		return nil
	}
	tasks := make([]domain.ScheduledTask, 0, len(refs))
	for _, ref := range refs {
		tasks = append(tasks, newTask(at, ref))
	}
	return r.db.WithContext(ctx).Create(&tasks).Error
}

// ClaimDue claims up to limit queued tasks whose run time has passed.
// Each task is claimed with a conditional update so concurrent runners never
// receive the same task.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - now: reference time.
//   - limit: maximum number of tasks to claim.
// Returns:
//   - []domain.ScheduledTask: tasks this caller now owns.
//   - error: non-nil if the query fails.
func (r *ScheduleRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledTask, error) {
	var due []domain.ScheduledTask
	if err := r.db.WithContext(ctx).
		Where("status = ? AND run_at <= ?", domain.TaskStatusQueued, now.UTC()).
		Order("run_at ASC").
		Limit(limit).
		Find(&due).Error; err != nil {
		return nil, err
	}

	claimed := make([]domain.ScheduledTask, 0, len(due))
	for _, task := range due {
		res := r.db.WithContext(ctx).
			Model(&domain.ScheduledTask{}).
			Where("id = ? AND status = ?", task.ID, domain.TaskStatusQueued).
			Update("status", domain.TaskStatusClaimed)
		if res.Error != nil {
			return claimed, res.Error
		}
		if res.RowsAffected == 1 {
			task.Status = domain.TaskStatusClaimed
			claimed = append(claimed, task)
		}
	}
	return claimed, nil
}

// MarkDone marks a claimed task as finished.
func (r *ScheduleRepository) MarkDone(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Model(&domain.ScheduledTask{}).
		Where("id = ?", id).
		Update("status", domain.TaskStatusDone).Error
}

// RemoveQueuedByBatch drops every not-yet-claimed task of a batch.
// Returns the number of removed tasks.
func (r *ScheduleRepository) RemoveQueuedByBatch(ctx context.Context, batchID string) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&domain.ScheduledTask{}).
		Where("batch_id = ? AND status = ?", batchID, domain.TaskStatusQueued).
		Update("status", domain.TaskStatusRemoved)
	return res.RowsAffected, res.Error
}

// CountQueued returns the number of tasks waiting to run.
func (r *ScheduleRepository) CountQueued(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.ScheduledTask{}).
		Where("status = ?", domain.TaskStatusQueued).
		Count(&count).Error
	return count, err
}
