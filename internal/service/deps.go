package service

import (
	"context"
	"time"

	"github.com/timmy/alttext/internal/domain"
	"github.com/timmy/alttext/internal/provider"
)

// JobStore is the part of repository.JobRepository the pipeline uses.
type JobStore interface {
	Create(ctx context.Context, job *domain.ProcessingJob) error
	GetByID(ctx context.Context, id string) (*domain.ProcessingJob, error)
	GetLatestBySubject(ctx context.Context, subjectID, lang string) (*domain.ProcessingJob, error)
	CompareAndSetStatus(ctx context.Context, id string, from, to domain.JobStatus, fields map[string]interface{}) (bool, error)
	ListRetryable(ctx context.Context, maxRetries, limit int) ([]domain.ProcessingJob, error)
}

// SubjectStore is the part of repository.SubjectRepository the pipeline uses.
type SubjectStore interface {
	GetByID(ctx context.Context, id string) (*domain.Subject, error)
	ApplyMetadata(ctx context.Context, id string, m domain.Metadata) error
	SaveDraft(ctx context.Context, id string, m domain.Metadata) error
	DiscardDraft(ctx context.Context, id string) error
}

// Scheduler puts jobs back on the queue for a later time.
// repository.ScheduleRepository implements it durably.
type Scheduler interface {
	EnqueueAt(ctx context.Context, at time.Time, ref domain.JobRef) error
	EnqueueGroupAt(ctx context.Context, at time.Time, refs []domain.JobRef) error
	RemoveQueuedByBatch(ctx context.Context, batchID string) (int64, error)
}

// Resolver supplies the image and prompt context for a subject.
type Resolver interface {
	GetImage(ctx context.Context, subjectID string) (domain.SubjectImage, error)
	GetContext(ctx context.Context, subjectID string) (domain.SubjectContext, error)
}

// ProviderSelector picks providers for a job. provider.Factory implements it.
type ProviderSelector interface {
	Primary() (provider.Provider, error)
	Chain() []provider.Provider
	ChainNames() []string
}

// RateLimiter admits or delays provider calls. ratelimit.MemoryLimiter and
// ratelimit.SharedLimiter implement it.
type RateLimiter interface {
	Acquire(ctx context.Context, p domain.ProviderName) (int, error)
}
