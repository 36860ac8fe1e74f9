package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/alttext/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SubjectRepository handles subject data operations.
type SubjectRepository struct {
	db *gorm.DB
}

// NewSubjectRepository creates a new SubjectRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *SubjectRepository: repository instance bound to db.
func NewSubjectRepository(db *gorm.DB) *SubjectRepository {
	return &SubjectRepository{db: db}
}

// Create inserts a new subject record.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - subject: subject record to persist; an empty ID is generated.
// Returns:
//   - error: non-nil if the insert fails.
func (r *SubjectRepository) Create(ctx context.Context, subject *domain.Subject) error {
	if subject.ID == "" {
		subject.ID = uuid.New().String()
	}
	if subject.State == "" {
		subject.State = domain.StateNone
	}
	return r.db.WithContext(ctx).Create(subject).Error
}

// Upsert creates a subject or refreshes its source-owned columns, keyed by source fields.
// Generated metadata columns are never overwritten here.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - subject: subject record to create or update.
// Returns:
//   - error: non-nil if the upsert fails.
func (r *SubjectRepository) Upsert(ctx context.Context, subject *domain.Subject) error {
	if subject.ID == "" {
		subject.ID = uuid.New().String()
	}
	if subject.State == "" {
		subject.State = domain.StateNone
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "source_type"}, {Name: "source_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"storage_key", "format", "width", "height", "file_size", "md5_hash",
			"post_title", "categories", "tags", "exif", "updated_at",
		}),
	}).Create(subject).Error
}

// GetByID retrieves a subject by its ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: subject ID.
// Returns:
//   - *domain.Subject: subject record if found.
//   - error: domain.ErrSubjectNotFound if no row matches.
func (r *SubjectRepository) GetByID(ctx context.Context, id string) (*domain.Subject, error) {
	var subject domain.Subject
	if err := r.db.WithContext(ctx).First(&subject, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrSubjectNotFound, id)
		}
		return nil, err
	}
	return &subject, nil
}

// ExistsByMD5Hash checks if a subject with the given MD5 hash exists.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - md5Hash: MD5 hash of the image content.
// Returns:
//   - bool: true if a record exists.
//   - error: non-nil if the lookup fails.
func (r *SubjectRepository) ExistsByMD5Hash(ctx context.Context, md5Hash string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.Subject{}).Where("md5_hash = ?", md5Hash).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// ApplyMetadata writes generated metadata onto the subject and clears any draft.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: subject ID.
//   - m: metadata to apply.
// Returns:
//   - error: domain.ErrSubjectNotFound if no row matches.
func (r *SubjectRepository) ApplyMetadata(ctx context.Context, id string, m domain.Metadata) error {
	return r.update(ctx, id, map[string]interface{}{
		"alt":        m.Alt,
		"caption":    m.Caption,
		"title":      m.Title,
		"keywords":   domain.StringArray(m.Keywords),
		"draft":      nil,
		"state":      domain.StateApplied,
		"updated_at": time.Now().UTC(),
	})
}

// SaveDraft stores metadata for review without touching the applied fields.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: subject ID.
//   - m: metadata awaiting review.
// Returns:
//   - error: domain.ErrSubjectNotFound if no row matches.
func (r *SubjectRepository) SaveDraft(ctx context.Context, id string, m domain.Metadata) error {
	return r.update(ctx, id, map[string]interface{}{
		"draft":      &m,
		"state":      domain.StateDraft,
		"updated_at": time.Now().UTC(),
	})
}

// DiscardDraft drops a pending draft. Subjects that never had applied
// metadata go back to StateNone.
func (r *SubjectRepository) DiscardDraft(ctx context.Context, id string) error {
	subject, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	state := domain.StateNone
	if subject.Alt != "" {
		state = domain.StateApplied
	}
	return r.update(ctx, id, map[string]interface{}{
		"draft":      nil,
		"state":      state,
		"updated_at": time.Now().UTC(),
	})
}

// ListIDsWithoutMetadata returns subjects that have neither applied nor draft metadata.
func (r *SubjectRepository) ListIDsWithoutMetadata(ctx context.Context, limit int) ([]string, error) {
	var ids []string
	query := r.db.WithContext(ctx).
		Model(&domain.Subject{}).
		Where("state = ?", domain.StateNone).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// Count returns the number of subjects.
func (r *SubjectRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Subject{}).Count(&count).Error
	return count, err
}

func (r *SubjectRepository) update(ctx context.Context, id string, updates map[string]interface{}) error {
	res := r.db.WithContext(ctx).Model(&domain.Subject{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", domain.ErrSubjectNotFound, id)
	}
	return nil
}
