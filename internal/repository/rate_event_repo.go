package repository

import (
	"context"
	"time"

	"github.com/timmy/alttext/internal/domain"
	"gorm.io/gorm"
)

// RateEventRepository stores request timestamps for the shared rate limiter.
type RateEventRepository struct {
	db *gorm.DB
}

// NewRateEventRepository creates a new RateEventRepository.
func NewRateEventRepository(db *gorm.DB) *RateEventRepository {
	return &RateEventRepository{db: db}
}

// Purge deletes events of one (provider, window) that happened before cutoff.
func (r *RateEventRepository) Purge(ctx context.Context, provider string, window int, cutoff time.Time) error {
	return r.db.WithContext(ctx).
		Where("provider = ? AND window_seconds = ? AND occurred_at < ?", provider, window, cutoff.UTC()).
		Delete(&domain.RateEvent{}).Error
}

// Count returns the number of events at or after since.
func (r *RateEventRepository) Count(ctx context.Context, provider string, window int, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.RateEvent{}).
		Where("provider = ? AND window_seconds = ? AND occurred_at >= ?", provider, window, since.UTC()).
		Count(&count).Error
	return count, err
}

// Oldest returns the earliest event at or after since, if any.
func (r *RateEventRepository) Oldest(ctx context.Context, provider string, window int, since time.Time) (time.Time, bool, error) {
	var events []domain.RateEvent
	err := r.db.WithContext(ctx).
		Where("provider = ? AND window_seconds = ? AND occurred_at >= ?", provider, window, since.UTC()).
		Order("occurred_at ASC").
		Limit(1).
		Find(&events).Error
	if err != nil || len(events) == 0 {
		return time.Time{}, false, err
	}
	return events[0].OccurredAt, true, nil
}

// Insert records one event.
func (r *RateEventRepository) Insert(ctx context.Context, provider string, window int, at time.Time) error {
	return r.db.WithContext(ctx).Create(&domain.RateEvent{
		Provider:   provider,
		Window:     window,
		OccurredAt: at.UTC(),
	}).Error
}
