package domain

import "time"

// RateEvent is one recorded provider request inside a shared sliding window.
// Rows older than the longest window are purged lazily by the limiter.
type RateEvent struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Provider   string    `gorm:"type:text;not null;index:idx_rate_events_window" json:"provider"`
	Window     int       `gorm:"column:window_seconds;not null;index:idx_rate_events_window" json:"window"`
	OccurredAt time.Time `gorm:"not null;index:idx_rate_events_window" json:"occurred_at"`
}

func (RateEvent) TableName() string {
	return "rate_events"
}
