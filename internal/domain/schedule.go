package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// StringMap is a custom type for storing a flat string map as JSON in the database.
type StringMap map[string]string

// Value implements the driver.Valuer interface for database serialization.
// Parameters: none.
// Returns:
//   - driver.Value: JSON-encoded string representation of the map.
//   - error: non-nil if marshaling fails.
func (m StringMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
// Parameters:
//   - value: raw database value to decode.
// Returns:
//   - error: non-nil if decoding fails or the type is unexpected.
func (m *StringMap) Scan(value interface{}) error {
	if value == nil {
		*m = StringMap{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan StringMap")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, m)
}

// TaskStatus represents the state of a scheduled task.
type TaskStatus string

const (
	TaskStatusQueued  TaskStatus = "queued"
	TaskStatusClaimed TaskStatus = "claimed"
	TaskStatusDone    TaskStatus = "done"
	TaskStatusRemoved TaskStatus = "removed"
)

// TaskReason records why a job was put back on the schedule.
type TaskReason string

const (
	TaskReasonInitial   TaskReason = "initial"
	TaskReasonRetry     TaskReason = "retry"
	TaskReasonRateLimit TaskReason = "rate_limit"
)

// ScheduledTask is a durable "run this job at or after RunAt" entry.
type ScheduledTask struct {
	ID        string     `gorm:"type:text;primaryKey" json:"id"`
	JobID     string     `gorm:"type:text;not null;index:idx_tasks_job" json:"job_id"`
	BatchID   string     `gorm:"type:text;index:idx_tasks_batch" json:"batch_id,omitempty"`
	RunAt     time.Time  `gorm:"not null;index:idx_tasks_due" json:"run_at"`
	Status    TaskStatus `gorm:"type:text;not null;default:queued;index:idx_tasks_due" json:"status"`
	Reason    TaskReason `gorm:"type:text" json:"reason"`
	Attempt   int        `gorm:"default:0" json:"attempt"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// TableName returns the database table name for ScheduledTask.
func (ScheduledTask) TableName() string {
	return "scheduled_tasks"
}

// JobRef is what the scheduler needs to put a job back on the queue.
type JobRef struct {
	JobID   string
	BatchID string
	Reason  TaskReason
	Attempt int
}
