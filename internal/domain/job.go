package domain

import "time"

// JobStatus represents the status of a processing job.
// Values include JobStatusPending, JobStatusProcessing, JobStatusNeedsReview,
// JobStatusApproved, JobStatusFailed, and JobStatusSkipped.
type JobStatus string

const (
	JobStatusPending     JobStatus = "pending"
	JobStatusProcessing  JobStatus = "processing"
	JobStatusNeedsReview JobStatus = "needs_review"
	JobStatusApproved    JobStatus = "approved"
	JobStatusFailed      JobStatus = "failed"
	JobStatusSkipped     JobStatus = "skipped"
)

// allowedTransitions is the job state machine. Anything not listed is rejected.
var allowedTransitions = map[JobStatus][]JobStatus{
	JobStatusPending:     {JobStatusProcessing, JobStatusSkipped},
	JobStatusProcessing:  {JobStatusApproved, JobStatusNeedsReview, JobStatusFailed, JobStatusPending},
	JobStatusFailed:      {JobStatusPending},
	JobStatusNeedsReview: {JobStatusApproved, JobStatusSkipped},
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to JobStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further automatic processing happens in this status.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusApproved, JobStatusSkipped:
		return true
	}
	return false
}

// ProcessingJob is one "analyze this subject in this language" unit of work.
// Rows are owned by the caller; the pipeline only mutates status, cost and score fields.
// At most one pending or processing job exists per subject and language; the
// partial unique index idx_jobs_open enforces it.
type ProcessingJob struct {
	ID              string     `gorm:"type:text;primaryKey" json:"id"`
	SubjectID       string     `gorm:"type:text;not null;index:idx_jobs_subject_lang;uniqueIndex:idx_jobs_open,where:status = 'pending' OR status = 'processing'" json:"subject_id"`
	LanguageCode    string     `gorm:"type:text;not null;default:en;index:idx_jobs_subject_lang;uniqueIndex:idx_jobs_open,where:status = 'pending' OR status = 'processing'" json:"language_code"`
	Status          JobStatus  `gorm:"type:text;not null;default:pending;index:idx_jobs_status" json:"status"`
	Provider        string     `gorm:"type:text" json:"provider"`
	Model           string     `gorm:"type:text" json:"model"`
	PromptVersion   string     `gorm:"type:text" json:"prompt_version"`
	RequestPayload  string     `gorm:"type:text" json:"request_payload,omitempty"`
	ResponsePayload string     `gorm:"type:text" json:"response_payload,omitempty"`
	InputTokens     int        `gorm:"default:0" json:"input_tokens"`
	OutputTokens    int        `gorm:"default:0" json:"output_tokens"`
	EstimatedInput  bool       `gorm:"default:false" json:"estimated_input"`
	InputCost       float64    `gorm:"default:0" json:"input_cost"`
	OutputCost      float64    `gorm:"default:0" json:"output_cost"`
	TotalCost       float64    `gorm:"default:0" json:"total_cost"`
	Score           float64    `gorm:"default:0" json:"score"`
	ErrorMessage    string     `gorm:"type:text" json:"error_message,omitempty"`
	RetryCount      int        `gorm:"default:0" json:"retry_count"`
	Cancelled       bool       `gorm:"default:false" json:"cancelled"`
	NextAttemptAt   *time.Time `json:"next_attempt_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	ProcessedAt     *time.Time `json:"processed_at,omitempty"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
}

// TableName returns the database table name for ProcessingJob.
func (ProcessingJob) TableName() string {
	return "processing_jobs"
}

// JobFilter narrows job listings.
type JobFilter struct {
	Status       JobStatus
	LanguageCode string
	SubjectIDs   []string
	Limit        int
	Offset       int
}

// JobStats holds per-status counts and accumulated spend.
type JobStats struct {
	ByStatus  map[JobStatus]int64 `json:"by_status"`
	TotalCost float64             `json:"total_cost"`
}
