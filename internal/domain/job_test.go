package domain

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from JobStatus
		to   JobStatus
		want bool
	}{
		{"dispatch", JobStatusPending, JobStatusProcessing, true},
		{"auto approve", JobStatusProcessing, JobStatusApproved, true},
		{"draft", JobStatusProcessing, JobStatusNeedsReview, true},
		{"fail", JobStatusProcessing, JobStatusFailed, true},
		{"reschedule", JobStatusProcessing, JobStatusPending, true},
		{"retry", JobStatusFailed, JobStatusPending, true},
		{"human approve", JobStatusNeedsReview, JobStatusApproved, true},
		{"failed never approved", JobStatusFailed, JobStatusApproved, false},
		{"pending cannot skip processing", JobStatusPending, JobStatusApproved, false},
		{"pending cannot draft directly", JobStatusPending, JobStatusNeedsReview, false},
		{"approved is final", JobStatusApproved, JobStatusPending, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestJobStatusIsTerminal(t *testing.T) {
	if !JobStatusApproved.IsTerminal() {
		t.Error("approved should be terminal")
	}
	if JobStatusFailed.IsTerminal() {
		t.Error("failed may still be retried")
	}
}
