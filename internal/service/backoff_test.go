package service

import (
	"testing"
	"time"

	"github.com/timmy/alttext/internal/config"
)

func TestBackoff_Delay(t *testing.T) {
	b := DefaultBackoff()
	tests := []struct {
		retry int
		want  time.Duration
	}{
		{0, time.Minute},
		{1, time.Minute},
		{2, 2 * time.Minute},
		{3, 4 * time.Minute},
		{7, time.Hour},
		{40, time.Hour},
	}
	for _, tt := range tests {
		if got := b.Delay(tt.retry); got != tt.want {
			t.Errorf("Delay(%d) = %s, want %s", tt.retry, got, tt.want)
		}
	}
}

func TestBackoff_CanRetry(t *testing.T) {
	b := DefaultBackoff()
	for retries, want := range []bool{true, true, true, false, false} {
		if got := b.CanRetry(retries); got != want {
			t.Errorf("CanRetry(%d) = %v, want %v", retries, got, want)
		}
	}
}

func TestBackoffFromConfig(t *testing.T) {
	b := BackoffFromConfig(config.PipelineConfig{RetryBaseSeconds: 10, RetryMaxSeconds: 30, MaxRetries: 5})
	if b.Base != 10*time.Second || b.Max != 30*time.Second || b.MaxRetries != 5 {
		t.Errorf("backoff = %+v", b)
	}
	if got := b.Delay(3); got != 30*time.Second {
		t.Errorf("Delay(3) = %s, want capped 30s", got)
	}
}
