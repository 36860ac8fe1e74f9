package service

import (
	"time"

	"github.com/timmy/alttext/internal/config"
)

// Backoff computes retry delays as min(Base * 2^(retry-1), Max).
type Backoff struct {
	Base       time.Duration
	Max        time.Duration
	MaxRetries int
}

// DefaultBackoff is one minute doubling up to an hour, three attempts.
func DefaultBackoff() Backoff {
	return Backoff{Base: time.Minute, Max: time.Hour, MaxRetries: 3}
}

// BackoffFromConfig reads the retry settings of the pipeline section.
func BackoffFromConfig(cfg config.PipelineConfig) Backoff {
	b := DefaultBackoff()
	if cfg.RetryBaseSeconds > 0 {
		b.Base = time.Duration(cfg.RetryBaseSeconds) * time.Second
	}
	if cfg.RetryMaxSeconds > 0 {
		b.Max = time.Duration(cfg.RetryMaxSeconds) * time.Second
	}
	if cfg.MaxRetries >= 0 {
		b.MaxRetries = cfg.MaxRetries
	}
	return b
}

// Delay returns the wait before retry number retry (1-based).
func (b Backoff) Delay(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	d := b.Base
	for i := 1; i < retry; i++ {
		d *= 2
		if d >= b.Max {
			return b.Max
		}
	}
	if d > b.Max {
		return b.Max
	}
	return d
}

// CanRetry reports whether a job that has failed retryCount times may run again.
func (b Backoff) CanRetry(retryCount int) bool {
	return retryCount < b.MaxRetries
}
