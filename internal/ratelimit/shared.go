package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/timmy/alttext/internal/domain"
)

// EventStore persists request timestamps where every instance can see them.
// repository.RateEventRepository implements it.
type EventStore interface {
	Purge(ctx context.Context, provider string, window int, cutoff time.Time) error
	Count(ctx context.Context, provider string, window int, since time.Time) (int64, error)
	Oldest(ctx context.Context, provider string, window int, since time.Time) (time.Time, bool, error)
	Insert(ctx context.Context, provider string, window int, at time.Time) error
}

// SharedLimiter applies the sliding windows against a shared event store so
// several instances draw from one quota.
//
// Count and insert are separate statements, so two instances racing on the
// last free slot can both be admitted. Over-admission is bounded by the
// number of instances.
type SharedLimiter struct {
	mu     sync.Mutex
	clk    func() time.Time
	limits Limits
	store  EventStore
}

// NewSharedLimiter creates a store-backed limiter. clk nil uses time.Now.
func NewSharedLimiter(store EventStore, limits Limits, clk func() time.Time) *SharedLimiter {
	if clk == nil {
		clk = time.Now
	}
	return &SharedLimiter{clk: clk, limits: limits, store: store}
}

func (s *SharedLimiter) count(ctx context.Context, provider domain.ProviderName, window Window, now time.Time) (int64, time.Time, error) {
	cutoff := now.Add(-window.Duration())
	if err := s.store.Purge(ctx, string(provider), int(window), cutoff); err != nil {
		return 0, cutoff, fmt.Errorf("purge rate events: %w", err)
	}
	n, err := s.store.Count(ctx, string(provider), int(window), cutoff)
	if err != nil {
		return 0, cutoff, fmt.Errorf("count rate events: %w", err)
	}
	return n, cutoff, nil
}

func (s *SharedLimiter) delay(ctx context.Context, provider domain.ProviderName, window Window, now time.Time) (int, error) {
	limit := s.limits.Limit(provider, window)
	if limit <= 0 {
		return 0, nil
	}
	n, cutoff, err := s.count(ctx, provider, window, now)
	if err != nil || n < int64(limit) {
		return 0, err
	}
	oldest, ok, err := s.store.Oldest(ctx, string(provider), int(window), cutoff)
	if err != nil {
		return 0, fmt.Errorf("oldest rate event: %w", err)
	}
	if !ok {
		return 1, nil
	}
	return delayFor(oldest, now, window), nil
}

// Allowed reports whether one more request fits in the window.
func (s *SharedLimiter) Allowed(ctx context.Context, provider domain.ProviderName, window Window) (bool, error) {
	d, err := s.DelaySeconds(ctx, provider, window)
	return d == 0, err
}

// Record stores the current time for the window.
func (s *SharedLimiter) Record(ctx context.Context, provider domain.ProviderName, window Window) error {
	return s.store.Insert(ctx, string(provider), int(window), s.clk())
}

// DelaySeconds returns how long until a slot frees up, or 0 if one is free now.
func (s *SharedLimiter) DelaySeconds(ctx context.Context, provider domain.ProviderName, window Window) (int, error) {
	return s.delay(ctx, provider, window, s.clk())
}

// Acquire checks every limited window and records the call in each when admitted.
// Calls from one process are serialized; see the type comment for cross-instance races.
func (s *SharedLimiter) Acquire(ctx context.Context, provider domain.ProviderName) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clk()

	maxDelay := 0
	for _, w := range Windows {
		d, err := s.delay(ctx, provider, w, now)
		if err != nil {
			return 0, err
		}
		if d > maxDelay {
			maxDelay = d
		}
	}
	if maxDelay > 0 {
		return maxDelay, nil
	}

	for _, w := range Windows {
		if s.limits.Limit(provider, w) <= 0 {
			continue
		}
		if err := s.store.Insert(ctx, string(provider), int(w), now); err != nil {
			return 0, fmt.Errorf("record rate event: %w", err)
		}
	}
	return 0, nil
}
