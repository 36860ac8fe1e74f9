package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/timmy/alttext/internal/domain"
)

type windowKey struct {
	provider domain.ProviderName
	window   Window
}

// MemoryLimiter keeps request timestamps in process memory. It is safe for
// concurrent workers of one process; multiple instances each see only their own traffic.
type MemoryLimiter struct {
	mu     sync.Mutex
	clk    func() time.Time
	limits Limits
	stamps map[windowKey][]time.Time
}

// NewMemoryLimiter creates an in-memory limiter. clk nil uses time.Now.
func NewMemoryLimiter(limits Limits, clk func() time.Time) *MemoryLimiter {
	if clk == nil {
		clk = time.Now
	}
	return &MemoryLimiter{
		clk:    clk,
		limits: limits,
		stamps: make(map[windowKey][]time.Time),
	}
}

// purge drops timestamps older than the window. Caller holds mu.
func (m *MemoryLimiter) purge(key windowKey, now time.Time) []time.Time {
	cutoff := now.Add(-key.window.Duration())
	ts := m.stamps[key]
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		ts = append(ts[:0:0], ts[i:]...)
		m.stamps[key] = ts
	}
	return ts
}

func (m *MemoryLimiter) allowedLocked(key windowKey, now time.Time) bool {
	limit := m.limits.Limit(key.provider, key.window)
	if limit <= 0 {
		return true
	}
	return len(m.purge(key, now)) < limit
}

func (m *MemoryLimiter) delayLocked(key windowKey, now time.Time) int {
	if m.allowedLocked(key, now) {
		return 0
	}
	return delayFor(m.stamps[key][0], now, key.window)
}

// Allowed reports whether one more request fits in the window.
func (m *MemoryLimiter) Allowed(_ context.Context, provider domain.ProviderName, window Window) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allowedLocked(windowKey{provider, window}, m.clk()), nil
}

// Record appends the current time to the window.
func (m *MemoryLimiter) Record(_ context.Context, provider domain.ProviderName, window Window) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clk()
	key := windowKey{provider, window}
	m.stamps[key] = append(m.purge(key, now), now)
	return nil
}

// DelaySeconds returns how long until a slot frees up, or 0 if one is free now.
func (m *MemoryLimiter) DelaySeconds(_ context.Context, provider domain.ProviderName, window Window) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.delayLocked(windowKey{provider, window}, m.clk()), nil
}

// Acquire checks and records all windows under one lock.
func (m *MemoryLimiter) Acquire(_ context.Context, provider domain.ProviderName) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clk()

	delay := 0
	for _, w := range Windows {
		if d := m.delayLocked(windowKey{provider, w}, now); d > delay {
			delay = d
		}
	}
	if delay > 0 {
		return delay, nil
	}

	for _, w := range Windows {
		key := windowKey{provider, w}
		if m.limits.Limit(provider, w) > 0 {
			m.stamps[key] = append(m.stamps[key], now)
		}
	}
	return 0, nil
}
