// Package ratelimit counts provider requests over sliding windows and tells
// callers how long to wait instead of blocking them.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/timmy/alttext/internal/config"
	"github.com/timmy/alttext/internal/domain"
)

// Window is a sliding-window length in seconds.
type Window int

const (
	Minute Window = 60
	Hour   Window = 3600
	Day    Window = 86400
)

// Windows lists every window a limiter tracks, shortest first.
var Windows = []Window{Minute, Hour, Day}

// Duration returns the window length.
func (w Window) Duration() time.Duration {
	return time.Duration(w) * time.Second
}

func (w Window) String() string {
	switch w {
	case Minute:
		return "minute"
	case Hour:
		return "hour"
	case Day:
		return "day"
	}
	return fmt.Sprintf("%ds", int(w))
}

// Limiter decides whether a provider call may go out now.
// Implementations never sleep; a positive delay means "reschedule".
type Limiter interface {
	Allowed(ctx context.Context, provider domain.ProviderName, window Window) (bool, error)
	Record(ctx context.Context, provider domain.ProviderName, window Window) error
	DelaySeconds(ctx context.Context, provider domain.ProviderName, window Window) (int, error)

	// Acquire checks every window with a limit and, when all admit the call,
	// records it in each of them. It returns 0 on admission, otherwise the
	// largest delay across the exhausted windows. Nothing is recorded on refusal.
	Acquire(ctx context.Context, provider domain.ProviderName) (int, error)
}

// defaultLimits are per-minute vendor defaults. Hour and day are unlimited unless configured.
var defaultLimits = map[domain.ProviderName]map[Window]int{
	domain.ProviderOpenAI:    {Minute: 60},
	domain.ProviderAnthropic: {Minute: 50},
	domain.ProviderGoogle:    {Minute: 60},
}

// Limits resolves the request ceiling for a (provider, window) pair. Zero means unlimited.
type Limits struct {
	overrides map[domain.ProviderName]map[Window]int
}

// DefaultLimits returns limits with vendor defaults only.
func DefaultLimits() Limits {
	return Limits{}
}

// LimitsFromConfig builds limits from the rate_limits config section.
func LimitsFromConfig(cfg map[string]config.RateLimitConfig) (Limits, error) {
	l := Limits{overrides: make(map[domain.ProviderName]map[Window]int, len(cfg))}
	for name, rl := range cfg {
		p, err := domain.ParseProviderName(name)
		if err != nil {
			return Limits{}, fmt.Errorf("rate_limits: %w", err)
		}
		if rl.PerMinute < 0 || rl.PerHour < 0 || rl.PerDay < 0 {
			return Limits{}, fmt.Errorf("rate_limits.%s: limits must not be negative", name)
		}
		l.Set(p, Minute, rl.PerMinute)
		l.Set(p, Hour, rl.PerHour)
		l.Set(p, Day, rl.PerDay)
	}
	return l, nil
}

// Set overrides one limit. A zero limit keeps the default.
func (l *Limits) Set(provider domain.ProviderName, window Window, limit int) {
	if limit == 0 {
		return
	}
	if l.overrides == nil {
		l.overrides = make(map[domain.ProviderName]map[Window]int)
	}
	if l.overrides[provider] == nil {
		l.overrides[provider] = make(map[Window]int)
	}
	l.overrides[provider][window] = limit
}

// Limit returns the explicit override or the provider default.
func (l Limits) Limit(provider domain.ProviderName, window Window) int {
	if n, ok := l.overrides[provider][window]; ok {
		return n
	}
	return defaultLimits[provider][window]
}

// delayFor is oldest + window - now + 1, in whole seconds, never below 1.
func delayFor(oldest, now time.Time, window Window) int {
	d := int(oldest.Unix() + int64(window) - now.Unix() + 1)
	if d < 1 {
		d = 1
	}
	return d
}
