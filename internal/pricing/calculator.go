// Package pricing turns token counts into money using the model price table.
package pricing

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/timmy/alttext/internal/domain"
)

const perMillion = 1_000_000.0

// Store looks up pricing by exact model name, returning nil when absent.
// repository.PricingRepository implements it.
type Store interface {
	GetPricing(ctx context.Context, model string) (*domain.Pricing, error)
}

// Calculator prices provider calls. Lookups are cached for the calculator's
// lifetime; misses are not cached so a freshly seeded model is picked up.
type Calculator struct {
	store Store

	mu    sync.RWMutex
	cache map[string]domain.Pricing
}

// NewCalculator creates a calculator reading from store.
func NewCalculator(store Store) *Calculator {
	return &Calculator{store: store, cache: make(map[string]domain.Pricing)}
}

// Calculate prices one call. Missing pricing is domain.ErrNoPricingData, never zero cost.
func (c *Calculator) Calculate(ctx context.Context, model string, inputTokens, outputTokens, cacheReadTokens, cacheWriteTokens int) (domain.CostBreakdown, error) {
	p, err := c.lookup(ctx, model)
	if err != nil {
		return domain.CostBreakdown{}, err
	}

	b := domain.CostBreakdown{
		Model:      model,
		InputCost:  cost(inputTokens, p.InputPricePerMillion),
		OutputCost: cost(outputTokens, p.OutputPricePerMillion),
	}
	// Cache tokens fall back to the input price when the model has no cache tier.
	if cacheReadTokens > 0 {
		b.CacheReadCost = cost(cacheReadTokens, priceOr(p.CacheReadPricePerMillion, p.InputPricePerMillion))
	}
	if cacheWriteTokens > 0 {
		b.CacheWriteCost = cost(cacheWriteTokens, priceOr(p.CacheWritePricePerMillion, p.InputPricePerMillion))
	}
	b.TotalCost = Round8(b.InputCost + b.OutputCost + b.CacheReadCost + b.CacheWriteCost)
	return b, nil
}

func (c *Calculator) lookup(ctx context.Context, model string) (domain.Pricing, error) {
	c.mu.RLock()
	p, ok := c.cache[model]
	c.mu.RUnlock()
	if ok {
		return p, nil
	}

	row, err := c.store.GetPricing(ctx, model)
	if err != nil {
		return domain.Pricing{}, fmt.Errorf("load pricing for %s: %w", model, err)
	}
	if row == nil {
		return domain.Pricing{}, fmt.Errorf("%w: %s", domain.ErrNoPricingData, model)
	}

	c.mu.Lock()
	c.cache[model] = *row
	c.mu.Unlock()
	return *row, nil
}

func cost(tokens int, pricePerMillion float64) float64 {
	return Round8(float64(tokens) * (pricePerMillion / perMillion))
}

func priceOr(p *float64, fallback float64) float64 {
	if p != nil {
		return *p
	}
	return fallback
}

// Round8 rounds to 8 decimal places.
func Round8(v float64) float64 {
	return math.Round(v*1e8) / 1e8
}
