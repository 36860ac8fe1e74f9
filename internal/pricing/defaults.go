package pricing

import "github.com/timmy/alttext/internal/domain"

func ptr(v float64) *float64 { return &v }

// DefaultPricing is the seed price list in USD per million tokens. Check the
// vendor pricing pages before relying on it for billing.
func DefaultPricing() []domain.Pricing {
	return []domain.Pricing{
		{ModelName: "gpt-4o", Provider: "openai", InputPricePerMillion: 2.50, OutputPricePerMillion: 10.00, CacheReadPricePerMillion: ptr(1.25)},
		{ModelName: "gpt-4o-mini", Provider: "openai", InputPricePerMillion: 0.15, OutputPricePerMillion: 0.60, CacheReadPricePerMillion: ptr(0.075)},
		{ModelName: "gpt-4.1-mini", Provider: "openai", InputPricePerMillion: 0.40, OutputPricePerMillion: 1.60, CacheReadPricePerMillion: ptr(0.10)},
		{ModelName: "claude-3-5-sonnet-20241022", Provider: "anthropic", InputPricePerMillion: 3.00, OutputPricePerMillion: 15.00, CacheReadPricePerMillion: ptr(0.30), CacheWritePricePerMillion: ptr(3.75)},
		{ModelName: "claude-3-5-haiku-20241022", Provider: "anthropic", InputPricePerMillion: 0.80, OutputPricePerMillion: 4.00, CacheReadPricePerMillion: ptr(0.08), CacheWritePricePerMillion: ptr(1.00)},
		{ModelName: "claude-sonnet-4-20250514", Provider: "anthropic", InputPricePerMillion: 3.00, OutputPricePerMillion: 15.00, CacheReadPricePerMillion: ptr(0.30), CacheWritePricePerMillion: ptr(3.75)},
		{ModelName: "gemini-2.0-flash", Provider: "google", InputPricePerMillion: 0.10, OutputPricePerMillion: 0.40, CacheReadPricePerMillion: ptr(0.025)},
		{ModelName: "gemini-1.5-pro", Provider: "google", InputPricePerMillion: 1.25, OutputPricePerMillion: 5.00},
	}
}
