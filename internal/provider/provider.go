// Package provider talks to vision-capable LLM vendors and normalizes their
// replies into domain.Metadata with token and cost accounting attached.
package provider

import (
	"context"
	"time"

	"github.com/timmy/alttext/internal/domain"
	"github.com/timmy/alttext/internal/prompts"
	"github.com/timmy/alttext/internal/tokens"
)

// DefaultTimeout bounds a single vendor HTTP call.
const DefaultTimeout = 60 * time.Second

// maxOutputTokens caps the reply size; the JSON contract is small.
const maxOutputTokens = 600

// Provider is one vendor integration. Implementations hold only their
// configuration and an HTTP client, so each can be tested on its own.
type Provider interface {
	Name() domain.ProviderName
	Model() string
	ValidateConfig() error
	Analyze(ctx context.Context, req *AnalyzeRequest) (*AnalyzeResult, error)
}

// AnalyzeRequest is one "describe this subject" call.
type AnalyzeRequest struct {
	SubjectID string
	Language  string
	Image     domain.SubjectImage
	Context   domain.SubjectContext
	// PromptTier overrides the configured tier when set.
	PromptTier prompts.Tier
}

// AnalyzeResult is a normalized vendor reply.
type AnalyzeResult struct {
	Provider        domain.ProviderName
	Model           string
	PromptVersion   string
	Metadata        domain.Metadata
	Usage           domain.Usage
	Cost            domain.CostBreakdown
	RequestPayload  string
	ResponsePayload string
	Duration        time.Duration
}

// CostCalculator prices a call. pricing.Calculator implements it.
type CostCalculator interface {
	Calculate(ctx context.Context, model string, inputTokens, outputTokens, cacheReadTokens, cacheWriteTokens int) (domain.CostBreakdown, error)
}

// Deps are the collaborators shared by every provider.
type Deps struct {
	Estimator    *tokens.Estimator
	Calculator   CostCalculator
	PromptTier   prompts.Tier
	AltMaxLength int
}
