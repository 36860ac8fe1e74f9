package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/alttext/internal/domain"
	"github.com/timmy/alttext/internal/prompts"
)

// newClient builds the resty client every adapter uses.
func newClient(cfg domain.ProviderConfig, defaultBaseURL string) *resty.Client {
	timeout := DefaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetHeader("Content-Type", "application/json")
	client.SetTimeout(timeout)
	return client
}

func validateConfig(cfg domain.ProviderConfig) error {
	if cfg.APIKey == "" {
		return domain.NewProcessingError(domain.ErrKindConfig, cfg.Name, "api key is not set", domain.ErrMissingAPIKey)
	}
	if cfg.Model == "" {
		return domain.NewProcessingError(domain.ErrKindConfig, cfg.Name, "model is not set", nil)
	}
	return nil
}

// buildPrompts renders the system and user prompts for a request.
func buildPrompts(deps Deps, req *AnalyzeRequest) (string, string, error) {
	tier := req.PromptTier
	if tier == "" {
		tier = deps.PromptTier
	}
	if tier == "" {
		tier = prompts.TierStandard
	}
	user, err := prompts.Build(tier, req.Language, req.Context, deps.AltMaxLength)
	if err != nil {
		return "", "", err
	}
	return prompts.SystemPrompt, user, nil
}

func encodeImage(img domain.SubjectImage) string {
	return base64.StdEncoding.EncodeToString(img.Data)
}

// imagePlaceholder stands in for base64 data in stored request payloads.
func imagePlaceholder(img domain.SubjectImage) string {
	return fmt.Sprintf("<%d bytes %s>", len(img.Data), img.MIMEType)
}

func mimeOrDefault(img domain.SubjectImage) string {
	if img.MIMEType == "" {
		return "image/jpeg"
	}
	return img.MIMEType
}

func networkError(name domain.ProviderName, err error) error {
	return domain.NewProcessingError(domain.ErrKindVendorHTTP, name, "request failed", err)
}

// statusError keeps the vendor's own error message verbatim.
func statusError(name domain.ProviderName, resp *resty.Response, vendorMessage string) error {
	msg := strings.TrimSpace(vendorMessage)
	if msg == "" {
		msg = truncate(strings.TrimSpace(string(resp.Body())), 500)
	}
	if msg == "" {
		msg = resp.Status()
	}
	e := domain.NewProcessingError(domain.ErrKindVendorHTTP, name, msg, nil)
	e.StatusCode = resp.StatusCode()
	return e
}

func parseError(name domain.ProviderName, msg string, err error) error {
	return domain.NewProcessingError(domain.ErrKindResponseParse, name, msg, err)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// finalizeUsage estimates input tokens when the vendor sent no usage block,
// then prices the call. A reported zero is kept: a fully cached prompt has
// no uncached input.
func finalizeUsage(ctx context.Context, deps Deps, name domain.ProviderName, model string, req *AnalyzeRequest, promptText string, usage domain.Usage, reported bool) (domain.Usage, domain.CostBreakdown, error) {
	if !reported && deps.Estimator != nil {
		usage.InputTokens = deps.Estimator.EstimateInputTokens(req.Image.Width, req.Image.Height, name, promptText)
		usage.EstimatedInput = true
	}
	if deps.Calculator == nil {
		return usage, domain.CostBreakdown{}, domain.NewProcessingError(domain.ErrKindPricingMissing, name, "no cost calculator configured", domain.ErrNoPricingData)
	}
	cost, err := deps.Calculator.Calculate(ctx, model, usage.InputTokens, usage.OutputTokens, usage.CacheReadTokens, usage.CacheWriteTokens)
	if errors.Is(err, domain.ErrNoPricingData) {
		return usage, domain.CostBreakdown{}, domain.NewProcessingError(domain.ErrKindPricingMissing, name, "cannot price call", err)
	}
	if err != nil {
		return usage, domain.CostBreakdown{}, domain.NewProcessingError(domain.ErrKindProcessingFailed, name, "pricing lookup failed", err)
	}
	return usage, cost, nil
}

// finish parses the reply text and attaches usage and cost.
func finish(ctx context.Context, deps Deps, name domain.ProviderName, model string, req *AnalyzeRequest, promptText, replyText string, usage domain.Usage, reported bool, started time.Time, requestPayload, responsePayload string) (*AnalyzeResult, error) {
	metadata, err := ParseMetadata(replyText)
	if err != nil {
		return nil, parseError(name, "invalid metadata reply", err)
	}

	usage, cost, err := finalizeUsage(ctx, deps, name, model, req, promptText, usage, reported)
	if err != nil {
		return nil, err
	}

	return &AnalyzeResult{
		Provider:        name,
		Model:           model,
		PromptVersion:   prompts.Version,
		Metadata:        metadata,
		Usage:           usage,
		Cost:            cost,
		RequestPayload:  requestPayload,
		ResponsePayload: responsePayload,
		Duration:        time.Since(started),
	}, nil
}
