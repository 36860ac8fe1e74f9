package provider

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/alttext/internal/domain"
)

const (
	anthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion = "2023-06-01"
)

// AnthropicProvider calls the Messages API with a base64 image block.
type AnthropicProvider struct {
	cfg    domain.ProviderConfig
	deps   Deps
	client *resty.Client
}

// NewAnthropicProvider creates an Anthropic adapter.
func NewAnthropicProvider(cfg domain.ProviderConfig, deps Deps) *AnthropicProvider {
	client := newClient(cfg, anthropicBaseURL)
	client.SetHeader("x-api-key", cfg.APIKey)
	client.SetHeader("anthropic-version", anthropicVersion)
	return &AnthropicProvider{cfg: cfg, deps: deps, client: client}
}

func (p *AnthropicProvider) Name() domain.ProviderName { return domain.ProviderAnthropic }
func (p *AnthropicProvider) Model() string             { return p.cfg.Model }
func (p *AnthropicProvider) ValidateConfig() error     { return validateConfig(p.cfg) }

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

type anthropicContentBlock struct {
	Type   string                `json:"type"`
	Text   string                `json:"text,omitempty"`
	Source *anthropicImageSource `json:"source,omitempty"`
}

type anthropicImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      *struct {
		InputTokens              int `json:"input_tokens"`
		OutputTokens             int `json:"output_tokens"`
		CacheReadInputTokens     int `json:"cache_read_input_tokens"`
		CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *AnthropicProvider) buildRequest(system, user, mime, data string) anthropicRequest {
	return anthropicRequest{
		Model:     p.cfg.Model,
		MaxTokens: maxOutputTokens,
		System:    system,
		Messages: []anthropicMessage{{
			Role: "user",
			Content: []anthropicContentBlock{
				{Type: "image", Source: &anthropicImageSource{Type: "base64", MediaType: mime, Data: data}},
				{Type: "text", Text: user},
			},
		}},
	}
}

// Analyze generates metadata for one image.
func (p *AnthropicProvider) Analyze(ctx context.Context, req *AnalyzeRequest) (*AnalyzeResult, error) {
	started := time.Now()
	system, user, err := buildPrompts(p.deps, req)
	if err != nil {
		return nil, domain.NewProcessingError(domain.ErrKindConfig, p.Name(), "build prompt", err)
	}

	mime := mimeOrDefault(req.Image)
	body := p.buildRequest(system, user, mime, encodeImage(req.Image))
	recorded, _ := json.Marshal(p.buildRequest(system, user, mime, imagePlaceholder(req.Image)))

	var resp anthropicResponse
	httpResp, err := p.client.R().
		SetContext(ctx).
		SetBody(body).
		Post("/v1/messages")
	if err != nil {
		return nil, networkError(p.Name(), err)
	}
	decodeErr := json.Unmarshal(httpResp.Body(), &resp)
	if httpResp.IsError() {
		msg := ""
		if resp.Error != nil {
			msg = resp.Error.Message
		}
		return nil, statusError(p.Name(), httpResp, msg)
	}
	if decodeErr != nil {
		return nil, parseError(p.Name(), "malformed response body", decodeErr)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, parseError(p.Name(), "no text content in response", nil)
	}

	var usage domain.Usage
	if resp.Usage != nil {
		usage.InputTokens = resp.Usage.InputTokens
		usage.OutputTokens = resp.Usage.OutputTokens
		usage.CacheReadTokens = resp.Usage.CacheReadInputTokens
		usage.CacheWriteTokens = resp.Usage.CacheCreationInputTokens
	}

	return finish(ctx, p.deps, p.Name(), p.cfg.Model, req, system+"\n"+user,
		text.String(), usage, resp.Usage != nil, started, string(recorded), string(httpResp.Body()))
}
