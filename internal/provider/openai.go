package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/alttext/internal/domain"
)

const openAIBaseURL = "https://api.openai.com/v1"

// OpenAIProvider calls the Chat Completions API with an inline data-URI image.
type OpenAIProvider struct {
	cfg    domain.ProviderConfig
	deps   Deps
	client *resty.Client
}

// NewOpenAIProvider creates an OpenAI adapter. BaseURL may point at any
// OpenAI-compatible endpoint.
func NewOpenAIProvider(cfg domain.ProviderConfig, deps Deps) *OpenAIProvider {
	client := newClient(cfg, openAIBaseURL)
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	return &OpenAIProvider{cfg: cfg, deps: deps, client: client}
}

func (p *OpenAIProvider) Name() domain.ProviderName { return domain.ProviderOpenAI }
func (p *OpenAIProvider) Model() string             { return p.cfg.Model }

// ValidateConfig checks the key and model are present.
func (p *OpenAIProvider) ValidateConfig() error { return validateConfig(p.cfg) }

type openAIRequest struct {
	Model          string                `json:"model"`
	Messages       []openAIMessage       `json:"messages"`
	MaxTokens      int                   `json:"max_tokens"`
	ResponseFormat *openAIResponseFormat `json:"response_format,omitempty"`
}

type openAIResponseFormat struct {
	Type string `json:"type"`
}

type openAIMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"` // string for system, []interface{} for user with images
}

type openAITextContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type openAIImageContent struct {
	Type     string         `json:"type"`
	ImageURL openAIImageURL `json:"image_url"`
}

type openAIImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens        int `json:"prompt_tokens"`
		CompletionTokens    int `json:"completion_tokens"`
		PromptTokensDetails *struct {
			CachedTokens int `json:"cached_tokens"`
		} `json:"prompt_tokens_details"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func (p *OpenAIProvider) buildRequest(system, user, imageURL string) openAIRequest {
	return openAIRequest{
		Model: p.cfg.Model,
		Messages: []openAIMessage{
			{Role: "system", Content: system},
			{
				Role: "user",
				Content: []interface{}{
					openAITextContent{Type: "text", Text: user},
					openAIImageContent{
						Type:     "image_url",
						ImageURL: openAIImageURL{URL: imageURL, Detail: "auto"},
					},
				},
			},
		},
		MaxTokens:      maxOutputTokens,
		ResponseFormat: &openAIResponseFormat{Type: "json_object"},
	}
}

// Analyze generates metadata for one image.
func (p *OpenAIProvider) Analyze(ctx context.Context, req *AnalyzeRequest) (*AnalyzeResult, error) {
	started := time.Now()
	system, user, err := buildPrompts(p.deps, req)
	if err != nil {
		return nil, domain.NewProcessingError(domain.ErrKindConfig, p.Name(), "build prompt", err)
	}

	mime := mimeOrDefault(req.Image)
	body := p.buildRequest(system, user, fmt.Sprintf("data:%s;base64,%s", mime, encodeImage(req.Image)))
	recorded, _ := json.Marshal(p.buildRequest(system, user, imagePlaceholder(req.Image)))

	var resp openAIResponse
	httpResp, err := p.client.R().
		SetContext(ctx).
		SetBody(body).
		Post("/chat/completions")
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
	if resp.Error != nil {
		return nil, parseError(p.Name(), resp.Error.Message, nil)
	}
	if len(resp.Choices) == 0 {
		return nil, parseError(p.Name(), "no choices in response", nil)
	}

	var usage domain.Usage
	if resp.Usage != nil {
		cached := 0
		if resp.Usage.PromptTokensDetails != nil {
			cached = resp.Usage.PromptTokensDetails.CachedTokens
		}
		// prompt_tokens includes cached tokens, which are billed at the cache-read price.
		usage.InputTokens = resp.Usage.PromptTokens - cached
		usage.CacheReadTokens = cached
		usage.OutputTokens = resp.Usage.CompletionTokens
	}

	return finish(ctx, p.deps, p.Name(), p.cfg.Model, req, system+"\n"+user,
		resp.Choices[0].Message.Content, usage, resp.Usage != nil, started, string(recorded), string(httpResp.Body()))
}
