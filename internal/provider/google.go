package provider

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/alttext/internal/domain"
)

const googleBaseURL = "https://generativelanguage.googleapis.com"

// GoogleProvider calls the Gemini generateContent endpoint with inline image data.
type GoogleProvider struct {
	cfg    domain.ProviderConfig
	deps   Deps
	client *resty.Client
}

// NewGoogleProvider creates a Gemini adapter.
func NewGoogleProvider(cfg domain.ProviderConfig, deps Deps) *GoogleProvider {
	client := newClient(cfg, googleBaseURL)
	client.SetHeader("x-goog-api-key", cfg.APIKey)
	return &GoogleProvider{cfg: cfg, deps: deps, client: client}
}

func (p *GoogleProvider) Name() domain.ProviderName { return domain.ProviderGoogle }
func (p *GoogleProvider) Model() string             { return p.cfg.Model }
func (p *GoogleProvider) ValidateConfig() error     { return validateConfig(p.cfg) }

type geminiRequest struct {
	SystemInstruction *geminiContent        `json:"systemInstruction,omitempty"`
	Contents          []geminiContent       `json:"contents"`
	GenerationConfig  *geminiGenerationConf `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiGenerationConf struct {
	ResponseMimeType string `json:"responseMimeType,omitempty"`
	MaxOutputTokens  int    `json:"maxOutputTokens,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount        int `json:"promptTokenCount"`
		CandidatesTokenCount    int `json:"candidatesTokenCount"`
		CachedContentTokenCount int `json:"cachedContentTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error,omitempty"`
}

func (p *GoogleProvider) buildRequest(system, user, mime, data string) geminiRequest {
	return geminiRequest{
		SystemInstruction: &geminiContent{Parts: []geminiPart{{Text: system}}},
		Contents: []geminiContent{{
			Role: "user",
			Parts: []geminiPart{
				{InlineData: &geminiInlineData{MimeType: mime, Data: data}},
				{Text: user},
			},
		}},
		GenerationConfig: &geminiGenerationConf{
			ResponseMimeType: "application/json",
			MaxOutputTokens:  maxOutputTokens,
		},
	}
}

// Analyze generates metadata for one image.
func (p *GoogleProvider) Analyze(ctx context.Context, req *AnalyzeRequest) (*AnalyzeResult, error) {
	started := time.Now()
	system, user, err := buildPrompts(p.deps, req)
	if err != nil {
		return nil, domain.NewProcessingError(domain.ErrKindConfig, p.Name(), "build prompt", err)
	}

	mime := mimeOrDefault(req.Image)
	body := p.buildRequest(system, user, mime, encodeImage(req.Image))
	recorded, _ := json.Marshal(p.buildRequest(system, user, mime, imagePlaceholder(req.Image)))

	var resp geminiResponse
	httpResp, err := p.client.R().
		SetContext(ctx).
		SetBody(body).
		Post("/v1beta/models/" + url.PathEscape(p.cfg.Model) + ":generateContent")
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
	if len(resp.Candidates) == 0 {
		return nil, parseError(p.Name(), "no candidates in response", nil)
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}

	var usage domain.Usage
	if resp.UsageMetadata != nil {
		cached := resp.UsageMetadata.CachedContentTokenCount
		usage.InputTokens = resp.UsageMetadata.PromptTokenCount - cached
		usage.CacheReadTokens = cached
		usage.OutputTokens = resp.UsageMetadata.CandidatesTokenCount
	}

	return finish(ctx, p.deps, p.Name(), p.cfg.Model, req, system+"\n"+user,
		text.String(), usage, resp.UsageMetadata != nil, started, string(recorded), string(httpResp.Body()))
}
