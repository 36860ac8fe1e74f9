package domain

import (
	"fmt"
	"strings"
)

// ProviderName identifies a vision-capable LLM vendor.
type ProviderName string

const (
	ProviderOpenAI    ProviderName = "openai"
	ProviderAnthropic ProviderName = "anthropic"
	ProviderGoogle    ProviderName = "google"
)

// ProviderPreference is the fixed order used when no provider is flagged primary.
var ProviderPreference = []ProviderName{ProviderOpenAI, ProviderAnthropic, ProviderGoogle}

// ParseProviderName validates a provider name from configuration.
func ParseProviderName(s string) (ProviderName, error) {
	switch p := ProviderName(strings.ToLower(strings.TrimSpace(s))); p {
	case ProviderOpenAI, ProviderAnthropic, ProviderGoogle:
		return p, nil
	}
	return "", fmt.Errorf("unknown provider %q", s)
}

// ProviderConfig is one configured vendor integration. Read once per job.
type ProviderConfig struct {
	Name           ProviderName
	APIKey         string
	Model          string
	Enabled        bool
	IsPrimary      bool
	BaseURL        string
	TimeoutSeconds int
}

// Usage is the token accounting of one provider call.
type Usage struct {
	InputTokens      int  `json:"input_tokens"`
	OutputTokens     int  `json:"output_tokens"`
	CacheReadTokens  int  `json:"cache_read_tokens,omitempty"`
	CacheWriteTokens int  `json:"cache_write_tokens,omitempty"`
	EstimatedInput   bool `json:"estimated_input"`
}
