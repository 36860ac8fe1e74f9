package tokens

import (
	"strings"
	"testing"

	"github.com/timmy/alttext/internal/config"
	"github.com/timmy/alttext/internal/domain"
)

func TestImageTokens(t *testing.T) {
	e := NewEstimator(DefaultParams())

	tests := []struct {
		name     string
		provider domain.ProviderName
		w, h     int
		want     int
	}{
		{"openai 1024x768 no scaling", domain.ProviderOpenAI, 1024, 768, 85 + 170*4},
		{"openai 2048x2048 short side to 768", domain.ProviderOpenAI, 2048, 2048, 85 + 170*4},
		{"openai 4096x2048 fit then shrink", domain.ProviderOpenAI, 4096, 2048, 85 + 170*6},
		{"openai 512x512 single tile", domain.ProviderOpenAI, 512, 512, 85 + 170},
		{"openai 100x100 small", domain.ProviderOpenAI, 100, 100, 255},
		{"anthropic 1000x1000", domain.ProviderAnthropic, 1000, 1000, 1333},
		{"anthropic 500x300", domain.ProviderAnthropic, 500, 300, 200},
		{"anthropic capped", domain.ProviderAnthropic, 3000, 3000, 1600},
		{"google 768x768", domain.ProviderGoogle, 768, 768, 258},
		{"google 1024x768", domain.ProviderGoogle, 1024, 768, 516},
		{"google 2048x2048", domain.ProviderGoogle, 2048, 2048, 258 * 9},
		{"zero dimensions", domain.ProviderGoogle, 0, 768, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.ImageTokens(tt.w, tt.h, tt.provider); got != tt.want {
				t.Errorf("ImageTokens(%d, %d, %s) = %d, want %d", tt.w, tt.h, tt.provider, got, tt.want)
			}
		})
	}
}

func TestTextTokens(t *testing.T) {
	e := NewEstimator(DefaultParams())

	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"abc", 1},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("x", 400), 100},
		{"日本語のテキスト", 2},
	}
	for _, tt := range tests {
		if got := e.TextTokens(tt.text); got != tt.want {
			t.Errorf("TextTokens(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}

func TestEstimateInputTokens_Deterministic(t *testing.T) {
	e := NewEstimator(DefaultParams())
	prompt := strings.Repeat("Describe this image. ", 20)

	first := e.EstimateInputTokens(1024, 768, domain.ProviderOpenAI, prompt)
	for i := 0; i < 10; i++ {
		if got := e.EstimateInputTokens(1024, 768, domain.ProviderOpenAI, prompt); got != first {
			t.Fatalf("estimate changed between calls: %d vs %d", got, first)
		}
	}
	if want := 765 + e.TextTokens(prompt); first != want {
		t.Errorf("EstimateInputTokens() = %d, want %d", first, want)
	}
}

func TestParamsFromConfig(t *testing.T) {
	p := ParamsFromConfig(config.TokensConfig{GoogleTileTokens: 300})
	if p.GoogleTileTokens != 300 {
		t.Errorf("override ignored: %d", p.GoogleTileTokens)
	}
	if p.OpenAIBaseTokens != 85 || p.CharsPerToken != 4 {
		t.Errorf("zero values must keep defaults: %+v", p)
	}

	e := NewEstimator(p)
	if got := e.ImageTokens(768, 768, domain.ProviderGoogle); got != 300 {
		t.Errorf("expected configured tile tokens, got %d", got)
	}
}
