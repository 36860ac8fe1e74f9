package provider

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"testing"

	"github.com/timmy/alttext/internal/domain"
)

func TestFactory_PrimaryAndChain(t *testing.T) {
	tests := []struct {
		name        string
		configs     []domain.ProviderConfig
		wantPrimary domain.ProviderName
		wantChain   []string
	}{
		{
			name: "flagged primary goes first",
			configs: []domain.ProviderConfig{
				{Name: domain.ProviderOpenAI, Enabled: true},
				{Name: domain.ProviderGoogle, Enabled: true, IsPrimary: true},
				{Name: domain.ProviderAnthropic, Enabled: true},
			},
			wantPrimary: domain.ProviderGoogle,
			wantChain:   []string{"google", "openai", "anthropic"},
		},
		{
			name: "no primary uses preference order",
			configs: []domain.ProviderConfig{
				{Name: domain.ProviderGoogle, Enabled: true},
				{Name: domain.ProviderAnthropic, Enabled: true},
			},
			wantPrimary: domain.ProviderAnthropic,
			wantChain:   []string{"anthropic", "google"},
		},
		{
			name: "disabled primary is ignored",
			configs: []domain.ProviderConfig{
				{Name: domain.ProviderOpenAI, Enabled: false, IsPrimary: true},
				{Name: domain.ProviderGoogle, Enabled: true},
			},
			wantPrimary: domain.ProviderGoogle,
			wantChain:   []string{"google"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFactory(tt.configs, Deps{})
			p, err := f.Primary()
			if err != nil {
				t.Fatalf("Primary() error: %v", err)
			}
			if p.Name() != tt.wantPrimary {
				t.Errorf("Primary() = %s, want %s", p.Name(), tt.wantPrimary)
			}
			if got := f.ChainNames(); !reflect.DeepEqual(got, tt.wantChain) {
				t.Errorf("ChainNames() = %v, want %v", got, tt.wantChain)
			}
			if len(f.Chain()) != len(tt.wantChain) {
				t.Errorf("Chain() has %d providers, want %d", len(f.Chain()), len(tt.wantChain))
			}
		})
	}
}

func TestFactory_NoProvider(t *testing.T) {
	f := NewFactory([]domain.ProviderConfig{{Name: domain.ProviderOpenAI}}, Deps{})
	p, err := f.Primary()
	if p != nil || !errors.Is(err, domain.ErrNoProvider) {
		t.Errorf("Primary() = %v, %v; want nil, ErrNoProvider", p, err)
	}
}

func TestNew_UnknownProvider(t *testing.T) {
	if _, err := New(domain.ProviderConfig{Name: "mistral"}, Deps{}); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestFactory_AnalyzeWithFallback(t *testing.T) {
	var failing, healthy captured
	bad := vendorServer(t, http.StatusBadGateway, `{"error":{"message":"upstream down"}}`, &failing)
	good := vendorServer(t, http.StatusOK,
		`{"content":[{"type":"text","text":`+quote(replyJSON)+`}],"usage":{"input_tokens":10,"output_tokens":5}}`, &healthy)

	f := NewFactory([]domain.ProviderConfig{
		{Name: domain.ProviderOpenAI, APIKey: "k", Model: "gpt-4o", Enabled: true, IsPrimary: true, BaseURL: bad.URL},
		{Name: domain.ProviderAnthropic, APIKey: "k", Model: "claude", Enabled: true, BaseURL: good.URL},
	}, testDeps(&fixedCalculator{}))

	result, err := f.AnalyzeWithFallback(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("AnalyzeWithFallback() error: %v", err)
	}
	if result.Provider != domain.ProviderAnthropic {
		t.Errorf("result provider = %s, want anthropic", result.Provider)
	}
	if failing.path == "" {
		t.Error("primary provider was never called")
	}
}

func TestFactory_AnalyzeWithFallbackStopsOnTerminal(t *testing.T) {
	var first, second captured
	reply := `{"choices":[{"message":{"content":` + quote(replyJSON) + `}}],"usage":{"prompt_tokens":10,"completion_tokens":5}}`
	a := vendorServer(t, http.StatusOK, reply, &first)
	b := vendorServer(t, http.StatusOK, reply, &second)

	f := NewFactory([]domain.ProviderConfig{
		{Name: domain.ProviderOpenAI, APIKey: "k", Model: "gpt-4o", Enabled: true, BaseURL: a.URL},
		{Name: domain.ProviderGoogle, APIKey: "k", Model: "gemini", Enabled: true, BaseURL: b.URL},
	}, testDeps(&fixedCalculator{err: domain.ErrNoPricingData}))

	_, err := f.AnalyzeWithFallback(context.Background(), testRequest())
	if domain.KindOf(err) != domain.ErrKindPricingMissing {
		t.Fatalf("expected pricing error, got %v", err)
	}
	if second.path != "" {
		t.Error("fallback should not run after a non-retryable failure")
	}
}
