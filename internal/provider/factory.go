package provider

import (
	"context"
	"fmt"

	"github.com/timmy/alttext/internal/domain"
	applog "github.com/timmy/alttext/internal/logger"
)

// New constructs the adapter for cfg.Name.
func New(cfg domain.ProviderConfig, deps Deps) (Provider, error) {
	switch cfg.Name {
	case domain.ProviderOpenAI:
		return NewOpenAIProvider(cfg, deps), nil
	case domain.ProviderAnthropic:
		return NewAnthropicProvider(cfg, deps), nil
	case domain.ProviderGoogle:
		return NewGoogleProvider(cfg, deps), nil
	}
	return nil, fmt.Errorf("unknown provider %q", cfg.Name)
}

// Factory builds providers from configuration and orders them for fallback.
type Factory struct {
	configs []domain.ProviderConfig
	deps    Deps
}

// NewFactory creates a factory. The configs are copied; later changes to the
// caller's slice do not affect it.
func NewFactory(configs []domain.ProviderConfig, deps Deps) *Factory {
	cp := make([]domain.ProviderConfig, len(configs))
	copy(cp, configs)
	return &Factory{configs: cp, deps: deps}
}

// Primary returns the provider flagged primary among the enabled ones,
// falling back to the first enabled one in preference order.
//
// Returns:
//   - domain.ErrNoProvider when nothing is enabled
func (f *Factory) Primary() (Provider, error) {
	chain := f.orderedConfigs()
	if len(chain) == 0 {
		return nil, domain.ErrNoProvider
	}
	return New(chain[0], f.deps)
}

// Chain returns every enabled provider, primary first, then openai, anthropic, google.
func (f *Factory) Chain() []Provider {
	configs := f.orderedConfigs()
	out := make([]Provider, 0, len(configs))
	for _, cfg := range configs {
		p, err := New(cfg, f.deps)
		if err != nil {
			continue
		}
		out = append(out, p)
	}
	return out
}

// ChainNames lists the fallback order, recorded on jobs for later failover.
func (f *Factory) ChainNames() []string {
	configs := f.orderedConfigs()
	names := make([]string, 0, len(configs))
	for _, cfg := range configs {
		names = append(names, string(cfg.Name))
	}
	return names
}

func (f *Factory) orderedConfigs() []domain.ProviderConfig {
	var primary *domain.ProviderConfig
	for i := range f.configs {
		if f.configs[i].Enabled && f.configs[i].IsPrimary {
			primary = &f.configs[i]
			break
		}
	}

	var out []domain.ProviderConfig
	if primary != nil {
		out = append(out, *primary)
	}
	for _, name := range domain.ProviderPreference {
		for _, cfg := range f.configs {
			if cfg.Name != name || !cfg.Enabled {
				continue
			}
			if primary != nil && cfg.Name == primary.Name {
				continue
			}
			out = append(out, cfg)
			break
		}
	}
	return out
}

// AnalyzeWithFallback tries each provider in Chain order, moving on only when
// the failure is retryable. The last error is returned when all fail.
func (f *Factory) AnalyzeWithFallback(ctx context.Context, req *AnalyzeRequest) (*AnalyzeResult, error) {
	chain := f.Chain()
	if len(chain) == 0 {
		return nil, domain.ErrNoProvider
	}

	var lastErr error
	for _, p := range chain {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result, err := p.Analyze(ctx, req)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !domain.IsRetryable(err) {
			return nil, err
		}
		applog.With(applog.Fields{
			applog.FieldProvider: string(p.Name()),
			"error":              err.Error(),
		}).Warn(ctx, "Provider failed, trying next in chain")
	}
	return nil, lastErr
}
