package config

import (
	"fmt"
	"os"

	"github.com/timmy/alttext/internal/domain"
)

// ProviderConfig defines configuration for a single vision provider.
type ProviderConfig struct {
	Name           string `mapstructure:"name"`            // Provider type: "openai", "anthropic", "google"
	Model          string `mapstructure:"model"`           // Model name/ID, must exist in the pricing table
	APIKey         string `mapstructure:"api_key"`         // API key (can be set directly or via env var)
	APIKeyEnv      string `mapstructure:"api_key_env"`     // Environment variable name for API key
	BaseURL        string `mapstructure:"base_url"`        // Override for proxies and tests
	Enabled        bool   `mapstructure:"enabled"`         // Disabled providers are never selected
	IsPrimary      bool   `mapstructure:"is_primary"`      // Preferred provider
	TimeoutSeconds int    `mapstructure:"timeout_seconds"` // Per-request timeout, default 60
}

// defaultAPIKeyEnv maps providers to the environment variable read when api_key_env is unset.
var defaultAPIKeyEnv = map[string]string{
	"openai":    "OPENAI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
	"google":    "GOOGLE_API_KEY",
}

// ResolveEnvVars resolves environment variable references in the configuration.
// Direct values take precedence if already set.
func (c *ProviderConfig) ResolveEnvVars() {
	if c.APIKeyEnv == "" {
		c.APIKeyEnv = defaultAPIKeyEnv[c.Name]
	}
	if c.APIKeyEnv != "" && c.APIKey == "" {
		if val := os.Getenv(c.APIKeyEnv); val != "" {
			c.APIKey = val
		}
	}
}

// Validate checks that the provider configuration has all required fields.
// Returns an error describing the first validation failure, or nil if valid.
func (c *ProviderConfig) Validate() error {
	if _, err := domain.ParseProviderName(c.Name); err != nil {
		return fmt.Errorf("provider config: %w", err)
	}
	if c.Model == "" {
		return fmt.Errorf("provider %q: model is required", c.Name)
	}
	if c.TimeoutSeconds < 0 {
		return fmt.Errorf("provider %q: timeout_seconds must not be negative", c.Name)
	}
	return nil
}

// ValidateWithAPIKey validates the configuration including API key requirement.
// Use this when the provider will actually be called (not just listed).
func (c *ProviderConfig) ValidateWithAPIKey() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.APIKey == "" {
		return fmt.Errorf("provider %q: %w (set api_key or %s)", c.Name, domain.ErrMissingAPIKey, c.APIKeyEnv)
	}
	return nil
}

// ToDomain converts the configuration into the pipeline's provider config.
func (c *ProviderConfig) ToDomain() domain.ProviderConfig {
	name, _ := domain.ParseProviderName(c.Name)
	return domain.ProviderConfig{
		Name:           name,
		APIKey:         c.APIKey,
		Model:          c.Model,
		Enabled:        c.Enabled,
		IsPrimary:      c.IsPrimary,
		BaseURL:        c.BaseURL,
		TimeoutSeconds: c.TimeoutSeconds,
	}
}

// Clone creates a copy of the provider configuration.
func (c *ProviderConfig) Clone() *ProviderConfig {
	cp := *c
	return &cp
}
