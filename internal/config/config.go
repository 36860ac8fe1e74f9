package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig               `mapstructure:"server"`
	Database   DatabaseConfig             `mapstructure:"database"`
	Storage    StorageConfig              `mapstructure:"storage"`
	Site       SiteConfig                 `mapstructure:"site"`
	Providers  []ProviderConfig           `mapstructure:"providers"`
	RateLimits map[string]RateLimitConfig `mapstructure:"rate_limits"`
	Quality    QualityConfig              `mapstructure:"quality"`
	Pipeline   PipelineConfig             `mapstructure:"pipeline"`
	Tokens     TokensConfig               `mapstructure:"tokens"`
	Sources    SourcesConfig              `mapstructure:"sources"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite or postgres
	Path            string        `mapstructure:"path"`   // sqlite file path
	URL             string        `mapstructure:"url"`    // postgres DSN
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// DSN returns the connection string for the configured driver.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		return c.URL
	}
	return c.Path
}

type StorageConfig struct {
	Type      string `mapstructure:"type"` // r2, s3, s3compatible
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	PublicURL string `mapstructure:"public_url"`
}

type SiteConfig struct {
	Name        string `mapstructure:"name"`
	Description string `mapstructure:"description"`
}

// RateLimitConfig overrides provider defaults; zero keeps the default.
type RateLimitConfig struct {
	PerMinute int `mapstructure:"per_minute"`
	PerHour   int `mapstructure:"per_hour"`
	PerDay    int `mapstructure:"per_day"`
}

type QualityConfig struct {
	AltMaxLength         int           `mapstructure:"alt_max_length"`
	AltMinLength         int           `mapstructure:"alt_min_length"`
	TitleMaxLength       int           `mapstructure:"title_max_length"`
	CaptionMaxLength     int           `mapstructure:"caption_max_length"`
	MinKeywords          int           `mapstructure:"min_keywords"`
	ForbiddenPhrases     []string      `mapstructure:"forbidden_phrases"`
	AutoApproveThreshold float64       `mapstructure:"auto_approve_threshold"`
	Weights              WeightsConfig `mapstructure:"weights"`
}

type WeightsConfig struct {
	Alt      float64 `mapstructure:"alt"`
	Title    float64 `mapstructure:"title"`
	Caption  float64 `mapstructure:"caption"`
	Keywords float64 `mapstructure:"keywords"`
}

type PipelineConfig struct {
	Workers               int    `mapstructure:"workers"`
	BatchSize             int    `mapstructure:"batch_size"`
	MaxRetries            int    `mapstructure:"max_retries"`
	RetryBaseSeconds      int    `mapstructure:"retry_base_seconds"`
	RetryMaxSeconds       int    `mapstructure:"retry_max_seconds"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds"`
	SyncBudgetSeconds     int    `mapstructure:"sync_budget_seconds"`
	PollIntervalSeconds   int    `mapstructure:"poll_interval_seconds"`
	PromptTier            string `mapstructure:"prompt_tier"` // minimal, standard, advanced
	DefaultLanguage       string `mapstructure:"default_language"`
	FallbackEnabled       bool   `mapstructure:"fallback_enabled"`
	SharedRateLimiter     bool   `mapstructure:"shared_rate_limiter"`
}

// TokensConfig holds the image-token estimation constants. They follow vendor
// documentation that changes over time, so they stay configurable.
type TokensConfig struct {
	OpenAIMaxDimension    int `mapstructure:"openai_max_dimension"`
	OpenAIShortSide       int `mapstructure:"openai_short_side"`
	OpenAITileSize        int `mapstructure:"openai_tile_size"`
	OpenAIBaseTokens      int `mapstructure:"openai_base_tokens"`
	OpenAITileTokens      int `mapstructure:"openai_tile_tokens"`
	AnthropicMaxDimension int `mapstructure:"anthropic_max_dimension"`
	AnthropicPixelDivisor int `mapstructure:"anthropic_pixel_divisor"`
	AnthropicMaxTokens    int `mapstructure:"anthropic_max_tokens"`
	GoogleTileSize        int `mapstructure:"google_tile_size"`
	GoogleTileTokens      int `mapstructure:"google_tile_tokens"`
	CharsPerToken         int `mapstructure:"chars_per_token"`
}

type SourcesConfig struct {
	LocalDir LocalDirConfig `mapstructure:"localdir"`
}

type LocalDirConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	// Set config file path
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Enable environment variable override
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables explicitly for sensitive data
	v.BindEnv("database.driver", "DATABASE_DRIVER")
	v.BindEnv("database.url", "DATABASE_URL")
	v.BindEnv("storage.endpoint", "STORAGE_ENDPOINT")
	v.BindEnv("storage.access_key", "STORAGE_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "STORAGE_SECRET_KEY")
	v.BindEnv("storage.bucket", "STORAGE_BUCKET")
	v.BindEnv("storage.public_url", "STORAGE_PUBLIC_URL")
	v.BindEnv("pipeline.workers", "PIPELINE_WORKERS")
	v.BindEnv("quality.auto_approve_threshold", "AUTO_APPROVE_THRESHOLD")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Providers without a config file fall back to one entry per vendor,
	// enabled when its API key is present in the environment.
	usingDefaults := len(cfg.Providers) == 0
	if usingDefaults {
		cfg.Providers = DefaultProviders()
	}
	for i := range cfg.Providers {
		cfg.Providers[i].ResolveEnvVars()
		if usingDefaults {
			cfg.Providers[i].Enabled = cfg.Providers[i].APIKey != ""
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/alttext.db")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("storage.type", "")
	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.use_ssl", false)
	v.SetDefault("storage.bucket", "subjects")
	v.SetDefault("site.name", "")
	v.SetDefault("quality.alt_max_length", 125)
	v.SetDefault("quality.alt_min_length", 10)
	v.SetDefault("quality.title_max_length", 70)
	v.SetDefault("quality.caption_max_length", 250)
	v.SetDefault("quality.min_keywords", 3)
	v.SetDefault("quality.forbidden_phrases", []string{"image of", "picture of", "photo of", "screenshot of"})
	v.SetDefault("quality.auto_approve_threshold", 0.80)
	v.SetDefault("quality.weights.alt", 0.4)
	v.SetDefault("quality.weights.title", 0.2)
	v.SetDefault("quality.weights.caption", 0.2)
	v.SetDefault("quality.weights.keywords", 0.2)
	v.SetDefault("pipeline.workers", 3)
	v.SetDefault("pipeline.batch_size", 20)
	v.SetDefault("pipeline.max_retries", 3)
	v.SetDefault("pipeline.retry_base_seconds", 60)
	v.SetDefault("pipeline.retry_max_seconds", 3600)
	v.SetDefault("pipeline.request_timeout_seconds", 60)
	v.SetDefault("pipeline.sync_budget_seconds", 300)
	v.SetDefault("pipeline.poll_interval_seconds", 10)
	v.SetDefault("pipeline.prompt_tier", "standard")
	v.SetDefault("pipeline.default_language", "en")
	v.SetDefault("pipeline.fallback_enabled", false)
	v.SetDefault("pipeline.shared_rate_limiter", false)
	v.SetDefault("tokens.openai_max_dimension", 2048)
	v.SetDefault("tokens.openai_short_side", 768)
	v.SetDefault("tokens.openai_tile_size", 512)
	v.SetDefault("tokens.openai_base_tokens", 85)
	v.SetDefault("tokens.openai_tile_tokens", 170)
	v.SetDefault("tokens.anthropic_max_dimension", 1568)
	v.SetDefault("tokens.anthropic_pixel_divisor", 750)
	v.SetDefault("tokens.anthropic_max_tokens", 1600)
	v.SetDefault("tokens.google_tile_size", 768)
	v.SetDefault("tokens.google_tile_tokens", 258)
	v.SetDefault("tokens.chars_per_token", 4)
	v.SetDefault("sources.localdir.enabled", true)
	v.SetDefault("sources.localdir.path", "./data/images")
}

// DefaultProviders returns one entry per supported vendor with its default model.
func DefaultProviders() []ProviderConfig {
	return []ProviderConfig{
		{Name: "openai", Model: "gpt-4o-mini", Enabled: true},
		{Name: "anthropic", Model: "claude-3-5-haiku-20241022", Enabled: true},
		{Name: "google", Model: "gemini-2.0-flash", Enabled: true},
	}
}

// Validate checks cross-field constraints that viper cannot express.
func (c *Config) Validate() error {
	for i := range c.Providers {
		if err := c.Providers[i].Validate(); err != nil {
			return err
		}
	}
	w := c.Quality.Weights
	if sum := w.Alt + w.Title + w.Caption + w.Keywords; math.Abs(sum-1.0) > 0.01 {
		return fmt.Errorf("quality weights must sum to 1.0, got %.3f", sum)
	}
	if c.Quality.AutoApproveThreshold < 0 || c.Quality.AutoApproveThreshold > 1 {
		return errors.New("quality.auto_approve_threshold must be within [0,1]")
	}
	if c.Pipeline.Workers <= 0 {
		return errors.New("pipeline.workers must be positive")
	}
	if c.Pipeline.MaxRetries < 0 {
		return errors.New("pipeline.max_retries must not be negative")
	}
	switch c.Pipeline.PromptTier {
	case "minimal", "standard", "advanced":
	default:
		return fmt.Errorf("unknown pipeline.prompt_tier %q", c.Pipeline.PromptTier)
	}
	return nil
}

// EnabledProviders returns the enabled providers that carry an API key.
func (c *Config) EnabledProviders() []ProviderConfig {
	var out []ProviderConfig
	for _, p := range c.Providers {
		if p.Enabled && p.APIKey != "" {
			out = append(out, p)
		}
	}
	return out
}
