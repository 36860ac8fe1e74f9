// Package app assembles the pipeline from configuration. Both binaries use it.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/timmy/alttext/internal/config"
	"github.com/timmy/alttext/internal/domain"
	"github.com/timmy/alttext/internal/logger"
	"github.com/timmy/alttext/internal/pricing"
	"github.com/timmy/alttext/internal/prompts"
	"github.com/timmy/alttext/internal/provider"
	"github.com/timmy/alttext/internal/quality"
	"github.com/timmy/alttext/internal/ratelimit"
	"github.com/timmy/alttext/internal/repository"
	"github.com/timmy/alttext/internal/service"
	"github.com/timmy/alttext/internal/storage"
	"github.com/timmy/alttext/internal/tokens"
	"gorm.io/gorm"
)

// App holds every long-lived component.
type App struct {
	Config *config.Config
	DB     *gorm.DB

	Jobs       *repository.JobRepository
	Subjects   *repository.SubjectRepository
	Schedule   *repository.ScheduleRepository
	Pricing    *repository.PricingRepository
	RateEvents *repository.RateEventRepository

	Storage      storage.ObjectStorage
	Providers    *provider.Factory
	Limiter      service.RateLimiter
	Scorer       *quality.Scorer
	Synchronizer *service.Synchronizer
	Batch        *service.BatchProcessor
	Importer     *service.ImportService
}

type bucketEnsurer interface {
	EnsureBucket(ctx context.Context) error
}

// New opens the database and storage and wires the pipeline.
// Parameters:
//   - ctx: context for startup checks.
//   - cfg: loaded configuration.
// Returns:
//   - *App: wired application; call Close when done.
//   - error: non-nil if any component cannot be created.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	log := logger.GetDefault().WithField(logger.FieldComponent, "app")

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a := &App{
		Config:     cfg,
		DB:         db,
		Jobs:       repository.NewJobRepository(db),
		Subjects:   repository.NewSubjectRepository(db),
		Schedule:   repository.NewScheduleRepository(db),
		Pricing:    repository.NewPricingRepository(db),
		RateEvents: repository.NewRateEventRepository(db),
	}

	a.Storage, err = storage.NewStorage(&cfg.Storage)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	if b, ok := a.Storage.(bucketEnsurer); ok {
		if err := b.EnsureBucket(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to ensure storage bucket: %w", err)
		}
	}

	tier, err := prompts.ParseTier(cfg.Pipeline.PromptTier)
	if err != nil {
		a.Close()
		return nil, err
	}

	rules, weights := quality.FromConfig(cfg.Quality)
	a.Scorer, err = quality.NewScorer(rules, weights)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Providers = provider.NewFactory(ProviderConfigs(cfg), provider.Deps{
		Estimator:    tokens.NewEstimator(tokens.ParamsFromConfig(cfg.Tokens)),
		Calculator:   pricing.NewCalculator(a.Pricing),
		PromptTier:   tier,
		AltMaxLength: rules.AltMaxLength,
	})

	limits, err := ratelimit.LimitsFromConfig(cfg.RateLimits)
	if err != nil {
		a.Close()
		return nil, err
	}
	if cfg.Pipeline.SharedRateLimiter {
		a.Limiter = ratelimit.NewSharedLimiter(a.RateEvents, limits, nil)
	} else {
		a.Limiter = ratelimit.NewMemoryLimiter(limits, nil)
	}

	a.Synchronizer = service.NewSynchronizer(
		a.Jobs,
		a.Subjects,
		service.NewSubjectResolver(a.Subjects, a.Storage, cfg.Site),
		a.Providers,
		a.Limiter,
		a.Scorer,
		a.Schedule,
		service.SynchronizerConfig{
			RequestTimeout:  time.Duration(cfg.Pipeline.RequestTimeoutSeconds) * time.Second,
			Backoff:         service.BackoffFromConfig(cfg.Pipeline),
			FallbackEnabled: cfg.Pipeline.FallbackEnabled,
			PromptTier:      tier,
			DefaultLanguage: cfg.Pipeline.DefaultLanguage,
		},
	)
	a.Batch = service.NewBatchProcessor(a.Synchronizer, a.Schedule, cfg.Pipeline.Workers)
	a.Importer = service.NewImportService(a.Subjects, a.Storage, &service.ImportConfig{
		Workers:   cfg.Pipeline.Workers,
		BatchSize: cfg.Pipeline.BatchSize,
	})

	log.WithFields(logger.Fields{
		"providers":     a.Providers.ChainNames(),
		"fallback":      cfg.Pipeline.FallbackEnabled,
		"shared_limits": cfg.Pipeline.SharedRateLimiter,
		"prompt_tier":   string(tier),
	}).Info("Pipeline assembled")
	return a, nil
}

// ProviderConfigs converts the enabled provider entries of cfg.
func ProviderConfigs(cfg *config.Config) []domain.ProviderConfig {
	enabled := cfg.EnabledProviders()
	out := make([]domain.ProviderConfig, 0, len(enabled))
	for i := range enabled {
		out = append(out, enabled[i].ToDomain())
	}
	return out
}

// Runner creates a scheduler runner over the durable task queue.
func (a *App) Runner() *service.Runner {
	return service.NewRunner(a.Schedule, a.Synchronizer, service.RunnerConfig{
		Workers:      a.Config.Pipeline.Workers,
		BatchSize:    a.Config.Pipeline.BatchSize,
		PollInterval: time.Duration(a.Config.Pipeline.PollIntervalSeconds) * time.Second,
	})
}

// SeedPricing upserts the built-in price table. Returns the number of rows written.
func (a *App) SeedPricing(ctx context.Context) (int, error) {
	rows := pricing.DefaultPricing()
	if err := a.Pricing.Seed(ctx, rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}

// Ping checks the database connection.
func (a *App) Ping(ctx context.Context) error {
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the database connection.
func (a *App) Close() error {
	if a.DB == nil {
		return nil
	}
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
