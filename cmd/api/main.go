package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/timmy/alttext/internal/api"
	"github.com/timmy/alttext/internal/api/handler"
	"github.com/timmy/alttext/internal/api/middleware"
	"github.com/timmy/alttext/internal/app"
	"github.com/timmy/alttext/internal/config"
	"github.com/timmy/alttext/internal/logger"
)

func main() {
	appLogger := logger.NewFromEnv(logger.LoadFromEnv("alttext-api"))
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// CONFIG_PATH points at the YAML file in deployments; empty searches ./configs.
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize pipeline")
	}
	defer a.Close()

	// Scheduled retries and rate-limit reschedules run in the API process too
	// unless a dedicated worker handles them.
	if os.Getenv("DISABLE_SCHEDULER") != "true" {
		go func() {
			if err := a.Runner().Run(ctx); err != nil {
				appLogger.WithError(err).Error("Scheduler runner stopped")
			}
		}()
	}

	router := api.SetupRouter(api.Handlers{
		Health:  handler.NewHealthHandler(a.Ping, a.Providers.ChainNames()),
		Process: handler.NewProcessHandler(a.Synchronizer, time.Duration(cfg.Pipeline.SyncBudgetSeconds)*time.Second),
		Batch:   handler.NewBatchHandler(a.Batch, a.Subjects),
		Job:     handler.NewJobHandler(a.Jobs, a.Synchronizer, a.Subjects),
	}, middleware.CORSConfig{
		AllowedOrigins:  cfg.Server.CORS.AllowedOrigins,
		AllowAllOrigins: cfg.Server.CORS.AllowAllOrigins,
	}, appLogger, cfg.Server.Mode)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		appLogger.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	<-ctx.Done()
	appLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Server forced to shutdown")
	}
	appLogger.Info("Server exited")
}
