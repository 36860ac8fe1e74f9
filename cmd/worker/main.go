package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/timmy/alttext/internal/app"
	"github.com/timmy/alttext/internal/config"
	"github.com/timmy/alttext/internal/logger"
	"github.com/urfave/cli/v2"
)

func main() {
	appLogger := logger.NewFromEnv(logger.LoadFromEnv("alttext-worker"))
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	cliApp := &cli.App{
		Name:  "alttext-worker",
		Usage: "import images and generate ALT text, captions and keywords",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file",
				EnvVars: []string{"CONFIG_PATH"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "import",
				Usage:  "import images from a local directory into storage and the subject table",
				Action: importAction,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "dir", Usage: "directory to import (defaults to sources.localdir.path)"},
					&cli.IntFlag{Name: "limit", Usage: "maximum number of files, 0 for all"},
					&cli.BoolFlag{Name: "force", Usage: "re-import files whose content is already known"},
				},
			},
			{
				Name:      "process",
				Usage:     "process one subject synchronously",
				ArgsUsage: "<subject-id>",
				Action:    processAction,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "lang", Usage: "language code"},
				},
			},
			{
				Name:   "batch",
				Usage:  "process subjects as one batch",
				Action: batchAction,
				Flags: []cli.Flag{
					&cli.StringSliceFlag{Name: "subject", Usage: "subject ID, repeatable"},
					&cli.IntFlag{Name: "limit", Value: 50, Usage: "subjects without metadata to pick when no --subject is given"},
					&cli.StringFlag{Name: "lang", Usage: "language code"},
					&cli.IntFlag{Name: "workers", Usage: "concurrent jobs, overrides pipeline.workers"},
				},
			},
			{
				Name:   "run",
				Usage:  "run the scheduler loop for retries and rate-limit reschedules",
				Action: runAction,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "once", Usage: "claim one page of due tasks and exit"},
				},
			},
			{
				Name:   "retry-failed",
				Usage:  "queue failed jobs under the retry ceiling to run now",
				Action: retryFailedAction,
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Value: 100},
				},
			},
			{
				Name:   "seed-pricing",
				Usage:  "write the built-in model price table",
				Action: seedPricingAction,
			},
			{
				Name:      "describe",
				Usage:     "analyze a local image file without storing anything",
				ArgsUsage: "<file>",
				Action:    describeAction,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "lang", Value: "en", Usage: "language code"},
					&cli.StringFlag{Name: "title", Usage: "post title to include in the prompt"},
				},
			},
			{
				Name:   "stats",
				Usage:  "print job counts and spend",
				Action: statsAction,
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cliApp.RunContext(ctx, os.Args); err != nil {
		appLogger.WithError(err).Fatal("Command failed")
	}
}

// withApp loads configuration, builds the pipeline and runs fn.
func withApp(c *cli.Context, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	ctx := logger.SetComponent(c.Context, "worker")
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}
