package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/timmy/alttext/internal/app"
	"github.com/timmy/alttext/internal/domain"
	"github.com/timmy/alttext/internal/logger"
	"github.com/timmy/alttext/internal/provider"
	"github.com/timmy/alttext/internal/service"
	"github.com/timmy/alttext/internal/source/localdir"
	"github.com/urfave/cli/v2"
	_ "golang.org/x/image/webp"
)

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func importAction(c *cli.Context) error {
	return withApp(c, func(ctx context.Context, a *app.App) error {
		dir := c.String("dir")
		if dir == "" {
			dir = a.Config.Sources.LocalDir.Path
		}
		if dir == "" {
			return fmt.Errorf("no directory: pass --dir or set sources.localdir.path")
		}
		stats, err := a.Importer.ImportFromSource(ctx, localdir.NewAdapter(dir), c.Int("limit"), &service.ImportOptions{
			Force: c.Bool("force"),
		})
		if err != nil {
			return err
		}
		return printJSON(stats)
	})
}

func processAction(c *cli.Context) error {
	subjectID := c.Args().First()
	if subjectID == "" {
		return fmt.Errorf("subject ID is required")
	}
	return withApp(c, func(ctx context.Context, a *app.App) error {
		outcome, err := a.Synchronizer.ProcessSubject(ctx, subjectID, c.String("lang"))
		if err != nil {
			return err
		}
		return printJSON(outcome)
	})
}

func batchAction(c *cli.Context) error {
	return withApp(c, func(ctx context.Context, a *app.App) error {
		ids := c.StringSlice("subject")
		if len(ids) == 0 {
			var err error
			ids, err = a.Subjects.ListIDsWithoutMetadata(ctx, c.Int("limit"))
			if err != nil {
				return err
			}
		}
		if len(ids) == 0 {
			fmt.Println("No subjects need metadata")
			return nil
		}
		// Ctrl-C cancels the batch; in-flight calls still finish and are recorded.
		result := a.Batch.Run(ctx, ids, service.BatchOptions{
			Language: c.String("lang"),
			Workers:  c.Int("workers"),
		})
		return printJSON(result)
	})
}

func runAction(c *cli.Context) error {
	return withApp(c, func(ctx context.Context, a *app.App) error {
		runner := a.Runner()
		if c.Bool("once") {
			n, err := runner.RunOnce(ctx)
			if err != nil {
				return err
			}
			logger.CtxInfo(ctx, "Processed %d scheduled tasks", n)
			return nil
		}
		return runner.Run(ctx)
	})
}

func retryFailedAction(c *cli.Context) error {
	return withApp(c, func(ctx context.Context, a *app.App) error {
		n, err := a.Synchronizer.RequeueFailed(ctx, c.Int("limit"))
		if err != nil {
			return err
		}
		fmt.Printf("Queued %d failed jobs\n", n)
		return nil
	})
}

func seedPricingAction(c *cli.Context) error {
	return withApp(c, func(ctx context.Context, a *app.App) error {
		n, err := a.SeedPricing(ctx)
		if err != nil {
			return err
		}
		rows, err := a.Pricing.List(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Seeded %d price rows\n\n", n)
		fmt.Printf("%-12s %-32s %10s %10s\n", "Provider", "Model", "In/1M", "Out/1M")
		fmt.Println(strings.Repeat("-", 68))
		for _, p := range rows {
			fmt.Printf("%-12s %-32s %10.4f %10.4f\n", p.Provider, p.ModelName, p.InputPricePerMillion, p.OutputPricePerMillion)
		}
		return nil
	})
}

func statsAction(c *cli.Context) error {
	return withApp(c, func(ctx context.Context, a *app.App) error {
		stats, err := a.Jobs.Stats(ctx)
		if err != nil {
			return err
		}
		subjects, err := a.Subjects.Count(ctx)
		if err != nil {
			return err
		}
		queued, err := a.Schedule.CountQueued(ctx)
		if err != nil {
			return err
		}
		return printJSON(map[string]interface{}{
			"subjects":       subjects,
			"jobs_by_status": stats.ByStatus,
			"queued_tasks":   queued,
			"total_cost":     stats.TotalCost,
		})
	})
}

// describeAction runs the provider chain on a file with fallback, bypassing
// jobs, subjects and the rate limiter.
func describeAction(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return fmt.Errorf("file is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	mime := mimetype.Detect(data)
	if !strings.HasPrefix(mime.String(), "image/") {
		return fmt.Errorf("%s is %s, not an image", path, mime.String())
	}
	img := domain.SubjectImage{Data: data, MIMEType: mime.String()}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		img.Width, img.Height = cfg.Width, cfg.Height
	}

	return withApp(c, func(ctx context.Context, a *app.App) error {
		result, err := a.Providers.AnalyzeWithFallback(ctx, &provider.AnalyzeRequest{
			SubjectID: filepath.Base(path),
			Language:  c.String("lang"),
			Image:     img,
			Context: domain.SubjectContext{
				SiteName:        a.Config.Site.Name,
				SiteDescription: a.Config.Site.Description,
				PostTitle:       c.String("title"),
			},
		})
		if err != nil {
			return err
		}
		eval := a.Scorer.Evaluate(result.Metadata)
		return printJSON(map[string]interface{}{
			"provider":   result.Provider,
			"model":      result.Model,
			"metadata":   result.Metadata,
			"usage":      result.Usage,
			"cost":       result.Cost,
			"evaluation": eval,
			"duration":   result.Duration.String(),
		})
	})
}
