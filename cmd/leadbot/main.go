package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/genusglobalinc/leadbot/internal/browser"
	"github.com/genusglobalinc/leadbot/internal/config"
	"github.com/genusglobalinc/leadbot/internal/enrich"
	"github.com/genusglobalinc/leadbot/internal/extract"
	"github.com/genusglobalinc/leadbot/internal/pipeline"
	"github.com/genusglobalinc/leadbot/internal/ratelimit"
	"github.com/genusglobalinc/leadbot/internal/store"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "leadbot",
	Short: "Lead-generation scrape and enrichment pipeline",
	Long:  "Drives concurrent browser sessions against target pages, classifies extracted contacts through the OpenAI API, and serves the merged lead table to a desktop UI.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.LogLevel); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

// buildDispatcher wires the pipeline from config: one browser factory shared
// by all workers, one rate-limited enrichment client, one store.
func buildDispatcher() (*pipeline.Dispatcher, *store.Store) {
	st := store.New(cfg.MaxRetries)
	limiter := ratelimit.New(cfg.RateCapacity, cfg.RateRefill)
	enricher := enrich.NewClient(enrich.Options{
		APIKey:         cfg.OpenAIKey,
		Model:          cfg.OpenAIModel,
		BaseURL:        cfg.OpenAIBaseURL,
		AcquireTimeout: cfg.AcquireTimeout,
		CallTimeout:    cfg.EnrichTimeout,
	}, limiter)

	factory := browser.NewFactory(browser.Options{
		Headless:  cfg.Headless,
		UserAgent: "leadbot/1.0",
	})
	newExtractor := func() pipeline.Extractor {
		return extract.New(factory, cfg.PageTimeout)
	}

	d := pipeline.NewDispatcher(pipeline.Options{
		Workers:        cfg.Workers,
		MaxRetries:     cfg.MaxRetries,
		BackoffInitial: cfg.BackoffInitial,
		BackoffMax:     cfg.BackoffMax,
	}, st, newExtractor, enricher)
	return d, st
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
