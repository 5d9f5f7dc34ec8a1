package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ai-agency/agency/internal/analytics"
	"github.com/ai-agency/agency/internal/api"
	"github.com/ai-agency/agency/internal/cache"
	"github.com/ai-agency/agency/internal/config"
	"github.com/ai-agency/agency/internal/database"
	"github.com/ai-agency/agency/internal/generator"
	"github.com/ai-agency/agency/internal/logger"
	"github.com/ai-agency/agency/internal/mailer"
	"github.com/ai-agency/agency/internal/models"
	"github.com/ai-agency/agency/internal/processor"
	"github.com/ai-agency/agency/internal/storage"
	"github.com/ai-agency/agency/internal/subscription"
)

const version = "1.0.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("Error:"), err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "agency",
		Short:         "AI agency backend",
		Long:          `HTTP API for AI chat, file analysis, code generation and job search with plan based quotas.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "app.yml", "Path to configuration file")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Start the HTTP API (default)",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServe(cmd, configPath)
			},
		},
		newMigrateCmd(&configPath),
		newResetUsageCmd(&configPath),
		newSweepCmd(&configPath),
		newSetPlanCmd(&configPath),
		newSetRoleCmd(&configPath),
		newSetActiveCmd(&configPath),
	)
	return root
}

// loadConfig reads the configuration and sets up logging for its
// environment.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	logger.Init(cfg.Env)
	return cfg, nil
}

// newGenerator builds the generator registry. Chat goes to Claude when the
// anthropic provider is configured; every other type uses templates.
func newGenerator(cfg config.AIConfig) (*generator.Registry, error) {
	reg := generator.NewRegistry()
	generator.NewTemplates(rand.New(rand.NewSource(time.Now().UnixNano())), cfg.Latency).Register(reg)

	switch cfg.Provider {
	case "template", "":
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("ai.anthropicApiKey is required for the anthropic provider")
		}
		reg.Register(models.TypeChat, generator.NewAnthropic(cfg.AnthropicAPIKey, cfg.Model, cfg.MaxTokens))
	default:
		return nil, fmt.Errorf("unsupported ai provider: %s", cfg.Provider)
	}
	return reg, nil
}

func newProcessor(cfg *config.Config, db *database.DB) (*processor.Processor, error) {
	gen, err := newGenerator(cfg.AI)
	if err != nil {
		return nil, err
	}
	return processor.New(db, gen, processor.Config{
		Timeout:       cfg.AI.Timeout,
		MaxConcurrent: cfg.AI.MaxConcurrent,
	}), nil
}

func runServe(cmd *cobra.Command, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	fmt.Fprintf(cmd.OutOrStdout(), "%s v%s (%s) on %s:%d\n",
		cyan("AI Agency API"), version, cfg.Env, cfg.Server.Host, cfg.Server.Port)

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	catalog, err := subscription.NewCatalog(cfg.Plans)
	if err != nil {
		return err
	}
	proc, err := newProcessor(cfg, db)
	if err != nil {
		return err
	}

	store, closeCache, err := cache.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer closeCache()

	files, err := storage.New(ctx, cfg.Upload)
	if err != nil {
		return err
	}

	server, err := api.NewApi(cfg, api.Deps{
		DB:        db,
		Processor: proc,
		Catalog:   catalog,
		Analytics: analytics.NewService(db, store, cfg.Redis.TTL),
		Files:     files,
		Mailer:    mailer.New(cfg.Email),
	})
	if err != nil {
		return err
	}

	// Requests left processing by a previous crash are failed at startup
	// and then periodically.
	go sweepLoop(ctx, proc, cfg.Sweep)

	return server.Serve(ctx)
}

func sweepLoop(ctx context.Context, proc *processor.Processor, cfg config.SweepConfig) {
	if cfg.StuckAfter <= 0 {
		return
	}
	sweep := func() {
		if _, err := proc.Sweep(ctx, cfg.StuckAfter); err != nil && ctx.Err() == nil {
			logger.Error("stuck request sweep failed", "error", err)
		}
	}
	sweep()
	if cfg.Interval <= 0 {
		return
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}
