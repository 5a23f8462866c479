// Package main is the CLI entry point for threatlens.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/iyulab/threatlens/internal/config"
	"github.com/iyulab/threatlens/internal/metrics"
	"github.com/iyulab/threatlens/internal/observability"
	"github.com/iyulab/threatlens/internal/orchestrator"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "threatlens",
		Short: "Security telemetry analysis with heuristic detectors and LLM verdicts",
		Long: `threatlens screens login, firewall and patch telemetry with deterministic
detectors, asks a local or hosted LLM for a structured verdict per domain,
and combines the verdicts into one weighted risk score and report.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to config file (default threatlens.toml if present)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug logging")
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)

	rootCmd.AddCommand(newAnalyzeCmd(), newStatusCmd(), newTestCmd(), newServeCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app is the state shared by every command after configuration is loaded.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	metrics *metrics.Metrics
}

func setup(cmd *cobra.Command) (*app, error) {
	configPath, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	log := observability.NewStderrLogger(cfg.Logging)

	warnings, err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	for _, w := range warnings {
		log.Warn("configuration warning", zap.String("field", w.Field), zap.String("message", w.Message))
	}

	return &app{cfg: cfg, log: log, metrics: metrics.New()}, nil
}

func (a *app) engine() (*orchestrator.Engine, error) {
	return orchestrator.New(a.cfg, orchestrator.Deps{
		Logger:  a.log,
		Metrics: a.metrics,
		Version: fmt.Sprintf("%s (%s)", version, commit),
	})
}

func (a *app) close() {
	_ = a.log.Sync()
}
