package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/spf13/cobra"

	"github.com/clickstream/clickstream-etl/internal/app"
	"github.com/clickstream/clickstream-etl/internal/config"
	"github.com/clickstream/clickstream-etl/internal/observability"
)

var (
	version = "dev"
	commit  = "unknown"
)

// processMetrics registers the pipeline metrics once per process.
var processMetrics = sync.OnceValue(observability.NewMetrics)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configFile string
	dataDir    string
	logLevel   string
	logFormat  string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:   "clickstream",
		Short: "Clickstream ETL pipeline",
		Long: `clickstream generates synthetic clickstream events, transforms raw
event objects into a partitioned dataset and registers every partition
file in the catalog.

Configuration cascade (priority order):
  1. Command-line flags
  2. CLICKSTREAM_* environment variables (plus RAW_BUCKET,
     TRANSFORMED_BUCKET and JOB_NAME)
  3. --config file (YAML or JSON)
  4. Built-in defaults`,
		Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&g.configFile, "config", "", "path to configuration file (YAML or JSON)")
	root.PersistentFlags().StringVar(&g.dataDir, "data-dir", "", "base directory for local data files")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "", "log format: json, text")

	root.AddCommand(
		newGenerateCmd(g),
		newTransformCmd(g),
		newBulkCmd(g),
		newWatchCmd(g),
		newPartitionsCmd(g),
	)
	return root
}

// loadConfig loads configuration from file, environment, and command line flags.
func (g *globalFlags) loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error

	if g.configFile != "" {
		cfg, err = config.LoadFromFile(g.configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	config.LoadFromEnv(cfg)

	if g.dataDir != "" {
		cfg.DataDir = g.dataDir
	}
	if g.logLevel != "" {
		cfg.Logging.Level = g.logLevel
	}
	if g.logFormat != "" {
		cfg.Logging.Format = g.logFormat
	}
	return cfg, nil
}

// openApp builds the application for a subcommand. Logs go to stderr so
// command output on stdout stays clean. mutate, when set, applies
// subcommand flags before validation.
func (g *globalFlags) openApp(ctx context.Context, stderr io.Writer, mutate func(*config.Config)) (*app.App, *slog.Logger, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if mutate != nil {
		mutate(cfg)
	}

	logger := observability.NewLoggerTo(stderr, cfg.Logging.Level, cfg.Logging.Format)
	a, err := app.New(ctx, cfg, logger, processMetrics())
	if err != nil {
		return nil, nil, err
	}
	a.ServeMetrics()
	return a, logger, nil
}
