/*
main.go - Application entry point

PURPOSE:
  Command-line entry point for the step challenge service. Serves the HTTP
  API and offers offline commands against the same SQLite database.

COMMANDS:
  serve                   Run the HTTP server (graceful shutdown)
  ingest <file>           Parse and ingest a local .csv/.xlsx file (file is kept)
  seed <roster.yaml>      Upsert teams and users ([--reset])
  leaderboard             Print a board ([--date YYYY-MM-DD | --day N] [--team])

GLOBAL FLAGS:
  --config   YAML config path (missing file means defaults)
  --db       Overrides database.path

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests (server.shutdown_timeout)
  3. Close database connection

EXAMPLES:
  ./server seed configs/roster.example.yaml --db ./data/steps.db
  ./server ingest day1.xlsx
  ./server serve --config configs/config.example.yaml --listen :3000
  ./server leaderboard --date 2025-12-03 --team
  ./server leaderboard --day 3

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Configuration file
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/warp/step-league/challenge"
	"github.com/warp/step-league/config"
	"github.com/warp/step-league/logging"
	"github.com/warp/step-league/store/sqlite"
)

const serviceName = "step-league"

type globalFlags struct {
	configPath string
	dbPath     string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var flags globalFlags

	rootCmd := &cobra.Command{
		Use:           "server",
		Short:         "Step challenge ingestion and leaderboards",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&flags.dbPath, "db", "", "SQLite database path (overrides config)")

	rootCmd.AddCommand(serveCmd(&flags))
	rootCmd.AddCommand(ingestCmd(&flags))
	rootCmd.AddCommand(seedCmd(&flags))
	rootCmd.AddCommand(leaderboardCmd(&flags))

	return rootCmd
}

// =============================================================================
// SHARED SETUP
// =============================================================================

// env is what every command needs: config, logger, and an open store.
type env struct {
	cfg      config.Config
	log      *slog.Logger
	store    *sqlite.Store
	calendar challenge.Calendar
	rules    challenge.Rules

	logCloser io.Closer
}

func openEnv(flags *globalFlags) (*env, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if flags.dbPath != "" {
		cfg.Database.Path = flags.dbPath
	}

	cal, err := cfg.Calendar()
	if err != nil {
		return nil, err
	}

	logger, closer := logging.Setup(logging.Options{
		Service:    serviceName,
		Env:        cfg.Log.Environment,
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		closer.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}

	return &env{
		cfg:       cfg,
		log:       logger,
		store:     store,
		calendar:  cal,
		rules:     cfg.Rules(),
		logCloser: closer,
	}, nil
}

func (e *env) Close() {
	if err := e.store.Close(); err != nil {
		e.log.Warn("close database", slog.Any("error", err))
	}
	e.logCloser.Close()
}
