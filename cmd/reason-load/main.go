package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cognicore/reason/internal/logging"
	"github.com/cognicore/reason/pkg/reason"
	"github.com/cognicore/reason/pkg/reason/config"
	"github.com/cognicore/reason/pkg/reason/store/sqlite"
)

var (
	configPath string
	dbPath     string
	debug      bool

	rootCmd = &cobra.Command{
		Use:   "reason-load [file...]",
		Short: "Batch-load sentence files into a sqlite-backed knowledge base",
		Long: `reason-load tells every sentence in the given .rsn files, waits for
the rule rechecks they trigger, and snapshots the result to --db. An
existing database is restored first, so repeated runs accumulate.`,
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE:         run,
	}
)

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "YAML configuration file")
	rootCmd.Flags().StringVar(&dbPath, "db", "", "sqlite database path (required)")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "debug logging")
	rootCmd.MarkFlagRequired("db")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, files []string) error {
	ctx := context.Background()

	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}
	}
	if debug {
		cfg.Debug = true
	}

	logger, err := logging.New(cfg.Debug)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}

	st, err := sqlite.Open(ctx, dbPath)
	if err != nil {
		return err
	}

	k, err := reason.New(reason.Options{Config: cfg, Logger: logger, Store: st})
	if err != nil {
		st.Close()
		return err
	}
	defer k.Close()

	if err := k.Restore(ctx); err != nil {
		return fmt.Errorf("restore %s: %w", dbPath, err)
	}

	loaded := 0
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		// A batch tell applies every well-formed block and reports the
		// rest; one bad sentence should not abort the load.
		if err := k.Tell(ctx, string(data)); err != nil {
			logger.Warn("sentences rejected",
				zap.String("file", path),
				zap.Error(err))
		}
		loaded++
		logger.Info("loaded", zap.String("file", path))
	}

	k.WaitRechecks()
	if err := k.Snapshot(ctx); err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}

	logger.Info("load complete",
		zap.Int("files", loaded),
		zap.String("db", dbPath))
	return nil
}
