package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/veil/internal/config"
	"github.com/andresmejia3/veil/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// DB is the optional job ledger shared by subcommands. It is nil when no
	// database is configured.
	DB *store.Store
	// cfg holds the environment-backed settings, loaded before every command.
	cfg = config.Load()
	// log is the structured logger handed to the pipeline and worker pool.
	log = logrus.New()

	// dbURL is the connection string
	dbURL      string
	cascadeDir string
	logLevel   string
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "veil",
	Short:   "Face detection & redaction for images and videos",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()
		if cascadeDir == "" {
			cascadeDir = cfg.CascadeDir
		}
		if logLevel == "" {
			logLevel = cfg.LogLevel
		}

		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("invalid --log-level: %w", err)
		}
		log.SetLevel(level)
		log.SetOutput(os.Stderr)

		// The ledger is opt-in: only connect when a DSN was given or POSTGRES_HOST is set.
		if dbURL == "" {
			if url, ok := config.DatabaseURL(); ok {
				dbURL = url
			}
		}
		if dbURL == "" {
			return nil
		}

		DB, err = store.New(cmd.Context(), dbURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// cmd.Context() is already done after an interrupt.
			DB.Close(context.Background())
		}
	},
}

func Execute() {
	// An interrupt cancels in-flight jobs; a second one kills the process.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Bare version string, so scripts can read `veil --version`.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string for the job ledger (default: built from POSTGRES_* env, disabled if unset)")
	rootCmd.PersistentFlags().StringVar(&cascadeDir, "cascades", "", "Directory holding the detection cascade files (default: $VEIL_CASCADE_DIR or ./cascades)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default: $VEIL_LOG_LEVEL or info)")
}
