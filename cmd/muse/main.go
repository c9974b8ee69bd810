// Package main provides the muse CLI entry point.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/matsen/muse/internal/config"
	"github.com/matsen/muse/internal/logging"
	"github.com/matsen/muse/internal/storage"
)

// Version is set at build time via ldflags
var Version = "dev"

var (
	// humanOutput controls whether to use human-readable output
	humanOutput bool
	verbose     bool
	quiet       bool

	cfg    *config.GlobalConfig
	logger = logging.NewNop()
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		// SilenceErrors is set, so cobra errors (like missing required
		// flags) are printed here.
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(ExitError)
	}
}

var rootCmd = &cobra.Command{
	Use:   "muse",
	Short: "Audio genre classifier and similar-song recommender",
	Long: `muse classifies audio files with a served model and recommends
similar songs from a prebuilt embedding index.

Core features:
  - Build an embedding index from a directory of audio files
  - Predict a genre label for one audio file
  - Recommend similar indexed songs by cosine similarity
  - Record plays, predictions, and feedback in a local SQLite database

All commands output JSON by default for agent integration.
Logs go to stderr.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&humanOutput, "human", false, "Use human-readable output instead of JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug messages")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Log errors only")
	rootCmd.Version = Version
}

// setup loads .env, the global config, and the logger before any command runs.
func setup(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load()

	loaded, err := config.LoadGlobalConfig()
	if err != nil {
		return err
	}
	cfg = loaded

	level := cfg.Log.Level
	switch {
	case verbose:
		level = "debug"
	case quiet:
		level = "error"
	}
	l, err := logging.New(logging.Options{Level: level, Format: cfg.Log.Format})
	if err != nil {
		return err
	}
	logger = l
	slog.SetDefault(logger)
	return nil
}

// mustOpenDatabase opens the telemetry database, exits on error.
// The caller is responsible for calling Close() on the returned DB.
func mustOpenDatabase(path string) *storage.DB {
	db, err := storage.OpenDB(path)
	if err != nil {
		exitWithError(ExitError, "opening database: %v", err)
	}
	return db
}

// openDatabaseOptional opens the telemetry database for best-effort
// recording. Failures are logged and yield nil.
func openDatabaseOptional(path string) *storage.DB {
	if path == "" {
		return nil
	}
	db, err := storage.OpenDB(path)
	if err != nil {
		logger.Warn("telemetry disabled", "db", path, "error", err)
		return nil
	}
	return db
}

// firstNonEmpty returns the first non-empty value, used to layer flags over config.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
