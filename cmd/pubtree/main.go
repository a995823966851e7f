// Command pubtree runs the published-content tree cache daemon and its
// maintenance commands.
//
// Usage:
//
//	pubtree serve   --config pubtree.yaml   # cache daemon + admin HTTP
//	pubtree rebuild --db pubtree.db         # bulk resync denormalized rows
//	pubtree verify  --db pubtree.db         # drift check, exit 1 on drift
//	pubtree snapshot --config pubtree.yaml  # explicit snapshot flush
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/pubtree/cache"
)

var (
	flagConfig   string
	flagDB       string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:   "pubtree",
	Short: "In-memory hierarchical published-content cache",
}

func main() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to pubtree.yaml")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "SQLite database path (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "debug, info, warn or error")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(rebuildCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(snapshotCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig merges the YAML file (when given) with flag overrides.
func loadConfig() (*cache.Config, error) {
	var cfg *cache.Config
	if flagConfig != "" {
		c, err := cache.LoadConfigFile(flagConfig)
		if err != nil {
			return nil, err
		}
		cfg = c
	} else {
		cfg = &cache.Config{}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	if flagDB != "" {
		cfg.DBPath = flagDB
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("no database path: set --db or db_path in config")
	}
	return cfg, nil
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
