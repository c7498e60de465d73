package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"tablenorm/internal/config"
	"tablenorm/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "tablenorm",
	Short: "Normalize document tables into a canonical dataset",
	Long: `tablenorm extracts tables from PDF, XLSX or pre-extracted JSON documents,
normalizes every table into type,article,amount,year rows with a hosted
language model, and writes a consolidated CSV plus a validation report.`,
	SilenceUsage: true,
}

// loadConfig and newLogger are replaced in tests.
var (
	loadConfig = config.Load
	newLogger  = func(cmd *cobra.Command, cfg *config.Config) (*slog.Logger, error) {
		return logging.New(cmd.ErrOrStderr(), cfg.Log)
	}
)

func setup(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := newLogger(cmd, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to configure logging: %w", err)
	}
	return cfg, logger, nil
}
