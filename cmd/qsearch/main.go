package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/QTest-hq/qsearch/internal/config"
)

var version = "dev"

func main() {
	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if os.Getenv("ENV") != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "qsearch",
		Short:        "qsearch - search-based unit test generation",
		Long:         `qsearch evolves unit test suites that maximise branch, line and method coverage.`,
		Version:      version,
		SilenceUsage: true,
	}

	cmd.AddCommand(runCmd())
	cmd.AddCommand(goalsCmd())
	cmd.AddCommand(serveCmd())
	cmd.AddCommand(initConfigCmd())

	return cmd
}

// loadEnv loads the environment configuration and applies its log level.
func loadEnv() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	zerolog.SetGlobalLevel(cfg.Level())
	return cfg, nil
}
