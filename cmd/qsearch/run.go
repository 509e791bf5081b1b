package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/QTest-hq/qsearch/internal/api"
	"github.com/QTest-hq/qsearch/internal/codecov"
	"github.com/QTest-hq/qsearch/internal/config"
	"github.com/QTest-hq/qsearch/internal/db"
	"github.com/QTest-hq/qsearch/internal/fitness"
	"github.com/QTest-hq/qsearch/internal/ga"
	"github.com/QTest-hq/qsearch/internal/metrics"
)

type runFlags struct {
	configPath string
	overrides  config.SearchConfig
	serveAddr  string
	record     bool
	printTests bool
}

func runCmd() *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Search for a test suite covering the sandbox subject",
		Long: `Run a MAP-Elites or standard genetic search over the built-in subject
and print a goal coverage report for the best suite found.

Settings come from .qsearch.yaml in the current directory (or --config)
and are overridden by flags.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnv()
			if err != nil {
				return err
			}

			cfg, err := loadSearchConfig(f.configPath)
			if err != nil {
				return err
			}
			cfg.Merge(&f.overrides)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runSearch(ctx, env, cfg, f, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "Search config file (default: .qsearch.yaml in the current directory)")
	cmd.Flags().StringVarP(&f.overrides.Algorithm, "algorithm", "a", "", "Search algorithm (mapelites, standard)")
	cmd.Flags().Int64Var(&f.overrides.Seed, "seed", 0, "Random seed (0 = from clock)")
	cmd.Flags().StringVarP(&f.overrides.Subject.Scope, "scope", "s", "", "Class to target, or * for all")
	cmd.Flags().StringSliceVar(&f.overrides.Subject.Criteria, "criteria", nil, "Coverage criteria (branch, line, method)")
	cmd.Flags().IntVar(&f.overrides.Subject.StepBudget, "step-budget", 0, "Steps per statement before it times out")
	cmd.Flags().IntVar(&f.overrides.GA.PopulationSize, "population", 0, "Population size of the standard GA")
	cmd.Flags().BoolVar(&f.overrides.GA.FeedbackDirected, "feedback", false, "Perturb the least explored goal instead of a random one")
	cmd.Flags().DurationVar(&f.overrides.Limits.MaxTime, "max-time", 0, "Search time budget")
	cmd.Flags().Int64Var(&f.overrides.Limits.MaxTests, "max-tests", 0, "Maximum test executions")
	cmd.Flags().Int64Var(&f.overrides.Limits.MaxIterations, "max-iterations", 0, "Maximum iterations")
	cmd.Flags().Int64Var(&f.overrides.Limits.MaxEvaluations, "max-evaluations", 0, "Maximum fitness evaluations")
	cmd.Flags().Int64Var(&f.overrides.Limits.TargetCoverage, "target-coverage", 0, "Stop at this coverage percentage")
	cmd.Flags().StringVarP(&f.overrides.Report.Format, "format", "f", "", "Report format (text, json)")
	cmd.Flags().StringVarP(&f.overrides.Report.Output, "output", "o", "", "Write the report to a file instead of stdout")
	cmd.Flags().Float64Var(&f.overrides.Report.Threshold, "threshold", 0, "Coverage percentage below which a warning is logged")
	cmd.Flags().StringVar(&f.serveAddr, "serve", "", "Serve run progress and metrics on this address while searching")
	cmd.Flags().BoolVar(&f.record, "record", true, "Record the run when DATABASE_URL is set")
	cmd.Flags().BoolVar(&f.printTests, "print-tests", false, "Print the tests of the best suite")

	return cmd
}

func loadSearchConfig(path string) (*config.SearchConfig, error) {
	if path != "" {
		return config.LoadSearchConfigFile(path)
	}
	dir, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return config.LoadSearchConfig(dir)
}

func runSearch(ctx context.Context, env *config.Config, cfg *config.SearchConfig, f runFlags, out io.Writer) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid search config: %w", err)
	}

	runID := uuid.New()
	m := metrics.Default()
	ml := m.NewListener(ctx)
	defer ml.Close()

	tracker := api.NewTracker()
	tl := tracker.Track(runID, cfg.Algorithm, cfg.Subject.Scope)

	run := &searchRun{
		cfg:       cfg,
		listeners: []ga.SearchListener{ml, tl},
		hooks:     []fitness.ExecutionHook{m.ExecutionHook()},
	}

	var store *db.RunStore
	if f.record && env.HasDatabase() {
		database, err := db.New(ctx, env.DatabaseURL)
		if err != nil {
			return err
		}
		defer database.Close()

		if err := database.Migrate(ctx); err != nil {
			return err
		}
		store = db.NewRunStore(database)

		cfgJSON, err := json.Marshal(cfg)
		if err != nil {
			return err
		}
		rec := &db.Run{
			ID:        runID,
			Algorithm: cfg.Algorithm,
			Scope:     cfg.Subject.Scope,
			Criteria:  cfg.Subject.Criteria,
			Seed:      cfg.Seed,
			Config:    cfgJSON,
		}
		if err := store.CreateRun(ctx, rec); err != nil {
			return err
		}
		log.Info().Str("run_id", runID.String()).Msg("recording run")
	}

	if f.serveAddr != "" {
		srv, err := api.NewServer(env, tracker)
		if err != nil {
			return err
		}
		httpServer := newHTTPServer(f.serveAddr, srv)
		go func() {
			if err := listen(httpServer); err != nil {
				log.Error().Err(err).Msg("progress server stopped")
			}
		}()
		defer shutdown(httpServer)
		log.Info().Str("addr", f.serveAddr).Str("run_id", runID.String()).Msg("serving run progress")
	}

	started := time.Now()
	outcome, runErr := run.execute(ctx)

	status := api.RunCompleted
	switch {
	case runErr != nil:
		status = api.RunFailed
		m.RecordRun(cfg.Algorithm, metrics.OutcomeFailed, time.Since(started))
	case outcome.Cancelled:
		status = api.RunCancelled
	}
	tl.Finish(status, runErr)

	if store != nil {
		// Record the outcome even when the run was interrupted.
		recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()

		result := db.Result{Status: db.StatusFailed, Err: runErr}
		if outcome != nil {
			result = db.ResultFromStatus(outcome.Status, runErr, outcome.Cancelled)
			if report, err := json.Marshal(outcome.Report); err == nil {
				result.Report = report
			}
		}
		if err := store.CompleteRun(recordCtx, runID, result); err != nil {
			log.Error().Err(err).Str("run_id", runID.String()).Msg("failed to record run")
		}
	}

	if runErr != nil {
		return runErr
	}

	return writeOutcome(cfg, outcome, f.printTests, out)
}

func writeOutcome(cfg *config.SearchConfig, outcome *searchOutcome, printTests bool, out io.Writer) error {
	report := outcome.Report

	if cfg.Report.Output != "" {
		if err := codecov.SaveReport(report, cfg.Report.Output); err != nil {
			return fmt.Errorf("failed to save report: %w", err)
		}
		log.Info().Str("path", cfg.Report.Output).Msg("report written")
	} else {
		format := codecov.ReportFormat(cfg.Report.Format)
		if format == "" {
			format = codecov.FormatText
		}
		if err := report.Write(out, format); err != nil {
			return err
		}
	}

	if printTests {
		for i, c := range outcome.Suite.Tests() {
			fmt.Fprintf(out, "\n// test %d\n%s", i+1, c.Test().String())
		}
	}

	if report.Percentage < cfg.Report.Threshold {
		log.Warn().
			Float64("coverage", report.Percentage).
			Float64("threshold", cfg.Report.Threshold).
			Msg("coverage below threshold")
	}

	return nil
}
