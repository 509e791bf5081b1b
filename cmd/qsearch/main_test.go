package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/QTest-hq/qsearch/internal/codecov"
	"github.com/QTest-hq/qsearch/internal/config"
	"github.com/QTest-hq/qsearch/internal/goals"
	"github.com/QTest-hq/qsearch/internal/sandbox"
)

func classifierConfig(algorithm string) *config.SearchConfig {
	cfg := config.DefaultSearchConfig()
	cfg.Algorithm = algorithm
	cfg.Seed = 11
	cfg.Subject.Scope = sandbox.Classifier
	cfg.Limits.MaxTime = 0
	cfg.Limits.MaxIterations = 50
	return cfg
}

func classifierGoals(t *testing.T) int {
	t.Helper()
	reg, err := sandbox.New().Goals(context.Background(), sandbox.Classifier, goals.CriterionBranch)
	require.NoError(t, err)
	return reg.Len()
}

func TestSearchRun_Execute(t *testing.T) {
	for _, algorithm := range []string{config.AlgorithmStandard, config.AlgorithmMAPElites} {
		t.Run(algorithm, func(t *testing.T) {
			run := &searchRun{cfg: classifierConfig(algorithm)}

			out, err := run.execute(context.Background())
			require.NoError(t, err)

			assert.Equal(t, int64(11), out.Seed)
			assert.False(t, out.Cancelled)
			assert.LessOrEqual(t, out.Status.Iteration, 50)
			assert.Equal(t, classifierGoals(t), out.Report.TotalGoals)
			assert.Equal(t, out.Report.TotalGoals-out.Report.CoveredGoals, len(out.Report.Uncovered))
			assert.NotNil(t, out.Suite)
		})
	}
}

func TestSearchRun_InvalidConfig(t *testing.T) {
	cfg := classifierConfig(config.AlgorithmStandard)
	cfg.Algorithm = "hill-climbing"

	_, err := (&searchRun{cfg: cfg}).execute(context.Background())
	assert.ErrorContains(t, err, "invalid search config")
}

func TestSearchRun_UnknownScope(t *testing.T) {
	cfg := classifierConfig(config.AlgorithmMAPElites)
	cfg.Subject.Scope = "Ledger"

	_, err := (&searchRun{cfg: cfg}).execute(context.Background())
	assert.ErrorContains(t, err, "failed to build goals")
}

func TestRunSearch_WritesReport(t *testing.T) {
	cfg := classifierConfig(config.AlgorithmMAPElites)
	env := &config.Config{Port: 8080, Env: "test", LogLevel: "info"}

	var out bytes.Buffer
	err := runSearch(context.Background(), env, cfg, runFlags{printTests: true}, &out)
	require.NoError(t, err)

	assert.Contains(t, out.String(), "Coverage:")
	assert.Contains(t, out.String(), "branch")
}

func TestRunSearch_SavesReportFile(t *testing.T) {
	cfg := classifierConfig(config.AlgorithmStandard)
	cfg.Report.Output = filepath.Join(t.TempDir(), "coverage.json")
	env := &config.Config{Port: 8080, Env: "test", LogLevel: "info"}

	var out bytes.Buffer
	require.NoError(t, runSearch(context.Background(), env, cfg, runFlags{}, &out))
	assert.Empty(t, out.String())

	report, err := codecov.LoadReport(cfg.Report.Output)
	require.NoError(t, err)
	assert.Equal(t, classifierGoals(t), report.TotalGoals)
}

func TestPrintGoals(t *testing.T) {
	reg, err := sandbox.New().Goals(context.Background(), "*", goals.CriterionBranch)
	require.NoError(t, err)

	var all bytes.Buffer
	require.NoError(t, printGoals(&all, reg, false))
	assert.True(t, strings.HasPrefix(all.String(), "KIND"))
	assert.Contains(t, all.String(), "37 goals (16 context-sensitive)")

	var ctxOnly bytes.Buffer
	require.NoError(t, printGoals(&ctxOnly, reg, true))
	assert.Contains(t, ctxOnly.String(), "16 goals (16 context-sensitive)")
}

func TestInitConfigCmd(t *testing.T) {
	dir := t.TempDir()

	cmd := rootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"init-config", "--dir", dir})
	require.NoError(t, cmd.Execute())

	_, err := os.Stat(filepath.Join(dir, config.FileName))
	require.NoError(t, err)

	loaded, err := config.LoadSearchConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, config.AlgorithmMAPElites, loaded.Algorithm)

	cmd = rootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"init-config", "--dir", dir})
	assert.Error(t, cmd.Execute())
}

func TestLoadSearchConfig_ExplicitPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "search.yaml")
	require.NoError(t, os.WriteFile(path, []byte("algorithm: standard\n"), 0644))

	cfg, err := loadSearchConfig(path)
	require.NoError(t, err)
	assert.Equal(t, config.AlgorithmStandard, cfg.Algorithm)

	_, err = loadSearchConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
