package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/QTest-hq/qsearch/internal/ga"
	"github.com/QTest-hq/qsearch/internal/goals"
	"github.com/QTest-hq/qsearch/internal/mutation"
)

// FileName is the search configuration file looked up in a directory.
const FileName = ".qsearch.yaml"

// Algorithms the search can run.
const (
	AlgorithmStandard  = "standard"
	AlgorithmMAPElites = "mapelites"
)

// SearchConfig represents a .qsearch.yaml file
type SearchConfig struct {
	Version string `yaml:"version"`

	// Algorithm is "standard" or "mapelites"
	Algorithm string `yaml:"algorithm"`

	// Seed for the random source; 0 picks one from the clock
	Seed int64 `yaml:"seed,omitempty"`

	// What to search tests for
	Subject SubjectConfig `yaml:"subject"`

	GA       ga.Config       `yaml:"ga"`
	Mutation mutation.Config `yaml:"mutation"`
	Limits   ga.Limits       `yaml:"limits"`

	// Report settings
	Report ReportConfig `yaml:"report,omitempty"`
}

// SubjectConfig selects the goals of a run
type SubjectConfig struct {
	// Class to target, or "*" for all
	Scope string `yaml:"scope"`

	// Coverage criteria: branch, method, line
	Criteria []string `yaml:"criteria"`

	// Step budget per statement before it times out
	StepBudget int `yaml:"step_budget,omitempty"`
}

// ReportConfig holds coverage report settings
type ReportConfig struct {
	// Output format: text or json
	Format string `yaml:"format,omitempty"`

	// File to write the report to; empty writes to stdout
	Output string `yaml:"output,omitempty"`

	// Minimum coverage threshold (0-100)
	Threshold float64 `yaml:"threshold,omitempty"`
}

// DefaultSearchConfig returns sensible defaults
func DefaultSearchConfig() *SearchConfig {
	return &SearchConfig{
		Version:   "1.0",
		Algorithm: AlgorithmMAPElites,
		Subject: SubjectConfig{
			Scope:      "*",
			Criteria:   []string{string(goals.CriterionBranch)},
			StepBudget: 10000,
		},
		GA:       ga.DefaultConfig(),
		Mutation: mutation.DefaultConfig(),
		Limits: ga.Limits{
			MaxTime:        time.Minute,
			TargetCoverage: 100,
		},
		Report: ReportConfig{
			Format:    "text",
			Threshold: 80.0,
		},
	}
}

// LoadSearchConfig loads a .qsearch.yaml from the given directory, falling
// back to the defaults when there is none
func LoadSearchConfig(dir string) (*SearchConfig, error) {
	configPath := filepath.Join(dir, FileName)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		configPath = filepath.Join(dir, ".qsearch.yml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return DefaultSearchConfig(), nil
		}
	}

	return LoadSearchConfigFile(configPath)
}

// LoadSearchConfigFile loads a search config from an explicit path
func LoadSearchConfigFile(path string) (*SearchConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultSearchConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return cfg, nil
}

// SaveSearchConfig saves the config to .qsearch.yaml
func SaveSearchConfig(dir string, cfg *SearchConfig) error {
	configPath := filepath.Join(dir, FileName)

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0644)
}

// Merge applies overrides from another config (e.g., CLI flags)
func (c *SearchConfig) Merge(other *SearchConfig) {
	if other == nil {
		return
	}

	if other.Algorithm != "" {
		c.Algorithm = other.Algorithm
	}

	if other.Seed != 0 {
		c.Seed = other.Seed
	}

	if other.Subject.Scope != "" {
		c.Subject.Scope = other.Subject.Scope
	}

	if len(other.Subject.Criteria) > 0 {
		c.Subject.Criteria = other.Subject.Criteria
	}

	if other.Subject.StepBudget != 0 {
		c.Subject.StepBudget = other.Subject.StepBudget
	}

	if other.GA.PopulationSize != 0 {
		c.GA.PopulationSize = other.GA.PopulationSize
	}

	if other.GA.FeedbackDirected {
		c.GA.FeedbackDirected = true
	}

	if other.Limits.MaxTime != 0 {
		c.Limits.MaxTime = other.Limits.MaxTime
	}

	if other.Limits.MaxTests != 0 {
		c.Limits.MaxTests = other.Limits.MaxTests
	}

	if other.Limits.MaxIterations != 0 {
		c.Limits.MaxIterations = other.Limits.MaxIterations
	}

	if other.Limits.MaxEvaluations != 0 {
		c.Limits.MaxEvaluations = other.Limits.MaxEvaluations
	}

	if other.Limits.TargetCoverage != 0 {
		c.Limits.TargetCoverage = other.Limits.TargetCoverage
	}

	if other.Report.Format != "" {
		c.Report.Format = other.Report.Format
	}

	if other.Report.Output != "" {
		c.Report.Output = other.Report.Output
	}

	if other.Report.Threshold != 0 {
		c.Report.Threshold = other.Report.Threshold
	}
}

// Criteria returns the configured coverage criteria
func (c *SearchConfig) Criteria() []goals.Criterion {
	out := make([]goals.Criterion, len(c.Subject.Criteria))
	for i, s := range c.Subject.Criteria {
		out[i] = goals.Criterion(s)
	}
	return out
}

// Validate checks that the config describes a runnable search
func (c *SearchConfig) Validate() error {
	var errs []error

	switch c.Algorithm {
	case AlgorithmStandard, AlgorithmMAPElites:
	default:
		errs = append(errs, fmt.Errorf("unknown algorithm %q", c.Algorithm))
	}

	if len(c.Subject.Criteria) == 0 {
		errs = append(errs, errors.New("at least one criterion is required"))
	}
	for _, cr := range c.Criteria() {
		switch cr {
		case goals.CriterionBranch, goals.CriterionMethod, goals.CriterionLine:
		default:
			errs = append(errs, fmt.Errorf("unknown criterion %q", cr))
		}
	}

	if err := c.GA.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("ga: %w", err))
	}
	if err := c.Mutation.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("mutation: %w", err))
	}

	if len(c.Limits.Conditions()) == 0 {
		errs = append(errs, errors.New("limits: at least one stopping condition is required"))
	}
	if c.Limits.TargetCoverage < 0 || c.Limits.TargetCoverage > 100 {
		errs = append(errs, errors.New("limits: target_coverage must be in [0, 100]"))
	}

	switch c.Report.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("report: unknown format %q", c.Report.Format))
	}

	return errors.Join(errs...)
}
