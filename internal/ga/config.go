package ga

import "errors"

// ErrAlreadyRun is returned when Generate is called twice on one driver.
var ErrAlreadyRun = errors.New("search already ran")

// Config tunes the drivers. Fields not used by a driver are ignored.
type Config struct {
	PopulationSize int     `yaml:"population_size"`
	Elitism        int     `yaml:"elitism"`
	TournamentSize int     `yaml:"tournament_size"`
	CrossoverRate  float64 `yaml:"crossover_rate"`

	// InitialTests bounds the tests per initial suite, or is the number of
	// random tests seeding a MAP-Elites archive.
	InitialTests int `yaml:"initial_tests"`

	MaxSuiteSize int `yaml:"max_suite_size"`

	// TestInsertionRate is the chance of adding a fresh test to a mutated
	// suite; each further test is added with the rate's next power.
	TestInsertionRate float64 `yaml:"test_insertion_rate"`

	// FeedbackDirected makes MAP-Elites perturb the least explored goal
	// each iteration instead of drawing goals with probability 1/n.
	FeedbackDirected bool `yaml:"feedback_directed"`

	// LogEvery logs progress every n iterations; 0 disables it.
	LogEvery int `yaml:"log_every"`
}

// DefaultConfig returns the default driver settings.
func DefaultConfig() Config {
	return Config{
		PopulationSize:    20,
		Elitism:           1,
		TournamentSize:    3,
		CrossoverRate:     0.75,
		InitialTests:      5,
		MaxSuiteSize:      50,
		TestInsertionRate: 0.1,
		LogEvery:          100,
	}
}

// Validate checks the settings.
func (c Config) Validate() error {
	var errs []error
	if c.PopulationSize < 2 {
		errs = append(errs, errors.New("population_size must be at least 2"))
	}
	if c.Elitism < 0 || c.Elitism >= c.PopulationSize {
		errs = append(errs, errors.New("elitism must be in [0, population_size)"))
	}
	if c.TournamentSize < 1 {
		errs = append(errs, errors.New("tournament_size must be positive"))
	}
	if c.CrossoverRate < 0 || c.CrossoverRate > 1 {
		errs = append(errs, errors.New("crossover_rate must be in [0, 1]"))
	}
	if c.InitialTests < 1 {
		errs = append(errs, errors.New("initial_tests must be positive"))
	}
	if c.TestInsertionRate < 0 || c.TestInsertionRate >= 1 {
		errs = append(errs, errors.New("test_insertion_rate must be in [0, 1)"))
	}
	return errors.Join(errs...)
}
