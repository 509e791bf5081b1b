// Package ga drives the evolutionary search: a conventional suite-level
// genetic algorithm and a MAP-Elites variant sharing one stopping contract.
package ga

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/QTest-hq/qsearch/internal/fitness"
	"github.com/QTest-hq/qsearch/internal/testcase"
	"github.com/QTest-hq/qsearch/internal/trace"
)

// Status is a snapshot of a running search.
type Status struct {
	Algorithm   string        `json:"algorithm"`
	State       State         `json:"state"`
	Iteration   int           `json:"iteration"`
	Fitness     float64       `json:"fitness"`
	Coverage    float64       `json:"coverage"`
	Covered     int           `json:"covered"`
	Total       int           `json:"total"`
	Executions  int           `json:"executions"`
	Evaluations int           `json:"evaluations"`
	Elapsed     time.Duration `json:"elapsed"`
	Progress    []Progress    `json:"progress"`
}

// Algorithm is a search driver.
type Algorithm interface {
	Name() string

	// Generate runs the search until a stopping condition is met or ctx is
	// done.
	Generate(ctx context.Context) error

	// BestIndividual returns the best suite found so far.
	BestIndividual() *testcase.Suite

	Status() Status
	AddStoppingCondition(c StoppingCondition)
	AddListener(l SearchListener)
}

// SearchListener observes a search.
type SearchListener interface {
	SearchStarted(s Status)
	IterationDone(s Status)
	SearchFinished(s Status)
}

// TestFactory creates random tests.
type TestFactory interface {
	NewTest() *testcase.TestChromosome
}

// Mutator edits a test in place and reports whether it changed.
type Mutator interface {
	Mutate(c *testcase.TestChromosome) bool
}

// search holds the state shared by all drivers.
type search struct {
	name        string
	runner      *fitness.Runner
	conditions  StoppingConditions
	listeners   []SearchListener
	state       State
	iteration   int
	evaluations int
	started     time.Time
}

func newSearch(name string, runner *fitness.Runner) search {
	return search{name: name, runner: runner}
}

// wire connects the runner's execution hook to the stopping conditions. It
// must be called on the final (heap) search value.
func (s *search) wire() {
	s.runner.OnExecuted(func(*testcase.TestChromosome, *trace.ExecutionResult) {
		s.conditions.testExecuted()
	})
}

func (s *search) Name() string {
	return s.name
}

func (s *search) AddStoppingCondition(c StoppingCondition) {
	s.conditions = append(s.conditions, c)
}

func (s *search) AddListener(l SearchListener) {
	s.listeners = append(s.listeners, l)
}

// status fills the driver independent fields of a snapshot.
func (s *search) status() Status {
	st := Status{
		Algorithm:   s.name,
		State:       s.state,
		Iteration:   s.iteration,
		Executions:  s.runner.Executions(),
		Evaluations: s.evaluations,
		Progress:    s.conditions.Progress(),
	}
	if !s.started.IsZero() {
		st.Elapsed = time.Since(s.started)
	}
	return st
}

// shouldStop reports whether the search must end at this iteration
// boundary.
func (s *search) shouldStop(ctx context.Context) bool {
	if err := ctx.Err(); err != nil {
		log.Info().Err(err).Str("algorithm", s.name).Msg("search cancelled")
		return true
	}
	if s.conditions.IsFinished() {
		log.Info().
			Str("algorithm", s.name).
			Strs("conditions", s.conditions.Finished()).
			Msg("stopping condition reached")
		return true
	}
	return false
}

// interrupted reports whether err only reflects ctx being done. The search
// then ends at the next boundary check like any other stop.
func (s *search) interrupted(ctx context.Context, err error) bool {
	ctxErr := ctx.Err()
	return ctxErr != nil && errors.Is(err, ctxErr)
}

func (s *search) fireStarted(st Status) {
	s.started = time.Now()
	s.conditions.searchStarted(st)
	for _, l := range s.listeners {
		l.SearchStarted(st)
	}
}

func (s *search) fireIteration(st Status) {
	s.conditions.iteration(st)
	for _, l := range s.listeners {
		l.IterationDone(st)
	}
}

func (s *search) fireEvaluated(st Status) {
	s.evaluations++
	st.Evaluations = s.evaluations
	s.conditions.fitnessEvaluated(st)
}

func (s *search) fireFinished(st Status) {
	for _, l := range s.listeners {
		l.SearchFinished(st)
	}
	log.Info().
		Str("algorithm", s.name).
		Int("iterations", st.Iteration).
		Int("executions", st.Executions).
		Float64("coverage", st.Coverage).
		Float64("fitness", st.Fitness).
		Dur("elapsed", st.Elapsed).
		Msg("search finished")
}
