package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/QTest-hq/qsearch/internal/codecov"
	"github.com/QTest-hq/qsearch/internal/config"
	"github.com/QTest-hq/qsearch/internal/fitness"
	"github.com/QTest-hq/qsearch/internal/ga"
	"github.com/QTest-hq/qsearch/internal/mutation"
	"github.com/QTest-hq/qsearch/internal/sandbox"
	"github.com/QTest-hq/qsearch/internal/testcase"
)

// initialTestLength bounds the statements of a freshly sampled test.
const initialTestLength = 10

// driver is a search algorithm that accepts stopping conditions.
type driver interface {
	ga.Algorithm
	AddStoppingCondition(c ga.StoppingCondition)
}

// searchRun wires one search over the sandbox subject.
type searchRun struct {
	cfg       *config.SearchConfig
	listeners []ga.SearchListener
	hooks     []fitness.ExecutionHook
}

// searchOutcome is what a finished search produced.
type searchOutcome struct {
	Seed      int64
	Status    ga.Status
	Suite     *testcase.Suite
	Report    *codecov.CoverageReport
	Cancelled bool
}

func (r *searchRun) execute(ctx context.Context) (*searchOutcome, error) {
	cfg := r.cfg
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid search config: %w", err)
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	subject := sandbox.New(sandbox.WithStepBudget(cfg.Subject.StepBudget))
	reg, err := subject.Goals(ctx, cfg.Subject.Scope, cfg.Criteria()...)
	if err != nil {
		return nil, fmt.Errorf("failed to build goals: %w", err)
	}
	if reg.Len() == 0 {
		return nil, fmt.Errorf("no goals for scope %q", cfg.Subject.Scope)
	}

	runner := fitness.NewRunner(subject)
	for _, hook := range r.hooks {
		runner.OnExecuted(hook)
	}

	criterion := strings.Join(cfg.Subject.Criteria, "+")
	fit := fitness.NewSuiteFitness(criterion, reg.Goals(), runner)
	factory := mutation.NewRandomFactory(subject, subject.Types(), rng, min(initialTestLength, cfg.Mutation.MaxLength))
	mutator := mutation.NewTestMutator(cfg.Mutation, subject, subject, subject.Types(), rng)

	var d driver
	switch cfg.Algorithm {
	case config.AlgorithmStandard:
		d = ga.NewStandardGA(cfg.GA, fit, runner, factory, mutator, rng)
	default:
		d = ga.NewMAPElites(cfg.GA, reg.Goals(), runner, factory, mutator, rng)
	}
	for _, c := range cfg.Limits.Conditions() {
		d.AddStoppingCondition(c)
	}
	for _, l := range r.listeners {
		d.AddListener(l)
	}

	log.Info().
		Str("algorithm", d.Name()).
		Str("scope", cfg.Subject.Scope).
		Str("criteria", criterion).
		Int64("seed", seed).
		Int("goals", reg.Len()).
		Int("context_sensitive", len(reg.ContextSensitive())).
		Msg("starting search")

	if err := d.Generate(ctx); err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	suite := d.BestIndividual()
	if suite == nil {
		suite = testcase.NewSuite()
	}

	// The report is computed even for a cancelled search.
	eval, err := fit.Evaluate(context.WithoutCancel(ctx), suite)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate best suite: %w", err)
	}

	out := &searchOutcome{
		Seed:      seed,
		Status:    d.Status(),
		Suite:     suite,
		Report:    codecov.Build(criterion, suite, eval),
		Cancelled: errors.Is(ctx.Err(), context.Canceled) || errors.Is(ctx.Err(), context.DeadlineExceeded),
	}

	log.Info().
		Str("algorithm", d.Name()).
		Int("iterations", out.Status.Iteration).
		Int("executions", runner.Executions()).
		Int("cache_hits", runner.CacheHits()).
		Int("covered", eval.Covered).
		Int("total", eval.Total).
		Float64("fitness", eval.Fitness).
		Msg("search finished")

	return out, nil
}
