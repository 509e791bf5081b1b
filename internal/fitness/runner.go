// Package fitness turns execution traces into the scalar fitness values the
// search drivers minimize.
package fitness

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/QTest-hq/qsearch/internal/testcase"
	"github.com/QTest-hq/qsearch/internal/trace"
)

// Executor runs a test against instrumented code. Crashes and timeouts of
// the test itself are reported in the result; a returned error means the
// executor could not run the test at all.
type Executor interface {
	Execute(ctx context.Context, tc *testcase.TestCase) (*trace.ExecutionResult, error)
}

// ExecutionHook is called after every real (non-memoized) execution.
type ExecutionHook func(c *testcase.TestChromosome, result *trace.ExecutionResult)

// Runner executes chromosomes and memoizes the result on them until they
// change.
type Runner struct {
	executor   Executor
	hooks      []ExecutionHook
	executions int
	cacheHits  int
}

// NewRunner creates a runner backed by executor.
func NewRunner(executor Executor) *Runner {
	return &Runner{executor: executor}
}

// OnExecuted registers a hook fired after each real execution.
func (r *Runner) OnExecuted(hook ExecutionHook) {
	r.hooks = append(r.hooks, hook)
}

// Executions returns how many tests were actually executed.
func (r *Runner) Executions() int {
	return r.executions
}

// CacheHits returns how many runs were served from a memoized result.
func (r *Runner) CacheHits() int {
	return r.cacheHits
}

// Run returns the execution result of c, executing it only if it changed
// since its last run. A timeout reported at the final statement truncates
// the test at that position.
func (r *Runner) Run(ctx context.Context, c *testcase.TestChromosome) (*trace.ExecutionResult, error) {
	if !c.IsChanged() {
		r.cacheHits++
		return c.LastResult(), nil
	}

	result, err := r.executor.Execute(ctx, c.Test())
	if err != nil {
		return nil, fmt.Errorf("execute test %s: %w", c.ID(), err)
	}
	r.executions++

	if result.HasTimeout() && result.TimeoutPosition == c.Size()-1 {
		log.Debug().
			Str("test", c.ID().String()).
			Int("position", result.TimeoutPosition).
			Msg("test timed out at final statement, truncating")
		c.Test().Chop(result.TimeoutPosition)
	}

	c.SetLastResult(result)
	for _, hook := range r.hooks {
		hook(c, result)
	}
	return result, nil
}
