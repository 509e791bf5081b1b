package fitness

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/QTest-hq/qsearch/internal/goals"
	"github.com/QTest-hq/qsearch/internal/testcase"
	"github.com/QTest-hq/qsearch/pkg/distance"
)

// GoalFitness scores single tests against one coverage goal. Lower is
// better; 0 means covered.
type GoalFitness struct {
	goal   goals.Goal
	runner *Runner
}

// NewGoalFitness creates the fitness function of one goal.
func NewGoalFitness(goal goals.Goal, runner *Runner) *GoalFitness {
	return &GoalFitness{goal: goal, runner: runner}
}

func (f *GoalFitness) Goal() goals.Goal {
	return f.goal
}

// Name identifies the fitness value on chromosomes.
func (f *GoalFitness) Name() string {
	return f.goal.String()
}

// Evaluate runs c if needed and returns the goal's control-flow distance.
// The scalar fitness is recorded on c, and c is marked if it covers the
// goal.
func (f *GoalFitness) Evaluate(ctx context.Context, c *testcase.TestChromosome) (distance.ControlFlowDistance, error) {
	result, err := f.runner.Run(ctx, c)
	if err != nil {
		return distance.ControlFlowDistance{}, err
	}
	d := f.goal.Distance(result.Trace)
	c.SetFitness(f.Name(), d.Fitness())
	if d.IsCovered() {
		c.MarkCovered(f.goal.Key())
	}
	return d, nil
}

// GoalScore is the outcome of one goal in a suite evaluation.
type GoalScore struct {
	Goal goals.Goal

	// Contribution is the goal's share of the suite fitness.
	Contribution float64

	// Count is the highest number of times any single test reached the goal.
	Count int

	Covered bool
}

// Evaluation is the result of scoring a suite.
type Evaluation struct {
	Fitness  float64
	Coverage float64
	Covered  int
	Total    int
	Scores   []GoalScore
}

// Complete reports whether every goal was covered.
func (e Evaluation) Complete() bool {
	return e.Covered == e.Total
}

// Distances returns the per-goal contributions keyed by goal identity.
func (e Evaluation) Distances() map[goals.Key]float64 {
	out := make(map[goals.Key]float64, len(e.Scores))
	for _, s := range e.Scores {
		out[s.Goal.Key()] = s.Contribution
	}
	return out
}

// Uncovered returns the goals that were not covered, in identity order.
func (e Evaluation) Uncovered() []GoalScore {
	var out []GoalScore
	for _, s := range e.Scores {
		if !s.Covered {
			out = append(out, s)
		}
	}
	return out
}

// SuiteFitness scores a whole suite against a fixed goal set.
type SuiteFitness struct {
	name   string
	goals  []goals.Goal
	runner *Runner
}

// NewSuiteFitness creates a suite fitness function over gs. The name keys
// the fitness and coverage values recorded on suites.
func NewSuiteFitness(name string, gs []goals.Goal, runner *Runner) *SuiteFitness {
	return &SuiteFitness{
		name:   name,
		goals:  append([]goals.Goal(nil), gs...),
		runner: runner,
	}
}

func (f *SuiteFitness) Name() string {
	return f.name
}

func (f *SuiteFitness) Goals() []goals.Goal {
	return append([]goals.Goal(nil), f.goals...)
}

// Evaluate executes every test of s once and sums, per goal: 0 if some test
// reached it with distance 0, the smallest normalized distance if it was
// reached but not satisfied, 1 if no test reached it at all. Coverage is
// the covered share of goals, 1 when there are none.
func (f *SuiteFitness) Evaluate(ctx context.Context, s *testcase.Suite) (Evaluation, error) {
	tests := s.Tests()
	for _, c := range tests {
		if _, err := f.runner.Run(ctx, c); err != nil {
			return Evaluation{}, fmt.Errorf("evaluate suite %s: %w", s.ID(), err)
		}
	}

	eval := Evaluation{
		Total:  len(f.goals),
		Scores: make([]GoalScore, 0, len(f.goals)),
	}
	for _, g := range f.goals {
		minDist := 1.0
		maxCount := 0
		for _, c := range tests {
			count, raw := g.Observe(c.LastResult().Trace)
			if count == 0 {
				continue
			}
			if count > maxCount {
				maxCount = count
			}
			d := distance.Normalize(raw)
			if d < minDist {
				minDist = d
			}
			if raw == 0 {
				c.MarkCovered(g.Key())
			}
		}

		score := GoalScore{Goal: g, Count: maxCount}
		switch {
		case maxCount == 0:
			score.Contribution = 1
		case minDist == 0:
			score.Covered = true
			eval.Covered++
		default:
			score.Contribution = minDist
		}
		eval.Fitness += score.Contribution
		eval.Scores = append(eval.Scores, score)
	}

	eval.Coverage = 1
	if eval.Total > 0 {
		eval.Coverage = float64(eval.Covered) / float64(eval.Total)
	}
	s.SetFitness(f.name, eval.Fitness)
	s.SetCoverage(f.name, eval.Coverage, eval.Covered)

	log.Debug().
		Str("suite", s.ID().String()).
		Str("fitness_function", f.name).
		Float64("fitness", eval.Fitness).
		Float64("coverage", eval.Coverage).
		Msg("suite evaluated")
	return eval, nil
}
