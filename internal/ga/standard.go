package ga

import (
	"context"
	"math/rand"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/QTest-hq/qsearch/internal/fitness"
	"github.com/QTest-hq/qsearch/internal/testcase"
)

type scoredSuite struct {
	suite *testcase.Suite
	eval  fitness.Evaluation
}

// better orders suites by fitness, then by total length.
func better(a, b scoredSuite) bool {
	if a.eval.Fitness != b.eval.Fitness {
		return a.eval.Fitness < b.eval.Fitness
	}
	return a.suite.TotalStatements() < b.suite.TotalStatements()
}

// StandardGA evolves a population of suites under one suite fitness
// function, with tournament selection, single-point crossover and elitism.
type StandardGA struct {
	search
	cfg        Config
	fitness    *fitness.SuiteFitness
	factory    TestFactory
	mutator    Mutator
	rng        *rand.Rand
	population []scoredSuite
	best       *scoredSuite
}

// NewStandardGA creates the driver. runner must be the runner fit uses.
func NewStandardGA(cfg Config, fit *fitness.SuiteFitness, runner *fitness.Runner, factory TestFactory, mutator Mutator, rng *rand.Rand) *StandardGA {
	g := &StandardGA{
		search:  newSearch("standard", runner),
		cfg:     cfg,
		fitness: fit,
		factory: factory,
		mutator: mutator,
		rng:     rng,
	}
	g.wire()
	return g
}

func (g *StandardGA) Generate(ctx context.Context) error {
	if g.state != NotStarted {
		return ErrAlreadyRun
	}
	g.state = Initializing
	log.Info().
		Str("algorithm", g.name).
		Int("goals", len(g.fitness.Goals())).
		Int("population", g.cfg.PopulationSize).
		Msg("search started")
	g.fireStarted(g.Status())

	for i := 0; i < g.cfg.PopulationSize; i++ {
		sc, err := g.evaluate(ctx, g.randomSuite())
		if err != nil {
			if g.interrupted(ctx, err) {
				break
			}
			return err
		}
		g.population = append(g.population, sc)
	}

	g.state = Evolving
	for !g.shouldStop(ctx) {
		if g.best != nil && g.best.eval.Complete() {
			log.Info().Str("algorithm", g.name).Msg("all goals covered")
			break
		}
		if err := g.evolve(ctx); err != nil {
			if g.interrupted(ctx, err) {
				continue
			}
			return err
		}
		g.iteration++
		st := g.Status()
		g.fireIteration(st)
		if g.cfg.LogEvery > 0 && g.iteration%g.cfg.LogEvery == 0 {
			log.Debug().
				Int("iteration", g.iteration).
				Float64("fitness", st.Fitness).
				Float64("coverage", st.Coverage).
				Msg("search progress")
		}
	}

	g.state = Done
	g.fireFinished(g.Status())
	return nil
}

// Population returns the current suites, fittest first.
func (g *StandardGA) Population() []*testcase.Suite {
	sorted := append([]scoredSuite(nil), g.population...)
	sort.SliceStable(sorted, func(i, j int) bool { return better(sorted[i], sorted[j]) })
	out := make([]*testcase.Suite, len(sorted))
	for i, sc := range sorted {
		out[i] = sc.suite
	}
	return out
}

// BestIndividual returns a copy of the fittest suite evaluated so far.
func (g *StandardGA) BestIndividual() *testcase.Suite {
	if g.best == nil {
		return testcase.NewSuite()
	}
	return g.best.suite.Clone()
}

func (g *StandardGA) Status() Status {
	st := g.status()
	st.Total = len(g.fitness.Goals())
	if g.best == nil {
		st.Fitness = float64(st.Total)
		if st.Total == 0 {
			st.Coverage = 1
		}
		return st
	}
	st.Fitness = g.best.eval.Fitness
	st.Coverage = g.best.eval.Coverage
	st.Covered = g.best.eval.Covered
	return st
}

func (g *StandardGA) randomSuite() *testcase.Suite {
	s := testcase.NewSuite()
	n := 1 + g.rng.Intn(g.cfg.InitialTests)
	for i := 0; i < n; i++ {
		s.AddTest(g.factory.NewTest())
	}
	return s
}

func (g *StandardGA) evaluate(ctx context.Context, s *testcase.Suite) (scoredSuite, error) {
	eval, err := g.fitness.Evaluate(ctx, s)
	if err != nil {
		return scoredSuite{}, err
	}
	sc := scoredSuite{suite: s, eval: eval}
	if g.best == nil || better(sc, *g.best) {
		g.best = &sc
	}
	g.fireEvaluated(g.Status())
	return sc, nil
}

// evolve replaces the population with its elites plus offspring.
func (g *StandardGA) evolve(ctx context.Context) error {
	sort.SliceStable(g.population, func(i, j int) bool { return better(g.population[i], g.population[j]) })

	next := make([]scoredSuite, 0, g.cfg.PopulationSize)
	for i := 0; i < g.cfg.Elitism && i < len(g.population); i++ {
		next = append(next, g.population[i])
	}
	for len(next) < g.cfg.PopulationSize {
		o1 := g.tournament().suite.Clone()
		o2 := g.tournament().suite.Clone()
		if g.rng.Float64() < g.cfg.CrossoverRate {
			o1, o2 = Crossover(o1, o2, g.rng)
		}
		for _, o := range []*testcase.Suite{o1, o2} {
			if len(next) == g.cfg.PopulationSize {
				break
			}
			g.mutateSuite(o)
			sc, err := g.evaluate(ctx, o)
			if err != nil {
				return err
			}
			next = append(next, sc)
		}
	}
	g.population = next
	return nil
}

// tournament returns the best of TournamentSize uniformly drawn suites.
func (g *StandardGA) tournament() scoredSuite {
	best := g.population[g.rng.Intn(len(g.population))]
	for i := 1; i < g.cfg.TournamentSize; i++ {
		c := g.population[g.rng.Intn(len(g.population))]
		if better(c, best) {
			best = c
		}
	}
	return best
}

// mutateSuite mutates each test with probability 1/size, then adds fresh
// tests with geometrically decreasing probability.
func (g *StandardGA) mutateSuite(s *testcase.Suite) {
	tests := s.Tests()
	for _, t := range tests {
		if g.rng.Float64() < 1/float64(len(tests)) {
			g.mutator.Mutate(t)
		}
	}
	prob := g.cfg.TestInsertionRate
	for g.rng.Float64() < prob && (g.cfg.MaxSuiteSize <= 0 || s.Size() < g.cfg.MaxSuiteSize) {
		s.AddTest(g.factory.NewTest())
		prob *= g.cfg.TestInsertionRate
	}
	s.RemoveEmptyTests()
}

// Crossover cuts both suites at the same relative point and swaps the
// tails. The parents' tests are moved, not copied, into the offspring.
func Crossover(a, b *testcase.Suite, rng *rand.Rand) (*testcase.Suite, *testcase.Suite) {
	ta, tb := a.Tests(), b.Tests()
	p := rng.Float64()
	ca := int(p * float64(len(ta)))
	cb := int(p * float64(len(tb)))

	o1 := testcase.NewSuite(ta[:ca]...)
	for _, t := range tb[cb:] {
		o1.AddTest(t)
	}
	o2 := testcase.NewSuite(tb[:cb]...)
	for _, t := range ta[ca:] {
		o2.AddTest(t)
	}
	return o1, o2
}
