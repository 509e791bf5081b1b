package ga

import (
	"context"
	"math/rand"

	"github.com/rs/zerolog/log"

	"github.com/QTest-hq/qsearch/internal/archive"
	"github.com/QTest-hq/qsearch/internal/fitness"
	"github.com/QTest-hq/qsearch/internal/goals"
	"github.com/QTest-hq/qsearch/internal/testcase"
)

// MAPElites keeps one elite test per goal and behavioral niche. Each
// iteration perturbs about one goal's niches and scores the offspring
// against every unsolved goal.
type MAPElites struct {
	search
	cfg     Config
	goals   []goals.Goal
	fitness map[goals.Key]*fitness.GoalFitness
	archive *archive.Archive
	factory TestFactory
	mutator Mutator
	rng     *rand.Rand
}

// NewMAPElites creates the driver over a goal set.
func NewMAPElites(cfg Config, gs []goals.Goal, runner *fitness.Runner, factory TestFactory, mutator Mutator, rng *rand.Rand) *MAPElites {
	m := &MAPElites{
		search:  newSearch("mapelites", runner),
		cfg:     cfg,
		goals:   append([]goals.Goal(nil), gs...),
		factory: factory,
		mutator: mutator,
		rng:     rng,
	}
	m.wire()
	return m
}

// Archive returns the niche archive, or nil before Generate.
func (m *MAPElites) Archive() *archive.Archive {
	return m.archive
}

func (m *MAPElites) State() State {
	return m.state
}

func (m *MAPElites) Generate(ctx context.Context) error {
	if m.state != NotStarted {
		return ErrAlreadyRun
	}

	m.state = Initializing
	m.archive = archive.New(m.goals)
	m.fitness = make(map[goals.Key]*fitness.GoalFitness, len(m.goals))
	for _, g := range m.goals {
		m.fitness[g.Key()] = fitness.NewGoalFitness(g, m.runner)
	}
	log.Info().
		Str("algorithm", m.name).
		Int("goals", len(m.goals)).
		Bool("feedback_directed", m.cfg.FeedbackDirected).
		Msg("search started")
	m.fireStarted(m.Status())

	for i := 0; i < m.cfg.InitialTests; i++ {
		if err := m.analyze(ctx, m.factory.NewTest()); err != nil {
			if m.interrupted(ctx, err) {
				break
			}
			return err
		}
	}

	m.state = Evolving
	for !m.shouldStop(ctx) {
		if m.archive.NumActive() == 0 {
			log.Info().Str("algorithm", m.name).Msg("all goals covered")
			break
		}
		if err := m.iterate(ctx); err != nil {
			if m.interrupted(ctx, err) {
				continue
			}
			return err
		}
		m.iteration++
		st := m.Status()
		m.fireIteration(st)
		if m.cfg.LogEvery > 0 && m.iteration%m.cfg.LogEvery == 0 {
			log.Debug().
				Int("iteration", m.iteration).
				Int("active_goals", m.archive.NumActive()).
				Int("niches", m.archive.TotalNiches()).
				Float64("coverage", st.Coverage).
				Msg("search progress")
		}
	}

	m.state = Done
	m.fireFinished(m.Status())
	return nil
}

// iterate perturbs each active goal with probability 1/n, or only a least
// explored goal in feedback-directed mode.
func (m *MAPElites) iterate(ctx context.Context) error {
	if m.cfg.FeedbackDirected {
		least := m.archive.LeastInvoked()
		return m.perturb(ctx, least[m.rng.Intn(len(least))])
	}

	active := m.archive.ActiveGoals()
	p := 1 / float64(len(active))
	for _, g := range active {
		if m.rng.Float64() >= p || !m.archive.IsActive(g.Key()) {
			continue
		}
		if err := m.perturb(ctx, g); err != nil {
			return err
		}
	}
	return nil
}

// perturb mutates a clone of a random elite of g. A goal without elites is
// seeded with a fresh random test.
func (m *MAPElites) perturb(ctx context.Context, g goals.Goal) error {
	m.archive.Increment(g.Key())

	parent, ok := m.archive.RandomOccupant(g.Key(), m.rng)
	if !ok {
		return m.analyze(ctx, m.factory.NewTest())
	}
	child := parent.Clone()
	m.mutator.Mutate(child)
	return m.analyze(ctx, child)
}

// analyze scores c against every active goal, retiring the goals it covers
// and offering it to the niches of the others.
func (m *MAPElites) analyze(ctx context.Context, c *testcase.TestChromosome) error {
	for _, g := range m.archive.ActiveGoals() {
		d, err := m.fitness[g.Key()].Evaluate(ctx, c)
		if err != nil {
			return err
		}
		if d.IsCovered() {
			if m.archive.Retire(g.Key(), c) {
				log.Info().
					Str("goal", g.String()).
					Int("iteration", m.iteration).
					Msg("goal covered")
			}
			continue
		}
		m.archive.Absorb(g.Key(), c, d.Fitness(), c.LastResult().Trace.FeatureVectors())
	}
	m.fireEvaluated(m.Status())
	return nil
}

// BestIndividual recombines one elite per goal into a suite.
func (m *MAPElites) BestIndividual() *testcase.Suite {
	if m.archive == nil {
		return testcase.NewSuite()
	}
	return m.archive.BestIndividual()
}

// Status reports solved goals as coverage and the summed best elite
// fitness of unsolved goals as fitness.
func (m *MAPElites) Status() Status {
	st := m.status()
	st.Total = len(m.goals)
	if m.archive == nil {
		st.Fitness = float64(st.Total)
	} else {
		st.Covered = m.archive.NumSolved()
		for _, g := range m.archive.ActiveGoals() {
			if f, ok := m.archive.BestFitness(g.Key()); ok {
				st.Fitness += f
			} else {
				st.Fitness++
			}
		}
	}
	st.Coverage = 1
	if st.Total > 0 {
		st.Coverage = float64(st.Covered) / float64(st.Total)
	}
	return st
}
