// Package archive keeps, per coverage goal, the best test found for every
// behavioral niche, together with the tests that already solved goals.
package archive

import (
	"math/rand"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/QTest-hq/qsearch/internal/feature"
	"github.com/QTest-hq/qsearch/internal/goals"
	"github.com/QTest-hq/qsearch/internal/testcase"
)

// Elite is the occupant of one niche.
type Elite struct {
	Chromosome *testcase.TestChromosome
	Fitness    float64
	Niche      feature.FeatureVector
}

// Archive is a MAP-Elites archive. Each active goal owns a niche map from
// feature vector key to elite. Solving a goal retires its niche map.
type Archive struct {
	goals     map[goals.Key]goals.Goal
	niches    map[goals.Key]map[string]*Elite
	counters  map[goals.Key]int
	solutions map[goals.Key]*testcase.TestChromosome
}

// New creates an archive with one empty niche map per goal.
func New(gs []goals.Goal) *Archive {
	a := &Archive{
		goals:     make(map[goals.Key]goals.Goal, len(gs)),
		niches:    make(map[goals.Key]map[string]*Elite, len(gs)),
		counters:  make(map[goals.Key]int, len(gs)),
		solutions: make(map[goals.Key]*testcase.TestChromosome),
	}
	for _, g := range gs {
		a.goals[g.Key()] = g
		a.niches[g.Key()] = make(map[string]*Elite)
	}
	return a
}

// ActiveGoals returns the unsolved goals in identity order.
func (a *Archive) ActiveGoals() []goals.Goal {
	out := make([]goals.Goal, 0, len(a.niches))
	for k := range a.niches {
		out = append(out, a.goals[k])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Compare(out[j]) < 0 })
	return out
}

func (a *Archive) NumGoals() int {
	return len(a.goals)
}

func (a *Archive) NumActive() int {
	return len(a.niches)
}

func (a *Archive) NumSolved() int {
	return len(a.solutions)
}

// IsActive reports whether the goal is still being searched for.
func (a *Archive) IsActive(k goals.Key) bool {
	_, ok := a.niches[k]
	return ok
}

// NumNiches returns the number of occupied niches of a goal.
func (a *Archive) NumNiches(k goals.Key) int {
	return len(a.niches[k])
}

// TotalNiches returns the number of occupied niches over all active goals.
func (a *Archive) TotalNiches() int {
	n := 0
	for _, m := range a.niches {
		n += len(m)
	}
	return n
}

// Occupant returns the elite of one niche.
func (a *Archive) Occupant(k goals.Key, niche feature.FeatureVector) (Elite, bool) {
	e, ok := a.niches[k][niche.Key()]
	if !ok {
		return Elite{}, false
	}
	return *e, true
}

// RandomOccupant picks a uniformly random elite of an active goal.
func (a *Archive) RandomOccupant(k goals.Key, rng *rand.Rand) (*testcase.TestChromosome, bool) {
	m := a.niches[k]
	if len(m) == 0 {
		return nil, false
	}
	keys := make([]string, 0, len(m))
	for nk := range m {
		keys = append(keys, nk)
	}
	sort.Strings(keys)
	return m[keys[rng.Intn(len(keys))]].Chromosome, true
}

// Counter returns how often a goal was picked for perturbation.
func (a *Archive) Counter(k goals.Key) int {
	return a.counters[k]
}

// Increment bumps the invocation counter of a goal.
func (a *Archive) Increment(k goals.Key) {
	a.counters[k]++
}

// LeastInvoked returns the active goals with the lowest invocation counter,
// in identity order.
func (a *Archive) LeastInvoked() []goals.Goal {
	var out []goals.Goal
	lowest := -1
	for _, g := range a.ActiveGoals() {
		c := a.counters[g.Key()]
		switch {
		case lowest < 0 || c < lowest:
			lowest = c
			out = []goals.Goal{g}
		case c == lowest:
			out = append(out, g)
		}
	}
	return out
}

// Absorb offers a candidate to every niche of the goal named by its feature
// vectors. An occupant is replaced when it is not strictly fitter than the
// candidate, so ties go to the newcomer. A candidate without feature
// vectors competes for the single empty-vector niche. Absorb returns the
// number of niches the candidate now occupies; retired goals absorb nothing.
func (a *Archive) Absorb(k goals.Key, c *testcase.TestChromosome, fitness float64, vectors []feature.FeatureVector) int {
	m, ok := a.niches[k]
	if !ok {
		return 0
	}
	if len(vectors) == 0 {
		vectors = []feature.FeatureVector{feature.NewFeatureVector(nil, nil)}
	}

	placed := 0
	for _, fv := range vectors {
		old, occupied := m[fv.Key()]
		if occupied && old.Fitness < fitness {
			continue
		}
		m[fv.Key()] = &Elite{Chromosome: c, Fitness: fitness, Niche: fv}
		placed++
	}
	return placed
}

// Retire removes a solved goal's niche map and keeps the solving test.
// Retiring an inactive goal is a no-op that returns false.
func (a *Archive) Retire(k goals.Key, solution *testcase.TestChromosome) bool {
	if _, ok := a.niches[k]; !ok {
		return false
	}
	delete(a.niches, k)
	a.solutions[k] = solution
	log.Debug().
		Str("goal", a.goals[k].String()).
		Int("remaining", len(a.niches)).
		Msg("goal solved, retiring niches")
	return true
}

// Solution returns the test that solved a goal.
func (a *Archive) Solution(k goals.Key) (*testcase.TestChromosome, bool) {
	s, ok := a.solutions[k]
	return s, ok
}

// SolvedGoals returns the solved goals in identity order.
func (a *Archive) SolvedGoals() []goals.Goal {
	out := make([]goals.Goal, 0, len(a.solutions))
	for k := range a.solutions {
		out = append(out, a.goals[k])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Compare(out[j]) < 0 })
	return out
}

// BestIndividual recombines the archive into a suite: the solution of every
// solved goal plus the fittest elite of every unsolved goal. Tests shared
// between goals appear once. The suite holds clones.
func (a *Archive) BestIndividual() *testcase.Suite {
	seen := make(map[*testcase.TestChromosome]bool)
	suite := testcase.NewSuite()
	add := func(c *testcase.TestChromosome) {
		if c == nil || seen[c] {
			return
		}
		seen[c] = true
		suite.AddTest(c.Clone())
	}

	for _, g := range a.SolvedGoals() {
		add(a.solutions[g.Key()])
	}
	for _, g := range a.ActiveGoals() {
		add(a.bestElite(g.Key()))
	}
	return suite
}

func (a *Archive) bestElite(k goals.Key) *testcase.TestChromosome {
	e := a.bestEntry(k)
	if e == nil {
		return nil
	}
	return e.Chromosome
}

// bestEntry returns the fittest elite of a goal, breaking ties by niche key.
func (a *Archive) bestEntry(k goals.Key) *Elite {
	var best *Elite
	var bestKey string
	for nk, e := range a.niches[k] {
		if best == nil || e.Fitness < best.Fitness || (e.Fitness == best.Fitness && nk < bestKey) {
			best, bestKey = e, nk
		}
	}
	return best
}

// BestFitness returns the lowest fitness among the elites of an active goal.
func (a *Archive) BestFitness(k goals.Key) (float64, bool) {
	e := a.bestEntry(k)
	if e == nil {
		return 0, false
	}
	return e.Fitness, true
}
