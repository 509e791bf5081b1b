package testcase

import (
	"sort"

	"github.com/google/uuid"

	"github.com/QTest-hq/qsearch/internal/goals"
	"github.com/QTest-hq/qsearch/internal/trace"
)

// TestChromosome is one evolvable test. It memoizes the result of its last
// execution until the test changes.
type TestChromosome struct {
	id         uuid.UUID
	test       *TestCase
	lastResult *trace.ExecutionResult
	changed    bool

	fitness map[string]float64
	covered map[goals.Key]struct{}
}

// NewTestChromosome wraps a test. A nil test starts empty.
func NewTestChromosome(tc *TestCase) *TestChromosome {
	if tc == nil {
		tc = &TestCase{}
	}
	return &TestChromosome{
		id:      uuid.New(),
		test:    tc,
		changed: true,
		fitness: make(map[string]float64),
		covered: make(map[goals.Key]struct{}),
	}
}

func (c *TestChromosome) ID() uuid.UUID {
	return c.id
}

func (c *TestChromosome) Test() *TestCase {
	return c.test
}

func (c *TestChromosome) Size() int {
	return c.test.Size()
}

// IsChanged reports whether the test differs from the one that produced the
// last result.
func (c *TestChromosome) IsChanged() bool {
	return c.changed || c.lastResult == nil
}

// SetChanged marks the chromosome as modified (or not).
func (c *TestChromosome) SetChanged(changed bool) {
	c.changed = changed
}

// LastResult returns the memoized execution result, if any.
func (c *TestChromosome) LastResult() *trace.ExecutionResult {
	return c.lastResult
}

// SetLastResult stores an execution result and clears the changed flag.
func (c *TestChromosome) SetLastResult(r *trace.ExecutionResult) {
	c.lastResult = r
	c.changed = false
}

// Fitness returns the value last recorded by the named fitness function.
func (c *TestChromosome) Fitness(name string) (float64, bool) {
	v, ok := c.fitness[name]
	return v, ok
}

// SetFitness is called by fitness functions only.
func (c *TestChromosome) SetFitness(name string, v float64) {
	c.fitness[name] = v
}

// MarkCovered records that the last execution covered a goal.
func (c *TestChromosome) MarkCovered(k goals.Key) {
	c.covered[k] = struct{}{}
}

// Covers reports whether the chromosome was marked as covering a goal.
func (c *TestChromosome) Covers(k goals.Key) bool {
	_, ok := c.covered[k]
	return ok
}

// CoveredGoals returns the marked goals in identity order.
func (c *TestChromosome) CoveredGoals() []goals.Key {
	out := make([]goals.Key, 0, len(c.covered))
	for k := range c.covered {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Compare(out[j]) < 0 })
	return out
}

// Clone copies the test and bookkeeping under a new ID. The memoized result
// is shared since results are read-only.
func (c *TestChromosome) Clone() *TestChromosome {
	clone := &TestChromosome{
		id:         uuid.New(),
		test:       c.test.Clone(),
		lastResult: c.lastResult,
		changed:    c.changed,
		fitness:    make(map[string]float64, len(c.fitness)),
		covered:    make(map[goals.Key]struct{}, len(c.covered)),
	}
	for k, v := range c.fitness {
		clone.fitness[k] = v
	}
	for k := range c.covered {
		clone.covered[k] = struct{}{}
	}
	return clone
}

// Suite is an unordered collection of tests evolved as one individual.
type Suite struct {
	id    uuid.UUID
	tests []*TestChromosome

	fitness    map[string]float64
	coverage   map[string]float64
	numCovered map[string]int
}

// NewSuite creates a suite from tests.
func NewSuite(tests ...*TestChromosome) *Suite {
	return &Suite{
		id:         uuid.New(),
		tests:      append([]*TestChromosome(nil), tests...),
		fitness:    make(map[string]float64),
		coverage:   make(map[string]float64),
		numCovered: make(map[string]int),
	}
}

func (s *Suite) ID() uuid.UUID {
	return s.id
}

// Tests returns the contained tests. The slice is a copy.
func (s *Suite) Tests() []*TestChromosome {
	return append([]*TestChromosome(nil), s.tests...)
}

func (s *Suite) Size() int {
	return len(s.tests)
}

// TotalStatements sums the lengths of all tests.
func (s *Suite) TotalStatements() int {
	n := 0
	for _, t := range s.tests {
		n += t.Size()
	}
	return n
}

func (s *Suite) AddTest(t *TestChromosome) {
	s.tests = append(s.tests, t)
}

// SetTests replaces the contained tests.
func (s *Suite) SetTests(tests []*TestChromosome) {
	s.tests = append([]*TestChromosome(nil), tests...)
}

// RemoveEmptyTests drops tests without statements.
func (s *Suite) RemoveEmptyTests() {
	kept := s.tests[:0]
	for _, t := range s.tests {
		if t.Size() > 0 {
			kept = append(kept, t)
		}
	}
	s.tests = kept
}

// IsChanged reports whether any test changed since it last ran.
func (s *Suite) IsChanged() bool {
	for _, t := range s.tests {
		if t.IsChanged() {
			return true
		}
	}
	return false
}

// Fitness returns the value last recorded by the named fitness function.
func (s *Suite) Fitness(name string) (float64, bool) {
	v, ok := s.fitness[name]
	return v, ok
}

// TotalFitness sums the values of all fitness functions that scored the suite.
func (s *Suite) TotalFitness() float64 {
	total := 0.0
	for _, v := range s.fitness {
		total += v
	}
	return total
}

// Coverage returns the covered ratio recorded by the named fitness function.
func (s *Suite) Coverage(name string) (float64, bool) {
	v, ok := s.coverage[name]
	return v, ok
}

// MeanCoverage averages the coverage over all fitness functions, or 0.
func (s *Suite) MeanCoverage() float64 {
	if len(s.coverage) == 0 {
		return 0
	}
	total := 0.0
	for _, v := range s.coverage {
		total += v
	}
	return total / float64(len(s.coverage))
}

// NumCovered returns the covered goal count recorded by a fitness function.
func (s *Suite) NumCovered(name string) int {
	return s.numCovered[name]
}

// SetFitness is called by fitness functions only.
func (s *Suite) SetFitness(name string, v float64) {
	s.fitness[name] = v
}

// SetCoverage is called by fitness functions only.
func (s *Suite) SetCoverage(name string, ratio float64, covered int) {
	s.coverage[name] = ratio
	s.numCovered[name] = covered
}

// Clone deep-copies the suite and its tests.
func (s *Suite) Clone() *Suite {
	clone := NewSuite()
	for _, t := range s.tests {
		clone.tests = append(clone.tests, t.Clone())
	}
	for k, v := range s.fitness {
		clone.fitness[k] = v
	}
	for k, v := range s.coverage {
		clone.coverage[k] = v
	}
	for k, v := range s.numCovered {
		clone.numCovered[k] = v
	}
	return clone
}
