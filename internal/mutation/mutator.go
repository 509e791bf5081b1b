package mutation

import (
	"errors"
	"math/rand"

	"github.com/QTest-hq/qsearch/internal/testcase"
)

// Config weights the mutation operators and bounds test growth.
type Config struct {
	DeleteWeight    int `yaml:"delete_weight"`
	ChangeWeight    int `yaml:"change_weight"`
	InsertWeight    int `yaml:"insert_weight"`
	PrimitiveWeight int `yaml:"primitive_weight"`

	// ExpectedIterations makes Mutate keep applying operators after a
	// success with probability 1 - 1/ExpectedIterations.
	ExpectedIterations int `yaml:"expected_iterations"`

	// MaxLength bounds the number of statements insertion may create.
	MaxLength int `yaml:"max_length"`

	// MinAge is the number of mutation rounds a statement must survive
	// before deletion.
	MinAge int `yaml:"min_age"`

	// Graceful rebinds references before deleting.
	Graceful bool `yaml:"graceful"`
}

// DefaultConfig returns the default operator mix.
func DefaultConfig() Config {
	return Config{
		DeleteWeight:       30,
		ChangeWeight:       40,
		InsertWeight:       60,
		PrimitiveWeight:    70,
		ExpectedIterations: 3,
		MaxLength:          40,
		MinAge:             0,
		Graceful:           true,
	}
}

// Validate checks the operator mix.
func (c Config) Validate() error {
	var errs []error
	if c.DeleteWeight < 0 || c.ChangeWeight < 0 || c.InsertWeight < 0 || c.PrimitiveWeight < 0 {
		errs = append(errs, errors.New("operator weights must not be negative"))
	}
	if c.weight() == 0 {
		errs = append(errs, errors.New("at least one operator weight must be positive"))
	}
	if c.ExpectedIterations < 1 {
		errs = append(errs, errors.New("expected_iterations must be positive"))
	}
	if c.MaxLength < 1 {
		errs = append(errs, errors.New("max_length must be positive"))
	}
	if c.MinAge < 0 {
		errs = append(errs, errors.New("min_age must not be negative"))
	}
	return errors.Join(errs...)
}

func (c Config) weight() int {
	return c.DeleteWeight + c.ChangeWeight + c.InsertWeight + c.PrimitiveWeight
}

// Stats counts successful operator applications.
type Stats struct {
	Deletions  int
	Changes    int
	Insertions int
	Primitives int
}

// TestMutator applies a weighted random mix of operators to a test.
type TestMutator struct {
	cfg        Config
	rng        *rand.Rand
	deleter    *Deleter
	changer    *CallChanger
	inserter   *Inserter
	primitives *PrimitiveChanger
	stats      Stats
}

// NewTestMutator wires the operators over one set of collaborators.
func NewTestMutator(cfg Config, index GeneratorIndex, constraints Constraints, types testcase.TypeSystem, rng *rand.Rand) *TestMutator {
	return &TestMutator{
		cfg:        cfg,
		rng:        rng,
		deleter:    NewDeleter(constraints, types, rng, cfg.MinAge),
		changer:    NewCallChanger(index, constraints, types, rng),
		inserter:   NewInserter(index, types, rng, cfg.MaxLength),
		primitives: &PrimitiveChanger{Rng: rng},
	}
}

func (m *TestMutator) Stats() Stats {
	return m.stats
}

// Mutate edits c in place. Statements age by one round first. Operators are
// drawn by weight until one succeeds, then more are applied with
// probability 1 - 1/ExpectedIterations. c is marked changed if any operator
// succeeded.
func (m *TestMutator) Mutate(c *testcase.TestChromosome) bool {
	total := m.cfg.weight()
	if total <= 0 {
		return false
	}
	c.Test().AgeStatements()

	changed := false
	attempts := 0
	for stop, ok := false, false; !stop; stop = ok && m.oneOf(m.cfg.ExpectedIterations) {
		if attempts++; attempts > 10*m.cfg.expected() {
			break
		}
		tc := c.Test()
		val := m.rng.Intn(total)
		val -= m.cfg.DeleteWeight
		if val < 0 {
			ok = m.remove(tc)
			changed = changed || ok
			continue
		}
		val -= m.cfg.ChangeWeight
		if val < 0 {
			ok = m.change(tc)
			changed = changed || ok
			continue
		}
		val -= m.cfg.InsertWeight
		if val < 0 {
			ok = m.inserter.Insert(tc)
			if ok {
				m.stats.Insertions++
			}
			changed = changed || ok
			continue
		}
		ok = m.primitive(tc)
		changed = changed || ok
	}

	if changed {
		c.SetChanged(true)
	}
	return changed
}

// remove deletes a random statement, gracefully if configured.
func (m *TestMutator) remove(tc *testcase.TestCase) bool {
	if tc.Size() == 0 {
		return false
	}
	pos := m.rng.Intn(tc.Size())
	var ok bool
	if m.cfg.Graceful {
		ok = m.deleter.DeleteGracefully(tc, pos)
	} else {
		ok = m.deleter.Delete(tc, pos)
	}
	if ok {
		m.stats.Deletions++
	}
	return ok
}

func (m *TestMutator) change(tc *testcase.TestCase) bool {
	calls := positions(tc, func(st *testcase.Statement) bool { return st.IsCall() })
	if len(calls) == 0 {
		return false
	}
	ok := m.changer.Change(tc, calls[m.rng.Intn(len(calls))])
	if ok {
		m.stats.Changes++
	}
	return ok
}

func (m *TestMutator) primitive(tc *testcase.TestCase) bool {
	consts := positions(tc, func(st *testcase.Statement) bool { return st.Kind == testcase.StmtPrimitive })
	if len(consts) == 0 {
		return false
	}
	ok := m.primitives.Change(tc, consts[m.rng.Intn(len(consts))])
	if ok {
		m.stats.Primitives++
	}
	return ok
}

func (m *TestMutator) oneOf(n int) bool {
	return n <= 1 || m.rng.Intn(n) == 0
}

func (c Config) expected() int {
	if c.ExpectedIterations < 1 {
		return 1
	}
	return c.ExpectedIterations
}

func positions(tc *testcase.TestCase, keep func(*testcase.Statement) bool) []int {
	var out []int
	for i, st := range tc.Statements() {
		if keep(st) {
			out = append(out, i)
		}
	}
	return out
}
