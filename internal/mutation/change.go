package mutation

import (
	"math"
	"math/rand"

	"github.com/rs/zerolog/log"

	"github.com/QTest-hq/qsearch/internal/testcase"
)

// CallChanger replaces a call with another operation producing the same
// declared type.
type CallChanger struct {
	Index       GeneratorIndex
	Constraints Constraints
	Types       testcase.TypeSystem
	Rng         *rand.Rand
}

// NewCallChanger creates a call changer. A nil constraints value permits
// every edit.
func NewCallChanger(index GeneratorIndex, constraints Constraints, types testcase.TypeSystem, rng *rand.Rand) *CallChanger {
	if constraints == nil {
		constraints = NoConstraints{}
	}
	return &CallChanger{Index: index, Constraints: constraints, Types: types, Rng: rng}
}

// Candidates returns the operations that may replace the call at pos: they
// produce its declared type and all their inputs are already in scope. The
// current operation is excluded when it takes parameters, and a pinned
// value may only be re-created by a constructor.
func (c *CallChanger) Candidates(tc *testcase.TestCase, pos int) []*testcase.Operation {
	st := tc.Statement(pos)
	if !st.IsCall() {
		return nil
	}
	pinned := c.Constraints.IsPinned(tc, pos)

	var out []*testcase.Operation
	for _, op := range c.Index.Generators(st.Type) {
		if st.Op.TakesParameters() && op.ID() == st.Op.ID() {
			continue
		}
		if pinned && op.Kind != testcase.OpConstructor {
			continue
		}
		if !satisfiable(tc, pos, op, c.Types) {
			continue
		}
		out = append(out, op)
	}
	return out
}

// Change rebuilds the call at pos from a uniformly chosen candidate. It
// returns false and leaves the test unchanged if no candidate fits.
func (c *CallChanger) Change(tc *testcase.TestCase, pos int) bool {
	if pos < 0 || pos >= tc.Size() {
		return false
	}
	candidates := c.Candidates(tc, pos)
	if len(candidates) == 0 {
		return false
	}
	op := candidates[c.Rng.Intn(len(candidates))]

	repl, ok := bind(tc, pos, op, c.Types, c.Rng)
	if !ok {
		return false
	}
	repl.Type = tc.Statement(pos).Type
	if err := tc.Replace(pos, repl); err != nil {
		log.Debug().Err(err).Str("operation", op.ID()).Msg("call replacement failed")
		return false
	}
	return true
}

// PrimitiveChanger perturbs constants.
type PrimitiveChanger struct {
	Rng *rand.Rand

	// MaxDelta bounds integer steps.
	MaxDelta int
}

// Change perturbs the constant at pos: integers move by a bounded step or
// are redrawn, floats move by a gaussian step, booleans flip and strings
// get one character inserted, removed or replaced.
func (p *PrimitiveChanger) Change(tc *testcase.TestCase, pos int) bool {
	if pos < 0 || pos >= tc.Size() {
		return false
	}
	st := tc.Statement(pos)
	if st.Kind != testcase.StmtPrimitive {
		return false
	}
	maxDelta := p.MaxDelta
	if maxDelta <= 0 {
		maxDelta = 10
	}

	switch v := st.Value.(type) {
	case int:
		if p.Rng.Intn(5) == 0 {
			st.Value = RandomValue(st.Type, p.Rng)
			return st.Value != v
		}
		delta := p.Rng.Intn(maxDelta) + 1
		if p.Rng.Intn(2) == 0 {
			delta = -delta
		}
		st.Value = v + delta
	case float64:
		next := v + p.Rng.NormFloat64()*math.Max(1, math.Abs(v)/10)
		if p.Rng.Intn(5) == 0 {
			next = math.Round(next)
		}
		st.Value = next
	case bool:
		st.Value = !v
	case string:
		st.Value = mutateString(v, p.Rng)
	default:
		return false
	}
	return true
}

func mutateString(s string, rng *rand.Rand) string {
	b := []byte(s)
	c := letters[rng.Intn(len(letters))]
	switch op := rng.Intn(3); {
	case op == 0 || len(b) == 0:
		i := rng.Intn(len(b) + 1)
		b = append(b[:i], append([]byte{c}, b[i:]...)...)
	case op == 1:
		i := rng.Intn(len(b))
		b = append(b[:i], b[i+1:]...)
	default:
		b[rng.Intn(len(b))] = c
	}
	return string(b)
}
