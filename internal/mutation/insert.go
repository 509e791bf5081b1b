package mutation

import (
	"math/rand"

	"github.com/QTest-hq/qsearch/internal/testcase"
)

// builder inserts calls into a test, creating missing input values on the
// fly.
type builder struct {
	index GeneratorIndex
	types testcase.TypeSystem
	rng   *rand.Rand

	// maxDepth bounds how deep inputs of inputs are created.
	maxDepth int

	// reuse is the probability of reusing a value already in scope instead
	// of creating a new one.
	reuse float64
}

// insertCall places a call to op at pos, inserting any newly created inputs
// before it. It returns the final position of the call.
func (b *builder) insertCall(tc *testcase.TestCase, pos int, op *testcase.Operation, depth int) (int, bool) {
	recv := testcase.NoRef
	if op.NeedsReceiver() {
		r, ok := b.value(tc, &pos, op.Owner, depth+1)
		if !ok {
			return -1, false
		}
		recv = r
	}
	args := make([]testcase.Ref, len(op.Params))
	for i, p := range op.Params {
		r, ok := b.value(tc, &pos, p, depth+1)
		if !ok {
			return -1, false
		}
		args[i] = r
	}
	if err := tc.Insert(pos, testcase.Call(op, recv, args...)); err != nil {
		return -1, false
	}
	return pos, true
}

// value returns a reference to a value of typ usable at *pos, inserting new
// statements at *pos and advancing it when a value has to be created.
func (b *builder) value(tc *testcase.TestCase, pos *int, typ string, depth int) (testcase.Ref, bool) {
	scope := tc.ValuesInScope(*pos, typ, b.types)
	if len(scope) > 0 && (depth > b.maxDepth || b.rng.Float64() < b.reuse) {
		return testcase.ValueRef(scope[b.rng.Intn(len(scope))]), true
	}

	switch {
	case isConstantType(b.types, typ):
		return b.insert(tc, pos, testcase.Primitive(typ, RandomValue(typ, b.rng)))
	case testcase.IsArray(typ):
		return b.array(tc, pos, typ, depth)
	}

	if depth <= b.maxDepth {
		if gens := b.index.Generators(typ); len(gens) > 0 {
			op := gens[b.rng.Intn(len(gens))]
			if at, ok := b.insertCall(tc, *pos, op, depth); ok {
				*pos = at + 1
				return testcase.ValueRef(at), true
			}
		}
	}
	if len(scope) > 0 {
		return testcase.ValueRef(scope[b.rng.Intn(len(scope))]), true
	}
	return b.insert(tc, pos, testcase.Null(typ))
}

func (b *builder) array(tc *testcase.TestCase, pos *int, typ string, depth int) (testcase.Ref, bool) {
	n := b.rng.Intn(4)
	arr, ok := b.insert(tc, pos, testcase.Array(typ, n))
	if !ok {
		return testcase.NoRef, false
	}
	for i := 0; i < n; i++ {
		v, ok := b.value(tc, pos, testcase.ElemType(typ), depth+1)
		if !ok {
			return testcase.NoRef, false
		}
		if _, ok := b.insert(tc, pos, testcase.Assign(testcase.ElementRef(arr.Pos, i), v)); !ok {
			return testcase.NoRef, false
		}
	}
	return arr, true
}

func (b *builder) insert(tc *testcase.TestCase, pos *int, st *testcase.Statement) (testcase.Ref, bool) {
	if err := tc.Insert(*pos, st); err != nil {
		return testcase.NoRef, false
	}
	ref := testcase.ValueRef(*pos)
	*pos++
	return ref, true
}

// Inserter adds a random call to a test.
type Inserter struct {
	b         builder
	maxLength int
}

// NewInserter creates an inserter. maxLength of 0 means unbounded.
func NewInserter(index GeneratorIndex, types testcase.TypeSystem, rng *rand.Rand, maxLength int) *Inserter {
	return &Inserter{
		b:         builder{index: index, types: types, rng: rng, maxDepth: 3, reuse: 0.5},
		maxLength: maxLength,
	}
}

// Insert adds a call to a random operation, appending it with probability
// one half and otherwise at a uniform position. Inputs are reused or
// created. The test is unchanged if the call cannot be built or the result
// would exceed the length bound.
func (in *Inserter) Insert(tc *testcase.TestCase) bool {
	ops := in.b.index.Operations()
	if len(ops) == 0 || (in.maxLength > 0 && tc.Size() >= in.maxLength) {
		return false
	}
	op := ops[in.b.rng.Intn(len(ops))]

	pos := tc.Size()
	if in.b.rng.Intn(2) == 0 {
		pos = in.b.rng.Intn(tc.Size() + 1)
	}

	work := tc.Clone()
	if _, ok := in.b.insertCall(work, pos, op, 0); !ok {
		return false
	}
	if in.maxLength > 0 && work.Size() > in.maxLength {
		return false
	}
	*tc = *work
	return true
}

// RandomFactory creates initial tests by repeatedly appending random calls.
type RandomFactory struct {
	inserter *Inserter
	rng      *rand.Rand
}

// NewRandomFactory creates a factory for tests of at most maxLength
// statements.
func NewRandomFactory(index GeneratorIndex, types testcase.TypeSystem, rng *rand.Rand, maxLength int) *RandomFactory {
	if maxLength <= 0 {
		maxLength = 1
	}
	ins := NewInserter(index, types, rng, maxLength)
	ins.b.reuse = 0.75
	return &RandomFactory{inserter: ins, rng: rng}
}

// NewTest builds a test with a random target length. Calls are appended
// until the target is reached or attempts run out, so the test may be
// shorter.
func (f *RandomFactory) NewTest() *testcase.TestChromosome {
	tc := testcase.MustNew()
	target := 1 + f.rng.Intn(f.inserter.maxLength)
	for attempts := 0; tc.Size() < target && attempts < 5*target; attempts++ {
		f.appendCall(tc)
	}
	return testcase.NewTestChromosome(tc)
}

func (f *RandomFactory) appendCall(tc *testcase.TestCase) bool {
	ops := f.inserter.b.index.Operations()
	if len(ops) == 0 {
		return false
	}
	op := ops[f.rng.Intn(len(ops))]
	work := tc.Clone()
	if _, ok := f.inserter.b.insertCall(work, work.Size(), op, 0); !ok {
		return false
	}
	if work.Size() > f.inserter.maxLength {
		return false
	}
	*tc = *work
	return true
}
