package mutation

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/QTest-hq/qsearch/internal/testcase"
)

var (
	newCalc    = &testcase.Operation{Kind: testcase.OpConstructor, Owner: "Calc", Name: "<init>"}
	newCalcInt = &testcase.Operation{Kind: testcase.OpConstructor, Owner: "Calc", Name: "<init>", Params: []string{"int"}}
	calcOf     = &testcase.Operation{Kind: testcase.OpMethod, Owner: "Calc", Name: "of", Params: []string{"int"}, Returns: "Calc", Static: true}
	classify   = &testcase.Operation{Kind: testcase.OpMethod, Owner: "Calc", Name: "classify", Params: []string{"int"}, Returns: "String"}
	describe   = &testcase.Operation{Kind: testcase.OpMethod, Owner: "Calc", Name: "describe", Returns: "String"}
	format     = &testcase.Operation{Kind: testcase.OpMethod, Owner: "Calc", Name: "format", Params: []string{"double"}, Returns: "String"}
	add        = &testcase.Operation{Kind: testcase.OpMethod, Owner: "Calc", Name: "add", Params: []string{"int", "int"}, Returns: "int"}
	reset      = &testcase.Operation{Kind: testcase.OpMethod, Owner: "Calc", Name: "reset"}

	allOps = []*testcase.Operation{newCalc, newCalcInt, calcOf, classify, describe, format, add, reset}
)

// mockIndex serves operations from a fixed list.
type mockIndex struct {
	ops   []*testcase.Operation
	types testcase.TypeSystem
}

func (m *mockIndex) Generators(typ string) []*testcase.Operation {
	var out []*testcase.Operation
	for _, op := range m.ops {
		rt := op.ReturnType()
		if (typ == testcase.Void && rt == testcase.Void) || m.types.Assignable(typ, rt) {
			out = append(out, op)
		}
	}
	return out
}

func (m *mockIndex) Operations() []*testcase.Operation {
	return m.ops
}

// mockConstraints pins and binds positions from fixed tables.
type mockConstraints struct {
	undeletable map[int]bool
	bound       map[int][]int
	pinned      map[int]bool
}

func (m mockConstraints) CanDelete(tc *testcase.TestCase, pos int) bool {
	return !m.undeletable[pos]
}

func (m mockConstraints) Bound(tc *testcase.TestCase, pos int) []int {
	return m.bound[pos]
}

func (m mockConstraints) IsPinned(tc *testcase.TestCase, pos int) bool {
	return m.pinned[pos]
}

func newRng() *rand.Rand {
	return rand.New(rand.NewSource(42))
}

func calcTypes() *testcase.Hierarchy {
	return testcase.NewHierarchy()
}

func TestDelete_RemovesReferencingStatements(t *testing.T) {
	tc := testcase.MustNew(
		testcase.Primitive("int", 5),
		testcase.Call(newCalc, testcase.NoRef),
		testcase.Call(classify, testcase.ValueRef(1), testcase.ValueRef(0)),
		testcase.Call(add, testcase.ValueRef(1), testcase.ValueRef(0), testcase.ValueRef(0)),
	)
	d := NewDeleter(nil, calcTypes(), newRng(), 0)

	assert.Equal(t, []int{0, 2, 3}, d.Closure(tc, 0))
	require.True(t, d.Delete(tc, 0))
	assert.Equal(t, 1, tc.Size())
	assert.Equal(t, testcase.StmtConstructor, tc.Statement(0).Kind)
	assert.NoError(t, tc.Validate())
}

func TestDelete_Transitive(t *testing.T) {
	tc := testcase.MustNew(
		testcase.Primitive("int", 5),
		testcase.Call(newCalcInt, testcase.NoRef, testcase.ValueRef(0)),
		testcase.Call(reset, testcase.ValueRef(1)),
		testcase.Primitive("int", 6),
	)
	d := NewDeleter(nil, calcTypes(), newRng(), 0)

	require.True(t, d.Delete(tc, 0))
	require.Equal(t, 1, tc.Size())
	assert.Equal(t, 6, tc.Statement(0).Value)
}

func TestDelete_ConstraintBoundPositions(t *testing.T) {
	tc := testcase.MustNew(
		testcase.Primitive("int", 1),
		testcase.Primitive("int", 2),
		testcase.Call(newCalc, testcase.NoRef),
		testcase.Call(add, testcase.ValueRef(2), testcase.ValueRef(1), testcase.ValueRef(1)),
		testcase.Call(describe, testcase.ValueRef(2)),
	)
	// Deleting the describe call drags v0 along, and v0 drags v1, whose
	// user v3 goes too.
	c := mockConstraints{bound: map[int][]int{4: {0}, 0: {1}}}
	d := NewDeleter(c, calcTypes(), newRng(), 0)

	assert.Equal(t, []int{0, 1, 3, 4}, d.Closure(tc, 4))
	require.True(t, d.Delete(tc, 4))
	require.Equal(t, 1, tc.Size())
	assert.NoError(t, tc.Validate())
}

func TestDelete_Refused(t *testing.T) {
	tc := testcase.MustNew(
		testcase.Primitive("int", 1),
		testcase.Call(newCalc, testcase.NoRef),
	)

	pinned := NewDeleter(mockConstraints{undeletable: map[int]bool{1: true}}, calcTypes(), newRng(), 0)
	assert.False(t, pinned.Delete(tc, 1))
	assert.False(t, pinned.DeleteGracefully(tc, 1))
	assert.False(t, pinned.Delete(tc, 5))

	young := NewDeleter(nil, calcTypes(), newRng(), 1)
	assert.False(t, young.Delete(tc, 0))
	assert.Equal(t, 2, tc.Size())

	tc.AgeStatements()
	assert.True(t, young.Delete(tc, 0))
	assert.Equal(t, 1, tc.Size())
}

func TestDelete_ClosureProperty(t *testing.T) {
	types := calcTypes()
	index := &mockIndex{ops: allOps, types: types}

	for seed := int64(0); seed < 50; seed++ {
		rng := rand.New(rand.NewSource(seed))
		c := NewRandomFactory(index, types, rng, 15).NewTest()
		tc := c.Test()
		if tc.Size() == 0 {
			continue
		}
		pos := rng.Intn(tc.Size())
		referencing := len(tc.Dependents(pos))
		before := tc.Size()

		require.True(t, NewDeleter(nil, types, rng, 0).Delete(tc, pos))
		assert.GreaterOrEqual(t, before-tc.Size(), referencing+1, "seed %d", seed)
		assert.NoError(t, tc.Validate(), "seed %d", seed)
	}
}

func TestDeleteGracefully_Rebinds(t *testing.T) {
	tc := testcase.MustNew(
		testcase.Primitive("int", 1),
		testcase.Primitive("int", 2),
		testcase.Call(newCalc, testcase.NoRef),
		testcase.Call(classify, testcase.ValueRef(2), testcase.ValueRef(1)),
	)
	d := NewDeleter(nil, calcTypes(), newRng(), 0)

	require.True(t, d.DeleteGracefully(tc, 1))
	require.Equal(t, 3, tc.Size())
	call := tc.Statement(2)
	assert.Same(t, classify, call.Op)
	assert.Equal(t, 0, call.Args[0].Pos)
	assert.NoError(t, tc.Validate())
}

func TestDeleteGracefully_SkipsFinalFieldReferences(t *testing.T) {
	size := &testcase.Operation{Kind: testcase.OpMethod, Owner: "Calc", Name: "sizeOf", Params: []string{"Calc"}, Returns: "int"}
	tc := testcase.MustNew(
		testcase.Call(newCalc, testcase.NoRef),
		testcase.Call(newCalc, testcase.NoRef),
		testcase.Call(size, testcase.ValueRef(0), testcase.Ref{Pos: 1, Index: -1, Field: "inner", FinalField: true}),
	)
	d := NewDeleter(nil, calcTypes(), newRng(), 0)

	require.True(t, d.DeleteGracefully(tc, 1))
	assert.Equal(t, 1, tc.Size())
}

func TestDeleteGracefully_DoesNotShrinkArrays(t *testing.T) {
	tc := testcase.MustNew(
		testcase.Array("int[]", 3),
		testcase.Array("int[]", 1),
		testcase.Primitive("int", 7),
		testcase.Assign(testcase.ElementRef(0, 2), testcase.ValueRef(2)),
	)
	d := NewDeleter(nil, calcTypes(), newRng(), 0)

	require.True(t, d.DeleteGracefully(tc, 0))
	require.Equal(t, 2, tc.Size())
	assert.Equal(t, 1, tc.Statement(0).Length)
	assert.NoError(t, tc.Validate())
}

func TestDeleteGracefully_RebindsToLargerArray(t *testing.T) {
	tc := testcase.MustNew(
		testcase.Array("int[]", 4),
		testcase.Array("int[]", 3),
		testcase.Primitive("int", 7),
		testcase.Assign(testcase.ElementRef(1, 2), testcase.ValueRef(2)),
	)
	d := NewDeleter(nil, calcTypes(), newRng(), 0)

	require.True(t, d.DeleteGracefully(tc, 1))
	require.Equal(t, 3, tc.Size())
	assign := tc.Statement(2)
	assert.Equal(t, testcase.ElementRef(0, 2), assign.Target)
}

func TestCallChanger_Candidates(t *testing.T) {
	types := calcTypes()
	index := &mockIndex{ops: allOps, types: types}
	tc := testcase.MustNew(
		testcase.Primitive("int", 1),
		testcase.Call(newCalc, testcase.NoRef),
		testcase.Call(classify, testcase.ValueRef(1), testcase.ValueRef(0)),
	)

	tests := []struct {
		name        string
		constraints Constraints
		pos         int
		want        []*testcase.Operation
	}{
		{
			name:        "own parameterized operation and unsatisfied inputs are excluded",
			constraints: NoConstraints{},
			pos:         2,
			want:        []*testcase.Operation{describe},
		},
		{
			name:        "own parameterless operation stays",
			constraints: NoConstraints{},
			pos:         1,
			want:        []*testcase.Operation{newCalc, newCalcInt, calcOf},
		},
		{
			name:        "pinned values only via constructors",
			constraints: mockConstraints{pinned: map[int]bool{1: true}},
			pos:         1,
			want:        []*testcase.Operation{newCalc, newCalcInt},
		},
		{
			name:        "not a call",
			constraints: NoConstraints{},
			pos:         0,
			want:        nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCallChanger(index, tt.constraints, types, newRng())
			assert.Equal(t, tt.want, c.Candidates(tc, tt.pos))
		})
	}
}

func TestCallChanger_Change(t *testing.T) {
	types := calcTypes()
	index := &mockIndex{ops: allOps, types: types}
	tc := testcase.MustNew(
		testcase.Primitive("int", 1),
		testcase.Call(newCalc, testcase.NoRef),
		testcase.Call(classify, testcase.ValueRef(1), testcase.ValueRef(0)),
	)
	tc.AgeStatements()
	c := NewCallChanger(index, nil, types, newRng())

	require.True(t, c.Change(tc, 2))
	st := tc.Statement(2)
	assert.Same(t, describe, st.Op)
	assert.Equal(t, 1, st.Receiver.Pos)
	assert.Equal(t, "String", st.Type)
	assert.Equal(t, 1, st.Age)

	assert.False(t, c.Change(tc, 0))
	assert.False(t, c.Change(tc, 9))
}

func TestCallChanger_NoCandidateIsNoop(t *testing.T) {
	types := calcTypes()
	index := &mockIndex{ops: []*testcase.Operation{newCalc, classify}, types: types}
	tc := testcase.MustNew(
		testcase.Primitive("int", 1),
		testcase.Call(newCalc, testcase.NoRef),
		testcase.Call(classify, testcase.ValueRef(1), testcase.ValueRef(0)),
	)
	before := tc.String()

	assert.False(t, NewCallChanger(index, nil, types, newRng()).Change(tc, 2))
	assert.Equal(t, before, tc.String())
}

func TestPrimitiveChanger(t *testing.T) {
	tc := testcase.MustNew(
		testcase.Primitive("boolean", true),
		testcase.Primitive("int", 10),
		testcase.Primitive("String", "ab"),
		testcase.Call(newCalc, testcase.NoRef),
	)
	p := &PrimitiveChanger{Rng: newRng()}

	require.True(t, p.Change(tc, 0))
	assert.Equal(t, false, tc.Statement(0).Value)

	for i := 0; i < 20; i++ {
		p.Change(tc, 1)
	}
	assert.IsType(t, 0, tc.Statement(1).Value)

	require.True(t, p.Change(tc, 2))
	s := tc.Statement(2).Value.(string)
	assert.InDelta(t, 2, len(s), 1)

	assert.False(t, p.Change(tc, 3))
}

func TestInserter_BuildsValidTests(t *testing.T) {
	types := calcTypes()
	index := &mockIndex{ops: allOps, types: types}

	for seed := int64(0); seed < 30; seed++ {
		ins := NewInserter(index, types, rand.New(rand.NewSource(seed)), 0)
		tc := testcase.MustNew()
		for i := 0; i < 5; i++ {
			require.True(t, ins.Insert(tc), "seed %d", seed)
		}
		assert.NoError(t, tc.Validate(), "seed %d", seed)
	}
}

func TestInserter_CreatesInputs(t *testing.T) {
	types := calcTypes()
	index := &mockIndex{ops: []*testcase.Operation{newCalc, classify}, types: types}
	ins := NewInserter(index, types, newRng(), 0)
	tc := testcase.MustNew()

	for !containsOp(tc, classify) {
		require.True(t, ins.Insert(tc))
	}
	assert.NoError(t, tc.Validate())
}

func TestInserter_RespectsMaxLength(t *testing.T) {
	types := calcTypes()
	index := &mockIndex{ops: []*testcase.Operation{classify}, types: types}
	ins := NewInserter(index, types, newRng(), 2)
	tc := testcase.MustNew()

	assert.False(t, ins.Insert(tc))
	assert.Equal(t, 0, tc.Size())
}

func TestRandomFactory(t *testing.T) {
	types := calcTypes()
	index := &mockIndex{ops: allOps, types: types}
	f := NewRandomFactory(index, types, newRng(), 8)

	for i := 0; i < 20; i++ {
		c := f.NewTest()
		assert.LessOrEqual(t, c.Size(), 8)
		assert.NoError(t, c.Test().Validate())
		assert.True(t, c.IsChanged())
	}
}

func TestTestMutator_Mutate(t *testing.T) {
	types := calcTypes()
	index := &mockIndex{ops: allOps, types: types}
	cfg := DefaultConfig()
	cfg.DeleteWeight, cfg.ChangeWeight, cfg.InsertWeight = 0, 0, 0
	m := NewTestMutator(cfg, index, nil, types, newRng())

	c := testcase.NewTestChromosome(testcase.MustNew(testcase.Primitive("int", 3)))
	c.SetChanged(false)

	require.True(t, m.Mutate(c))
	assert.True(t, c.IsChanged())
	assert.IsType(t, 0, c.Test().Statement(0).Value)
	assert.Equal(t, 1, c.Test().Statement(0).Age)
	assert.GreaterOrEqual(t, m.Stats().Primitives, 1)
}

func TestTestMutator_NothingApplicable(t *testing.T) {
	types := calcTypes()
	cfg := DefaultConfig()
	cfg.InsertWeight = 0
	m := NewTestMutator(cfg, &mockIndex{types: types}, nil, types, newRng())

	c := testcase.NewTestChromosome(nil)
	assert.False(t, m.Mutate(c))
	assert.Equal(t, Stats{}, m.Stats())
}

func TestTestMutator_KeepsTestsValid(t *testing.T) {
	types := calcTypes()
	index := &mockIndex{ops: allOps, types: types}
	rng := newRng()
	m := NewTestMutator(DefaultConfig(), index, nil, types, rng)
	f := NewRandomFactory(index, types, rng, 10)

	for i := 0; i < 30; i++ {
		c := f.NewTest()
		for j := 0; j < 10; j++ {
			m.Mutate(c)
			require.NoError(t, c.Test().Validate())
		}
		assert.LessOrEqual(t, c.Size(), DefaultConfig().MaxLength)
	}
}

func containsOp(tc *testcase.TestCase, op *testcase.Operation) bool {
	for _, st := range tc.Statements() {
		if st.Op == op {
			return true
		}
	}
	return false
}
