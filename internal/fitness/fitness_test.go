package fitness

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/QTest-hq/qsearch/internal/goals"
	"github.com/QTest-hq/qsearch/internal/testcase"
	"github.com/QTest-hq/qsearch/internal/trace"
	"github.com/QTest-hq/qsearch/pkg/distance"
)

// mockExecutor builds results from a function and counts executions.
type mockExecutor struct {
	run   func(tc *testcase.TestCase) *trace.ExecutionResult
	err   error
	calls int
}

func (m *mockExecutor) Execute(ctx context.Context, tc *testcase.TestCase) (*trace.ExecutionResult, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.run(tc), nil
}

var (
	ctor   = &testcase.Operation{Kind: testcase.OpConstructor, Owner: "Calc", Name: "<init>"}
	branch = &goals.Branch{ID: 1, Class: "Calc", Method: "check", Line: 10, RootDependent: true}
)

func oneStatementTest() *testcase.TestChromosome {
	return testcase.NewTestChromosome(testcase.MustNew(testcase.Call(ctor, testcase.NoRef)))
}

func resultWith(record func(tr *trace.ExecutionTrace)) func(*testcase.TestCase) *trace.ExecutionResult {
	return func(tc *testcase.TestCase) *trace.ExecutionResult {
		r := trace.NewExecutionResult()
		r.ExecutedStatements = tc.Size()
		record(r.Trace)
		return r
	}
}

func TestSuiteFitness_TwoGoalExample(t *testing.T) {
	neverInvoked := goals.NewMethodGoal("Calc", "reset", trace.EmptyContext)
	covered := goals.MustBranchGoal(branch, true, trace.EmptyContext)

	exec := &mockExecutor{run: resultWith(func(tr *trace.ExecutionTrace) {
		tr.RecordBranch(1, trace.EmptyContext, 0, 2)
	})}
	f := NewSuiteFitness("branch", []goals.Goal{neverInvoked, covered}, NewRunner(exec))

	suite := testcase.NewSuite(oneStatementTest())
	eval, err := f.Evaluate(context.Background(), suite)
	require.NoError(t, err)

	assert.Equal(t, 1.0, eval.Fitness)
	assert.Equal(t, 0.5, eval.Coverage)
	assert.Equal(t, 1, eval.Covered)
	assert.False(t, eval.Complete())

	fit, ok := suite.Fitness("branch")
	require.True(t, ok)
	assert.Equal(t, 1.0, fit)
	assert.Equal(t, 1, suite.NumCovered("branch"))

	d := eval.Distances()
	assert.Equal(t, 1.0, d[neverInvoked.Key()])
	assert.Equal(t, 0.0, d[covered.Key()])

	require.Len(t, eval.Uncovered(), 1)
	assert.True(t, eval.Uncovered()[0].Goal.Equal(neverInvoked))
}

func TestSuiteFitness_Contributions(t *testing.T) {
	g := goals.MustBranchGoal(branch, true, trace.EmptyContext)

	tests := []struct {
		name   string
		record func(tr *trace.ExecutionTrace)
		want   float64
	}{
		{
			name:   "never invoked",
			record: func(tr *trace.ExecutionTrace) {},
			want:   1,
		},
		{
			name: "invoked but missed",
			record: func(tr *trace.ExecutionTrace) {
				tr.RecordBranch(1, trace.EmptyContext, 3, 0)
			},
			want: distance.Normalize(3),
		},
		{
			name: "minimum over executions",
			record: func(tr *trace.ExecutionTrace) {
				tr.RecordBranch(1, trace.EmptyContext, 3, 0)
				tr.RecordBranch(1, trace.EmptyContext, 1, 0)
			},
			want: distance.Normalize(1),
		},
		{
			name: "covered",
			record: func(tr *trace.ExecutionTrace) {
				tr.RecordBranch(1, trace.EmptyContext, 0, 1)
			},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &mockExecutor{run: resultWith(tt.record)}
			f := NewSuiteFitness("branch", []goals.Goal{g}, NewRunner(exec))

			eval, err := f.Evaluate(context.Background(), testcase.NewSuite(oneStatementTest()))
			require.NoError(t, err)
			assert.InDelta(t, tt.want, eval.Fitness, 1e-12)
		})
	}
}

func TestSuiteFitness_BestTestWins(t *testing.T) {
	g := goals.MustBranchGoal(branch, true, trace.EmptyContext)

	// Tests with two statements reach the branch with distance 0, shorter ones
	// miss it by 4.
	exec := &mockExecutor{run: func(tc *testcase.TestCase) *trace.ExecutionResult {
		r := trace.NewExecutionResult()
		if tc.Size() == 2 {
			r.Trace.RecordBranch(1, trace.EmptyContext, 0, 1)
		} else {
			r.Trace.RecordBranch(1, trace.EmptyContext, 4, 0)
		}
		return r
	}}

	near := oneStatementTest()
	hit := testcase.NewTestChromosome(testcase.MustNew(
		testcase.Call(ctor, testcase.NoRef),
		testcase.Call(ctor, testcase.NoRef),
	))
	f := NewSuiteFitness("branch", []goals.Goal{g}, NewRunner(exec))

	eval, err := f.Evaluate(context.Background(), testcase.NewSuite(near, hit))
	require.NoError(t, err)

	assert.Equal(t, 0.0, eval.Fitness)
	assert.Equal(t, 1.0, eval.Coverage)
	assert.True(t, hit.Covers(g.Key()))
	assert.False(t, near.Covers(g.Key()))
}

func TestSuiteFitness_ContextMismatchIsNeverInvoked(t *testing.T) {
	site := func(line int) trace.Context {
		return trace.NewContext(trace.TestEntry, trace.CallSite{Class: "Calc", Method: "run", Line: line})
	}
	g := goals.MustBranchGoal(branch, true, site(5))

	exec := &mockExecutor{run: resultWith(func(tr *trace.ExecutionTrace) {
		tr.RecordBranch(1, site(7), 0, 1)
	})}
	f := NewSuiteFitness("branch", []goals.Goal{g}, NewRunner(exec))

	eval, err := f.Evaluate(context.Background(), testcase.NewSuite(oneStatementTest()))
	require.NoError(t, err)
	assert.Equal(t, 1.0, eval.Fitness)
	assert.Equal(t, 0.0, eval.Coverage)
}

func TestSuiteFitness_NoGoals(t *testing.T) {
	exec := &mockExecutor{run: resultWith(func(tr *trace.ExecutionTrace) {})}
	f := NewSuiteFitness("branch", nil, NewRunner(exec))

	eval, err := f.Evaluate(context.Background(), testcase.NewSuite())
	require.NoError(t, err)
	assert.Equal(t, 1.0, eval.Coverage)
	assert.Equal(t, 0.0, eval.Fitness)
	assert.True(t, eval.Complete())
}

func TestSuiteFitness_Memoized(t *testing.T) {
	g := goals.MustBranchGoal(branch, false, trace.EmptyContext)
	exec := &mockExecutor{run: resultWith(func(tr *trace.ExecutionTrace) {
		tr.RecordBranch(1, trace.EmptyContext, 0, 2)
	})}
	runner := NewRunner(exec)
	f := NewSuiteFitness("branch", []goals.Goal{g}, runner)
	test := oneStatementTest()
	suite := testcase.NewSuite(test)

	first, err := f.Evaluate(context.Background(), suite)
	require.NoError(t, err)
	firstResult := test.LastResult()

	second, err := f.Evaluate(context.Background(), suite)
	require.NoError(t, err)

	assert.Equal(t, 1, exec.calls)
	assert.Same(t, firstResult, test.LastResult())
	assert.Equal(t, first.Fitness, second.Fitness)
	assert.Equal(t, 1, runner.Executions())
	assert.Equal(t, 1, runner.CacheHits())

	test.SetChanged(true)
	_, err = f.Evaluate(context.Background(), suite)
	require.NoError(t, err)
	assert.Equal(t, 2, exec.calls)
}

func TestSuiteFitness_ExecutorError(t *testing.T) {
	exec := &mockExecutor{err: errors.New("sandbox unavailable")}
	f := NewSuiteFitness("branch", nil, NewRunner(exec))

	_, err := f.Evaluate(context.Background(), testcase.NewSuite(oneStatementTest()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sandbox unavailable")
}

func TestRunner_TruncatesOnFinalTimeout(t *testing.T) {
	exec := &mockExecutor{run: func(tc *testcase.TestCase) *trace.ExecutionResult {
		r := trace.NewExecutionResult()
		r.TimeoutPosition = tc.Size() - 1
		return r
	}}
	runner := NewRunner(exec)

	var hooked int
	runner.OnExecuted(func(c *testcase.TestChromosome, r *trace.ExecutionResult) { hooked++ })

	c := testcase.NewTestChromosome(testcase.MustNew(
		testcase.Call(ctor, testcase.NoRef),
		testcase.Call(ctor, testcase.NoRef),
		testcase.Call(ctor, testcase.NoRef),
	))
	_, err := runner.Run(context.Background(), c)
	require.NoError(t, err)

	assert.Equal(t, 2, c.Size())
	assert.False(t, c.IsChanged())
	assert.Equal(t, 1, hooked)
}

func TestRunner_KeepsTestOnEarlierTimeout(t *testing.T) {
	exec := &mockExecutor{run: func(tc *testcase.TestCase) *trace.ExecutionResult {
		r := trace.NewExecutionResult()
		r.TimeoutPosition = 0
		return r
	}}
	c := testcase.NewTestChromosome(testcase.MustNew(
		testcase.Call(ctor, testcase.NoRef),
		testcase.Call(ctor, testcase.NoRef),
	))

	_, err := NewRunner(exec).Run(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Size())
}

func TestGoalFitness_Evaluate(t *testing.T) {
	g := goals.MustBranchGoal(branch, true, trace.EmptyContext)
	exec := &mockExecutor{run: resultWith(func(tr *trace.ExecutionTrace) {
		tr.RecordBranch(1, trace.EmptyContext, 1, 0)
	})}
	f := NewGoalFitness(g, NewRunner(exec))
	c := oneStatementTest()

	d, err := f.Evaluate(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, 0, d.ApproachLevel())
	assert.Equal(t, 1.0, d.BranchDistance())

	fit, ok := c.Fitness(f.Name())
	require.True(t, ok)
	assert.Equal(t, 0.5, fit)
	assert.False(t, c.Covers(g.Key()))
}

func TestGoalFitness_MarksCovered(t *testing.T) {
	g := goals.NewMethodGoal("Calc", "check", trace.EmptyContext)
	exec := &mockExecutor{run: resultWith(func(tr *trace.ExecutionTrace) {
		tr.RecordMethod("Calc", "check", trace.NewContext(trace.TestEntry))
	})}
	c := oneStatementTest()

	d, err := NewGoalFitness(g, NewRunner(exec)).Evaluate(context.Background(), c)
	require.NoError(t, err)
	assert.True(t, d.IsCovered())
	assert.True(t, c.Covers(g.Key()))
}
