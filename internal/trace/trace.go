// Package trace holds the per-run execution record produced by running a
// candidate test against instrumented code.
package trace

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/QTest-hq/qsearch/internal/feature"
)

// BranchRecord is the minimum true/false distance and the number of
// evaluations of one branch in one context.
type BranchRecord struct {
	TrueDistance  float64 `json:"true_distance"`
	FalseDistance float64 `json:"false_distance"`
	Count         int     `json:"count"`
}

type branchEntry struct {
	ctx Context
	rec BranchRecord
}

type methodEntry struct {
	ctx   Context
	count int
}

// ExecutionTrace is populated by an executor while a test runs and is
// read-only afterwards.
type ExecutionTrace struct {
	branches map[int]map[string]*branchEntry
	methods  map[string]map[string]*methodEntry
	lines    map[string]map[int]int
	features []feature.FeatureVector
}

// NewExecutionTrace creates an empty trace.
func NewExecutionTrace() *ExecutionTrace {
	return &ExecutionTrace{
		branches: make(map[int]map[string]*branchEntry),
		methods:  make(map[string]map[string]*methodEntry),
		lines:    make(map[string]map[int]int),
	}
}

func methodKey(class, method string) string {
	return class + "." + method
}

// RecordBranch notes one evaluation of a predicate with the distances to its
// true and false outcomes.
func (t *ExecutionTrace) RecordBranch(branchID int, ctx Context, trueDistance, falseDistance float64) {
	if trueDistance < 0 || falseDistance < 0 {
		panic(fmt.Sprintf("trace: negative distance for branch %d (%v, %v)", branchID, trueDistance, falseDistance))
	}
	byCtx, ok := t.branches[branchID]
	if !ok {
		byCtx = make(map[string]*branchEntry)
		t.branches[branchID] = byCtx
	}
	e, ok := byCtx[ctx.Key()]
	if !ok {
		byCtx[ctx.Key()] = &branchEntry{
			ctx: ctx,
			rec: BranchRecord{TrueDistance: trueDistance, FalseDistance: falseDistance, Count: 1},
		}
		return
	}
	e.rec.TrueDistance = math.Min(e.rec.TrueDistance, trueDistance)
	e.rec.FalseDistance = math.Min(e.rec.FalseDistance, falseDistance)
	e.rec.Count++
}

// RecordMethod notes one entry into a method under the given context.
func (t *ExecutionTrace) RecordMethod(class, method string, ctx Context) {
	key := methodKey(class, method)
	byCtx, ok := t.methods[key]
	if !ok {
		byCtx = make(map[string]*methodEntry)
		t.methods[key] = byCtx
	}
	e, ok := byCtx[ctx.Key()]
	if !ok {
		e = &methodEntry{ctx: ctx}
		byCtx[ctx.Key()] = e
	}
	e.count++
}

// RecordLine notes one execution of a source line.
func (t *ExecutionTrace) RecordLine(class string, line int) {
	byLine, ok := t.lines[class]
	if !ok {
		byLine = make(map[int]int)
		t.lines[class] = byLine
	}
	byLine[line]++
}

// AddFeatureVector attaches the niche descriptor of one observed object.
func (t *ExecutionTrace) AddFeatureVector(fv feature.FeatureVector) {
	t.features = append(t.features, fv)
}

// Branch returns the record for a branch in exactly the given context.
func (t *ExecutionTrace) Branch(branchID int, ctx Context) (BranchRecord, bool) {
	e, ok := t.branches[branchID][ctx.Key()]
	if !ok {
		return BranchRecord{}, false
	}
	return e.rec, true
}

// BranchAnyContext merges the records of a branch over every context: the
// distances are minimised and the counts summed.
func (t *ExecutionTrace) BranchAnyContext(branchID int) (BranchRecord, bool) {
	byCtx, ok := t.branches[branchID]
	if !ok || len(byCtx) == 0 {
		return BranchRecord{}, false
	}
	merged := BranchRecord{TrueDistance: math.Inf(1), FalseDistance: math.Inf(1)}
	for _, e := range byCtx {
		merged.TrueDistance = math.Min(merged.TrueDistance, e.rec.TrueDistance)
		merged.FalseDistance = math.Min(merged.FalseDistance, e.rec.FalseDistance)
		merged.Count += e.rec.Count
	}
	return merged, true
}

// BranchContexts lists the contexts in which a branch was evaluated.
func (t *ExecutionTrace) BranchContexts(branchID int) []Context {
	byCtx := t.branches[branchID]
	out := make([]Context, 0, len(byCtx))
	for _, e := range byCtx {
		out = append(out, e.ctx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// ExecutedBranches returns the IDs of all evaluated branches in ascending order.
func (t *ExecutionTrace) ExecutedBranches() []int {
	ids := make([]int, 0, len(t.branches))
	for id := range t.branches {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// MethodCalls returns how often a method was entered in the given context.
func (t *ExecutionTrace) MethodCalls(class, method string, ctx Context) int {
	e, ok := t.methods[methodKey(class, method)][ctx.Key()]
	if !ok {
		return 0
	}
	return e.count
}

// MethodCallsAnyContext returns how often a method was entered at all.
func (t *ExecutionTrace) MethodCallsAnyContext(class, method string) int {
	total := 0
	for _, e := range t.methods[methodKey(class, method)] {
		total += e.count
	}
	return total
}

// LineHits returns how often a line was executed.
func (t *ExecutionTrace) LineHits(class string, line int) int {
	return t.lines[class][line]
}

// FeatureVectors returns the niche descriptors recorded during the run.
func (t *ExecutionTrace) FeatureVectors() []feature.FeatureVector {
	return append([]feature.FeatureVector(nil), t.features...)
}

// ExecutionResult is everything an executor reports for one test run.
type ExecutionResult struct {
	Trace *ExecutionTrace `json:"-"`

	// Exceptions maps statement positions to the failure raised there.
	Exceptions map[int]string `json:"exceptions,omitempty"`

	// TimeoutPosition is the statement that exceeded the wall-clock budget,
	// or -1.
	TimeoutPosition int `json:"timeout_position"`

	// ExecutedStatements is the number of statements that ran.
	ExecutedStatements int `json:"executed_statements"`

	Duration time.Duration `json:"duration"`
}

// NewExecutionResult creates a result with an empty trace and no anomalies.
func NewExecutionResult() *ExecutionResult {
	return &ExecutionResult{
		Trace:           NewExecutionTrace(),
		Exceptions:      make(map[int]string),
		TimeoutPosition: -1,
	}
}

func (r *ExecutionResult) HasTimeout() bool {
	return r.TimeoutPosition >= 0
}

func (r *ExecutionResult) HasException() bool {
	return len(r.Exceptions) > 0
}

// FirstExceptionPosition returns the lowest position that raised, or -1.
func (r *ExecutionResult) FirstExceptionPosition() int {
	first := -1
	for pos := range r.Exceptions {
		if first < 0 || pos < first {
			first = pos
		}
	}
	return first
}

// ReportException records a failure at a statement position.
func (r *ExecutionResult) ReportException(pos int, msg string) {
	if r.Exceptions == nil {
		r.Exceptions = make(map[int]string)
	}
	r.Exceptions[pos] = msg
}
