// Package goals defines coverage goals, their identity, and how far an
// execution trace is from satisfying them.
package goals

import (
	"errors"
	"fmt"
	"strings"

	"github.com/QTest-hq/qsearch/internal/trace"
	"github.com/QTest-hq/qsearch/pkg/distance"
)

// ErrNoControlDependency is returned for a branch or line that has neither
// control dependencies nor root-dependency status.
var ErrNoControlDependency = errors.New("target has no control dependencies and is not root dependent")

// Kind distinguishes the goal variants.
type Kind uint8

const (
	KindMethod Kind = iota
	KindLine
	KindBranch
)

func (k Kind) String() string {
	switch k {
	case KindMethod:
		return "method"
	case KindLine:
		return "line"
	case KindBranch:
		return "branch"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ControlDependency says a target runs only when Branch evaluates to Outcome.
type ControlDependency struct {
	Branch  *Branch
	Outcome bool
}

// Branch is a conditional jump as reported by static analysis.
type Branch struct {
	ID     int
	Class  string
	Method string
	Line   int

	ControlDependencies []ControlDependency

	// RootDependent marks branches that execute whenever their method is
	// entered.
	RootDependent bool
}

// Validate checks that the branch can be reached through the dependency graph.
func (b *Branch) Validate() error {
	if b == nil {
		return errors.New("branch is nil")
	}
	if len(b.ControlDependencies) == 0 && !b.RootDependent {
		return fmt.Errorf("branch %d in %s.%s: %w", b.ID, b.Class, b.Method, ErrNoControlDependency)
	}
	for i, cd := range b.ControlDependencies {
		if cd.Branch == nil {
			return fmt.Errorf("branch %d: control dependency %d has no branch", b.ID, i)
		}
	}
	return nil
}

// MethodRef names a method under test.
type MethodRef struct {
	Class  string
	Method string
}

// LineTarget is a source line together with the branches guarding it.
type LineTarget struct {
	Class               string
	Method              string
	Line                int
	ControlDependencies []ControlDependency
	RootDependent       bool
}

// Key is the comparable identity of a goal.
type Key struct {
	Kind     Kind
	Class    string
	Method   string
	Line     int
	BranchID int
	Outcome  bool
	Context  string
}

// Compare orders keys totally.
func (k Key) Compare(o Key) int {
	if c := cmpInt(int(k.Kind), int(o.Kind)); c != 0 {
		return c
	}
	if c := strings.Compare(k.Class, o.Class); c != 0 {
		return c
	}
	if c := strings.Compare(k.Method, o.Method); c != 0 {
		return c
	}
	if c := cmpInt(k.Line, o.Line); c != 0 {
		return c
	}
	if c := cmpInt(k.BranchID, o.BranchID); c != 0 {
		return c
	}
	if k.Outcome != o.Outcome {
		if !k.Outcome {
			return -1
		}
		return 1
	}
	return strings.Compare(k.Context, o.Context)
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Goal is one coverage target. Goals are immutable values.
type Goal struct {
	key Key

	branch        *Branch
	deps          []ControlDependency
	rootDependent bool
	ctx           trace.Context
}

// NewBranchGoal targets one outcome of a branch, optionally in a context.
func NewBranchGoal(b *Branch, outcome bool, ctx trace.Context) (Goal, error) {
	if err := b.Validate(); err != nil {
		return Goal{}, err
	}
	return Goal{
		key: Key{
			Kind:     KindBranch,
			Class:    b.Class,
			Method:   b.Method,
			Line:     b.Line,
			BranchID: b.ID,
			Outcome:  outcome,
			Context:  ctx.Key(),
		},
		branch: b,
		ctx:    ctx,
	}, nil
}

// MustBranchGoal is like NewBranchGoal but panics on a contract violation.
func MustBranchGoal(b *Branch, outcome bool, ctx trace.Context) Goal {
	g, err := NewBranchGoal(b, outcome, ctx)
	if err != nil {
		panic(err)
	}
	return g
}

// NewMethodGoal targets entering a method, optionally in a context.
func NewMethodGoal(class, method string, ctx trace.Context) Goal {
	return Goal{
		key: Key{
			Kind:     KindMethod,
			Class:    class,
			Method:   method,
			BranchID: -1,
			Context:  ctx.Key(),
		},
		rootDependent: true,
		ctx:           ctx,
	}
}

// NewLineGoal targets executing a source line.
func NewLineGoal(lt LineTarget) (Goal, error) {
	if len(lt.ControlDependencies) == 0 && !lt.RootDependent {
		return Goal{}, fmt.Errorf("line %s:%d: %w", lt.Class, lt.Line, ErrNoControlDependency)
	}
	return Goal{
		key: Key{
			Kind:     KindLine,
			Class:    lt.Class,
			Method:   lt.Method,
			Line:     lt.Line,
			BranchID: -1,
		},
		deps:          append([]ControlDependency(nil), lt.ControlDependencies...),
		rootDependent: lt.RootDependent,
		ctx:           trace.EmptyContext,
	}, nil
}

func (g Goal) Key() Key {
	return g.key
}

func (g Goal) Kind() Kind {
	return g.key.Kind
}

func (g Goal) Class() string {
	return g.key.Class
}

func (g Goal) Method() string {
	return g.key.Method
}

func (g Goal) Outcome() bool {
	return g.key.Outcome
}

func (g Goal) Context() trace.Context {
	return g.ctx
}

// Branch returns the targeted branch for branch goals and nil otherwise.
func (g Goal) Branch() *Branch {
	return g.branch
}

func (g Goal) IsContextSensitive() bool {
	return !g.ctx.IsEmpty()
}

// Equal compares goal identity.
func (g Goal) Equal(o Goal) bool {
	return g.key == o.key
}

// Compare orders goals by identity.
func (g Goal) Compare(o Goal) int {
	return g.key.Compare(o.key)
}

func (g Goal) String() string {
	var sb strings.Builder
	sb.WriteString(g.key.Kind.String())
	sb.WriteByte(' ')
	sb.WriteString(g.key.Class)
	sb.WriteByte('.')
	sb.WriteString(g.key.Method)
	switch g.key.Kind {
	case KindBranch:
		fmt.Fprintf(&sb, " #%d:%d %t", g.key.BranchID, g.key.Line, g.key.Outcome)
	case KindLine:
		fmt.Fprintf(&sb, " :%d", g.key.Line)
	}
	if !g.ctx.IsEmpty() {
		sb.WriteString(" @ ")
		sb.WriteString(g.ctx.String())
	}
	return sb.String()
}

// Distance computes how far the trace is from satisfying the goal.
func (g Goal) Distance(tr *trace.ExecutionTrace) distance.ControlFlowDistance {
	switch g.key.Kind {
	case KindBranch:
		d, ok := branchDistance(tr, g.branch, g.key.Outcome, g.ctx, make(map[int]bool))
		if !ok {
			return distance.MustNew(depth(g.branch, make(map[int]bool)), 0)
		}
		return d
	case KindLine:
		return g.lineDistance(tr)
	default:
		return g.methodDistance(tr)
	}
}

// IsCoveredBy reports whether the trace satisfies the goal.
func (g Goal) IsCoveredBy(tr *trace.ExecutionTrace) bool {
	return g.Distance(tr).IsCovered()
}

// Observe reports how often the goal's target point executed in the goal's
// context and the smallest raw distance seen to the required outcome.
func (g Goal) Observe(tr *trace.ExecutionTrace) (count int, dist float64) {
	switch g.key.Kind {
	case KindBranch:
		rec, ok := branchRecord(tr, g.key.BranchID, g.ctx)
		if !ok {
			return 0, 0
		}
		if g.key.Outcome {
			return rec.Count, rec.TrueDistance
		}
		return rec.Count, rec.FalseDistance
	case KindLine:
		return tr.LineHits(g.key.Class, g.key.Line), 0
	default:
		return methodCalls(tr, g.key.Class, g.key.Method, g.ctx), 0
	}
}

func (g Goal) methodDistance(tr *trace.ExecutionTrace) distance.ControlFlowDistance {
	if methodCalls(tr, g.key.Class, g.key.Method, g.ctx) > 0 {
		return distance.ControlFlowDistance{}
	}
	return distance.MustNew(1, 0)
}

func (g Goal) lineDistance(tr *trace.ExecutionTrace) distance.ControlFlowDistance {
	if tr.LineHits(g.key.Class, g.key.Line) > 0 {
		return distance.ControlFlowDistance{}
	}
	var candidates []distance.ControlFlowDistance
	if g.rootDependent {
		if tr.MethodCallsAnyContext(g.key.Class, g.key.Method) > 0 {
			// entered but left before the line
			candidates = append(candidates, distance.MustNew(0, 1))
		} else {
			candidates = append(candidates, distance.MustNew(1, 0))
		}
	}
	visited := make(map[int]bool)
	for _, cd := range g.deps {
		if d, ok := branchDistance(tr, cd.Branch, cd.Outcome, g.ctx, visited); ok {
			candidates = append(candidates, d)
		}
	}
	if len(candidates) == 0 {
		return distance.MustNew(len(g.deps)+1, 0)
	}
	return distance.Min(candidates...)
}

func branchRecord(tr *trace.ExecutionTrace, id int, ctx trace.Context) (trace.BranchRecord, bool) {
	if ctx.IsEmpty() {
		return tr.BranchAnyContext(id)
	}
	return tr.Branch(id, ctx)
}

func methodCalls(tr *trace.ExecutionTrace, class, method string, ctx trace.Context) int {
	if ctx.IsEmpty() {
		return tr.MethodCallsAnyContext(class, method)
	}
	return tr.MethodCalls(class, method, ctx)
}

// branchDistance walks control dependencies backwards from b until it finds
// an executed predicate, adding one approach level per unmet edge.
func branchDistance(tr *trace.ExecutionTrace, b *Branch, outcome bool, ctx trace.Context, visited map[int]bool) (distance.ControlFlowDistance, bool) {
	if visited[b.ID] {
		return distance.ControlFlowDistance{}, false
	}
	visited[b.ID] = true

	if rec, ok := branchRecord(tr, b.ID, ctx); ok {
		if outcome {
			return distance.MustNew(0, rec.TrueDistance), true
		}
		return distance.MustNew(0, rec.FalseDistance), true
	}

	if len(b.ControlDependencies) == 0 && !b.RootDependent {
		panic(fmt.Errorf("branch %d in %s.%s: %w", b.ID, b.Class, b.Method, ErrNoControlDependency))
	}

	var candidates []distance.ControlFlowDistance
	if b.RootDependent {
		candidates = append(candidates, distance.MustNew(1, 0))
	}
	for _, cd := range b.ControlDependencies {
		d, ok := branchDistance(tr, cd.Branch, cd.Outcome, ctx, visited)
		if !ok {
			continue
		}
		d.IncreaseApproachLevel()
		candidates = append(candidates, d)
	}
	if len(candidates) == 0 {
		return distance.ControlFlowDistance{}, false
	}
	return distance.Min(candidates...), true
}

// depth is the longest dependency chain from b back to its method entry.
func depth(b *Branch, visited map[int]bool) int {
	if visited[b.ID] {
		return 1
	}
	visited[b.ID] = true
	best := 1
	for _, cd := range b.ControlDependencies {
		if d := depth(cd.Branch, visited) + 1; d > best {
			best = d
		}
	}
	return best
}
