// Package sandbox provides a small instrumented subject whose classes are
// implemented in Go. It plays every collaborator the search consumes:
// static analysis, call graph, generator index, structural constraints and
// test execution.
package sandbox

import (
	"context"
	"fmt"
	"sort"

	"github.com/QTest-hq/qsearch/internal/feature"
	"github.com/QTest-hq/qsearch/internal/goals"
	"github.com/QTest-hq/qsearch/internal/testcase"
	"github.com/QTest-hq/qsearch/internal/trace"
)

// DefaultStepBudget bounds the loop iterations one statement may run.
const DefaultStepBudget = 10000

// Subject is the sandboxed code under test.
type Subject struct {
	types    *testcase.Hierarchy
	budget   int
	branches []*goals.Branch
	lines    []goals.LineTarget
	probes   map[string][]feature.Probe
}

// Option configures a Subject.
type Option func(*Subject)

// WithStepBudget sets the per-statement step budget. Statements exceeding it
// time out.
func WithStepBudget(steps int) Option {
	return func(s *Subject) {
		s.budget = steps
	}
}

// New creates the subject.
func New(opts ...Option) *Subject {
	s := &Subject{
		types:  testcase.NewHierarchy(),
		budget: DefaultStepBudget,
		probes: map[string][]feature.Probe{
			Account: {
				feature.Sign("balance", func(o any) any { return o.(*account).balance }),
				feature.Boolean("frozen", func(o any) any { return o.(*account).frozen }),
			},
			Bank: {
				feature.Boolean("open", func(o any) any { return o.(*bank).open }),
				feature.Sign("transfers", func(o any) any { return o.(*bank).transfers }),
			},
		},
	}
	s.branches, s.lines = controlFlow()
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// controlFlow describes the subject's predicates and the lines they guard.
func controlFlow() ([]*goals.Branch, []goals.LineTarget) {
	b := func(id int, class, method string, line int, deps ...goals.ControlDependency) *goals.Branch {
		return &goals.Branch{ID: id, Class: class, Method: method, Line: line, ControlDependencies: deps, RootDependent: len(deps) == 0}
	}

	negativeInitial := b(brNegativeInitial, Account, "<init>", 12)
	depositFrozen := b(brDepositFrozen, Account, "deposit", 19)
	depositNonPositive := b(brDepositNonPositive, Account, "deposit", 21, goals.ControlDependency{Branch: depositFrozen})
	withdrawFrozen := b(brWithdrawFrozen, Account, "withdraw", 28)
	withdrawOverdraft := b(brWithdrawOverdraft, Account, "withdraw", 30, goals.ControlDependency{Branch: withdrawFrozen})
	transferClosed := b(brTransferClosed, Bank, "transfer", 40)
	transferSelf := b(brTransferSelf, Bank, "transfer", 41, goals.ControlDependency{Branch: transferClosed})
	transferWithdrawn := b(brTransferWithdrawn, Bank, "transfer", 43, goals.ControlDependency{Branch: transferSelf})
	signNegative := b(brSignNegative, Classifier, "sign", 54)
	signZero := b(brSignZero, Classifier, "sign", 56, goals.ControlDependency{Branch: signNegative})
	spinLoop := b(brSpinLoop, Classifier, "spin", 62)
	totalNull := b(brTotalNull, Bank, "total", 70)

	branches := []*goals.Branch{
		negativeInitial, depositFrozen, depositNonPositive, withdrawFrozen, withdrawOverdraft,
		transferClosed, transferSelf, transferWithdrawn, signNegative, signZero, spinLoop, totalNull,
	}
	lines := []goals.LineTarget{
		{Class: Account, Method: "deposit", Line: lineDepositApply, ControlDependencies: []goals.ControlDependency{{Branch: depositNonPositive}}},
		{Class: Account, Method: "withdraw", Line: lineWithdrawApply, ControlDependencies: []goals.ControlDependency{{Branch: withdrawOverdraft}}},
		{Class: Bank, Method: "transfer", Line: lineTransferCount, ControlDependencies: []goals.ControlDependency{{Branch: transferWithdrawn, Outcome: true}}},
		{Class: Classifier, Method: "sign", Line: lineSignPositive, ControlDependencies: []goals.ControlDependency{{Branch: signZero}}},
	}
	return branches, lines
}

// Classes returns the class names the subject declares.
func (s *Subject) Classes() []string {
	return []string{Account, Bank, Classifier}
}

// Types returns the subject's type hierarchy.
func (s *Subject) Types() testcase.TypeSystem {
	return s.types
}

// inScope reports whether class belongs to scope. The empty scope and "*"
// select every class.
func inScope(scope, class string) bool {
	return scope == "" || scope == "*" || scope == class
}

func (s *Subject) checkScope(scope string) error {
	if scope == "" || scope == "*" {
		return nil
	}
	for _, c := range s.Classes() {
		if c == scope {
			return nil
		}
	}
	return fmt.Errorf("unknown class %q", scope)
}

func (s *Subject) Branches(ctx context.Context, scope string) ([]*goals.Branch, error) {
	if err := s.checkScope(scope); err != nil {
		return nil, err
	}
	var out []*goals.Branch
	for _, b := range s.branches {
		if inScope(scope, b.Class) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *Subject) Methods(ctx context.Context, scope string) ([]goals.MethodRef, error) {
	if err := s.checkScope(scope); err != nil {
		return nil, err
	}
	seen := make(map[goals.MethodRef]bool)
	var out []goals.MethodRef
	for _, op := range operations {
		if op.Kind == testcase.OpField || !inScope(scope, op.Owner) {
			continue
		}
		ref := goals.MethodRef{Class: op.Owner, Method: op.Name}
		if !seen[ref] {
			seen[ref] = true
			out = append(out, ref)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Class != out[j].Class {
			return out[i].Class < out[j].Class
		}
		return out[i].Method < out[j].Method
	})
	return out, nil
}

func (s *Subject) Lines(ctx context.Context, scope string) ([]goals.LineTarget, error) {
	if err := s.checkScope(scope); err != nil {
		return nil, err
	}
	var out []goals.LineTarget
	for _, lt := range s.lines {
		if inScope(scope, lt.Class) {
			out = append(out, lt)
		}
	}
	return out, nil
}

// Contexts returns the call paths into the account operations that Bank
// reuses internally. Every other method has no distinct calling contexts.
func (s *Subject) Contexts(class, method string) []trace.Context {
	if class != Account {
		return nil
	}
	var line int
	switch method {
	case "withdraw":
		line = lineTransferCallW
	case "deposit":
		line = lineTransferCallD
	default:
		return nil
	}
	return []trace.Context{
		trace.NewContext(trace.TestEntry),
		trace.NewContext(trace.TestEntry, transferSite(line)),
	}
}

// Generators returns the operations producing a value assignable to typ.
func (s *Subject) Generators(typ string) []*testcase.Operation {
	var out []*testcase.Operation
	for _, op := range operations {
		rt := op.ReturnType()
		if (typ == testcase.Void && rt == testcase.Void) || s.types.Assignable(typ, rt) {
			out = append(out, op)
		}
	}
	return out
}

func (s *Subject) Operations() []*testcase.Operation {
	return append([]*testcase.Operation(nil), operations...)
}

// Operation looks up an operation by its ID.
func (s *Subject) Operation(id string) (*testcase.Operation, bool) {
	for _, op := range operations {
		if op.ID() == id {
			return op, true
		}
	}
	return nil, false
}

// CanDelete permits every deletion.
func (s *Subject) CanDelete(tc *testcase.TestCase, pos int) bool {
	return true
}

// Bound ties a bank's open call to the close calls made on the same bank
// after it.
func (s *Subject) Bound(tc *testcase.TestCase, pos int) []int {
	st := tc.Statement(pos)
	if st.Op != opOpen {
		return nil
	}
	var out []int
	for i := pos + 1; i < tc.Size(); i++ {
		later := tc.Statement(i)
		if later.Op == opClose && later.Receiver.Pos == st.Receiver.Pos {
			out = append(out, i)
		}
	}
	return out
}

// IsPinned reports bank values, which are only ever constructed directly.
func (s *Subject) IsPinned(tc *testcase.TestCase, pos int) bool {
	return tc.Statement(pos).Type == Bank
}

// Goals builds the registry of a scope for the given criteria.
func (s *Subject) Goals(ctx context.Context, scope string, criteria ...goals.Criterion) (*goals.Registry, error) {
	return goals.NewFactory(s, s, criteria...).Build(ctx, scope)
}
