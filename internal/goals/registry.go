package goals

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/QTest-hq/qsearch/internal/trace"
)

// StaticAnalysis enumerates coverage targets for a scope such as a class.
type StaticAnalysis interface {
	Branches(ctx context.Context, scope string) ([]*Branch, error)
	Methods(ctx context.Context, scope string) ([]MethodRef, error)
}

// LineAnalysis is implemented by analyses that also report line targets.
type LineAnalysis interface {
	Lines(ctx context.Context, scope string) ([]LineTarget, error)
}

// CallGraph enumerates the calling contexts of a method. Methods that cannot
// be reached through distinct call paths (private, non-virtual) return none.
type CallGraph interface {
	Contexts(class, method string) []trace.Context
}

// Registry owns the goals of one search run. Goals are deduplicated by
// identity and partitioned into context-free and context-keyed sets.
type Registry struct {
	byKey        map[Key]Goal
	contextFree  map[Key]struct{}
	contextKeyed map[string]map[Key]struct{}
	sorted       []Goal
	dirty        bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byKey:        make(map[Key]Goal),
		contextFree:  make(map[Key]struct{}),
		contextKeyed: make(map[string]map[Key]struct{}),
	}
}

// Add registers a goal and reports whether it was new.
func (r *Registry) Add(g Goal) bool {
	if _, ok := r.byKey[g.key]; ok {
		return false
	}
	r.byKey[g.key] = g
	if g.IsContextSensitive() {
		byCtx, ok := r.contextKeyed[g.key.Context]
		if !ok {
			byCtx = make(map[Key]struct{})
			r.contextKeyed[g.key.Context] = byCtx
		}
		byCtx[g.key] = struct{}{}
	} else {
		r.contextFree[g.key] = struct{}{}
	}
	r.dirty = true
	return true
}

func (r *Registry) Len() int {
	return len(r.byKey)
}

// Get returns the goal with the given identity.
func (r *Registry) Get(k Key) (Goal, bool) {
	g, ok := r.byKey[k]
	return g, ok
}

// Goals returns every goal in identity order.
func (r *Registry) Goals() []Goal {
	if r.dirty || r.sorted == nil {
		r.sorted = make([]Goal, 0, len(r.byKey))
		for _, g := range r.byKey {
			r.sorted = append(r.sorted, g)
		}
		sortGoals(r.sorted)
		r.dirty = false
	}
	return append([]Goal(nil), r.sorted...)
}

// ContextFree returns the goals covered regardless of caller.
func (r *Registry) ContextFree() []Goal {
	return r.collect(r.contextFree)
}

// ContextSensitive returns the goals keyed by a specific calling context.
func (r *Registry) ContextSensitive() []Goal {
	var out []Goal
	for _, byCtx := range r.contextKeyed {
		for k := range byCtx {
			out = append(out, r.byKey[k])
		}
	}
	sortGoals(out)
	return out
}

// InContext returns the goals bound to exactly the given context.
func (r *Registry) InContext(ctx trace.Context) []Goal {
	if ctx.IsEmpty() {
		return r.ContextFree()
	}
	return r.collect(r.contextKeyed[ctx.Key()])
}

func (r *Registry) collect(keys map[Key]struct{}) []Goal {
	out := make([]Goal, 0, len(keys))
	for k := range keys {
		out = append(out, r.byKey[k])
	}
	sortGoals(out)
	return out
}

func sortGoals(gs []Goal) {
	sort.Slice(gs, func(i, j int) bool { return gs[i].Compare(gs[j]) < 0 })
}

// Criterion selects which goal kinds a factory produces.
type Criterion string

const (
	CriterionBranch Criterion = "branch"
	CriterionMethod Criterion = "method"
	CriterionLine   Criterion = "line"
)

// Factory builds the goal registry for a scope from static analysis and the
// call graph.
type Factory struct {
	Analysis  StaticAnalysis
	CallGraph CallGraph
	Criteria  []Criterion
}

// NewFactory creates a factory for the given criteria, defaulting to branch
// coverage.
func NewFactory(analysis StaticAnalysis, callGraph CallGraph, criteria ...Criterion) *Factory {
	if len(criteria) == 0 {
		criteria = []Criterion{CriterionBranch}
	}
	return &Factory{Analysis: analysis, CallGraph: callGraph, Criteria: criteria}
}

// Build enumerates one goal per target and calling context.
func (f *Factory) Build(ctx context.Context, scope string) (*Registry, error) {
	if f.Analysis == nil {
		return nil, fmt.Errorf("static analysis is required")
	}
	reg := NewRegistry()

	for _, c := range f.Criteria {
		var err error
		switch c {
		case CriterionBranch:
			err = f.addBranchGoals(ctx, reg, scope)
		case CriterionMethod:
			err = f.addMethodGoals(ctx, reg, scope, nil)
		case CriterionLine:
			err = f.addLineGoals(ctx, reg, scope)
		default:
			err = fmt.Errorf("unknown criterion: %s", c)
		}
		if err != nil {
			return nil, err
		}
	}

	log.Debug().
		Str("scope", scope).
		Int("goals", reg.Len()).
		Int("context_free", len(reg.contextFree)).
		Msg("coverage goals built")

	return reg, nil
}

func (f *Factory) contexts(class, method string) []trace.Context {
	if f.CallGraph == nil {
		return nil
	}
	return f.CallGraph.Contexts(class, method)
}

func (f *Factory) addBranchGoals(ctx context.Context, reg *Registry, scope string) error {
	branches, err := f.Analysis.Branches(ctx, scope)
	if err != nil {
		return fmt.Errorf("failed to enumerate branches: %w", err)
	}

	withBranches := make(map[MethodRef]bool)
	for _, b := range branches {
		withBranches[MethodRef{Class: b.Class, Method: b.Method}] = true
		ctxs := f.contexts(b.Class, b.Method)
		if len(ctxs) == 0 {
			ctxs = []trace.Context{trace.EmptyContext}
		}
		for _, c := range ctxs {
			for _, outcome := range []bool{true, false} {
				g, err := NewBranchGoal(b, outcome, c)
				if err != nil {
					return err
				}
				reg.Add(g)
			}
		}
	}

	// branchless methods are covered by entering them
	return f.addMethodGoals(ctx, reg, scope, withBranches)
}

func (f *Factory) addMethodGoals(ctx context.Context, reg *Registry, scope string, skip map[MethodRef]bool) error {
	methods, err := f.Analysis.Methods(ctx, scope)
	if err != nil {
		return fmt.Errorf("failed to enumerate methods: %w", err)
	}
	for _, m := range methods {
		if skip[m] {
			continue
		}
		ctxs := f.contexts(m.Class, m.Method)
		if len(ctxs) == 0 {
			reg.Add(NewMethodGoal(m.Class, m.Method, trace.EmptyContext))
			continue
		}
		for _, c := range ctxs {
			reg.Add(NewMethodGoal(m.Class, m.Method, c))
		}
	}
	return nil
}

func (f *Factory) addLineGoals(ctx context.Context, reg *Registry, scope string) error {
	la, ok := f.Analysis.(LineAnalysis)
	if !ok {
		return fmt.Errorf("line criterion requires an analysis that reports lines")
	}
	lines, err := la.Lines(ctx, scope)
	if err != nil {
		return fmt.Errorf("failed to enumerate lines: %w", err)
	}
	for _, lt := range lines {
		g, err := NewLineGoal(lt)
		if err != nil {
			return err
		}
		reg.Add(g)
	}
	return nil
}
