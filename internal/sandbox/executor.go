package sandbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/QTest-hq/qsearch/internal/feature"
	"github.com/QTest-hq/qsearch/internal/testcase"
	"github.com/QTest-hq/qsearch/internal/trace"
)

// Execute runs a test statement by statement. Execution stops at the first
// exception or at a statement exceeding the step budget; both are reported
// in the result, not as errors. An error means the test could not be run.
func (s *Subject) Execute(ctx context.Context, tc *testcase.TestCase) (*trace.ExecutionResult, error) {
	start := time.Now()
	result := trace.NewExecutionResult()
	values := make([]any, tc.Size())

	for pos, st := range tc.Statements() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, err := s.run(newRecorder(result.Trace, s.budget), st, values)
		result.ExecutedStatements++
		if errors.Is(err, errBudget) {
			result.TimeoutPosition = pos
			break
		}
		var ex *thrown
		if errors.As(err, &ex) {
			result.ReportException(pos, ex.Error())
			break
		}
		if err != nil {
			return nil, fmt.Errorf("statement %d: %w", pos, err)
		}
		values[pos] = v
	}
	s.observe(result.Trace, values)

	result.Duration = time.Since(start)
	log.Debug().
		Int("statements", tc.Size()).
		Int("executed", result.ExecutedStatements).
		Int("timeout_position", result.TimeoutPosition).
		Int("exceptions", len(result.Exceptions)).
		Msg("test executed")
	return result, nil
}

func (s *Subject) run(r *recorder, st *testcase.Statement, values []any) (any, error) {
	switch st.Kind {
	case testcase.StmtPrimitive:
		return st.Value, nil
	case testcase.StmtNull:
		return nil, nil
	case testcase.StmtArray:
		return make([]any, st.Length), nil
	case testcase.StmtAssignment:
		return nil, assign(st, values)
	}

	m, ok := methods[st.Op]
	if !ok {
		return nil, fmt.Errorf("unknown operation %s", st.Op.ID())
	}
	var recv any
	if st.Receiver.Valid() {
		var err error
		if recv, err = deref(st.Receiver, values); err != nil {
			return nil, err
		}
		if recv == nil {
			return nil, throw("NullPointerException", "receiver of %s", st.Op.Name)
		}
	}
	args := make([]any, len(st.Args))
	for i, ref := range st.Args {
		v, err := deref(ref, values)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return m(r, recv, args)
}

// deref reads the value, element or field a reference points at.
func deref(ref testcase.Ref, values []any) (any, error) {
	v := values[ref.Pos]
	switch {
	case ref.Index >= 0:
		arr, ok := v.([]any)
		if !ok {
			return nil, throw("NullPointerException", "array %s", ref)
		}
		if ref.Index >= len(arr) {
			return nil, throw("ArrayIndexOutOfBoundsException", "%s", ref)
		}
		return arr[ref.Index], nil
	case ref.Field != "":
		a, ok := v.(*account)
		if !ok || a == nil {
			return nil, throw("NullPointerException", "field %s", ref)
		}
		if ref.Field != "balance" {
			return nil, fmt.Errorf("unknown field %s", ref)
		}
		return a.balance, nil
	}
	return v, nil
}

func assign(st *testcase.Statement, values []any) error {
	v, err := deref(st.Source, values)
	if err != nil {
		return err
	}
	t := st.Target
	switch {
	case t.Index >= 0:
		arr, ok := values[t.Pos].([]any)
		if !ok {
			return throw("NullPointerException", "array %s", t)
		}
		if t.Index >= len(arr) {
			return throw("ArrayIndexOutOfBoundsException", "%s", t)
		}
		arr[t.Index] = v
	case t.Field == "balance":
		a, ok := values[t.Pos].(*account)
		if !ok || a == nil {
			return throw("NullPointerException", "field %s", t)
		}
		a.balance = intArg(v)
	default:
		values[t.Pos] = v
	}
	return nil
}

// observe adds the feature vector of every distinct subject object the
// test ended with.
func (s *Subject) observe(tr *trace.ExecutionTrace, values []any) {
	seen := make(map[any]bool)
	for _, v := range values {
		var probes []feature.Probe
		switch o := v.(type) {
		case *account:
			if o != nil {
				probes = s.probes[Account]
			}
		case *bank:
			if o != nil {
				probes = s.probes[Bank]
			}
		}
		if len(probes) == 0 || seen[v] {
			continue
		}
		seen[v] = true
		tr.AddFeatureVector(feature.Extract(v, probes))
	}
}
