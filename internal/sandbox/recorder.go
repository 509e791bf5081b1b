package sandbox

import (
	"errors"
	"fmt"

	"github.com/QTest-hq/qsearch/internal/trace"
)

// errBudget aborts a statement whose execution exceeded the step budget.
var errBudget = errors.New("step budget exhausted")

// thrown is an exception raised by subject code.
type thrown struct {
	class string
	msg   string
}

func (t *thrown) Error() string {
	if t.msg == "" {
		return t.class
	}
	return t.class + ": " + t.msg
}

func throw(class, format string, args ...any) error {
	return &thrown{class: class, msg: fmt.Sprintf(format, args...)}
}

// recorder is the instrumentation the subject reports to. It tracks the
// call-site stack so every event carries the context it happened in.
type recorder struct {
	trace  *trace.ExecutionTrace
	stack  []trace.CallSite
	steps  int
	budget int
}

func newRecorder(tr *trace.ExecutionTrace, budget int) *recorder {
	return &recorder{
		trace:  tr,
		stack:  []trace.CallSite{trace.TestEntry},
		budget: budget,
	}
}

func (r *recorder) context() trace.Context {
	return trace.NewContext(r.stack...)
}

// enter records a method entry in the current context.
func (r *recorder) enter(class, method string) {
	r.trace.RecordMethod(class, method, r.context())
}

// call runs fn as a nested call made from site.
func (r *recorder) call(site trace.CallSite, fn func() (any, error)) (any, error) {
	r.stack = append(r.stack, site)
	defer func() { r.stack = r.stack[:len(r.stack)-1] }()
	return fn()
}

func (r *recorder) line(class string, line int) {
	r.trace.RecordLine(class, line)
}

// tick consumes one step of the budget.
func (r *recorder) tick() error {
	r.steps++
	if r.budget > 0 && r.steps > r.budget {
		return errBudget
	}
	return nil
}

// less evaluates a < b at a branch, recording both distances.
func (r *recorder) less(id, a, b int) bool {
	if a < b {
		r.trace.RecordBranch(id, r.context(), 0, float64(b-a))
		return true
	}
	r.trace.RecordBranch(id, r.context(), float64(a-b)+1, 0)
	return false
}

// lessEq evaluates a <= b at a branch.
func (r *recorder) lessEq(id, a, b int) bool {
	return r.less(id, a, b+1)
}

// equal evaluates a == b at a branch.
func (r *recorder) equal(id, a, b int) bool {
	if a == b {
		r.trace.RecordBranch(id, r.context(), 0, 1)
		return true
	}
	d := a - b
	if d < 0 {
		d = -d
	}
	r.trace.RecordBranch(id, r.context(), float64(d), 0)
	return false
}

// truth evaluates a plain boolean condition at a branch.
func (r *recorder) truth(id int, cond bool) bool {
	if cond {
		r.trace.RecordBranch(id, r.context(), 0, 1)
	} else {
		r.trace.RecordBranch(id, r.context(), 1, 0)
	}
	return cond
}
