// Package mutation implements the variation operators applied to tests:
// dependency-aware deletion, call replacement, call insertion and
// primitive value changes.
package mutation

import (
	"math/rand"
	"strings"

	"github.com/QTest-hq/qsearch/internal/testcase"
)

// GeneratorIndex lists the accessible operations of the code under test.
type GeneratorIndex interface {
	// Generators returns the operations producing a value assignable to
	// typ. For testcase.Void it returns operations without a result.
	Generators(typ string) []*testcase.Operation

	// Operations returns every accessible operation.
	Operations() []*testcase.Operation
}

// Constraints reports structural restrictions on a test.
type Constraints interface {
	// CanDelete reports whether the statement at pos may be removed.
	CanDelete(tc *testcase.TestCase, pos int) bool

	// Bound returns the positions that must be deleted together with pos
	// even though they do not reference it.
	Bound(tc *testcase.TestCase, pos int) []int

	// IsPinned reports whether the value at pos is fixed in place and may
	// only be re-created through a constructor.
	IsPinned(tc *testcase.TestCase, pos int) bool
}

// NoConstraints permits every edit.
type NoConstraints struct{}

func (NoConstraints) CanDelete(*testcase.TestCase, int) bool {
	return true
}

func (NoConstraints) Bound(*testcase.TestCase, int) []int {
	return nil
}

func (NoConstraints) IsPinned(*testcase.TestCase, int) bool {
	return false
}

// String is the one reference type that primitive statements can hold.
const String = "String"

const letters = "abcdefghijklmnopqrstuvwxyz"

// RandomValue draws a constant for a primitive or String type. Integral
// types yield int, floating types float64, boolean bool and String string.
func RandomValue(typ string, rng *rand.Rand) any {
	switch typ {
	case "boolean":
		return rng.Intn(2) == 0
	case "float", "double":
		return (rng.Float64()*2 - 1) * 100
	case "char":
		return int(letters[rng.Intn(len(letters))])
	case "byte":
		return rng.Intn(256) - 128
	case String:
		return randomString(rng, rng.Intn(6))
	default:
		return rng.Intn(201) - 100
	}
}

func randomString(rng *rand.Rand, n int) string {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		sb.WriteByte(letters[rng.Intn(len(letters))])
	}
	return sb.String()
}

// isConstantType reports whether values of typ are written as literals.
func isConstantType(ts testcase.TypeSystem, typ string) bool {
	return typ == String || ts.IsPrimitive(typ)
}

// bind builds a call to op at pos, drawing the receiver and every argument
// uniformly from the compatible values in scope. It fails if any input has
// no candidate.
func bind(tc *testcase.TestCase, pos int, op *testcase.Operation, ts testcase.TypeSystem, rng *rand.Rand) (*testcase.Statement, bool) {
	recv := testcase.NoRef
	if op.NeedsReceiver() {
		scope := tc.ValuesInScope(pos, op.Owner, ts)
		if len(scope) == 0 {
			return nil, false
		}
		recv = testcase.ValueRef(scope[rng.Intn(len(scope))])
	}
	args := make([]testcase.Ref, len(op.Params))
	for i, p := range op.Params {
		scope := tc.ValuesInScope(pos, p, ts)
		if len(scope) == 0 {
			return nil, false
		}
		args[i] = testcase.ValueRef(scope[rng.Intn(len(scope))])
	}
	return testcase.Call(op, recv, args...), true
}

// satisfiable reports whether every input of op has a value in scope at pos.
func satisfiable(tc *testcase.TestCase, pos int, op *testcase.Operation, ts testcase.TypeSystem) bool {
	if op.NeedsReceiver() && len(tc.ValuesInScope(pos, op.Owner, ts)) == 0 {
		return false
	}
	for _, p := range op.Params {
		if len(tc.ValuesInScope(pos, p, ts)) == 0 {
			return false
		}
	}
	return true
}
