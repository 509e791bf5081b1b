// Package testcase models candidate tests as an arena of statements whose
// references to earlier values are stored as positions.
package testcase

import (
	"fmt"
	"strings"
)

// OperationKind distinguishes the ways a value can be produced.
type OperationKind uint8

const (
	OpConstructor OperationKind = iota
	OpMethod
	OpField
)

func (k OperationKind) String() string {
	switch k {
	case OpConstructor:
		return "constructor"
	case OpMethod:
		return "method"
	case OpField:
		return "field"
	}
	return "unknown"
}

// Operation is an accessible constructor, method or field of the code under
// test. Operations are shared between statements and never mutated.
type Operation struct {
	Kind    OperationKind
	Owner   string
	Name    string
	Params  []string
	Returns string
	Static  bool

	// Final marks read-only fields.
	Final bool
}

// ID identifies an operation by owner, name and parameter types.
func (o *Operation) ID() string {
	return fmt.Sprintf("%s.%s(%s)", o.Owner, o.Name, strings.Join(o.Params, ","))
}

// TakesParameters reports whether the operation needs any argument values.
func (o *Operation) TakesParameters() bool {
	return len(o.Params) > 0
}

// NeedsReceiver reports whether the operation is invoked on an instance.
func (o *Operation) NeedsReceiver() bool {
	return o.Kind != OpConstructor && !o.Static
}

// ReturnType is the type of the value the operation produces.
func (o *Operation) ReturnType() string {
	if o.Kind == OpConstructor {
		return o.Owner
	}
	if o.Returns == "" {
		return Void
	}
	return o.Returns
}

// Ref points at the value produced by an earlier statement, optionally at
// one of its array elements or fields.
type Ref struct {
	Pos int

	// Index selects an array element, or -1.
	Index int

	// Field selects a field of the value, or "".
	Field      string
	FinalField bool
}

// NoRef marks an absent reference.
var NoRef = Ref{Pos: -1, Index: -1}

// ValueRef references the whole value produced at pos.
func ValueRef(pos int) Ref {
	return Ref{Pos: pos, Index: -1}
}

// ElementRef references an element of the array produced at pos.
func ElementRef(pos, index int) Ref {
	return Ref{Pos: pos, Index: index}
}

// Valid reports whether the reference points anywhere.
func (r Ref) Valid() bool {
	return r.Pos >= 0
}

func (r Ref) String() string {
	s := fmt.Sprintf("v%d", r.Pos)
	if r.Index >= 0 {
		s += fmt.Sprintf("[%d]", r.Index)
	}
	if r.Field != "" {
		s += "." + r.Field
	}
	return s
}

// StatementKind distinguishes statement variants.
type StatementKind uint8

const (
	StmtPrimitive StatementKind = iota
	StmtNull
	StmtArray
	StmtConstructor
	StmtMethod
	StmtField
	StmtAssignment
)

func (k StatementKind) String() string {
	switch k {
	case StmtPrimitive:
		return "primitive"
	case StmtNull:
		return "null"
	case StmtArray:
		return "array"
	case StmtConstructor:
		return "constructor"
	case StmtMethod:
		return "method"
	case StmtField:
		return "field"
	case StmtAssignment:
		return "assignment"
	}
	return "unknown"
}

// Statement is one line of a test. The value it produces is referenced by
// its position in the enclosing TestCase.
type Statement struct {
	Kind StatementKind

	// Type is the declared type of the produced value.
	Type string

	// Value holds the constant of primitive statements.
	Value any

	// Length is the size of array statements.
	Length int

	Op       *Operation
	Receiver Ref
	Args     []Ref

	// Target and Source are the sides of an assignment.
	Target Ref
	Source Ref

	// Age counts the mutation rounds the statement has survived.
	Age int
}

// Primitive creates a constant statement.
func Primitive(typ string, value any) *Statement {
	return &Statement{Kind: StmtPrimitive, Type: typ, Value: value, Receiver: NoRef, Target: NoRef, Source: NoRef}
}

// Null creates a null value of a reference type.
func Null(typ string) *Statement {
	return &Statement{Kind: StmtNull, Type: typ, Receiver: NoRef, Target: NoRef, Source: NoRef}
}

// Array creates an array allocation.
func Array(typ string, length int) *Statement {
	return &Statement{Kind: StmtArray, Type: typ, Length: length, Receiver: NoRef, Target: NoRef, Source: NoRef}
}

// Call creates a constructor, method or field statement for op.
func Call(op *Operation, receiver Ref, args ...Ref) *Statement {
	kind := StmtMethod
	switch op.Kind {
	case OpConstructor:
		kind = StmtConstructor
	case OpField:
		kind = StmtField
	}
	return &Statement{
		Kind:     kind,
		Type:     op.ReturnType(),
		Op:       op,
		Receiver: receiver,
		Args:     append([]Ref(nil), args...),
		Target:   NoRef,
		Source:   NoRef,
	}
}

// Assign creates `target = source`.
func Assign(target, source Ref) *Statement {
	return &Statement{Kind: StmtAssignment, Type: Void, Receiver: NoRef, Target: target, Source: source}
}

// IsCall reports whether the statement invokes an operation.
func (s *Statement) IsCall() bool {
	return s.Op != nil
}

// ProducesValue reports whether later statements can reference this one.
func (s *Statement) ProducesValue() bool {
	return s.Type != "" && s.Type != Void
}

// slots returns pointers to every reference held by the statement, in a
// stable order: receiver, arguments, assignment target, assignment source.
func (s *Statement) slots() []*Ref {
	out := make([]*Ref, 0, len(s.Args)+3)
	if s.Receiver.Valid() {
		out = append(out, &s.Receiver)
	}
	for i := range s.Args {
		out = append(out, &s.Args[i])
	}
	if s.Target.Valid() {
		out = append(out, &s.Target)
	}
	if s.Source.Valid() {
		out = append(out, &s.Source)
	}
	return out
}

// References returns copies of all references held by the statement.
func (s *Statement) References() []Ref {
	slots := s.slots()
	out := make([]Ref, len(slots))
	for i, r := range slots {
		out[i] = *r
	}
	return out
}

// Uses reports whether any reference of the statement points at pos.
func (s *Statement) Uses(pos int) bool {
	for _, r := range s.slots() {
		if r.Pos == pos {
			return true
		}
	}
	return false
}

// Clone returns a deep copy. Operations are shared.
func (s *Statement) Clone() *Statement {
	c := *s
	c.Args = append([]Ref(nil), s.Args...)
	return &c
}

// String renders the statement as pseudo code.
func (s *Statement) String() string {
	switch s.Kind {
	case StmtPrimitive:
		if str, ok := s.Value.(string); ok {
			return fmt.Sprintf("%s = %q", s.Type, str)
		}
		return fmt.Sprintf("%s = %v", s.Type, s.Value)
	case StmtNull:
		return fmt.Sprintf("%s = null", s.Type)
	case StmtArray:
		return fmt.Sprintf("%s = new %s[%d]", s.Type, ElemType(s.Type), s.Length)
	case StmtAssignment:
		return fmt.Sprintf("%s = %s", s.Target, s.Source)
	}

	args := make([]string, len(s.Args))
	for i, a := range s.Args {
		args[i] = a.String()
	}
	var call string
	switch {
	case s.Op.Kind == OpConstructor:
		call = fmt.Sprintf("new %s(%s)", s.Op.Owner, strings.Join(args, ", "))
	case s.Op.Kind == OpField && s.Receiver.Valid():
		call = fmt.Sprintf("%s.%s", s.Receiver, s.Op.Name)
	case s.Op.Kind == OpField:
		call = fmt.Sprintf("%s.%s", s.Op.Owner, s.Op.Name)
	case s.Receiver.Valid():
		call = fmt.Sprintf("%s.%s(%s)", s.Receiver, s.Op.Name, strings.Join(args, ", "))
	default:
		call = fmt.Sprintf("%s.%s(%s)", s.Op.Owner, s.Op.Name, strings.Join(args, ", "))
	}
	if !s.ProducesValue() {
		return call
	}
	return fmt.Sprintf("%s = %s", s.Type, call)
}
