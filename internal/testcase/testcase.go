package testcase

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrPosition is returned for positions outside the test.
	ErrPosition = errors.New("position out of range")

	// ErrForwardReference is returned when a statement would reference a
	// value that is not produced before it.
	ErrForwardReference = errors.New("reference to a value not in scope")

	// ErrStillReferenced is returned when removing a value that later
	// statements still use.
	ErrStillReferenced = errors.New("value is still referenced")
)

// RefSlot locates one reference held by a statement.
type RefSlot struct {
	Stmt int
	Slot int
	Ref  Ref
}

// TestCase is an ordered sequence of statements.
type TestCase struct {
	statements []*Statement
}

// New creates a test from statements, validating references.
func New(statements ...*Statement) (*TestCase, error) {
	tc := &TestCase{}
	for _, st := range statements {
		if _, err := tc.Add(st); err != nil {
			return nil, err
		}
	}
	return tc, nil
}

// MustNew is like New but panics on invalid references.
func MustNew(statements ...*Statement) *TestCase {
	tc, err := New(statements...)
	if err != nil {
		panic(err)
	}
	return tc
}

func (tc *TestCase) Size() int {
	return len(tc.statements)
}

func (tc *TestCase) IsEmpty() bool {
	return len(tc.statements) == 0
}

// Statement returns the statement at pos.
func (tc *TestCase) Statement(pos int) *Statement {
	return tc.statements[pos]
}

// Statements returns the statements in order. The slice is a copy but the
// statements are shared.
func (tc *TestCase) Statements() []*Statement {
	return append([]*Statement(nil), tc.statements...)
}

// Add appends a statement and returns its position.
func (tc *TestCase) Add(st *Statement) (int, error) {
	pos := len(tc.statements)
	if err := tc.checkRefs(st, pos); err != nil {
		return -1, err
	}
	tc.statements = append(tc.statements, st)
	return pos, nil
}

// Insert places a statement at pos, shifting later statements and their
// references to keep them valid.
func (tc *TestCase) Insert(pos int, st *Statement) error {
	if pos < 0 || pos > len(tc.statements) {
		return fmt.Errorf("%w: %d", ErrPosition, pos)
	}
	if err := tc.checkRefs(st, pos); err != nil {
		return err
	}
	for _, later := range tc.statements[pos:] {
		for _, r := range later.slots() {
			if r.Pos >= pos {
				r.Pos++
			}
		}
	}
	tc.statements = append(tc.statements, nil)
	copy(tc.statements[pos+1:], tc.statements[pos:])
	tc.statements[pos] = st
	return nil
}

// Replace swaps the statement at pos. The new statement must reference only
// earlier values; its type must stay compatible for existing users.
func (tc *TestCase) Replace(pos int, st *Statement) error {
	if pos < 0 || pos >= len(tc.statements) {
		return fmt.Errorf("%w: %d", ErrPosition, pos)
	}
	if err := tc.checkRefs(st, pos); err != nil {
		return err
	}
	if !st.ProducesValue() && len(tc.Dependents(pos)) > 0 {
		return fmt.Errorf("replacement at %d produces no value: %w", pos, ErrStillReferenced)
	}
	st.Age = tc.statements[pos].Age
	tc.statements[pos] = st
	return nil
}

// Remove deletes an unreferenced statement and shifts later references.
func (tc *TestCase) Remove(pos int) error {
	if pos < 0 || pos >= len(tc.statements) {
		return fmt.Errorf("%w: %d", ErrPosition, pos)
	}
	if deps := tc.Dependents(pos); len(deps) > 0 {
		return fmt.Errorf("remove %d: %w by %v", pos, ErrStillReferenced, deps)
	}
	tc.statements = append(tc.statements[:pos], tc.statements[pos+1:]...)
	for _, later := range tc.statements[pos:] {
		for _, r := range later.slots() {
			if r.Pos > pos {
				r.Pos--
			}
		}
	}
	return nil
}

// RemoveAll deletes a set of positions, highest first. Either every
// position is removed or the test is left unchanged.
func (tc *TestCase) RemoveAll(positions []int) error {
	desc := append([]int(nil), positions...)
	sort.Sort(sort.Reverse(sort.IntSlice(desc)))
	work := tc.Clone()
	for i, pos := range desc {
		if i > 0 && pos == desc[i-1] {
			continue
		}
		if err := work.Remove(pos); err != nil {
			return err
		}
	}
	tc.statements = work.statements
	return nil
}

// Chop truncates the test to its first n statements.
func (tc *TestCase) Chop(n int) {
	if n < 0 {
		n = 0
	}
	if n < len(tc.statements) {
		tc.statements = tc.statements[:n]
	}
}

// Dependents returns the positions that directly reference pos.
func (tc *TestCase) Dependents(pos int) []int {
	var out []int
	for i := pos + 1; i < len(tc.statements); i++ {
		if tc.statements[i].Uses(pos) {
			out = append(out, i)
		}
	}
	return out
}

// ReferencesTo returns every reference slot that points at pos.
func (tc *TestCase) ReferencesTo(pos int) []RefSlot {
	var out []RefSlot
	for i := pos + 1; i < len(tc.statements); i++ {
		for slot, r := range tc.statements[i].slots() {
			if r.Pos == pos {
				out = append(out, RefSlot{Stmt: i, Slot: slot, Ref: *r})
			}
		}
	}
	return out
}

// Rebind points one reference slot at a different earlier value, keeping
// any element or field selector.
func (tc *TestCase) Rebind(stmt, slot, newPos int) error {
	if stmt < 0 || stmt >= len(tc.statements) {
		return fmt.Errorf("%w: %d", ErrPosition, stmt)
	}
	if newPos < 0 || newPos >= stmt {
		return fmt.Errorf("%w: %d used at %d", ErrForwardReference, newPos, stmt)
	}
	slots := tc.statements[stmt].slots()
	if slot < 0 || slot >= len(slots) {
		return fmt.Errorf("%w: slot %d of statement %d", ErrPosition, slot, stmt)
	}
	slots[slot].Pos = newPos
	return nil
}

// SlotType returns the type a reference slot requires, given the value it
// currently points at.
func (tc *TestCase) SlotType(stmt, slot int) string {
	st := tc.statements[stmt]
	slots := st.slots()
	r := slots[slot]
	if r.Index >= 0 || r.Field != "" {
		return tc.statements[r.Pos].Type
	}
	i := slot
	if st.Receiver.Valid() {
		if i == 0 {
			return st.Op.Owner
		}
		i--
	}
	if i < len(st.Args) {
		return st.Op.Params[i]
	}
	i -= len(st.Args)
	if st.Target.Valid() {
		if i == 0 {
			return tc.statements[st.Target.Pos].Type
		}
		i--
	}
	if st.Target.Valid() && st.Target.Index >= 0 {
		return ElemType(tc.statements[st.Target.Pos].Type)
	}
	return tc.statements[r.Pos].Type
}

// ValuesInScope returns the positions before pos whose values may be used
// where typ is declared.
func (tc *TestCase) ValuesInScope(pos int, typ string, ts TypeSystem) []int {
	if pos > len(tc.statements) {
		pos = len(tc.statements)
	}
	var out []int
	for i := 0; i < pos; i++ {
		st := tc.statements[i]
		if !st.ProducesValue() {
			continue
		}
		if ts.Assignable(typ, st.Type) {
			out = append(out, i)
		}
	}
	return out
}

// Validate checks that every reference points backwards at a value-producing
// statement and that array indices are within bounds.
func (tc *TestCase) Validate() error {
	for pos, st := range tc.statements {
		if err := tc.checkRefs(st, pos); err != nil {
			return err
		}
	}
	return nil
}

func (tc *TestCase) checkRefs(st *Statement, pos int) error {
	if st == nil {
		return errors.New("statement is nil")
	}
	if st.IsCall() && len(st.Args) != len(st.Op.Params) {
		return fmt.Errorf("statement %d: %s takes %d arguments, got %d", pos, st.Op.ID(), len(st.Op.Params), len(st.Args))
	}
	for _, r := range st.slots() {
		if r.Pos >= pos || r.Pos >= len(tc.statements) {
			return fmt.Errorf("statement %d: %w: %s", pos, ErrForwardReference, r)
		}
		target := tc.statements[r.Pos]
		if !target.ProducesValue() {
			return fmt.Errorf("statement %d: %s references a statement without value", pos, r)
		}
		if r.Index >= 0 && (target.Kind != StmtArray || r.Index >= target.Length) {
			return fmt.Errorf("statement %d: index %s out of bounds", pos, r)
		}
	}
	return nil
}

// MaxIndexUsed returns the largest array index through which pos is
// referenced, or -1.
func (tc *TestCase) MaxIndexUsed(pos int) int {
	highest := -1
	for _, rs := range tc.ReferencesTo(pos) {
		if rs.Ref.Index > highest {
			highest = rs.Ref.Index
		}
	}
	return highest
}

// Clone returns a deep copy of the test.
func (tc *TestCase) Clone() *TestCase {
	c := &TestCase{statements: make([]*Statement, len(tc.statements))}
	for i, st := range tc.statements {
		c.statements[i] = st.Clone()
	}
	return c
}

// AgeStatements increments the age of every statement.
func (tc *TestCase) AgeStatements() {
	for _, st := range tc.statements {
		st.Age++
	}
}

// Operations returns the IDs of all operations called, sorted.
func (tc *TestCase) Operations() []string {
	seen := make(map[string]bool)
	for _, st := range tc.statements {
		if st.IsCall() {
			seen[st.Op.ID()] = true
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (tc *TestCase) String() string {
	var sb strings.Builder
	for i, st := range tc.statements {
		fmt.Fprintf(&sb, "v%d: %s\n", i, st)
	}
	return sb.String()
}
