package mutation

import (
	"math/rand"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/QTest-hq/qsearch/internal/testcase"
)

// Deleter removes statements together with everything that depends on them.
type Deleter struct {
	Constraints Constraints
	Types       testcase.TypeSystem
	Rng         *rand.Rand

	// MinAge is the number of mutation rounds a statement must survive
	// before it may be deleted.
	MinAge int
}

// NewDeleter creates a deleter. A nil constraints value permits every edit.
func NewDeleter(constraints Constraints, types testcase.TypeSystem, rng *rand.Rand, minAge int) *Deleter {
	if constraints == nil {
		constraints = NoConstraints{}
	}
	return &Deleter{Constraints: constraints, Types: types, Rng: rng, MinAge: minAge}
}

// Deletable reports whether the statement at pos may be deleted now.
func (d *Deleter) Deletable(tc *testcase.TestCase, pos int) bool {
	if pos < 0 || pos >= tc.Size() {
		return false
	}
	if tc.Statement(pos).Age < d.MinAge {
		return false
	}
	return d.Constraints.CanDelete(tc, pos)
}

// Closure returns, in ascending order, pos and every position that must go
// with it: statements referencing a member, directly or transitively, and
// positions structurally bound to a member.
func (d *Deleter) Closure(tc *testcase.TestCase, pos int) []int {
	in := map[int]bool{pos: true}
	queue := []int{pos}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		next := append(tc.Dependents(p), d.Constraints.Bound(tc, p)...)
		for _, n := range next {
			if n < 0 || n >= tc.Size() || in[n] {
				continue
			}
			in[n] = true
			queue = append(queue, n)
		}
	}
	out := make([]int, 0, len(in))
	for p := range in {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

// Delete removes the statement at pos and its closure. It returns false,
// leaving the test unchanged, if the statement may not be deleted.
func (d *Deleter) Delete(tc *testcase.TestCase, pos int) bool {
	if !d.Deletable(tc, pos) {
		return false
	}
	closure := d.Closure(tc, pos)
	if err := tc.RemoveAll(closure); err != nil {
		log.Debug().Err(err).Int("position", pos).Msg("deletion closure not removable")
		return false
	}
	return true
}

// DeleteGracefully first moves the references to the value at pos onto
// other compatible values in scope, then deletes whatever still depends on
// it. It reports success if any reference moved or the deletion happened.
func (d *Deleter) DeleteGracefully(tc *testcase.TestCase, pos int) bool {
	if !d.Deletable(tc, pos) {
		return false
	}

	pending := make(map[int]bool)
	for _, p := range d.Closure(tc, pos) {
		pending[p] = true
	}

	doomed := tc.Statement(pos)
	rebound := false
	for _, rs := range tc.ReferencesTo(pos) {
		if rs.Ref.FinalField {
			continue
		}
		alts := d.alternatives(tc, rs, doomed, pending)
		if len(alts) == 0 {
			continue
		}
		if err := tc.Rebind(rs.Stmt, rs.Slot, alts[d.Rng.Intn(len(alts))]); err == nil {
			rebound = true
		}
	}

	deleted := d.Delete(tc, pos)
	return rebound || deleted
}

func (d *Deleter) alternatives(tc *testcase.TestCase, rs testcase.RefSlot, doomed *testcase.Statement, pending map[int]bool) []int {
	required := tc.SlotType(rs.Stmt, rs.Slot)
	var out []int
	for _, a := range tc.ValuesInScope(rs.Stmt, required, d.Types) {
		if pending[a] {
			continue
		}
		alt := tc.Statement(a)
		if d.Types.IsPrimitive(alt.Type) != d.Types.IsPrimitive(doomed.Type) {
			continue
		}
		if doomed.Kind == testcase.StmtArray {
			if alt.Kind != testcase.StmtArray || alt.Length < doomed.Length {
				continue
			}
		}
		out = append(out, a)
	}
	return out
}
