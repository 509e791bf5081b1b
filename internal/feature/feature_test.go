package feature

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type account struct {
	balance int
	owner   string
	history []int
	frozen  bool
}

func accountProbes() []Probe {
	return []Probe{
		Sign("balance", func(o any) any { return o.(*account).balance }),
		Emptiness("owner", func(o any) any { return o.(*account).owner }),
		Emptiness("history", func(o any) any { return o.(*account).history }),
		Boolean("frozen", func(o any) any { return o.(*account).frozen }),
	}
}

func TestExtract_SortsProbesByName(t *testing.T) {
	fv := Extract(&account{balance: 5, owner: "ann"}, accountProbes())

	assert.Equal(t, []string{"balance", "frozen", "history", "owner"}, fv.Names())
	assert.Equal(t, 4, fv.Len())
	assert.Equal(t, GroupPositive, fv.Group(0))
	assert.Equal(t, 0, fv.Group(1))
	assert.Equal(t, GroupNil, fv.Group(2))
	assert.Equal(t, GroupNonEmpty, fv.Group(3))
}

func TestExtract_SimilarObjectsCollide(t *testing.T) {
	probes := accountProbes()
	a := Extract(&account{balance: 5, owner: "ann", history: []int{1}}, probes)
	b := Extract(&account{balance: 9000, owner: "bob", history: []int{1, 2, 3}}, probes)
	c := Extract(&account{balance: -1, owner: "bob", history: []int{1}}, probes)

	assert.True(t, a.Equal(b), "raw values differ but groups match")
	assert.Equal(t, a.Key(), b.Key())
	assert.False(t, a.Equal(c))
}

func TestExtract_ProbeOrderIrrelevant(t *testing.T) {
	probes := accountProbes()
	reversed := []Probe{probes[3], probes[2], probes[1], probes[0]}
	obj := &account{balance: -3}

	assert.Equal(t, Extract(obj, probes).Key(), Extract(obj, reversed).Key())
}

func TestSignGroup(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want int
	}{
		{"negative int", -4, GroupNegative},
		{"zero int", 0, GroupZero},
		{"positive int64", int64(3), GroupPositive},
		{"negative float", -0.5, GroupNegative},
		{"unsigned", uint(2), GroupPositive},
		{"non numeric", "x", GroupZero},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, signGroup(tt.in))
		})
	}
}

func TestOrdinal(t *testing.T) {
	p := Ordinal("state", func(o any) any { return o })
	assert.Equal(t, 3, p.Group(3))
	assert.Equal(t, 1, p.Group(true))
	assert.Equal(t, GroupNil, p.Group(nil))
}

func TestNewFeatureVector_MismatchPanics(t *testing.T) {
	assert.Panics(t, func() { NewFeatureVector([]string{"a"}, nil) })
}
