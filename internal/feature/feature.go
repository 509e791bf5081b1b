// Package feature derives behavioral niche descriptors from runtime objects.
package feature

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Group values shared by the built-in probes.
const (
	GroupNil      = -2
	GroupNegative = -1
	GroupZero     = 0
	GroupPositive = 1

	GroupEmpty    = 0
	GroupNonEmpty = 1
)

// Observer reads the raw value a probe classifies.
type Observer func(obj any) any

// Probe classifies one observation of an object into a small discrete group.
type Probe interface {
	Name() string
	Group(obj any) int
}

// FeatureVector is the ordered tuple of probe groups for one object. Two
// vectors are equal when their probe names and groups match.
type FeatureVector struct {
	names  []string
	groups []int
	key    string
}

// NewFeatureVector builds a vector from parallel name/group slices. Names
// must already be sorted.
func NewFeatureVector(names []string, groups []int) FeatureVector {
	if len(names) != len(groups) {
		panic(fmt.Sprintf("feature vector: %d names for %d groups", len(names), len(groups)))
	}
	fv := FeatureVector{
		names:  append([]string(nil), names...),
		groups: append([]int(nil), groups...),
	}
	fv.key = fv.buildKey()
	return fv
}

func (fv FeatureVector) buildKey() string {
	var sb strings.Builder
	for i, name := range fv.names {
		if i > 0 {
			sb.WriteByte(';')
		}
		fmt.Fprintf(&sb, "%s=%d", name, fv.groups[i])
	}
	return sb.String()
}

// Key is the comparable identity of the vector, usable as a map key.
func (fv FeatureVector) Key() string {
	return fv.key
}

func (fv FeatureVector) Len() int {
	return len(fv.groups)
}

// Group returns the group of the i-th probe.
func (fv FeatureVector) Group(i int) int {
	return fv.groups[i]
}

// Names returns the sorted probe names.
func (fv FeatureVector) Names() []string {
	return append([]string(nil), fv.names...)
}

func (fv FeatureVector) Equal(other FeatureVector) bool {
	return fv.key == other.key
}

func (fv FeatureVector) String() string {
	return "{" + fv.key + "}"
}

// Extract applies probes in name order to obj.
func Extract(obj any, probes []Probe) FeatureVector {
	sorted := append([]Probe(nil), probes...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Name() < sorted[j].Name()
	})

	names := make([]string, len(sorted))
	groups := make([]int, len(sorted))
	for i, p := range sorted {
		names[i] = p.Name()
		groups[i] = p.Group(obj)
	}
	return NewFeatureVector(names, groups)
}

type probe struct {
	name    string
	observe Observer
	group   func(v any) int
}

func (p probe) Name() string {
	return p.name
}

func (p probe) Group(obj any) int {
	v := p.observe(obj)
	if isNil(v) {
		return GroupNil
	}
	return p.group(v)
}

// Sign groups numeric observations by sign.
func Sign(name string, obs Observer) Probe {
	return probe{name: name, observe: obs, group: signGroup}
}

// Emptiness groups strings, slices and maps by whether they are empty.
func Emptiness(name string, obs Observer) Probe {
	return probe{name: name, observe: obs, group: emptinessGroup}
}

// Ordinal uses an integer observation (such as an enum ordinal) as its group.
func Ordinal(name string, obs Observer) Probe {
	return probe{name: name, observe: obs, group: ordinalGroup}
}

// Boolean groups a boolean observation into 0 or 1.
func Boolean(name string, obs Observer) Probe {
	return probe{name: name, observe: obs, group: func(v any) int {
		if b, ok := v.(bool); ok && b {
			return 1
		}
		return 0
	}}
}

func signGroup(v any) int {
	rv := reflect.ValueOf(v)
	var f float64
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		f = float64(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		f = float64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		f = rv.Float()
	default:
		return GroupZero
	}
	switch {
	case f < 0:
		return GroupNegative
	case f > 0:
		return GroupPositive
	}
	return GroupZero
}

func emptinessGroup(v any) int {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String, reflect.Slice, reflect.Map, reflect.Array, reflect.Chan:
		if rv.Len() == 0 {
			return GroupEmpty
		}
		return GroupNonEmpty
	}
	return GroupNonEmpty
}

func ordinalGroup(v any) int {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return int(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int(rv.Uint())
	case reflect.Bool:
		if rv.Bool() {
			return 1
		}
	}
	return 0
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
