package testcase

import "strings"

// Void is the declared type of statements that produce no value.
const Void = "void"

// Object is the root of the reference type hierarchy.
const Object = "Object"

// TypeSystem answers assignability questions for declared type names.
type TypeSystem interface {
	Assignable(to, from string) bool
	IsPrimitive(name string) bool
}

var primitives = map[string]bool{
	"int": true, "long": true, "short": true, "byte": true,
	"float": true, "double": true, "boolean": true, "char": true,
}

// IsArray reports whether a type name denotes an array.
func IsArray(name string) bool {
	return strings.HasSuffix(name, "[]")
}

// ElemType returns the element type of an array type name.
func ElemType(name string) string {
	return strings.TrimSuffix(name, "[]")
}

// Hierarchy is a TypeSystem backed by an explicit subtype table.
type Hierarchy struct {
	supers map[string][]string
}

// NewHierarchy creates a hierarchy with only the built-in types.
func NewHierarchy() *Hierarchy {
	return &Hierarchy{supers: make(map[string][]string)}
}

// Extend declares sub as a direct subtype of each super.
func (h *Hierarchy) Extend(sub string, supers ...string) *Hierarchy {
	h.supers[sub] = append(h.supers[sub], supers...)
	return h
}

func (h *Hierarchy) IsPrimitive(name string) bool {
	return primitives[name]
}

// Assignable reports whether a value of type from may be used where to is
// declared.
func (h *Hierarchy) Assignable(to, from string) bool {
	if to == from {
		return to != Void
	}
	if to == Void || from == Void || to == "" || from == "" {
		return false
	}
	if primitives[to] || primitives[from] {
		return false
	}
	if IsArray(to) || IsArray(from) {
		return to == Object && IsArray(from)
	}
	if to == Object {
		return true
	}

	seen := map[string]bool{from: true}
	queue := []string{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, s := range h.supers[cur] {
			if s == to {
				return true
			}
			if !seen[s] {
				seen[s] = true
				queue = append(queue, s)
			}
		}
	}
	return false
}
