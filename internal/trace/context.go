package trace

import (
	"strconv"
	"strings"
)

// CallSite identifies one call location on the path to a method.
type CallSite struct {
	Class  string `json:"class"`
	Method string `json:"method"`
	Line   int    `json:"line"`
}

func (s CallSite) String() string {
	return s.Class + "." + s.Method + ":" + strconv.Itoa(s.Line)
}

// TestEntry is the call site used for methods invoked directly by a test.
var TestEntry = CallSite{Class: "<test>", Method: "<entry>"}

// Context is the ordered sequence of call sites through which a method was
// reached, outermost first. The empty context means context sensitivity does
// not apply.
type Context struct {
	sites []CallSite
	key   string
}

// EmptyContext is the context-free context.
var EmptyContext = Context{}

// NewContext builds a context from call sites, outermost first.
func NewContext(sites ...CallSite) Context {
	if len(sites) == 0 {
		return EmptyContext
	}
	parts := make([]string, len(sites))
	for i, s := range sites {
		parts[i] = s.String()
	}
	return Context{
		sites: append([]CallSite(nil), sites...),
		key:   strings.Join(parts, ">"),
	}
}

// Key is the structural identity of the context.
func (c Context) Key() string {
	return c.key
}

func (c Context) IsEmpty() bool {
	return len(c.sites) == 0
}

func (c Context) Len() int {
	return len(c.sites)
}

// Sites returns a copy of the call sites.
func (c Context) Sites() []CallSite {
	return append([]CallSite(nil), c.sites...)
}

func (c Context) Equal(other Context) bool {
	return c.key == other.key
}

// Push returns a new context extended by one call site.
func (c Context) Push(site CallSite) Context {
	sites := make([]CallSite, 0, len(c.sites)+1)
	sites = append(sites, c.sites...)
	sites = append(sites, site)
	return NewContext(sites...)
}

func (c Context) String() string {
	if c.IsEmpty() {
		return "<no context>"
	}
	return c.key
}
