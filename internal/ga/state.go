package ga

import "fmt"

// State is the lifecycle phase of a search.
type State int

const (
	NotStarted State = iota
	Initializing
	Evolving
	Done
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Initializing:
		return "initializing"
	case Evolving:
		return "evolving"
	case Done:
		return "done"
	}
	return "unknown"
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(b []byte) error {
	for _, st := range []State{NotStarted, Initializing, Evolving, Done} {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown search state %q", b)
}
