package components

import (
	"fmt"

	"github.com/matzehuels/pipescope/pkg/ecs"
)

// State is the lifecycle state of a node.
type State int

const (
	StateNull State = iota
	StateReady
	StatePaused
	StatePlaying
	StatePending
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateNull:    "null",
	StateReady:   "ready",
	StatePaused:  "paused",
	StatePlaying: "playing",
	StatePending: "pending",
	StateDone:    "done",
	StateFailed:  "failed",
}

func (State) Tag() ecs.Tag { return TagState }

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ParseState returns the state with the given name.
func ParseState(name string) (State, bool) {
	for i, n := range stateNames {
		if n == name {
			return State(i), true
		}
	}
	return StateNull, false
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	if s < 0 || int(s) >= len(stateNames) {
		return nil, fmt.Errorf("invalid state %d", int(s))
	}
	return []byte(stateNames[s]), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(b []byte) error {
	v, ok := ParseState(string(b))
	if !ok {
		return fmt.Errorf("invalid state %q", b)
	}
	*s = v
	return nil
}
