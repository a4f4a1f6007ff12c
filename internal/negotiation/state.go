package negotiation

import "fmt"

// State is the coarse application-level connection state of a session.
type State int

const (
	StateNew State = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible. A new
// session is needed to recover.
func (s State) Terminal() bool {
	return s == StateFailed || s == StateClosed
}

var transitions = map[State][]State{
	StateNew:          {StateConnecting, StateConnected, StateFailed, StateClosed},
	StateConnecting:   {StateConnected, StateDisconnected, StateFailed, StateClosed},
	StateConnected:    {StateDisconnected, StateFailed, StateClosed},
	StateDisconnected: {StateConnecting, StateConnected, StateFailed, StateClosed},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
