// Package connection owns the per-device GATT connection lifecycle and the
// registry that guarantees at most one live connection attempt per address.
package connection

import "time"

// State is the lifecycle state of a Handle.
type State int32

const (
	Idle State = iota
	Connecting
	Connected
	Failed
	Disconnected
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible from s.
func (s State) Terminal() bool {
	return s == Failed || s == Disconnected
}

// transitions lists the states reachable from each state. Nothing leads back
// to Idle; a terminal handle must be replaced by a new one.
var transitions = map[State][]State{
	Idle:       {Connecting},
	Connecting: {Connected, Failed},
	Connected:  {Disconnected},
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// StateChange describes one lifecycle step of a handle.
type StateChange struct {
	Address string
	From    State
	To      State
	Err     error
	At      time.Time
}
