package cosched

import (
	"code.hybscloud.com/atomix"
)

// State represents the lifecycle state of a [Scheduler].
//
//	StateRunning (0) → StateStopping (1)  [Stop()]
//	StateStopping (1) → StateStopped (2)  [Close()]
//	StateRunning (0) → StateStopped (2)   [Close() via Stop()]
//	StateStopped (2) → (terminal)
type State uint32

const (
	// StateRunning indicates the scheduler accepts and runs work.
	StateRunning State = iota
	// StateStopping indicates stop has been requested, every suspended task
	// will observe ErrCancelled.
	StateStopping
	// StateStopped indicates the scheduler has been closed.
	StateStopped
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// fastState is a lock-free state word, shared across threads.
type fastState struct {
	v atomix.Uint32
}

func (s *fastState) Load() State {
	return State(s.v.Load())
}

func (s *fastState) Store(state State) {
	s.v.Store(uint32(state))
}

// TryTransition attempts to atomically transition from one state to another.
func (s *fastState) TryTransition(from, to State) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}
