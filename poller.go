package cosched

import (
	"errors"
	"time"
)

// MaxFDLimit is the maximum FD value accepted by the poller.
const MaxFDLimit = 100000000

// defaultMaxEvents is the default size of the buffer of events, filled by
// each poller wait.
const defaultMaxEvents = 256

// Direction is a bitmask of I/O readiness directions.
type Direction uint8

const (
	// DirRead indicates readiness for reading (or accepting).
	DirRead Direction = 1 << iota
	// DirWrite indicates readiness for writing (or connect completion).
	DirWrite

	// DirReadWrite is the union of all directions.
	DirReadWrite = DirRead | DirWrite
)

// String returns a short representation of the direction set.
func (d Direction) String() string {
	switch d & DirReadWrite {
	case DirRead:
		return "r"
	case DirWrite:
		return "w"
	case DirReadWrite:
		return "rw"
	default:
		return "-"
	}
}

// Poller errors.
var (
	ErrFDOutOfRange        = errors.New("cosched: fd out of range (max 100000000)")
	ErrFDAlreadyRegistered = errors.New("cosched: fd already registered")
	ErrFDNotRegistered     = errors.New("cosched: fd not registered")
	ErrPollerClosed        = errors.New("cosched: poller closed")
	ErrUnsupportedPlatform = errors.New("cosched: platform not supported")
)

// Event is a single readiness notification, as reported by [Poller.Wait].
type Event struct {
	// FD is the file descriptor that became ready.
	FD int
	// Dir is the set of directions that became ready.
	Dir Direction
	// Err indicates an error condition on FD.
	Err bool
	// Hangup indicates the peer closed its end, or the fd was otherwise shut
	// down. All directions should be considered ready.
	Hangup bool
}

// Poller models the readiness notification facility used by a [Scheduler].
//
// Registrations are one-shot and edge-triggered: once an event is reported
// for an fd, no further events will be reported for it, until it is re-armed
// via Modify. Error and hangup conditions are always watched.
//
// Implementations are not safe for concurrent use, they are owned by the
// goroutine driving the scheduler.
type Poller interface {
	// Register adds fd, armed for the given directions. Returns
	// ErrFDAlreadyRegistered if fd is already present.
	Register(fd int, dir Direction) error
	// Modify re-arms an already registered fd, for the given directions.
	// Returns ErrFDNotRegistered if fd is not present.
	Modify(fd int, dir Direction) error
	// Unregister removes fd. Removing an fd that isn't present is not an
	// error, but other failures (of the underlying mechanism) are reported.
	Unregister(fd int) error
	// Wait blocks for up to timeout (negative blocks indefinitely, zero does
	// not block), appending ready events to events, and returning the result.
	// Interruption by a signal returns the events unchanged, and a nil error.
	Wait(timeout time.Duration, events []Event) ([]Event, error)
	// Close releases the poller.
	Close() error
}

// NewPoller constructs the platform poller, with a buffer sized for
// maxEvents events per wait (defaults if <= 0).
func NewPoller(maxEvents int) (Poller, error) {
	if maxEvents <= 0 {
		maxEvents = defaultMaxEvents
	}
	return newPoller(maxEvents)
}

// timeoutMillis converts a poll timeout to milliseconds, rounding up, such
// that a sub-millisecond deadline does not busy-spin.
func timeoutMillis(timeout time.Duration) int {
	if timeout < 0 {
		return -1
	}
	ms := (timeout + time.Millisecond - 1) / time.Millisecond
	if ms > 1<<31-1 {
		ms = 1<<31 - 1
	}
	return int(ms)
}

func validFD(fd int) bool {
	return fd >= 0 && fd < MaxFDLimit
}

// fdTable tracks registered fds, using direct indexing.
type fdTable []Direction

func (x *fdTable) get(fd int) (Direction, bool) {
	if fd >= len(*x) {
		return 0, false
	}
	v := (*x)[fd]
	return v &^ fdActive, v&fdActive != 0
}

func (x *fdTable) set(fd int, dir Direction) {
	if fd >= len(*x) {
		newSize := fd*2 + 1
		if newSize > MaxFDLimit {
			newSize = MaxFDLimit
		}
		grown := make(fdTable, newSize)
		copy(grown, *x)
		*x = grown
	}
	(*x)[fd] = dir | fdActive
}

func (x *fdTable) clear(fd int) {
	if fd < len(*x) {
		(*x)[fd] = 0
	}
}

// fdActive marks an fdTable entry as present.
const fdActive Direction = 1 << 7
