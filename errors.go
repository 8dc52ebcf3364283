package cosched

import (
	"errors"
	"fmt"
	"syscall"
)

// Standard errors.
var (
	// ErrCancelled is returned by suspension points resumed because the
	// scheduler is stopping, or because the node being waited on was
	// removed. It must not be retried.
	ErrCancelled = errors.New("cosched: cancelled")

	// ErrTimeout is returned by a wait for I/O readiness that woke before
	// the awaited direction was received. It matches [syscall.ETIMEDOUT].
	ErrTimeout error = timeoutError{}

	// ErrNilTask is returned when a nil task is resumed.
	ErrNilTask = errors.New("cosched: nil task")

	// ErrNodeBusy is returned when waiting on a node that another task is
	// already waiting on.
	ErrNodeBusy = errors.New("cosched: node busy")

	// ErrNodeRemoved is returned when operating on a removed node.
	ErrNodeRemoved = errors.New("cosched: node removed")

	// ErrSchedulerStopped is returned when work is submitted to a
	// scheduler that has finished shutting down.
	ErrSchedulerStopped = errors.New("cosched: scheduler stopped")

	// ErrNotInTask is returned by operations that may only be called from
	// the context of a running task, or from the scheduler's own goroutine.
	ErrNotInTask = errors.New("cosched: not in task")

	// ErrStalled is returned when synchronously waiting, from outside any
	// task, for something the scheduler can no longer deliver.
	ErrStalled = errors.New("cosched: scheduler has no pending work")

	// ErrIO is matched by every [*IOError].
	ErrIO = errors.New("cosched: i/o error")
)

type timeoutError struct{}

func (timeoutError) Error() string { return "cosched: timeout" }

// Timeout implements the net.Error style timeout check.
func (timeoutError) Timeout() bool { return true }

func (timeoutError) Is(target error) bool { return target == syscall.ETIMEDOUT }

// IOError is reported by a wait on a node that the poller flagged with an
// error condition. The error is sticky: every subsequent wait on the same
// node returns it.
type IOError struct {
	Op    string
	FD    int
	Errno syscall.Errno
}

func (e *IOError) Error() string {
	return fmt.Sprintf("cosched: %s fd %d: %s", e.Op, e.FD, e.Errno.Error())
}

// Unwrap exposes both [ErrIO] and the underlying errno.
func (e *IOError) Unwrap() []error {
	return []error{ErrIO, e.Errno}
}

// PanicError wraps a value recovered from a panicking task.
type PanicError struct {
	Value any
	// TaskID identifies the task that panicked.
	TaskID uint64
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("cosched: task %d panicked: %v", e.TaskID, e.Value)
}

// Unwrap returns the panic value if it is an error, otherwise nil.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
