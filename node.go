package cosched

import (
	"syscall"
)

// Node binds a file descriptor to the (at most one) task waiting on it, and
// tracks, per direction, whether the fd is registered with the poller, being
// waited on, or has had an event received but not yet consumed.
//
// Nodes are obtained via [Scheduler.Node], and released via
// [Scheduler.Remove], which must happen before the fd is closed.
type Node struct {
	sched      *Scheduler
	task       *Task
	fd         int
	errno      syscall.Errno
	registered Direction
	waiting    Direction
	received   Direction
	cancelled  bool
	linked     bool
}

// FD returns the node's file descriptor.
func (n *Node) FD() int { return n.fd }

// Registered returns the directions last armed with the poller.
func (n *Node) Registered() Direction { return n.registered }

// Waiting returns the directions a task is currently blocked on.
func (n *Node) Waiting() Direction { return n.waiting }

// Received returns the directions with an unconsumed event.
func (n *Node) Received() Direction { return n.received }

// Err returns the sticky error captured from the poller, if any.
func (n *Node) Err() error {
	if n.errno == 0 {
		return nil
	}
	return n.ioError()
}

func (n *Node) ioError() *IOError {
	return &IOError{Op: `wait`, FD: n.fd, Errno: n.errno}
}

// notify applies a readiness event, resuming the waiting task if what it
// waits for has arrived, or the fd failed.
func (n *Node) notify(ev Event) {
	got := ev.Dir
	if ev.Hangup {
		got = DirReadWrite
	}
	n.received |= got & n.registered
	if ev.Err && n.errno == 0 {
		n.errno = sockError(n.fd)
	}
	t := n.task
	if t == nil {
		return
	}
	if n.received&n.waiting == 0 && n.errno == 0 {
		// the one-shot registration fired for another direction
		n.rearm()
		return
	}
	if !t.isMain() {
		// main busy-polls, checking the node itself
		_ = n.sched.driver.resume(t)
	}
}

// rearm re-registers interest in the waited directions, after an event that
// did not satisfy the waiter. A failure is treated as an error on the fd.
func (n *Node) rearm() {
	if err := n.sched.poller.Modify(n.fd, n.waiting); err != nil {
		n.fail(err)
		return
	}
	n.registered = n.waiting
}

func (n *Node) fail(err error) {
	if errno, ok := err.(syscall.Errno); ok {
		n.errno = errno
	} else {
		n.errno = syscall.EIO
	}
	if t := n.task; t != nil && !t.isMain() {
		_ = n.sched.driver.resume(t)
	}
}
