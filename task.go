package cosched

import (
	"time"

	"code.hybscloud.com/atomix"

	"github.com/joeycumines/go-cosched/internal/coro"
)

// TaskFunc is the entry point of a task. The returned error is the task's
// result, see [Scheduler.Run].
type TaskFunc func(t *Task) error

// taskIDs allocates task ids, which are unique for the process. Zero is
// reserved for the main task of each scheduler.
var taskIDs atomix.Uint64

// Task is a coroutine, owned by the [Scheduler] that created it.
//
// With the exception of the read-only accessors, methods must be called from
// the scheduler's own thread, and [Task.Release], [Task.Pause] and
// [Task.Wait] only by the task itself.
type Task struct {
	when   time.Time
	sched  *Scheduler
	parent *Task
	ctx    *coro.Context
	fn     TaskFunc
	arg    any
	result error
	// joiner is a task blocked in Run, waiting for this one to finish
	joiner   *Task
	id       uint64
	pass     uint64
	index    int
	finished bool
}

func newTask(s *Scheduler, parent *Task, fn TaskFunc, arg any) *Task {
	t := &Task{
		sched:  s,
		parent: parent,
		fn:     fn,
		arg:    arg,
		id:     taskIDs.Add(1),
		index:  -1,
	}
	t.ctx = coro.Make(t.entry, nil)
	return t
}

func (t *Task) entry(any) {
	defer func() {
		if r := recover(); r != nil {
			t.result = &PanicError{Value: r, TaskID: t.id}
			t.sched.logTaskPanic(t, r)
		}
	}()
	t.result = t.fn(t)
}

// ID returns the task's id, 0 for the main task of a scheduler.
func (t *Task) ID() uint64 { return t.id }

// Scheduler returns the owning scheduler.
func (t *Task) Scheduler() *Scheduler { return t.sched }

// Parent returns the task that was current when t was created, nil for the
// main task.
func (t *Task) Parent() *Task { return t.parent }

// Arg returns the argument t was started with.
func (t *Task) Arg() any { return t.arg }

// Scheduled reports whether t is in the time-ordered set.
func (t *Task) Scheduled() bool { return t.index >= 0 }

// WakeTime returns the time t is scheduled for. Only meaningful if
// t.Scheduled() is true.
func (t *Task) WakeTime() time.Time { return t.when }

// Finished reports whether t has returned, or was destroyed.
func (t *Task) Finished() bool { return t.finished }

// Err returns the result of a finished task.
func (t *Task) Err() error { return t.result }

func (t *Task) isMain() bool { return t == t.sched.driver.main }

// running reports whether t is a task, and the current one.
func (t *Task) running() bool { return !t.isMain() && t.sched.driver.current == t }

// Schedule (re)inserts t into the time-ordered set, to be resumed once the
// scheduler's clock reaches at. The zero time means the next opportunity.
// Scheduling a finished task, or the main task, has no effect.
func (t *Task) Schedule(at time.Time) {
	if t.finished || t.isMain() {
		return
	}
	t.sched.driver.schedule(t, at)
}

// Unschedule removes t from the time-ordered set, if present.
func (t *Task) Unschedule() {
	t.sched.driver.unschedule(t)
}

// Release suspends t, handing control back to the scheduler, returning once t
// is resumed. If the scheduler is stopping, [ErrCancelled] is returned, and
// the caller must unwind.
func (t *Task) Release() error {
	if !t.running() {
		return ErrNotInTask
	}
	coro.Swap(t.ctx, t.sched.driver.main.ctx)
	if t.sched.stopping() {
		return ErrCancelled
	}
	return nil
}

// Pause yields to every other due task, then resumes t, restoring any
// deadline t was scheduled for.
func (t *Task) Pause() error {
	if !t.running() {
		return ErrNotInTask
	}
	when, scheduled := t.when, t.Scheduled()
	t.Schedule(t.sched.now)
	if err := t.Release(); err != nil {
		return err
	}
	if scheduled {
		t.Schedule(when)
	}
	return nil
}

// Wait suspends t for at least d, relative to the scheduler's clock. An
// early resumption (e.g. via Schedule) is not distinguished.
func (t *Task) Wait(d time.Duration) error {
	if !t.running() {
		return ErrNotInTask
	}
	t.Schedule(t.sched.now.Add(d))
	return t.Release()
}
