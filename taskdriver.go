package cosched

import (
	"container/heap"
	"slices"
	"time"

	"github.com/joeycumines/go-cosched/internal/coro"
)

// taskHeap is the time-ordered set of scheduled tasks, keyed by (wake time,
// task id). Ids are unique, so no two tasks ever compare equal.
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool { return taskLess(h[i], h[j]) }

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	t := x.(*Task)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

func taskLess(a, b *Task) bool {
	if !a.when.Equal(b.when) {
		return a.when.Before(b.when)
	}
	return a.id < b.id
}

// taskDriver runs the tasks of a single scheduler.
type taskDriver struct {
	main    *Task
	current *Task
	tasks   map[uint64]*Task
	stats   *Stats
	timers  taskHeap
	// pass is incremented by every run, tasks scheduled during a run are
	// deferred to the next
	pass uint64
}

func newTaskDriver(s *Scheduler) *taskDriver {
	main := &Task{sched: s, ctx: coro.Main(), index: -1}
	return &taskDriver{
		main:    main,
		current: main,
		tasks:   make(map[uint64]*Task),
		stats:   &s.stats,
	}
}

func (d *taskDriver) newTask(s *Scheduler, fn TaskFunc, arg any) *Task {
	t := newTask(s, d.current, fn, arg)
	d.tasks[t.id] = t
	d.stats.TasksCreated++
	return t
}

func (d *taskDriver) schedule(t *Task, at time.Time) {
	t.when = at
	t.pass = d.pass
	if t.index >= 0 {
		heap.Fix(&d.timers, t.index)
		return
	}
	heap.Push(&d.timers, t)
}

func (d *taskDriver) unschedule(t *Task) {
	if t.index < 0 || t.index >= len(d.timers) || d.timers[t.index] != t {
		return
	}
	heap.Remove(&d.timers, t.index)
}

// resume transfers control to t, from the current task, returning once
// control is handed back. Tasks that finish are destroyed.
func (d *taskDriver) resume(t *Task) error {
	if t == nil {
		return ErrNilTask
	}
	if t.finished || t == d.current || t == d.main {
		return nil
	}
	d.unschedule(t)
	prev := d.current
	d.current = t
	r := coro.Swap(prev.ctx, t.ctx)
	d.current = prev
	if r == coro.Finished && t.ctx.Finished() {
		d.destroy(t)
	}
	return nil
}

func (d *taskDriver) destroy(t *Task) {
	if t.finished {
		return
	}
	t.finished = true
	d.unschedule(t)
	delete(d.tasks, t.id)
	d.stats.TasksFinished++
	if j := t.joiner; j != nil {
		t.joiner = nil
		if j != d.current {
			j.Schedule(time.Time{})
		}
	}
}

// run resumes every task due as of now, in (wake time, id) order. It returns
// the time until the next scheduled task, or false if there are none.
func (d *taskDriver) run(now time.Time) (time.Duration, bool) {
	d.pass++
	pass := d.pass
	for len(d.timers) > 0 {
		t := d.timers[0]
		if t.when.After(now) {
			return t.when.Sub(now), true
		}
		if t.pass == pass {
			// (re)scheduled by this run
			return 0, true
		}
		_ = d.resume(t)
	}
	return 0, false
}

// stopAll resumes every suspended task exactly once, scheduled tasks first,
// in key order, then the rest, by id.
func (d *taskDriver) stopAll() {
	order := slices.Clone(d.timers)
	slices.SortFunc(order, func(a, b *Task) int {
		if taskLess(a, b) {
			return -1
		}
		return 1
	})
	for _, t := range d.sortedTasks() {
		if t.index < 0 {
			order = append(order, t)
		}
	}
	for _, t := range order {
		_ = d.resume(t)
	}
}

// killAll destroys every remaining task, without resuming it normally,
// returning the number killed.
func (d *taskDriver) killAll() int {
	var count int
	for len(d.tasks) != 0 {
		for _, t := range d.sortedTasks() {
			d.unschedule(t)
			prev := d.current
			d.current = t
			t.ctx.Kill(prev.ctx)
			d.current = prev
			d.destroy(t)
			d.stats.TasksKilled++
			count++
		}
	}
	return count
}

func (d *taskDriver) sortedTasks() []*Task {
	tasks := make([]*Task, 0, len(d.tasks))
	for _, t := range d.tasks {
		tasks = append(tasks, t)
	}
	slices.SortFunc(tasks, func(a, b *Task) int {
		switch {
		case a.id < b.id:
			return -1
		case a.id > b.id:
			return 1
		}
		return 0
	})
	return tasks
}

// pending returns the number of scheduled tasks.
func (d *taskDriver) pending() int { return len(d.timers) }

// live returns the number of tasks not yet destroyed, excluding main.
func (d *taskDriver) live() int { return len(d.tasks) }
