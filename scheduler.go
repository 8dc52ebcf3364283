package cosched

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/lfq"
	"github.com/joeycumines/logiface"
)

// ErrReentrant is returned by operations that must be called from the
// scheduler's main context (outside of any task), such as Poll and Close.
var ErrReentrant = errors.New("cosched: called from within a task")

// submission is a task start, queued by Submit.
type submission struct {
	fn  TaskFunc
	arg any
}

// Scheduler is a single-threaded cooperative scheduler of [Task] coroutines,
// integrated with a readiness [Poller].
//
// Apart from [Scheduler.Stop], [Scheduler.Submit], [Scheduler.SubmitWait],
// [Scheduler.State] and [Scheduler.ID], all methods must be called from the
// goroutine that drives the scheduler (the one calling Loop or Poll), or from
// one of its tasks.
type Scheduler struct {
	now          time.Time
	mainDeadline time.Time
	poller       Poller
	logger       *logiface.Logger[logiface.Event]
	driver       *taskDriver
	nodes        map[int]*Node
	opts         *schedulerOptions
	parent       *Scheduler
	done         chan struct{}
	closeErr     error
	events       []Event
	children     []*Scheduler
	inbox        lfq.SPSC[submission]
	stats        Stats
	state        fastState
	wakePending  atomix.Uint32
	pollTimeout  time.Duration
	nbpending    int
	id           int
	wakeR        int
	wakeW        int
	// mu serialises Submit producers, and guards children and the wake fds
	mu        sync.Mutex
	keepAlive bool
}

// New creates a scheduler. It owns OS resources (a poller and a wake fd),
// which are released by [Scheduler.Close].
func New(opts ...Option) (*Scheduler, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	return newScheduler(cfg)
}

func newScheduler(cfg *schedulerOptions) (*Scheduler, error) {
	poller, err := NewPoller(cfg.maxEvents)
	if err != nil {
		return nil, fmt.Errorf("cosched: create poller: %w", err)
	}
	wakeR, wakeW, err := createWakeFd()
	if err != nil {
		_ = poller.Close()
		return nil, fmt.Errorf("cosched: create wake fd: %w", err)
	}
	closeAll := func() {
		_ = poller.Close()
		_ = closeFD(wakeR)
		if wakeW != wakeR {
			_ = closeFD(wakeW)
		}
	}
	if err := poller.Register(wakeR, DirRead); err != nil {
		closeAll()
		return nil, fmt.Errorf("cosched: register wake fd: %w", err)
	}
	s := &Scheduler{
		now:         time.Now(),
		poller:      poller,
		logger:      cfg.logger,
		nodes:       make(map[int]*Node),
		opts:        cfg,
		events:      make([]Event, 0, cfg.maxEvents),
		pollTimeout: cfg.pollTimeout,
		wakeR:       wakeR,
		wakeW:       wakeW,
		keepAlive:   cfg.keepAlive,
	}
	s.inbox.Init(cfg.inboxCapacity)
	s.driver = newTaskDriver(s)
	s.logLifecycle(`scheduler created`)
	return s, nil
}

// ID returns the spawn id of the scheduler: 0 unless it was created by
// [Scheduler.Spawn].
func (s *Scheduler) ID() int { return s.id }

// State returns the current lifecycle state. Safe for concurrent use.
func (s *Scheduler) State() State { return s.state.Load() }

// Now returns the clock snapshot taken at the start of the current poll.
func (s *Scheduler) Now() time.Time { return s.now }

// Current returns the running task, or the main task (id 0) if called from
// outside of any task.
func (s *Scheduler) Current() *Task { return s.driver.current }

func (s *Scheduler) inMain() bool { return s.driver.current == s.driver.main }

func (s *Scheduler) stopping() bool { return s.state.Load() != StateRunning }

// ended reports whether Loop should return.
func (s *Scheduler) ended() bool {
	if s.stopping() {
		return true
	}
	if s.keepAlive {
		return false
	}
	return s.nbpending == 0 && s.driver.pending() == 0
}

// Poll runs a single iteration of the scheduler: every due task is resumed,
// then, unless the scheduler has ended, the poller is waited on (until the
// next task is due, capped by the default poll timeout), and any readiness
// events are dispatched, which may resume tasks blocked in [Scheduler.WaitFor].
func (s *Scheduler) Poll() error {
	if !s.inMain() {
		return ErrReentrant
	}
	if s.state.Load() == StateStopped {
		return ErrSchedulerStopped
	}

	s.now = time.Now()
	next, ok := s.driver.run(s.now)
	if s.ended() {
		return nil
	}

	timeout := s.pollTimeout
	if ok && next < timeout {
		timeout = next
	}
	if !s.mainDeadline.IsZero() {
		if d := s.mainDeadline.Sub(s.now); d < timeout {
			timeout = max(d, 0)
		}
	}

	var err error
	s.events, err = s.poller.Wait(timeout, s.events[:0])
	s.stats.Polls++
	if err != nil {
		s.logPollError(err)
		return fmt.Errorf("cosched: poll: %w", err)
	}

	for _, ev := range s.events {
		if ev.FD == s.wakeR {
			s.handleWake()
			continue
		}
		if n := s.nodes[ev.FD]; n != nil {
			s.stats.Events++
			n.notify(ev)
		}
	}
	return nil
}

// Loop polls until the scheduler ends: it was stopped, or, unless kept
// alive, there are no scheduled tasks and no tasks waiting for readiness.
func (s *Scheduler) Loop() error {
	if !s.inMain() {
		return ErrReentrant
	}
	s.logLifecycle(`loop started`)
	defer s.logLifecycle(`loop stopped`)
	for {
		if err := s.Poll(); err != nil {
			return err
		}
		if s.ended() {
			return nil
		}
	}
}

// Stop requests the scheduler, and any spawned children, stop. Every task
// suspended at that point, or which subsequently suspends, observes
// [ErrCancelled]. Stop is idempotent, and safe for concurrent use.
func (s *Scheduler) Stop() {
	if !s.state.TryTransition(StateRunning, StateStopping) {
		return
	}
	s.logLifecycle(`scheduler stopping`)
	s.mu.Lock()
	children := slices.Clone(s.children)
	s.mu.Unlock()
	for _, c := range children {
		c.Stop()
	}
	s.wake()
}

// Close stops the scheduler, then joins every spawned child, resumes every
// suspended task once (so that it may observe ErrCancelled and unwind),
// cancels every node, kills any tasks that are still alive, and finally
// releases the poller and wake fd. It must be called from the main context.
func (s *Scheduler) Close() error {
	if !s.inMain() {
		return ErrReentrant
	}
	if s.state.Load() == StateStopped {
		return nil
	}
	s.Stop()

	var errs []error

	s.mu.Lock()
	children := slices.Clone(s.children)
	s.mu.Unlock()
	for _, c := range children {
		<-c.done
		if c.closeErr != nil {
			errs = append(errs, fmt.Errorf("cosched: spawned scheduler %d: %w", c.id, c.closeErr))
		}
	}

	s.driver.stopAll()

	for _, n := range s.sortedNodes() {
		s.flush(n)
	}

	if killed := s.driver.killAll(); killed > 0 {
		s.logKilled(killed)
	}

	s.mu.Lock()
	s.state.Store(StateStopped)
	var discarded int
	for {
		if _, err := s.inbox.Dequeue(); err != nil {
			break
		}
		discarded++
	}
	errs = append(errs, s.poller.Close(), closeFD(s.wakeR))
	if s.wakeW != s.wakeR {
		errs = append(errs, closeFD(s.wakeW))
	}
	s.mu.Unlock()

	if discarded > 0 {
		s.logDiscarded(discarded)
	}
	s.logLifecycle(`scheduler closed`)
	return errors.Join(errs...)
}

// flush cancels a node that is still linked at Close.
func (s *Scheduler) flush(n *Node) {
	n.cancelled = true
	n.linked = false
	delete(s.nodes, n.fd)
	_ = s.poller.Unregister(n.fd)
	if t := n.task; t != nil && !t.isMain() {
		_ = s.driver.resume(t)
	}
}

func (s *Scheduler) sortedNodes() []*Node {
	nodes := make([]*Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		nodes = append(nodes, n)
	}
	slices.SortFunc(nodes, func(a, b *Node) int { return a.fd - b.fd })
	return nodes
}

// Start creates a detached task, which will run fn(t) at the next
// opportunity. Its result is discarded, see also [Scheduler.Run].
func (s *Scheduler) Start(fn TaskFunc, arg any) error {
	if fn == nil {
		return ErrNilTask
	}
	if s.stopping() {
		return ErrCancelled
	}
	t := s.driver.newTask(s, fn, arg)
	s.driver.schedule(t, time.Time{})
	return nil
}

// Run creates a task, and runs it immediately, returning its result once it
// finishes. When called from a task, the caller is suspended until then.
// When called from the main context, the scheduler is polled until then,
// and [ErrStalled] is returned if the task can never be resumed.
func (s *Scheduler) Run(fn TaskFunc, arg any) error {
	if fn == nil {
		return ErrNilTask
	}
	if s.stopping() {
		return ErrCancelled
	}
	cur := s.driver.current
	child := s.driver.newTask(s, fn, arg)
	if cur.isMain() {
		_ = s.driver.resume(child)
		for !child.finished {
			switch {
			case s.stopping():
				return ErrCancelled
			case s.nbpending == 0 && s.driver.pending() == 0:
				return ErrStalled
			}
			if err := s.Poll(); err != nil {
				return err
			}
		}
		return child.result
	}
	// if the child suspends, control returns to main, not the caller, which
	// is instead scheduled by the child finishing
	child.joiner = cur
	_ = s.driver.resume(child)
	for !child.finished {
		if s.stopping() {
			// the child is resumed separately, by the stop
			child.joiner = nil
			return ErrCancelled
		}
		child.joiner = cur
		if err := cur.Release(); err != nil {
			child.joiner = nil
			return err
		}
	}
	return child.result
}

// Node returns the node for fd, creating it if necessary.
func (s *Scheduler) Node(fd int) *Node {
	if n := s.nodes[fd]; n != nil {
		return n
	}
	n := &Node{sched: s, fd: fd, linked: true}
	s.nodes[fd] = n
	return n
}

// Remove unregisters n from the poller, and unlinks it from the scheduler.
// A task waiting on n is resumed with [ErrCancelled]. Removing a node twice
// returns [ErrNodeRemoved].
func (s *Scheduler) Remove(n *Node) error {
	if n == nil || n.sched != s || !n.linked {
		return ErrNodeRemoved
	}
	n.linked = false
	n.cancelled = true
	if s.nodes[n.fd] == n {
		delete(s.nodes, n.fd)
	}
	var err error
	if n.registered != 0 {
		err = s.poller.Unregister(n.fd)
	}
	if t := n.task; t != nil && !t.isMain() && t != s.driver.current {
		if s.inMain() {
			_ = s.driver.resume(t)
		} else {
			t.Schedule(time.Time{})
		}
	}
	return err
}

// WaitFor blocks the current task until n is ready in the given direction.
// When called from the main context, the scheduler is polled instead.
//
// It returns [ErrTimeout] if the task was resumed before the event arrived
// (see [Scheduler.WaitForTimeout]), [ErrCancelled] if the scheduler is
// stopping or n was removed, an [*IOError] if the poller reported an error
// for the fd, and [ErrNodeBusy] if another task is already waiting on n.
func (s *Scheduler) WaitFor(n *Node, dir Direction) error {
	return s.waitFor(n, dir, time.Time{})
}

// WaitForTimeout is [Scheduler.WaitFor], failing with [ErrTimeout] if the
// event has not arrived within d.
func (s *Scheduler) WaitForTimeout(n *Node, dir Direction, d time.Duration) error {
	return s.waitFor(n, dir, s.deadline(d))
}

// deadline returns the point d after the scheduler's clock. Tasks measure
// from the snapshot taken by the current poll, as [Task.Wait] does, while
// the main context, having no such snapshot, refreshes it first.
func (s *Scheduler) deadline(d time.Duration) time.Time {
	if s.inMain() {
		s.now = time.Now()
	}
	return s.now.Add(d)
}

var errInvalidDirection = errors.New("cosched: invalid direction")

func (s *Scheduler) waitFor(n *Node, dir Direction, deadline time.Time) error {
	if n == nil || n.sched != s || !n.linked {
		return ErrNodeRemoved
	}
	dir &= DirReadWrite
	if dir == 0 {
		return errInvalidDirection
	}
	if s.stopping() {
		s.stats.Cancellations++
		return ErrCancelled
	}
	if n.errno != 0 {
		return n.ioError()
	}
	if n.received&dir != 0 {
		n.received &^= dir
		return nil
	}
	if n.task != nil {
		return ErrNodeBusy
	}

	cur := s.driver.current
	arm := n.registered | dir
	var err error
	if n.registered == 0 {
		err = s.poller.Register(n.fd, arm)
	} else {
		err = s.poller.Modify(n.fd, arm)
	}
	if err != nil {
		return err
	}
	n.registered = arm
	n.task = cur
	n.waiting = dir
	s.nbpending++

	if cur.isMain() {
		err = s.busyWait(n, dir, deadline)
	} else {
		if !deadline.IsZero() {
			cur.Schedule(deadline)
		}
		err = cur.Release()
		cur.Unschedule()
	}

	s.nbpending--
	n.task = nil
	n.waiting = 0

	switch {
	case err == nil && n.cancelled:
		err = ErrCancelled
	case err == nil && n.errno != 0:
		err = n.ioError()
	case err == nil && n.received&dir == 0:
		err = ErrTimeout
	}
	if err != nil {
		if err == ErrCancelled {
			s.stats.Cancellations++
		}
		return err
	}
	n.received &^= dir
	return nil
}

// busyWait polls on behalf of the main context, which cannot be suspended.
func (s *Scheduler) busyWait(n *Node, dir Direction, deadline time.Time) error {
	prev := s.mainDeadline
	if !deadline.IsZero() && (prev.IsZero() || deadline.Before(prev)) {
		s.mainDeadline = deadline
	}
	defer func() { s.mainDeadline = prev }()
	for n.received&dir == 0 && n.errno == 0 && !n.cancelled {
		if s.stopping() {
			return ErrCancelled
		}
		if !deadline.IsZero() && !s.now.Before(deadline) {
			return nil
		}
		if err := s.Poll(); err != nil {
			return err
		}
	}
	return nil
}
