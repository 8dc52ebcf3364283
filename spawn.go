package cosched

import (
	"errors"
	"fmt"
	"runtime"

	"code.hybscloud.com/iox"
)

// Spawn starts count child schedulers, each configured like s (but kept
// alive), and each looping on its own goroutine, locked to an OS thread.
// Children are numbered from 1, in order of creation, see
// [Scheduler.SpawnGet]. They share nothing with s; work is handed to them
// via [Scheduler.Submit].
//
// Stopping s stops every child, and closing s joins them.
func (s *Scheduler) Spawn(count int) error {
	if !s.inMain() {
		return ErrReentrant
	}
	if s.stopping() {
		return ErrCancelled
	}
	for i := 0; i < count; i++ {
		cfg := *s.opts
		cfg.keepAlive = true
		c, err := newScheduler(&cfg)
		if err != nil {
			return fmt.Errorf("cosched: spawn: %w", err)
		}
		c.parent = s
		c.done = make(chan struct{})
		s.mu.Lock()
		c.id = len(s.children) + 1
		s.children = append(s.children, c)
		s.mu.Unlock()
		go c.runThread()
	}
	return nil
}

func (s *Scheduler) runThread() {
	runtime.LockOSThread()
	defer close(s.done)
	s.logLifecycle(`spawned scheduler started`)
	err := s.Loop()
	s.closeErr = errors.Join(err, s.Close())
}

// SpawnGet returns the scheduler with the given spawn id: s itself for 0,
// a child for 1 through the number spawned, otherwise nil. Safe for
// concurrent use.
func (s *Scheduler) SpawnGet(id int) *Scheduler {
	if id == 0 {
		return s
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id < 0 || id > len(s.children) {
		return nil
	}
	return s.children[id-1]
}

// Spawned returns the number of children started by [Scheduler.Spawn].
func (s *Scheduler) Spawned() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.children)
}

// Submit starts a task, running fn, on s. Unlike the other methods, it may be
// called from any goroutine, and is the only way to hand work to a spawned
// scheduler. It fails with [iox.ErrWouldBlock] if the inbox is full, and
// [ErrCancelled] if s is stopping.
func (s *Scheduler) Submit(fn TaskFunc, arg any) error {
	if fn == nil {
		return ErrNilTask
	}
	s.mu.Lock()
	if s.stopping() {
		s.mu.Unlock()
		return ErrCancelled
	}
	item := submission{fn: fn, arg: arg}
	if err := s.inbox.Enqueue(&item); err != nil {
		s.mu.Unlock()
		return err
	}
	var err error
	if s.wakePending.CompareAndSwap(0, 1) {
		err = signalWakeFd(s.wakeW)
	}
	s.mu.Unlock()
	return err
}

// SubmitWait is [Scheduler.Submit], but waits (with backoff) while the inbox
// is full. It must not be called from s's own thread.
func (s *Scheduler) SubmitWait(fn TaskFunc, arg any) error {
	var bo iox.Backoff
	for {
		err := s.Submit(fn, arg)
		if !errors.Is(err, iox.ErrWouldBlock) {
			return err
		}
		bo.Wait()
	}
}

// wake interrupts a blocked poll, from any goroutine.
func (s *Scheduler) wake() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Load() == StateStopped {
		return
	}
	s.wakePending.Store(1)
	_ = signalWakeFd(s.wakeW)
}

// handleWake drains the wake fd and the inbox, then re-arms the wake fd.
func (s *Scheduler) handleWake() {
	drainWakeFd(s.wakeR)
	s.wakePending.Store(0)
	for {
		item, err := s.inbox.Dequeue()
		if err != nil {
			break
		}
		if err := s.Start(item.fn, item.arg); err != nil {
			s.logDiscarded(1)
		}
	}
	if err := s.poller.Modify(s.wakeR, DirRead); err != nil {
		s.logPollError(err)
	}
}
