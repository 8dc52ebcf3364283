// Package cosched provides a cooperative scheduler of stackful coroutines,
// integrated with I/O readiness notification, for writing network services
// as straight-line blocking code.
//
// # Architecture
//
// A [Scheduler] owns a set of [Task] coroutines, a time-ordered set of the
// tasks that are scheduled to run, and a [Poller]. Each iteration of
// [Scheduler.Poll] resumes every due task, in (wake time, task id) order,
// then waits for readiness, resuming tasks blocked in [Scheduler.WaitFor].
// Readiness is tracked per file descriptor by a [Node].
//
// Exactly one task (or the scheduler's own main context) runs at any instant.
// Tasks suspend only at explicit points: [Task.Release], [Task.Wait],
// [Task.Pause], [Scheduler.WaitFor], and [Scheduler.Run]. There is no
// preemption.
//
// # Platform Support
//
// Readiness polling uses platform-native mechanisms, armed one-shot and
// edge-triggered:
//   - Linux: epoll
//   - macOS: kqueue
//
// Other platforms fail with [ErrUnsupportedPlatform].
//
// # Thread Safety
//
// A scheduler is single-threaded. [Scheduler.Stop], [Scheduler.Submit],
// [Scheduler.SubmitWait], [Scheduler.SpawnGet] and [Scheduler.State] are
// safe to call from any goroutine; everything else must be called from the
// goroutine driving the scheduler, or one of its tasks. [Scheduler.Spawn]
// runs additional, independent schedulers, each on its own OS thread.
//
// # Usage
//
//	s, err := cosched.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//
//	_ = s.Start(func(t *cosched.Task) error {
//	    if err := t.Wait(100 * time.Millisecond); err != nil {
//	        return err
//	    }
//	    fmt.Println("Hello after 100ms")
//	    return nil
//	}, nil)
//
//	if err := s.Loop(); err != nil {
//	    log.Fatal(err)
//	}
//
// # Error Types
//
//   - [ErrCancelled]: the scheduler is stopping, or the node was removed
//   - [ErrTimeout]: woke before the awaited readiness, matches ETIMEDOUT
//   - [IOError]: the poller reported an error for the fd
//   - [PanicError]: wraps a value recovered from a panicking task
package cosched
