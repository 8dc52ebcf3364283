//go:build linux || darwin

package cosched

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/joeycumines/stumpy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTask_waitZeroCounter(t *testing.T) {
	s := newTestScheduler(t)

	var counter int
	require.NoError(t, s.Start(func(tk *Task) error {
		for i := 0; i < 10; i++ {
			if err := tk.Wait(0); err != nil {
				return err
			}
			counter++
		}
		return nil
	}, nil))

	var observed int
	require.NoError(t, s.Loop())
	require.NoError(t, s.Run(func(*Task) error {
		observed = counter
		return nil
	}, nil))
	assert.Equal(t, 10, observed)
}

func TestTask_resumeAccounting(t *testing.T) {
	s := newTestScheduler(t)

	const n = 50
	var runs [n]int
	for i := 0; i < n; i++ {
		require.NoError(t, s.Start(func(tk *Task) error {
			runs[i]++
			return tk.Wait(time.Duration(i%5) * time.Millisecond)
		}, nil))
	}
	require.NoError(t, s.Loop())

	for i, v := range runs {
		assert.Equal(t, 1, v, i)
	}
	stats := s.Stats()
	assert.Equal(t, uint64(n), stats.TasksCreated)
	assert.Equal(t, uint64(n), stats.TasksFinished)
	assert.Zero(t, stats.TasksKilled)
	assert.Zero(t, stats.Live)
	assert.Zero(t, stats.Scheduled)
}

func TestTask_accessors(t *testing.T) {
	s := newTestScheduler(t)

	main := s.Current()
	assert.Zero(t, main.ID())
	assert.Nil(t, main.Parent())
	assert.Same(t, s, main.Scheduler())

	var seen *Task
	require.NoError(t, s.Run(func(tk *Task) error {
		seen = tk
		assert.Same(t, tk, s.Current())
		assert.Same(t, main, tk.Parent())
		assert.Equal(t, `arg`, tk.Arg())
		assert.NotZero(t, tk.ID())
		assert.False(t, tk.Finished())
		return nil
	}, `arg`))
	require.NotNil(t, seen)
	assert.True(t, seen.Finished())
	assert.NoError(t, seen.Err())
	assert.Same(t, main, s.Current())
}

func TestTask_releaseFromMain(t *testing.T) {
	s := newTestScheduler(t)
	main := s.Current()
	assert.ErrorIs(t, main.Release(), ErrNotInTask)
	assert.ErrorIs(t, main.Wait(time.Millisecond), ErrNotInTask)
	assert.ErrorIs(t, main.Pause(), ErrNotInTask)
	main.Schedule(time.Time{})
	assert.False(t, main.Scheduled())
}

func TestTask_releaseNotCurrent(t *testing.T) {
	s := newTestScheduler(t)
	var other *Task
	require.NoError(t, s.Start(func(tk *Task) error {
		other = tk
		return tk.Wait(time.Millisecond)
	}, nil))
	require.NoError(t, s.Start(func(tk *Task) error {
		assert.ErrorIs(t, other.Release(), ErrNotInTask)
		return nil
	}, nil))
	require.NoError(t, s.Loop())
}

func TestTask_pauseRestoresDeadline(t *testing.T) {
	s := newTestScheduler(t)

	var (
		wakeTime time.Time
		pausedOK bool
	)
	require.NoError(t, s.Start(func(tk *Task) error {
		deadline := s.Now().Add(time.Hour)
		tk.Schedule(deadline)
		if err := tk.Pause(); err != nil {
			return err
		}
		pausedOK = true
		wakeTime = tk.WakeTime()
		assert.True(t, tk.Scheduled())
		assert.True(t, deadline.Equal(wakeTime))
		tk.Unschedule()
		return nil
	}, nil))
	require.NoError(t, s.Loop())
	assert.True(t, pausedOK)
}

func TestTask_waitDuration(t *testing.T) {
	s := newTestScheduler(t)

	const d = 20 * time.Millisecond
	var elapsed time.Duration
	require.NoError(t, s.Start(func(tk *Task) error {
		start := time.Now()
		if err := tk.Wait(d); err != nil {
			return err
		}
		elapsed = time.Since(start)
		return nil
	}, nil))
	require.NoError(t, s.Loop())
	assert.GreaterOrEqual(t, elapsed, d-time.Millisecond)
}

func TestTask_nestedRun(t *testing.T) {
	s := newTestScheduler(t)
	errChild := errors.New(`child result`)

	var (
		x, y       *Task
		xLocal     = 7
		afterRun   bool
		childSteps []int
	)
	require.NoError(t, s.Start(func(tk *Task) error {
		x = tk
		local := []int{1, 2, 3}
		err := s.Run(func(tk *Task) error {
			y = tk
			local := []int{9}
			for i := 0; i < 3; i++ {
				if err := tk.Wait(time.Millisecond); err != nil {
					return err
				}
				childSteps = append(childSteps, i)
			}
			_ = local
			return errChild
		}, nil)
		assert.ErrorIs(t, err, errChild)
		assert.True(t, y.Finished())
		assert.Same(t, x, y.Parent())
		assert.Equal(t, []int{1, 2, 3}, local)
		assert.Equal(t, 7, xLocal)
		assert.Same(t, x, s.Current())
		afterRun = true
		return nil
	}, nil))
	require.NoError(t, s.Loop())

	assert.True(t, afterRun)
	assert.Equal(t, []int{0, 1, 2}, childSteps)
	assert.Zero(t, s.Stats().Live)
}

func TestTask_nestedRunCancelledOnClose(t *testing.T) {
	s := newTestScheduler(t, WithDefaultPollTimeout(time.Millisecond))
	r, _ := testPipe(t)

	var (
		parentCalls, childCalls int
		parentErr, childErr     error
	)
	require.NoError(t, s.Start(func(*Task) error {
		parentErr = s.Run(func(*Task) error {
			childErr = s.WaitFor(s.Node(r), DirRead)
			childCalls++
			return childErr
		}, nil)
		parentCalls++
		return parentErr
	}, nil))
	require.NoError(t, s.Poll())
	assert.Equal(t, 2, s.Stats().Live)
	assert.Equal(t, 1, s.Stats().PendingIO)

	s.Stop()
	require.NoError(t, s.Close())

	assert.Equal(t, 1, parentCalls)
	assert.Equal(t, 1, childCalls)
	assert.ErrorIs(t, parentErr, ErrCancelled)
	assert.ErrorIs(t, childErr, ErrCancelled)
	assert.Zero(t, s.Stats().TasksKilled)
	assert.Zero(t, s.Stats().Live)
}

func TestTask_nestedRunCancelledChildFirst(t *testing.T) {
	s := newTestScheduler(t, WithDefaultPollTimeout(time.Millisecond))

	var (
		parentCalls int
		parentErr   error
	)
	require.NoError(t, s.Start(func(*Task) error {
		parentErr = s.Run(func(tk *Task) error {
			return tk.Wait(time.Hour)
		}, nil)
		parentCalls++
		return nil
	}, nil))
	require.NoError(t, s.Poll())
	assert.Equal(t, 1, s.Stats().Scheduled)

	// the scheduled child is resumed first, and its result is handed up
	require.NoError(t, s.Close())

	assert.Equal(t, 1, parentCalls)
	assert.ErrorIs(t, parentErr, ErrCancelled)
	assert.Zero(t, s.Stats().TasksKilled)
}

func TestTask_nestedRunSynchronous(t *testing.T) {
	s := newTestScheduler(t)
	var order []string
	require.NoError(t, s.Start(func(*Task) error {
		order = append(order, `x1`)
		assert.NoError(t, s.Run(func(*Task) error {
			order = append(order, `y`)
			return nil
		}, nil))
		order = append(order, `x2`)
		return nil
	}, nil))
	require.NoError(t, s.Loop())
	assert.Equal(t, []string{`x1`, `y`, `x2`}, order)
}

func TestScheduler_runFromMain(t *testing.T) {
	s := newTestScheduler(t)
	errResult := errors.New(`result`)
	err := s.Run(func(tk *Task) error {
		if err := tk.Wait(2 * time.Millisecond); err != nil {
			return err
		}
		return errResult
	}, nil)
	assert.ErrorIs(t, err, errResult)
}

func TestScheduler_runFromMainStalled(t *testing.T) {
	s := newTestScheduler(t)
	var released error
	err := s.Run(func(tk *Task) error {
		released = tk.Release()
		return released
	}, nil)
	assert.ErrorIs(t, err, ErrStalled)
	require.NoError(t, s.Close())
	assert.ErrorIs(t, released, ErrCancelled)
}

func TestScheduler_runNil(t *testing.T) {
	s := newTestScheduler(t)
	assert.ErrorIs(t, s.Run(nil, nil), ErrNilTask)
	assert.ErrorIs(t, s.Start(nil, nil), ErrNilTask)
}

func TestTask_panicRecovered(t *testing.T) {
	var buf bytes.Buffer
	logger := stumpy.L.New(stumpy.L.WithStumpy(stumpy.WithWriter(&buf))).Logger()
	s := newTestScheduler(t, WithLogger(logger))

	err := s.Run(func(*Task) error {
		panic(`boom`)
	}, nil)
	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, `boom`, pe.Value)
	assert.NotZero(t, pe.TaskID)
	assert.Contains(t, buf.String(), `task panicked`)
	assert.Contains(t, buf.String(), `boom`)

	// the scheduler is unaffected
	assert.NoError(t, s.Run(func(*Task) error { return nil }, nil))
}
