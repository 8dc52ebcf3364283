//go:build linux || darwin

package cosched

import (
	"slices"
	"testing"
	"time"

	"code.hybscloud.com/iox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpawn_submitToChildren(t *testing.T) {
	s := newTestScheduler(t)
	require.NoError(t, s.Spawn(2))
	assert.Equal(t, 2, s.Spawned())

	assert.Same(t, s, s.SpawnGet(0))
	assert.Nil(t, s.SpawnGet(3))
	assert.Nil(t, s.SpawnGet(-1))

	results := make(chan int, 2)
	for id := 1; id <= 2; id++ {
		c := s.SpawnGet(id)
		require.NotNil(t, c)
		assert.Equal(t, id, c.ID())
		require.NoError(t, c.Submit(func(tk *Task) error {
			if err := tk.Wait(time.Millisecond); err != nil {
				return err
			}
			results <- tk.Scheduler().ID()
			return nil
		}, nil))
	}

	var got []int
	for range 2 {
		select {
		case id := <-results:
			got = append(got, id)
		case <-time.After(5 * time.Second):
			t.Fatal(`timed out waiting for spawned schedulers`)
		}
	}
	slices.Sort(got)
	assert.Equal(t, []int{1, 2}, got)

	require.NoError(t, s.Close())
	for id := 1; id <= 2; id++ {
		assert.Equal(t, StateStopped, s.SpawnGet(id).State())
	}
}

func TestSpawn_stopPropagates(t *testing.T) {
	s := newTestScheduler(t)
	require.NoError(t, s.Spawn(1))
	c := s.SpawnGet(1)

	started := make(chan struct{})
	cancelled := make(chan error, 1)
	require.NoError(t, c.SubmitWait(func(tk *Task) error {
		close(started)
		err := tk.Wait(time.Hour)
		cancelled <- err
		return err
	}, nil))

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal(`child task did not start`)
	}
	s.Stop()
	assert.Equal(t, StateStopping, s.State())

	select {
	case err := <-cancelled:
		assert.ErrorIs(t, err, ErrCancelled)
	case <-time.After(5 * time.Second):
		t.Fatal(`child task was not cancelled`)
	}
	require.NoError(t, s.Close())
	assert.ErrorIs(t, c.Submit(func(*Task) error { return nil }, nil), ErrCancelled)
}

func TestSpawn_stopped(t *testing.T) {
	s := newTestScheduler(t)
	s.Stop()
	assert.ErrorIs(t, s.Spawn(1), ErrCancelled)
	assert.Zero(t, s.Spawned())
}

func TestSubmit_runsOnOwnLoop(t *testing.T) {
	s := newTestScheduler(t, WithKeepAlive(true))

	ran := make(chan uint64, 1)
	go func() {
		assert.NoError(t, s.Submit(func(tk *Task) error {
			ran <- tk.ID()
			s.Stop()
			return nil
		}, nil))
	}()

	require.NoError(t, s.Loop())
	select {
	case id := <-ran:
		assert.NotZero(t, id)
	default:
		t.Fatal(`submitted task did not run`)
	}
}

func TestSubmit_full(t *testing.T) {
	s := newTestScheduler(t, WithInboxCapacity(2))

	var err error
	for i := 0; i < 1<<12 && err == nil; i++ {
		err = s.Submit(func(*Task) error { return nil }, nil)
	}
	assert.ErrorIs(t, err, iox.ErrWouldBlock)

	assert.ErrorIs(t, s.Submit(nil, nil), ErrNilTask)
}

func TestSubmit_drainedByPoll(t *testing.T) {
	s := newTestScheduler(t, WithKeepAlive(true), WithDefaultPollTimeout(time.Millisecond))

	var ran int
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Submit(func(*Task) error {
			ran++
			return nil
		}, nil))
	}
	assert.Zero(t, ran)

	// the first poll receives the wake-up, starting the tasks, which run on
	// the next
	require.NoError(t, s.Poll())
	assert.Equal(t, 3, s.Stats().Scheduled)
	require.NoError(t, s.Poll())
	assert.Equal(t, 3, ran)
}
