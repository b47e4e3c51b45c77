package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(opts Options) *Manager {
	if opts.AwaitWait == 0 {
		opts.AwaitWait = time.Second
	}
	return NewManager(opts)
}

// blocker returns a job body that waits for release.
func blocker(release <-chan struct{}, result any) Func {
	return func(ctx context.Context) (any, error) {
		<-release
		return result, nil
	}
}

func TestJobLifecycle(t *testing.T) {
	m := newManager(Options{MaxPolls: 5})
	release := make(chan struct{})

	id, err := m.Submit("report", blocker(release, "done"))
	require.NoError(t, err)

	_, err = m.Result(id)
	assert.ErrorIs(t, err, ErrJobNotFinished)

	st, err := m.Poll(id)
	require.NoError(t, err)
	assert.Contains(t, []State{StateQueued, StateRunning}, st.State)
	assert.Equal(t, 1, st.PollCount)
	assert.Nil(t, st.Result)

	close(release)
	m.Wait()

	st, err = m.Poll(id)
	require.NoError(t, err)
	assert.Equal(t, StateFinished, st.State)
	assert.Equal(t, "done", st.Result)
	assert.Equal(t, 2, st.PollCount)
	assert.False(t, st.StopPolling)
	require.NotNil(t, st.FinishedAt)

	res, err := m.Result(id)
	require.NoError(t, err)
	assert.Equal(t, "done", res)
}

func TestPollCeilingSignalsStop(t *testing.T) {
	m := newManager(Options{MaxPolls: 3})
	release := make(chan struct{})
	defer close(release)

	id, err := m.Submit("slow", blocker(release, nil))
	require.NoError(t, err)

	for i := 1; i <= 2; i++ {
		st, err := m.Poll(id)
		require.NoError(t, err)
		assert.False(t, st.StopPolling, "poll %d", i)
	}
	st, err := m.Poll(id)
	require.NoError(t, err)
	assert.Equal(t, 3, st.PollCount)
	assert.True(t, st.StopPolling)

	st, err = m.Get(id)
	require.NoError(t, err)
	assert.Equal(t, 3, st.PollCount, "Get does not count")
}

func TestFailuresAndPanicsAreCaptured(t *testing.T) {
	m := newManager(Options{})

	failing, err := m.Submit("bad", func(ctx context.Context) (any, error) {
		return nil, errors.New("scope vanished")
	})
	require.NoError(t, err)
	panicking, err := m.Submit("worse", func(ctx context.Context) (any, error) {
		panic("nil map")
	})
	require.NoError(t, err)
	m.Wait()

	st, err := m.Poll(failing)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, st.State)
	assert.Equal(t, "scope vanished", st.Error)

	_, err = m.Result(failing)
	assert.ErrorIs(t, err, ErrJobFailed)
	assert.ErrorContains(t, err, "scope vanished")

	st, err = m.Poll(panicking)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, st.State)
	assert.Contains(t, st.Error, "nil map")
}

func TestTransitionsNeverRegress(t *testing.T) {
	m := newManager(Options{})
	id, err := m.Submit("quick", func(ctx context.Context) (any, error) { return 1, nil })
	require.NoError(t, err)
	m.Wait()

	m.mu.Lock()
	j := m.jobs[id]
	m.mu.Unlock()

	m.transition(j, StateRunning, nil, "")
	m.transition(j, StateFailed, nil, "late")

	st, err := m.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StateFinished, st.State)
	assert.Empty(t, st.Error)
}

func TestWorkerPoolBoundsConcurrency(t *testing.T) {
	m := newManager(Options{Workers: 2})
	var running, peak atomic.Int32
	release := make(chan struct{})

	for i := 0; i < 6; i++ {
		_, err := m.Submit("load", func(ctx context.Context) (any, error) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-release
			running.Add(-1)
			return nil, nil
		})
		require.NoError(t, err)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	m.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestAwaitIsBounded(t *testing.T) {
	m := newManager(Options{AwaitWait: 30 * time.Millisecond})
	release := make(chan struct{})
	defer close(release)

	id, err := m.Submit("slow", blocker(release, nil))
	require.NoError(t, err)

	start := time.Now()
	_, err = m.Await(context.Background(), id, time.Hour)
	assert.ErrorIs(t, err, ErrJobNotFinished)
	assert.Less(t, time.Since(start), time.Second, "capped at the configured ceiling")

	_, err = m.Await(context.Background(), "nope", time.Millisecond)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestAwaitReturnsAsSoonAsDone(t *testing.T) {
	m := newManager(Options{AwaitWait: 5 * time.Second})
	id, err := m.Submit("fast", func(ctx context.Context) (any, error) {
		time.Sleep(10 * time.Millisecond)
		return 42, nil
	})
	require.NoError(t, err)

	res, err := m.Await(context.Background(), id, 0)
	require.NoError(t, err)
	assert.Equal(t, 42, res)
}

func TestDispatchInlinesQuickJobs(t *testing.T) {
	m := newManager(Options{QuickWait: time.Second})

	st, err := m.Dispatch(context.Background(), "fast", func(ctx context.Context) (any, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, StateFinished, st.State)
	assert.Equal(t, "ok", st.Result)

	slow := newManager(Options{QuickWait: 10 * time.Millisecond})
	release := make(chan struct{})
	defer close(release)
	st, err = slow.Dispatch(context.Background(), "slow", blocker(release, nil))
	require.NoError(t, err)
	assert.False(t, st.State.Terminal())
	assert.NotEmpty(t, st.ID)
}

func TestSweepDropsRetrievedAndExpired(t *testing.T) {
	clock := time.Date(2025, 3, 12, 9, 0, 0, 0, time.UTC)
	m := newManager(Options{Retention: time.Hour})
	m.SetClock(func() time.Time { return clock })

	quick := func(ctx context.Context) (any, error) { return nil, nil }
	kept, _ := m.Submit("kept", quick)
	taken, _ := m.Submit("taken", quick)
	m.Wait()

	_, err := m.Result(taken)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Sweep())

	_, err = m.Get(taken)
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, err = m.Get(kept)
	require.NoError(t, err)

	m.SetClock(func() time.Time { return clock.Add(2 * time.Hour) })
	assert.Equal(t, 1, m.Sweep())
	assert.Empty(t, m.List())
}

func TestMaxJobsPrunesOldestEnded(t *testing.T) {
	clock := time.Date(2025, 3, 12, 9, 0, 0, 0, time.UTC)
	m := newManager(Options{MaxJobs: 2})
	var tick atomic.Int64
	m.SetClock(func() time.Time { return clock.Add(time.Duration(tick.Add(1)) * time.Second) })

	quick := func(ctx context.Context) (any, error) { return nil, nil }
	first, _ := m.Submit("first", quick)
	m.Wait()
	second, _ := m.Submit("second", quick)
	m.Wait()

	third, err := m.Submit("third", quick)
	require.NoError(t, err)
	m.Wait()

	_, err = m.Get(first)
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, err = m.Get(second)
	assert.NoError(t, err)
	_, err = m.Get(third)
	assert.NoError(t, err)

	release := make(chan struct{})
	defer close(release)
	busy := newManager(Options{MaxJobs: 1})
	_, err = busy.Submit("a", blocker(release, nil))
	require.NoError(t, err)
	_, err = busy.Submit("b", blocker(release, nil))
	assert.ErrorIs(t, err, ErrTooManyJobs)
}
