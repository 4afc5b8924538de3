package refresh

import (
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestScheduler() (*Scheduler, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClockAt(t0)
	return NewScheduler(clock, Options{Interval: 5 * time.Minute}), clock
}

func fired(c <-chan time.Time) bool {
	select {
	case <-c:
		return true
	default:
		return false
	}
}

func TestScheduler_SucceededArmsRemainingInterval(t *testing.T) {
	s, clock := newTestScheduler()
	assert.Nil(t, s.C())

	s.Begin(t0)
	assert.True(t, s.State().InFlight)

	delay := s.Succeeded(t0.Add(2*time.Second), 2*time.Second)
	assert.Equal(t, 5*time.Minute-2*time.Second, delay)
	st := s.State()
	assert.False(t, st.InFlight)
	assert.True(t, st.Armed)
	assert.Equal(t, t0.Add(2*time.Second), st.LastSuccess)
	require.NotNil(t, s.C())

	clock.Advance(delay - time.Second)
	assert.False(t, fired(s.C()))
	clock.Advance(time.Second)
	assert.True(t, fired(s.C()))
}

func TestScheduler_SlowRefreshArmsImmediately(t *testing.T) {
	s, _ := newTestScheduler()
	s.Begin(t0)
	assert.Equal(t, time.Duration(0), s.Succeeded(t0.Add(6*time.Minute), 6*time.Minute))
}

func TestScheduler_FailedArmsRetry(t *testing.T) {
	s, clock := newTestScheduler()
	s.Begin(t0)

	delay := s.Failed()
	assert.Equal(t, DefaultRetryDelay, delay)
	assert.True(t, s.State().PendingRetry)

	clock.Advance(DefaultRetryDelay)
	require.True(t, fired(s.C()))
	s.Fired()
	assert.Nil(t, s.C())
	assert.False(t, s.State().Armed)
}

func TestScheduler_BeginCancelsPending(t *testing.T) {
	s, clock := newTestScheduler()
	s.Begin(t0)
	s.Failed()
	old := s.C()

	s.Begin(t0.Add(time.Second))
	assert.Nil(t, s.C())
	assert.False(t, s.State().PendingRetry)

	clock.Advance(time.Minute)
	assert.False(t, fired(old), "cancelled timer must not fire")
}

func TestScheduler_RetryStopFallsBackToInterval(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	s := NewScheduler(clock, Options{Interval: 5 * time.Minute, Retry: &backoff.StopBackOff{}})
	s.Begin(t0)
	assert.Equal(t, 5*time.Minute, s.Failed())
}

func TestScheduler_Stalled(t *testing.T) {
	s, _ := newTestScheduler()
	assert.Equal(t, 10*time.Minute, s.Threshold())
	assert.False(t, s.Stalled(t0.Add(time.Hour)), "never attempted")

	s.Begin(t0)
	assert.False(t, s.Stalled(t0.Add(time.Hour)), "in flight")

	s.Succeeded(t0, 0)
	assert.False(t, s.Stalled(t0.Add(10*time.Minute)))
	assert.True(t, s.Stalled(t0.Add(10*time.Minute+time.Second)))

	s.Begin(t0.Add(11 * time.Minute))
	s.Failed()
	assert.False(t, s.Stalled(t0.Add(time.Hour)), "retry pending")
}

func TestScheduler_StalledBeforeAnySuccessUsesAttempt(t *testing.T) {
	s, _ := newTestScheduler()
	s.Begin(t0)
	s.Failed()
	s.Cancel()
	assert.False(t, s.Stalled(t0.Add(5*time.Minute)))
	assert.True(t, s.Stalled(t0.Add(11*time.Minute)))
}

func TestScheduler_SetInterval(t *testing.T) {
	s, _ := newTestScheduler()
	s.Begin(t0)
	s.Succeeded(t0, 0)
	assert.Equal(t, 5*time.Minute, s.State().NextDelay)

	s.SetInterval(2 * time.Minute)
	assert.Equal(t, 2*time.Minute, s.Interval())
	assert.Equal(t, 4*time.Minute, s.Threshold())

	s.Begin(t0.Add(time.Minute))
	assert.Equal(t, 2*time.Minute, s.Succeeded(t0.Add(time.Minute), 0))
}
