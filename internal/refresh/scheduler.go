package refresh

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
)

// DefaultRetryDelay is how long to wait after a failed refresh before trying
// again.
const DefaultRetryDelay = 15 * time.Second

// State is the refresh bookkeeping the watchdog reads.
type State struct {
	LastSuccess  time.Time     `json:"lastSuccess"`
	LastAttempt  time.Time     `json:"lastAttempt"`
	PendingRetry bool          `json:"pendingRetry"`
	InFlight     bool          `json:"inFlight"`
	Armed        bool          `json:"armed"`
	NextDelay    time.Duration `json:"nextDelay"`
}

// Options configures a Scheduler.
type Options struct {
	Interval time.Duration
	// Retry yields the delay after a failure. Defaults to a constant
	// DefaultRetryDelay.
	Retry backoff.BackOff
	// WatchdogFactor multiplies Interval to give the stall threshold.
	WatchdogFactor float64
}

// Scheduler owns the single refresh timer. Every arm cancels the previous
// timer first, so at most one refresh is ever pending. Not safe for
// concurrent use.
type Scheduler struct {
	clock    clockwork.Clock
	interval time.Duration
	retry    backoff.BackOff
	factor   float64
	timer    clockwork.Timer // nil when nothing is pending
	state    State
}

// NewScheduler returns a scheduler with no timer armed.
func NewScheduler(clock clockwork.Clock, opts Options) *Scheduler {
	if opts.Retry == nil {
		opts.Retry = backoff.NewConstantBackOff(DefaultRetryDelay)
	}
	if opts.WatchdogFactor <= 0 {
		opts.WatchdogFactor = 2
	}
	return &Scheduler{
		clock:    clock,
		interval: opts.Interval,
		retry:    opts.Retry,
		factor:   opts.WatchdogFactor,
	}
}

// Interval is the normal refresh cadence.
func (s *Scheduler) Interval() time.Duration { return s.interval }

// SetInterval changes the refresh cadence. It takes effect the next time a
// refresh is armed.
func (s *Scheduler) SetInterval(d time.Duration) { s.interval = d }

// State returns a copy of the current bookkeeping.
func (s *Scheduler) State() State { return s.state }

// C fires when the armed refresh is due; nil when nothing is armed.
func (s *Scheduler) C() <-chan time.Time {
	if s.timer == nil {
		return nil
	}
	return s.timer.Chan()
}

// Cancel disarms any pending refresh or retry.
func (s *Scheduler) Cancel() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.state.Armed = false
	s.state.PendingRetry = false
}

// Fired records that the armed timer was consumed.
func (s *Scheduler) Fired() {
	s.timer = nil
	s.state.Armed = false
}

// Begin marks a refresh as started, cancelling whatever was pending.
func (s *Scheduler) Begin(now time.Time) {
	s.Cancel()
	s.state.InFlight = true
	s.state.LastAttempt = now
}

// Succeeded records a completed refresh and arms the next one so that the
// cadence stays at Interval regardless of how long the refresh took.
func (s *Scheduler) Succeeded(now time.Time, elapsed time.Duration) time.Duration {
	s.state.InFlight = false
	s.state.LastSuccess = now
	s.retry.Reset()

	delay := s.interval - elapsed
	if delay < 0 {
		delay = 0
	}
	s.arm(delay)
	return delay
}

// Failed records a failed refresh and arms a short retry.
func (s *Scheduler) Failed() time.Duration {
	s.state.InFlight = false

	delay := s.retry.NextBackOff()
	if delay == backoff.Stop {
		delay = s.interval
	}
	s.arm(delay)
	s.state.PendingRetry = true
	return delay
}

// Stalled reports whether refreshes have silently stopped: nothing in
// flight, no retry pending, and the last success (or, before any success,
// the last attempt) older than the watchdog threshold.
//
// The reference is the time the last capabilities document was applied,
// not the displayed frame's timestamp. A radar that stops publishing new
// scans is therefore not treated as a stalled refresh loop.
func (s *Scheduler) Stalled(now time.Time) bool {
	if s.state.InFlight || s.state.PendingRetry {
		return false
	}
	ref := s.state.LastSuccess
	if ref.IsZero() {
		ref = s.state.LastAttempt
	}
	if ref.IsZero() {
		return false
	}
	return now.Sub(ref) > s.Threshold()
}

// Threshold is the age after which the watchdog forces a refresh.
func (s *Scheduler) Threshold() time.Duration {
	return time.Duration(s.factor * float64(s.interval))
}

func (s *Scheduler) arm(d time.Duration) {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = s.clock.NewTimer(d)
	s.state.Armed = true
	s.state.NextDelay = d
}
