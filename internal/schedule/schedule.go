package schedule

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// ErrEmptySchedule is matched by the error Build returns when no frame falls
// inside the animation window.
var ErrEmptySchedule = errors.New("empty animation schedule")

// EmptyScheduleError reports how many times were offered and the cutoff that
// removed all of them.
type EmptyScheduleError struct {
	Available int
	Cutoff    time.Time
}

func (e *EmptyScheduleError) Error() string {
	return fmt.Sprintf("%v: none of %d times after %s", ErrEmptySchedule, e.Available, e.Cutoff.UTC().Format(time.RFC3339))
}

func (e *EmptyScheduleError) Is(target error) bool { return target == ErrEmptySchedule }

// Schedule is the ordered list of frame times to animate, oldest first.
type Schedule []time.Time

// Len returns the number of frames.
func (s Schedule) Len() int { return len(s) }

// At returns frame i.
func (s Schedule) At(i int) time.Time { return s[i] }

// Latest returns the newest frame, or the zero time for an empty schedule.
func (s Schedule) Latest() time.Time {
	if len(s) == 0 {
		return time.Time{}
	}
	return s[len(s)-1]
}

// Oldest returns the first frame, or the zero time for an empty schedule.
func (s Schedule) Oldest() time.Time {
	if len(s) == 0 {
		return time.Time{}
	}
	return s[0]
}

// Build windows values (oldest first) to those strictly newer than
// now-window, then thins them so neighbouring frames are more than spacing
// apart. The newest frame is always kept. A spacing <= 0 keeps every
// windowed frame.
func Build(values []time.Time, now time.Time, window, spacing time.Duration) (Schedule, error) {
	cutoff := now.Add(-window)

	windowed := make([]time.Time, 0, len(values))
	for _, t := range values {
		if t.After(cutoff) {
			windowed = append(windowed, t)
		}
	}
	if len(windowed) == 0 {
		return nil, &EmptyScheduleError{Available: len(values), Cutoff: cutoff}
	}

	if spacing <= 0 {
		return Schedule(windowed), nil
	}

	last := windowed[len(windowed)-1]
	kept := []time.Time{last}
	for i := len(windowed) - 2; i >= 0; i-- {
		t := windowed[i]
		if last.Sub(t) > spacing {
			kept = append(kept, t)
			last = t
		}
	}
	slices.Reverse(kept)
	return Schedule(kept), nil
}
