package animation

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Zachdehooge/radar-loop/internal/schedule"
)

// MapLayer is the radar image layer of the external map. It re-requests its
// image when the displayed time changes.
type MapLayer interface {
	UpdateDisplayedTime(t time.Time)
}

// Label shows the displayed frame time to the user.
type Label interface {
	SetTimeLabel(text string)
}

// Driver cycles through a schedule at a fixed frame rate. It is not safe for
// concurrent use; the owner calls every method, including Tick when C fires,
// from one goroutine.
type Driver struct {
	clock    clockwork.Clock
	layer    MapLayer
	label    Label
	loc      *time.Location
	period   time.Duration
	schedule schedule.Schedule
	index    int
	ticker   clockwork.Ticker // nil while stopped
}

// NewDriver returns a stopped driver. frameRate is in frames per second and
// must be positive.
func NewDriver(clock clockwork.Clock, frameRate float64, layer MapLayer, label Label) *Driver {
	return &Driver{
		clock:  clock,
		layer:  layer,
		label:  label,
		loc:    time.UTC,
		period: FramePeriod(frameRate),
	}
}

// FramePeriod converts a frame rate to the tick period, 1000/frameRate ms.
func FramePeriod(frameRate float64) time.Duration {
	if frameRate <= 0 {
		frameRate = 1
	}
	return time.Duration(float64(time.Second) / frameRate)
}

// SetLocation sets the time zone used for the time label.
func (d *Driver) SetLocation(loc *time.Location) {
	if loc == nil {
		loc = time.UTC
	}
	d.loc = loc
}

// SetFrameRate changes the tick period, restarting playback if running.
func (d *Driver) SetFrameRate(frameRate float64) {
	d.period = FramePeriod(frameRate)
	if d.Running() {
		d.Play()
	}
}

// SetSchedule replaces the schedule and rewinds to the first frame.
func (d *Driver) SetSchedule(s schedule.Schedule) {
	d.schedule = s
	d.index = 0
}

// Schedule returns the current schedule.
func (d *Driver) Schedule() schedule.Schedule { return d.schedule }

// Index returns the position of the displayed frame in the schedule.
func (d *Driver) Index() int { return d.index }

// Period returns the tick period.
func (d *Driver) Period() time.Duration { return d.period }

// Running reports whether playback is active.
func (d *Driver) Running() bool { return d.ticker != nil }

// C delivers ticks while playing and is nil while stopped, so a select on it
// blocks forever when nothing is playing.
func (d *Driver) C() <-chan time.Time {
	if d.ticker == nil {
		return nil
	}
	return d.ticker.Chan()
}

// Play starts playback, restarting the ticker when already playing.
func (d *Driver) Play() {
	d.Stop()
	d.ticker = d.clock.NewTicker(d.period)
}

// Stop halts playback. Stopping a stopped driver does nothing.
func (d *Driver) Stop() {
	if d.ticker != nil {
		d.ticker.Stop()
		d.ticker = nil
	}
}

// StopLatest halts playback and shows the newest frame without moving the
// schedule index.
func (d *Driver) StopLatest() {
	d.Stop()
	if len(d.schedule) == 0 {
		return
	}
	d.show(d.schedule.Latest())
}

// ShowLatest displays the newest frame, leaving playback state alone.
func (d *Driver) ShowLatest() {
	if len(d.schedule) == 0 {
		return
	}
	d.show(d.schedule.Latest())
}

// Tick advances to the next frame, wrapping to the first after the last.
func (d *Driver) Tick() {
	if len(d.schedule) == 0 {
		return
	}
	d.index = (d.index + 1) % len(d.schedule)
	d.show(d.schedule[d.index])
}

func (d *Driver) show(t time.Time) {
	if d.layer != nil {
		d.layer.UpdateDisplayedTime(t)
	}
	if d.label != nil {
		d.label.SetTimeLabel(FormatFrameTime(t, d.loc))
	}
}
