package animation

import (
	"fmt"
	"time"
)

const frameTimeLayout = "1/2/2006, 3:04:05 PM MST"

// FormatFrameTime renders a frame time in loc for the time label.
func FormatFrameTime(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(frameTimeLayout)
}

// FormatAge renders how old the newest image is, e.g. "04m12s", or
// "1h04m12s" once an hour has passed.
func FormatAge(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Truncate(time.Second)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	if h == 0 {
		return fmt.Sprintf("%02dm%02ds", m, s)
	}
	return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
}
