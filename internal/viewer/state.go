package viewer

import (
	"time"

	"github.com/Zachdehooge/radar-loop/internal/refresh"
	"github.com/Zachdehooge/radar-loop/internal/wms"
)

// State is a point-in-time copy of everything the viewer shows.
type State struct {
	Target    Target        `json:"target"`
	Layer     LayerInfo     `json:"layer"`
	LegendURL string        `json:"legendUrl"`
	View      MapView       `json:"view"`
	Frames    []time.Time   `json:"frames"`
	Index     int           `json:"index"`
	Running   bool          `json:"running"`
	Displayed time.Time     `json:"displayed"`
	TimeLabel string        `json:"timeLabel"`
	ImageAge  string        `json:"imageAge"`
	GetMapURL string        `json:"getMapUrl,omitempty"`
	Refresh   refresh.State `json:"refresh"`
	LastError string        `json:"lastError,omitempty"`
}

// Loaded reports whether a layer has been applied yet.
func (s State) Loaded() bool { return len(s.Frames) > 0 }

func (c *Controller) snapshot() State {
	st := State{
		Target:    c.target,
		View:      c.view(),
		Index:     c.anim.Index(),
		Running:   c.anim.Running(),
		Displayed: c.displayed,
		TimeLabel: c.label,
		ImageAge:  c.age,
		Refresh:   c.refresh.State(),
		LastError: c.lastErr,
	}
	if c.layer == nil {
		return st
	}

	st.Layer = c.layerInfo()
	st.LegendURL = c.layer.LegendURL
	st.Frames = append([]time.Time(nil), c.anim.Schedule()...)
	if !c.displayed.IsZero() {
		req := st.Layer.Request
		req.Time = c.displayed
		st.GetMapURL = wms.GetMapURL(req)
	}
	return st
}
