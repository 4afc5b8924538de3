package viewer

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/Zachdehooge/radar-loop/internal/geo"
	"github.com/Zachdehooge/radar-loop/internal/wms"
)

// MapView is where the external map should look.
type MapView struct {
	Center geo.Point `json:"center"`
	Zoom   int       `json:"zoom"`
	Marker geo.Point `json:"marker"`
}

// LayerInfo describes the radar layer currently shown. Request is the GetMap
// request without a time; the map fills in the displayed frame.
type LayerInfo struct {
	Site    string            `json:"site"`
	Product string            `json:"product"`
	Name    string            `json:"name"`
	Title   string            `json:"title"`
	Extent  geo.Extent        `json:"extent"`
	Request wms.GetMapRequest `json:"-"`
}

// Display is the external map. Methods are called from the controller's
// goroutine only.
type Display interface {
	UpdateDisplayedTime(t time.Time)
	SetTimeLabel(text string)
	SetLegendURL(url string)
	SetImageAge(text string)
	SetLayer(info LayerInfo)
	SetView(view MapView)
}

// LogDisplay logs what a map would show. Frame changes log at trace level.
type LogDisplay struct {
	Log zerolog.Logger
}

func (d LogDisplay) UpdateDisplayedTime(t time.Time) {
	d.Log.Trace().Time("frame", t).Msg("frame displayed")
}

func (d LogDisplay) SetTimeLabel(text string) {
	d.Log.Trace().Str("label", text).Msg("time label")
}

func (d LogDisplay) SetLegendURL(url string) {
	d.Log.Debug().Str("legend", url).Msg("legend updated")
}

func (d LogDisplay) SetImageAge(text string) {
	d.Log.Trace().Str("age", text).Msg("image age")
}

func (d LogDisplay) SetLayer(info LayerInfo) {
	d.Log.Info().Str("layer", info.Name).Str("title", info.Title).Stringer("bbox", info.Extent).Msg("layer updated")
}

func (d LogDisplay) SetView(view MapView) {
	d.Log.Info().Int("zoom", view.Zoom).Float64("x", view.Center.X).Float64("y", view.Center.Y).Msg("map view")
}

// MultiDisplay fans every call out to each display in order.
type MultiDisplay []Display

func (m MultiDisplay) UpdateDisplayedTime(t time.Time) {
	for _, d := range m {
		d.UpdateDisplayedTime(t)
	}
}

func (m MultiDisplay) SetTimeLabel(text string) {
	for _, d := range m {
		d.SetTimeLabel(text)
	}
}

func (m MultiDisplay) SetLegendURL(url string) {
	for _, d := range m {
		d.SetLegendURL(url)
	}
}

func (m MultiDisplay) SetImageAge(text string) {
	for _, d := range m {
		d.SetImageAge(text)
	}
}

func (m MultiDisplay) SetLayer(info LayerInfo) {
	for _, d := range m {
		d.SetLayer(info)
	}
}

func (m MultiDisplay) SetView(view MapView) {
	for _, d := range m {
		d.SetView(view)
	}
}
