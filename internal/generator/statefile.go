package generator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/natefinch/atomic"
	"github.com/rs/zerolog"

	"github.com/Zachdehooge/radar-loop/internal/geo"
	"github.com/Zachdehooge/radar-loop/internal/viewer"
	"github.com/Zachdehooge/radar-loop/internal/wms"
)

// Payload is the shape written to the state file and read by the browser map.
type Payload struct {
	Site         string         `json:"site"`
	Product      string         `json:"product"`
	Layer        string         `json:"layer"`
	Title        string         `json:"title"`
	Frame        time.Time      `json:"frame"`
	TimeLabel    string         `json:"timeLabel"`
	ImageAge     string         `json:"imageAge"`
	LegendURL    string         `json:"legendUrl"`
	GetMapURL    string         `json:"getMapUrl"`
	BBox         geo.Extent     `json:"bbox"`
	View         viewer.MapView `json:"view"`
	LastUpdated  string         `json:"lastUpdated"`
	UpdatedAtUTC int64          `json:"updatedAtUTC"`
}

// StateFile is a viewer.Display that rewrites a JSON file whenever what the
// map should show changes. Readers never see a partial file.
type StateFile struct {
	path    string
	clock   clockwork.Clock
	log     zerolog.Logger
	request wms.GetMapRequest
	payload Payload
	lastErr error
}

// NewStateFile returns a sink writing to path.
func NewStateFile(path string, clock clockwork.Clock, log zerolog.Logger) *StateFile {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &StateFile{
		path:  path,
		clock: clock,
		log:   log.With().Str("component", "statefile").Str("path", path).Logger(),
	}
}

// Path is where the state is written.
func (s *StateFile) Path() string { return s.path }

// Err returns the last write error, if any.
func (s *StateFile) Err() error { return s.lastErr }

// Payload returns the last state handed to the file.
func (s *StateFile) Payload() Payload { return s.payload }

func (s *StateFile) UpdateDisplayedTime(t time.Time) {
	s.payload.Frame = t
	if s.request.Layer != "" {
		req := s.request
		req.Time = t
		s.payload.GetMapURL = wms.GetMapURL(req)
	}
}

// SetTimeLabel follows every frame change, so it is the point the frame is
// written out.
func (s *StateFile) SetTimeLabel(text string) {
	s.payload.TimeLabel = text
	s.write()
}

func (s *StateFile) SetLegendURL(url string) {
	s.payload.LegendURL = url
	s.write()
}

func (s *StateFile) SetImageAge(text string) {
	if text == s.payload.ImageAge {
		return
	}
	s.payload.ImageAge = text
	s.write()
}

func (s *StateFile) SetLayer(info viewer.LayerInfo) {
	s.request = info.Request
	s.payload.Site = info.Site
	s.payload.Product = info.Product
	s.payload.Layer = info.Name
	s.payload.Title = info.Title
	s.payload.BBox = info.Extent
	s.write()
}

func (s *StateFile) SetView(view viewer.MapView) {
	s.payload.View = view
	s.write()
}

func (s *StateFile) write() {
	if err := s.flush(); err != nil {
		if s.lastErr == nil || s.lastErr.Error() != err.Error() {
			s.log.Warn().Err(err).Msg("state file write failed")
		}
		s.lastErr = err
		return
	}
	s.lastErr = nil
}

func (s *StateFile) flush() error {
	now := s.clock.Now().UTC()
	s.payload.LastUpdated = now.Format("Jan 2, 2006 at 15:04:05 UTC")
	s.payload.UpdatedAtUTC = now.Unix()

	data, err := json.Marshal(s.payload)
	if err != nil {
		return fmt.Errorf("marshal failed: %w", err)
	}
	if err := atomic.WriteFile(s.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	return nil
}
