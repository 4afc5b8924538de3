package viewer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/Zachdehooge/radar-loop/internal/animation"
	"github.com/Zachdehooge/radar-loop/internal/fetcher"
	"github.com/Zachdehooge/radar-loop/internal/history"
	"github.com/Zachdehooge/radar-loop/internal/locations"
	"github.com/Zachdehooge/radar-loop/internal/metrics"
	"github.com/Zachdehooge/radar-loop/internal/refresh"
	"github.com/Zachdehooge/radar-loop/internal/schedule"
	"github.com/Zachdehooge/radar-loop/internal/wms"
)

// ErrStopped is returned by controller methods once Run has returned.
var ErrStopped = errors.New("viewer stopped")

const watchdogTick = time.Second

// Source fetches capabilities documents.
type Source interface {
	Fetch(ctx context.Context, site string) (*fetcher.Response, error)
}

// Recorder stores one row per refresh attempt.
type Recorder interface {
	Record(ctx context.Context, r history.Record) error
}

// Target is what the viewer shows: a site, a product on it and the home
// location the map is centered on.
type Target struct {
	Site    string                 `json:"site"`
	Product string                 `json:"product"`
	Home    locations.HomeLocation `json:"home"`
}

// Layer is the GeoServer layer name for the target.
func (t Target) Layer() string { return wms.LayerName(t.Site, t.Product) }

// Options configures a Controller.
type Options struct {
	Target    Target
	Locations []locations.HomeLocation

	BaseURL string
	// CRS is the bounding box the layer must advertise.
	CRS         string
	ImageWidth  int
	ImageHeight int

	FrameRate       float64
	Window          time.Duration
	Spacing         time.Duration
	RefreshInterval time.Duration
	RetryDelay      time.Duration
	WatchdogFactor  float64
	Autoplay        bool

	Clock    clockwork.Clock
	Log      zerolog.Logger
	Recorder Recorder
}

type outcome struct {
	seq      uint64
	target   Target
	started  time.Time
	elapsed  time.Duration
	layer    *wms.LayerRecord
	schedule schedule.Schedule
	err      error
}

// Controller owns the view state. Run is the only goroutine that touches it;
// the exported methods hand closures to Run and wait for them.
type Controller struct {
	opts    Options
	clock   clockwork.Clock
	log     zerolog.Logger
	source  Source
	display Display

	anim    *animation.Driver
	refresh *refresh.Scheduler

	cmds    chan func(ctx context.Context)
	results chan outcome
	stopped chan struct{}

	target    Target
	layer     *wms.LayerRecord
	shown     Target // target the current layer was loaded for
	seq       uint64
	cancel    context.CancelFunc // cancels the in-flight pipeline
	displayed time.Time
	label     string
	age       string
	lastErr   string
}

// New returns a controller that starts working when Run is called.
func New(source Source, display Display, opts Options) *Controller {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.CRS == "" {
		opts.CRS = "EPSG:4326"
	}
	if opts.ImageWidth <= 0 {
		opts.ImageWidth = 1024
	}
	if opts.ImageHeight <= 0 {
		opts.ImageHeight = 1024
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = refresh.DefaultRetryDelay
	}
	if opts.Locations == nil {
		opts.Locations = locations.Defaults()
	}
	if display == nil {
		display = MultiDisplay{}
	}

	c := &Controller{
		opts:    opts,
		clock:   opts.Clock,
		log:     opts.Log.With().Str("component", "viewer").Logger(),
		source:  source,
		display: display,
		cmds:    make(chan func(ctx context.Context)),
		results: make(chan outcome, 4),
		stopped: make(chan struct{}),
		target:  opts.Target,
	}
	c.anim = animation.NewDriver(opts.Clock, opts.FrameRate, (*frameSink)(c), (*frameSink)(c))
	c.anim.SetLocation(opts.Target.Home.Location())
	c.refresh = refresh.NewScheduler(opts.Clock, refresh.Options{
		Interval:       opts.RefreshInterval,
		Retry:          backoff.NewConstantBackOff(opts.RetryDelay),
		WatchdogFactor: opts.WatchdogFactor,
	})
	return c
}

// Run drives the viewer until ctx is done. It starts with an immediate
// refresh.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.stopped)

	watchdog := c.clock.NewTicker(watchdogTick)
	defer watchdog.Stop()
	defer c.shutdown()

	c.display.SetView(c.view())
	c.startRefresh(ctx, "startup")

	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-c.cmds:
			fn(ctx)
		case out := <-c.results:
			c.apply(out)
		case <-c.anim.C():
			c.anim.Tick()
		case <-c.refresh.C():
			c.refresh.Fired()
			c.startRefresh(ctx, "scheduled")
		case now := <-watchdog.Chan():
			c.checkWatchdog(ctx, now)
		}
	}
}

func (c *Controller) shutdown() {
	c.anim.Stop()
	c.refresh.Cancel()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// do runs fn on the Run goroutine and waits for it to finish.
func (c *Controller) do(ctx context.Context, fn func(ctx context.Context)) error {
	done := make(chan struct{})
	wrapped := func(runCtx context.Context) {
		defer close(done)
		fn(runCtx)
	}
	select {
	case c.cmds <- wrapped:
	case <-c.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

// Play starts the animation.
func (c *Controller) Play(ctx context.Context) error {
	return c.do(ctx, func(context.Context) { c.anim.Play() })
}

// Stop pauses the animation on the current frame.
func (c *Controller) Stop(ctx context.Context) error {
	return c.do(ctx, func(context.Context) { c.anim.Stop() })
}

// StopLatest pauses the animation and shows the newest frame.
func (c *Controller) StopLatest(ctx context.Context) error {
	return c.do(ctx, func(context.Context) { c.anim.StopLatest() })
}

// Settings are the playback and refresh parameters that can change while
// the viewer runs.
type Settings struct {
	FrameRate       float64       `json:"frameRate"`
	Window          time.Duration `json:"window"`
	Spacing         time.Duration `json:"spacing"`
	RefreshInterval time.Duration `json:"refreshInterval"`
	Autoplay        bool          `json:"autoplay"`
}

// Validate reports settings the controller cannot run with.
func (s Settings) Validate() error {
	switch {
	case !(s.FrameRate > 0) || math.IsInf(s.FrameRate, 1):
		return fmt.Errorf("frame rate must be positive, got %g", s.FrameRate)
	case s.Window <= 0:
		return fmt.Errorf("window must be positive, got %s", s.Window)
	case s.RefreshInterval <= 0:
		return fmt.Errorf("refresh interval must be positive, got %s", s.RefreshInterval)
	}
	return nil
}

// Reconfigure switches to t with settings s. Any change refreshes
// immediately; an identical target and settings pair is a no-op.
func (c *Controller) Reconfigure(ctx context.Context, t Target, s Settings) error {
	if t.Site == "" || t.Product == "" {
		return fmt.Errorf("target needs a site and a product")
	}
	if err := s.Validate(); err != nil {
		return err
	}
	return c.do(ctx, func(runCtx context.Context) { c.reconfigure(runCtx, t, s) })
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot(ctx context.Context) (State, error) {
	var st State
	err := c.do(ctx, func(context.Context) { st = c.snapshot() })
	return st, err
}

func (c *Controller) settings() Settings {
	return Settings{
		FrameRate:       c.opts.FrameRate,
		Window:          c.opts.Window,
		Spacing:         c.opts.Spacing,
		RefreshInterval: c.opts.RefreshInterval,
		Autoplay:        c.opts.Autoplay,
	}
}

func (c *Controller) reconfigure(ctx context.Context, t Target, s Settings) {
	prev := c.settings()
	if t == c.target && s == prev {
		return
	}

	if t != c.target {
		c.log.Info().Str("site", t.Site).Str("product", t.Product).Str("home", t.Home.Name).Msg("target changed")
		c.target = t
		c.anim.SetLocation(t.Home.Location())
		c.display.SetView(c.view())
	}

	if s != prev {
		c.log.Info().
			Float64("frame_rate", s.FrameRate).
			Dur("window", s.Window).
			Dur("spacing", s.Spacing).
			Dur("refresh", s.RefreshInterval).
			Bool("autoplay", s.Autoplay).
			Msg("settings changed")
		c.opts.FrameRate = s.FrameRate
		c.opts.Window = s.Window
		c.opts.Spacing = s.Spacing
		c.opts.RefreshInterval = s.RefreshInterval
		c.opts.Autoplay = s.Autoplay
		c.refresh.SetInterval(s.RefreshInterval)
		if s.FrameRate != prev.FrameRate {
			c.anim.SetFrameRate(s.FrameRate)
		}
		if prev.Autoplay && !s.Autoplay {
			c.anim.Stop()
		}
	}

	c.startRefresh(ctx, "reconfigure")
}

// startRefresh supersedes any pending or in-flight refresh and runs the
// fetch, parse and build pipeline in the background.
func (c *Controller) startRefresh(ctx context.Context, reason string) {
	if c.cancel != nil {
		c.cancel()
	}
	now := c.clock.Now()
	c.refresh.Begin(now)
	c.seq++

	pctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.log.Debug().Str("reason", reason).Str("layer", c.target.Layer()).Uint64("seq", c.seq).Msg("refresh started")
	go c.pipeline(pctx, c.seq, c.target, now)
}

func (c *Controller) pipeline(ctx context.Context, seq uint64, t Target, started time.Time) {
	out := outcome{seq: seq, target: t, started: started}
	out.layer, out.schedule, out.err = c.load(ctx, t)
	out.elapsed = c.clock.Since(started)
	if ctx.Err() != nil {
		// Superseded by a newer refresh or shut down.
		return
	}

	c.observe(ctx, out)

	select {
	case c.results <- out:
	case <-ctx.Done():
	}
}

func (c *Controller) load(ctx context.Context, t Target) (*wms.LayerRecord, schedule.Schedule, error) {
	resp, err := c.source.Fetch(ctx, t.Site)
	if err != nil {
		return nil, nil, err
	}
	layer, err := wms.Parse(resp.Body, t.Layer(), c.opts.CRS)
	if err != nil {
		return nil, nil, err
	}
	sched, err := schedule.Build(layer.Time.Values, c.clock.Now(), c.opts.Window, c.opts.Spacing)
	if err != nil {
		return nil, nil, err
	}
	return layer, sched, nil
}

// observe reports the attempt to metrics and the optional recorder.
func (c *Controller) observe(ctx context.Context, out outcome) {
	kind := outcomeKind(out.err)
	metrics.ObserveRefresh(kind, out.elapsed, out.schedule.Len())
	if c.opts.Recorder == nil {
		return
	}

	rec := history.Record{
		StartedAt: out.started,
		Site:      out.target.Site,
		Product:   out.target.Product,
		Outcome:   kind,
		ElapsedMs: out.elapsed.Milliseconds(),
	}
	if out.err != nil {
		rec.Error = out.err.Error()
	} else {
		rec.Frames = out.schedule.Len()
		rec.LatestFrame = out.schedule.Latest()
		rec.FrameTimes = history.EncodeTimes(out.schedule)
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := c.opts.Recorder.Record(rctx, rec); err != nil {
		c.log.Warn().Err(err).Msg("failed to record refresh")
	}
}

func outcomeKind(err error) string {
	var ff *fetcher.FetchFailure
	switch {
	case err == nil:
		return history.OutcomeSuccess
	case errors.As(err, &ff):
		return history.OutcomeFetchError
	case errors.Is(err, wms.ErrParse):
		return history.OutcomeParseError
	case errors.Is(err, schedule.ErrEmptySchedule):
		return history.OutcomeEmptySchedule
	default:
		return history.OutcomeError
	}
}

func (c *Controller) apply(out outcome) {
	if out.seq != c.seq {
		c.log.Debug().Uint64("seq", out.seq).Uint64("current", c.seq).Msg("dropping stale refresh result")
		return
	}
	c.cancel = nil

	if out.err != nil {
		c.lastErr = out.err.Error()
		delay := c.refresh.Failed()
		c.log.Warn().Err(out.err).Str("layer", out.target.Layer()).Dur("retry_in", delay).Msg("refresh failed")
		return
	}

	c.lastErr = ""
	wasRunning := c.anim.Running()
	c.layer = out.layer
	c.shown = out.target
	c.anim.SetSchedule(out.schedule)

	c.display.SetLayer(c.layerInfo())
	c.display.SetLegendURL(out.layer.LegendURL)
	c.anim.ShowLatest()
	if c.opts.Autoplay || wasRunning {
		c.anim.Play()
	}

	next := c.refresh.Succeeded(c.clock.Now(), out.elapsed)
	c.updateAge(c.clock.Now())
	c.log.Info().
		Str("layer", out.layer.Name).
		Int("frames", out.schedule.Len()).
		Time("latest", out.schedule.Latest()).
		Dur("next_in", next).
		Msg("refresh complete")
}

func (c *Controller) checkWatchdog(ctx context.Context, now time.Time) {
	c.updateAge(now)
	if !c.refresh.Stalled(now) {
		return
	}
	st := c.refresh.State()
	c.log.Warn().
		Time("last_success", st.LastSuccess).
		Dur("threshold", c.refresh.Threshold()).
		Msg("refresh stalled, forcing refresh")
	metrics.WatchdogTriggered()
	c.startRefresh(ctx, "watchdog")
}

func (c *Controller) updateAge(now time.Time) {
	sched := c.anim.Schedule()
	if sched.Len() == 0 {
		return
	}
	age := now.Sub(sched.Latest())
	c.age = animation.FormatAge(age)
	c.display.SetImageAge(c.age)
	metrics.SetImageAge(age)
}

func (c *Controller) view() MapView {
	marker := c.target.Home.Marker3857()
	return MapView{Center: marker, Zoom: c.target.Home.Zoom, Marker: marker}
}

func (c *Controller) layerInfo() LayerInfo {
	if c.layer == nil {
		return LayerInfo{Site: c.target.Site, Product: c.target.Product, Name: c.target.Layer()}
	}
	ext := c.layer.BoundingBox().WebMercator()
	return LayerInfo{
		Site:    c.shown.Site,
		Product: c.shown.Product,
		Name:    c.layer.Name,
		Title:   c.layer.Title,
		Extent:  ext,
		Request: wms.GetMapRequest{
			BaseURL: c.opts.BaseURL,
			Site:    c.shown.Site,
			Layer:   c.layer.Name,
			Style:   c.layer.Style,
			BBox:    ext,
			Width:   c.opts.ImageWidth,
			Height:  c.opts.ImageHeight,
		},
	}
}

// frameSink receives frames from the animation driver, remembers them for
// snapshots and forwards them to the display.
type frameSink Controller

func (s *frameSink) UpdateDisplayedTime(t time.Time) {
	s.displayed = t
	s.display.UpdateDisplayedTime(t)
}

func (s *frameSink) SetTimeLabel(text string) {
	s.label = text
	s.display.SetTimeLabel(text)
}
