package server

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zachdehooge/radar-loop/internal/config"
	"github.com/Zachdehooge/radar-loop/internal/fetcher"
	"github.com/Zachdehooge/radar-loop/internal/history"
	"github.com/Zachdehooge/radar-loop/internal/viewer"
)

type fakeViewer struct {
	mu      sync.Mutex
	state   viewer.State
	err      error
	actions  []string
	settings viewer.Settings
}

func (f *fakeViewer) Snapshot(context.Context) (viewer.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, f.err
}

func (f *fakeViewer) act(name string, running bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.actions = append(f.actions, name)
	f.state.Running = running
	return nil
}

func (f *fakeViewer) Play(context.Context) error       { return f.act("play", true) }
func (f *fakeViewer) Stop(context.Context) error       { return f.act("stop", false) }
func (f *fakeViewer) StopLatest(context.Context) error { return f.act("latest", false) }

func (f *fakeViewer) Reconfigure(_ context.Context, t viewer.Target, settings viewer.Settings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, "target")
	f.state.Target = t
	f.settings = settings
	return nil
}

type fakeHistory struct {
	limit int
}

func (f *fakeHistory) Recent(_ context.Context, limit int) ([]history.Record, error) {
	f.limit = limit
	return []history.Record{{Site: "kmux", Outcome: history.OutcomeSuccess, Frames: 12}}, nil
}

func newTestServer(t *testing.T, v *fakeViewer, h HistoryReader) http.Handler {
	t.Helper()
	_, cfg, err := config.Load("", nil)
	require.NoError(t, err)
	s := New(":0", v, Options{
		Log:     zerolog.Nop(),
		History: h,
		Config:  func() config.Config { return cfg },
	})
	return s.Handler()
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	rec := do(t, newTestServer(t, &fakeViewer{}, nil), http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok\n", rec.Body.String())
}

func TestReadyz(t *testing.T) {
	v := &fakeViewer{}
	h := newTestServer(t, v, nil)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/readyz").Code)

	v.state.Frames = []time.Time{time.Now()}
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/readyz").Code)
}

func TestState(t *testing.T) {
	v := &fakeViewer{state: viewer.State{TimeLabel: "3/1/2024, 4:04:00 AM PST", Index: 2}}
	rec := do(t, newTestServer(t, v, nil), http.MethodGet, "/api/state")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var st viewer.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, 2, st.Index)
	assert.Equal(t, "3/1/2024, 4:04:00 AM PST", st.TimeLabel)
}

func TestControls(t *testing.T) {
	v := &fakeViewer{}
	h := newTestServer(t, v, nil)

	rec := do(t, h, http.MethodPost, "/api/play")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"running":true`)

	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/stop").Code)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/latest").Code)
	assert.Equal(t, []string{"play", "stop", "latest"}, v.actions)

	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodGet, "/api/play").Code)
}

func TestControls_ViewerStopped(t *testing.T) {
	v := &fakeViewer{err: viewer.ErrStopped}
	rec := do(t, newTestServer(t, v, nil), http.MethodPost, "/api/play")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestTarget(t *testing.T) {
	v := &fakeViewer{}
	h := newTestServer(t, v, nil)

	rec := do(t, h, http.MethodPost, "/api/target?home_name=Bob&radar_type=bvel_raw")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "katx", v.state.Target.Site)
	assert.Equal(t, "bvel_raw", v.state.Target.Product)
	assert.Equal(t, "Bob", v.state.Target.Home.Name)

	assert.Equal(t, 90*time.Minute, v.settings.Window)
	assert.True(t, v.settings.Autoplay)

	rec = do(t, h, http.MethodPost, "/api/target?home_name=Atlantis")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "unknown home location"))
}

func TestTarget_PassesSettings(t *testing.T) {
	v := &fakeViewer{}
	h := newTestServer(t, v, nil)

	rec := do(t, h, http.MethodPost, "/api/target?window=30&spacing=0&frame_rate=4&refresh=2&autoplay=false")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, viewer.Settings{
		FrameRate:       4,
		Window:          30 * time.Minute,
		Spacing:         0,
		RefreshInterval: 2 * time.Minute,
		Autoplay:        false,
	}, v.settings)
}

func TestTarget_RejectsNonFiniteMarker(t *testing.T) {
	v := &fakeViewer{}
	h := newTestServer(t, v, nil)

	rec := do(t, h, http.MethodPost, "/api/target?marker=NaN,NaN")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "not a finite coordinate")
	assert.Empty(t, v.actions)
}

func TestWriteJSON_EncodeFailure(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusOK, map[string]float64{"lon": math.NaN()})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"failed to encode response"}`, rec.Body.String())
}

type fixtureSource struct {
	body []byte
}

func (f fixtureSource) Fetch(_ context.Context, site string) (*fetcher.Response, error) {
	return &fetcher.Response{URL: "http://radar.test/" + site + "/ows", Body: f.body, StatusCode: http.StatusOK}, nil
}

// TestTarget_AppliesSettingsToController runs a real controller behind the
// API and checks that window and autoplay reach the running viewer.
func TestTarget_AppliesSettingsToController(t *testing.T) {
	raw, err := os.ReadFile("../wms/testdata/kmux_capabilities.xml")
	require.NoError(t, err)

	_, cfg, err := config.Load("", nil)
	require.NoError(t, err)
	target, err := cfg.Target()
	require.NoError(t, err)
	settings := cfg.Settings()

	c := viewer.New(fixtureSource{body: raw}, nil, viewer.Options{
		Target:          target,
		BaseURL:         "http://radar.test",
		FrameRate:       settings.FrameRate,
		Window:          settings.Window,
		Spacing:         settings.Spacing,
		RefreshInterval: settings.RefreshInterval,
		Autoplay:        settings.Autoplay,
		Clock:           clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 5, 0, 0, time.UTC)),
		Log:             zerolog.Nop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	var mu sync.Mutex
	current := cfg
	h := New(":0", c, Options{
		Log: zerolog.Nop(),
		Config: func() config.Config {
			mu.Lock()
			defer mu.Unlock()
			return current
		},
		SetConfig: func(next config.Config) {
			mu.Lock()
			defer mu.Unlock()
			current = next
		},
	}).Handler()

	require.Eventually(t, func() bool {
		st, err := c.Snapshot(ctx)
		return err == nil && st.Running && len(st.Frames) == 2
	}, 2*time.Second, 10*time.Millisecond)

	rec := do(t, h, http.MethodPost, "/api/target?site=kmux&window=5&frame_rate=4&autoplay=false")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.Eventually(t, func() bool {
		st, err := c.Snapshot(ctx)
		return err == nil && len(st.Frames) == 1 && !st.Running
	}, 2*time.Second, 10*time.Millisecond)

	// A later change builds on the stored window.
	rec = do(t, h, http.MethodPost, "/api/target?radar_type=bvel_raw")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	mu.Lock()
	assert.Equal(t, 5, current.WindowMinutes)
	assert.Equal(t, "bvel_raw", current.Product)
	mu.Unlock()
}

func TestHistory(t *testing.T) {
	hist := &fakeHistory{}
	h := newTestServer(t, &fakeViewer{}, hist)

	rec := do(t, h, http.MethodGet, "/api/history?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, hist.limit)

	var records []history.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, 12, records[0].Frames)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/history?limit=0").Code)
}

func TestHistory_Disabled(t *testing.T) {
	rec := do(t, newTestServer(t, &fakeViewer{}, nil), http.MethodGet, "/api/history")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsRoute(t *testing.T) {
	h := newTestServer(t, &fakeViewer{}, nil)
	do(t, h, http.MethodGet, "/api/state")
	rec := do(t, h, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "radar_http_requests_total")
}
