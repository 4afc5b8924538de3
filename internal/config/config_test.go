package config

import (
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zachdehooge/radar-loop/internal/fetcher"
)

func TestLoad_DefaultValues(t *testing.T) {
	_, cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, fetcher.DefaultBaseURL, cfg.BaseURL)
	assert.Equal(t, "bref_raw", cfg.Product)
	assert.Equal(t, "Dover", cfg.Home)
	assert.Equal(t, 1.0, cfg.FrameRate)
	assert.Equal(t, 90*time.Minute, cfg.Window())
	assert.Equal(t, 8*time.Minute, cfg.Spacing())
	assert.Equal(t, 5*time.Minute, cfg.RefreshInterval())
	assert.Equal(t, 15*time.Second, cfg.RetryDelay())
	assert.Equal(t, 2.0, cfg.WatchdogFactor)
	assert.True(t, cfg.Autoplay)
	assert.Equal(t, "sqlite", cfg.History.Driver)
	assert.False(t, cfg.History.Enabled)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Len(t, cfg.Locations, 6)

	target, err := cfg.Target()
	require.NoError(t, err)
	assert.Equal(t, "kmux", target.Site)
	assert.Equal(t, "kmux_bref_raw", target.Layer())
	assert.Equal(t, 7, target.Home.Zoom)
}

func TestLoad_WithConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "radar.yaml")
	cfg := `
site: KATX
product: bvel_raw
spacingMinutes: 0
log:
  level: debug
history:
  enabled: true
  driver: postgres
  dsn: host=db
locations:
  - name: Cabin
    lon: -120.5
    lat: 39.3
    radarSite: krgx
    timeZone: America/Los_Angeles
    zoom: 9
home: cabin
`
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))

	_, c, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "bvel_raw", c.Product)
	assert.Equal(t, 0, c.SpacingMinutes)
	assert.Equal(t, "debug", c.Log.Level)
	assert.True(t, c.History.Enabled)
	assert.Equal(t, "postgres", c.History.Driver)
	require.Len(t, c.Locations, 1)
	assert.Equal(t, "krgx", c.Locations[0].RadarSite)

	target, err := c.Target()
	require.NoError(t, err)
	assert.Equal(t, "katx", target.Site, "explicit site wins and is lower-cased")
	assert.Equal(t, "Cabin", target.Home.Name)
	assert.Equal(t, 9, target.Home.Zoom)
}

func TestLoad_MissingFile(t *testing.T) {
	_, _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	assert.ErrorContains(t, err, "error reading config file")
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("RADAR_SITE", "kbgm")
	t.Setenv("RADAR_LOG_LEVEL", "warn")
	t.Setenv("RADAR_REFRESHMINUTES", "2")

	_, cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "kbgm", cfg.Site)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 2*time.Minute, cfg.RefreshInterval())
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	t.Setenv("RADAR_SITE", "kbgm")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("site", "", "")
	flags.Float64("frame-rate", 1, "")
	flags.Bool("autoplay", true, "")
	require.NoError(t, flags.Parse([]string{"--site", "krtx", "--frame-rate", "4", "--autoplay=false"}))

	_, cfg, err := Load("", flags)
	require.NoError(t, err)
	assert.Equal(t, "krtx", cfg.Site)
	assert.Equal(t, 4.0, cfg.FrameRate)
	assert.False(t, cfg.Autoplay)
}

func TestLoad_UnchangedFlagKeepsDefault(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("window", 30, "")
	require.NoError(t, flags.Parse(nil))

	_, cfg, err := Load("", flags)
	require.NoError(t, err)
	assert.Equal(t, 90, cfg.WindowMinutes)
}

func TestValidate(t *testing.T) {
	_, cfg, err := Load("", nil)
	require.NoError(t, err)

	bad := cfg
	bad.FrameRate = 0
	bad.SpacingMinutes = -1
	bad.History.Driver = "mysql"
	bad.Marker = "200,10"
	err = bad.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "frameRate")
	assert.ErrorContains(t, err, "spacingMinutes")
	assert.ErrorContains(t, err, "history.driver")
	assert.ErrorContains(t, err, "out of range")

	bad = cfg
	bad.Home = "Atlantis"
	assert.ErrorContains(t, bad.Validate(), "unknown home location")
}

func TestParseMarker(t *testing.T) {
	lon, lat, err := ParseMarker(" -121.97, 36.99 ")
	require.NoError(t, err)
	assert.Equal(t, -121.97, lon)
	assert.Equal(t, 36.99, lat)

	_, _, err = ParseMarker("1")
	assert.Error(t, err)
	_, _, err = ParseMarker("x,1")
	assert.Error(t, err)

	for _, in := range []string{"NaN,NaN", "-75.9,NaN", "Inf,10", "10,-Inf"} {
		_, _, err = ParseMarker(in)
		assert.ErrorContains(t, err, "not a finite coordinate", in)
	}
}

func TestSettings(t *testing.T) {
	_, cfg, err := Load("", nil)
	require.NoError(t, err)

	s := cfg.Settings()
	assert.Equal(t, 1.0, s.FrameRate)
	assert.Equal(t, 90*time.Minute, s.Window)
	assert.Equal(t, 8*time.Minute, s.Spacing)
	assert.Equal(t, 5*time.Minute, s.RefreshInterval)
	assert.True(t, s.Autoplay)
	assert.NoError(t, s.Validate())
}

func TestApplyQuery(t *testing.T) {
	_, cfg, err := Load("", nil)
	require.NoError(t, err)

	q := url.Values{}
	q.Set("home_name", "sue")
	q.Set("radar_type", "bvel_raw")
	q.Set("zoom", "9")
	q.Set("marker", "-75.9,42.1")
	q.Set("frame_rate", "2.5")
	q.Set("window", "60")
	q.Set("spacing", "0")
	q.Set("autoplay", "false")

	got, err := ApplyQuery(cfg, q)
	require.NoError(t, err)
	assert.Equal(t, "Sue", got.Home)
	assert.Equal(t, "kbgm", got.Site)
	assert.Equal(t, "bvel_raw", got.Product)
	assert.Equal(t, 9, got.Zoom)
	assert.Equal(t, 2.5, got.FrameRate)
	assert.Equal(t, 60, got.WindowMinutes)
	assert.Equal(t, 0, got.SpacingMinutes)
	assert.False(t, got.Autoplay)

	target, err := got.Target()
	require.NoError(t, err)
	assert.Equal(t, -75.9, target.Home.Lon)
	assert.Equal(t, 9, target.Home.Zoom)

	// The input config is untouched.
	assert.Equal(t, "Dover", cfg.Home)
}

func TestApplyQuery_SiteBeatsHomeSite(t *testing.T) {
	_, cfg, err := Load("", nil)
	require.NoError(t, err)

	got, err := ApplyQuery(cfg, url.Values{"home_name": {"Sue"}, "site": {"kenx"}, "product": {"bdhc"}})
	require.NoError(t, err)
	assert.Equal(t, "kenx", got.Site)
	assert.Equal(t, "bdhc", got.Product)
}

func TestApplyQuery_Errors(t *testing.T) {
	_, cfg, err := Load("", nil)
	require.NoError(t, err)

	_, err = ApplyQuery(cfg, url.Values{"home_name": {"Atlantis"}})
	assert.Error(t, err)
	_, err = ApplyQuery(cfg, url.Values{"zoom": {"far"}})
	assert.ErrorContains(t, err, "query zoom")
	_, err = ApplyQuery(cfg, url.Values{"frame_rate": {"0"}})
	assert.ErrorContains(t, err, "frameRate")
	_, err = ApplyQuery(cfg, url.Values{"frame_rate": {"NaN"}})
	assert.ErrorContains(t, err, "frameRate")
	_, err = ApplyQuery(cfg, url.Values{"marker": {"NaN,NaN"}})
	assert.ErrorContains(t, err, "not a finite coordinate")
}
