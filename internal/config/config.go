package config

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Zachdehooge/radar-loop/internal/fetcher"
	"github.com/Zachdehooge/radar-loop/internal/locations"
	"github.com/Zachdehooge/radar-loop/internal/viewer"
)

// EnvPrefix prefixes every environment override, e.g. RADAR_SITE.
const EnvPrefix = "RADAR"

// LogConfig holds logger settings.
type LogConfig struct {
	Level string `json:"level" mapstructure:"level"`
	JSON  bool   `json:"json" mapstructure:"json"`
	File  string `json:"file" mapstructure:"file"`
}

// HistoryConfig holds refresh history storage settings.
type HistoryConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Driver  string `json:"driver" mapstructure:"driver"`
	DSN     string `json:"dsn" mapstructure:"dsn"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Addr string `json:"addr" mapstructure:"addr"`
}

// Config is the resolved configuration.
type Config struct {
	BaseURL   string `json:"baseUrl" mapstructure:"baseUrl"`
	UserAgent string `json:"userAgent" mapstructure:"userAgent"`
	Site      string `json:"site" mapstructure:"site"`
	Product   string `json:"product" mapstructure:"product"`
	Home      string `json:"home" mapstructure:"home"`
	// Zoom and Marker override the home location when set. Marker is "lon,lat".
	Zoom   int    `json:"zoom" mapstructure:"zoom"`
	Marker string `json:"marker" mapstructure:"marker"`
	CRS    string `json:"crs" mapstructure:"crs"`

	ImageSize      int     `json:"imageSize" mapstructure:"imageSize"`
	FrameRate      float64 `json:"frameRate" mapstructure:"frameRate"`
	WindowMinutes  int     `json:"windowMinutes" mapstructure:"windowMinutes"`
	SpacingMinutes int     `json:"spacingMinutes" mapstructure:"spacingMinutes"`
	RefreshMinutes int     `json:"refreshMinutes" mapstructure:"refreshMinutes"`
	RetrySeconds   int     `json:"retrySeconds" mapstructure:"retrySeconds"`
	WatchdogFactor float64 `json:"watchdogFactor" mapstructure:"watchdogFactor"`
	Autoplay       bool    `json:"autoplay" mapstructure:"autoplay"`

	FetchTimeoutSeconds int `json:"fetchTimeoutSeconds" mapstructure:"fetchTimeoutSeconds"`
	MinFetchSeconds     int `json:"minFetchSeconds" mapstructure:"minFetchSeconds"`

	StateFile string                   `json:"stateFile" mapstructure:"stateFile"`
	Log       LogConfig                `json:"log" mapstructure:"log"`
	History   HistoryConfig            `json:"history" mapstructure:"history"`
	Server    ServerConfig             `json:"server" mapstructure:"server"`
	Locations []locations.HomeLocation `json:"locations" mapstructure:"locations"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("baseUrl", fetcher.DefaultBaseURL)
	v.SetDefault("userAgent", "radar-loop")
	v.SetDefault("site", "")
	v.SetDefault("product", "bref_raw")
	v.SetDefault("home", "Dover")
	v.SetDefault("zoom", 0)
	v.SetDefault("marker", "")
	v.SetDefault("crs", "EPSG:4326")

	v.SetDefault("imageSize", 1024)
	v.SetDefault("frameRate", 1.0)
	v.SetDefault("windowMinutes", 90)
	v.SetDefault("spacingMinutes", 8)
	v.SetDefault("refreshMinutes", 5)
	v.SetDefault("retrySeconds", 15)
	v.SetDefault("watchdogFactor", 2.0)
	v.SetDefault("autoplay", true)

	v.SetDefault("fetchTimeoutSeconds", 30)
	v.SetDefault("minFetchSeconds", 5)

	v.SetDefault("stateFile", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
	v.SetDefault("log.file", "")
	v.SetDefault("history.enabled", false)
	v.SetDefault("history.driver", "sqlite")
	v.SetDefault("history.dsn", "radar-history.db")
	v.SetDefault("server.addr", ":8080")
}

// flagKeys maps CLI flag names to config keys.
var flagKeys = map[string]string{
	"base-url":       "baseUrl",
	"site":           "site",
	"product":        "product",
	"home":           "home",
	"zoom":           "zoom",
	"marker":         "marker",
	"frame-rate":     "frameRate",
	"window":         "windowMinutes",
	"spacing":        "spacingMinutes",
	"refresh":        "refreshMinutes",
	"autoplay":       "autoplay",
	"state-file":     "stateFile",
	"log-level":      "log.level",
	"log-json":       "log.json",
	"log-file":       "log.file",
	"history":        "history.enabled",
	"history-driver": "history.driver",
	"history-dsn":    "history.dsn",
	"addr":           "server.addr",
}

// New returns a viper instance with defaults, environment overrides, the
// optional config file and any of flags that are defined.
func New(path string, flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}
	return v, nil
}

// Decode unmarshals and validates v.
func Decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if len(cfg.Locations) == 0 {
		cfg.Locations = locations.Defaults()
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load is New followed by Decode.
func Load(path string, flags *pflag.FlagSet) (*viper.Viper, Config, error) {
	v, err := New(path, flags)
	if err != nil {
		return nil, Config{}, err
	}
	cfg, err := Decode(v)
	if err != nil {
		return nil, Config{}, err
	}
	return v, cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.Product == "" {
		errs = append(errs, errors.New("product must not be empty"))
	}
	if !(c.FrameRate > 0) || math.IsInf(c.FrameRate, 1) {
		errs = append(errs, fmt.Errorf("frameRate must be positive, got %v", c.FrameRate))
	}
	if c.WindowMinutes <= 0 {
		errs = append(errs, fmt.Errorf("windowMinutes must be positive, got %d", c.WindowMinutes))
	}
	if c.SpacingMinutes < 0 {
		errs = append(errs, fmt.Errorf("spacingMinutes must not be negative, got %d", c.SpacingMinutes))
	}
	if c.RefreshMinutes <= 0 {
		errs = append(errs, fmt.Errorf("refreshMinutes must be positive, got %d", c.RefreshMinutes))
	}
	if c.RetrySeconds <= 0 {
		errs = append(errs, fmt.Errorf("retrySeconds must be positive, got %d", c.RetrySeconds))
	}
	if !(c.WatchdogFactor >= 1) || math.IsInf(c.WatchdogFactor, 1) {
		errs = append(errs, fmt.Errorf("watchdogFactor must be at least 1, got %v", c.WatchdogFactor))
	}
	if c.ImageSize <= 0 {
		errs = append(errs, fmt.Errorf("imageSize must be positive, got %d", c.ImageSize))
	}
	if c.Zoom < 0 {
		errs = append(errs, fmt.Errorf("zoom must not be negative, got %d", c.Zoom))
	}
	if c.Marker != "" {
		if _, _, err := ParseMarker(c.Marker); err != nil {
			errs = append(errs, err)
		}
	}
	switch c.History.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("history.driver must be sqlite or postgres, got %q", c.History.Driver))
	}
	if c.Home != "" {
		if _, err := locations.Find(c.Locations, c.Home); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Window is the animation window.
func (c Config) Window() time.Duration { return time.Duration(c.WindowMinutes) * time.Minute }

// Spacing is the minimum gap between frames.
func (c Config) Spacing() time.Duration { return time.Duration(c.SpacingMinutes) * time.Minute }

// RefreshInterval is the normal refresh cadence.
func (c Config) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshMinutes) * time.Minute
}

// RetryDelay is the wait after a failed refresh.
func (c Config) RetryDelay() time.Duration { return time.Duration(c.RetrySeconds) * time.Second }

// FetchTimeout bounds one capabilities request.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

// MinFetchInterval spaces capabilities requests.
func (c Config) MinFetchInterval() time.Duration {
	return time.Duration(c.MinFetchSeconds) * time.Second
}

// HomeLocation resolves the configured home with zoom and marker overrides.
func (c Config) HomeLocation() (locations.HomeLocation, error) {
	name := c.Home
	if name == "" {
		name = c.Locations[0].Name
	}
	home, err := locations.Find(c.Locations, name)
	if err != nil {
		return locations.HomeLocation{}, err
	}
	if c.Zoom > 0 {
		home.Zoom = c.Zoom
	}
	if c.Marker != "" {
		lon, lat, err := ParseMarker(c.Marker)
		if err != nil {
			return locations.HomeLocation{}, err
		}
		home.Lon, home.Lat = lon, lat
	}
	return home, nil
}

// Target resolves what the viewer should show. An empty site falls back to
// the home location's radar site.
func (c Config) Target() (viewer.Target, error) {
	home, err := c.HomeLocation()
	if err != nil {
		return viewer.Target{}, err
	}
	site := c.Site
	if site == "" {
		site = home.RadarSite
	}
	return viewer.Target{Site: strings.ToLower(site), Product: c.Product, Home: home}, nil
}

// Settings are the playback and refresh parameters the viewer applies
// while running.
func (c Config) Settings() viewer.Settings {
	return viewer.Settings{
		FrameRate:       c.FrameRate,
		Window:          c.Window(),
		Spacing:         c.Spacing(),
		RefreshInterval: c.RefreshInterval(),
		Autoplay:        c.Autoplay,
	}
}

// ParseMarker parses "lon,lat".
func ParseMarker(s string) (lon, lat float64, err error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("marker %q: want lon,lat", s)
	}
	lon, err = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("marker %q: bad longitude: %w", s, err)
	}
	lat, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("marker %q: bad latitude: %w", s, err)
	}
	if math.IsNaN(lon) || math.IsNaN(lat) || math.IsInf(lon, 0) || math.IsInf(lat, 0) {
		return 0, 0, fmt.Errorf("marker %q: not a finite coordinate", s)
	}
	if lon < -180 || lon > 180 || lat < -90 || lat > 90 {
		return 0, 0, fmt.Errorf("marker %q: out of range", s)
	}
	return lon, lat, nil
}

// ApplyQuery overlays URL query parameters on c. home_name without a site
// switches to that location's radar site.
func ApplyQuery(c Config, q url.Values) (Config, error) {
	var err error
	str := func(keys ...string) (string, bool) {
		for _, k := range keys {
			if v := strings.TrimSpace(q.Get(k)); v != "" {
				return v, true
			}
		}
		return "", false
	}
	integer := func(key string, dst *int) {
		if v, ok := str(key); ok && err == nil {
			n, perr := strconv.Atoi(v)
			if perr != nil {
				err = fmt.Errorf("query %s: %w", key, perr)
				return
			}
			*dst = n
		}
	}

	siteGiven := false
	if v, ok := str("site"); ok {
		c.Site = v
		siteGiven = true
	}
	if v, ok := str("radar_type", "product"); ok {
		c.Product = v
	}
	if v, ok := str("home_name"); ok {
		home, ferr := locations.Find(c.Locations, v)
		if ferr != nil {
			return c, ferr
		}
		c.Home = home.Name
		if !siteGiven {
			c.Site = home.RadarSite
		}
	}
	if v, ok := str("marker"); ok {
		c.Marker = v
	}
	if v, ok := str("frame_rate"); ok {
		f, perr := strconv.ParseFloat(v, 64)
		if perr != nil {
			return c, fmt.Errorf("query frame_rate: %w", perr)
		}
		c.FrameRate = f
	}
	if v, ok := str("autoplay"); ok {
		b, perr := strconv.ParseBool(v)
		if perr != nil {
			return c, fmt.Errorf("query autoplay: %w", perr)
		}
		c.Autoplay = b
	}
	integer("zoom", &c.Zoom)
	integer("window", &c.WindowMinutes)
	integer("spacing", &c.SpacingMinutes)
	integer("refresh", &c.RefreshMinutes)
	if err != nil {
		return c, err
	}
	return c, c.Validate()
}
