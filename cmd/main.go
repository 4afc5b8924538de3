package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/fatih/color"
	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/Zachdehooge/radar-loop/internal/animation"
	"github.com/Zachdehooge/radar-loop/internal/config"
	"github.com/Zachdehooge/radar-loop/internal/fetcher"
	"github.com/Zachdehooge/radar-loop/internal/generator"
	"github.com/Zachdehooge/radar-loop/internal/history"
	"github.com/Zachdehooge/radar-loop/internal/logging"
	"github.com/Zachdehooge/radar-loop/internal/schedule"
	"github.com/Zachdehooge/radar-loop/internal/server"
	"github.com/Zachdehooge/radar-loop/internal/viewer"
	"github.com/Zachdehooge/radar-loop/internal/wms"
)

var configFile string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd builds the command tree.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "radar-loop",
		Short: "Animate NWS radar imagery from a GeoServer WMS",
		Long: `radar-loop polls the NOAA/NWS GeoServer for a radar site's capabilities,
builds an animation schedule of recent frames and keeps it fresh.`,
		SilenceUsage: true,
		RunE:         runViewer,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configFile, "config", "c", "", "Config file (json, yaml or toml)")
	pf.String("base-url", fetcher.DefaultBaseURL, "GeoServer root URL")
	pf.String("site", "", "Radar site, e.g. kmux (defaults to the home location's site)")
	pf.StringP("product", "p", "bref_raw", "Radar product, e.g. bref_raw or bvel_raw")
	pf.String("home", "Dover", "Home location name")
	pf.Int("zoom", 0, "Map zoom override")
	pf.String("marker", "", "Marker override as lon,lat")
	pf.Float64("frame-rate", 1, "Animation frames per second")
	pf.Int("window", 90, "Animation window in minutes")
	pf.Int("spacing", 8, "Minimum minutes between frames (0 keeps every frame)")
	pf.Int("refresh", 5, "Refresh interval in minutes")
	pf.Bool("autoplay", true, "Start animating after every refresh")
	pf.String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	pf.Bool("log-json", false, "Write JSON log lines")
	pf.String("log-file", "", "Also write logs to this file")
	pf.Bool("history", false, "Record every refresh in the history database")
	pf.String("history-driver", "sqlite", "History database driver (sqlite or postgres)")
	pf.String("history-dsn", "radar-history.db", "History database file or connection string")

	rootCmd.Flags().StringP("state-file", "o", "", "Write the current frame as JSON to this file")

	addListCmd(rootCmd)
	addFramesCmd(rootCmd)
	addServeCmd(rootCmd)
	addHistoryCmd(rootCmd)
	return rootCmd
}

// app bundles what every command needs.
type app struct {
	v     *viper.Viper
	cfg   config.Config
	log   zerolog.Logger
	close func()
}

func setup(cmd *cobra.Command) (*app, error) {
	v, cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return nil, err
	}
	log, closer, err := logging.New(logging.Options{
		Level: cfg.Log.Level,
		JSON:  cfg.Log.JSON,
		File:  cfg.Log.File,
		Out:   cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, err
	}
	if configFile != "" {
		log.Info().Str("path", v.ConfigFileUsed()).Msg("loaded config")
	}
	return &app{v: v, cfg: cfg, log: log, close: func() { _ = closer.Close() }}, nil
}

func (a *app) fetcher() *fetcher.Fetcher {
	return fetcher.New(fetcher.Options{
		BaseURL:     a.cfg.BaseURL,
		UserAgent:   a.cfg.UserAgent,
		Timeout:     a.cfg.FetchTimeout(),
		MinInterval: a.cfg.MinFetchInterval(),
	})
}

func (a *app) openHistory() (*history.Store, error) {
	if !a.cfg.History.Enabled {
		return nil, nil
	}
	return history.Open(history.Options{Driver: a.cfg.History.Driver, DSN: a.cfg.History.DSN}, a.log)
}

// newController wires the fetcher, displays and optional history store.
func (a *app) newController(store *history.Store) (*viewer.Controller, error) {
	target, err := a.cfg.Target()
	if err != nil {
		return nil, err
	}

	displays := viewer.MultiDisplay{viewer.LogDisplay{Log: a.log.With().Str("component", "display").Logger()}}
	if a.cfg.StateFile != "" {
		sf := generator.NewStateFile(a.cfg.StateFile, nil, a.log)
		a.log.Info().Str("path", sf.Path()).Msg("writing frame state")
		displays = append(displays, sf)
	}

	opts := viewer.Options{
		Target:          target,
		Locations:       a.cfg.Locations,
		BaseURL:         a.cfg.BaseURL,
		CRS:             a.cfg.CRS,
		ImageWidth:      a.cfg.ImageSize,
		ImageHeight:     a.cfg.ImageSize,
		FrameRate:       a.cfg.FrameRate,
		Window:          a.cfg.Window(),
		Spacing:         a.cfg.Spacing(),
		RefreshInterval: a.cfg.RefreshInterval(),
		RetryDelay:      a.cfg.RetryDelay(),
		WatchdogFactor:  a.cfg.WatchdogFactor,
		Autoplay:        a.cfg.Autoplay,
		Clock:           clockwork.NewRealClock(),
		Log:             a.log,
	}
	if store != nil {
		opts.Recorder = store
	}
	return viewer.New(a.fetcher(), displays, opts), nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// runViewer keeps the animation and refresh cycle going until interrupted.
func runViewer(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	store, err := a.openHistory()
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	c, err := a.newController(store)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	a.log.Info().
		Str("layer", a.mustTarget().Layer()).
		Dur("refresh", a.cfg.RefreshInterval()).
		Msg("viewer started, press Ctrl+C to stop")
	return c.Run(ctx)
}

func (a *app) mustTarget() viewer.Target {
	t, _ := a.cfg.Target()
	return t
}

// addListCmd adds a 'list' subcommand showing the layers a site publishes.
func addListCmd(rootCmd *cobra.Command) {
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List radar layers published for the site",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			site := a.mustTarget().Site
			resp, err := a.fetcher().Fetch(cmd.Context(), site)
			if err != nil {
				return fmt.Errorf("failed to fetch capabilities: %w", err)
			}
			layers, err := wms.ListLayers(resp.Body)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(layers) == 0 {
				fmt.Fprintf(out, "No layers published for %s.\n", site)
				return nil
			}

			bold := color.New(color.Bold).SprintFunc()
			dim := color.New(color.Faint).SprintFunc()
			fmt.Fprintf(out, "Layers for %s:\n", bold(site))
			for _, l := range layers {
				fmt.Fprintln(out, "---")
				fmt.Fprintf(out, "Name: %s\n", bold(l.Name))
				fmt.Fprintf(out, "Title: %s\n", l.Title)
				if l.Frames == 0 {
					fmt.Fprintf(out, "Frames: %s\n", dim("none"))
					continue
				}
				fmt.Fprintf(out, "Frames: %d (latest %s)\n", l.Frames, l.Latest.UTC().Format(time.RFC3339))
			}
			return nil
		},
	}
	rootCmd.AddCommand(listCmd)
}

type frameRow struct {
	Index int       `json:"index" yaml:"index"`
	Time  time.Time `json:"time" yaml:"time"`
	Label string    `json:"label" yaml:"label"`
	URL   string    `json:"url,omitempty" yaml:"url,omitempty"`
}

// addFramesCmd adds a 'frames' subcommand printing the current schedule once.
func addFramesCmd(rootCmd *cobra.Command) {
	var format string
	var withURLs bool

	framesCmd := &cobra.Command{
		Use:   "frames",
		Short: "Print the animation schedule for the configured layer",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			target := a.mustTarget()
			resp, err := a.fetcher().Fetch(cmd.Context(), target.Site)
			if err != nil {
				return fmt.Errorf("failed to fetch capabilities: %w", err)
			}
			layer, err := wms.Parse(resp.Body, target.Layer(), a.cfg.CRS)
			if err != nil {
				return err
			}
			sched, err := schedule.Build(layer.Time.Values, time.Now(), a.cfg.Window(), a.cfg.Spacing())
			if err != nil {
				return err
			}

			loc := target.Home.Location()
			bbox := layer.BoundingBox().WebMercator()
			rows := make([]frameRow, sched.Len())
			for i, t := range sched {
				rows[i] = frameRow{Index: i, Time: t, Label: animation.FormatFrameTime(t, loc)}
				if withURLs {
					rows[i].URL = wms.GetMapURL(wms.GetMapRequest{
						BaseURL: a.cfg.BaseURL, Site: target.Site, Layer: layer.Name, Style: layer.Style,
						BBox: bbox, Width: a.cfg.ImageSize, Height: a.cfg.ImageSize, Time: t,
					})
				}
			}
			return printFrames(cmd.OutOrStdout(), format, layer, rows)
		},
	}
	framesCmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json or yaml")
	framesCmd.Flags().BoolVar(&withURLs, "urls", false, "Include the GetMap URL of every frame")
	rootCmd.AddCommand(framesCmd)
}

func printFrames(out io.Writer, format string, layer *wms.LayerRecord, rows []frameRow) error {
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	case "yaml":
		enc := yaml.NewEncoder(out)
		defer enc.Close()
		return enc.Encode(rows)
	case "text":
	default:
		return fmt.Errorf("unknown format %q", format)
	}

	latest := color.New(color.FgGreen, color.Bold).SprintFunc()
	fmt.Fprintf(out, "%s (%s)\n", layer.Title, layer.Name)
	fmt.Fprintf(out, "Legend: %s\n", layer.LegendURL)
	for i, r := range rows {
		line := fmt.Sprintf("%3d  %s  %s", r.Index, r.Time.UTC().Format(time.RFC3339), r.Label)
		if i == len(rows)-1 {
			line = latest(line + "  (latest)")
		}
		fmt.Fprintln(out, line)
		if r.URL != "" {
			fmt.Fprintf(out, "     %s\n", r.URL)
		}
	}
	return nil
}

// addServeCmd adds a 'serve' subcommand running the viewer behind the HTTP API.
func addServeCmd(rootCmd *cobra.Command) {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the viewer with an HTTP control and status API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			store, err := a.openHistory()
			if err != nil {
				return err
			}
			if store != nil {
				defer store.Close()
			}

			c, err := a.newController(store)
			if err != nil {
				return err
			}

			var mu sync.RWMutex
			current := a.cfg
			getConfig := func() config.Config {
				mu.RLock()
				defer mu.RUnlock()
				return current
			}

			setConfig := func(next config.Config) {
				mu.Lock()
				defer mu.Unlock()
				current = next
			}

			opts := server.Options{Log: a.log, Config: getConfig, SetConfig: setConfig}
			if store != nil {
				opts.History = store
			}
			srv := server.New(a.cfg.Server.Addr, c, opts)

			ctx, cancel := signalContext()
			defer cancel()

			if configFile != "" {
				a.v.OnConfigChange(func(e fsnotify.Event) {
					next, err := config.Decode(a.v)
					if err != nil {
						a.log.Warn().Err(err).Str("file", e.Name).Msg("ignoring invalid config change")
						return
					}
					t, err := next.Target()
					if err != nil {
						a.log.Warn().Err(err).Msg("ignoring config change")
						return
					}
					setConfig(next)
					if err := c.Reconfigure(ctx, t, next.Settings()); err != nil && !errors.Is(err, viewer.ErrStopped) {
						a.log.Warn().Err(err).Msg("failed to apply config change")
					}
				})
				a.v.WatchConfig()
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return c.Run(gctx)
			})
			g.Go(func() error {
				a.log.Info().Str("addr", a.cfg.Server.Addr).Msg("HTTP API listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("http server: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.HTTPServer().Shutdown(shutdownCtx)
			})
			return g.Wait()
		},
	}
	serveCmd.Flags().String("addr", ":8080", "HTTP listen address")
	serveCmd.Flags().StringP("state-file", "o", "", "Write the current frame as JSON to this file")
	rootCmd.AddCommand(serveCmd)
}

// addHistoryCmd adds a 'history' subcommand listing recorded refreshes.
func addHistoryCmd(rootCmd *cobra.Command) {
	var limit int

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent refresh attempts",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			if !a.cfg.History.Enabled {
				fmt.Fprintln(cmd.OutOrStdout(), "History is disabled; enable it with --history or history.enabled.")
				return nil
			}
			store, err := a.openHistory()
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, "No refreshes recorded.")
				return nil
			}
			ok := color.New(color.FgGreen).SprintFunc()
			bad := color.New(color.FgRed).SprintFunc()
			for _, r := range records {
				outcome := ok(r.Outcome)
				if r.Outcome != history.OutcomeSuccess {
					outcome = bad(r.Outcome)
				}
				fmt.Fprintf(out, "%s  %s_%s  %s  frames=%d  %dms",
					r.StartedAt.Local().Format(time.DateTime), r.Site, r.Product, outcome, r.Frames, r.ElapsedMs)
				if r.Error != "" {
					fmt.Fprintf(out, "  %s", r.Error)
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}
	historyCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of records to show")
	rootCmd.AddCommand(historyCmd)
}
