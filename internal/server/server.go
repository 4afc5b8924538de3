package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/Zachdehooge/radar-loop/internal/config"
	"github.com/Zachdehooge/radar-loop/internal/history"
	"github.com/Zachdehooge/radar-loop/internal/metrics"
	"github.com/Zachdehooge/radar-loop/internal/viewer"
)

// Viewer is the part of the controller the API drives.
type Viewer interface {
	Snapshot(ctx context.Context) (viewer.State, error)
	Play(ctx context.Context) error
	Stop(ctx context.Context) error
	StopLatest(ctx context.Context) error
	Reconfigure(ctx context.Context, t viewer.Target, settings viewer.Settings) error
}

// HistoryReader lists past refreshes.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]history.Record, error)
}

// Options configures the API.
type Options struct {
	Log zerolog.Logger
	// History is nil when history is disabled.
	History HistoryReader
	// Config returns the current configuration; target changes are applied
	// on top of it.
	Config func() config.Config
	// SetConfig, when set, stores the configuration a target change was
	// applied with so later changes build on it.
	SetConfig func(config.Config)
}

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	viewer     Viewer
	opts       Options
	log        zerolog.Logger
}

// New creates a configured HTTP server.
func New(addr string, v Viewer, opts Options) *Server {
	s := &Server{
		viewer: v,
		opts:   opts,
		log:    opts.Log.With().Str("component", "api").Logger(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", healthz)
	mux.HandleFunc("GET /readyz", s.readyz)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /api/state", s.state)
	mux.HandleFunc("POST /api/play", s.control(v.Play))
	mux.HandleFunc("POST /api/stop", s.control(v.Stop))
	mux.HandleFunc("POST /api/latest", s.control(v.StopLatest))
	mux.HandleFunc("POST /api/target", s.target)
	mux.HandleFunc("GET /api/history", s.history)

	var handler http.Handler = mux
	handler = s.loggingMiddleware(handler)
	handler = metrics.Middleware(handler)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Handler returns the root handler, middleware included.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// HTTPServer returns the underlying *http.Server for external control (e.g. shutdown).
func (s *Server) HTTPServer() *http.Server { return s.httpServer }

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error { return s.httpServer.ListenAndServe() }

func healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// readyz is ready once a layer has been loaded.
func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	st, err := s.viewer.Snapshot(r.Context())
	if err != nil || !st.Loaded() {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("ready\n"))
}

func (s *Server) state(w http.ResponseWriter, r *http.Request) {
	st, err := s.viewer.Snapshot(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) control(action func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := action(r.Context()); err != nil {
			s.fail(w, err)
			return
		}
		s.state(w, r)
	}
}

func (s *Server) target(w http.ResponseWriter, r *http.Request) {
	if s.opts.Config == nil {
		writeError(w, http.StatusNotImplemented, "target changes are not configured")
		return
	}
	cfg, err := config.ApplyQuery(s.opts.Config(), r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	t, err := cfg.Target()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.viewer.Reconfigure(r.Context(), t, cfg.Settings()); err != nil {
		s.fail(w, err)
		return
	}
	if s.opts.SetConfig != nil {
		s.opts.SetConfig(cfg)
	}
	s.state(w, r)
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	if s.opts.History == nil {
		writeError(w, http.StatusNotFound, "history is disabled")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}
	records, err := s.opts.History.Recent(r.Context(), limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, viewer.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.log.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"failed to encode response"}` + "\n"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// probePath returns true for health/readiness probe paths that should not log at INFO.
func probePath(path string) bool {
	return path == "/healthz" || path == "/readyz" || path == "/metrics"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(sr, r)

		level := zerolog.InfoLevel
		if probePath(r.URL.Path) {
			level = zerolog.DebugLevel
		}
		s.log.WithLevel(level).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", sr.statusCode).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Str("remote_ip", r.RemoteAddr).
			Msg("request")
	})
}
