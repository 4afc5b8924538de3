package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	refreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "radar_refresh_total",
			Help: "Refresh attempts by outcome.",
		},
		[]string{"outcome"},
	)

	refreshDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "radar_refresh_duration_seconds",
			Help:    "Time from capabilities request to schedule built.",
			Buckets: prometheus.DefBuckets,
		},
	)

	scheduleFrames = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "radar_schedule_frames",
			Help: "Frames in the current animation schedule.",
		},
	)

	imageAgeSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "radar_image_age_seconds",
			Help: "Age of the newest radar image.",
		},
	)

	watchdogTriggersTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "radar_watchdog_triggers_total",
			Help: "Refreshes forced by the stall watchdog.",
		},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "radar_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "radar_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)
)

func init() {
	prometheus.MustRegister(
		refreshTotal,
		refreshDurationSeconds,
		scheduleFrames,
		imageAgeSeconds,
		watchdogTriggersTotal,
		httpRequestsTotal,
		httpDurationSeconds,
	)
}

// ObserveRefresh counts one refresh and, on success, its duration.
func ObserveRefresh(outcome string, elapsed time.Duration, frames int) {
	refreshTotal.WithLabelValues(outcome).Inc()
	if frames > 0 {
		refreshDurationSeconds.Observe(elapsed.Seconds())
		scheduleFrames.Set(float64(frames))
	}
}

// SetImageAge records how old the newest frame is.
func SetImageAge(d time.Duration) {
	imageAgeSeconds.Set(d.Seconds())
}

// WatchdogTriggered counts a forced refresh.
func WatchdogTriggered() {
	watchdogTriggersTotal.Inc()
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

var knownRoutes = map[string]bool{
	"/":            true,
	"/healthz":     true,
	"/metrics":     true,
	"/api/state":   true,
	"/api/play":    true,
	"/api/stop":    true,
	"/api/latest":  true,
	"/api/target":  true,
	"/api/history": true,
}

// normalizeRoute keeps path label cardinality bounded.
func normalizeRoute(path string) string {
	if knownRoutes[path] {
		return path
	}
	return "other"
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		route := normalizeRoute(r.URL.Path)
		httpRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(rw.statusCode)).Inc()
		httpDurationSeconds.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
