// Package metrics exposes Prometheus collectors for the analysis gateway.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Boundaries at which frames are decoded.
const (
	BoundaryWorker    = "worker"
	BoundaryTransport = "transport"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	analysesTotal              *prometheus.CounterVec
	activeStreams              prometheus.Gauge
	streamEventsTotal          *prometheus.CounterVec
	framesDroppedTotal         *prometheus.CounterVec
	workerStartFailuresTotal   *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60, 300},
			},
			[]string{"method", "route"},
		)

		analysesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "siteaudit_analyses_total",
				Help: "Total number of analysis requests, labeled by outcome.",
			},
			[]string{"result"},
		)

		activeStreams = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "siteaudit_active_streams",
				Help: "Number of analysis streams currently open.",
			},
		)

		streamEventsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "siteaudit_stream_events_total",
				Help: "Events relayed to clients, labeled by kind.",
			},
			[]string{"kind"},
		)

		framesDroppedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "siteaudit_frames_dropped_total",
				Help: "Frames dropped because they did not parse, labeled by boundary.",
			},
			[]string{"boundary"},
		)

		workerStartFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "siteaudit_worker_start_failures_total",
				Help: "Analysis workers that could not be started or reached, labeled by mode.",
			},
			[]string{"mode"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveAnalysis counts one analysis request by outcome.
func ObserveAnalysis(result string) {
	Init()
	analysesTotal.WithLabelValues(result).Inc()
}

// IncActiveStreams increments the open streams gauge.
func IncActiveStreams() {
	Init()
	activeStreams.Inc()
}

// DecActiveStreams decrements the open streams gauge.
func DecActiveStreams() {
	Init()
	activeStreams.Dec()
}

// ObserveStreamEvent counts one relayed event.
func ObserveStreamEvent(kind string) {
	Init()
	streamEventsTotal.WithLabelValues(kind).Inc()
}

// ObserveFrameDropped counts one unparseable frame at the given boundary.
func ObserveFrameDropped(boundary string) {
	Init()
	framesDroppedTotal.WithLabelValues(boundary).Inc()
}

// ObserveWorkerStartFailure counts a worker that could not be started.
func ObserveWorkerStartFailure(mode string) {
	Init()
	workerStartFailuresTotal.WithLabelValues(mode).Inc()
}
