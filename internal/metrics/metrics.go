// Package metrics exposes Prometheus collectors for the sync service.
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

var (
	remoteRequestsTotal          *prometheus.CounterVec
	remoteRequestDurationSeconds *prometheus.HistogramVec
	httpRequestsTotal            *prometheus.CounterVec
	httpRequestDurationSeconds   *prometheus.HistogramVec
	rateLimitDelaysSeconds       *prometheus.HistogramVec
	roundsTotal                  *prometheus.CounterVec
	roundDurationSeconds         prometheus.Histogram
	roundProgressPercent         prometheus.Gauge
	scansTotal                   *prometheus.CounterVec
	activeScans                  prometheus.Gauge
	itemsTotal                   *prometheus.CounterVec
	notificationsTotal           *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times. Observations made before
// Init are dropped.
func Init() {
	once.Do(func() {
		remoteRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fedisync_remote_requests_total",
				Help: "Total number of outbound API requests, labeled by host and outcome.",
			},
			[]string{"host", "outcome"},
		)

		remoteRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fedisync_remote_request_duration_seconds",
				Help:    "Histogram of outbound API request latencies, labeled by host.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"host"},
		)

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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fedisync_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		roundsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fedisync_rounds_total",
				Help: "Total number of sync rounds, labeled by status.",
			},
			[]string{"status"},
		)

		roundDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fedisync_round_duration_seconds",
				Help:    "Histogram of sync round durations.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		)

		roundProgressPercent = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "fedisync_round_progress_percent",
				Help: "Progress of the current round, or -1 when idle.",
			},
		)

		scansTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fedisync_community_scans_total",
				Help: "Total number of community scans, labeled by status.",
			},
			[]string{"status"},
		)

		activeScans = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "fedisync_active_scans",
				Help: "Number of communities currently being processed.",
			},
		)

		itemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fedisync_items_total",
				Help: "Total number of fetched items, labeled by kind.",
			},
			[]string{"kind"},
		)

		notificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fedisync_notifications_total",
				Help: "Total number of notifications, labeled by severity and outcome.",
			},
			[]string{"severity", "outcome"},
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

// ObserveRemoteRequest records one outbound API call.
func ObserveRemoteRequest(host, outcome string, duration time.Duration) {
	if remoteRequestsTotal == nil {
		return
	}
	site := SanitizeSite(host)
	remoteRequestsTotal.WithLabelValues(site, outcome).Inc()
	remoteRequestDurationSeconds.WithLabelValues(site).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	if rateLimitDelaysSeconds == nil {
		return
	}
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveRound records a finished round with its status.
func ObserveRound(status string, duration time.Duration) {
	if roundsTotal == nil {
		return
	}
	roundsTotal.WithLabelValues(status).Inc()
	roundDurationSeconds.Observe(duration.Seconds())
}

// SetRoundProgress publishes the current round percent.
func SetRoundProgress(percent int64) {
	if roundProgressPercent == nil {
		return
	}
	roundProgressPercent.Set(float64(percent))
}

// ObserveScan increments the scan counter for the given status.
func ObserveScan(status string) {
	if scansTotal == nil {
		return
	}
	scansTotal.WithLabelValues(status).Inc()
}

// IncActiveScans increments the active scans gauge.
func IncActiveScans() {
	if activeScans == nil {
		return
	}
	activeScans.Inc()
}

// DecActiveScans decrements the active scans gauge.
func DecActiveScans() {
	if activeScans == nil {
		return
	}
	activeScans.Dec()
}

// ObserveItems adds n items of the given kind.
func ObserveItems(kind string, n int) {
	if itemsTotal == nil || n <= 0 {
		return
	}
	itemsTotal.WithLabelValues(kind).Add(float64(n))
}

// ObserveNotification counts a notification by severity and outcome.
func ObserveNotification(severity, outcome string) {
	if notificationsTotal == nil {
		return
	}
	notificationsTotal.WithLabelValues(severity, outcome).Inc()
}
