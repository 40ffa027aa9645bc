// Package metrics exposes Prometheus collectors for the mangawatch service.
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
	fetchAttemptsTotal         *prometheus.CounterVec
	fetchAttemptSeconds        *prometheus.HistogramVec
	providerCallsTotal         *prometheus.CounterVec
	pollRunsTotal              *prometheus.CounterVec
	pollItemsTotal             *prometheus.CounterVec
	pollDurationSeconds        prometheus.Histogram
	notificationsTotal         *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mangawatch_fetch_attempts_total",
				Help: "Fetch attempts, labeled by strategy and outcome.",
			},
			[]string{"strategy", "outcome"},
		)

		fetchAttemptSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mangawatch_fetch_attempt_seconds",
				Help:    "Histogram of fetch attempt latencies, labeled by strategy.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"strategy"},
		)

		providerCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mangawatch_provider_calls_total",
				Help: "Provider operations, labeled by provider, operation and outcome.",
			},
			[]string{"provider", "op", "outcome"},
		)

		pollRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mangawatch_poll_runs_total",
				Help: "Poll passes, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		pollItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mangawatch_poll_items_total",
				Help: "Queue items examined by poll passes, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		pollDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mangawatch_poll_duration_seconds",
				Help:    "Histogram of poll pass durations.",
				Buckets: []float64{1, 5, 10, 20, 30, 45, 60, 90},
			},
		)

		notificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mangawatch_notifications_total",
				Help: "Notification deliveries, labeled by channel and status.",
			},
			[]string{"channel", "status"},
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30, 60},
			},
			[]string{"method", "route"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mangawatch_rate_limit_delays_seconds",
				Help:    "Histogram of per-host rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
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
	Init()
	return promhttp.Handler()
}

// ObserveFetchAttempt records one strategy attempt of the fetch chain.
func ObserveFetchAttempt(strategy, outcome string, duration time.Duration) {
	Init()
	fetchAttemptsTotal.WithLabelValues(strategy, outcome).Inc()
	fetchAttemptSeconds.WithLabelValues(strategy).Observe(duration.Seconds())
}

// ObserveProviderCall records a provider operation outcome (found, empty, error).
func ObserveProviderCall(provider, op, outcome string) {
	Init()
	providerCallsTotal.WithLabelValues(provider, op, outcome).Inc()
}

// ObservePoll records a finished poll pass.
func ObservePoll(outcome string, duration time.Duration) {
	Init()
	pollRunsTotal.WithLabelValues(outcome).Inc()
	pollDurationSeconds.Observe(duration.Seconds())
}

// ObservePollItem records the outcome of one examined queue item.
func ObservePollItem(outcome string) {
	Init()
	pollItemsTotal.WithLabelValues(outcome).Inc()
}

// ObserveNotification records one channel delivery result.
func ObserveNotification(channel, status string) {
	Init()
	notificationsTotal.WithLabelValues(channel, status).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
