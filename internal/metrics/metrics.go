// Package metrics exposes Prometheus collectors for the harvester service.
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
	harvesterPagesTotal          *prometheus.CounterVec
	harvesterFetchDuration       *prometheus.HistogramVec
	harvesterBlockedTotal        *prometheus.CounterVec
	harvesterRotationsTotal      *prometheus.CounterVec
	harvesterHarvestsTotal       *prometheus.CounterVec
	harvesterHarvestDuration     prometheus.Histogram
	harvesterActiveWorkers       prometheus.Gauge
	harvesterPacePausesTotal     prometheus.Counter
	harvesterRateLimitDelays     *prometheus.HistogramVec
	httpRequestsTotal            *prometheus.CounterVec
	httpRequestDurationSeconds   *prometheus.HistogramVec
	harvesterSchedulingFailTotal prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		harvesterPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_pages_total",
				Help: "Pages processed by workers, labeled by site and result.",
			},
			[]string{"site", "result"},
		)

		harvesterFetchDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_fetch_duration_seconds",
				Help:    "Duration of single fetch attempts, labeled by outcome.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"outcome"},
		)

		harvesterBlockedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_blocked_total",
				Help: "Blocking responses received, labeled by status code.",
			},
			[]string{"code"},
		)

		harvesterRotationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_rotations_total",
				Help: "Blocking-triggered rotation cycles, labeled by final outcome.",
			},
			[]string{"outcome"},
		)

		harvesterHarvestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_harvests_total",
				Help: "Finished harvests, labeled by summary status.",
			},
			[]string{"status"},
		)

		harvesterHarvestDuration = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "harvester_harvest_duration_seconds",
				Help:    "Wall time of whole harvests.",
				Buckets: prometheus.ExponentialBuckets(10, 3, 8),
			},
		)

		harvesterActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_active_workers",
				Help: "Number of page workers currently running.",
			},
		)

		harvesterPacePausesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_pace_pauses_total",
				Help: "Site-wide pauses taken by the queue filler.",
			},
		)

		harvesterRateLimitDelays = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
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

		harvesterSchedulingFailTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_scheduling_failures_total",
				Help: "Submissions that could not be handed to the dispatcher.",
			},
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

// ObservePage counts a processed page.
func ObservePage(site, result string) {
	Init()
	harvesterPagesTotal.WithLabelValues(SanitizeSite(site), result).Inc()
}

// ObserveFetch records the duration of one fetch attempt.
func ObserveFetch(outcome string, d time.Duration) {
	Init()
	harvesterFetchDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// ObserveBlocked counts a blocking response.
func ObserveBlocked(code int) {
	Init()
	harvesterBlockedTotal.WithLabelValues(strconv.Itoa(code)).Inc()
}

// ObserveRotation counts a finished rotation cycle.
func ObserveRotation(outcome string) {
	Init()
	harvesterRotationsTotal.WithLabelValues(outcome).Inc()
}

// ObserveHarvest records a finished harvest.
func ObserveHarvest(status string, d time.Duration) {
	Init()
	harvesterHarvestsTotal.WithLabelValues(status).Inc()
	harvesterHarvestDuration.Observe(d.Seconds())
}

// ObservePacePause counts a site-wide pause.
func ObservePacePause() {
	Init()
	harvesterPacePausesTotal.Inc()
}

// ObserveSchedulingFailure counts a rejected submission.
func ObserveSchedulingFailure() {
	Init()
	harvesterSchedulingFailTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	harvesterActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	harvesterActiveWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	harvesterRateLimitDelays.WithLabelValues(domain).Observe(duration.Seconds())
}
