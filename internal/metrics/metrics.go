// Package metrics exposes Prometheus collectors for the ingestion pipeline.
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
	ingestPointsTotal            prometheus.Counter
	ingestHeadingsTotal          *prometheus.CounterVec
	ingestSampledPoints          prometheus.Gauge
	imageryFetchDurationSeconds  *prometheus.HistogramVec
	imageryBytesTotal            *prometheus.CounterVec
	httpRequestsTotal            *prometheus.CounterVec
	httpRequestDurationSeconds   *prometheus.HistogramVec
	ingestRateLimitDelaysSeconds *prometheus.HistogramVec
	geometryCacheLookupsTotal    *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		ingestPointsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_points_total",
				Help: "Total number of sample points handed to the acquisition pipeline.",
			},
		)

		ingestHeadingsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_headings_total",
				Help: "Total number of per-heading outcomes, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		ingestSampledPoints = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ingest_sampled_points",
				Help: "Number of unique sample points produced by the most recent run.",
			},
		)

		imageryFetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "imagery_fetch_duration_seconds",
				Help:    "Histogram of imagery fetch latencies, labeled by HTTP status.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"status"},
		)

		imageryBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "imagery_bytes_total",
				Help: "Total number of imagery bytes fetched, labeled by site.",
			},
			[]string{"site"},
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

		ingestRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"domain"},
		)

		geometryCacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "geometry_cache_lookups_total",
				Help: "Geometry cache lookups, labeled by result (hit or miss).",
			},
			[]string{"result"},
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

// ObservePoint counts one point entering the acquisition pipeline.
func ObservePoint() {
	Init()
	ingestPointsTotal.Inc()
}

// ObserveOutcome counts one per-heading outcome ("stored", "skipped" or "failed").
func ObserveOutcome(outcome string) {
	Init()
	ingestHeadingsTotal.WithLabelValues(outcome).Inc()
}

// SetSampledPoints records the size of the current run's point set.
func SetSampledPoints(n int) {
	Init()
	ingestSampledPoints.Set(float64(n))
}

// ObserveImageryFetch records the latency and size of one imagery request.
func ObserveImageryFetch(site string, status int, bytesFetched int, duration time.Duration) {
	Init()
	imageryFetchDurationSeconds.WithLabelValues(strconv.Itoa(status)).Observe(duration.Seconds())
	if bytesFetched > 0 {
		imageryBytesTotal.WithLabelValues(SanitizeSite(site)).Add(float64(bytesFetched))
	}
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
	ingestRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveCacheLookup counts a geometry cache hit or miss.
func ObserveCacheLookup(hit bool) {
	Init()
	result := "miss"
	if hit {
		result = "hit"
	}
	geometryCacheLookupsTotal.WithLabelValues(result).Inc()
}
