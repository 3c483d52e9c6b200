// Package metrics exposes Prometheus collectors for the job crawler.
package metrics

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	fetchAttemptsTotal         *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	postingsTotal              *prometheus.CounterVec
	droppedTotal               *prometheus.CounterVec
	dedupTotal                 *prometheus.CounterVec
	ingestRecordsTotal         *prometheus.CounterVec
	ingestBatchesTotal         *prometheus.CounterVec
	sourceFailuresTotal        *prometheus.CounterVec
	hostsBlockedTotal          *prometheus.CounterVec
	runsTotal                  *prometheus.CounterVec
	runDurationSeconds         prometheus.Histogram
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	lastRunTimestampSeconds    prometheus.Gauge
	collectors                 []prometheus.Collector

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobcrawler_fetch_attempts_total",
				Help: "Fetch attempts, labeled by domain and outcome.",
			},
			[]string{"domain", "outcome"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobcrawler_fetch_bytes_total",
				Help: "Bytes fetched, labeled by domain.",
			},
			[]string{"domain"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "jobcrawler_fetch_duration_seconds",
				Help:    "Histogram of fetch latencies, labeled by domain.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "jobcrawler_rate_limit_delays_seconds",
				Help:    "Histogram of per-domain gate wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		postingsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobcrawler_postings_total",
				Help: "Raw postings produced, labeled by source.",
			},
			[]string{"source"},
		)

		droppedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobcrawler_dropped_total",
				Help: "Postings dropped during normalization, labeled by reason.",
			},
			[]string{"reason"},
		)

		dedupTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobcrawler_dedup_total",
				Help: "Deduplication outcomes, labeled by result (unique, duplicate, known).",
			},
			[]string{"result"},
		)

		ingestRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobcrawler_ingest_records_total",
				Help: "Records reported by the ingest backend, labeled by result.",
			},
			[]string{"result"},
		)

		ingestBatchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobcrawler_ingest_batches_total",
				Help: "Ingest batches sent, labeled by status.",
			},
			[]string{"status"},
		)

		sourceFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobcrawler_source_failures_total",
				Help: "Source scrape failures, labeled by source.",
			},
			[]string{"source"},
		)

		hostsBlockedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobcrawler_hosts_blocked_total",
				Help: "Hosts blocked after repeated 401/403 answers, labeled by the source that tripped the block.",
			},
			[]string{"source"},
		)

		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobcrawler_runs_total",
				Help: "Completed runs, labeled by status.",
			},
			[]string{"status"},
		)

		runDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "jobcrawler_run_duration_seconds",
				Help:    "Histogram of end-to-end run durations.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobcrawler_http_requests_total",
				Help: "Total number of API requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "jobcrawler_http_request_duration_seconds",
				Help:    "Histogram of API request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		lastRunTimestampSeconds = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "jobcrawler_last_run_timestamp_seconds",
				Help: "Unix time the last run finished.",
			},
		)

		collectors = []prometheus.Collector{
			fetchAttemptsTotal, fetchBytesTotal, fetchDurationSeconds, rateLimitDelaysSeconds,
			postingsTotal, droppedTotal, dedupTotal, ingestRecordsTotal, ingestBatchesTotal,
			sourceFailuresTotal, hostsBlockedTotal, runsTotal, runDurationSeconds, lastRunTimestampSeconds,
		}
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

// ObserveFetch records one fetch attempt. outcome is "ok", "transient",
// "permanent" or "error".
func ObserveFetch(rawURL, outcome string, bytesFetched int, duration time.Duration) {
	Init()
	site := SanitizeSite(rawURL)
	fetchAttemptsTotal.WithLabelValues(site, outcome).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(site).Add(float64(bytesFetched))
	}
	if duration > 0 {
		fetchDurationSeconds.WithLabelValues(site).Observe(duration.Seconds())
	}
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObservePostings adds count raw postings for source.
func ObservePostings(source string, count int) {
	Init()
	postingsTotal.WithLabelValues(source).Add(float64(count))
}

// ObserveDrop increments the drop counter for reason.
func ObserveDrop(reason string) {
	Init()
	droppedTotal.WithLabelValues(reason).Inc()
}

// ObserveDedup records the deduplication counts of one run.
func ObserveDedup(unique, duplicate, known int) {
	Init()
	dedupTotal.WithLabelValues("unique").Add(float64(unique))
	dedupTotal.WithLabelValues("duplicate").Add(float64(duplicate))
	dedupTotal.WithLabelValues("known").Add(float64(known))
}

// ObserveIngestBatch records one batch response.
func ObserveIngestBatch(status string, created, updated, failed int) {
	Init()
	ingestBatchesTotal.WithLabelValues(status).Inc()
	ingestRecordsTotal.WithLabelValues("created").Add(float64(created))
	ingestRecordsTotal.WithLabelValues("updated").Add(float64(updated))
	ingestRecordsTotal.WithLabelValues("failed").Add(float64(failed))
}

// ObserveSourceFailure increments the failure counter for source.
func ObserveSourceFailure(source string) {
	Init()
	sourceFailuresTotal.WithLabelValues(source).Inc()
}

// ObserveHostBlocked counts a host block tripped by source.
func ObserveHostBlocked(source string) {
	Init()
	if source == "" {
		source = "unknown"
	}
	hostsBlockedTotal.WithLabelValues(source).Inc()
}

// ObserveRun records a finished run.
func ObserveRun(status string, duration time.Duration, finishedAt time.Time) {
	Init()
	runsTotal.WithLabelValues(status).Inc()
	runDurationSeconds.Observe(duration.Seconds())
	lastRunTimestampSeconds.Set(float64(finishedAt.Unix()))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Push sends the crawl collectors to a Prometheus Pushgateway. Batch runs use
// it because the process exits before any scrape.
func Push(gatewayURL, job, instance string) error {
	Init()
	pusher := push.New(gatewayURL, job)
	if instance != "" {
		pusher = pusher.Grouping("instance", instance)
	}
	for _, c := range collectors {
		pusher = pusher.Collector(c)
	}
	if err := pusher.Push(); err != nil {
		return fmt.Errorf("push metrics to %s: %w", gatewayURL, err)
	}
	return nil
}
