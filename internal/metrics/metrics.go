// Package metrics exposes Prometheus collectors for the listing crawler.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Upsert outcomes.
const (
	UpsertInserted  = "inserted"
	UpsertDuplicate = "duplicate"
	UpsertFailed    = "failed"
)

var (
	crawlerPagesTotal             prometheus.Counter
	crawlerItemsTotal             *prometheus.CounterVec
	crawlerUpsertsTotal           *prometheus.CounterVec
	crawlerNavigationSeconds      *prometheus.HistogramVec
	crawlerRunsTotal              *prometheus.CounterVec
	crawlerSideEffectFailureTotal *prometheus.CounterVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerPagesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_pages_total",
				Help: "Total number of listing pages loaded.",
			},
		)

		crawlerItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_items_total",
				Help: "Listing elements seen, labeled by extraction outcome.",
			},
			[]string{"outcome"},
		)

		crawlerUpsertsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_upserts_total",
				Help: "Product upserts, labeled by result.",
			},
			[]string{"result"},
		)

		crawlerNavigationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_navigation_seconds",
				Help:    "Histogram of page navigation latencies, labeled by result.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"result"},
		)

		crawlerRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_runs_total",
				Help: "Completed crawl runs, labeled by stop reason.",
			},
			[]string{"stop"},
		)

		crawlerSideEffectFailureTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_side_effect_failures_total",
				Help: "Failed snapshot writes and notifications, labeled by kind.",
			},
			[]string{"kind"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Ops API requests, labeled by method, route and status code.",
			},
			[]string{"method", "route", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of ops API request latencies.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage increments the loaded page counter.
func ObservePage() {
	crawlerPagesTotal.Inc()
}

// ObserveItems records extraction outcomes for one page.
func ObserveItems(extracted, skipped int) {
	if extracted > 0 {
		crawlerItemsTotal.WithLabelValues("extracted").Add(float64(extracted))
	}
	if skipped > 0 {
		crawlerItemsTotal.WithLabelValues("skipped").Add(float64(skipped))
	}
}

// ObserveUpsert increments the upsert counter for the given result.
func ObserveUpsert(result string) {
	crawlerUpsertsTotal.WithLabelValues(result).Inc()
}

// ObserveNavigation records the latency of one navigation.
func ObserveNavigation(duration time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	crawlerNavigationSeconds.WithLabelValues(result).Observe(duration.Seconds())
}

// ObserveRun increments the run counter for the given stop reason.
func ObserveRun(stop string) {
	crawlerRunsTotal.WithLabelValues(stop).Inc()
}

// ObserveSideEffectFailure counts a failed snapshot or notification.
func ObserveSideEffectFailure(kind string) {
	crawlerSideEffectFailureTotal.WithLabelValues(kind).Inc()
}

// ObserveHTTPRequest records one ops API request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
