// Package telemetry exposes local Prometheus metrics and an in-process
// query log. Nothing is reported externally.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Search result labels for bibsearch_search_queries_total.
const (
	ResultHit      = "hit"
	ResultZero     = "zero_result"
	ResultError    = "error"
	ResultCacheHit = "cache_hit"
)

// Metrics holds the Prometheus collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	SearchQueriesTotal *prometheus.CounterVec
	SearchLatency      prometheus.Histogram
	PagesIndexedTotal  prometheus.Counter
	ExtractionFailures *prometheus.CounterVec
	IndexState         prometheus.Gauge
	CacheHitsTotal     prometheus.Counter

	queries *QueryLog
}

// New creates the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bibsearch_search_queries_total",
				Help: "Total search queries by result type (hit, zero_result, error, cache_hit).",
			},
			[]string{"result"},
		),
		SearchLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "bibsearch_search_latency_seconds",
				Help:    "Search latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
		),
		PagesIndexedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bibsearch_pages_indexed_total",
				Help: "Total PDF pages written to the index.",
			},
		),
		ExtractionFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bibsearch_extraction_failures_total",
				Help: "Files that could not be indexed, by error code.",
			},
			[]string{"code"},
		),
		IndexState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "bibsearch_index_state",
				Help: "Index lifecycle state (0=empty, 1=building, 2=ready, 3=updating, 4=closed).",
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bibsearch_cache_hits_total",
				Help: "Search results served from the result cache.",
			},
		),
		queries: NewQueryLog(DefaultQueryLogCapacity),
	}

	m.registry.MustRegister(
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.PagesIndexedTotal,
		m.ExtractionFailures,
		m.IndexState,
		m.CacheHitsTotal,
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler returns the scrape handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Queries returns the in-process query log.
func (m *Metrics) Queries() *QueryLog {
	if m == nil {
		return nil
	}
	return m.queries
}

// ObserveSearch records one search outcome.
func (m *Metrics) ObserveSearch(query, result string, hits int, took time.Duration) {
	if m == nil {
		return
	}
	m.SearchQueriesTotal.WithLabelValues(result).Inc()
	if result == ResultCacheHit {
		m.CacheHitsTotal.Inc()
	}
	if result != ResultError {
		m.SearchLatency.Observe(took.Seconds())
	}
	m.queries.Record(QueryEvent{Query: query, ResultCount: hits, Latency: took, Timestamp: time.Now()})
}

// AddPages counts indexed pages.
func (m *Metrics) AddPages(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.PagesIndexedTotal.Add(float64(n))
}

// ExtractionFailed counts one file failure by error code.
func (m *Metrics) ExtractionFailed(code string) {
	if m == nil {
		return
	}
	if code == "" {
		code = "unknown"
	}
	m.ExtractionFailures.WithLabelValues(code).Inc()
}

// SetIndexState records the gauge value for a lifecycle state name.
func (m *Metrics) SetIndexState(state string) {
	if m == nil {
		return
	}
	m.IndexState.Set(stateValue(state))
}

func stateValue(state string) float64 {
	switch state {
	case "BUILDING":
		return 1
	case "READY":
		return 2
	case "UPDATING":
		return 3
	case "CLOSED":
		return 4
	default:
		return 0
	}
}
