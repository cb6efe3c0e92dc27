// Package metrics provides Prometheus metrics for addressd
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for addressd
type Metrics struct {
	// HTTP request metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Search metrics
	SearchQueriesTotal  *prometheus.CounterVec
	SearchQueryDuration prometheus.Histogram
	SearchResultsTotal  prometheus.Counter

	// Cache metrics
	CacheHitsTotal      prometheus.Counter
	CacheMissesTotal    prometheus.Counter
	CacheEvictionsTotal *prometheus.CounterVec
	CacheEntries        prometheus.Gauge

	// Circuit breaker metrics
	BreakerState        prometheus.Gauge
	BreakerRejectsTotal prometheus.Counter

	// Ingestion metrics
	BulkBatchesTotal    *prometheus.CounterVec
	BulkRetriesTotal    prometheus.Counter
	BulkDocumentsTotal  prometheus.Counter
	RowsMappedTotal     *prometheus.CounterVec
	MemoryPressureTotal prometheus.Counter
	DownloadBytesTotal  prometheus.Counter

	// Server metrics
	ServerUptimeSeconds prometheus.Gauge
	ServerStartTime     time.Time
}

// New creates all addressd metrics and registers them on reg.
// Passing a private registry keeps tests isolated from the global one.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := func(c prometheus.Collector) {
		reg.MustRegister(c)
	}

	m := &Metrics{
		ServerStartTime: time.Now(),
	}

	m.HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "addressd_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "status"},
	)
	factory(m.HTTPRequestsTotal)

	m.HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "addressd_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	factory(m.HTTPRequestDuration)

	m.HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "addressd_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
	factory(m.HTTPRequestsInFlight)

	m.SearchQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "addressd_search_queries_total",
			Help: "Total number of search queries",
		},
		[]string{"source"}, // cache or index
	)
	factory(m.SearchQueriesTotal)

	m.SearchQueryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "addressd_search_query_duration_seconds",
			Help:    "Duration of index search queries in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)
	factory(m.SearchQueryDuration)

	m.SearchResultsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "addressd_search_results_total",
			Help: "Total number of search results returned",
		},
	)
	factory(m.SearchResultsTotal)

	m.CacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "addressd_cache_hits_total",
			Help: "Total number of search cache hits",
		},
	)
	factory(m.CacheHitsTotal)

	m.CacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "addressd_cache_misses_total",
			Help: "Total number of search cache misses",
		},
	)
	factory(m.CacheMissesTotal)

	m.CacheEvictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "addressd_cache_evictions_total",
			Help: "Total number of cache evictions",
		},
		[]string{"reason"}, // lru or ttl
	)
	factory(m.CacheEvictionsTotal)

	m.CacheEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "addressd_cache_entries",
			Help: "Current number of entries in the search cache",
		},
	)
	factory(m.CacheEntries)

	m.BreakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "addressd_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
	)
	factory(m.BreakerState)

	m.BreakerRejectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "addressd_breaker_rejects_total",
			Help: "Total number of calls rejected by the open circuit breaker",
		},
	)
	factory(m.BreakerRejectsTotal)

	m.BulkBatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "addressd_bulk_batches_total",
			Help: "Total number of bulk index batches",
		},
		[]string{"status"}, // success or error
	)
	factory(m.BulkBatchesTotal)

	m.BulkRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "addressd_bulk_retries_total",
			Help: "Total number of bulk index retries",
		},
	)
	factory(m.BulkRetriesTotal)

	m.BulkDocumentsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "addressd_bulk_documents_total",
			Help: "Total number of documents written by bulk indexing",
		},
	)
	factory(m.BulkDocumentsTotal)

	m.RowsMappedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "addressd_rows_mapped_total",
			Help: "Total number of raw rows mapped per state",
		},
		[]string{"state"},
	)
	factory(m.RowsMappedTotal)

	m.MemoryPressureTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "addressd_memory_pressure_events_total",
			Help: "Total number of memory pressure events observed",
		},
	)
	factory(m.MemoryPressureTotal)

	m.DownloadBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "addressd_download_bytes_total",
			Help: "Total number of bytes downloaded",
		},
	)
	factory(m.DownloadBytesTotal)

	m.ServerUptimeSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "addressd_server_uptime_seconds",
			Help: "Server uptime in seconds",
		},
	)
	factory(m.ServerUptimeSeconds)

	return m
}

// StartUptimeUpdater periodically updates the server uptime metric until
// stop is closed.
func (m *Metrics) StartUptimeUpdater(stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				m.ServerUptimeSeconds.Set(time.Since(m.ServerStartTime).Seconds())
			}
		}
	}()
}

// RecordHTTPRequest records an HTTP request with its status
func (m *Metrics) RecordHTTPRequest(route string, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(route, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordBulkBatch records one bulk batch outcome
func (m *Metrics) RecordBulkBatch(status string, docCount int) {
	m.BulkBatchesTotal.WithLabelValues(status).Inc()
	if status == "success" {
		m.BulkDocumentsTotal.Add(float64(docCount))
	}
}
