package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the paper search service.
// Metrics are organized by subsystem: searches, sources, deduplication,
// cache, and rate limiting. All counters and histograms are registered via
// promauto for automatic registration with the default Prometheus registry.
type Metrics struct {
	// SearchesTotal counts federated search requests received.
	SearchesTotal prometheus.Counter

	// SearchesFailed counts federated searches that ended in an internal failure.
	SearchesFailed prometheus.Counter

	// SearchDuration observes end-to-end search pipeline duration in seconds.
	SearchDuration prometheus.Histogram

	// PapersPerSearch observes the deduplicated result count per search.
	PapersPerSearch prometheus.Histogram

	// SourceSearchesTotal counts per-source search calls, labeled by source.
	SourceSearchesTotal *prometheus.CounterVec

	// SourceSearchesFailed counts failed per-source calls, labeled by source.
	SourceSearchesFailed *prometheus.CounterVec

	// SourceSearchDuration observes per-source search duration in seconds.
	SourceSearchDuration *prometheus.HistogramVec

	// PapersBySource counts raw records returned, labeled by source.
	PapersBySource *prometheus.CounterVec

	// PapersMerged counts records folded into an existing entry during dedup.
	PapersMerged prometheus.Counter

	// CacheHits counts search requests served from the result cache.
	CacheHits prometheus.Counter

	// CacheMisses counts search requests that missed the result cache.
	CacheMisses prometheus.Counter

	// CacheWriteFailures counts asynchronous cache writes that failed.
	CacheWriteFailures prometheus.Counter

	// RateLimitRejections counts requests rejected by the client rate limiter,
	// labeled by category.
	RateLimitRejections *prometheus.CounterVec

	// RateLimitFallbacks counts limiter store failures that fell open.
	RateLimitFallbacks prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		// Searches
		SearchesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_total",
			Help:      "Total number of federated search requests",
		}),
		SearchesFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_failed_total",
			Help:      "Total number of federated searches that failed internally",
		}),
		SearchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "End-to-end duration of federated searches in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		PapersPerSearch: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "papers_per_search",
			Help:      "Number of deduplicated papers returned per search",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 200},
		}),

		// Sources
		SourceSearchesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_searches_total",
			Help:      "Total number of per-source search calls by source",
		}, []string{"source"}),
		SourceSearchesFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_searches_failed_total",
			Help:      "Total number of failed per-source search calls by source",
		}, []string{"source"}),
		SourceSearchDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_search_duration_seconds",
			Help:      "Duration of per-source search calls in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"source"}),
		PapersBySource: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "papers_by_source_total",
			Help:      "Total number of raw records returned by source",
		}, []string{"source"}),

		// Deduplication
		PapersMerged: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "papers_merged_total",
			Help:      "Total number of records merged into an existing paper",
		}),

		// Cache
		CacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of searches served from the result cache",
		}),
		CacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of searches that missed the result cache",
		}),
		CacheWriteFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_write_failures_total",
			Help:      "Total number of failed asynchronous cache writes",
		}),

		// Rate limiting
		RateLimitRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_rejections_total",
			Help:      "Total number of requests rejected by the rate limiter",
		}, []string{"category"}),
		RateLimitFallbacks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_fallbacks_total",
			Help:      "Total number of limiter store failures that failed open",
		}),
	}
}

// RecordSearch records a completed federated search.
func (m *Metrics) RecordSearch(paperCount int, durationSeconds float64) {
	m.SearchesTotal.Inc()
	m.SearchDuration.Observe(durationSeconds)
	m.PapersPerSearch.Observe(float64(paperCount))
}

// RecordSearchFailed records a federated search that failed internally.
func (m *Metrics) RecordSearchFailed(durationSeconds float64) {
	m.SearchesTotal.Inc()
	m.SearchesFailed.Inc()
	m.SearchDuration.Observe(durationSeconds)
}

// RecordSourceSearch records one per-source call and its raw record count.
func (m *Metrics) RecordSourceSearch(source string, paperCount int, durationSeconds float64) {
	m.SourceSearchesTotal.WithLabelValues(source).Inc()
	m.SourceSearchDuration.WithLabelValues(source).Observe(durationSeconds)
	m.PapersBySource.WithLabelValues(source).Add(float64(paperCount))
}

// RecordSourceSearchFailed records a failed per-source call.
func (m *Metrics) RecordSourceSearchFailed(source string, durationSeconds float64) {
	m.SourceSearchesTotal.WithLabelValues(source).Inc()
	m.SourceSearchesFailed.WithLabelValues(source).Inc()
	m.SourceSearchDuration.WithLabelValues(source).Observe(durationSeconds)
}

// RecordPapersMerged records records folded away during deduplication.
func (m *Metrics) RecordPapersMerged(count int) {
	m.PapersMerged.Add(float64(count))
}

// RecordCacheHit records a search served from the cache.
func (m *Metrics) RecordCacheHit() {
	m.CacheHits.Inc()
}

// RecordCacheMiss records a search that missed the cache.
func (m *Metrics) RecordCacheMiss() {
	m.CacheMisses.Inc()
}

// RecordCacheWriteFailure records a failed asynchronous cache write.
func (m *Metrics) RecordCacheWriteFailure() {
	m.CacheWriteFailures.Inc()
}

// RecordRateLimitRejection records a request rejected by the limiter.
func (m *Metrics) RecordRateLimitRejection(category string) {
	m.RateLimitRejections.WithLabelValues(category).Inc()
}

// RecordRateLimitFallback records a limiter store failure that failed open.
func (m *Metrics) RecordRateLimitFallback() {
	m.RateLimitFallbacks.Inc()
}
