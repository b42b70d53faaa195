// Package metrics exposes Prometheus counters for the prefetch cache and
// the completion router. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors of one playback session.
type Metrics struct {
	registry *prometheus.Registry

	cacheLookups   *prometheus.CounterVec
	cacheEvictions prometheus.Counter
	cacheEntries   prometheus.Gauge
	cacheBytes     prometheus.Gauge
	fetchFailures  prometheus.Counter
	fetchDuration  prometheus.Histogram

	completions     *prometheus.CounterVec
	transportErrors prometheus.Counter
	staleCallbacks  prometheus.Counter
}

// New creates and registers the collectors on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recite_prefetch_lookups_total",
			Help: "Prefetch requests by result",
		}, []string{"result"}), // "hit", "miss"
		cacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recite_prefetch_evictions_total",
			Help: "Entries evicted to stay within the byte budget",
		}),
		cacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "recite_prefetch_entries",
			Help: "Segments currently held by the prefetch cache",
		}),
		cacheBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "recite_prefetch_bytes",
			Help: "Bytes currently held by the prefetch cache",
		}),
		fetchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recite_prefetch_failures_total",
			Help: "Segment fetches that failed, timed out or were aborted",
		}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "recite_prefetch_fetch_duration_seconds",
			Help:    "Duration of successful segment fetches",
			Buckets: prometheus.DefBuckets,
		}),
		completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recite_segment_completions_total",
			Help: "Completion decisions by strategy",
		}, []string{"strategy"}), // "replay", "advance", "restart", "stop"
		transportErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recite_transport_errors_total",
			Help: "Load, seek or play operations rejected by the media transport",
		}),
		staleCallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recite_stale_callbacks_total",
			Help: "Delayed replays that fired after their verse changed",
		}),
	}

	registry.MustRegister(
		m.cacheLookups,
		m.cacheEvictions,
		m.cacheEntries,
		m.cacheBytes,
		m.fetchFailures,
		m.fetchDuration,
		m.completions,
		m.transportErrors,
		m.staleCallbacks,
	)

	return m
}

// CacheHit counts a prefetch served from memory.
func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues("hit").Inc()
}

// CacheMiss counts a prefetch that required a fetch.
func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues("miss").Inc()
}

// CacheEvicted counts n evicted entries.
func (m *Metrics) CacheEvicted(n int) {
	if m == nil || n == 0 {
		return
	}
	m.cacheEvictions.Add(float64(n))
}

// CacheSize records the current entry count and byte total.
func (m *Metrics) CacheSize(entries int, bytes int64) {
	if m == nil {
		return
	}
	m.cacheEntries.Set(float64(entries))
	m.cacheBytes.Set(float64(bytes))
}

// FetchFailed counts a failed fetch.
func (m *Metrics) FetchFailed() {
	if m == nil {
		return
	}
	m.fetchFailures.Inc()
}

// FetchSucceeded observes the duration of a successful fetch.
func (m *Metrics) FetchSucceeded(seconds float64) {
	if m == nil {
		return
	}
	m.fetchDuration.Observe(seconds)
}

// Completion counts a completion decision.
func (m *Metrics) Completion(strategy string) {
	if m == nil {
		return
	}
	m.completions.WithLabelValues(strategy).Inc()
}

// TransportError counts a rejected transport operation.
func (m *Metrics) TransportError() {
	if m == nil {
		return
	}
	m.transportErrors.Inc()
}

// StaleCallback counts a delayed callback that was discarded.
func (m *Metrics) StaleCallback() {
	if m == nil {
		return
	}
	m.staleCallbacks.Inc()
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler that serves the collectors.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
