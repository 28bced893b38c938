// Package metrics holds the Prometheus collectors exposed on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is nil-safe: every method on a nil *Metrics is a no-op.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	occurrences     *prometheus.CounterVec
	skipped         *prometheus.CounterVec
	truncated       *prometheus.CounterVec
	advances        *prometheus.CounterVec
	reloads         *prometheus.CounterVec
}

// New registers the collectors on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "almanac_cache_hits_total",
		Help: "API responses served from the in-memory cache",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "almanac_cache_misses_total",
		Help: "API responses computed because the cache was cold or stale",
	})

	occurrences := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "almanac_occurrences_expanded_total",
		Help: "Occurrences produced by agenda expansion",
	}, []string{"calendar"})

	skipped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "almanac_sources_skipped_total",
		Help: "Events or phenomena dropped from an expansion because they failed to evaluate",
	}, []string{"calendar"})

	truncated := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "almanac_sources_truncated_total",
		Help: "Events or phenomena that hit the per-source occurrence cap",
	}, []string{"calendar"})

	advances := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "almanac_time_advances_total",
		Help: "Current-time cursor moves",
	}, []string{"calendar", "unit"})

	reloads := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "almanac_document_reloads_total",
		Help: "Document reloads by result",
	}, []string{"result"})

	registry.MustRegister(requestDuration, requestTotal, cacheHits, cacheMisses,
		occurrences, skipped, truncated, advances, reloads)

	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		occurrences:     occurrences,
		skipped:         skipped,
		truncated:       truncated,
		advances:        advances,
		reloads:         reloads,
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler exposes the Prometheus HTTP handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	code := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, path, code).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, code).Inc()
}

func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.cacheMisses.Inc()
}

// ObserveExpansion records the outcome of one agenda expansion.
func (m *Metrics) ObserveExpansion(calendarID string, occurrences, skipped, truncated int) {
	if m == nil {
		return
	}
	m.occurrences.WithLabelValues(calendarID).Add(float64(occurrences))
	if skipped > 0 {
		m.skipped.WithLabelValues(calendarID).Add(float64(skipped))
	}
	if truncated > 0 {
		m.truncated.WithLabelValues(calendarID).Add(float64(truncated))
	}
}

func (m *Metrics) ObserveAdvance(calendarID, unit string) {
	if m == nil {
		return
	}
	m.advances.WithLabelValues(calendarID, unit).Inc()
}

func (m *Metrics) ObserveReload(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.reloads.WithLabelValues(result).Inc()
}
