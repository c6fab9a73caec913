// Package observability collects Prometheus metrics for the HTTP surface
// and the in-process query cache.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the application Prometheus registry and collectors.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	cacheHits       *prometheus.CounterVec
	cacheMisses     *prometheus.CounterVec
	slowQueries     *prometheus.CounterVec
}

// NewMetrics initializes the registry and base collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "meridian_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	hits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_query_cache_hits_total",
		Help: "Query cache hits by table.",
	}, []string{"table"})
	misses := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_query_cache_misses_total",
		Help: "Query cache misses by table.",
	}, []string{"table"})
	slow := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_slow_queries_total",
		Help: "Queries exceeding the slow query threshold, by table.",
	}, []string{"table"})
	registry.MustRegister(requests, duration, hits, misses, slow)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		cacheHits:       hits,
		cacheMisses:     misses,
		slowQueries:     slow,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request count and duration per chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// CacheHit implements querycache.Recorder.
func (m *Metrics) CacheHit(table string) {
	if m != nil {
		m.cacheHits.WithLabelValues(table).Inc()
	}
}

// CacheMiss implements querycache.Recorder.
func (m *Metrics) CacheMiss(table string) {
	if m != nil {
		m.cacheMisses.WithLabelValues(table).Inc()
	}
}

// SlowQuery implements querycache.Recorder.
func (m *Metrics) SlowQuery(table string) {
	if m != nil {
		m.slowQueries.WithLabelValues(table).Inc()
	}
}

// Registerer exposes the registry for custom collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
