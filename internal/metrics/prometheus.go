// Package metrics provides Prometheus metrics for the gallery service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	cacheLookups     *prometheus.CounterVec
	cacheEntries     prometheus.Gauge
	upstreamFetches  *prometheus.CounterVec
	upstreamDuration prometheus.Histogram
	staleDiscarded   prometheus.Counter
	activeSessions   prometheus.Gauge
	streamClients    prometheus.Gauge
}

// NewMetrics creates metrics registered on a fresh registry, which also
// carries the Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gallery_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gallery_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "route"},
		),
		cacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gallery_cache_lookups_total",
				Help: "Fetch cache lookups by result (hit, miss, shared)",
			},
			[]string{"result"},
		),
		cacheEntries: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gallery_cache_entries",
				Help: "Number of cached gallery descriptors",
			},
		),
		upstreamFetches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gallery_upstream_fetches_total",
				Help: "Upstream GraphQL requests by outcome",
			},
			[]string{"outcome"},
		),
		upstreamDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gallery_upstream_fetch_duration_seconds",
				Help:    "Upstream GraphQL request duration in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
		staleDiscarded: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gallery_stale_responses_discarded_total",
				Help: "Responses dropped because their descriptor was superseded",
			},
		),
		activeSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gallery_active_sessions",
				Help: "Number of open gallery sessions",
			},
		),
		streamClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gallery_stream_clients",
				Help: "Number of connected WebSocket clients",
			},
		),
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records metrics for an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	m.requestsTotal.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// CacheLookup counts a fetch cache lookup.
func (m *Metrics) CacheLookup(result string) {
	m.cacheLookups.WithLabelValues(result).Inc()
}

// UpstreamFetch records an upstream request.
func (m *Metrics) UpstreamFetch(outcome string, duration time.Duration) {
	m.upstreamFetches.WithLabelValues(outcome).Inc()
	m.upstreamDuration.Observe(duration.Seconds())
}

// StaleDiscarded counts a superseded response.
func (m *Metrics) StaleDiscarded() {
	m.staleDiscarded.Inc()
}

// EntriesChanged sets the cache size.
func (m *Metrics) EntriesChanged(n int) {
	m.cacheEntries.Set(float64(n))
}

// SetActiveSessions sets the number of open sessions.
func (m *Metrics) SetActiveSessions(n int) {
	m.activeSessions.Set(float64(n))
}

// IncStreamClients increments the connected stream clients.
func (m *Metrics) IncStreamClients() {
	m.streamClients.Inc()
}

// DecStreamClients decrements the connected stream clients.
func (m *Metrics) DecStreamClients() {
	m.streamClients.Dec()
}
