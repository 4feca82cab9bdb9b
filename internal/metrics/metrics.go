// Package metrics holds the Prometheus collectors exported by landscaper.
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

// Registry owns a private Prometheus registry and every landscaper metric.
type Registry struct {
	registry *prometheus.Registry

	StoreMutationsTotal *prometheus.CounterVec
	StoreQueryDuration  *prometheus.HistogramVec
	EventsTotal         *prometheus.CounterVec
	HostBuildsTotal     *prometheus.CounterVec
	HostBuildDuration   prometheus.Histogram
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates a registry with all metrics registered.
func New() *Registry {
	r := &Registry{registry: prometheus.NewRegistry()}
	factory := promauto.With(r.registry)

	r.StoreMutationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "landscaper_store_mutations_total",
			Help: "Store mutations by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	r.StoreQueryDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "landscaper_store_query_duration_seconds",
			Help:    "Duration of store queries in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"query"},
	)

	r.EventsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "landscaper_events_total",
			Help: "Events delivered to collectors by event name and result",
		},
		[]string{"event", "result"}, // delivered, failed, unrouted
	)

	r.HostBuildsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "landscaper_host_builds_total",
			Help: "Physical host topology builds by result",
		},
		[]string{"result"}, // committed, skipped, failed
	)

	r.HostBuildDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "landscaper_host_build_duration_seconds",
			Help:    "Duration of one host topology build and commit",
			Buckets: prometheus.DefBuckets,
		},
	)

	r.HTTPRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "landscaper_http_requests_total",
			Help: "Query API requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	r.HTTPRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "landscaper_http_request_duration_seconds",
			Help:    "Query API request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Mutation counts one store mutation.
func (r *Registry) Mutation(op, outcome string) {
	r.StoreMutationsTotal.WithLabelValues(op, outcome).Inc()
}

// ObserveQuery records the time elapsed since start for a query.
func (r *Registry) ObserveQuery(query string, start time.Time) {
	r.StoreQueryDuration.WithLabelValues(query).Observe(time.Since(start).Seconds())
}

// ObserveRequest records one served HTTP request.
func (r *Registry) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	r.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	r.HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Gatherer exposes the underlying registry for scraping and tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
