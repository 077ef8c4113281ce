// Package metrics exposes Prometheus metrics for executions, installs, the
// module cache and the HTTP API.
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

// Metrics holds all Prometheus metrics on a private registry so tests can
// create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	Executions        *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec
	Installs          *prometheus.CounterVec
	InstallDuration   prometheus.Histogram

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RateLimited     prometheus.Counter
	WSConnections   prometheus.Gauge
}

// CacheStats is implemented by the module source cache.
type CacheStats interface {
	Hits() uint64
	Misses() uint64
	Len() int
}

// FetchStats is implemented by the CDN fetcher.
type FetchStats interface {
	Requests() uint64
}

// New creates the metrics and registers Go runtime collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		Executions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blitz_executions_total",
				Help: "Executions by strategy and outcome",
			},
			[]string{"strategy", "outcome"},
		),
		ExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "blitz_execution_duration_seconds",
				Help:    "Execution wall-clock time in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"strategy"},
		),
		Installs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blitz_package_installs_total",
				Help: "Package install runs by outcome",
			},
			[]string{"outcome"},
		),
		InstallDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "blitz_package_install_duration_seconds",
				Help:    "Package install time in seconds",
				Buckets: []float64{.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blitz_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "blitz_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		RateLimited: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "blitz_http_rate_limited_total",
				Help: "Requests rejected by the rate limiter",
			},
		),
		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "blitz_websocket_connections",
				Help: "Open websocket connections",
			},
		),
	}
}

// ObserveExecution implements executor.Recorder.
func (m *Metrics) ObserveExecution(strategy, kind string, d time.Duration) {
	outcome := "success"
	if kind != "" {
		outcome = kind
	}
	m.Executions.WithLabelValues(strategy, outcome).Inc()
	m.ExecutionDuration.WithLabelValues(strategy).Observe(d.Seconds())
}

// ObserveInstall implements process.InstallRecorder.
func (m *Metrics) ObserveInstall(packages int, ok bool, d time.Duration) {
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.Installs.WithLabelValues(outcome).Inc()
	m.InstallDuration.Observe(d.Seconds())
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	m.RequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// WatchCache exports the cache counters as gauges read at scrape time.
func (m *Metrics) WatchCache(c CacheStats) {
	factory := promauto.With(m.registry)
	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "blitz_module_cache_hits_total",
		Help: "Module source cache hits",
	}, func() float64 { return float64(c.Hits()) })
	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "blitz_module_cache_misses_total",
		Help: "Module source cache misses",
	}, func() float64 { return float64(c.Misses()) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "blitz_module_cache_entries",
		Help: "Entries held by the module source cache",
	}, func() float64 { return float64(c.Len()) })
}

// WatchFetcher exports the number of CDN requests made.
func (m *Metrics) WatchFetcher(f FetchStats) {
	promauto.With(m.registry).NewCounterFunc(prometheus.CounterOpts{
		Name: "blitz_cdn_requests_total",
		Help: "HTTP requests made to the module CDN",
	}, func() float64 { return float64(f.Requests()) })
}

// WatchLiveRealms exports the number of open interpreter realms.
func (m *Metrics) WatchLiveRealms(live func() int64) {
	promauto.With(m.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "blitz_live_realms",
		Help: "Interpreter realms currently open",
	}, func() float64 { return float64(live()) })
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
