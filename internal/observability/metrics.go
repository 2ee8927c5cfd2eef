package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request, labelled by route template.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight.
	HTTPRequestsInFlight prometheus.Gauge

	// Relational query latency by query name. Watch for: p95 growth on temperature range scans.
	DBQueryDuration *prometheus.HistogramVec

	// Query result cache hits by query kind ("stations", "temperatures").
	QueryCacheHitsTotal *prometheus.CounterVec

	// Query result cache backend failures by operation ("get", "set"). Requests still succeed.
	QueryCacheErrorsTotal *prometheus.CounterVec

	// Chart requests served from an existing file.
	ChartCacheHitsTotal prometheus.Counter

	// Chart renders by result ("success", "error").
	ChartRendersTotal *prometheus.CounterVec

	// Chart render latency. Watch for: slow renders blocking legacy requests.
	ChartRenderDuration prometheus.Histogram

	// Chart warm runs and failed warm runs.
	ChartWarmingTotal       prometheus.Counter
	ChartWarmingErrorsTotal prometheus.Counter

	// Forum operations by op ("create", "reply", "delete", "edit") and result.
	ForumOperationsTotal *prometheus.CounterVec

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	DBQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dbQueryDurationSeconds",
			Help:    "Relational query latency in seconds by query name",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"query"},
	)
	QueryCacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queryCacheHitsTotal",
			Help: "Total number of query result cache hits",
		},
		[]string{"kind"},
	)
	QueryCacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queryCacheErrorsTotal",
			Help: "Total number of query result cache backend errors",
		},
		[]string{"op"},
	)
	ChartCacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chartCacheHitsTotal",
			Help: "Total number of chart requests served from an existing image",
		},
	)
	ChartRendersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chartRendersTotal",
			Help: "Total number of chart renders by result",
		},
		[]string{"result"},
	)
	ChartRenderDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chartRenderDurationSeconds",
			Help:    "Chart render latency in seconds, including the database reads",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)
	ChartWarmingTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chartWarmingTotal",
			Help: "Total number of chart warm runs",
		},
	)
	ChartWarmingErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chartWarmingErrorsTotal",
			Help: "Total number of chart warm runs with at least one failed station",
		},
	)
	ForumOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forumOperationsTotal",
			Help: "Total number of forum mutations by operation and result",
		},
		[]string{"op", "result"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		DBQueryDuration,
		QueryCacheHitsTotal, QueryCacheErrorsTotal,
		ChartCacheHitsTotal, ChartRendersTotal, ChartRenderDuration,
		ChartWarmingTotal, ChartWarmingErrorsTotal,
		ForumOperationsTotal,
		RateLimitDeniedTotal,
	)
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
