package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes.
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 increases.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation.
	HTTPRequestsInFlight prometheus.Gauge

	// OpenWeatherMap API call rate. Watch for: error vs success ratio.
	WeatherAPICallsTotal *prometheus.CounterVec

	// External API latency per request. Watch for: p95 > 2s (upstream degradation).
	WeatherAPIDuration *prometheus.HistogramVec

	// Retry attempts for weather API. High retries = unstable upstream.
	WeatherAPIRetriesTotal prometheus.Counter

	// Cache hits by cache type.
	CacheHitsTotal *prometheus.CounterVec

	// Rate limit denials on the public weather route.
	RateLimitDeniedTotal prometheus.Counter

	// Completed sweeps by outcome (ok, fatal).
	SweepsTotal *prometheus.CounterVec

	// Wall time of a full sweep.
	SweepDuration prometheus.Histogram

	// Users seen / eligible / emailed in the last completed sweep.
	SweepUsersProcessed prometheus.Gauge
	SweepUsersEligible  prometheus.Gauge
	SweepAlertsSent     prometheus.Gauge

	// Per-user errors recorded during sweeps.
	SweepErrorsTotal prometheus.Counter

	// Alert emails by status (sent, failed).
	EmailSendTotal *prometheus.CounterVec

	// AI generation attempts by model and status (ok, quota, error).
	AIGenerationsTotal *prometheus.CounterVec

	// Models marked unavailable by the availability tracker.
	AIModelUnavailableTotal *prometheus.CounterVec
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
	WeatherAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherApiCallsTotal",
			Help: "Total number of OpenWeatherMap API calls",
		},
		[]string{"endpoint", "status"},
	)
	WeatherAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weatherApiDurationSeconds",
			Help:    "OpenWeatherMap API latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint", "status"},
	)
	WeatherAPIRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "weatherApiRetriesTotal",
			Help: "Total number of retry attempts for weather API calls",
		},
	)
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Total number of cache hits",
		},
		[]string{"cacheType"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)
	SweepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweepsTotal",
			Help: "Completed alert sweeps by outcome",
		},
		[]string{"outcome"},
	)
	SweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sweepDurationSeconds",
			Help:    "Wall time of a full alert sweep",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)
	SweepUsersProcessed = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sweepUsersProcessed",
			Help: "Users processed in the last completed sweep",
		},
	)
	SweepUsersEligible = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sweepUsersEligible",
			Help: "Alert-eligible users in the last completed sweep",
		},
	)
	SweepAlertsSent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sweepAlertsSent",
			Help: "Alert emails sent in the last completed sweep",
		},
	)
	SweepErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sweepErrorsTotal",
			Help: "Per-user errors recorded during sweeps",
		},
	)
	EmailSendTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emailSendTotal",
			Help: "Alert emails by delivery status",
		},
		[]string{"status"},
	)
	AIGenerationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aiGenerationsTotal",
			Help: "AI generation attempts by model and status",
		},
		[]string{"model", "status"},
	)
	AIModelUnavailableTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aiModelUnavailableTotal",
			Help: "Models marked unavailable after quota failures",
		},
		[]string{"model"},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		WeatherAPICallsTotal, WeatherAPIDuration, WeatherAPIRetriesTotal,
		CacheHitsTotal, RateLimitDeniedTotal,
		SweepsTotal, SweepDuration,
		SweepUsersProcessed, SweepUsersEligible, SweepAlertsSent, SweepErrorsTotal,
		EmailSendTotal,
		AIGenerationsTotal, AIModelUnavailableTotal,
	)
}

// RecordSweep updates the last-sweep gauges and counters after a run.
func RecordSweep(outcome string, processed, eligible, sent, errs int, seconds float64) {
	SweepsTotal.WithLabelValues(outcome).Inc()
	SweepDuration.Observe(seconds)
	SweepUsersProcessed.Set(float64(processed))
	SweepUsersEligible.Set(float64(eligible))
	SweepAlertsSent.Set(float64(sent))
	SweepErrorsTotal.Add(float64(errs))
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
