package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "model_provider_connections"

// Validation outcomes recorded by ObserveValidation.
const (
	ResultValid       = "valid"
	ResultInvalid     = "invalid"
	ResultUnsupported = "unsupported"
)

// durationBuckets are histogram buckets for outbound validation calls, in seconds.
var durationBuckets = []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30}

// Metrics holds the service's Prometheus collectors.
type Metrics struct {
	ValidationsTotal   *prometheus.CounterVec
	ValidationDuration *prometheus.HistogramVec
	RateLimitedTotal   prometheus.Counter
	RateLimitPerSecond prometheus.Gauge

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates and registers all collectors on reg (the default registerer when nil).
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		ValidationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "validation",
				Name:      "requests_total",
				Help:      "API key validations by provider and result",
			},
			[]string{"provider", "result"},
		),
		ValidationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "validation",
				Name:      "duration_seconds",
				Help:      "Duration of outbound API key validation calls",
				Buckets:   durationBuckets,
			},
			[]string{"provider"},
		),
		RateLimitedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "validation",
				Name:      "rate_limited_total",
				Help:      "Validation requests rejected by the rate limiter",
			},
		),
		RateLimitPerSecond: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "validation",
				Name:      "rate_limit_per_second",
				Help:      "Configured per-user validation limit; 0 means unlimited",
			},
		),
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests by method, route and status",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request latency by method and route",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

// ObserveValidation records one validation attempt.
func (m *Metrics) ObserveValidation(provider, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ValidationsTotal.WithLabelValues(provider, result).Inc()
	if result != ResultUnsupported {
		m.ValidationDuration.WithLabelValues(provider).Observe(elapsed.Seconds())
	}
}

// ObserveRateLimited records a rejected validation request.
func (m *Metrics) ObserveRateLimited() {
	if m == nil {
		return
	}
	m.RateLimitedTotal.Inc()
}

// SetRateLimit publishes the limit currently in effect.
func (m *Metrics) SetRateLimit(limit int) {
	if m == nil {
		return
	}
	m.RateLimitPerSecond.Set(float64(limit))
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
