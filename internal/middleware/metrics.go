package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the HTTP and pipeline collectors on one registry.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	inFlight         prometheus.Gauge
	attestations     *prometheus.CounterVec
	pipelineDuration prometheus.Histogram
	failures         *prometheus.CounterVec
}

// NewMetrics registers collectors on reg, or on a fresh registry when reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		requestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tee_http_requests_total",
			Help: "HTTP requests by route and status class",
		}, []string{"method", "route", "code"}),
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tee_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}, []string{"method", "route"}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "tee_http_requests_in_flight",
			Help: "Requests currently being served",
		}),
		attestations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tee_attestations_total",
			Help: "Assembled attestations by verdict",
		}, []string{"verdict"}),
		pipelineDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "tee_pipeline_duration_seconds",
			Help:    "Time from request to signed envelope",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		}),
		failures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tee_pipeline_failures_total",
			Help: "Pipeline failures by stage and error kind",
		}, []string{"stage", "kind"}),
	}
}

// ObserveAttestation counts a signed envelope.
func (m *Metrics) ObserveAttestation(verdict string, d time.Duration) {
	m.attestations.WithLabelValues(verdict).Inc()
	m.pipelineDuration.Observe(d.Seconds())
}

// ObserveFailure counts a failed stage.
func (m *Metrics) ObserveFailure(stage, kind string) {
	m.failures.WithLabelValues(stage, kind).Inc()
}

// Middleware tracks request metrics. Routes are labelled with the chi
// pattern to keep cardinality bounded.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.inFlight.Inc()
		defer m.inFlight.Dec()

		start := time.Now()
		wrapped := wrap(w)
		next.ServeHTTP(wrapped, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		m.requestsTotal.WithLabelValues(r.Method, route, codeClass(wrapped.statusCode)).Inc()
		m.requestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func codeClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}

// Handler exposes the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
