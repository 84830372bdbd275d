package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cart"

// Metrics is safe to use as a nil pointer; every method becomes a no-op.
type Metrics struct {
	registry        *prometheus.Registry
	operations      *prometheus.CounterVec
	catalogRequests *prometheus.CounterVec
	catalogLatency  prometheus.Histogram
	versionRetries  prometheus.Counter
	breakerState    *prometheus.GaugeVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Cart operations by name and result.",
		}, []string{"operation", "result"}),
		catalogRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_requests_total",
			Help:      "Product catalog lookups by outcome.",
		}, []string{"outcome"}),
		catalogLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "catalog_request_duration_seconds",
			Help:      "Latency of product catalog lookups.",
			Buckets:   prometheus.DefBuckets,
		}),
		versionRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "version_conflicts_total",
			Help:      "Saves rejected because the cart changed since it was loaded.",
		}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "catalog_breaker_open",
			Help:      "1 while the catalog circuit breaker is open.",
		}, []string{"name"}),
	}

	reg.MustRegister(
		m.operations,
		m.catalogRequests,
		m.catalogLatency,
		m.versionRetries,
		m.breakerState,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Operation(name string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.operations.WithLabelValues(name, result).Inc()
}

func (m *Metrics) CatalogRequest(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.catalogRequests.WithLabelValues(outcome).Inc()
	m.catalogLatency.Observe(elapsed.Seconds())
}

func (m *Metrics) VersionConflict() {
	if m == nil {
		return
	}
	m.versionRetries.Inc()
}

func (m *Metrics) BreakerOpen(name string, open bool) {
	if m == nil {
		return
	}
	v := 0.0
	if open {
		v = 1
	}
	m.breakerState.WithLabelValues(name).Set(v)
}
