package httpapi

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/varserver/vard/internal/registry"
)

// Metrics instruments API traffic and registry size for Prometheus.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics registers vard collectors on reg and returns the bundle. The
// variable and tag gauges read the registry live at scrape time.
func NewMetrics(reg prometheus.Registerer, list *registry.List) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vard",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "API requests served, by operation and outcome.",
		}, []string{"operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "vard",
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "API request latency, by operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	reg.MustRegister(m.requests, m.duration)
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "vard",
		Name:      "variables",
		Help:      "Registered variables, aliases excluded.",
	}, func() float64 { return float64(list.Count()) }))
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "vard",
		Name:      "tags",
		Help:      "Interned tag names.",
	}, func() float64 { return float64(list.TagCount()) }))
	return m
}

// ObserveRequest records one served request.
func (m *Metrics) ObserveRequest(operation, outcome string, elapsed time.Duration) {
	m.requests.WithLabelValues(operation, outcome).Inc()
	m.duration.WithLabelValues(operation).Observe(elapsed.Seconds())
}
