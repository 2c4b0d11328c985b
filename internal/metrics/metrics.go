// Package metrics exposes Prometheus collectors for the aggregation service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics implements both the service and upstream recorders.
type Metrics struct {
	registry *prometheus.Registry

	aggregateRequests *prometheus.CounterVec
	upstreamRequests  *prometheus.CounterVec
	computeDuration   *prometheus.HistogramVec
	inflight          prometheus.Gauge
}

// New registers all collectors on a fresh registry together with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		aggregateRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "airquality_aggregate_requests_total",
			Help: "Aggregate requests by outcome.",
		}, []string{"outcome"}),
		upstreamRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "airquality_upstream_requests_total",
			Help: "Upstream OpenAQ exchanges by status.",
		}, []string{"status"}),
		computeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "airquality_computation_duration_seconds",
			Help:    "Duration of shared city computations.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"result"}),
		inflight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "airquality_inflight_computations",
			Help: "Computations currently running.",
		}),
	}
}

func (m *Metrics) AggregateRequest(outcome string) {
	m.aggregateRequests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Computation(d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.computeDuration.WithLabelValues(result).Observe(d.Seconds())
}

func (m *Metrics) InFlightChanged(delta int) {
	m.inflight.Add(float64(delta))
}

func (m *Metrics) UpstreamRequest(status string) {
	m.upstreamRequests.WithLabelValues(status).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
