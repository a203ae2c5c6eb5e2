// Package metrics collects Prometheus metrics for compiles and live reloads.
//
// Metrics collected:
//   - sassdev_compiles_total: stylesheets compiled, by pass and status
//   - sassdev_compile_duration_seconds: per-stylesheet compile time, by pass
//   - sassdev_reloads_total: reload messages broadcast, by kind
//   - sassdev_reload_clients: connected live reload clients
//
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "sassdev"

// Compile statuses.
const (
	StatusWritten   = "written"
	StatusUnchanged = "unchanged"
	StatusFailed    = "failed"
)

// Metrics holds the sassdev collectors.
type Metrics struct {
	compilesTotal   *prometheus.CounterVec
	compileDuration *prometheus.HistogramVec
	reloadsTotal    *prometheus.CounterVec
	reloadClients   prometheus.Gauge
	gatherer        prometheus.Gatherer
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		compilesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "compiles_total",
			Help:      "Total number of stylesheets compiled",
		}, []string{"pass", "status"}),

		compileDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "compile_duration_seconds",
			Help:      "Stylesheet compile duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"pass"}),

		reloadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "reloads_total",
			Help:      "Total number of live reload messages broadcast",
		}, []string{"kind"}),

		reloadClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "reload_clients",
			Help:      "Number of connected live reload clients",
		}),
	}

	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m
}

// NewRegistry returns a fresh registry carrying the Go and process
// collectors alongside the sassdev metrics.
func NewRegistry() (*prometheus.Registry, *Metrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, New(reg)
}

// ObserveCompile records one stylesheet compile.
func (m *Metrics) ObserveCompile(pass, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.compilesTotal.WithLabelValues(pass, status).Inc()
	m.compileDuration.WithLabelValues(pass).Observe(d.Seconds())
}

// IncReload records one broadcast reload message.
func (m *Metrics) IncReload(kind string) {
	if m == nil {
		return
	}
	m.reloadsTotal.WithLabelValues(kind).Inc()
}

// SetClients records the number of connected reload clients.
func (m *Metrics) SetClients(n int) {
	if m == nil {
		return
	}
	m.reloadClients.Set(float64(n))
}

// Handler serves the registry the metrics were registered with. It returns
// a 404 handler when that registry cannot be gathered.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
