// Package metrics exposes the service's Prometheus collectors. Everything
// registers on a private registry so tests can construct as many instances
// as they like without duplicate-registration panics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the service collectors.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	SyncCycles  *prometheus.CounterVec
	SyncApplied prometheus.Counter

	WSClients    prometheus.Gauge
	WSBroadcasts prometheus.Counter

	TrainingRuns *prometheus.CounterVec
}

// New creates the collector set on a fresh registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "salespulse_http_requests_total",
		Help: "HTTP requests by path, method and status.",
	}, []string{"path", "method", "status"})

	m.HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "salespulse_http_request_seconds",
		Help:    "HTTP handler latency.",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"path"})

	m.SyncCycles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "salespulse_sync_cycles_total",
		Help: "Sync cycles by outcome (applied, empty, error, dropped).",
	}, []string{"outcome"})

	m.SyncApplied = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "salespulse_sync_orders_applied_total",
		Help: "Orders applied to the store by the sync engine.",
	})

	m.WSClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "salespulse_ws_clients",
		Help: "Currently connected WebSocket clients.",
	})

	m.WSBroadcasts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "salespulse_ws_broadcasts_total",
		Help: "WebSocket broadcast fan-outs performed.",
	})

	m.TrainingRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "salespulse_forecast_training_runs_total",
		Help: "Forecast training runs by result (trained, insufficient_data, error, busy).",
	}, []string{"result"})

	m.registry.MustRegister(
		m.HTTPRequests, m.HTTPDuration,
		m.SyncCycles, m.SyncApplied,
		m.WSClients, m.WSBroadcasts,
		m.TrainingRuns,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the /metrics endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveHTTP records one finished request.
func (m *Metrics) ObserveHTTP(path, method string, status int, elapsed time.Duration) {
	m.HTTPRequests.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(path).Observe(elapsed.Seconds())
}

// ObserveSyncCycle records one sync cycle outcome and its applied rows.
func (m *Metrics) ObserveSyncCycle(outcome string, applied int) {
	m.SyncCycles.WithLabelValues(outcome).Inc()
	if applied > 0 {
		m.SyncApplied.Add(float64(applied))
	}
}
