package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics are exported on /metrics from a registry owned by the server.
type Metrics struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	reloads  *prometheus.CounterVec
	preds    prometheus.Counter
}

// NewMetrics registers the server collectors plus the Go and process
// collectors on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "exoml",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "exoml",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "exoml",
			Subsystem: "model",
			Name:      "reloads_total",
			Help:      "Model reload attempts by result.",
		}, []string{"result"}),
		preds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "exoml",
			Subsystem: "model",
			Name:      "predictions_total",
			Help:      "Rows predicted.",
		}),
	}
	m.registry.MustRegister(
		m.requests, m.latency, m.reloads, m.preds,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the registry for tests and embedding.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) observe(route string, status int, elapsed time.Duration) {
	m.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(route).Observe(elapsed.Seconds())
}

// ReloadResult is the label of the reloads counter.
type ReloadResult string

const (
	ReloadChanged   ReloadResult = "changed"
	ReloadUnchanged ReloadResult = "unchanged"
	ReloadFailed    ReloadResult = "failed"
)

func (m *Metrics) reloaded(r ReloadResult) {
	m.reloads.WithLabelValues(string(r)).Inc()
}
