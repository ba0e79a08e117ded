// Package metrics owns the Prometheus registry exposed by a service on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the collectors recorded by the HTTP middleware.
type Registry struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight prometheus.Gauge
	workerInfo       *prometheus.GaugeVec
}

// WorkerInfo labels the worker_info gauge.
type WorkerInfo struct {
	WorkerType string
	WorkerID   int
	PodID      string
}

// New creates a registry whose metric names are prefixed with namespace.
func New(namespace string) *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Registry{
		registry: reg,
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		requestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Number of HTTP requests currently being processed",
			},
		),
		workerInfo: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "worker_info",
				Help:      "Identity of the worker process serving this registry",
			},
			[]string{"worker_type", "worker_id", "pod_id"},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry, primarily for tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// RequestStarted tracks an in-flight request; call the returned func when it completes.
func (r *Registry) RequestStarted() func() {
	r.requestsInFlight.Inc()
	return r.requestsInFlight.Dec
}

// ObserveRequest records a completed request.
func (r *Registry) ObserveRequest(method, path string, status int, duration time.Duration) {
	r.requestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	r.requestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// SetWorkerInfo publishes the derived worker identity.
func (r *Registry) SetWorkerInfo(info WorkerInfo) {
	r.workerInfo.Reset()
	r.workerInfo.WithLabelValues(info.WorkerType, strconv.Itoa(info.WorkerID), info.PodID).Set(1)
}
