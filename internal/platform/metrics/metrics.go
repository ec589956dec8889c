// Package metrics exposes the Prometheus collectors shared across the
// router's HTTP, selection, proxy, and download-task subsystems.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus collector registered by the router.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	NodesOnline         prometheus.Gauge
	NodesTotal          prometheus.Gauge
	AgentCombinedActive prometheus.Gauge
	WarmupWaiters       prometheus.Gauge

	ProxyUpstreamErrorsTotal *prometheus.CounterVec
	ProxyRequestsTotal       *prometheus.CounterVec
	ProxyRequestDuration     *prometheus.HistogramVec

	DownloadTasksTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates a Metrics instance bound to a private registry (so repeated
// construction in tests never collides with prometheus.DefaultRegisterer).
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "router_http_requests_total",
			Help: "Total HTTP requests handled by the router.",
		}, []string{"method", "path", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "router_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"method", "path"}),
		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "router_http_requests_in_flight",
			Help: "Current number of HTTP requests being processed.",
		}),
		NodesOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "router_nodes_online",
			Help: "Number of worker nodes currently Online.",
		}),
		NodesTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "router_nodes_total",
			Help: "Number of worker nodes known to the registry.",
		}),
		AgentCombinedActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "router_agent_combined_active",
			Help: "Sum of combined-active requests across fresh agents.",
		}),
		WarmupWaiters: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "router_warmup_waiters",
			Help: "Current number of requests parked in the warm-up admission queue.",
		}),
		ProxyUpstreamErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "router_proxy_upstream_errors_total",
			Help: "Total proxy requests that failed against the upstream worker.",
		}, []string{"node_id", "reason"}),
		ProxyRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "router_proxy_requests_total",
			Help: "Total proxy requests by outcome.",
		}, []string{"endpoint", "outcome"}),
		ProxyRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "router_proxy_request_duration_seconds",
			Help:    "Proxy request duration in seconds, from admission to response completion.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"endpoint"}),
		DownloadTasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "router_download_tasks_total",
			Help: "Total download tasks created, labeled by terminal status.",
		}, []string{"status"}),
		registry: reg,
	}

	reg.MustRegister(
		m.RequestsTotal, m.RequestDuration, m.RequestsInFlight,
		m.NodesOnline, m.NodesTotal, m.AgentCombinedActive, m.WarmupWaiters,
		m.ProxyUpstreamErrorsTotal, m.ProxyRequestsTotal, m.ProxyRequestDuration,
		m.DownloadTasksTotal,
	)
	return m
}

// Handler returns the /metrics HTTP handler for this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
