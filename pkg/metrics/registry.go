// Package metrics holds the Prometheus collectors for a collaboration peer.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "collab"

// Registry holds all metrics for a peer process.
//
// Every Record/Set method is safe to call on a nil *Registry, so components
// accept an optional registry without guarding each call site.
type Registry struct {
	// HTTP
	RouteRequestsTotal  *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Cluster
	LivePeers          prometheus.Gauge
	HeartbeatsTotal    *prometheus.CounterVec
	EnvelopesTotal     *prometheus.CounterVec
	EnvelopeBytes      *prometheus.HistogramVec
	DirectCallsTotal   *prometheus.CounterVec
	DirectCallDuration prometheus.Histogram
	PendingCalls       prometheus.Gauge

	// Ownership
	ClaimsTotal    *prometheus.CounterVec
	ReleasesTotal  *prometheus.CounterVec
	TakeoversTotal *prometheus.CounterVec

	// Sessions
	ResidentGraphs    prometheus.Gauge
	ConnectedUsers    prometheus.Gauge
	BatchesTotal      *prometheus.CounterVec
	InstructionsTotal *prometheus.CounterVec
	BatchDuration     prometheus.Histogram
	EvictionsTotal    *prometheus.CounterVec
	SweptUsersTotal   prometheus.Counter

	// Websocket
	WebsocketConnections prometheus.Gauge
	WebsocketFramesTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

var (
	defaultRegistry *Registry
	once            sync.Once
)

// DefaultRegistry returns the process-wide registry
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates a registry with every collector initialized. Tests
// create their own so counts never leak between cases.
func NewRegistry() *Registry {
	r := &Registry{registry: prometheus.NewRegistry()}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r.initHTTPMetrics()
	r.initClusterMetrics()
	r.initOwnershipMetrics()
	r.initSessionMetrics()
	r.initWebsocketMetrics()

	return r
}

// PrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) PrometheusRegistry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
