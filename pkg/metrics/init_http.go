package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initHTTPMetrics() {
	r.RouteRequestsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "route_requests_total",
			Help:      "Connection routing requests by outcome",
		},
		[]string{"result"}, // self, peer, takeover, bad_request, unavailable
	)

	r.HTTPRequestDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Control plane HTTP request latency",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1},
		},
		[]string{"path", "status"},
	)
}
