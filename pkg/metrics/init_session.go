package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initSessionMetrics() {
	r.ResidentGraphs = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_resident_graphs",
			Help:      "Graphs loaded in memory on this peer",
		},
	)

	r.ConnectedUsers = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_connected_users",
			Help:      "Registered users across all sheets",
		},
	)

	r.BatchesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_batches_total",
			Help:      "Instruction batches by result",
		},
		[]string{"result"}, // ok, rejected, too_large
	)

	r.InstructionsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_instructions_total",
			Help:      "Committed instructions by target kind",
		},
		[]string{"target"}, // node, edge
	)

	r.BatchDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_batch_duration_seconds",
			Help:      "Time spent in the validate/apply/commit pipeline",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1},
		},
	)

	r.EvictionsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_evictions_total",
			Help:      "Prior registrations evicted on re-registration",
		},
		[]string{"scope"}, // local, remote
	)

	r.SweptUsersTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_swept_users_total",
			Help:      "Users removed by the liveness sweep",
		},
	)
}

func (r *Registry) initWebsocketMetrics() {
	r.WebsocketConnections = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_connections",
			Help:      "Open collaboration connections",
		},
	)

	r.WebsocketFramesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "websocket_frames_total",
			Help:      "Collaboration frames by direction and message type",
		},
		[]string{"direction", "type"},
	)
}
