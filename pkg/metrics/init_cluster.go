package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initClusterMetrics() {
	r.LivePeers = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cluster_live_peers",
			Help:      "Peers found live by the last discovery tick, excluding self",
		},
	)

	r.HeartbeatsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cluster_heartbeats_total",
			Help:      "Own heartbeat writes by result",
		},
		[]string{"result"},
	)

	r.EnvelopesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cluster_envelopes_total",
			Help:      "Fabric envelopes by direction and kind",
		},
		[]string{"direction", "kind"}, // sent|received|dropped, broadcast|direct|response
	)

	r.EnvelopeBytes = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cluster_envelope_bytes",
			Help:      "Encoded envelope size on the wire",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 8),
		},
		[]string{"compressed"},
	)

	r.DirectCallsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cluster_direct_calls_total",
			Help:      "Direct peer calls by message type and result",
		},
		[]string{"type", "result"}, // ok, error, timeout
	)

	r.DirectCallDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cluster_direct_call_duration_seconds",
			Help:      "Round trip time of direct peer calls",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10},
		},
	)

	r.PendingCalls = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cluster_pending_calls",
			Help:      "Direct calls awaiting a response",
		},
	)
}

func (r *Registry) initOwnershipMetrics() {
	r.ClaimsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ownership_claims_total",
			Help:      "Ownership claim attempts by namespace and result",
		},
		[]string{"namespace", "result"}, // won, lost, error
	)

	r.ReleasesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ownership_releases_total",
			Help:      "Claims released by this peer",
		},
		[]string{"namespace"},
	)

	r.TakeoversTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ownership_takeovers_total",
			Help:      "Claims moved away from a peer that is no longer live",
		},
		[]string{"namespace"},
	)
}
