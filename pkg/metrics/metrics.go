package metrics

import (
	"strconv"
	"time"
)

// RecordRoute records the outcome of a connection routing request
func (r *Registry) RecordRoute(result string) {
	if r == nil {
		return
	}
	r.RouteRequestsTotal.WithLabelValues(result).Inc()
}

// RecordHTTPRequest records a control plane request
func (r *Registry) RecordHTTPRequest(path string, status int, duration time.Duration) {
	if r == nil {
		return
	}
	r.HTTPRequestDuration.WithLabelValues(path, strconv.Itoa(status)).Observe(duration.Seconds())
}

// SetLivePeers sets the number of live peers seen by discovery
func (r *Registry) SetLivePeers(n int) {
	if r == nil {
		return
	}
	r.LivePeers.Set(float64(n))
}

// RecordHeartbeat records one heartbeat write
func (r *Registry) RecordHeartbeat(err error) {
	if r == nil {
		return
	}
	r.HeartbeatsTotal.WithLabelValues(resultLabel(err)).Inc()
}

// RecordEnvelope records an envelope crossing the fabric
func (r *Registry) RecordEnvelope(direction, kind string, size int, compressed bool) {
	if r == nil {
		return
	}
	r.EnvelopesTotal.WithLabelValues(direction, kind).Inc()
	if size > 0 {
		r.EnvelopeBytes.WithLabelValues(strconv.FormatBool(compressed)).Observe(float64(size))
	}
}

// RecordDirectCall records a completed direct call
func (r *Registry) RecordDirectCall(msgType, result string, duration time.Duration) {
	if r == nil {
		return
	}
	r.DirectCallsTotal.WithLabelValues(msgType, result).Inc()
	r.DirectCallDuration.Observe(duration.Seconds())
}

// SetPendingCalls sets the size of the pending call table
func (r *Registry) SetPendingCalls(n int) {
	if r == nil {
		return
	}
	r.PendingCalls.Set(float64(n))
}

// RecordClaim records an ownership claim attempt
func (r *Registry) RecordClaim(ns, result string) {
	if r == nil {
		return
	}
	r.ClaimsTotal.WithLabelValues(ns, result).Inc()
}

// RecordRelease records a released claim
func (r *Registry) RecordRelease(ns string) {
	if r == nil {
		return
	}
	r.ReleasesTotal.WithLabelValues(ns).Inc()
}

// RecordTakeover records a claim moved off a dead peer
func (r *Registry) RecordTakeover(ns string) {
	if r == nil {
		return
	}
	r.TakeoversTotal.WithLabelValues(ns).Inc()
}

// SetSessionGauges sets resident graph and connected user counts
func (r *Registry) SetSessionGauges(graphs, users int) {
	if r == nil {
		return
	}
	r.ResidentGraphs.Set(float64(graphs))
	r.ConnectedUsers.Set(float64(users))
}

// RecordBatch records one instruction batch
func (r *Registry) RecordBatch(result string, nodes, edges int, duration time.Duration) {
	if r == nil {
		return
	}
	r.BatchesTotal.WithLabelValues(result).Inc()
	if nodes > 0 {
		r.InstructionsTotal.WithLabelValues("node").Add(float64(nodes))
	}
	if edges > 0 {
		r.InstructionsTotal.WithLabelValues("edge").Add(float64(edges))
	}
	if duration > 0 {
		r.BatchDuration.Observe(duration.Seconds())
	}
}

// RecordEviction records an evicted registration
func (r *Registry) RecordEviction(scope string, n int) {
	if r == nil || n == 0 {
		return
	}
	r.EvictionsTotal.WithLabelValues(scope).Add(float64(n))
}

// RecordSwept records users removed by a sweep
func (r *Registry) RecordSwept(n int) {
	if r == nil || n == 0 {
		return
	}
	r.SweptUsersTotal.Add(float64(n))
}

// WebsocketOpened and WebsocketClosed track open collaboration connections
func (r *Registry) WebsocketOpened() {
	if r == nil {
		return
	}
	r.WebsocketConnections.Inc()
}

func (r *Registry) WebsocketClosed() {
	if r == nil {
		return
	}
	r.WebsocketConnections.Dec()
}

// RecordFrame records a collaboration frame
func (r *Registry) RecordFrame(direction, msgType string) {
	if r == nil {
		return
	}
	r.WebsocketFramesTotal.WithLabelValues(direction, msgType).Inc()
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
