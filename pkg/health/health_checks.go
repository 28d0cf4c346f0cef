package health

import (
	"context"
	"time"
)

// SimpleCheck always reports healthy; used for liveness
func SimpleCheck(name string) CheckFunc {
	return func() Check {
		return Check{Name: name, Status: StatusHealthy}
	}
}

// StoreCheck pings the shared store within timeout
func StoreCheck(ping func(context.Context) error, timeout time.Duration) CheckFunc {
	return func() Check {
		check := Check{Name: "store"}

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := ping(ctx); err != nil {
			check.Status = StatusUnhealthy
			check.Message = err.Error()
		} else {
			check.Status = StatusHealthy
			check.Message = "Connected"
		}
		return check
	}
}

// FabricCheck reports whether the cluster sockets are up
func FabricCheck(running func() bool) CheckFunc {
	return func() Check {
		if running() {
			return Check{Name: "fabric", Status: StatusHealthy, Message: "Running"}
		}
		return Check{Name: "fabric", Status: StatusUnhealthy, Message: "Not running"}
	}
}

// HeartbeatCheck reports on the age of the last successful heartbeat. A
// peer whose heartbeat is older than maxAge will soon be considered dead by
// the rest of the cluster.
func HeartbeatCheck(last func() time.Time, maxAge time.Duration) CheckFunc {
	return func() Check {
		check := Check{Name: "heartbeat", Details: make(map[string]any)}

		at := last()
		if at.IsZero() {
			check.Status = StatusUnhealthy
			check.Message = "No heartbeat written"
			return check
		}

		age := time.Since(at)
		check.Details["last_heartbeat"] = at
		check.Details["age_seconds"] = age.Seconds()

		switch {
		case age > maxAge:
			check.Status = StatusUnhealthy
			check.Message = "Heartbeat stale"
		case age > maxAge/2:
			check.Status = StatusDegraded
			check.Message = "Heartbeat late"
		default:
			check.Status = StatusHealthy
			check.Message = "Heartbeat fresh"
		}
		return check
	}
}

// ClusterCheck reports the number of connected remote peers. A single
// peer is a valid deployment, so zero peers is healthy.
func ClusterCheck(peers func() int) CheckFunc {
	return func() Check {
		n := peers()
		check := Check{
			Name:    "cluster",
			Status:  StatusHealthy,
			Details: map[string]any{"remote_peers": n},
		}
		if n == 0 {
			check.Message = "Standalone"
		} else {
			check.Message = "Cluster connected"
		}
		return check
	}
}

// SessionsCheck reports resident graphs and connected users
func SessionsCheck(stats func() (graphs, users int)) CheckFunc {
	return func() Check {
		graphs, users := stats()
		return Check{
			Name:    "sessions",
			Status:  StatusHealthy,
			Details: map[string]any{"graphs": graphs, "users": users},
		}
	}
}
