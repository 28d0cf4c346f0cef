package health

import (
	"sync"
	"time"
)

// Status represents the health status of a component
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Scope selects the responses a check contributes to
type Scope uint8

const (
	ScopeHealth Scope = 1 << iota // /health
	ScopeReady                    // /ready: the peer accepts clients
	ScopeLive                     // /live: the process is not wedged
)

// Check is the outcome of one component check
type Check struct {
	Name        string         `json:"name"`
	Status      Status         `json:"status"`
	Message     string         `json:"message,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	LastChecked time.Time      `json:"last_checked"`
	Duration    time.Duration  `json:"duration_ns"`
}

// CheckFunc is a function that performs a health check
type CheckFunc func() Check

type registration struct {
	scope Scope
	check CheckFunc
}

// HealthChecker runs the registered checks of one peer. Checks of a
// response run concurrently, so one slow store ping does not delay the rest.
type HealthChecker struct {
	peerID  string
	started time.Time

	mu     sync.RWMutex
	checks map[string]registration
}

// Response is the body of /health, /ready and /live
type Response struct {
	PeerID    string           `json:"peer_id,omitempty"`
	Status    Status           `json:"status"`
	Timestamp time.Time        `json:"timestamp"`
	Checks    map[string]Check `json:"checks"`
	Uptime    float64          `json:"uptime_seconds"`
}
