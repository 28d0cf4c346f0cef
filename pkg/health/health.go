// Package health aggregates component checks into /health, /ready and
// /live responses.
package health

import (
	"sync"
	"time"
)

// NewHealthChecker creates a checker whose responses name peerID
func NewHealthChecker(peerID string) *HealthChecker {
	return &HealthChecker{
		peerID:  peerID,
		started: time.Now(),
		checks:  make(map[string]registration),
	}
}

// Register adds a check to every response selected by scope. Registering
// a name again replaces the earlier check.
func (hc *HealthChecker) Register(name string, scope Scope, check CheckFunc) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks[name] = registration{scope: scope, check: check}
}

// RegisterCheck registers a check that only /health runs
func (hc *HealthChecker) RegisterCheck(name string, check CheckFunc) {
	hc.Register(name, ScopeHealth, check)
}

// RegisterReadinessCheck registers a check that only /ready runs
func (hc *HealthChecker) RegisterReadinessCheck(name string, check CheckFunc) {
	hc.Register(name, ScopeReady, check)
}

// RegisterLivenessCheck registers a check that only /live runs
func (hc *HealthChecker) RegisterLivenessCheck(name string, check CheckFunc) {
	hc.Register(name, ScopeLive, check)
}

// Check runs the /health checks
func (hc *HealthChecker) Check() Response { return hc.run(ScopeHealth) }

// CheckReadiness runs the /ready checks
func (hc *HealthChecker) CheckReadiness() Response { return hc.run(ScopeReady) }

// CheckLiveness runs the /live checks
func (hc *HealthChecker) CheckLiveness() Response { return hc.run(ScopeLive) }

// selected copies the matching checks so they run without the lock held
func (hc *HealthChecker) selected(scope Scope) map[string]CheckFunc {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	out := make(map[string]CheckFunc)
	for name, reg := range hc.checks {
		if reg.scope&scope != 0 {
			out[name] = reg.check
		}
	}
	return out
}

func (hc *HealthChecker) run(scope Scope) Response {
	checks := hc.selected(scope)
	now := time.Now()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]Check, len(checks))
	)
	for name, fn := range checks {
		wg.Add(1)
		go func(name string, fn CheckFunc) {
			defer wg.Done()
			start := time.Now()
			check := fn()
			check.Duration = time.Since(start)
			check.LastChecked = start
			if check.Name == "" {
				check.Name = name
			}
			mu.Lock()
			results[name] = check
			mu.Unlock()
		}(name, fn)
	}
	wg.Wait()

	return Response{
		PeerID:    hc.peerID,
		Status:    worst(results),
		Timestamp: now,
		Checks:    results,
		Uptime:    now.Sub(hc.started).Seconds(),
	}
}

// worst returns the most severe status; no checks is healthy
func worst(checks map[string]Check) Status {
	status := StatusHealthy
	for _, c := range checks {
		switch c.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			status = StatusDegraded
		}
	}
	return status
}
