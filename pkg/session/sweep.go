package session

import (
	"context"
	"time"

	"github.com/dd0wney/cluso-collab/pkg/logging"
	"github.com/dd0wney/cluso-collab/pkg/ownership"
)

func (m *Manager) sweepLoop(stopCh <-chan struct{}) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			m.Sweep(context.Background())
		}
	}
}

// SweepResult summarizes one sweep
type SweepResult struct {
	RemovedUsers   int
	ReleasedGraphs []string
}

// Sweep removes users whose connection is no longer open. Graphs left with
// no user on any sheet are dropped from memory and their claim released.
func (m *Manager) Sweep(ctx context.Context) SweepResult {
	var result SweepResult
	var released []string

	m.mu.Lock()
	for key, gs := range m.graphs {
		gs.mu.Lock()
		for _, ss := range gs.sheets {
			kept := ss.users[:0]
			for _, u := range ss.users {
				if u.conn.Open() {
					kept = append(kept, u)
					continue
				}
				u.removed = true
				if m.users[u.id] == u {
					delete(m.users, u.id)
				}
				if m.byConn[u.conn.ID()] == u {
					delete(m.byConn, u.conn.ID())
				}
				result.RemovedUsers++
			}
			for i := len(kept); i < len(ss.users); i++ {
				ss.users[i] = nil
			}
			ss.users = kept
		}
		if gs.userCount() == 0 {
			gs.closed = true
			delete(m.graphs, key)
			m.releasing[key] = make(chan struct{})
			released = append(released, key)
		}
		gs.mu.Unlock()
	}
	m.mu.Unlock()

	for _, key := range released {
		err := m.owners.Release(ctx, ownership.NamespaceGraph, key)
		m.mu.Lock()
		close(m.releasing[key])
		delete(m.releasing, key)
		m.mu.Unlock()
		if err != nil {
			m.logger.Warn("failed to release graph claim", logging.GraphKey(key), logging.Error(err))
			continue
		}
		result.ReleasedGraphs = append(result.ReleasedGraphs, key)
		m.logger.Info("graph session closed", logging.GraphKey(key))
	}

	if result.RemovedUsers > 0 {
		m.metrics.RecordSwept(result.RemovedUsers)
	}
	if result.RemovedUsers > 0 || len(released) > 0 {
		m.updateGauges()
	}
	return result
}
