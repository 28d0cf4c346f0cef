// Package session is the collaboration engine: it keeps the authoritative
// in-memory copy of every graph this peer owns, applies instruction batches
// from connected users and fans accepted batches out to the other users of
// the same sheet.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dd0wney/cluso-collab/pkg/fabric"
	"github.com/dd0wney/cluso-collab/pkg/graph"
	"github.com/dd0wney/cluso-collab/pkg/logging"
	"github.com/dd0wney/cluso-collab/pkg/metrics"
	"github.com/dd0wney/cluso-collab/pkg/ownership"
)

// Manager owns the resident graph sessions of one peer.
//
// Concurrent Safety:
// 1. mu guards the graph table and the user indexes
// 2. each graphSession has its own mutex for its sheets
// 3. lock order is mu then graphSession.mu, never the reverse
type Manager struct {
	config  Config
	loader  graph.Loader
	owners  Ownership
	logger  logging.Logger
	metrics *metrics.Registry
	now     func() time.Time

	// cluster eviction, set by AttachCluster
	fabric *fabric.Fabric
	peers  PeerLister

	loads singleflight.Group

	mu     sync.RWMutex
	graphs map[string]*graphSession
	users  map[string]*user // by user id
	byConn map[string]*user // by connection id

	// graphs dropped by a sweep whose claim release is in flight; the
	// channel closes once the store has answered
	releasing map[string]chan struct{}

	runningMu sync.Mutex
	running   bool
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewManager creates a manager that loads graphs through loader and checks
// ownership through owners.
func NewManager(cfg Config, loader graph.Loader, owners Ownership) (*Manager, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if loader == nil {
		return nil, ErrNoLoader
	}
	if owners == nil {
		return nil, ErrNoOwnership
	}

	return &Manager{
		config:    cfg,
		loader:    loader,
		owners:    owners,
		logger:    logging.OrNop(cfg.Logger).With(logging.Component("session")),
		metrics:   cfg.Metrics,
		now:       time.Now,
		graphs:    make(map[string]*graphSession),
		users:     make(map[string]*user),
		releasing: make(map[string]chan struct{}),
		byConn:    make(map[string]*user),
	}, nil
}

// Config returns the effective configuration
func (m *Manager) Config() Config { return m.config }

// Start runs the periodic sweep
func (m *Manager) Start(ctx context.Context) error {
	m.runningMu.Lock()
	defer m.runningMu.Unlock()

	if m.running {
		return ErrAlreadyRunning
	}
	m.stopCh = make(chan struct{})
	m.running = true

	m.wg.Add(1)
	go m.sweepLoop(m.stopCh)

	m.logger.Info("session manager started",
		logging.Duration("sweep_interval", m.config.SweepInterval),
		logging.Int("max_batch", m.config.MaxBatch),
		logging.Bool("atomic_batches", m.config.AtomicBatches))
	return nil
}

// Stop halts the sweep, closes every connection and releases the claims on
// all resident graphs so other peers can serve them.
func (m *Manager) Stop(ctx context.Context) error {
	m.runningMu.Lock()
	if !m.running {
		m.runningMu.Unlock()
		return nil
	}
	close(m.stopCh)
	m.running = false
	m.runningMu.Unlock()
	m.wg.Wait()

	m.mu.Lock()
	graphs := m.graphs
	m.graphs = make(map[string]*graphSession)
	m.users = make(map[string]*user)
	m.byConn = make(map[string]*user)
	m.mu.Unlock()

	var errs []error
	for key, gs := range graphs {
		gs.mu.Lock()
		gs.closed = true
		for _, ss := range gs.sheets {
			for _, u := range ss.users {
				u.removed = true
				_ = u.conn.Close("server shutting down")
			}
			ss.users = nil
		}
		gs.mu.Unlock()

		if err := m.owners.Release(ctx, ownership.NamespaceGraph, key); err != nil {
			errs = append(errs, err)
		}
	}
	m.updateGauges()

	m.logger.Info("session manager stopped", logging.Count(len(graphs)))
	return errors.Join(errs...)
}

// AttachCluster enables cluster-wide eviction over f. peers supplies the
// set of live remote peers to fan out to.
func (m *Manager) AttachCluster(f *fabric.Fabric, peers PeerLister) {
	m.fabric = f
	m.peers = peers
	fabric.HandleDirectFunc(f, MsgEvictUser, func(_ context.Context, sender string, req *EvictRequest) (EvictResponse, error) {
		n := m.evictLocal(req.UserID, nil)
		if n > 0 {
			m.logger.Info("evicted user on peer request", logging.UserID(req.UserID), logging.String("sender", sender))
		}
		return EvictResponse{Evicted: n}, nil
	})
}

// graphFor returns the resident session for key, loading it once if needed.
// A graph whose claim is being released by a sweep is not reloaded until the
// release completes, and then only if this peer still owns it.
func (m *Manager) graphFor(ctx context.Context, key string) (*graphSession, error) {
	waited := false
	for {
		m.mu.RLock()
		gs, ok := m.graphs[key]
		pending := m.releasing[key]
		m.mu.RUnlock()
		if ok {
			return gs, nil
		}
		if pending != nil {
			select {
			case <-pending:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			waited = true
			continue
		}

		if waited {
			owns, err := m.owners.Owns(ctx, ownership.NamespaceGraph, key)
			if err != nil {
				return nil, err
			}
			if !owns {
				return nil, fmt.Errorf("%w: peer %s, graph %s released", ErrNotOwner, m.config.PeerID, key)
			}
			waited = false
		}

		v, err, _ := m.loads.Do(key, func() (any, error) { return m.load(ctx, key) })
		if errors.Is(err, errReleasing) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load graph %s: %w", key, err)
		}
		return v.(*graphSession), nil
	}
}

func (m *Manager) load(ctx context.Context, key string) (*graphSession, error) {
	m.mu.RLock()
	gs, ok := m.graphs[key]
	_, pending := m.releasing[key]
	m.mu.RUnlock()
	if ok {
		return gs, nil
	}
	if pending {
		return nil, errReleasing
	}

	timer := logging.StartTimer(m.logger, "graph loaded", logging.GraphKey(key))
	doc, err := m.loader.LoadGraph(ctx, key)
	if err != nil {
		timer.EndError(err)
		return nil, err
	}
	if doc.Key == "" {
		doc.Key = key
	}
	gs = newGraphSession(doc, m.now())
	timer.End()

	m.mu.Lock()
	m.graphs[key] = gs
	m.mu.Unlock()
	m.updateGauges()
	return gs, nil
}

// userFor returns the live registration of conn
func (m *Manager) userFor(conn Conn) (*user, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.byConn[conn.ID()]
	return u, ok
}

// Disconnect drops the registration held by conn, if any. The graph itself
// stays resident until the next sweep.
func (m *Manager) Disconnect(conn Conn) {
	m.mu.Lock()
	u, ok := m.byConn[conn.ID()]
	if ok {
		delete(m.byConn, conn.ID())
		if m.users[u.id] == u {
			delete(m.users, u.id)
		}
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	u.graph.mu.Lock()
	u.sheet.removeUser(u)
	u.removed = true
	u.graph.mu.Unlock()
	m.updateGauges()

	m.logger.Debug("user disconnected", logging.UserID(u.id), logging.GraphKey(u.graph.key), logging.ConnID(conn.ID()))
}

func (m *Manager) updateGauges() {
	if m.metrics == nil {
		return
	}
	m.mu.RLock()
	graphs, users := len(m.graphs), len(m.byConn)
	m.mu.RUnlock()
	m.metrics.SetSessionGauges(graphs, users)
}
