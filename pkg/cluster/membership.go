// Package cluster provides peer membership for the collaboration cluster.
//
// This package handles:
//   - Publishing this peer's heartbeat record to a shared store
//   - Discovering live peers from the same table
//   - Opening and closing fabric links as peers join and leave
package cluster

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dd0wney/cluso-collab/pkg/logging"
	"github.com/dd0wney/cluso-collab/pkg/metrics"
)

// Registry tracks this peer's heartbeat and the set of live remote peers.
//
// Concurrent Safety:
// 1. mu guards the peer table and listener list
// 2. runningMu serializes Start/Stop
// 3. Listeners are invoked outside mu so they may call back into the registry
type Registry struct {
	config    RegistryConfig
	store     HeartbeatStore
	connector Connector
	logger    logging.Logger
	metrics   *metrics.Registry
	now       func() time.Time

	mu            sync.RWMutex
	peers         map[string]PeerRecord // connected remote peers keyed by id
	lastHeartbeat time.Time
	listeners     []func(PeerEvent)

	runningMu sync.Mutex
	running   bool
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewRegistry creates a registry. connector may be nil when no links are needed.
func NewRegistry(cfg RegistryConfig, store HeartbeatStore, connector Connector) (*Registry, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, ErrNoHeartbeatStore
	}

	return &Registry{
		config:    cfg,
		store:     store,
		connector: connector,
		logger:    logging.OrNop(cfg.Logger).With(logging.Component("cluster"), logging.PeerID(cfg.PeerID)),
		metrics:   cfg.Metrics,
		now:       time.Now,
		peers:     make(map[string]PeerRecord),
	}, nil
}

// Config returns the effective configuration
func (r *Registry) Config() RegistryConfig {
	return r.config
}

// Start publishes the first heartbeat, runs one discovery pass and starts
// both tickers. Store failures on the first pass are logged, not returned.
func (r *Registry) Start(ctx context.Context) error {
	r.runningMu.Lock()
	defer r.runningMu.Unlock()

	if r.running {
		return ErrAlreadyRunning
	}

	if err := r.heartbeatOnce(ctx); err != nil {
		r.logger.Warn("initial heartbeat failed", logging.Error(err))
	}
	if err := r.DiscoverNow(ctx); err != nil {
		r.logger.Warn("initial discovery failed", logging.Error(err))
	}

	r.stopCh = make(chan struct{})
	r.running = true

	r.wg.Add(2)
	go r.heartbeatLoop(r.stopCh)
	go r.discoveryLoop(r.stopCh)

	r.logger.Info("peer registry started",
		logging.Addr(fmt.Sprintf("%s:%d", r.config.Host, r.config.Port)),
		logging.Duration("heartbeat_interval", r.config.HeartbeatInterval),
		logging.Duration("discovery_interval", r.config.DiscoveryInterval))
	return nil
}

// Stop halts both tickers, marks this peer offline and closes every link.
// Calling Stop on a stopped registry is a no-op.
func (r *Registry) Stop(ctx context.Context) error {
	r.runningMu.Lock()
	defer r.runningMu.Unlock()

	if !r.running {
		return nil
	}
	close(r.stopCh)
	r.running = false
	r.wg.Wait()

	storeCtx, cancel := context.WithTimeout(ctx, r.config.StoreTimeout)
	defer cancel()
	var err error
	if err = r.store.MarkOffline(storeCtx, r.config.PeerID); err != nil {
		r.logger.Warn("failed to mark peer offline", logging.Error(err))
		err = fmt.Errorf("mark offline: %w", err)
	}

	r.mu.Lock()
	departed := make([]PeerRecord, 0, len(r.peers))
	for id, rec := range r.peers {
		r.disconnect(id)
		departed = append(departed, rec)
	}
	r.peers = make(map[string]PeerRecord)
	r.mu.Unlock()

	r.metrics.SetLivePeers(0)
	for _, rec := range departed {
		r.emit(PeerEvent{Kind: PeerLeft, Peer: rec})
	}

	r.logger.Info("peer registry stopped")
	return err
}

// Running reports whether the tickers are active
func (r *Registry) Running() bool {
	r.runningMu.Lock()
	defer r.runningMu.Unlock()
	return r.running
}

// Self returns this peer's own record as last published
func (r *Registry) Self() PeerRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.selfRecord(r.lastHeartbeat)
}

func (r *Registry) selfRecord(at time.Time) PeerRecord {
	return PeerRecord{
		ID:            r.config.PeerID,
		Host:          r.config.Host,
		Port:          r.config.Port,
		LastHeartbeat: at,
		Status:        StatusOnline,
	}
}

// Peer returns a connected remote peer
func (r *Registry) Peer(id string) (PeerRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.peers[id]
	if !ok {
		return PeerRecord{}, ErrPeerNotFound
	}
	return rec, nil
}

// Peers returns connected remote peers sorted by id
func (r *Registry) Peers() []PeerRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]PeerRecord, 0, len(r.peers))
	for _, rec := range r.peers {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// PeerIDs returns the ids of connected remote peers, sorted
func (r *Registry) PeerIDs() []string {
	peers := r.Peers()
	ids := make([]string, len(peers))
	for i, p := range peers {
		ids[i] = p.ID
	}
	return ids
}

// OnChange registers a listener for join and leave events
func (r *Registry) OnChange(fn func(PeerEvent)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// LastHeartbeat returns the time of the last successful heartbeat write
func (r *Registry) LastHeartbeat() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastHeartbeat
}

// HeartbeatFresh reports whether the last successful heartbeat is recent
// enough that other peers still consider this one live.
func (r *Registry) HeartbeatFresh() bool {
	last := r.LastHeartbeat()
	return !last.IsZero() && r.now().Sub(last) < r.config.StaleAfter
}

func (r *Registry) emit(ev PeerEvent) {
	r.mu.RLock()
	listeners := append([]func(PeerEvent){}, r.listeners...)
	r.mu.RUnlock()

	for _, fn := range listeners {
		fn(ev)
	}
}
