package cluster

import (
	"context"
	"fmt"
	"time"

	"github.com/dd0wney/cluso-collab/pkg/logging"
)

// heartbeatLoop rewrites this peer's record every HeartbeatInterval
func (r *Registry) heartbeatLoop(stopCh <-chan struct{}) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if err := r.heartbeatOnce(context.Background()); err != nil {
				r.logger.Warn("heartbeat failed", logging.Error(err))
			}
		}
	}
}

// discoveryLoop rescans the heartbeat table every DiscoveryInterval
func (r *Registry) discoveryLoop(stopCh <-chan struct{}) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.DiscoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if err := r.DiscoverNow(context.Background()); err != nil {
				r.logger.Warn("discovery failed", logging.Error(err))
			}
		}
	}
}

func (r *Registry) heartbeatOnce(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.config.StoreTimeout)
	defer cancel()

	now := r.now()
	err := r.store.UpsertPeer(ctx, r.selfRecord(now))
	r.metrics.RecordHeartbeat(err)
	if err != nil {
		return fmt.Errorf("upsert heartbeat: %w", err)
	}

	r.mu.Lock()
	r.lastHeartbeat = now
	r.mu.Unlock()
	return nil
}

// DiscoverNow runs one discovery pass: peers newly present in the table are
// connected, peers missing from it are disconnected. A peer whose connect
// fails stays unknown and is retried on the next pass.
func (r *Registry) DiscoverNow(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.config.StoreTimeout)
	defer cancel()

	cutoff := r.now().Add(-r.config.StaleAfter)
	records, err := r.store.LivePeers(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("query live peers: %w", err)
	}

	seen := make(map[string]PeerRecord, len(records))
	for _, rec := range records {
		if rec.ID == r.config.PeerID || !rec.IsLive(cutoff) {
			continue
		}
		seen[rec.ID] = rec
	}

	var events []PeerEvent

	r.mu.Lock()
	for id, rec := range r.peers {
		if _, ok := seen[id]; ok {
			continue
		}
		r.disconnect(id)
		delete(r.peers, id)
		events = append(events, PeerEvent{Kind: PeerLeft, Peer: rec})
		r.logger.Info("peer departed", logging.String("remote_peer", id))
	}

	for id, rec := range seen {
		prev, known := r.peers[id]
		if known && prev.Host == rec.Host && prev.Port == rec.Port {
			r.peers[id] = rec
			continue
		}
		if err := r.connect(rec); err != nil {
			r.logger.Warn("failed to connect peer",
				logging.String("remote_peer", id), logging.Error(err))
			if known {
				delete(r.peers, id)
				events = append(events, PeerEvent{Kind: PeerLeft, Peer: prev})
			}
			continue
		}
		r.peers[id] = rec
		if !known {
			events = append(events, PeerEvent{Kind: PeerJoined, Peer: rec})
			r.logger.Info("peer joined",
				logging.String("remote_peer", id),
				logging.Addr(fmt.Sprintf("%s:%d", rec.Host, rec.Port)))
		}
	}
	live := len(r.peers)
	r.mu.Unlock()

	r.metrics.SetLivePeers(live)
	for _, ev := range events {
		r.emit(ev)
	}
	return nil
}

// connect and disconnect are called with mu held
func (r *Registry) connect(rec PeerRecord) error {
	if r.connector == nil {
		return nil
	}
	return r.connector.ConnectPeer(rec)
}

func (r *Registry) disconnect(id string) {
	if r.connector == nil {
		return
	}
	if err := r.connector.DisconnectPeer(id); err != nil {
		r.logger.Debug("disconnect peer", logging.String("remote_peer", id), logging.Error(err))
	}
}

// LivePeer looks id up in the heartbeat table. A peer is live when its record
// is online and newer than StaleAfter, whether or not a link to it is up.
func (r *Registry) LivePeer(ctx context.Context, id string) (PeerRecord, bool, error) {
	if id == r.config.PeerID {
		return r.Self(), true, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.config.StoreTimeout)
	defer cancel()

	cutoff := r.now().Add(-r.config.StaleAfter)
	records, err := r.store.LivePeers(ctx, cutoff)
	if err != nil {
		return PeerRecord{}, false, fmt.Errorf("query live peers: %w", err)
	}
	for _, rec := range records {
		if rec.ID == id && rec.IsLive(cutoff) {
			return rec, true, nil
		}
	}
	return PeerRecord{}, false, nil
}
