package session

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/dd0wney/cluso-collab/pkg/fabric"
	"github.com/dd0wney/cluso-collab/pkg/logging"
	"github.com/dd0wney/cluso-collab/pkg/protocol"
)

// MsgEvictUser is the direct call asking a peer to drop a user's registration
const MsgEvictUser = "session.evictUser"

// EvictRequest is the payload of MsgEvictUser
type EvictRequest struct {
	UserID string `json:"userId"`
}

// EvictResponse reports how many registrations the peer dropped
type EvictResponse struct {
	Evicted int `json:"evicted"`
}

// evictEverywhere drops userID locally and on every live peer. keep is the
// connection that is registering and must stay open.
func (m *Manager) evictEverywhere(ctx context.Context, userID string, keep Conn) {
	if n := m.evictLocal(userID, keep); n > 0 {
		m.metrics.RecordEviction("local", n)
	}

	if m.fabric == nil || m.peers == nil {
		return
	}
	peers := m.peers.PeerIDs()
	if len(peers) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, m.config.EvictTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	results := make([]int, len(peers))
	for i, peerID := range peers {
		g.Go(func() error {
			resp, err := fabric.CallFunc[EvictResponse](gctx, m.fabric, peerID, MsgEvictUser, EvictRequest{UserID: userID})
			if err != nil {
				// an unreachable peer must not block registration
				m.logger.Warn("remote eviction failed", logging.UserID(userID),
					logging.String("remote_peer", peerID), logging.Error(err))
				return nil
			}
			results[i] = resp.Evicted
			return nil
		})
	}
	_ = g.Wait()

	total := 0
	for _, n := range results {
		total += n
	}
	if total > 0 {
		m.metrics.RecordEviction("remote", total)
		m.logger.Info("evicted user on remote peers", logging.UserID(userID), logging.Count(total))
	}
}

// evictLocal removes the registration of userID on this peer. Its
// connection is told and closed unless it is keep.
func (m *Manager) evictLocal(userID string, keep Conn) int {
	m.mu.Lock()
	u, ok := m.users[userID]
	if ok {
		delete(m.users, userID)
		if m.byConn[u.conn.ID()] == u {
			delete(m.byConn, u.conn.ID())
		}
	}
	m.mu.Unlock()
	if !ok {
		return 0
	}

	u.graph.mu.Lock()
	u.sheet.removeUser(u)
	u.removed = true
	u.graph.mu.Unlock()
	m.updateGauges()

	if keep == nil || u.conn.ID() != keep.ID() {
		_ = u.conn.Send(&protocol.Evicted{
			Header:  protocol.Header{Type: protocol.TypeEvicted},
			Message: "registered from another connection",
		})
		_ = u.conn.Close("evicted")
	}
	m.logger.Debug("evicted registration", logging.UserID(userID), logging.ConnID(u.conn.ID()))
	return 1
}
