package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/dd0wney/cluso-collab/pkg/logging"
	"github.com/dd0wney/cluso-collab/pkg/ownership"
	"github.com/dd0wney/cluso-collab/pkg/protocol"
	"github.com/dd0wney/cluso-collab/pkg/validation"
)

// Register adds conn as req.UserID on a sheet. Any earlier registration of
// the same user, on this peer or another, is evicted first. The reply is
// always returned; err is the reason carried by a negative reply.
func (m *Manager) Register(ctx context.Context, conn Conn, req *protocol.RegisterUser) (*protocol.RegisterReply, error) {
	reply := &protocol.RegisterReply{Header: protocol.Header{Type: protocol.TypeRegisterUser, ID: req.ID}}
	fail := func(err error) (*protocol.RegisterReply, error) {
		reply.Response = protocol.Fail(err)
		m.logger.Info("registration refused", logging.UserID(req.UserID),
			logging.GraphKey(req.GraphKey), logging.Error(err))
		return reply, err
	}

	if err := validation.Struct(req); err != nil {
		return fail(err)
	}

	// a connection holds at most one registration
	if prev, ok := m.userFor(conn); ok && prev.id != req.UserID {
		m.Disconnect(conn)
	}
	m.evictEverywhere(ctx, req.UserID, conn)

	if !m.owners.IsOwner(ownership.NamespaceGraph, req.GraphKey) {
		owns, err := m.owners.Owns(ctx, ownership.NamespaceGraph, req.GraphKey)
		if err != nil {
			return fail(err)
		}
		if !owns {
			return fail(fmt.Errorf("%w: peer %s, graph %s", ErrNotOwner, m.config.PeerID, req.GraphKey))
		}
	}

	u := &user{id: req.UserID, name: req.Name, conn: conn}
	var missing []HistoryEntry

	// a sweep may close the session between lookup and lock; retry once
	for attempt := 0; ; attempt++ {
		gs, err := m.graphFor(ctx, req.GraphKey)
		if err != nil {
			return fail(err)
		}

		gs.mu.Lock()
		if gs.closed {
			gs.mu.Unlock()
			if attempt > 0 {
				return fail(errors.New("graph session closed during registration"))
			}
			continue
		}
		now := m.now()
		ss := gs.sheet(req.SheetID)
		u.graph, u.sheet, u.joinedAt, u.lastPing = gs, ss, now, now
		ss.addUser(u)
		if req.FromTimestamp != nil {
			missing = ss.since(*req.FromTimestamp)
		}
		gs.mu.Unlock()
		break
	}

	m.mu.Lock()
	m.users[u.id] = u
	m.byConn[conn.ID()] = u
	m.mu.Unlock()
	m.updateGauges()

	reply.Response = protocol.OK()
	for _, h := range missing {
		reply.MissingMessages = append(reply.MissingMessages, protocol.ApplyInstructions{
			Header:         protocol.Header{Type: protocol.TypeApplyInstructions},
			Instructions:   h.Instructions,
			AlreadyApplied: true,
			Time:           h.Time.UnixMilli(),
		})
	}

	m.logger.Info("user registered", logging.UserID(u.id), logging.GraphKey(req.GraphKey),
		logging.SheetID(req.SheetID), logging.ConnID(conn.ID()), logging.Count(len(missing)))
	return reply, nil
}

// Ping refreshes the liveness of conn's registration and returns the pong
func (m *Manager) Ping(conn Conn, req *protocol.Ping) *protocol.Pong {
	if u, ok := m.userFor(conn); ok {
		u.graph.mu.Lock()
		u.lastPing = m.now()
		u.graph.mu.Unlock()
	}
	return &protocol.Pong{Header: protocol.Header{Type: protocol.TypePong, ID: req.ID}}
}
