// Package admin exposes a read-only view of one peer: its cluster
// membership, ownership claims and resident sessions. The view is served as
// a GraphQL schema and as a plain JSON snapshot.
package admin

import (
	"context"
	"errors"
	"time"

	"github.com/dd0wney/cluso-collab/pkg/cluster"
	"github.com/dd0wney/cluso-collab/pkg/graph"
	"github.com/dd0wney/cluso-collab/pkg/ownership"
	"github.com/dd0wney/cluso-collab/pkg/session"
)

// Membership is the peer registry surface read by the admin view
type Membership interface {
	Self() cluster.PeerRecord
	Peers() []cluster.PeerRecord
	LastHeartbeat() time.Time
}

// Claims is the ownership surface read by the admin view
type Claims interface {
	Claims(ctx context.Context, ns ownership.Namespace) ([]ownership.Claim, error)
	Owned(ns ownership.Namespace) []string
}

// Sessions is the session manager surface read by the admin view
type Sessions interface {
	Snapshot() []session.GraphInfo
	Stats() (graphs, users int)
	Node(graphKey, sheetID, nodeID string) (graph.Node, bool)
}

var (
	_ Membership = (*cluster.Registry)(nil)
	_ Claims     = (*ownership.Router)(nil)
	_ Sessions   = (*session.Manager)(nil)
)

var ErrIncomplete = errors.New("admin view requires membership, claims and sessions")

// Sources wires the admin view to the running components
type Sources struct {
	Membership Membership
	Claims     Claims
	Sessions   Sessions
}

func (s Sources) validate() error {
	if s.Membership == nil || s.Claims == nil || s.Sessions == nil {
		return ErrIncomplete
	}
	return nil
}

// State is the JSON snapshot served at /admin/state
type State struct {
	Self          cluster.PeerRecord   `json:"self"`
	LastHeartbeat time.Time            `json:"lastHeartbeat"`
	Peers         []cluster.PeerRecord `json:"peers"`
	Claims        []ownership.Claim    `json:"claims"`
	Owned         []string             `json:"owned"`
	Graphs        []session.GraphInfo  `json:"graphs"`
	Users         int                  `json:"users"`
	GeneratedAt   time.Time            `json:"generatedAt"`
}

// Collect builds a State. Claims listing failures leave Claims empty and
// are returned alongside the partial state.
func (s Sources) Collect(ctx context.Context) (State, error) {
	_, users := s.Sessions.Stats()
	st := State{
		Self:          s.Membership.Self(),
		LastHeartbeat: s.Membership.LastHeartbeat(),
		Peers:         s.Membership.Peers(),
		Owned:         s.Claims.Owned(ownership.NamespaceGraph),
		Graphs:        s.Sessions.Snapshot(),
		Users:         users,
		GeneratedAt:   time.Now(),
	}
	claims, err := s.Claims.Claims(ctx, ownership.NamespaceGraph)
	st.Claims = claims
	return st, err
}
