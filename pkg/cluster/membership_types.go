package cluster

import (
	"context"
	"time"
)

// PeerStatus is the liveness flag stored in the heartbeat table
type PeerStatus string

const (
	StatusOnline  PeerStatus = "online"
	StatusOffline PeerStatus = "offline"
)

// PeerRecord is one row of the shared heartbeat table
type PeerRecord struct {
	ID            string     `json:"id"`
	Host          string     `json:"host"`
	Port          int        `json:"port"`
	LastHeartbeat time.Time  `json:"lastHeartbeat"`
	Status        PeerStatus `json:"status"`
}

// IsLive reports whether the record is online and newer than cutoff
func (p PeerRecord) IsLive(cutoff time.Time) bool {
	return p.Status == StatusOnline && p.LastHeartbeat.After(cutoff)
}

// HeartbeatStore is the shared table every peer writes its record to and
// reads the others from.
type HeartbeatStore interface {
	// UpsertPeer inserts or replaces the record keyed by its ID
	UpsertPeer(ctx context.Context, rec PeerRecord) error
	// LivePeers returns online records with LastHeartbeat after cutoff
	LivePeers(ctx context.Context, cutoff time.Time) ([]PeerRecord, error)
	// MarkOffline flips a record's status without touching its heartbeat
	MarkOffline(ctx context.Context, id string) error
}

// Connector opens and closes the messaging link to a peer
type Connector interface {
	ConnectPeer(rec PeerRecord) error
	DisconnectPeer(id string) error
}

// EventKind says whether a peer appeared or disappeared
type EventKind int

const (
	PeerJoined EventKind = iota
	PeerLeft
)

func (k EventKind) String() string {
	if k == PeerJoined {
		return "joined"
	}
	return "left"
}

// PeerEvent is delivered to registry listeners after a discovery tick
type PeerEvent struct {
	Kind EventKind
	Peer PeerRecord
}
