package ownership

import (
	"context"
	"time"
)

// Namespace separates independent ownership maps
type Namespace string

const (
	// NamespaceInstance holds arbitrary caller-chosen keys
	NamespaceInstance Namespace = "instance"
	// NamespaceGraph holds graph keys owned by a session manager
	NamespaceGraph Namespace = "graph"
)

// Valid reports whether ns is a known namespace
func (ns Namespace) Valid() bool {
	return ns == NamespaceInstance || ns == NamespaceGraph
}

// Claim is a persisted resource key to peer association
type Claim struct {
	Namespace Namespace `json:"namespace"`
	Key       string    `json:"key"`
	PeerID    string    `json:"peerId"`
	ClaimedAt time.Time `json:"claimedAt"`
}

// ClaimStore is the shared table of ownership claims. Writes are
// compare-and-swap so concurrent claimers agree on one winner.
type ClaimStore interface {
	// GetClaim returns the current owner, ok=false when unclaimed
	GetClaim(ctx context.Context, ns Namespace, key string) (Claim, bool, error)
	// ClaimIfAbsent inserts a claim for peerID unless one exists and
	// returns whichever peer owns the key afterwards.
	ClaimIfAbsent(ctx context.Context, ns Namespace, key, peerID string) (string, error)
	// Replace moves the claim from expected to peerID only if expected is
	// still the owner, returning the owner afterwards.
	Replace(ctx context.Context, ns Namespace, key, expected, peerID string) (string, error)
	// Release deletes the claim only if peerID owns it
	Release(ctx context.Context, ns Namespace, key, peerID string) (bool, error)
	// ListClaims returns every claim in a namespace
	ListClaims(ctx context.Context, ns Namespace) ([]Claim, error)
}

// Broadcaster publishes ownership announcements to the cluster
type Broadcaster interface {
	Broadcast(ctx context.Context, msgType string, payload any) error
}

// Fabric message types
const (
	MsgClaimed  = "ownership.claimed"
	MsgReleased = "ownership.released"
)

// Announcement is the payload of MsgClaimed and MsgReleased
type Announcement struct {
	Namespace Namespace `json:"namespace"`
	Key       string    `json:"key"`
	PeerID    string    `json:"peerId"`
}
