// Package memory is an in-process backend for tests and single-node runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mohae/deepcopy"

	"github.com/dd0wney/cluso-collab/pkg/cluster"
	"github.com/dd0wney/cluso-collab/pkg/graph"
	"github.com/dd0wney/cluso-collab/pkg/ownership"
)

type claimKey struct {
	ns  ownership.Namespace
	key string
}

// Store keeps peers, claims and graphs in maps. Documents are deep copied on
// the way in and out so callers never share state with the store.
type Store struct {
	mu     sync.RWMutex
	peers  map[string]cluster.PeerRecord
	claims map[claimKey]ownership.Claim
	graphs map[string]*graph.Document
	now    func() time.Time
}

var (
	_ cluster.HeartbeatStore = (*Store)(nil)
	_ ownership.ClaimStore   = (*Store)(nil)
	_ graph.Store            = (*Store)(nil)
)

// New creates an empty store
func New() *Store {
	return &Store{
		peers:  make(map[string]cluster.PeerRecord),
		claims: make(map[claimKey]ownership.Claim),
		graphs: make(map[string]*graph.Document),
		now:    time.Now,
	}
}

// Ping always succeeds
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op
func (s *Store) Close() error { return nil }

// UpsertPeer inserts or replaces a heartbeat record
func (s *Store) UpsertPeer(_ context.Context, rec cluster.PeerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers[rec.ID] = rec
	return nil
}

// LivePeers returns online records newer than cutoff, sorted by id
func (s *Store) LivePeers(_ context.Context, cutoff time.Time) ([]cluster.PeerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]cluster.PeerRecord, 0, len(s.peers))
	for _, rec := range s.peers {
		if rec.IsLive(cutoff) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// MarkOffline flips a record to offline
func (s *Store) MarkOffline(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.peers[id]; ok {
		rec.Status = cluster.StatusOffline
		s.peers[id] = rec
	}
	return nil
}

// GetClaim returns the claim on key
func (s *Store) GetClaim(_ context.Context, ns ownership.Namespace, key string) (ownership.Claim, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.claims[claimKey{ns, key}]
	return c, ok, nil
}

// ClaimIfAbsent inserts a claim unless one exists and returns the owner
func (s *Store) ClaimIfAbsent(_ context.Context, ns ownership.Namespace, key, peerID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := claimKey{ns, key}
	if c, ok := s.claims[k]; ok {
		return c.PeerID, nil
	}
	s.claims[k] = ownership.Claim{Namespace: ns, Key: key, PeerID: peerID, ClaimedAt: s.now()}
	return peerID, nil
}

// Replace swaps the owner if expected still holds the claim. A missing
// claim is inserted for peerID.
func (s *Store) Replace(_ context.Context, ns ownership.Namespace, key, expected, peerID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := claimKey{ns, key}
	if c, ok := s.claims[k]; ok && c.PeerID != expected {
		return c.PeerID, nil
	}
	s.claims[k] = ownership.Claim{Namespace: ns, Key: key, PeerID: peerID, ClaimedAt: s.now()}
	return peerID, nil
}

// Release deletes the claim if peerID owns it
func (s *Store) Release(_ context.Context, ns ownership.Namespace, key, peerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := claimKey{ns, key}
	c, ok := s.claims[k]
	if !ok || c.PeerID != peerID {
		return false, nil
	}
	delete(s.claims, k)
	return true, nil
}

// ListClaims returns the claims in ns sorted by key
func (s *Store) ListClaims(_ context.Context, ns ownership.Namespace) ([]ownership.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ownership.Claim
	for k, c := range s.claims {
		if k.ns == ns {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// LoadGraph returns a copy of a stored graph
func (s *Store) LoadGraph(_ context.Context, key string) (*graph.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.graphs[key]
	if !ok {
		return nil, graph.ErrGraphNotFound
	}
	return deepcopy.Copy(doc).(*graph.Document), nil
}

// SaveGraph stores a copy of doc under doc.Key
func (s *Store) SaveGraph(_ context.Context, doc *graph.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.graphs[doc.Key] = deepcopy.Copy(doc).(*graph.Document)
	return nil
}
