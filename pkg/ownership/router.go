// Package ownership maps resource keys to the peer that is authoritative
// for them.
package ownership

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dd0wney/cluso-collab/pkg/fabric"
	"github.com/dd0wney/cluso-collab/pkg/logging"
	"github.com/dd0wney/cluso-collab/pkg/metrics"
	"github.com/dd0wney/cluso-collab/pkg/validation"
)

// Config configures a Router
type Config struct {
	PeerID      string
	Store       ClaimStore
	Broadcaster Broadcaster // optional
	Logger      logging.Logger
	Metrics     *metrics.Registry
}

type cacheKey struct {
	ns  Namespace
	key string
}

// Router resolves and claims ownership. A local cache answers lookups for
// keys already seen; misses fall through to the claim store.
type Router struct {
	peerID      string
	store       ClaimStore
	broadcaster Broadcaster
	logger      logging.Logger
	metrics     *metrics.Registry

	mu    sync.RWMutex
	cache map[cacheKey]string
}

// NewRouter creates a router for the local peer
func NewRouter(cfg Config) (*Router, error) {
	if cfg.PeerID == "" {
		return nil, ErrInvalidPeerID
	}
	if cfg.Store == nil {
		return nil, ErrNoClaimStore
	}
	return &Router{
		peerID:      cfg.PeerID,
		store:       cfg.Store,
		broadcaster: cfg.Broadcaster,
		logger:      logging.OrNop(cfg.Logger).With(logging.Component("ownership")),
		metrics:     cfg.Metrics,
		cache:       make(map[cacheKey]string),
	}, nil
}

// Attach subscribes the router to claim and release announcements
func (r *Router) Attach(f *fabric.Fabric) {
	fabric.HandleBroadcastFunc(f, MsgClaimed, func(_ context.Context, sender string, a *Announcement) {
		if !a.Namespace.Valid() || a.Key == "" || a.PeerID == "" {
			return
		}
		r.remember(a.Namespace, a.Key, a.PeerID)
		r.logger.Debug("claim announced", logging.Namespace(string(a.Namespace)),
			logging.ResourceKey(a.Key), logging.PeerID(a.PeerID))
	})
	fabric.HandleBroadcastFunc(f, MsgReleased, func(_ context.Context, sender string, a *Announcement) {
		if !a.Namespace.Valid() {
			return
		}
		r.mu.Lock()
		if r.cache[cacheKey{a.Namespace, a.Key}] == a.PeerID {
			delete(r.cache, cacheKey{a.Namespace, a.Key})
		}
		r.mu.Unlock()
	})
}

// PeerID returns the local peer id
func (r *Router) PeerID() string { return r.peerID }

// PeerIDFor returns the owner of key. The cache is consulted first, then the
// claim store; ok is false when the key is unclaimed.
func (r *Router) PeerIDFor(ctx context.Context, ns Namespace, key string) (string, bool, error) {
	if err := checkKey(ns, key); err != nil {
		return "", false, err
	}

	r.mu.RLock()
	owner, ok := r.cache[cacheKey{ns, key}]
	r.mu.RUnlock()
	if ok {
		return owner, true, nil
	}

	claim, ok, err := r.store.GetClaim(ctx, ns, key)
	if err != nil {
		return "", false, fmt.Errorf("lookup %s/%s: %w", ns, key, err)
	}
	if !ok {
		return "", false, nil
	}
	r.remember(ns, key, claim.PeerID)
	return claim.PeerID, true, nil
}

// DefineOwnership claims key for the local peer. When another peer won the
// race its id is returned instead and cached.
func (r *Router) DefineOwnership(ctx context.Context, ns Namespace, key string) (string, error) {
	if err := checkKey(ns, key); err != nil {
		return "", err
	}

	owner, err := r.store.ClaimIfAbsent(ctx, ns, key, r.peerID)
	if err != nil {
		r.metrics.RecordClaim(string(ns), "error")
		return "", fmt.Errorf("claim %s/%s: %w", ns, key, err)
	}
	r.remember(ns, key, owner)

	if owner != r.peerID {
		r.metrics.RecordClaim(string(ns), "lost")
		r.logger.Info("claim lost to peer", logging.Namespace(string(ns)),
			logging.ResourceKey(key), logging.PeerID(owner))
		return owner, nil
	}

	r.metrics.RecordClaim(string(ns), "won")
	r.announce(ctx, MsgClaimed, ns, key)
	return owner, nil
}

// ReplaceOwner takes key over from a dead owner. The swap only happens if
// stale still owns it; the resulting owner is returned either way.
func (r *Router) ReplaceOwner(ctx context.Context, ns Namespace, key, stale string) (string, error) {
	if err := checkKey(ns, key); err != nil {
		return "", err
	}

	owner, err := r.store.Replace(ctx, ns, key, stale, r.peerID)
	if err != nil {
		return "", fmt.Errorf("replace %s/%s: %w", ns, key, err)
	}
	r.remember(ns, key, owner)

	if owner == r.peerID {
		r.metrics.RecordTakeover(string(ns))
		r.logger.Warn("took over claim from dead peer", logging.Namespace(string(ns)),
			logging.ResourceKey(key), logging.String("stale_peer", stale))
		r.announce(ctx, MsgClaimed, ns, key)
	}
	return owner, nil
}

// Release drops the local peer's claim on key. Releasing a key owned by
// another peer leaves that claim untouched.
func (r *Router) Release(ctx context.Context, ns Namespace, key string) error {
	if err := checkKey(ns, key); err != nil {
		return err
	}

	released, err := r.store.Release(ctx, ns, key, r.peerID)
	if err != nil {
		return fmt.Errorf("release %s/%s: %w", ns, key, err)
	}

	r.mu.Lock()
	if r.cache[cacheKey{ns, key}] == r.peerID {
		delete(r.cache, cacheKey{ns, key})
	}
	r.mu.Unlock()

	if released {
		r.metrics.RecordRelease(string(ns))
		r.announce(ctx, MsgReleased, ns, key)
	}
	return nil
}

// IsOwner reports whether the local peer holds key according to the cache
func (r *Router) IsOwner(ns Namespace, key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cache[cacheKey{ns, key}] == r.peerID
}

// Owns confirms ownership against the claim store and refreshes the cache
func (r *Router) Owns(ctx context.Context, ns Namespace, key string) (bool, error) {
	if err := checkKey(ns, key); err != nil {
		return false, err
	}
	claim, ok, err := r.store.GetClaim(ctx, ns, key)
	if err != nil {
		return false, fmt.Errorf("lookup %s/%s: %w", ns, key, err)
	}
	if !ok {
		r.forgetKey(ns, key)
		return false, nil
	}
	r.remember(ns, key, claim.PeerID)
	return claim.PeerID == r.peerID, nil
}

// Forget drops cached entries naming peerID, typically after it left
func (r *Router) Forget(peerID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for k, owner := range r.cache {
		if owner == peerID {
			delete(r.cache, k)
			n++
		}
	}
	return n
}

// Owned returns the keys in ns the local peer holds, sorted
func (r *Router) Owned(ns Namespace) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var keys []string
	for k, owner := range r.cache {
		if k.ns == ns && owner == r.peerID {
			keys = append(keys, k.key)
		}
	}
	sort.Strings(keys)
	return keys
}

// Claims lists persisted claims in ns
func (r *Router) Claims(ctx context.Context, ns Namespace) ([]Claim, error) {
	if !ns.Valid() {
		return nil, ErrUnknownNamespace
	}
	return r.store.ListClaims(ctx, ns)
}

func (r *Router) remember(ns Namespace, key, owner string) {
	r.mu.Lock()
	r.cache[cacheKey{ns, key}] = owner
	r.mu.Unlock()
}

func (r *Router) forgetKey(ns Namespace, key string) {
	r.mu.Lock()
	delete(r.cache, cacheKey{ns, key})
	r.mu.Unlock()
}

func (r *Router) announce(ctx context.Context, msgType string, ns Namespace, key string) {
	if r.broadcaster == nil {
		return
	}
	a := Announcement{Namespace: ns, Key: key, PeerID: r.peerID}
	if err := r.broadcaster.Broadcast(ctx, msgType, a); err != nil {
		r.logger.Warn("ownership announcement failed", logging.MessageType(msgType),
			logging.ResourceKey(key), logging.Error(err))
	}
}

func checkKey(ns Namespace, key string) error {
	if !ns.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownNamespace, ns)
	}
	if key == "" {
		return ErrEmptyKey
	}
	if err := validation.ValidateResourceKey(key); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return nil
}
