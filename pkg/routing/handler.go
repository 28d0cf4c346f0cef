// Package routing tells clients which peer to open their collaboration
// connection to. The first peer asked about an unowned key claims it.
package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/dd0wney/cluso-collab/pkg/cluster"
	"github.com/dd0wney/cluso-collab/pkg/logging"
	"github.com/dd0wney/cluso-collab/pkg/metrics"
	"github.com/dd0wney/cluso-collab/pkg/ownership"
	"github.com/dd0wney/cluso-collab/pkg/protocol"
	"github.com/dd0wney/cluso-collab/pkg/validation"
)

// Owners is the ownership router surface used for routing
type Owners interface {
	PeerIDFor(ctx context.Context, ns ownership.Namespace, key string) (string, bool, error)
	DefineOwnership(ctx context.Context, ns ownership.Namespace, key string) (string, error)
	ReplaceOwner(ctx context.Context, ns ownership.Namespace, key, stale string) (string, error)
}

// Peers resolves owner ids to addresses. Peer answers from the peers this
// node holds links to; LivePeer consults the shared heartbeat table.
type Peers interface {
	Peer(id string) (cluster.PeerRecord, error)
	LivePeer(ctx context.Context, id string) (cluster.PeerRecord, bool, error)
}

var (
	_ Owners = (*ownership.Router)(nil)
	_ Peers  = (*cluster.Registry)(nil)
)

// Handler serves POST /route
type Handler struct {
	cfg     Config
	owners  Owners
	peers   Peers
	logger  logging.Logger
	metrics *metrics.Registry
}

// NewHandler creates the routing endpoint
func NewHandler(cfg Config, owners Owners, peers Peers) (*Handler, error) {
	if owners == nil {
		return nil, ErrNoOwners
	}
	if peers == nil {
		return nil, ErrNoPeers
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Handler{
		cfg:     cfg,
		owners:  owners,
		peers:   peers,
		logger:  logging.OrNop(cfg.Logger).With(logging.Component("routing")),
		metrics: cfg.Metrics,
	}, nil
}

// Resolve returns the collaboration address for key, claiming it for this
// peer when nobody owns it. A claim held by a peer whose heartbeat has gone
// stale is taken over with a compare-and-swap on the stale owner.
func (h *Handler) Resolve(ctx context.Context, ns ownership.Namespace, key string) (protocol.RouteResponse, error) {
	owner, ok, err := h.owners.PeerIDFor(ctx, ns, key)
	if err != nil {
		return protocol.RouteResponse{}, err
	}

	result := ""
	var rec cluster.PeerRecord
	live := false
	switch {
	case !ok:
		if owner, err = h.owners.DefineOwnership(ctx, ns, key); err != nil {
			return protocol.RouteResponse{}, err
		}
		result = "claimed"
	case owner != h.cfg.PeerID:
		if rec, live, err = h.lookup(ctx, owner); err != nil {
			return protocol.RouteResponse{}, err
		}
		if live {
			break
		}
		stale := owner
		if owner, err = h.owners.ReplaceOwner(ctx, ns, key, stale); err != nil {
			return protocol.RouteResponse{}, err
		}
		result = "takeover"
		h.logger.Info("took over claim from stale owner", logging.ResourceKey(key),
			logging.String("stale_owner", stale), logging.String("owner", owner))
	}

	if owner == h.cfg.PeerID {
		h.metrics.RecordRoute(validation.DefaultOr(result, "self"))
		return protocol.RouteResponse{Host: h.cfg.Host, Port: h.cfg.Port + h.cfg.SelfPortOffset}, nil
	}

	// a lost claim race or takeover can name an owner not looked up yet
	if !live || rec.ID != owner {
		if rec, live, err = h.lookup(ctx, owner); err != nil {
			return protocol.RouteResponse{}, err
		}
		if !live {
			return protocol.RouteResponse{}, fmt.Errorf("%w: owner %s has no fresh heartbeat", ErrNoPeerAvailable, owner)
		}
	}
	h.metrics.RecordRoute(validation.DefaultOr(result, "remote"))
	return protocol.RouteResponse{Host: rec.Host, Port: rec.Port + h.cfg.PeerPortOffset}, nil
}

// lookup finds id among linked peers first and falls back to the heartbeat
// table, so a failed link alone never makes a live owner look dead.
func (h *Handler) lookup(ctx context.Context, id string) (cluster.PeerRecord, bool, error) {
	if rec, err := h.peers.Peer(id); err == nil {
		return rec, true, nil
	}
	rec, live, err := h.peers.LivePeer(ctx, id)
	if err != nil {
		return cluster.PeerRecord{}, false, fmt.Errorf("%w: %v", ErrNoPeerAvailable, err)
	}
	return rec, live, nil
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req protocol.RouteRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		h.metrics.RecordRoute("bad_request")
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validation.Struct(&req); err != nil {
		h.metrics.RecordRoute("bad_request")
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	ns := ownership.NamespaceGraph
	if req.Namespace != "" {
		ns = ownership.Namespace(req.Namespace)
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.Timeout)
	defer cancel()

	resp, err := h.Resolve(ctx, ns, req.ResourceKey)
	if err != nil {
		status := http.StatusServiceUnavailable
		if errors.Is(err, ownership.ErrEmptyKey) || errors.Is(err, ownership.ErrUnknownNamespace) ||
			errors.Is(err, ownership.ErrInvalidKey) {
			status = http.StatusBadRequest
		}
		h.metrics.RecordRoute("unavailable")
		h.logger.Warn("routing failed", logging.ResourceKey(req.ResourceKey), logging.Error(err))
		respondError(w, status, http.StatusText(status))
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, protocol.ErrorResponse{Error: message})
}
