// Package fabric is the control-plane messaging layer between peers.
//
// Every peer binds a PUB socket for broadcasts and a PULL socket for direct
// requests and responses. For every other peer it holds one link: a SUB
// socket dialed to that peer's PUB and a PUSH socket dialed to its PULL.
// Links live in a table keyed by peer id so that a departed peer's two
// sockets can be closed without touching anything else.
package fabric

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dd0wney/cluso-collab/pkg/logging"
	"github.com/dd0wney/cluso-collab/pkg/metrics"
	"github.com/dd0wney/cluso-collab/pkg/validation"
)

const recvBackoff = 50 * time.Millisecond

// Config configures a Fabric
type Config struct {
	PeerID string
	// Listen holds the local bind addresses
	Listen  Endpoints
	Factory SocketFactory

	CallTimeout time.Duration
	SendTimeout time.Duration
	// CompressThreshold is the encoded size above which envelopes are
	// snappy-compressed. Negative disables compression.
	CompressThreshold int

	Logger  logging.Logger
	Metrics *metrics.Registry
}

// DefaultConfig returns defaults for everything but identity and addresses
func DefaultConfig() Config {
	return Config{
		CallTimeout:       10 * time.Second,
		SendTimeout:       2 * time.Second,
		CompressThreshold: 4096,
	}
}

// ApplyDefaults fills zero values
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	c.CallTimeout = validation.DefaultOrDuration(c.CallTimeout, d.CallTimeout)
	c.SendTimeout = validation.DefaultOrDuration(c.SendTimeout, d.SendTimeout)
	if c.CompressThreshold == 0 {
		c.CompressThreshold = d.CompressThreshold
	}
	if c.Factory == nil {
		c.Factory = NewMangosSocketFactory()
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	return validation.NewConfigValidator("FabricConfig").
		Required("PeerID", c.PeerID).
		Required("Listen.Broadcast", c.Listen.Broadcast).
		Required("Listen.Direct", c.Listen.Direct).
		MinDuration("CallTimeout", c.CallTimeout, time.Millisecond).
		MinDuration("SendTimeout", c.SendTimeout, time.Millisecond).
		Validate()
}

// peerLink is the pair of sockets held for one remote peer
type peerLink struct {
	peerID    string
	endpoints Endpoints
	sub       SubscribeSocket
	push      DialSocket
}

func (l *peerLink) close(logger logging.Logger) {
	rc := newResourceCleanup(logger)
	rc.Add(l.push, "push:"+l.peerID)
	rc.Add(l.sub, "sub:"+l.peerID)
	rc.Cleanup()
}

// Fabric carries broadcasts and direct calls between peers.
//
// Thread-safety: all methods are safe for concurrent use. Broadcast handlers
// run on the receive goroutine of the sending peer's link, so broadcasts
// from one peer are handled in send order. Direct handlers each run on their
// own goroutine.
type Fabric struct {
	cfg      Config
	logger   logging.Logger
	metrics  *metrics.Registry
	codec    codec
	handlers *handlerTable
	pending  *pendingCalls

	mu      sync.RWMutex // guards running, pub, pull and serializes Start/Stop
	running bool
	pub     ListenSocket
	pull    ListenSocket
	runCtx  context.Context
	cancel  context.CancelFunc

	linksMu sync.RWMutex
	links   map[string]*peerLink

	wg sync.WaitGroup
}

// New creates a fabric. Sockets are bound by Start.
func New(cfg Config) (*Fabric, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	logger := logging.OrNop(cfg.Logger).With(logging.Component("fabric"), logging.PeerID(cfg.PeerID))
	return &Fabric{
		cfg:      cfg,
		logger:   logger,
		metrics:  cfg.Metrics,
		codec:    codec{threshold: cfg.CompressThreshold},
		handlers: newHandlerTable(),
		pending:  newPendingCalls(),
		links:    make(map[string]*peerLink),
	}, nil
}

// PeerID returns this peer's id
func (f *Fabric) PeerID() string { return f.cfg.PeerID }

// Endpoints returns the local bind addresses
func (f *Fabric) Endpoints() Endpoints { return f.cfg.Listen }

// Start binds the PUB and PULL sockets and starts receiving
func (f *Fabric) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return ErrAlreadyRunning
	}

	cleanup := newResourceCleanup(f.logger)
	defer cleanup.Cleanup()

	pub, err := f.cfg.Factory.NewPubSocket()
	if err != nil {
		return fmt.Errorf("failed to create broadcast socket: %w", err)
	}
	cleanup.Add(pub, "pub")
	if err := pub.Listen(f.cfg.Listen.Broadcast); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", f.cfg.Listen.Broadcast, err)
	}

	pull, err := f.cfg.Factory.NewPullSocket()
	if err != nil {
		return fmt.Errorf("failed to create direct socket: %w", err)
	}
	cleanup.Add(pull, "pull")
	if err := pull.Listen(f.cfg.Listen.Direct); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", f.cfg.Listen.Direct, err)
	}

	cleanup.Clear()
	f.pub, f.pull = pub, pull
	f.runCtx, f.cancel = context.WithCancel(context.Background())
	f.running = true

	f.wg.Add(1)
	go f.receiveLoop(f.runCtx, pull, "direct")

	f.logger.Info("Fabric started",
		logging.String("broadcast", f.cfg.Listen.Broadcast),
		logging.String("direct", f.cfg.Listen.Direct))
	return nil
}

// Stop closes every link and the local sockets, then waits for receive
// loops and in-flight direct handlers until ctx expires.
func (f *Fabric) Stop(ctx context.Context) error {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return nil
	}
	f.running = false
	f.cancel()

	f.linksMu.Lock()
	for id, link := range f.links {
		link.close(f.logger)
		delete(f.links, id)
	}
	f.linksMu.Unlock()

	rc := newResourceCleanup(f.logger)
	rc.Add(f.pull, "pull")
	rc.Add(f.pub, "pub")
	closeErr := rc.CloseAll()
	f.mu.Unlock()

	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		f.logger.Info("Fabric stopped")
		return closeErr
	case <-ctx.Done():
		return fmt.Errorf("fabric stop: %w", ctx.Err())
	}
}

// Running reports whether Start has completed and Stop has not been called
func (f *Fabric) Running() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.running
}

// HandleBroadcast registers the handler for a broadcast message type
func (f *Fabric) HandleBroadcast(msgType string, h BroadcastHandler) {
	f.handlers.setBroadcast(msgType, h)
}

// HandleDirect registers the handler for a direct message type
func (f *Fabric) HandleDirect(msgType string, h DirectHandler) {
	f.handlers.setDirect(msgType, h)
}

// Connect opens the link to a peer: SUB to its broadcast endpoint and PUSH
// to its direct endpoint. Connecting an already linked peer with the same
// endpoints is a no-op; with different endpoints the old link is replaced.
func (f *Fabric) Connect(peerID string, ep Endpoints) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if !f.running {
		return ErrNotRunning
	}
	if peerID == f.cfg.PeerID {
		return nil
	}

	f.linksMu.Lock()
	defer f.linksMu.Unlock()

	if existing, ok := f.links[peerID]; ok {
		if existing.endpoints == ep {
			return nil
		}
		existing.close(f.logger)
		delete(f.links, peerID)
	}

	cleanup := newResourceCleanup(f.logger)
	defer cleanup.Cleanup()

	sub, err := f.cfg.Factory.NewSubSocket()
	if err != nil {
		return fmt.Errorf("failed to create subscriber for %s: %w", peerID, err)
	}
	cleanup.Add(sub, "sub:"+peerID)
	if err := sub.Subscribe([]byte{}); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", peerID, err)
	}
	if err := sub.Dial(ep.Broadcast); err != nil {
		return fmt.Errorf("failed to dial %s broadcast %s: %w", peerID, ep.Broadcast, err)
	}

	push, err := f.cfg.Factory.NewPushSocket()
	if err != nil {
		return fmt.Errorf("failed to create push socket for %s: %w", peerID, err)
	}
	cleanup.Add(push, "push:"+peerID)
	if err := push.SetSendDeadline(f.cfg.SendTimeout); err != nil {
		return fmt.Errorf("failed to set send deadline for %s: %w", peerID, err)
	}
	if err := push.Dial(ep.Direct); err != nil {
		return fmt.Errorf("failed to dial %s direct %s: %w", peerID, ep.Direct, err)
	}

	cleanup.Clear()
	f.links[peerID] = &peerLink{peerID: peerID, endpoints: ep, sub: sub, push: push}

	f.wg.Add(1)
	go f.receiveLoop(f.runCtx, sub, "broadcast:"+peerID)

	f.logger.Info("Connected to peer", logging.String("remote_peer", peerID),
		logging.String("broadcast", ep.Broadcast), logging.String("direct", ep.Direct))
	return nil
}

// Disconnect closes exactly the two sockets held for peerID
func (f *Fabric) Disconnect(peerID string) error {
	f.linksMu.Lock()
	link, ok := f.links[peerID]
	delete(f.links, peerID)
	f.linksMu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, peerID)
	}
	link.close(f.logger)
	f.logger.Info("Disconnected from peer", logging.String("remote_peer", peerID))
	return nil
}

// Peers returns the ids of linked peers, sorted
func (f *Fabric) Peers() []string {
	f.linksMu.RLock()
	defer f.linksMu.RUnlock()
	ids := make([]string, 0, len(f.links))
	for id := range f.links {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Connected reports whether a link to peerID exists
func (f *Fabric) Connected(peerID string) bool {
	f.linksMu.RLock()
	defer f.linksMu.RUnlock()
	_, ok := f.links[peerID]
	return ok
}

// PendingCalls returns the number of direct calls awaiting a response
func (f *Fabric) PendingCalls() int {
	return f.pending.len()
}

// Broadcast publishes a message to every subscribed peer. Delivery is best
// effort: peers that are not connected yet miss it.
func (f *Fabric) Broadcast(ctx context.Context, msgType string, payload any) error {
	env, err := f.newEnvelope(KindBroadcast, msgType, payload)
	if err != nil {
		return err
	}
	frame, compressed, err := f.codec.encode(env)
	if err != nil {
		return err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if !f.running {
		return ErrNotRunning
	}
	if err := f.pub.Send(frame); err != nil {
		return fmt.Errorf("broadcast %s: %w", msgType, err)
	}
	f.metrics.RecordEnvelope("sent", string(KindBroadcast), len(frame), compressed)
	return nil
}

// Call sends a direct request to peerID and waits for its response. It fails
// with ErrCallTimeout after the configured call timeout; the pending slot is
// freed on every exit path.
func (f *Fabric) Call(ctx context.Context, peerID, msgType string, payload any) (json.RawMessage, error) {
	f.mu.RLock()
	running, runCtx := f.running, f.runCtx
	f.mu.RUnlock()
	if !running {
		return nil, ErrNotRunning
	}
	env, err := f.newEnvelope(KindDirect, msgType, payload)
	if err != nil {
		return nil, err
	}
	env.TargetID = peerID

	start := time.Now()
	result := "error"
	defer func() {
		f.metrics.RecordDirectCall(msgType, result, time.Since(start))
		f.metrics.SetPendingCalls(f.pending.len())
	}()

	ch := f.pending.add(env.ID)
	defer f.pending.remove(env.ID)
	f.metrics.SetPendingCalls(f.pending.len())

	if err := f.send(peerID, env); err != nil {
		return nil, err
	}

	timer := time.NewTimer(f.cfg.CallTimeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		if resp.Error != "" {
			return nil, &RemoteError{PeerID: peerID, Type: msgType, Message: resp.Error}
		}
		result = "ok"
		return resp.Payload, nil
	case <-timer.C:
		result = "timeout"
		return nil, fmt.Errorf("%w: %s to %s after %v", ErrCallTimeout, msgType, peerID, f.cfg.CallTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-runCtx.Done():
		return nil, ErrNotRunning
	}
}

func (f *Fabric) newEnvelope(kind Kind, msgType string, payload any) (*Envelope, error) {
	env := &Envelope{
		ID:        uuid.NewString(),
		SenderID:  f.cfg.PeerID,
		Kind:      kind,
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
	}
	if payload != nil {
		raw, err := marshalPayload(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s payload: %w", msgType, err)
		}
		env.Payload = raw
	}
	return env, nil
}

func marshalPayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	default:
		return json.Marshal(payload)
	}
}

// send pushes an envelope over the link to peerID
func (f *Fabric) send(peerID string, env *Envelope) error {
	f.linksMu.RLock()
	link, ok := f.links[peerID]
	f.linksMu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, peerID)
	}

	frame, compressed, err := f.codec.encode(env)
	if err != nil {
		return err
	}
	if err := link.push.Send(frame); err != nil {
		return fmt.Errorf("send %s to %s: %w", env.Type, peerID, err)
	}
	f.metrics.RecordEnvelope("sent", string(env.Kind), len(frame), compressed)
	return nil
}

func (f *Fabric) receiveLoop(ctx context.Context, sock Socket, source string) {
	defer f.wg.Done()
	for {
		frame, err := sock.Recv()
		if err != nil {
			if errors.Is(err, ErrSocketClosed) || ctx.Err() != nil {
				return
			}
			f.logger.Warn("Receive failed", logging.String("source", source), logging.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(recvBackoff):
			}
			continue
		}

		env, err := f.codec.decode(frame)
		if err != nil {
			f.logger.Warn("Dropping malformed frame", logging.String("source", source), logging.Error(err))
			f.metrics.RecordEnvelope("dropped", "malformed", 0, false)
			continue
		}
		f.metrics.RecordEnvelope("received", string(env.Kind), len(frame), frame[0] == frameSnappy)
		f.dispatch(ctx, env)
	}
}

func (f *Fabric) dispatch(ctx context.Context, env *Envelope) {
	switch env.Kind {
	case KindBroadcast:
		if env.SenderID == f.cfg.PeerID {
			f.metrics.RecordEnvelope("dropped", "echo", 0, false)
			return
		}
		h, ok := f.handlers.broadcastFor(env.Type)
		if !ok {
			f.logger.Debug("No broadcast handler", typeField(env), senderField(env))
			return
		}
		h(ctx, env)

	case KindDirect:
		if env.TargetID != "" && env.TargetID != f.cfg.PeerID {
			f.logger.Warn("Dropping misrouted request", typeField(env), senderField(env),
				logging.String("target", env.TargetID))
			return
		}
		f.wg.Add(1)
		go f.serveDirect(ctx, env)

	case KindResponse:
		if !f.pending.resolve(env) {
			f.logger.Debug("Dropping late response", typeField(env), senderField(env))
		}

	default:
		f.logger.Warn("Dropping envelope of unknown kind", logging.String("kind", string(env.Kind)), senderField(env))
	}
}

func (f *Fabric) serveDirect(runCtx context.Context, req *Envelope) {
	defer f.wg.Done()

	resp := &Envelope{
		ID:         uuid.NewString(),
		SenderID:   f.cfg.PeerID,
		TargetID:   req.SenderID,
		Kind:       KindResponse,
		Type:       req.Type,
		Timestamp:  time.Now().UnixMilli(),
		ResponseID: req.ID,
	}

	if h, ok := f.handlers.directFor(req.Type); !ok {
		resp.Error = fmt.Sprintf("%v: %s", ErrNoHandler, req.Type)
	} else {
		ctx, cancel := context.WithTimeout(runCtx, f.cfg.CallTimeout)
		result, err := h(ctx, req)
		cancel()
		if err != nil {
			resp.Error = err.Error()
		} else if result != nil {
			raw, err := marshalPayload(result)
			if err != nil {
				resp.Error = fmt.Sprintf("failed to encode response: %v", err)
			} else {
				resp.Payload = raw
			}
		}
	}

	if err := f.send(req.SenderID, resp); err != nil {
		f.logger.Warn("Failed to send response", typeField(req), senderField(req), logging.Error(err))
	}
}

func typeField(env *Envelope) logging.Field   { return logging.MessageType(env.Type) }
func senderField(env *Envelope) logging.Field { return logging.String("sender", env.SenderID) }
func errField(err error) logging.Field        { return logging.Error(err) }
