package fabric

import (
	"context"
	"encoding/json"
	"sync"
)

// BroadcastHandler handles a broadcast envelope. Broadcasts are fire and
// forget, so there is nothing to return.
type BroadcastHandler func(ctx context.Context, env *Envelope)

// DirectHandler handles a direct request. The returned value is marshalled
// into the response payload; a returned error travels back as RemoteError.
type DirectHandler func(ctx context.Context, env *Envelope) (any, error)

// handlerTable dispatches envelopes by message type
type handlerTable struct {
	mu        sync.RWMutex
	broadcast map[string]BroadcastHandler
	direct    map[string]DirectHandler
}

func newHandlerTable() *handlerTable {
	return &handlerTable{
		broadcast: make(map[string]BroadcastHandler),
		direct:    make(map[string]DirectHandler),
	}
}

func (t *handlerTable) setBroadcast(msgType string, h BroadcastHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.broadcast[msgType] = h
}

func (t *handlerTable) setDirect(msgType string, h DirectHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.direct[msgType] = h
}

func (t *handlerTable) broadcastFor(msgType string) (BroadcastHandler, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.broadcast[msgType]
	return h, ok
}

func (t *handlerTable) directFor(msgType string) (DirectHandler, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.direct[msgType]
	return h, ok
}

// HandleBroadcastFunc registers a broadcast handler receiving the decoded
// payload. Envelopes whose payload does not decode are logged and dropped.
func HandleBroadcastFunc[T any](f *Fabric, msgType string, handler func(ctx context.Context, senderID string, msg *T)) {
	f.HandleBroadcast(msgType, func(ctx context.Context, env *Envelope) {
		var v T
		if err := env.Decode(&v); err != nil {
			f.logger.Warn("Dropping undecodable broadcast", typeField(env), senderField(env), errField(err))
			return
		}
		handler(ctx, env.SenderID, &v)
	})
}

// HandleDirectFunc registers a direct handler receiving the decoded payload
func HandleDirectFunc[T any, R any](f *Fabric, msgType string, handler func(ctx context.Context, senderID string, req *T) (R, error)) {
	f.HandleDirect(msgType, func(ctx context.Context, env *Envelope) (any, error) {
		var v T
		if err := env.Decode(&v); err != nil {
			return nil, err
		}
		return handler(ctx, env.SenderID, &v)
	})
}

// CallFunc performs a direct call and decodes the response into R
func CallFunc[R any](ctx context.Context, f *Fabric, peerID, msgType string, payload any) (*R, error) {
	raw, err := f.Call(ctx, peerID, msgType, payload)
	if err != nil {
		return nil, err
	}
	var out R
	if len(raw) == 0 {
		return &out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
