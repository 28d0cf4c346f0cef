package session

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-collab/pkg/graph"
	"github.com/dd0wney/cluso-collab/pkg/ownership"
	"github.com/dd0wney/cluso-collab/pkg/protocol"
	"github.com/dd0wney/cluso-collab/pkg/store/memory"
)

type fakeConn struct {
	id     string
	mu     sync.Mutex
	frames []any
	closed atomic.Bool
	reason string
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string { return c.id }
func (c *fakeConn) Open() bool { return !c.closed.Load() }

func (c *fakeConn) Send(frame any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, frame)
	return nil
}

func (c *fakeConn) Close(reason string) error {
	c.mu.Lock()
	c.reason = reason
	c.mu.Unlock()
	c.closed.Store(true)
	return nil
}

func (c *fakeConn) sent() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]any(nil), c.frames...)
}

// batches returns the instruction frames pushed to the connection
func (c *fakeConn) batches() []*protocol.ApplyInstructions {
	var out []*protocol.ApplyInstructions
	for _, f := range c.sent() {
		if b, ok := f.(*protocol.ApplyInstructions); ok {
			out = append(out, b)
		}
	}
	return out
}

type harness struct {
	m      *Manager
	store  *memory.Store
	router *ownership.Router
}

func testDocument() *graph.Document {
	return &graph.Document{Key: "g1", Sheets: []graph.Sheet{{
		ID: "s1",
		Nodes: []graph.Node{
			{"id": "n1", "posX": 0.0, "identifier": "a"},
			{"id": "n2", "posX": 0.0, "ports": []any{map[string]any{"identifier": "z", "name": "in"}}},
			{"id": "n3", "posX": 0.0},
		},
		Edges: []graph.Edge{
			{"id": "e1", "source": "n1", "target": "a"},
			{"id": "e2", "source": "n2", "target": "a"},
		},
	}}}
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	store := memory.New()
	require.NoError(t, store.SaveGraph(context.Background(), testDocument()))

	router, err := ownership.NewRouter(ownership.Config{PeerID: "p1", Store: store})
	require.NoError(t, err)
	_, err = router.DefineOwnership(context.Background(), ownership.NamespaceGraph, "g1")
	require.NoError(t, err)

	cfg := Config{PeerID: "p1"}
	if mutate != nil {
		mutate(&cfg)
	}
	m, err := NewManager(cfg, store, router)
	require.NoError(t, err)
	return &harness{m: m, store: store, router: router}
}

func (h *harness) register(t *testing.T, conn *fakeConn, userID, sheet string) *protocol.RegisterReply {
	t.Helper()
	reply, err := h.m.Register(context.Background(), conn, &protocol.RegisterUser{
		Header:   protocol.Header{Type: protocol.TypeRegisterUser, ID: json.RawMessage(`1`)},
		UserID:   userID,
		Name:     userID,
		SheetID:  sheet,
		GraphKey: "g1",
	})
	require.NoError(t, err)
	return reply
}

// batch decodes an applyInstructionToGraph frame the way a client sends it
func batch(t *testing.T, frame string) *protocol.ApplyInstructions {
	t.Helper()
	var msg protocol.ApplyInstructions
	require.NoError(t, json.Unmarshal([]byte(frame), &msg))
	return &msg
}
