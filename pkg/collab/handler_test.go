package collab

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-collab/pkg/graph"
	"github.com/dd0wney/cluso-collab/pkg/ownership"
	"github.com/dd0wney/cluso-collab/pkg/session"
	"github.com/dd0wney/cluso-collab/pkg/store/memory"
)

func newTestServer(t *testing.T) (*httptest.Server, *session.Manager) {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.SaveGraph(ctx, &graph.Document{Key: "g1", Sheets: []graph.Sheet{{
		ID:    "s1",
		Nodes: []graph.Node{{"id": "n1", "posX": 0.0}},
	}}}))

	router, err := ownership.NewRouter(ownership.Config{PeerID: "p1", Store: store})
	require.NoError(t, err)
	_, err = router.DefineOwnership(ctx, ownership.NamespaceGraph, "g1")
	require.NoError(t, err)

	mgr, err := session.NewManager(session.Config{PeerID: "p1"}, store, router)
	require.NoError(t, err)

	h, err := NewHandler(Config{}, mgr)
	require.NoError(t, err)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv, mgr
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func roundTrip(t *testing.T, ws *websocket.Conn, frame string) map[string]any {
	t.Helper()
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(frame)))
	return readFrame(t, ws)
}

func readFrame(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func status(frame map[string]any) string {
	resp, _ := frame["_response"].(map[string]any)
	s, _ := resp["status"].(string)
	return s
}

func register(t *testing.T, ws *websocket.Conn, id, user string) map[string]any {
	t.Helper()
	reply := roundTrip(t, ws, `{"type":"registerUser","_id":"`+id+`","userId":"`+user+`","sheetId":"s1","graphKey":"g1"}`)
	require.Equal(t, "ok", status(reply), "register reply: %v", reply)
	return reply
}

func TestHandler_RegisterApplyAndFanOut(t *testing.T) {
	srv, mgr := newTestServer(t)
	alice, bob := dial(t, srv), dial(t, srv)

	reply := register(t, alice, "r1", "alice")
	assert.Equal(t, "r1", reply["_id"])
	register(t, bob, "r2", "bob")

	ack := roundTrip(t, alice, `{"type":"applyInstructionToGraph","_id":7,"instructions":[{"nodeId":"n1","i":{"p":["posX"],"v":120}}]}`)
	assert.Equal(t, "ok", status(ack))
	assert.Equal(t, 7.0, ack["_id"])

	pushed := readFrame(t, bob)
	assert.Equal(t, "applyInstructionToGraph", pushed["type"])
	assert.NotContains(t, pushed, "_id")
	assert.NotContains(t, pushed, "_response")

	n1, ok := mgr.Node("g1", "s1", "n1")
	require.True(t, ok)
	assert.Equal(t, 120.0, n1["posX"])
}

func TestHandler_ApplicationPing(t *testing.T) {
	srv, _ := newTestServer(t)
	ws := dial(t, srv)

	pong := roundTrip(t, ws, `{"type":"__ping__","_id":3}`)
	assert.Equal(t, "__pong__", pong["type"])
	assert.Equal(t, 3.0, pong["_id"])
}

func TestHandler_UnknownTypeIsNacked(t *testing.T) {
	srv, _ := newTestServer(t)
	ws := dial(t, srv)

	reply := roundTrip(t, ws, `{"type":"dance","_id":1}`)
	assert.Equal(t, "error", status(reply))

	// connection stays usable
	pong := roundTrip(t, ws, `{"type":"__ping__"}`)
	assert.Equal(t, "__pong__", pong["type"])
}

func TestHandler_NegativeAckKeepsConnection(t *testing.T) {
	srv, _ := newTestServer(t)
	ws := dial(t, srv)
	register(t, ws, "r1", "alice")

	nack := roundTrip(t, ws, `{"type":"applyInstructionToGraph","_id":1,"instructions":[{"nodeId":"nope","i":{"p":["posX"],"v":1}}]}`)
	assert.Equal(t, "error", status(nack))
	resp := nack["_response"].(map[string]any)
	assert.Contains(t, resp["message"], "nope")

	pong := roundTrip(t, ws, `{"type":"__ping__"}`)
	assert.Equal(t, "__pong__", pong["type"])
}

func expectClosed(t *testing.T, ws *websocket.Conn, code int) {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, _, err := ws.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, code, ce.Code)
		return
	}
}

func TestHandler_OversizedBatchClosesConnection(t *testing.T) {
	srv, _ := newTestServer(t)
	ws := dial(t, srv)
	register(t, ws, "r1", "alice")

	parts := make([]string, 21)
	for i := range parts {
		parts[i] = `{"nodeId":"n1","i":{"p":["posX"],"v":1}}`
	}
	frame := `{"type":"applyInstructionToGraph","instructions":[` + strings.Join(parts, ",") + `]}`
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(frame)))
	expectClosed(t, ws, websocket.ClosePolicyViolation)
}

func TestHandler_MalformedFrameClosesConnection(t *testing.T) {
	srv, _ := newTestServer(t)
	ws := dial(t, srv)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	expectClosed(t, ws, websocket.ClosePolicyViolation)
}

func TestHandler_ReRegistrationEvictsOldSocket(t *testing.T) {
	srv, mgr := newTestServer(t)
	first, second := dial(t, srv), dial(t, srv)

	register(t, first, "r1", "alice")
	register(t, second, "r2", "alice")

	notice := readFrame(t, first)
	assert.Equal(t, "evicted", notice["type"])
	expectClosed(t, first, websocket.CloseNormalClosure)
	assert.Equal(t, []string{"alice"}, mgr.Users("g1", "s1"))
}

func TestHandler_DisconnectUnregisters(t *testing.T) {
	srv, mgr := newTestServer(t)
	ws := dial(t, srv)
	register(t, ws, "r1", "alice")

	require.NoError(t, ws.Close())
	assert.Eventually(t, func() bool {
		_, users := mgr.Stats()
		return users == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestConfig_CheckOrigin(t *testing.T) {
	cfg := Config{AllowedOrigins: []string{"app.example.com"}}
	req := httptest.NewRequest("GET", "/", nil)
	assert.True(t, cfg.checkOrigin(req), "no origin header")

	req.Header.Set("Origin", "https://app.example.com")
	assert.True(t, cfg.checkOrigin(req))

	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, cfg.checkOrigin(req))
}

func TestNewHandler_RequiresSessions(t *testing.T) {
	_, err := NewHandler(Config{}, nil)
	assert.ErrorIs(t, err, ErrNoSessions)
}
