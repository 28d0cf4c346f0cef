package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-collab/pkg/cluster"
	"github.com/dd0wney/cluso-collab/pkg/graph"
	"github.com/dd0wney/cluso-collab/pkg/ownership"
	"github.com/dd0wney/cluso-collab/pkg/protocol"
	"github.com/dd0wney/cluso-collab/pkg/session"
	"github.com/dd0wney/cluso-collab/pkg/store/memory"
)

type fakeMembership struct{}

func (fakeMembership) Self() cluster.PeerRecord {
	return cluster.PeerRecord{ID: "p1", Host: "10.0.0.1", Port: 8080, Status: cluster.StatusOnline, LastHeartbeat: time.Now()}
}

func (fakeMembership) Peers() []cluster.PeerRecord {
	return []cluster.PeerRecord{{ID: "p2", Host: "10.0.0.2", Port: 8080, Status: cluster.StatusOnline}}
}

func (fakeMembership) LastHeartbeat() time.Time { return time.Now() }

type nopConn struct{}

func (nopConn) ID() string         { return "c1" }
func (nopConn) Send(any) error     { return nil }
func (nopConn) Open() bool         { return true }
func (nopConn) Close(string) error { return nil }

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.SaveGraph(ctx, &graph.Document{Key: "g1", Sheets: []graph.Sheet{{
		ID:    "s1",
		Nodes: []graph.Node{{"id": "n1", "label": "start"}},
	}}}))

	router, err := ownership.NewRouter(ownership.Config{PeerID: "p1", Store: store})
	require.NoError(t, err)
	_, err = router.DefineOwnership(ctx, ownership.NamespaceGraph, "g1")
	require.NoError(t, err)

	mgr, err := session.NewManager(session.Config{PeerID: "p1"}, store, router)
	require.NoError(t, err)
	_, err = mgr.Register(ctx, nopConn{}, &protocol.RegisterUser{
		Header: protocol.Header{Type: protocol.TypeRegisterUser},
		UserID: "alice", Name: "Alice", SheetID: "s1", GraphKey: "g1",
	})
	require.NoError(t, err)

	h, err := NewHandler(Sources{Membership: fakeMembership{}, Claims: router, Sessions: mgr}, nil)
	require.NoError(t, err)
	return h
}

func TestGraphQL_Query(t *testing.T) {
	h := newTestHandler(t)

	body := `{"query":"{ self { id port status } peers { id } claims { key peerId namespace } owned graphs { key sheets { id nodes users { id name } } } users }"}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/graphql", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data struct {
			Self   map[string]any   `json:"self"`
			Peers  []map[string]any `json:"peers"`
			Claims []map[string]any `json:"claims"`
			Owned  []string         `json:"owned"`
			Graphs []struct {
				Key    string `json:"key"`
				Sheets []struct {
					ID    string           `json:"id"`
					Nodes int              `json:"nodes"`
					Users []map[string]any `json:"users"`
				} `json:"sheets"`
			} `json:"graphs"`
			Users int `json:"users"`
		} `json:"data"`
		Errors []GraphQLError `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Empty(t, resp.Errors)

	assert.Equal(t, "p1", resp.Data.Self["id"])
	assert.Equal(t, "online", resp.Data.Self["status"])
	require.Len(t, resp.Data.Peers, 1)
	require.Len(t, resp.Data.Claims, 1)
	assert.Equal(t, "graph", resp.Data.Claims[0]["namespace"])
	assert.Equal(t, []string{"g1"}, resp.Data.Owned)
	require.Len(t, resp.Data.Graphs, 1)
	assert.Equal(t, 1, resp.Data.Graphs[0].Sheets[0].Nodes)
	assert.Equal(t, "Alice", resp.Data.Graphs[0].Sheets[0].Users[0]["name"])
	assert.Equal(t, 1, resp.Data.Users)
}

func TestGraphQL_NodeAndVariables(t *testing.T) {
	h := newTestHandler(t)

	resp := h.Execute(context.Background(), GraphQLRequest{
		Query:     `query($id: String!) { node(graphKey: "g1", sheetId: "s1", nodeId: $id) }`,
		Variables: map[string]any{"id": "n1"},
	})
	require.Empty(t, resp.Errors)
	text := resp.Data.(map[string]any)["node"].(string)
	assert.JSONEq(t, `{"id":"n1","label":"start"}`, text)

	missing := h.Execute(context.Background(), GraphQLRequest{Query: `{ node(graphKey: "g1", sheetId: "s1", nodeId: "zz") }`})
	require.Empty(t, missing.Errors)
	assert.Nil(t, missing.Data.(map[string]any)["node"])
}

func TestGraphQL_GetAndErrors(t *testing.T) {
	h := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/graphql?query="+url.QueryEscape("{ health }"), nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"health":"ok"`)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/graphql", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/admin/graphql", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	bad := h.Execute(context.Background(), GraphQLRequest{Query: `{ owned(namespace: "nope") }`})
	assert.NotEmpty(t, bad.Errors)
}

func TestState(t *testing.T) {
	h := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/state", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var st State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "p1", st.Self.ID)
	assert.Equal(t, []string{"g1"}, st.Owned)
	assert.Equal(t, 1, st.Users)
	require.Len(t, st.Graphs, 1)
	assert.Equal(t, "g1", st.Graphs[0].Key)
}

func TestNewHandler_RequiresSources(t *testing.T) {
	_, err := NewHandler(Sources{}, nil)
	assert.ErrorIs(t, err, ErrIncomplete)
}
