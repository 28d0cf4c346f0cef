package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-collab/pkg/cluster"
	"github.com/dd0wney/cluso-collab/pkg/graph"
	"github.com/dd0wney/cluso-collab/pkg/ownership"
)

// openTestStore connects to COLLAB_TEST_POSTGRES_URL or skips
func openTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("COLLAB_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("COLLAB_TEST_POSTGRES_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s, err := New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPostgres_HeartbeatTable(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id := "peer-" + uuid.NewString()
	now := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, s.UpsertPeer(ctx, cluster.PeerRecord{ID: id, Host: "h", Port: 8080, LastHeartbeat: now, Status: cluster.StatusOnline}))

	live, err := s.LivePeers(ctx, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Contains(t, peerIDs(live), id)

	require.NoError(t, s.MarkOffline(ctx, id))
	live, err = s.LivePeers(ctx, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.NotContains(t, peerIDs(live), id)
}

func TestPostgres_ClaimLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	key := "g-" + uuid.NewString()

	owner, err := s.ClaimIfAbsent(ctx, ownership.NamespaceGraph, key, "p1")
	require.NoError(t, err)
	assert.Equal(t, "p1", owner)

	owner, err = s.ClaimIfAbsent(ctx, ownership.NamespaceGraph, key, "p2")
	require.NoError(t, err)
	assert.Equal(t, "p1", owner, "second claimer must adopt the winner")

	owner, err = s.Replace(ctx, ownership.NamespaceGraph, key, "p1", "p2")
	require.NoError(t, err)
	assert.Equal(t, "p2", owner)

	released, err := s.Release(ctx, ownership.NamespaceGraph, key, "p1")
	require.NoError(t, err)
	assert.False(t, released)

	released, err = s.Release(ctx, ownership.NamespaceGraph, key, "p2")
	require.NoError(t, err)
	assert.True(t, released)
}

func TestPostgres_GraphRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	key := "g-" + uuid.NewString()

	_, err := s.LoadGraph(ctx, key)
	assert.ErrorIs(t, err, graph.ErrGraphNotFound)

	doc := &graph.Document{Key: key, Sheets: []graph.Sheet{
		{ID: "s1", Nodes: []graph.Node{{"id": "n1"}}, Edges: []graph.Edge{{"id": "e1", "source": "n1", "target": "n1"}}},
		{ID: "s2"},
	}}
	require.NoError(t, s.SaveGraph(ctx, doc))

	loaded, err := s.LoadGraph(ctx, key)
	require.NoError(t, err)
	require.Len(t, loaded.Sheets, 2)
	assert.Equal(t, "n1", loaded.Sheets[0].Nodes[0].ID())
	assert.Equal(t, "n1", loaded.Sheets[0].Edges[0].Source())
	assert.Empty(t, loaded.Sheets[1].Nodes)
}

func peerIDs(recs []cluster.PeerRecord) []string {
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}
	return ids
}
