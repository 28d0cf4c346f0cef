package redis

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-collab/pkg/cluster"
	"github.com/dd0wney/cluso-collab/pkg/graph"
	"github.com/dd0wney/cluso-collab/pkg/ownership"
)

// openTestStore connects to COLLAB_TEST_REDIS_URL or skips
func openTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("COLLAB_TEST_REDIS_URL")
	if url == "" {
		t.Skip("COLLAB_TEST_REDIS_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRedis_HeartbeatTable(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id := "peer-" + uuid.NewString()
	now := time.Now()

	require.NoError(t, s.UpsertPeer(ctx, cluster.PeerRecord{ID: id, Host: "h", Port: 9000, LastHeartbeat: now, Status: cluster.StatusOnline}))

	live, err := s.LivePeers(ctx, now.Add(-time.Minute))
	require.NoError(t, err)
	var found *cluster.PeerRecord
	for i := range live {
		if live[i].ID == id {
			found = &live[i]
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, 9000, found.Port)

	require.NoError(t, s.MarkOffline(ctx, id))
	live, err = s.LivePeers(ctx, now.Add(-time.Minute))
	require.NoError(t, err)
	for _, rec := range live {
		assert.NotEqual(t, id, rec.ID)
	}
}

func TestRedis_ConcurrentClaimsAgree(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	key := "g-" + uuid.NewString()

	owners := make([]string, 8)
	var wg sync.WaitGroup
	for i := range owners {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			owner, err := s.ClaimIfAbsent(ctx, ownership.NamespaceGraph, key, uuid.NewString())
			assert.NoError(t, err)
			owners[i] = owner
		}(i)
	}
	wg.Wait()
	for _, o := range owners {
		assert.Equal(t, owners[0], o)
	}

	released, err := s.Release(ctx, ownership.NamespaceGraph, key, owners[0])
	require.NoError(t, err)
	assert.True(t, released)
}

func TestRedis_GraphRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	key := "g-" + uuid.NewString()

	_, err := s.LoadGraph(ctx, key)
	assert.ErrorIs(t, err, graph.ErrGraphNotFound)

	require.NoError(t, s.SaveGraph(ctx, &graph.Document{Key: key, Sheets: []graph.Sheet{{ID: "s1", Nodes: []graph.Node{{"id": "n1"}}}}}))
	doc, err := s.LoadGraph(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "n1", doc.Sheets[0].Nodes[0].ID())
}
