// Package redis implements the shared store on Redis.
//
// Layout:
//   - collab:peer:<id>            hash {host, port, status, hb}
//   - collab:peers                sorted set of peer ids scored by heartbeat (ms)
//   - collab:claim:<ns>:<key>     hash {peer, at}
//   - collab:claims:<ns>          set of claimed keys
//   - collab:graph:<key>          JSON document
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/dd0wney/cluso-collab/pkg/cluster"
	"github.com/dd0wney/cluso-collab/pkg/graph"
	"github.com/dd0wney/cluso-collab/pkg/ownership"
)

const keyPrefix = "collab:"

// Store keeps the shared tables in Redis
type Store struct {
	client *redis.Client
}

var (
	_ cluster.HeartbeatStore = (*Store)(nil)
	_ ownership.ClaimStore   = (*Store)(nil)
	_ graph.Store            = (*Store)(nil)
)

// New connects to redisURL (redis://...) and verifies the connection
func New(ctx context.Context, redisURL string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &Store{client: client}, nil
}

// NewWithClient wraps an existing client
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// Ping checks connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client
func (s *Store) Close() error {
	return s.client.Close()
}

func peerKey(id string) string { return keyPrefix + "peer:" + id }
func peersKey() string         { return keyPrefix + "peers" }
func graphKey(key string) string {
	return keyPrefix + "graph:" + key
}
func claimKey(ns ownership.Namespace, key string) string {
	return keyPrefix + "claim:" + string(ns) + ":" + key
}
func claimsKey(ns ownership.Namespace) string {
	return keyPrefix + "claims:" + string(ns)
}
