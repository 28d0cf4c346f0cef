package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/dd0wney/cluso-collab/pkg/graph"
)

// LoadGraph reads a graph document
func (s *Store) LoadGraph(ctx context.Context, key string) (*graph.Document, error) {
	data, err := s.client.Get(ctx, graphKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, graph.ErrGraphNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get graph: %w", err)
	}

	var doc graph.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal graph: %w", err)
	}
	doc.Key = key
	return &doc, nil
}

// SaveGraph replaces a graph document
func (s *Store) SaveGraph(ctx context.Context, doc *graph.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal graph: %w", err)
	}
	if err := s.client.Set(ctx, graphKey(doc.Key), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set graph: %w", err)
	}
	return nil
}
