package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/dd0wney/cluso-collab/pkg/cluster"
)

// UpsertPeer inserts or replaces a heartbeat record
func (s *Store) UpsertPeer(ctx context.Context, rec cluster.PeerRecord) error {
	query := `
		INSERT INTO collab_peers (id, host, port, last_heartbeat, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET host = EXCLUDED.host, port = EXCLUDED.port,
		    last_heartbeat = EXCLUDED.last_heartbeat, status = EXCLUDED.status
	`
	if _, err := s.pool.Exec(ctx, query, rec.ID, rec.Host, rec.Port, rec.LastHeartbeat, string(rec.Status)); err != nil {
		return fmt.Errorf("failed to upsert peer: %w", err)
	}
	return nil
}

// LivePeers returns online records newer than cutoff
func (s *Store) LivePeers(ctx context.Context, cutoff time.Time) ([]cluster.PeerRecord, error) {
	query := `
		SELECT id, host, port, last_heartbeat, status
		FROM collab_peers
		WHERE status = $1 AND last_heartbeat > $2
		ORDER BY id
	`
	rows, err := s.pool.Query(ctx, query, string(cluster.StatusOnline), cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query peers: %w", err)
	}
	defer rows.Close()

	var peers []cluster.PeerRecord
	for rows.Next() {
		var rec cluster.PeerRecord
		var status string
		if err := rows.Scan(&rec.ID, &rec.Host, &rec.Port, &rec.LastHeartbeat, &status); err != nil {
			return nil, fmt.Errorf("failed to scan peer: %w", err)
		}
		rec.Status = cluster.PeerStatus(status)
		peers = append(peers, rec)
	}
	return peers, rows.Err()
}

// MarkOffline flips a record to offline
func (s *Store) MarkOffline(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `UPDATE collab_peers SET status = $1 WHERE id = $2`, string(cluster.StatusOffline), id)
	if err != nil {
		return fmt.Errorf("failed to mark peer offline: %w", err)
	}
	return nil
}
