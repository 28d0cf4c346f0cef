package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dd0wney/cluso-collab/pkg/cluster"
)

// UpsertPeer writes the record hash and its heartbeat score
func (s *Store) UpsertPeer(ctx context.Context, rec cluster.PeerRecord) error {
	hb := rec.LastHeartbeat.UnixMilli()
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, peerKey(rec.ID),
			"host", rec.Host,
			"port", rec.Port,
			"status", string(rec.Status),
			"hb", hb)
		pipe.ZAdd(ctx, peersKey(), redis.Z{Score: float64(hb), Member: rec.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to upsert peer: %w", err)
	}
	return nil
}

// LivePeers returns online records with a heartbeat after cutoff
func (s *Store) LivePeers(ctx context.Context, cutoff time.Time) ([]cluster.PeerRecord, error) {
	ids, err := s.client.ZRangeByScore(ctx, peersKey(), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(cutoff.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query peers: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, peerKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read peers: %w", err)
	}

	var peers []cluster.PeerRecord
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		rec, err := decodePeer(ids[i], fields)
		if err != nil {
			return nil, err
		}
		if rec.IsLive(cutoff) {
			peers = append(peers, rec)
		}
	}
	return peers, nil
}

// MarkOffline flips a record to offline
func (s *Store) MarkOffline(ctx context.Context, id string) error {
	if err := s.client.HSet(ctx, peerKey(id), "status", string(cluster.StatusOffline)).Err(); err != nil {
		return fmt.Errorf("failed to mark peer offline: %w", err)
	}
	return nil
}

func decodePeer(id string, fields map[string]string) (cluster.PeerRecord, error) {
	port, err := strconv.Atoi(fields["port"])
	if err != nil {
		return cluster.PeerRecord{}, fmt.Errorf("peer %s: bad port %q: %w", id, fields["port"], err)
	}
	hb, err := strconv.ParseInt(fields["hb"], 10, 64)
	if err != nil {
		return cluster.PeerRecord{}, fmt.Errorf("peer %s: bad heartbeat %q: %w", id, fields["hb"], err)
	}
	return cluster.PeerRecord{
		ID:            id,
		Host:          fields["host"],
		Port:          port,
		LastHeartbeat: time.UnixMilli(hb),
		Status:        cluster.PeerStatus(fields["status"]),
	}, nil
}
