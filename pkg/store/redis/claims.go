package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dd0wney/cluso-collab/pkg/ownership"
)

// KEYS[1] claim hash, KEYS[2] claim set; ARGV peer, at, key
var claimScript = redis.NewScript(`
local owner = redis.call('HGET', KEYS[1], 'peer')
if owner then return owner end
redis.call('HSET', KEYS[1], 'peer', ARGV[1], 'at', ARGV[2])
redis.call('SADD', KEYS[2], ARGV[3])
return ARGV[1]
`)

// KEYS[1] claim hash, KEYS[2] claim set; ARGV expected, peer, at, key
var replaceScript = redis.NewScript(`
local owner = redis.call('HGET', KEYS[1], 'peer')
if owner and owner ~= ARGV[1] then return owner end
redis.call('HSET', KEYS[1], 'peer', ARGV[2], 'at', ARGV[3])
redis.call('SADD', KEYS[2], ARGV[4])
return ARGV[2]
`)

// KEYS[1] claim hash, KEYS[2] claim set; ARGV peer, key
var releaseScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'peer') == ARGV[1] then
	redis.call('DEL', KEYS[1])
	redis.call('SREM', KEYS[2], ARGV[2])
	return 1
end
return 0
`)

// GetClaim returns the claim on key
func (s *Store) GetClaim(ctx context.Context, ns ownership.Namespace, key string) (ownership.Claim, bool, error) {
	fields, err := s.client.HGetAll(ctx, claimKey(ns, key)).Result()
	if err != nil {
		return ownership.Claim{}, false, fmt.Errorf("failed to get claim: %w", err)
	}
	if fields["peer"] == "" {
		return ownership.Claim{}, false, nil
	}
	return decodeClaim(ns, key, fields), true, nil
}

// ClaimIfAbsent inserts a claim unless one exists and returns the owner
func (s *Store) ClaimIfAbsent(ctx context.Context, ns ownership.Namespace, key, peerID string) (string, error) {
	owner, err := claimScript.Run(ctx, s.client,
		[]string{claimKey(ns, key), claimsKey(ns)},
		peerID, time.Now().UnixMilli(), key).Text()
	if err != nil {
		return "", fmt.Errorf("failed to claim: %w", err)
	}
	return owner, nil
}

// Replace swaps the owner if expected still holds the claim
func (s *Store) Replace(ctx context.Context, ns ownership.Namespace, key, expected, peerID string) (string, error) {
	owner, err := replaceScript.Run(ctx, s.client,
		[]string{claimKey(ns, key), claimsKey(ns)},
		expected, peerID, time.Now().UnixMilli(), key).Text()
	if err != nil {
		return "", fmt.Errorf("failed to replace claim: %w", err)
	}
	return owner, nil
}

// Release deletes the claim if peerID owns it
func (s *Store) Release(ctx context.Context, ns ownership.Namespace, key, peerID string) (bool, error) {
	n, err := releaseScript.Run(ctx, s.client,
		[]string{claimKey(ns, key), claimsKey(ns)},
		peerID, key).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("failed to release claim: %w", err)
	}
	return n == 1, nil
}

// ListClaims returns the claims in ns sorted by key
func (s *Store) ListClaims(ctx context.Context, ns ownership.Namespace) ([]ownership.Claim, error) {
	keys, err := s.client.SMembers(ctx, claimsKey(ns)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list claims: %w", err)
	}
	sort.Strings(keys)

	cmds := make([]*redis.MapStringStringCmd, len(keys))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, k := range keys {
			cmds[i] = pipe.HGetAll(ctx, claimKey(ns, k))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read claims: %w", err)
	}

	var claims []ownership.Claim
	for i, cmd := range cmds {
		if fields := cmd.Val(); fields["peer"] != "" {
			claims = append(claims, decodeClaim(ns, keys[i], fields))
		}
	}
	return claims, nil
}

func decodeClaim(ns ownership.Namespace, key string, fields map[string]string) ownership.Claim {
	c := ownership.Claim{Namespace: ns, Key: key, PeerID: fields["peer"]}
	if ms, err := strconv.ParseInt(fields["at"], 10, 64); err == nil {
		c.ClaimedAt = time.UnixMilli(ms)
	}
	return c
}
