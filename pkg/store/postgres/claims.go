package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dd0wney/cluso-collab/pkg/ownership"
)

// GetClaim returns the claim on key
func (s *Store) GetClaim(ctx context.Context, ns ownership.Namespace, key string) (ownership.Claim, bool, error) {
	c := ownership.Claim{Namespace: ns, Key: key}
	err := s.pool.QueryRow(ctx,
		`SELECT peer_id, claimed_at FROM collab_claims WHERE namespace = $1 AND key = $2`,
		string(ns), key).Scan(&c.PeerID, &c.ClaimedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ownership.Claim{}, false, nil
	}
	if err != nil {
		return ownership.Claim{}, false, fmt.Errorf("failed to get claim: %w", err)
	}
	return c, true, nil
}

// ClaimIfAbsent inserts a claim unless one exists and returns the owner.
// The insert and the read of the winner happen in one statement; when a
// concurrent claim commits after the statement snapshot neither branch sees
// a row and the winner is read again.
func (s *Store) ClaimIfAbsent(ctx context.Context, ns ownership.Namespace, key, peerID string) (string, error) {
	query := `
		WITH ins AS (
			INSERT INTO collab_claims (namespace, key, peer_id)
			VALUES ($1, $2, $3)
			ON CONFLICT (namespace, key) DO NOTHING
			RETURNING peer_id
		)
		SELECT peer_id FROM ins
		UNION ALL
		SELECT peer_id FROM collab_claims WHERE namespace = $1 AND key = $2
		LIMIT 1
	`
	var owner string
	err := s.pool.QueryRow(ctx, query, string(ns), key, peerID).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		c, ok, err := s.GetClaim(ctx, ns, key)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", fmt.Errorf("failed to claim %s/%s: claim vanished", ns, key)
		}
		return c.PeerID, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to claim: %w", err)
	}
	return owner, nil
}

// Replace swaps the owner if expected still holds the claim. A missing
// claim is inserted for peerID.
func (s *Store) Replace(ctx context.Context, ns ownership.Namespace, key, expected, peerID string) (string, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE collab_claims SET peer_id = $4, claimed_at = now()
		WHERE namespace = $1 AND key = $2 AND peer_id = $3
	`, string(ns), key, expected, peerID)
	if err != nil {
		return "", fmt.Errorf("failed to replace claim: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return peerID, nil
	}
	return s.ClaimIfAbsent(ctx, ns, key, peerID)
}

// Release deletes the claim if peerID owns it
func (s *Store) Release(ctx context.Context, ns ownership.Namespace, key, peerID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM collab_claims WHERE namespace = $1 AND key = $2 AND peer_id = $3`,
		string(ns), key, peerID)
	if err != nil {
		return false, fmt.Errorf("failed to release claim: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListClaims returns the claims in ns sorted by key
func (s *Store) ListClaims(ctx context.Context, ns ownership.Namespace) ([]ownership.Claim, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key, peer_id, claimed_at FROM collab_claims WHERE namespace = $1 ORDER BY key`, string(ns))
	if err != nil {
		return nil, fmt.Errorf("failed to list claims: %w", err)
	}
	defer rows.Close()

	var claims []ownership.Claim
	for rows.Next() {
		c := ownership.Claim{Namespace: ns}
		if err := rows.Scan(&c.Key, &c.PeerID, &c.ClaimedAt); err != nil {
			return nil, fmt.Errorf("failed to scan claim: %w", err)
		}
		claims = append(claims, c)
	}
	return claims, rows.Err()
}
