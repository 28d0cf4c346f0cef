package postgres

import "context"

// migrate creates the necessary database tables
func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS collab_peers (
		id TEXT PRIMARY KEY,
		host TEXT NOT NULL,
		port INTEGER NOT NULL,
		last_heartbeat TIMESTAMPTZ NOT NULL,
		status TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_collab_peers_live ON collab_peers(status, last_heartbeat);

	CREATE TABLE IF NOT EXISTS collab_claims (
		namespace TEXT NOT NULL,
		key TEXT NOT NULL,
		peer_id TEXT NOT NULL,
		claimed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (namespace, key)
	);

	CREATE INDEX IF NOT EXISTS idx_collab_claims_peer ON collab_claims(peer_id);

	CREATE TABLE IF NOT EXISTS collab_nodes (
		graph_key TEXT NOT NULL,
		sheet_id TEXT NOT NULL,
		id TEXT NOT NULL,
		data JSONB NOT NULL,
		PRIMARY KEY (graph_key, sheet_id, id)
	);

	CREATE TABLE IF NOT EXISTS collab_edges (
		graph_key TEXT NOT NULL,
		sheet_id TEXT NOT NULL,
		id TEXT NOT NULL,
		data JSONB NOT NULL,
		PRIMARY KEY (graph_key, sheet_id, id)
	);

	CREATE TABLE IF NOT EXISTS collab_sheets (
		graph_key TEXT NOT NULL,
		sheet_id TEXT NOT NULL,
		position INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (graph_key, sheet_id)
	);
	`

	_, err := s.pool.Exec(ctx, schema)
	return err
}
