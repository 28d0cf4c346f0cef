package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dd0wney/cluso-collab/pkg/graph"
)

// LoadGraph reads every sheet of a graph with its nodes and edges
func (s *Store) LoadGraph(ctx context.Context, key string) (*graph.Document, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT sheet_id FROM collab_sheets WHERE graph_key = $1 ORDER BY position, sheet_id`, key)
	if err != nil {
		return nil, fmt.Errorf("failed to query sheets: %w", err)
	}
	sheetIDs, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan sheets: %w", err)
	}
	if len(sheetIDs) == 0 {
		return nil, graph.ErrGraphNotFound
	}

	doc := &graph.Document{Key: key, Sheets: make([]graph.Sheet, len(sheetIDs))}
	index := make(map[string]int, len(sheetIDs))
	for i, id := range sheetIDs {
		doc.Sheets[i] = graph.Sheet{ID: id, Nodes: []graph.Node{}, Edges: []graph.Edge{}}
		index[id] = i
	}

	if err := s.loadObjects(ctx, "collab_nodes", key, func(sheet string, data []byte) error {
		var n graph.Node
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		if i, ok := index[sheet]; ok {
			doc.Sheets[i].Nodes = append(doc.Sheets[i].Nodes, n)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	if err := s.loadObjects(ctx, "collab_edges", key, func(sheet string, data []byte) error {
		var e graph.Edge
		if err := json.Unmarshal(data, &e); err != nil {
			return err
		}
		if i, ok := index[sheet]; ok {
			doc.Sheets[i].Edges = append(doc.Sheets[i].Edges, e)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	return doc, nil
}

func (s *Store) loadObjects(ctx context.Context, table, key string, fn func(sheet string, data []byte) error) error {
	// table is always a package constant
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT sheet_id, data FROM %s WHERE graph_key = $1 ORDER BY sheet_id, id`, table), key)
	if err != nil {
		return fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var sheet string
		var data []byte
		if err := rows.Scan(&sheet, &data); err != nil {
			return fmt.Errorf("failed to scan %s: %w", table, err)
		}
		if err := fn(sheet, data); err != nil {
			return fmt.Errorf("failed to decode %s row: %w", table, err)
		}
	}
	return rows.Err()
}

// SaveGraph replaces a graph in one transaction
func (s *Store) SaveGraph(ctx context.Context, doc *graph.Document) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, table := range []string{"collab_sheets", "collab_nodes", "collab_edges"} {
		if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE graph_key = $1`, table), doc.Key); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	batch := &pgx.Batch{}
	for pos, sheet := range doc.Sheets {
		batch.Queue(`INSERT INTO collab_sheets (graph_key, sheet_id, position) VALUES ($1, $2, $3)`,
			doc.Key, sheet.ID, pos)
		for _, n := range sheet.Nodes {
			if n.ID() == "" {
				return fmt.Errorf("sheet %s: node: %w", sheet.ID, graph.ErrMissingID)
			}
			data, err := json.Marshal(n)
			if err != nil {
				return fmt.Errorf("failed to marshal node %s: %w", n.ID(), err)
			}
			batch.Queue(`INSERT INTO collab_nodes (graph_key, sheet_id, id, data) VALUES ($1, $2, $3, $4)`,
				doc.Key, sheet.ID, n.ID(), data)
		}
		for _, e := range sheet.Edges {
			if e.ID() == "" {
				return fmt.Errorf("sheet %s: edge: %w", sheet.ID, graph.ErrMissingID)
			}
			data, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("failed to marshal edge %s: %w", e.ID(), err)
			}
			batch.Queue(`INSERT INTO collab_edges (graph_key, sheet_id, id, data) VALUES ($1, $2, $3, $4)`,
				doc.Key, sheet.ID, e.ID(), data)
		}
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to write graph: %w", err)
	}
	return tx.Commit(ctx)
}
