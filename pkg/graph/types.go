// Package graph holds the in-memory document model of a collaborative graph:
// nodes and edges as free-form JSON objects, the edge adjacency index and
// the per-graph identifier counter.
package graph

import "errors"

var (
	ErrGraphNotFound = errors.New("graph not found")
	ErrMissingID     = errors.New("object has no id")
)

// Node is a free-form JSON object. Only "id" is interpreted.
type Node map[string]any

// Edge is a free-form JSON object. "id", "source" and "target" are interpreted.
type Edge map[string]any

// ID returns the node id, or "" if absent
func (n Node) ID() string { return stringField(n, "id") }

// ID returns the edge id, or "" if absent
func (e Edge) ID() string { return stringField(e, "id") }

// Source returns the source node id, or "" if absent
func (e Edge) Source() string { return stringField(e, "source") }

// Target returns the target node id, or "" if absent
func (e Edge) Target() string { return stringField(e, "target") }

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

// Sheet is the persisted content of one sheet as handed over by a loader
type Sheet struct {
	ID    string `json:"id"`
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Document is a whole graph: every sheet with its nodes and edges
type Document struct {
	Key    string  `json:"key"`
	Sheets []Sheet `json:"sheets"`
}
