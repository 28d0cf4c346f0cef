package graph

// Adjacency key prefixes
const (
	SourcePrefix = "source-"
	TargetPrefix = "target-"
)

// SourceKey returns the adjacency key for edges leaving nodeID
func SourceKey(nodeID string) string { return SourcePrefix + nodeID }

// TargetKey returns the adjacency key for edges entering nodeID
func TargetKey(nodeID string) string { return TargetPrefix + nodeID }

// EdgeIndex maps adjacency keys to edge lists.
//
// Invariant: an edge with a non-empty source appears exactly once under
// SourceKey(source), an edge with a non-empty target appears exactly once
// under TargetKey(target), and no key maps to an empty list.
//
// Thread-safety: not safe for concurrent use. The owning session serializes
// access.
type EdgeIndex struct {
	lists map[string][]Edge
}

// NewEdgeIndex builds an index from a flat edge list
func NewEdgeIndex(edges []Edge) *EdgeIndex {
	idx := &EdgeIndex{lists: make(map[string][]Edge)}
	for _, e := range edges {
		idx.Insert(e)
	}
	return idx
}

// Insert adds e under its current source and target keys, replacing an
// existing entry with the same id under the same key.
func (idx *EdgeIndex) Insert(e Edge) {
	if s := e.Source(); s != "" {
		idx.put(SourceKey(s), e)
	}
	if t := e.Target(); t != "" {
		idx.put(TargetKey(t), e)
	}
}

// Remove deletes e, by id, from its source and target keys
func (idx *EdgeIndex) Remove(e Edge) {
	id := e.ID()
	if s := e.Source(); s != "" {
		idx.drop(SourceKey(s), id)
	}
	if t := e.Target(); t != "" {
		idx.drop(TargetKey(t), id)
	}
}

// Replace moves an edge from the keys of old to the keys of updated
func (idx *EdgeIndex) Replace(old, updated Edge) {
	idx.Remove(old)
	idx.Insert(updated)
}

// Find scans every list for the edge with the given id. An edge lives under
// up to two keys, so there is no direct lookup.
func (idx *EdgeIndex) Find(id string) (Edge, bool) {
	for _, list := range idx.lists {
		for _, e := range list {
			if e.ID() == id {
				return e, true
			}
		}
	}
	return nil, false
}

// Get returns the list stored under key
func (idx *EdgeIndex) Get(key string) []Edge {
	return idx.lists[key]
}

// Has reports whether key is present
func (idx *EdgeIndex) Has(key string) bool {
	_, ok := idx.lists[key]
	return ok
}

// Keys returns the number of adjacency keys
func (idx *EdgeIndex) Keys() int {
	return len(idx.lists)
}

// Edges returns every distinct edge, deduplicated by id
func (idx *EdgeIndex) Edges() []Edge {
	seen := make(map[string]struct{})
	var out []Edge
	for _, list := range idx.lists {
		for _, e := range list {
			id := e.ID()
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, e)
		}
	}
	return out
}

func (idx *EdgeIndex) put(key string, e Edge) {
	id := e.ID()
	list := idx.lists[key]
	for i := range list {
		if list[i].ID() == id {
			list[i] = e
			return
		}
	}
	idx.lists[key] = append(list, e)
}

func (idx *EdgeIndex) drop(key, id string) {
	list, ok := idx.lists[key]
	if !ok {
		return
	}
	kept := list[:0]
	for _, e := range list {
		if e.ID() != id {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		delete(idx.lists, key)
		return
	}
	// clear the tail so dropped edges are not kept alive by the backing array
	for i := len(kept); i < len(list); i++ {
		list[i] = nil
	}
	idx.lists[key] = kept
}
