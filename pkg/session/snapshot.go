package session

import (
	"sort"
	"time"

	"github.com/mohae/deepcopy"

	"github.com/dd0wney/cluso-collab/pkg/graph"
)

// UserInfo describes one registration
type UserInfo struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	ConnID   string    `json:"connId"`
	JoinedAt time.Time `json:"joinedAt"`
	LastPing time.Time `json:"lastPing"`
}

// SheetInfo describes one resident sheet
type SheetInfo struct {
	ID      string     `json:"id"`
	Nodes   int        `json:"nodes"`
	Edges   int        `json:"edges"`
	History int        `json:"history"`
	Users   []UserInfo `json:"users"`
}

// GraphInfo describes one resident graph
type GraphInfo struct {
	Key            string      `json:"key"`
	LoadedAt       time.Time   `json:"loadedAt"`
	NextIdentifier int64       `json:"nextIdentifier"`
	Sheets         []SheetInfo `json:"sheets"`
}

// Stats returns the number of resident graphs and registered users
func (m *Manager) Stats() (graphs, users int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.graphs), len(m.byConn)
}

// Snapshot describes every resident graph, sorted by key
func (m *Manager) Snapshot() []GraphInfo {
	m.mu.RLock()
	sessions := make([]*graphSession, 0, len(m.graphs))
	for _, gs := range m.graphs {
		sessions = append(sessions, gs)
	}
	m.mu.RUnlock()

	out := make([]GraphInfo, 0, len(sessions))
	for _, gs := range sessions {
		gs.mu.Lock()
		info := GraphInfo{Key: gs.key, LoadedAt: gs.loadedAt, NextIdentifier: gs.counter.Peek()}
		for _, ss := range gs.sheets {
			si := SheetInfo{
				ID:      ss.id,
				Nodes:   len(ss.nodes),
				Edges:   len(ss.edges.Edges()),
				History: len(ss.history),
				Users:   []UserInfo{},
			}
			for _, u := range ss.users {
				si.Users = append(si.Users, UserInfo{
					ID: u.id, Name: u.name, ConnID: u.conn.ID(), JoinedAt: u.joinedAt, LastPing: u.lastPing,
				})
			}
			info.Sheets = append(info.Sheets, si)
		}
		gs.mu.Unlock()
		sort.Slice(info.Sheets, func(i, j int) bool { return info.Sheets[i].ID < info.Sheets[j].ID })
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Node returns a copy of a node from a resident sheet
func (m *Manager) Node(graphKey, sheetID, nodeID string) (graph.Node, bool) {
	var out graph.Node
	ok := m.withSheet(graphKey, sheetID, func(ss *sheetSession) {
		if n, found := ss.nodes[nodeID]; found {
			out = deepcopy.Copy(n).(graph.Node)
		}
	})
	return out, ok && out != nil
}

// AdjacencyList returns copies of the edges stored under an adjacency key.
// ok is false when the key is absent.
func (m *Manager) AdjacencyList(graphKey, sheetID, key string) ([]graph.Edge, bool) {
	var out []graph.Edge
	var present bool
	m.withSheet(graphKey, sheetID, func(ss *sheetSession) {
		present = ss.edges.Has(key)
		for _, e := range ss.edges.Get(key) {
			out = append(out, deepcopy.Copy(e).(graph.Edge))
		}
	})
	return out, present
}

// Users returns the user ids registered on a sheet
func (m *Manager) Users(graphKey, sheetID string) []string {
	var ids []string
	m.withSheet(graphKey, sheetID, func(ss *sheetSession) {
		for _, u := range ss.users {
			ids = append(ids, u.id)
		}
	})
	return ids
}

// Resident reports whether a graph is loaded
func (m *Manager) Resident(graphKey string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.graphs[graphKey]
	return ok
}

func (m *Manager) withSheet(graphKey, sheetID string, fn func(*sheetSession)) bool {
	m.mu.RLock()
	gs, ok := m.graphs[graphKey]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	gs.mu.Lock()
	defer gs.mu.Unlock()
	ss, ok := gs.sheets[sheetID]
	if !ok {
		return false
	}
	fn(ss)
	return true
}
