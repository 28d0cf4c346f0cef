package session

import (
	"context"
	"sync"
	"time"

	"github.com/dd0wney/cluso-collab/pkg/graph"
	"github.com/dd0wney/cluso-collab/pkg/ownership"
	"github.com/dd0wney/cluso-collab/pkg/protocol"
)

// Conn is a user's duplex connection as seen by the manager. Send must not
// block: the manager calls it while holding a graph lock.
type Conn interface {
	ID() string
	Send(frame any) error
	// Open reports whether the connection is open or still connecting
	Open() bool
	Close(reason string) error
}

// Ownership is the part of the ownership router the manager relies on
type Ownership interface {
	IsOwner(ns ownership.Namespace, key string) bool
	Owns(ctx context.Context, ns ownership.Namespace, key string) (bool, error)
	Release(ctx context.Context, ns ownership.Namespace, key string) error
}

// PeerLister returns the ids of live remote peers
type PeerLister interface {
	PeerIDs() []string
}

// HistoryEntry is one committed batch
type HistoryEntry struct {
	Instructions []protocol.Instruction
	Time         time.Time
}

// user is one registration. Fields other than lastPing are immutable;
// lastPing and removed are guarded by the graph's mutex.
type user struct {
	id       string
	name     string
	conn     Conn
	graph    *graphSession
	sheet    *sheetSession
	joinedAt time.Time
	lastPing time.Time
	removed  bool
}

// sheetSession is the authoritative state of one sheet
type sheetSession struct {
	id      string
	nodes   map[string]graph.Node
	edges   *graph.EdgeIndex
	users   []*user
	history []HistoryEntry
}

func newSheetSession(id string) *sheetSession {
	return &sheetSession{
		id:    id,
		nodes: make(map[string]graph.Node),
		edges: graph.NewEdgeIndex(nil),
	}
}

func (s *sheetSession) addUser(u *user) {
	s.users = append(s.users, u)
}

func (s *sheetSession) removeUser(u *user) bool {
	for i, cur := range s.users {
		if cur == u {
			s.users = append(s.users[:i], s.users[i+1:]...)
			return true
		}
	}
	return false
}

func (s *sheetSession) record(entry HistoryEntry, limit int) {
	s.history = append(s.history, entry)
	if over := len(s.history) - limit; over > 0 {
		s.history = append(s.history[:0:0], s.history[over:]...)
	}
}

// since returns history strictly newer than from, in Unix milliseconds.
// Clients only ever see millisecond times, so the comparison is made at
// that precision.
func (s *sheetSession) since(from int64) []HistoryEntry {
	for i, h := range s.history {
		if h.Time.UnixMilli() > from {
			return append([]HistoryEntry(nil), s.history[i:]...)
		}
	}
	return nil
}

// graphSession holds every sheet of one resident graph.
//
// Concurrent Safety: mu is held for the whole of registration, an
// instruction batch, and the sweep of this graph.
type graphSession struct {
	key      string
	loadedAt time.Time
	counter  *graph.IdentifierCounter

	mu     sync.Mutex
	sheets map[string]*sheetSession
	closed bool
}

func newGraphSession(doc *graph.Document, now time.Time) *graphSession {
	gs := &graphSession{
		key:      doc.Key,
		loadedAt: now,
		counter:  graph.NewIdentifierCounter(),
		sheets:   make(map[string]*sheetSession, len(doc.Sheets)),
	}
	for _, sh := range doc.Sheets {
		ss := newSheetSession(sh.ID)
		for _, n := range sh.Nodes {
			if id := n.ID(); id != "" {
				ss.nodes[id] = n
			}
			gs.counter.Seed(n)
		}
		for _, e := range sh.Edges {
			ss.edges.Insert(e)
			gs.counter.Seed(e)
		}
		gs.sheets[sh.ID] = ss
	}
	return gs
}

// sheet returns the sheet, creating an empty one for unknown ids
func (gs *graphSession) sheet(id string) *sheetSession {
	ss, ok := gs.sheets[id]
	if !ok {
		ss = newSheetSession(id)
		gs.sheets[id] = ss
	}
	return ss
}

func (gs *graphSession) userCount() int {
	n := 0
	for _, ss := range gs.sheets {
		n += len(ss.users)
	}
	return n
}
