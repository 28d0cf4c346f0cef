package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dd0wney/cluso-collab/pkg/graph"
	"github.com/dd0wney/cluso-collab/pkg/logging"
	"github.com/dd0wney/cluso-collab/pkg/patch"
	"github.com/dd0wney/cluso-collab/pkg/protocol"
	"github.com/dd0wney/cluso-collab/pkg/validation"
)

// edgeChange is a staged edge mutation; a nil side means absent
type edgeChange struct {
	old graph.Edge
	new graph.Edge
}

// stage accumulates the results of a batch before commit. Later
// instructions resolve their targets against it first.
type stage struct {
	nodeOrder []string
	nodes     map[string]graph.Node // nil value deletes
	edgeOrder []string
	edges     map[string]*edgeChange
}

func newStage() *stage {
	return &stage{nodes: make(map[string]graph.Node), edges: make(map[string]*edgeChange)}
}

// Apply runs an instruction batch from conn against its sheet. Each
// instruction is resolved, checked and applied in order; the first failure
// stops the batch. The reply is nil only for fatal errors, which must close
// the connection.
func (m *Manager) Apply(ctx context.Context, conn Conn, req *protocol.ApplyInstructions) (*protocol.ApplyInstructions, error) {
	if n := len(req.Instructions); n > 0 {
		if err := validation.ValidateBatchSize(n, m.config.MaxBatch); err != nil {
			m.metrics.RecordBatch("rejected", 0, 0, 0)
			return nil, fmt.Errorf("%w: %v", ErrBatchTooLarge, err)
		}
	}

	reply := &protocol.ApplyInstructions{
		Header:       protocol.Header{Type: protocol.TypeApplyInstructions, ID: req.ID},
		Instructions: req.Instructions,
	}
	if len(req.Instructions) == 0 {
		reply.Response = protocol.Fail(ErrEmptyBatch)
		return reply, ErrEmptyBatch
	}

	u, ok := m.userFor(conn)
	if !ok {
		reply.Response = protocol.Fail(ErrNotRegistered)
		return reply, ErrNotRegistered
	}

	start := time.Now()
	gs := u.graph
	gs.mu.Lock()
	defer gs.mu.Unlock()

	if u.removed || gs.closed {
		reply.Response = protocol.Fail(ErrNotRegistered)
		return reply, ErrNotRegistered
	}
	ss := u.sheet

	st := newStage()
	applied := 0
	var batchErr error
	for i := range req.Instructions {
		if err := m.applyOne(gs, ss, st, i, &req.Instructions[i]); err != nil {
			batchErr = err
			break
		}
		applied++
	}

	committed := req.Instructions[:applied]
	if batchErr != nil && m.config.AtomicBatches {
		committed = nil
	}
	if len(committed) > 0 {
		m.commit(ss, st)
		entry := HistoryEntry{Instructions: append([]protocol.Instruction(nil), committed...), Time: m.now().Truncate(time.Millisecond)}
		ss.record(entry, m.config.HistoryLimit)
		m.fanOut(ss, u, entry)
	}

	nodes, edges := len(st.nodeOrder), len(st.edgeOrder)
	if batchErr != nil {
		if len(committed) == 0 {
			nodes, edges = 0, 0
		}
		m.metrics.RecordBatch("failed", nodes, edges, time.Since(start))
		m.logger.Info("batch failed", logging.UserID(u.id), logging.GraphKey(gs.key),
			logging.SheetID(ss.id), logging.Int("committed", len(committed)), logging.Error(batchErr))
		reply.Response = protocol.Fail(batchErr)
		return reply, batchErr
	}

	m.metrics.RecordBatch("ok", nodes, edges, time.Since(start))
	m.logger.Debug("batch applied", logging.UserID(u.id), logging.GraphKey(gs.key),
		logging.SheetID(ss.id), logging.Count(applied))
	reply.Response = protocol.OK()
	return reply, nil
}

// applyOne resolves, checks and applies instruction i into st
func (m *Manager) applyOne(gs *graphSession, ss *sheetSession, st *stage, i int, in *protocol.Instruction) error {
	switch {
	case (in.NodeID == "") == (in.EdgeID == ""):
		return &BatchError{Index: i, Err: ErrNoTarget}
	case in.NodeID != "":
		return m.applyToNode(gs, ss, st, i, in)
	default:
		return m.applyToEdge(gs, ss, st, i, in)
	}
}

func (m *Manager) applyToNode(gs *graphSession, ss *sheetSession, st *stage, i int, in *protocol.Instruction) error {
	id := in.NodeID
	batchErr := func(err error) error { return &BatchError{Index: i, Target: "node " + id, Err: err} }

	current, staged := st.nodes[id]
	if !staged {
		current = ss.nodes[id]
	}
	exists := current != nil

	if isDeletion(in.I) {
		if !exists {
			return batchErr(ErrNodeNotFound)
		}
		if !targetMatches(in.TargetedIdentifier, current) {
			return batchErr(ErrIdentifierMismatch)
		}
		st.putNode(id, nil)
		return nil
	}

	if err := m.config.Applier.Validate(in.I); err != nil {
		return batchErr(err)
	}
	if !exists {
		if !isCreation(in.I) {
			return batchErr(ErrNodeNotFound)
		}
		current = graph.Node{}
	}

	if in.ApplyUniqIdentifier {
		gs.counter.Rewrite(patch.Inserted(in.I))
	}

	res := m.config.Applier.Apply(current, in.I, targetGuard(in.TargetedIdentifier))
	if !res.Success {
		return batchErr(guardError(in, res.Err))
	}
	node := graph.Node(res.Value)
	node["id"] = id
	st.putNode(id, node)
	return nil
}

func (m *Manager) applyToEdge(gs *graphSession, ss *sheetSession, st *stage, i int, in *protocol.Instruction) error {
	id := in.EdgeID
	batchErr := func(err error) error { return &BatchError{Index: i, Target: "edge " + id, Err: err} }

	var current graph.Edge
	if ch, staged := st.edges[id]; staged {
		current = ch.new
	} else if e, ok := ss.edges.Find(id); ok {
		current = e
	}

	if isDeletion(in.I) {
		if current == nil {
			return batchErr(ErrEdgeNotFound)
		}
		if !targetMatches(in.TargetedIdentifier, current) {
			return batchErr(ErrIdentifierMismatch)
		}
		st.putEdge(id, current, nil)
		return nil
	}

	if err := m.config.Applier.Validate(in.I); err != nil {
		return batchErr(err)
	}
	base := current
	if current == nil {
		if !isCreation(in.I) {
			return batchErr(ErrEdgeNotFound)
		}
		base = graph.Edge{}
	}

	if in.ApplyUniqIdentifier {
		gs.counter.Rewrite(patch.Inserted(in.I))
	}

	res := m.config.Applier.Apply(base, in.I, targetGuard(in.TargetedIdentifier))
	if !res.Success {
		return batchErr(guardError(in, res.Err))
	}
	edge := graph.Edge(res.Value)
	edge["id"] = id
	st.putEdge(id, current, edge)
	return nil
}

func (st *stage) putNode(id string, n graph.Node) {
	if _, ok := st.nodes[id]; !ok {
		st.nodeOrder = append(st.nodeOrder, id)
	}
	st.nodes[id] = n
}

// putEdge records a move from current to updated, keeping the committed
// value as the old side across repeated edits in one batch.
func (st *stage) putEdge(id string, current, updated graph.Edge) {
	if ch, ok := st.edges[id]; ok {
		ch.new = updated
		return
	}
	st.edgeOrder = append(st.edgeOrder, id)
	st.edges[id] = &edgeChange{old: current, new: updated}
}

// commit writes staged nodes into the node map and moves staged edges
// between adjacency keys.
func (m *Manager) commit(ss *sheetSession, st *stage) {
	for _, id := range st.nodeOrder {
		if n := st.nodes[id]; n != nil {
			ss.nodes[id] = n
		} else {
			delete(ss.nodes, id)
		}
	}
	for _, id := range st.edgeOrder {
		switch ch := st.edges[id]; {
		case ch.old != nil && ch.new != nil:
			ss.edges.Replace(ch.old, ch.new)
		case ch.old != nil:
			ss.edges.Remove(ch.old)
		case ch.new != nil:
			ss.edges.Insert(ch.new)
		}
	}
}

// fanOut sends a committed batch to every other user of the sheet
func (m *Manager) fanOut(ss *sheetSession, sender *user, entry HistoryEntry) {
	frame := &protocol.ApplyInstructions{
		Header:       protocol.Header{Type: protocol.TypeApplyInstructions},
		Instructions: entry.Instructions,
		Time:         entry.Time.UnixMilli(),
	}
	for _, other := range ss.users {
		if other == sender {
			continue
		}
		if err := other.conn.Send(frame); err != nil {
			m.logger.Debug("fan-out send failed", logging.UserID(other.id), logging.Error(err))
		}
	}
}

// isCreation reports whether p replaces the whole object, which is how a
// missing node or edge is created.
func isCreation(p patch.Patch) bool {
	return len(p.P) == 0 && p.Operation() == patch.OpSet
}

// isDeletion reports whether p removes the whole object
func isDeletion(p patch.Patch) bool {
	return len(p.P) == 0 && p.Operation() == patch.OpRemove
}

// targetGuard enforces the targeted-identifier check on the mutated object
func targetGuard(targeted string) patch.Guard {
	if targeted == "" {
		return nil
	}
	return func(candidate map[string]any) bool {
		return targetMatches(targeted, candidate)
	}
}

func targetMatches(targeted string, obj map[string]any) bool {
	if targeted == "" {
		return true
	}
	for _, field := range []string{graph.IdentifierField, "id"} {
		if v, ok := obj[field]; ok && v != nil && fmt.Sprint(v) == targeted {
			return true
		}
	}
	return false
}

func guardError(in *protocol.Instruction, err error) error {
	if in.TargetedIdentifier != "" && errors.Is(err, patch.ErrGuardRejected) {
		return fmt.Errorf("%w: expected %q", ErrIdentifierMismatch, in.TargetedIdentifier)
	}
	return err
}
