package cyclegraph

import (
	"errors"
	"fmt"

	"Warp/trace"
	"Warp/utils"
	"Warp/utils/hmap"
	"Warp/utils/worklist"
)

// Graph is the happens-before/modification-order constraint graph of one
// execution. Edge insertion checks reachability online and records enough
// undo information that a speculative extension can be rolled back to the
// last committed state.
//
// The graph is not safe for concurrent use; the checker drives it from a
// single thread.
type Graph struct {
	actionToNode map[*trace.Action]*Node

	// readerToPromiseNode maps the reader that generated an outstanding
	// promise to its node. A nil entry is a tombstone left behind by
	// resolution: lookups treat it as absent.
	readerToPromiseNode map[*trace.Action]*Node

	// nodeList remembers insertion order for reproducible dumps.
	nodeList []*Node

	hasCycles bool
	oldCycles bool

	// rollbackvector holds, per inserted forward edge, the node whose last
	// edge must be popped to undo the insertion. rmwrollbackvector holds the
	// nodes whose rmw field must be cleared.
	rollbackvector    []*Node
	rmwrollbackvector []*Node

	// discovered is the scratch visited-set shared by all searches. Calls
	// must not nest.
	discovered *hmap.Map[*Node, struct{}]
}

// Contradiction errors. Each leaves the graph with HasCycles() == true so the
// driver treats them exactly like an ordinary cycle.
var (
	ErrRMWAtomicity        = errors.New("cyclegraph: two RMW actions read from the same store")
	ErrIncompatiblePromise = errors.New("cyclegraph: promise incompatible with resolving write")
	ErrResolutionCycle     = errors.New("cyclegraph: promise resolution closes a cycle")
)

func New() *Graph {
	return &Graph{
		actionToNode:        make(map[*trace.Action]*Node),
		readerToPromiseNode: make(map[*trace.Action]*Node),
		discovered:          hmap.NewMap[struct{}, *Node](utils.PointerHasher[*Node]{}),
	}
}

func (g *Graph) putNode(act *trace.Action, node *Node) {
	g.actionToNode[act] = node
	g.nodeList = append(g.nodeList, node)
}

// Node returns the concrete node of act, or nil.
func (g *Graph) Node(act *trace.Action) *Node {
	return g.actionToNode[act]
}

// PromiseNode returns the outstanding node of a promise, or nil if the
// promise is unknown or already resolved.
func (g *Graph) PromiseNode(promise *trace.Promise) *Node {
	return g.readerToPromiseNode[promise.Action()]
}

// Nodes lists every concrete node in insertion order.
func (g *Graph) Nodes() []*Node {
	return g.nodeList
}

// GetOrCreate returns the node of a store action, creating it on first
// sight.
func (g *Graph) GetOrCreate(act *trace.Action) *Node {
	node := g.actionToNode[act]
	if node == nil {
		node = newActionNode(act)
		g.putNode(act, node)
	}
	return node
}

// GetOrCreatePromise returns the node of an outstanding promise, creating
// it on first sight. The node is keyed by the promise's reader.
func (g *Graph) GetOrCreatePromise(promise *trace.Promise) *Node {
	reader := promise.Action()
	node := g.readerToPromiseNode[reader]
	if node == nil {
		node = newPromiseNode(promise)
		g.readerToPromiseNode[reader] = node
	}
	return node
}

// ResolvePromise binds the outstanding promise generated by reader to the
// given writer. When other outstanding promises turn out to be forced onto
// the same writer, they are returned in mustResolve for the caller to
// surface; the graph has already merged their nodes.
//
// Resolution mutates committed state and cannot be rolled back; callers
// only invoke it on committed state, and never roll back a transaction
// that contains it.
func (g *Graph) ResolvePromise(reader, writer *trace.Action) (mustResolve []*trace.Promise, err error) {
	promiseNode := g.readerToPromiseNode[reader]
	if promiseNode == nil {
		panic(fmt.Sprintf("cyclegraph: resolving unknown promise of reader %d", reader.SeqNumber()))
	}

	if wNode := g.actionToNode[writer]; wNode != nil {
		err = g.mergeNodes(wNode, promiseNode, &mustResolve)
		return
	}

	// No existing write node; just convert the promise node.
	promiseNode.resolvePromise(writer)
	g.readerToPromiseNode[reader] = nil // tombstone
	g.putNode(writer, promiseNode)
	return nil, nil
}

// mergeNodes folds promise node pNode into the concrete write node wNode,
// re-anchoring every edge of pNode on wNode. A transferred edge between two
// promises that would close a cycle forces the other promise onto the same
// writer instead: it is appended to mustResolve and merged recursively.
//
// This operation cannot be rolled back.
func (g *Graph) mergeNodes(wNode, pNode *Node, mustResolve *[]*trace.Promise) error {
	if wNode.IsPromise() {
		panic("cyclegraph: merge target is not a concrete write node")
	}
	if !pNode.IsPromise() {
		panic("cyclegraph: merge source is not a promise node")
	}

	promise := pNode.Promise()
	if !promise.IsCompatible(wNode.Action()) {
		g.hasCycles = true
		return ErrIncompatiblePromise
	}

	// Transfer back edges to wNode.
	for len(pNode.backEdges) > 0 {
		back := pNode.removeLastBackEdge()
		if back == wNode {
			continue
		}
		switch {
		case back.IsPromise() && g.checkReachable(wNode, back):
			// An edge back -> wNode would close a cycle; merge instead.
			*mustResolve = append(*mustResolve, back.Promise())
			if err := g.mergeNodes(wNode, back, mustResolve); err != nil {
				return err
			}
		case back.IsPromise():
			back.addEdge(wNode)
		default:
			g.addNodeEdge(back, wNode)
		}
	}

	// Transfer forward edges to wNode.
	for len(pNode.edges) > 0 {
		forward := pNode.removeLastEdge()
		if forward == wNode {
			continue
		}
		switch {
		case forward.IsPromise() && g.checkReachable(forward, wNode):
			*mustResolve = append(*mustResolve, forward.Promise())
			if err := g.mergeNodes(wNode, forward, mustResolve); err != nil {
				return err
			}
		case forward.IsPromise():
			wNode.addEdge(forward)
		default:
			g.addNodeEdge(wNode, forward)
		}
	}

	// pNode is dead; tombstone its slot.
	g.readerToPromiseNode[promise.Action()] = nil

	if g.hasCycles {
		return ErrResolutionCycle
	}
	return nil
}

// AddEdge asserts that the store action from happens before the store
// action to. Reports whether any new edge was inserted.
func (g *Graph) AddEdge(from, to *trace.Action) bool {
	return g.addNodeEdge(g.GetOrCreate(from), g.GetOrCreate(to))
}

// AddPromiseEdge asserts an edge from a store action to an outstanding
// promise node.
func (g *Graph) AddPromiseEdge(from *trace.Action, promise *trace.Promise) bool {
	return g.addNodeEdge(g.GetOrCreate(from), g.GetOrCreatePromise(promise))
}

func (g *Graph) addNodeEdge(fromnode, tonode *Node) bool {
	if !g.hasCycles {
		g.hasCycles = g.checkReachable(tonode, fromnode)
	}

	added := fromnode.addEdge(tonode)
	if added {
		g.rollbackvector = append(g.rollbackvector, fromnode)
	}

	// The RMW reading from fromnode inherits the edge: no store may be
	// ordered between a store and its RMW reader.
	if rmwnode := fromnode.rmw; rmwnode != nil && rmwnode != tonode {
		if !g.hasCycles {
			g.hasCycles = g.checkReachable(tonode, rmwnode)
		}

		if rmwnode.addEdge(tonode) {
			g.rollbackvector = append(g.rollbackvector, rmwnode)
			added = true
		}
	}
	return added
}

// AddRMWEdge asserts that rmw reads from the store from. The two key
// differences to a plain edge: no store may be ordered between the two
// actions, so rmw inherits every outgoing edge of from; and only one RMW
// may read from a given store; a second one is a contradiction.
func (g *Graph) AddRMWEdge(from, rmw *trace.Action) error {
	if from == nil || rmw == nil {
		panic("cyclegraph: nil action in RMW edge")
	}

	fromnode := g.GetOrCreate(from)
	rmwnode := g.GetOrCreate(rmw)

	var err error
	if fromnode.setRMW(rmwnode) {
		g.hasCycles = true
		err = ErrRMWAtomicity
	} else {
		g.rmwrollbackvector = append(g.rmwrollbackvector, fromnode)
	}

	// Transfer all outgoing edges of fromnode to rmwnode. This cannot close
	// a cycle: either rmwnode is brand new and has no incoming edges, or
	// fromnode is brand new and has no outgoing edges.
	for _, tonode := range fromnode.edges {
		if tonode != rmwnode {
			if rmwnode.addEdge(tonode) {
				g.rollbackvector = append(g.rollbackvector, rmwnode)
			}
		}
	}

	g.addNodeEdge(fromnode, rmwnode)
	return err
}

// CheckReachable reports whether from can reach to along forward edges.
// Unknown actions reach nothing.
func (g *Graph) CheckReachable(from, to *trace.Action) bool {
	fromnode := g.actionToNode[from]
	tonode := g.actionToNode[to]
	if fromnode == nil || tonode == nil {
		return false
	}
	return g.checkReachable(fromnode, tonode)
}

// checkReachable runs an iterative depth-first search on forward edges,
// using the shared scratch set. Not reentrant.
func (g *Graph) checkReachable(from, to *Node) bool {
	g.discovered.Clear()

	stack := []*Node{from}
	g.discovered.Set(from, struct{}{})
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if node == to {
			return true
		}

		for _, next := range node.edges {
			if !g.discovered.Contains(next) {
				g.discovered.Set(next, struct{}{})
				stack = append(stack, next)
			}
		}
	}
	return false
}

// CheckPromise reports whether the promise has become unsatisfiable: every
// concrete store reachable from fromact eliminates its thread from the
// promise's candidate writers, and the promise fails once none remain. An
// already exhausted promise fails without traversal.
func (g *Graph) CheckPromise(fromact *trace.Action, promise *trace.Promise) bool {
	if promise.HasFailed() {
		return true
	}

	from := g.actionToNode[fromact]
	if from == nil {
		panic(fmt.Sprintf("cyclegraph: promise check from unknown action %d", fromact.SeqNumber()))
	}

	g.discovered.Clear()
	g.discovered.Set(from, struct{}{})

	failed := false
	worklist.Start(from, func(node *Node, add func(*Node)) {
		if failed {
			return
		}
		if !node.IsPromise() && promise.EliminateThread(node.Action().Tid()) {
			failed = true
			return
		}

		for _, next := range node.edges {
			if !g.discovered.Contains(next) {
				g.discovered.Set(next, struct{}{})
				add(next)
			}
		}
	})
	return failed
}

// HasCycles reports whether the graph contains a cycle, i. e. the current
// speculative extension contradicts itself.
func (g *Graph) HasCycles() bool {
	return g.hasCycles
}

// StartChanges opens a transaction. At most one transaction may be open;
// opening one on unclean state is a programmer error.
func (g *Graph) StartChanges() {
	if len(g.rollbackvector) != 0 || len(g.rmwrollbackvector) != 0 {
		panic("cyclegraph: starting changes with a non-empty rollback log")
	}
	if g.oldCycles != g.hasCycles {
		panic("cyclegraph: starting changes with uncommitted cycle flag")
	}
}

// CommitChanges commits the open transaction.
func (g *Graph) CommitChanges() {
	g.rollbackvector = g.rollbackvector[:0]
	g.rmwrollbackvector = g.rmwrollbackvector[:0]
	g.oldCycles = g.hasCycles
}

// RollbackChanges undoes every change since the matching StartChanges.
func (g *Graph) RollbackChanges() {
	for _, node := range g.rollbackvector {
		node.removeLastEdge()
	}
	for _, node := range g.rmwrollbackvector {
		node.clearRMW()
	}

	g.hasCycles = g.oldCycles
	g.rollbackvector = g.rollbackvector[:0]
	g.rmwrollbackvector = g.rmwrollbackvector[:0]
}
