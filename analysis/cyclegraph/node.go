package cyclegraph

import (
	"fmt"

	"Warp/trace"
)

// A Node is a vertex in the constraint graph. It has exactly one of two
// shapes: concrete (it stands for a store action) or promise (it stands for
// a speculated future write, keyed by the reader that demanded it). A
// promise node may be converted in place to a concrete node; the reverse
// never happens.
type Node struct {
	action  *trace.Action
	promise *trace.Promise

	// edges are the forward "must happen before" successors. backEdges
	// mirror them: y ∈ x.edges ⇔ x ∈ y.backEdges. Back edges exist only so
	// that edge removal during promise merging and rollback is O(degree);
	// reachability queries go forward.
	edges     []*Node
	backEdges []*Node

	// rmw is the unique RMW node reading from this store, if any.
	rmw *Node
}

func newActionNode(act *trace.Action) *Node {
	return &Node{action: act}
}

func newPromiseNode(promise *trace.Promise) *Node {
	return &Node{promise: promise}
}

func (n *Node) IsPromise() bool { return n.promise != nil }

// Action is the store action of a concrete node, nil for promise nodes.
func (n *Node) Action() *trace.Action { return n.action }

// Promise is the promise descriptor of a promise node, nil for concrete
// nodes.
func (n *Node) Promise() *trace.Promise { return n.promise }

func (n *Node) Edges() []*Node     { return n.edges }
func (n *Node) BackEdges() []*Node { return n.backEdges }

// RMW returns the RMW node that reads from this store, if one was set.
func (n *Node) RMW() *Node { return n.rmw }

// addEdge inserts a forward edge to node, wiring the matching back edge.
// Duplicate edges and self loops are rejected. Reports whether a new edge
// was inserted.
func (n *Node) addEdge(node *Node) bool {
	if node == n {
		return false
	}
	for _, e := range n.edges {
		if e == node {
			return false
		}
	}
	n.edges = append(n.edges, node)
	node.backEdges = append(node.backEdges, n)
	return true
}

// removeLastEdge pops the most recently inserted forward edge, unwiring the
// matching back edge on the target. Returns the former target, or nil if
// there was none.
func (n *Node) removeLastEdge() *Node {
	if len(n.edges) == 0 {
		return nil
	}

	ret := n.edges[len(n.edges)-1]
	n.edges = n.edges[:len(n.edges)-1]
	removeNode(&ret.backEdges, n)
	return ret
}

// removeLastBackEdge pops the most recently inserted back edge, unwiring the
// matching forward edge on the source. Returns the former source, or nil if
// there was none.
func (n *Node) removeLastBackEdge() *Node {
	if len(n.backEdges) == 0 {
		return nil
	}

	ret := n.backEdges[len(n.backEdges)-1]
	n.backEdges = n.backEdges[:len(n.backEdges)-1]
	removeNode(&ret.edges, n)
	return ret
}

func removeNode(v *[]*Node, n *Node) bool {
	for i, e := range *v {
		if e == n {
			*v = append((*v)[:i], (*v)[i+1:]...)
			return true
		}
	}
	return false
}

// setRMW installs the RMW node that reads from this store. Reports true if
// this store already had an RMW reader, in which case nothing is installed:
// two RMW actions cannot read from the same write.
func (n *Node) setRMW(node *Node) bool {
	if n.rmw != nil {
		return true
	}
	n.rmw = node
	return false
}

func (n *Node) clearRMW() {
	n.rmw = nil
}

// resolvePromise converts a promise node into a concrete node in place.
// Only valid when no concrete node exists for this write yet; merging
// handles the other case.
func (n *Node) resolvePromise(writer *trace.Action) {
	if !n.IsPromise() {
		panic(fmt.Sprintf("cyclegraph: resolving non-promise node for action %d", n.action.SeqNumber()))
	}
	if !n.promise.IsCompatible(writer) {
		panic(fmt.Sprintf("cyclegraph: resolving promise of reader %d with incompatible writer %d",
			n.promise.Action().SeqNumber(), writer.SeqNumber()))
	}
	n.action = writer
	n.promise = nil
}
