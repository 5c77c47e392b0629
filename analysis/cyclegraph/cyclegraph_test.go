package cyclegraph

import (
	"testing"

	"Warp/testutil"
	"Warp/trace"
)

// checkAdjacencyInvariants verifies, for every node reachable through the
// graph's bookkeeping: back-edge symmetry, absence of self loops, and
// duplicate-free adjacency.
func checkAdjacencyInvariants(t *testing.T, g *Graph) {
	t.Helper()

	nodes := map[*Node]struct{}{}
	for _, n := range g.Nodes() {
		nodes[n] = struct{}{}
	}
	for _, n := range g.readerToPromiseNode {
		if n != nil {
			nodes[n] = struct{}{}
		}
	}

	for n := range nodes {
		seen := map[*Node]int{}
		for _, e := range n.Edges() {
			if e == n {
				t.Errorf("self loop on node %p", n)
			}
			seen[e]++
			if seen[e] > 1 {
				t.Errorf("duplicate forward edge %p -> %p", n, e)
			}

			found := false
			for _, b := range e.BackEdges() {
				if b == n {
					found = true
					break
				}
			}
			if !found {
				t.Errorf("missing back edge for %p -> %p", n, e)
			}
		}

		back := map[*Node]int{}
		for _, b := range n.BackEdges() {
			back[b]++
			if back[b] > 1 {
				t.Errorf("duplicate back edge %p <- %p", n, b)
			}

			found := false
			for _, e := range b.Edges() {
				if e == n {
					found = true
					break
				}
			}
			if !found {
				t.Errorf("back edge %p <- %p without forward counterpart", n, b)
			}
		}
	}
}

type graphSnapshot struct {
	edges     map[*Node][]*Node
	rmw       map[*Node]*Node
	hasCycles bool
}

func snapshot(g *Graph) graphSnapshot {
	s := graphSnapshot{
		edges:     map[*Node][]*Node{},
		rmw:       map[*Node]*Node{},
		hasCycles: g.HasCycles(),
	}
	for _, n := range g.Nodes() {
		s.edges[n] = append([]*Node{}, n.Edges()...)
		s.rmw[n] = n.RMW()
	}
	return s
}

func requireSnapshot(t *testing.T, g *Graph, want graphSnapshot) {
	t.Helper()

	if g.HasCycles() != want.hasCycles {
		t.Errorf("hasCycles = %t, want %t", g.HasCycles(), want.hasCycles)
	}

	for _, n := range g.Nodes() {
		wantEdges := want.edges[n]
		gotEdges := n.Edges()
		if len(gotEdges) != len(wantEdges) {
			t.Errorf("node %p has %d edges, want %d", n, len(gotEdges), len(wantEdges))
			continue
		}
		for i := range gotEdges {
			if gotEdges[i] != wantEdges[i] {
				t.Errorf("node %p edge %d differs after rollback", n, i)
			}
		}
		if n.RMW() != want.rmw[n] {
			t.Errorf("node %p rmw differs after rollback", n)
		}
	}
}

func TestEdgeInsertionAndCycle(t *testing.T) {
	b := testutil.NewActionBuilder()
	a := b.Store(1, 1, 1, "f.c:1")
	bb := b.Store(1, 1, 2, "f.c:2")
	c := b.Store(2, 1, 3, "f.c:3")

	g := New()
	g.StartChanges()

	if !g.AddEdge(a, bb) {
		t.Fatal("first insertion reported no change")
	}
	if !g.AddEdge(bb, c) {
		t.Fatal("second insertion reported no change")
	}
	if g.HasCycles() {
		t.Fatal("cycle before closing the loop")
	}
	if !g.CheckReachable(a, c) {
		t.Error("a should reach c")
	}
	if g.CheckReachable(c, a) {
		t.Error("c should not reach a yet")
	}

	g.AddEdge(c, a)
	if !g.HasCycles() {
		t.Fatal("closing the loop must set the cycle flag")
	}

	checkAdjacencyInvariants(t, g)

	// Nothing was committed yet, so rollback removes all three edges.
	g.RollbackChanges()
	if g.HasCycles() {
		t.Error("rollback must restore the committed cycle flag")
	}
	if len(g.Node(a).Edges()) != 0 || len(g.Node(bb).Edges()) != 0 {
		t.Error("rollback must remove all uncommitted edges")
	}

	// Re-add the first two edges and commit; only then close the cycle.
	g.StartChanges()
	g.AddEdge(a, bb)
	g.AddEdge(bb, c)
	g.CommitChanges()

	g.StartChanges()
	g.AddEdge(c, a)
	if !g.HasCycles() {
		t.Fatal("closing the loop must set the cycle flag")
	}
	g.RollbackChanges()

	if g.HasCycles() {
		t.Error("hasCycles survived rollback")
	}
	if !g.CheckReachable(a, c) || g.CheckReachable(c, a) {
		t.Error("rollback must leave exactly a->b->c")
	}
	checkAdjacencyInvariants(t, g)
}

func TestDuplicateEdgeRecordsNothing(t *testing.T) {
	b := testutil.NewActionBuilder()
	a := b.Store(1, 1, 1, "f.c:1")
	bb := b.Store(1, 1, 2, "f.c:2")

	g := New()
	g.StartChanges()
	g.AddEdge(a, bb)
	g.CommitChanges()

	g.StartChanges()
	if g.AddEdge(a, bb) {
		t.Error("duplicate edge reported as a change")
	}
	if len(g.rollbackvector) != 0 {
		t.Error("duplicate edge was recorded for rollback")
	}
	g.CommitChanges()

	if len(g.Node(a).Edges()) != 1 {
		t.Error("duplicate edge was inserted")
	}
}

func TestSelfLoopRejected(t *testing.T) {
	b := testutil.NewActionBuilder()
	a := b.Store(1, 1, 1, "f.c:1")

	g := New()
	g.StartChanges()
	node := g.GetOrCreate(a)
	if node.addEdge(node) {
		t.Fatal("self loop inserted")
	}
	if len(node.Edges()) != 0 || len(node.BackEdges()) != 0 {
		t.Fatal("self loop left residue")
	}
}

func TestRMWAtomicity(t *testing.T) {
	b := testutil.NewActionBuilder()
	w := b.Store(1, 1, 1, "f.c:1")
	x := b.Store(1, 1, 2, "f.c:2")
	r := b.RMW(2, 1, 1, 5, "f.c:3")

	g := New()
	g.StartChanges()
	g.AddEdge(w, x)

	// S2: the RMW inherits w's outgoing edges.
	if err := g.AddRMWEdge(w, r); err != nil {
		t.Fatalf("AddRMWEdge: %v", err)
	}

	wNode, rNode, xNode := g.Node(w), g.Node(r), g.Node(x)
	if wNode.RMW() != rNode {
		t.Error("w.rmw not set to r")
	}
	if !g.CheckReachable(w, r) {
		t.Error("missing edge w -> r")
	}

	found := false
	for _, e := range rNode.Edges() {
		if e == xNode {
			found = true
		}
	}
	if !found {
		t.Error("missing inherited edge r -> x")
	}
	if g.HasCycles() {
		t.Error("rmw edge must not set the cycle flag")
	}
	checkAdjacencyInvariants(t, g)

	// A second RMW reading from w is a contradiction.
	r2 := b.RMW(2, 1, 1, 6, "f.c:4")
	if err := g.AddRMWEdge(w, r2); err != ErrRMWAtomicity {
		t.Errorf("second RMW: err = %v, want ErrRMWAtomicity", err)
	}
	if !g.HasCycles() {
		t.Error("second RMW must set the cycle flag")
	}
}

func TestRMWEdgePropagation(t *testing.T) {
	b := testutil.NewActionBuilder()
	w := b.Store(1, 1, 1, "f.c:1")
	r := b.RMW(2, 1, 1, 5, "f.c:2")
	y := b.Store(1, 1, 3, "f.c:3")

	g := New()
	g.StartChanges()
	if err := g.AddRMWEdge(w, r); err != nil {
		t.Fatalf("AddRMWEdge: %v", err)
	}
	g.CommitChanges()

	// An edge asserted on the store propagates to its RMW reader: nothing
	// may come between the two.
	g.StartChanges()
	g.AddEdge(w, y)
	if !g.CheckReachable(r, y) {
		t.Error("edge w -> y did not propagate to r -> y")
	}
	g.CommitChanges()
	checkAdjacencyInvariants(t, g)
}

func TestRollbackExactness(t *testing.T) {
	b := testutil.NewActionBuilder()
	w := b.Store(1, 1, 1, "f.c:1")
	x := b.Store(1, 1, 2, "f.c:2")
	y := b.Store(2, 1, 3, "f.c:3")
	r := b.RMW(2, 1, 2, 7, "f.c:4")

	g := New()
	g.StartChanges()
	g.AddEdge(w, x)
	g.AddEdge(x, y)
	g.CommitChanges()

	committed := snapshot(g)

	// Invariant 7: any uncommitted operation sequence fully unwinds.
	g.StartChanges()
	g.AddEdge(y, w) // closes a cycle
	g.AddRMWEdge(x, r)
	g.AddEdge(r, y)
	if !g.HasCycles() {
		t.Fatal("expected a cycle inside the transaction")
	}
	g.RollbackChanges()

	requireSnapshot(t, g, committed)
	checkAdjacencyInvariants(t, g)

	// The transaction log is reusable afterwards.
	g.StartChanges()
	g.AddEdge(w, y)
	g.CommitChanges()
	if g.HasCycles() {
		t.Error("unexpected cycle after commit")
	}
}

func TestPromiseResolveWithoutWriter(t *testing.T) {
	b := testutil.NewActionBuilder()
	reader := b.Load(1, 1, 42, "f.c:1")
	writer := b.Store(2, 1, 42, "f.c:2")

	g := New()
	promise := trace.NewPromise(reader, []trace.ThreadID{1, 2})
	g.GetOrCreatePromise(promise)

	// S3: no prior writer node; the promise node converts in place.
	mustResolve, err := g.ResolvePromise(reader, writer)
	if err != nil {
		t.Fatalf("ResolvePromise: %v", err)
	}
	if len(mustResolve) != 0 {
		t.Errorf("mustResolve = %d promises, want none", len(mustResolve))
	}

	if node, ok := g.readerToPromiseNode[reader]; !ok || node != nil {
		t.Error("promise slot must hold a tombstone")
	}
	if g.PromiseNode(promise) != nil {
		t.Error("resolved promise still has an outstanding node")
	}

	wNode := g.Node(writer)
	if wNode == nil || wNode.IsPromise() {
		t.Fatal("writer has no concrete node after resolution")
	}
	if len(wNode.Edges()) != 0 || len(wNode.BackEdges()) != 0 {
		t.Error("resolution must not add edges")
	}
}

func TestPromiseResolveInheritsEdges(t *testing.T) {
	b := testutil.NewActionBuilder()
	w0 := b.Store(1, 1, 1, "f.c:1")
	reader := b.Load(2, 1, 42, "f.c:2")
	writer := b.Store(1, 1, 42, "f.c:3")

	g := New()
	promise := trace.NewPromise(reader, []trace.ThreadID{1})

	g.StartChanges()
	g.AddPromiseEdge(w0, promise)
	g.CommitChanges()

	// Create the writer node first so resolution goes through the merge.
	g.GetOrCreate(writer)
	mustResolve, err := g.ResolvePromise(reader, writer)
	if err != nil {
		t.Fatalf("ResolvePromise: %v", err)
	}
	if len(mustResolve) != 0 {
		t.Errorf("unexpected forced resolutions: %d", len(mustResolve))
	}

	// Invariant 8: the writer inherits every edge the promise node had.
	if !g.CheckReachable(w0, writer) {
		t.Error("edge w0 -> promise was not re-anchored on the writer")
	}
	if g.PromiseNode(promise) != nil {
		t.Error("promise node survived the merge")
	}
	checkAdjacencyInvariants(t, g)
}

func TestPromiseMergeForcesOtherPromises(t *testing.T) {
	b := testutil.NewActionBuilder()
	r1 := b.Load(1, 1, 10, "f.c:1")
	r2 := b.Load(2, 1, 20, "f.c:2")
	w := b.Store(3, 1, 10, "f.c:3")

	g := New()
	p1 := trace.NewPromise(r1, []trace.ThreadID{3})
	p2 := trace.NewPromise(r2, []trace.ThreadID{3})

	n1 := g.GetOrCreatePromise(p1)
	n2 := g.GetOrCreatePromise(p2)
	n1.addEdge(n2)

	// Re-anchoring p1 -> p2 on the writer would close a cycle, so p2 is
	// forced onto the same writer, but it promises a different value.
	wNode := g.GetOrCreate(w)
	n2.addEdge(wNode)

	mustResolve, err := g.ResolvePromise(r1, w)
	if err != ErrIncompatiblePromise {
		t.Fatalf("err = %v, want ErrIncompatiblePromise (p2 promises a different value)", err)
	}
	if len(mustResolve) != 1 || mustResolve[0] != p2 {
		t.Fatalf("mustResolve = %v, want [p2]", mustResolve)
	}
	if !g.HasCycles() {
		t.Error("incompatible forced merge must set the cycle flag")
	}
}

func TestPromiseMergeTransitive(t *testing.T) {
	b := testutil.NewActionBuilder()
	r1 := b.Load(1, 1, 10, "f.c:1")
	r2 := b.Load(2, 1, 10, "f.c:2")
	w := b.Store(3, 1, 10, "f.c:3")

	g := New()
	p1 := trace.NewPromise(r1, []trace.ThreadID{3})
	p2 := trace.NewPromise(r2, []trace.ThreadID{3})

	n1 := g.GetOrCreatePromise(p1)
	n2 := g.GetOrCreatePromise(p2)
	n1.addEdge(n2)

	wNode := g.GetOrCreate(w)
	n2.addEdge(wNode)

	// Both promises promise w's value; the forced merge succeeds and p2's
	// node disappears, its edges re-anchored on w.
	mustResolve, err := g.ResolvePromise(r1, w)
	if err != nil {
		t.Fatalf("ResolvePromise: %v", err)
	}
	if len(mustResolve) != 1 || mustResolve[0] != p2 {
		t.Fatalf("mustResolve = %v, want [p2]", mustResolve)
	}
	if g.PromiseNode(p1) != nil || g.PromiseNode(p2) != nil {
		t.Error("merged promise nodes must be gone")
	}
	if g.HasCycles() {
		t.Error("compatible transitive merge must not set the cycle flag")
	}
	checkAdjacencyInvariants(t, g)
}

func TestCheckPromise(t *testing.T) {
	b := testutil.NewActionBuilder()
	w1 := b.Store(1, 1, 1, "f.c:1")
	w2 := b.Store(2, 1, 2, "f.c:2")
	reader := b.Load(3, 1, 99, "f.c:3")

	g := New()
	g.StartChanges()
	g.AddEdge(w1, w2)
	g.CommitChanges()

	// Threads 1 and 2 both appear downstream of w1; once both are
	// eliminated the promise has no candidate writer left.
	promise := trace.NewPromise(reader, []trace.ThreadID{1, 2})
	if !g.CheckPromise(w1, promise) {
		t.Error("promise should fail once every candidate thread is eliminated")
	}

	// A promise with some other candidate thread survives.
	survivor := trace.NewPromise(reader, []trace.ThreadID{1, 2, 3})
	if g.CheckPromise(w1, survivor) {
		t.Error("promise with a remaining candidate should survive")
	}

	// Boundary: an exhausted promise fails without traversal.
	exhausted := trace.NewPromise(reader, nil)
	if !g.CheckPromise(w1, exhausted) {
		t.Error("exhausted promise must fail immediately")
	}
}

func TestStartChangesAssertsCleanState(t *testing.T) {
	b := testutil.NewActionBuilder()
	a := b.Store(1, 1, 1, "f.c:1")
	bb := b.Store(1, 1, 2, "f.c:2")

	g := New()
	g.StartChanges()
	g.AddEdge(a, bb)

	defer func() {
		if recover() == nil {
			t.Error("StartChanges on dirty state must panic")
		}
	}()
	g.StartChanges()
}
