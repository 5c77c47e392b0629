package graph

import "testing"

func sccOf(t *testing.T, scc SCCDecomposition[int], nodes ...int) int {
	t.Helper()
	comp := scc.ComponentOf(nodes[0])
	for _, n := range nodes[1:] {
		if scc.ComponentOf(n) != comp {
			t.Errorf("nodes %v expected in one component", nodes)
		}
	}
	return comp
}

func TestSCCDecomposition(t *testing.T) {
	scc := _sampleGraph.SCC([]int{0})

	// {0,1,4}, {2,3,7}, {5,6} are the cyclic components.
	c014 := sccOf(t, scc, 0, 1, 4)
	c237 := sccOf(t, scc, 2, 3, 7)
	c56 := sccOf(t, scc, 5, 6)

	if c014 == c237 || c014 == c56 || c237 == c56 {
		t.Error("distinct cycles collapsed into one component")
	}

	// Component indices are a reverse topological order: edges go from
	// higher to lower indices.
	for n, succs := range edges {
		for _, s := range succs {
			if scc.ComponentOf(n) < scc.ComponentOf(s) {
				t.Errorf("edge %d -> %d goes to a higher component", n, s)
			}
		}
	}

	if scc.ComponentOf(99) != -1 {
		t.Error("unknown node must report component -1")
	}
}

func TestSCCToGraph(t *testing.T) {
	scc := _sampleGraph.SCC([]int{0})
	dag := scc.ToGraph()

	for i := range scc.Components {
		for _, j := range dag.Edges(i) {
			if j >= i {
				t.Errorf("component edge %d -> %d violates the DAG order", i, j)
			}
		}
	}
}
