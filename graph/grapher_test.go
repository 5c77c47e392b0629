package graph

import (
	"testing"

	"Warp/analysis/cyclegraph"
	"Warp/analysis/history"
	"Warp/testutil"
	"Warp/trace"

	"github.com/sebdah/goldie/v2"
)

func TestCycleGraphDump(t *testing.T) {
	b := testutil.NewActionBuilder()
	w1 := b.Store(1, 1, 1, "q.c:1")
	w2 := b.Store(1, 1, 2, "q.c:2")
	w3 := b.Store(2, 1, 3, "q.c:3")
	r := b.RMW(2, 1, 2, 9, "q.c:4")

	g := cyclegraph.New()
	g.StartChanges()
	g.AddEdge(w1, w2)
	g.AddEdge(w2, w3)
	if err := g.AddRMWEdge(w2, r); err != nil {
		t.Fatalf("AddRMWEdge: %v", err)
	}
	g.CommitChanges()

	dg := CycleGraphToDot(g, "modorder")

	gold := goldie.New(t)
	gold.Assert(t, "cyclegraph", []byte(dg.String()))
}

func TestPredicateTreeDump(t *testing.T) {
	hist := history.NewHistory(trace.NewExecution())
	fn := hist.FuncNode("deq")
	b := testutil.NewActionBuilder()

	fn.FunctionEntry(1)
	for _, act := range []*trace.Action{
		b.Load(1, 10, 1, "q.c:3"),
		b.Load(1, 10, 2, "q.c:5"),
	} {
		fn.AddInst(act)
		fn.UpdateTree(act)
	}
	fn.FunctionExit(1)

	dg := PredicateTreeToDot(fn, "predtree_deq")

	gold := goldie.New(t)
	gold.Assert(t, "predtree", []byte(dg.String()))
}

func TestFuncGraphDump(t *testing.T) {
	hist := history.NewHistory(trace.NewExecution())
	main := hist.FuncNode("main")
	deq := hist.FuncNode("deq")
	main.AddOutEdge(deq)

	dg := FuncGraphToDot(hist, "funcgraph")

	gold := goldie.New(t)
	gold.Assert(t, "funcgraph", []byte(dg.String()))
}
