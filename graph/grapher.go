package graph

import (
	"fmt"
	"strings"

	"Warp/analysis/cyclegraph"
	"Warp/analysis/funcnode"
	"Warp/analysis/history"
	"Warp/utils"
	"Warp/utils/dot"
)

var opts = utils.Opts()

func baseAttrs() dot.Attrs {
	return dot.Attrs{
		"minlen":  fmt.Sprint(opts.Minlen()),
		"nodesep": fmt.Sprint(opts.Nodesep()),
		"rankdir": "TB",
	}
}

// CycleGraphToDot renders the modification-order/happens-before graph.
// Stores appear as N<seq> labeled with their sequence number and thread;
// the RMW successor is drawn dotted, all other constraints solid.
func CycleGraphToDot(g *cyclegraph.Graph, name string) *dot.Graph {
	dg := dot.New(name)
	dg.Attrs = baseAttrs()

	id := func(n *cyclegraph.Node) string {
		return fmt.Sprintf("N%d", n.Action().SeqNumber())
	}

	for _, node := range g.Nodes() {
		act := node.Action()
		dg.AddNode(id(node), dot.Attrs{
			"label": fmt.Sprintf("%d, T%d", act.SeqNumber(), act.Tid()),
		})

		if rmw := node.RMW(); rmw != nil && !rmw.IsPromise() {
			dg.AddEdge(id(node), id(rmw), dot.Attrs{"style": "dotted"})
		}

		for _, dst := range node.Edges() {
			if dst.IsPromise() {
				// Outstanding promises have no sequence number yet.
				continue
			}
			dg.AddEdge(id(node), id(dst), nil)
		}
	}

	return dg
}

func predicateLabel(p *funcnode.Predicate) string {
	switch {
	case p.IsEntry():
		return "entry"
	case p.IsExit():
		return "exit"
	}

	lines := []string{fmt.Sprintf("%s %s", p.FuncInst().Position(), p.FuncInst().Kind())}
	for _, expr := range p.Exprs() {
		switch expr.Token {
		case funcnode.NoPredicate:
			lines = append(lines, "true")
		case funcnode.Equality:
			lines = append(lines, fmt.Sprintf("== [%s] %t", expr.Inst.Position(), expr.Value))
		case funcnode.Nullity:
			lines = append(lines, fmt.Sprintf("null %t", expr.Value))
		}
	}
	lines = append(lines, fmt.Sprintf("expl %d fail %d", p.ExplCount(), p.FailCount()))
	return strings.Join(lines, "\\n")
}

// PredicateTreeToDot renders the decision tree of one function. Loop back
// edges are drawn dashed, the edge into the exit sentinel dotted.
func PredicateTreeToDot(fn *funcnode.FuncNode, name string) *dot.Graph {
	dg := dot.New(name)
	dg.Attrs = baseAttrs()
	dg.Attrs["label"] = fn.Name()

	ids := map[*funcnode.Predicate]string{}
	next := 0
	var number func(p *funcnode.Predicate)
	number = func(p *funcnode.Predicate) {
		if _, ok := ids[p]; ok {
			return
		}
		ids[p] = fmt.Sprintf("P%d", next)
		next++
		for _, child := range p.Children() {
			number(child)
		}
	}
	number(fn.EntryPredicate())
	ids[fn.ExitPredicate()] = "Pexit"

	var emit func(p *funcnode.Predicate)
	emit = func(p *funcnode.Predicate) {
		dg.AddNode(ids[p], dot.Attrs{"label": predicateLabel(p)})

		for _, child := range p.Children() {
			dg.AddEdge(ids[p], ids[child], nil)
			emit(child)
		}
		for _, back := range p.BackEdges() {
			dg.AddEdge(ids[p], ids[back], dot.Attrs{"style": "dashed"})
		}
		if exit := p.Exit(); exit != nil {
			dg.AddEdge(ids[p], ids[exit], dot.Attrs{"style": "dotted"})
		}
	}
	emit(fn.EntryPredicate())
	dg.AddNode("Pexit", dot.Attrs{"label": "exit"})

	return dg
}

// FuncGraphToDot renders the inter-function edge graph.
func FuncGraphToDot(h *history.ModelHistory, name string) *dot.Graph {
	dg := dot.New(name)
	dg.Attrs = baseAttrs()

	id := func(fn *funcnode.FuncNode) string {
		return fmt.Sprintf("F%d", fn.ID())
	}

	for _, fn := range h.FuncNodes() {
		dg.AddNode(id(fn), dot.Attrs{"label": fn.Name()})
		for _, out := range fn.OutEdges() {
			dg.AddEdge(id(fn), id(out), nil)
		}
	}

	return dg
}
