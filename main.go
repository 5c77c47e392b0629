package main

import (
	"fmt"
	"log"
	"sort"
	"strings"

	dot "Warp/graph"
	"Warp/trace"
	"Warp/utils"
	"Warp/utils/graph"
	udot "Warp/utils/dot"

	"Warp/analysis/funcnode"
)

var (
	opts = utils.Opts()
	task = opts.Task()
)

func main() {
	utils.ParseArgs()

	tr, err := trace.ParseFile(opts.TraceFile())
	if err != nil {
		log.Fatalf("Failed parsing trace: %v", err)
	}

	utils.VerbosePrint("Parsed %d actions over %d threads and %d functions\n",
		len(tr.Actions), len(tr.Threads()), len(tr.Functions()))

	p := newPipeline(tr)

	switch {
	case task.IsCheck():
		log.Println("Replaying trace...")
		p.run(opts.Executions())
		log.Println("Replay done")
		fmt.Println()
		p.stats.print(p.hist)

	case task.IsCyclegraphToDot():
		p.run(1)
		emitDot(dot.CycleGraphToDot(p.graph, "modorder"), "modorder")

	case task.IsPredtreeToDot():
		p.run(opts.Executions())
		for _, fn := range targetFuncNodes(p) {
			name := "predtree_" + fn.Name()
			emitDot(dot.PredicateTreeToDot(fn, name), name)
		}

	case task.IsFuncgraphToDot():
		p.run(opts.Executions())
		emitDot(dot.FuncGraphToDot(p.hist, "funcgraph"), "funcgraph")

	case task.IsFuncgraphSCC():
		p.run(opts.Executions())
		printFuncgraphSCC(p)

	case task.IsFrontier():
		p.run(opts.Executions())
		printFrontier(p)

	default:
		log.Fatalln("Unknown task. See -help for the available tasks.")
	}
}

// targetFuncNodes resolves the -fun flag: a specific function, or all of
// them for ".".
func targetFuncNodes(p *pipeline) []*funcnode.FuncNode {
	if opts.Function() == "." {
		return p.hist.FuncNodes()
	}

	for _, fn := range p.hist.FuncNodes() {
		if fn.Name() == opts.Function() {
			return []*funcnode.FuncNode{fn}
		}
	}

	log.Fatalf("No function named %s in the trace", opts.Function())
	return nil
}

func emitDot(dg *udot.Graph, base string) {
	if opts.OutputPrefix() == "" {
		fmt.Print(dg.String())
		return
	}

	outname := opts.OutputPrefix() + base
	if opts.Visualize() {
		img, err := dg.Render(outname, opts.OutputFormat())
		if err != nil {
			log.Fatalf("Rendering %s failed: %v", outname, err)
		}
		fmt.Println("Rendered", img)
		return
	}

	path, err := dg.WriteFile(outname)
	if err != nil {
		log.Fatalf("Writing %s failed: %v", outname, err)
	}
	fmt.Println("Wrote", path)
}

func printFuncgraphSCC(p *pipeline) {
	funcs := p.hist.FuncNodes()
	G := graph.Of(func(fn *funcnode.FuncNode) []*funcnode.FuncNode {
		return fn.OutEdges()
	})

	scc := G.SCC(funcs)
	for i, comp := range scc.Components {
		names := make([]string, 0, len(comp))
		for _, fn := range comp {
			names = append(names, fn.Name())
		}
		sort.Strings(names)
		fmt.Printf("Component %d: %s\n", i, strings.Join(names, ", "))
	}

	if len(funcs) == 0 {
		return
	}

	entry := funcs[0]
	for _, fn := range funcs[1:] {
		if d := entry.ComputeDistance(fn, opts.MaxDistance()); d >= 0 {
			fmt.Printf("Distance %s -> %s: %d\n", entry.Name(), fn.Name(), d)
		}
	}
}

func printFrontier(p *pipeline) {
	for _, fn := range targetFuncNodes(p) {
		fmt.Printf("%s:\n", fn.Name())
		for _, leaf := range fn.Frontier(opts.FrontierSize()) {
			site := "entry"
			if inst := leaf.FuncInst(); inst != nil {
				site = fmt.Sprintf("%s %s", inst.Position(), inst.Kind())
			}
			fmt.Printf("  %7.2f  depth %-3d expl %-4d fail %-3d %s\n",
				leaf.Weight(), leaf.Depth(), leaf.ExplCount(), leaf.FailCount(), site)
		}
	}
}
