package utils

import (
	"flag"
	"fmt"
	"log"
	"os"
)

type options struct {
	trace        string
	task         string
	function     string
	outputFormat string
	outputPrefix string
	minlen       uint
	nodesep      float64
	executions   uint
	frontierSize uint
	maxDistance  uint
	metrics      bool
	noColorize   bool
	verbose      bool
	visualize    bool
}

const (
	_CHECK = iota
	_CYCLEGRAPH_TO_DOT
	_PREDTREE_TO_DOT
	_FUNCGRAPH_TO_DOT
	_FUNCGRAPH_SCC
	_FRONTIER
)

var task = []struct{ flag, explanation string }{{
	"check",
	"Replay the trace for the configured number of executions and report contradictions, promise failures and exploration statistics",
}, {
	"cyclegraph-to-dot",
	"Replay one execution and dump the modification-order/happens-before graph in Graphviz format",
}, {
	"predtree-to-dot",
	"Replay the trace and dump the predicate tree of the targeted function (or all functions) in Graphviz format",
}, {
	"funcgraph-to-dot",
	"Replay the trace and dump the inter-function edge graph in Graphviz format",
}, {
	"funcgraph-scc",
	"Replay the trace and print the strongly connected components of the inter-function graph",
}, {
	"frontier",
	"Replay the trace and print the highest-weight predicate leaves, i. e. the branches a scheduler should steer toward next",
}}

var opts = &options{}

type optInterface struct{}

type taskInterface struct{}

func Opts() optInterface {
	return optInterface{}
}

func (optInterface) TraceFile() string {
	return opts.trace
}
func (optInterface) Function() string {
	return opts.function
}
func (optInterface) OutputFormat() string {
	return opts.outputFormat
}
func (optInterface) OutputPrefix() string {
	return opts.outputPrefix
}
func (optInterface) Minlen() uint {
	return opts.minlen
}
func (optInterface) Nodesep() float64 {
	return opts.nodesep
}
func (optInterface) Executions() int {
	if opts.executions == 0 {
		return 1
	}
	return int(opts.executions)
}
func (optInterface) FrontierSize() int {
	return int(opts.frontierSize)
}
func (optInterface) MaxDistance() int {
	return int(opts.maxDistance)
}
func (optInterface) Metrics() bool {
	return opts.metrics
}
func (optInterface) NoColorize() bool {
	return opts.noColorize
}
func (optInterface) Verbose() bool {
	return opts.verbose
}
func (optInterface) Visualize() bool {
	return opts.visualize
}

func (optInterface) OnVerbose(f func()) {
	if opts.verbose {
		f()
	}
}

func (optInterface) Task() taskInterface {
	return taskInterface{}
}

func (taskInterface) IsCheck() bool {
	return opts.task == task[_CHECK].flag
}
func (taskInterface) IsCyclegraphToDot() bool {
	return opts.task == task[_CYCLEGRAPH_TO_DOT].flag
}
func (taskInterface) IsPredtreeToDot() bool {
	return opts.task == task[_PREDTREE_TO_DOT].flag
}
func (taskInterface) IsFuncgraphToDot() bool {
	return opts.task == task[_FUNCGRAPH_TO_DOT].flag
}
func (taskInterface) IsFuncgraphSCC() bool {
	return opts.task == task[_FUNCGRAPH_SCC].flag
}
func (taskInterface) IsFrontier() bool {
	return opts.task == task[_FRONTIER].flag
}

func init() {
	taskFlag := "\n"
	for _, task := range task {
		taskFlag += task.flag + " -- " + task.explanation + "\n"
	}
	taskFlag += "\n"

	flag.StringVar(&(opts.trace), "trace", "", "path of the trace file to replay")
	flag.StringVar(&(opts.task), "task", task[_CHECK].flag, "Set the task to do during execution. Options:"+taskFlag)
	flag.StringVar(&(opts.function), "fun", ".", "target a specific function w. r. t. the given task.\n"+
		"Use '.' to target every function appearing in the trace.")
	flag.StringVar(&(opts.outputFormat), "format", "svg", "output file format [svg | png | jpg | ...]")
	flag.StringVar(&(opts.outputPrefix), "output", "", "file prefix for Graphviz dumps; empty prints to stdout")
	flag.UintVar(&(opts.minlen), "minlen", 2, "Minimum edge length (for wider output).")
	flag.Float64Var(&(opts.nodesep), "nodesep", 0.35, "Minimum space between two adjacent nodes in the same rank (for taller output).")
	flag.UintVar(&(opts.executions), "executions", 1, "number of times to replay the trace; the predicate tree persists across replays")
	flag.UintVar(&(opts.frontierSize), "frontier-size", 10, "number of predicate leaves reported by the frontier task")
	flag.UintVar(&(opts.maxDistance), "max-distance", 8, "depth cutoff for inter-function distance queries")
	flag.BoolVar(&(opts.metrics), "metrics", false, "Enable collection of per-function exploration metrics")
	flag.BoolVar(&(opts.noColorize), "no-colorize", false, "Disable pretty printer colorization")
	flag.BoolVar(&(opts.verbose), "verbose", false, "verbose output")
	flag.BoolVar(&(opts.visualize), "visualize", false, "render Graphviz dumps to an image next to the .dot file")
}

func ParseArgs() {
	flag.Parse()

	if opts.trace == "" {
		fmt.Fprintln(os.Stderr, "No trace file given. Use -trace <file>.")
		flag.Usage()
		os.Exit(2)
	}
	if _, err := os.Stat(opts.trace); err != nil {
		log.Fatalf("Cannot read trace file %s: %v", opts.trace, err)
	}
}
