package history

import (
	"sort"

	"Warp/analysis/funcnode"
	"Warp/trace"
	"Warp/utils"

	"github.com/benbjohnson/immutable"
)

// ModelHistory is the cross-function memory of the checker: which values
// were ever written to each location, which functions read and write each
// location, and the per-function activation maps the predicate trees lean
// on. Function nodes live here for the lifetime of the checker; the write
// history has snapshot lifetime and is rebuilt per execution.
type ModelHistory struct {
	exec *trace.Execution

	funcNodes  []*funcnode.FuncNode
	funcByName map[string]*funcnode.FuncNode

	// writeHistory maps a location to the persistent set of values written
	// there during the current execution. Persistence makes the
	// per-execution reset a pointer swap and lets diagnostics capture the
	// state of any moment for free.
	writeHistory *immutable.Map[trace.Location, *immutable.Map[uint64, struct{}]]

	locRdFuncNodes map[trace.Location][]*funcnode.FuncNode
	locWrFuncNodes map[trace.Location][]*funcnode.FuncNode

	// instActMaps is indexed by function id, then thread id.
	instActMaps map[int][]funcnode.InstActMap
}

var (
	locHasher = utils.UintHasher[trace.Location]{}
	valHasher = utils.UintHasher[uint64]{}
)

func emptyWriteHistory() *immutable.Map[trace.Location, *immutable.Map[uint64, struct{}]] {
	return immutable.NewMap[trace.Location, *immutable.Map[uint64, struct{}]](locHasher)
}

func NewHistory(exec *trace.Execution) *ModelHistory {
	return &ModelHistory{
		exec:           exec,
		funcByName:     make(map[string]*funcnode.FuncNode),
		writeHistory:   emptyWriteHistory(),
		locRdFuncNodes: make(map[trace.Location][]*funcnode.FuncNode),
		locWrFuncNodes: make(map[trace.Location][]*funcnode.FuncNode),
		instActMaps:    make(map[int][]funcnode.InstActMap),
	}
}

// FuncNode returns the node of the named function, creating it on first
// sight. Nodes persist across executions.
func (h *ModelHistory) FuncNode(name string) *funcnode.FuncNode {
	if fn, ok := h.funcByName[name]; ok {
		return fn
	}

	fn := funcnode.New(len(h.funcNodes), name, h, h.exec)
	h.funcNodes = append(h.funcNodes, fn)
	h.funcByName[name] = fn
	return fn
}

// FuncNodes lists every known function node in creation order.
func (h *ModelHistory) FuncNodes() []*funcnode.FuncNode {
	return h.funcNodes
}

// AddWriteValue records that val was written to loc in this execution.
func (h *ModelHistory) AddWriteValue(loc trace.Location, val uint64) {
	values, ok := h.writeHistory.Get(loc)
	if !ok {
		values = immutable.NewMap[uint64, struct{}](valHasher)
	}
	h.writeHistory = h.writeHistory.Set(loc, values.Set(val, struct{}{}))
}

// WriteValues lists every value written to loc so far, in ascending order
// so that predicate generation stays deterministic.
func (h *ModelHistory) WriteValues(loc trace.Location) []uint64 {
	values, ok := h.writeHistory.Get(loc)
	if !ok {
		return nil
	}

	res := make([]uint64, 0, values.Len())
	itr := values.Iterator()
	for !itr.Done() {
		val, _, _ := itr.Next()
		res = append(res, val)
	}
	sort.Slice(res, func(i, j int) bool { return res[i] < res[j] })
	return res
}

// ThrdInstActMap returns the per-thread site-to-last-read map of a
// function, creating it on demand.
func (h *ModelHistory) ThrdInstActMap(funcID int, tid trace.ThreadID) funcnode.InstActMap {
	maps := h.instActMaps[funcID]
	id := int(tid)
	for len(maps) <= id {
		maps = append(maps, make(funcnode.InstActMap))
	}
	h.instActMaps[funcID] = maps
	return maps[id]
}

// UpdateLocRdFuncNodes records node as a reader of loc.
func (h *ModelHistory) UpdateLocRdFuncNodes(loc trace.Location, node *funcnode.FuncNode) {
	h.locRdFuncNodes[loc] = addFuncNode(h.locRdFuncNodes[loc], node)
}

// UpdateLocWrFuncNodes records node as a writer of loc.
func (h *ModelHistory) UpdateLocWrFuncNodes(loc trace.Location, node *funcnode.FuncNode) {
	h.locWrFuncNodes[loc] = addFuncNode(h.locWrFuncNodes[loc], node)
}

func addFuncNode(nodes []*funcnode.FuncNode, node *funcnode.FuncNode) []*funcnode.FuncNode {
	for _, n := range nodes {
		if n == node {
			return nodes
		}
	}
	return append(nodes, node)
}

// RdFuncNodes and WrFuncNodes list the reader resp. writer functions of a
// location.
func (h *ModelHistory) RdFuncNodes(loc trace.Location) []*funcnode.FuncNode {
	return h.locRdFuncNodes[loc]
}

func (h *ModelHistory) WrFuncNodes(loc trace.Location) []*funcnode.FuncNode {
	return h.locWrFuncNodes[loc]
}

// SetNewExecFlag resets all snapshot-scope state for a fresh execution.
// Function nodes and their predicate trees persist.
func (h *ModelHistory) SetNewExecFlag() {
	h.writeHistory = emptyWriteHistory()
	h.locRdFuncNodes = make(map[trace.Location][]*funcnode.FuncNode)
	h.locWrFuncNodes = make(map[trace.Location][]*funcnode.FuncNode)

	for _, fn := range h.funcNodes {
		fn.SetNewExecFlag()
	}
}

var _ funcnode.History = (*ModelHistory)(nil)
