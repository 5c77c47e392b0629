package funcnode

import "Warp/trace"

// A FuncInst is a lexical atomic-operation site inside a function: many
// actions from different executions map onto the one instruction that
// produced them. Sites are keyed by their source position; when one source
// line expands to several action kinds (a CAS decomposed by the
// instrumentation, volatile ++/--), the siblings hang off the first site's
// collision chain.
type FuncInst struct {
	position string
	loc      trace.Location
	kind     trace.Kind
	order    trace.MemoryOrder
	funcNode *FuncNode

	// singleLocation goes false, once and for all executions, when the site
	// is observed at two distinct locations within one execution.
	singleLocation bool
	execNumber     int

	collisions   []*FuncInst
	predecessors []*FuncInst
	successors   []*FuncInst

	// lastReads is indexed by thread id. An entry is only valid while its
	// marker matches the thread's current marker; a stale entry reads as
	// ValueNone without ever being cleared.
	lastReads []lastRead
}

type lastRead struct {
	value  uint64
	marker uint64
}

func newFuncInst(act *trace.Action, fn *FuncNode, execNumber int) *FuncInst {
	return &FuncInst{
		position:       act.Position(),
		loc:            act.Location(),
		kind:           act.Kind(),
		order:          act.MemoryOrder(),
		funcNode:       fn,
		singleLocation: true,
		execNumber:     execNumber,
	}
}

func (fi *FuncInst) Position() string            { return fi.position }
func (fi *FuncInst) Location() trace.Location    { return fi.loc }
func (fi *FuncInst) Kind() trace.Kind            { return fi.kind }
func (fi *FuncInst) MemoryOrder() trace.MemoryOrder { return fi.order }
func (fi *FuncInst) FuncNode() *FuncNode         { return fi.funcNode }

func (fi *FuncInst) SetLocation(loc trace.Location) { fi.loc = loc }

func (fi *FuncInst) IsRead() bool {
	return fi.kind == trace.AtomicRead || fi.kind == trace.AtomicRMW || fi.kind == trace.AtomicRMWRCAS
}

func (fi *FuncInst) IsWrite() bool {
	return fi.kind == trace.AtomicWrite || fi.kind == trace.AtomicRMW
}

func (fi *FuncInst) IsSingleLocation() bool { return fi.singleLocation }
func (fi *FuncInst) NotSingleLocation()     { fi.singleLocation = false }

func (fi *FuncInst) ExecutionNumber() int       { return fi.execNumber }
func (fi *FuncInst) SetExecutionNumber(num int) { fi.execNumber = num }

// AddPred inserts other into the predecessor list if not already present.
func (fi *FuncInst) AddPred(other *FuncInst) bool {
	for _, p := range fi.predecessors {
		if p == other {
			return false
		}
	}
	fi.predecessors = append(fi.predecessors, other)
	return true
}

// AddSucc inserts other into the successor list if not already present.
func (fi *FuncInst) AddSucc(other *FuncInst) bool {
	for _, s := range fi.successors {
		if s == other {
			return false
		}
	}
	fi.successors = append(fi.successors, other)
	return true
}

func (fi *FuncInst) Preds() []*FuncInst { return fi.predecessors }
func (fi *FuncInst) Succs() []*FuncInst { return fi.successors }

// matchesKind relates a site's recorded kind to an incoming action's kind.
// A CAS site stands for both the RMW it becomes on success and the plain
// read it becomes on failure.
func matchesKind(instKind, actKind trace.Kind) bool {
	if instKind == actKind {
		return true
	}
	return instKind == trace.AtomicRMWRCAS &&
		(actKind == trace.AtomicRMW || actKind == trace.AtomicRead)
}

// SearchInCollision scans the collision chain for the sibling matching the
// action's kind.
func (fi *FuncInst) SearchInCollision(act *trace.Action) *FuncInst {
	for _, sibling := range fi.collisions {
		if matchesKind(sibling.kind, act.Kind()) {
			return sibling
		}
	}
	return nil
}

func (fi *FuncInst) AddToCollision(other *FuncInst) {
	fi.collisions = append(fi.collisions, other)
}

func (fi *FuncInst) Collisions() []*FuncInst { return fi.collisions }

// SetLastRead records the value a thread read at this site, stamped with
// the thread's current marker.
func (fi *FuncInst) SetLastRead(tid trace.ThreadID, value uint64, marker uint64) {
	id := int(tid)
	for len(fi.lastReads) <= id {
		fi.lastReads = append(fi.lastReads, lastRead{})
	}
	fi.lastReads[id] = lastRead{value, marker}
}

// LastRead returns the value the thread last read at this site, or
// ValueNone when there is none for the current marker generation.
func (fi *FuncInst) LastRead(tid trace.ThreadID, marker uint64) uint64 {
	id := int(tid)
	if id >= len(fi.lastReads) {
		return trace.ValueNone
	}
	if lr := fi.lastReads[id]; lr.marker == marker {
		return lr.value
	}
	return trace.ValueNone
}
