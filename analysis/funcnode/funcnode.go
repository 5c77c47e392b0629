package funcnode

import (
	"fmt"
	"math"

	"Warp/trace"
	"Warp/utils"
	"Warp/utils/graph"
	"Warp/utils/hmap"
	"Warp/utils/pq"
)

// InstActMap records, per thread and function activation, the last read
// action observed at each site. It is owned by the history and reset on
// function exit.
type InstActMap = map[*FuncInst]*trace.Action

// History is the cross-function bookkeeping the tree updates rely on. The
// checker's history component implements it.
type History interface {
	// WriteValues lists every value written to a location so far, in a
	// reproducible order.
	WriteValues(loc trace.Location) []uint64

	// ThrdInstActMap returns the per-thread site-to-last-read-action map of
	// the given function, creating it on demand.
	ThrdInstActMap(funcID int, tid trace.ThreadID) InstActMap

	// UpdateLocRdFuncNodes and UpdateLocWrFuncNodes record that the given
	// function reads resp. writes the location.
	UpdateLocRdFuncNodes(loc trace.Location, node *FuncNode)
	UpdateLocWrFuncNodes(loc trace.Location, node *FuncNode)
}

type edgeType int

const (
	outEdge edgeType = 1 << iota
	inEdge
	biEdge = outEdge | inEdge
)

// A FuncNode owns everything the checker learns about one function: its
// atomic-operation sites, the predicate tree recording under which
// read-value conditions each path has been explored, and edges to the
// functions executed next.
//
// Site records and the predicate tree persist across executions
// (model scope); the location and value bookkeeping is rebuilt per
// execution (snapshot scope).
type FuncNode struct {
	id      int
	name    string
	history History
	exec    *trace.Execution

	exitCount   uint64
	instCounter uint32

	// marker is bumped on every function entry; each thread remembers the
	// marker of its latest activation. Stale markers invalidate last-read
	// observations without any clearing.
	marker     uint64
	thrdMarker []uint64

	instMap    map[string]*FuncInst
	instList   []*FuncInst
	entryInsts []*FuncInst

	predicateTreeEntry *Predicate
	predicateTreeExit  *Predicate
	predicateLeaves    map[*Predicate]struct{}
	failedPredicates   map[*Predicate]struct{}

	// Per-thread, per-activation tree state. The outer slices are indexed
	// by thread id; the inner slices are activation stacks.
	thrdLocInstMap  []map[trace.Location]*FuncInst
	thrdInstIDMap   []map[*FuncInst]uint32
	thrdInstPredMap []map[*FuncInst]*Predicate
	thrdTreePos     [][]*Predicate
	thrdTrace       [][][]*Predicate
	thrdPrevInst    [][]*FuncInst

	// Snapshot-scope location bookkeeping.
	readLocations  map[trace.Location]struct{}
	writeLocations map[trace.Location]struct{}
	valLocMap      *hmap.Map[uint64, *locSet]
	locMayEqual    map[trace.Location]*locSet

	edgeTable map[*FuncNode]edgeType
	outEdges  []*FuncNode
}

func New(id int, name string, history History, exec *trace.Execution) *FuncNode {
	fn := &FuncNode{
		id:          id,
		name:        name,
		history:     history,
		exec:        exec,
		instCounter: 1,
		marker:      1,
		instMap:     make(map[string]*FuncInst),
		edgeTable:   make(map[*FuncNode]edgeType),
	}

	fn.predicateTreeEntry = newEntryPredicate()
	fn.predicateTreeExit = newExitPredicate()
	fn.predicateLeaves = make(map[*Predicate]struct{})
	fn.failedPredicates = make(map[*Predicate]struct{})

	fn.SetNewExecFlag()
	return fn
}

func (fn *FuncNode) ID() int        { return fn.id }
func (fn *FuncNode) Name() string   { return fn.name }
func (fn *FuncNode) ExitCount() uint64 { return fn.exitCount }

func (fn *FuncNode) EntryPredicate() *Predicate { return fn.predicateTreeEntry }
func (fn *FuncNode) ExitPredicate() *Predicate  { return fn.predicateTreeExit }
func (fn *FuncNode) Insts() []*FuncInst         { return fn.instList }
func (fn *FuncNode) EntryInsts() []*FuncInst    { return fn.entryInsts }
func (fn *FuncNode) OutEdges() []*FuncNode      { return fn.outEdges }

// SetNewExecFlag reallocates the snapshot-scope structures when a new
// execution starts.
func (fn *FuncNode) SetNewExecFlag() {
	fn.readLocations = make(map[trace.Location]struct{})
	fn.writeLocations = make(map[trace.Location]struct{})
	fn.valLocMap = hmap.NewMap[*locSet, uint64](utils.UintHasher[uint64]{})
	fn.locMayEqual = make(map[trace.Location]*locSet)
}

// AddInst registers the site of an action, or merges the action into the
// existing record of its position. Sites observed at two distinct
// locations within one execution lose their single-location property.
func (fn *FuncNode) AddInst(act *trace.Action) {
	if act == nil {
		panic("funcnode: adding nil action")
	}

	// Thread and lock actions carry no source position.
	position := act.Position()
	if position == "" {
		return
	}

	funcInst := fn.instMap[position]
	if funcInst == nil {
		fn.instMap[position] = fn.createNewInst(act)
		return
	}

	if !matchesKind(funcInst.Kind(), act.Kind()) {
		collisionInst := funcInst.SearchInCollision(act)
		if collisionInst == nil {
			funcInst.AddToCollision(fn.createNewInst(act))
			return
		}
		funcInst = collisionInst
	}

	currExecution := fn.exec.Number()

	// Reset the canonical location when a new execution starts.
	if funcInst.ExecutionNumber() != currExecution {
		funcInst.SetLocation(act.Location())
		funcInst.SetExecutionNumber(currExecution)
	}

	if funcInst.Location() != act.Location() {
		funcInst.NotSingleLocation()
	}
}

func (fn *FuncNode) createNewInst(act *trace.Action) *FuncInst {
	funcInst := newFuncInst(act, fn, fn.exec.Number())
	fn.instList = append(fn.instList, funcInst)
	return funcInst
}

// Inst resolves an action to its site, honoring the CAS decomposition: a
// CAS site answers for the RMW and plain-read actions it expands to.
func (fn *FuncNode) Inst(act *trace.Action) *FuncInst {
	position := act.Position()
	if position == "" {
		return nil
	}

	inst := fn.instMap[position]
	if inst == nil {
		return nil
	}

	if matchesKind(inst.Kind(), act.Kind()) {
		return inst
	}
	return inst.SearchInCollision(act)
}

func (fn *FuncNode) addEntryInst(inst *FuncInst) {
	if inst == nil {
		return
	}
	for _, e := range fn.entryInsts {
		if e == inst {
			return
		}
	}
	fn.entryInsts = append(fn.entryInsts, inst)
}

// FunctionEntry prepares the per-thread state for an activation: bumps the
// thread's marker and pushes fresh tree position, trace and linking frames.
func (fn *FuncNode) FunctionEntry(tid trace.ThreadID) {
	fn.setMarker(tid)
	fn.history.ThrdInstActMap(fn.id, tid)
	fn.initLocalMaps(tid)

	id := int(tid)
	fn.thrdTreePos[id] = append(fn.thrdTreePos[id], fn.predicateTreeEntry)
	fn.thrdTrace[id] = append(fn.thrdTrace[id], nil)
	fn.thrdPrevInst[id] = append(fn.thrdPrevInst[id], nil)
}

// FunctionExit tears down the activation: closes the exit pointer of the
// terminal predicate if unset, recomputes weights along the trace, and pops
// the per-thread frames.
func (fn *FuncNode) FunctionExit(tid trace.ThreadID) {
	fn.exitCount++

	id := int(tid)
	instActMap := fn.history.ThrdInstActMap(fn.id, tid)
	for k := range instActMap {
		delete(instActMap, k)
	}
	fn.resetLocalMaps(tid)

	exitPred := fn.treePosition(tid)
	if exitPred.Exit() == nil {
		exitPred.SetExit(fn.predicateTreeExit)
	}

	fn.updatePredicateTreeWeight(tid)

	fn.thrdTreePos[id] = fn.thrdTreePos[id][:len(fn.thrdTreePos[id])-1]
	fn.thrdTrace[id] = fn.thrdTrace[id][:len(fn.thrdTrace[id])-1]
	fn.thrdPrevInst[id] = fn.thrdPrevInst[id][:len(fn.thrdPrevInst[id])-1]
}

func (fn *FuncNode) setMarker(tid trace.ThreadID) {
	fn.marker++
	id := int(tid)
	for len(fn.thrdMarker) <= id {
		fn.thrdMarker = append(fn.thrdMarker, 0)
	}
	fn.thrdMarker[id] = fn.marker
}

func (fn *FuncNode) initLocalMaps(tid trace.ThreadID) {
	id := int(tid)
	for len(fn.thrdLocInstMap) <= id {
		fn.thrdLocInstMap = append(fn.thrdLocInstMap, nil)
		fn.thrdInstIDMap = append(fn.thrdInstIDMap, nil)
		fn.thrdInstPredMap = append(fn.thrdInstPredMap, nil)
		fn.thrdTreePos = append(fn.thrdTreePos, nil)
		fn.thrdTrace = append(fn.thrdTrace, nil)
		fn.thrdPrevInst = append(fn.thrdPrevInst, nil)
	}

	if fn.thrdLocInstMap[id] == nil {
		fn.thrdLocInstMap[id] = make(map[trace.Location]*FuncInst)
		fn.thrdInstIDMap[id] = make(map[*FuncInst]uint32)
		fn.thrdInstPredMap[id] = make(map[*FuncInst]*Predicate)
	}
}

func (fn *FuncNode) resetLocalMaps(tid trace.ThreadID) {
	id := int(tid)
	for k := range fn.thrdLocInstMap[id] {
		delete(fn.thrdLocInstMap[id], k)
	}
	for k := range fn.thrdInstIDMap[id] {
		delete(fn.thrdInstIDMap[id], k)
	}
	for k := range fn.thrdInstPredMap[id] {
		delete(fn.thrdInstPredMap[id], k)
	}
}

// CurrentPredicate is the thread's position in the predicate tree, or nil
// when the thread is not inside an activation of this function.
func (fn *FuncNode) CurrentPredicate(tid trace.ThreadID) *Predicate {
	id := int(tid)
	if id >= len(fn.thrdTreePos) || len(fn.thrdTreePos[id]) == 0 {
		return nil
	}
	return fn.treePosition(tid)
}

func (fn *FuncNode) treePosition(tid trace.ThreadID) *Predicate {
	stack := fn.thrdTreePos[int(tid)]
	return stack[len(stack)-1]
}

func (fn *FuncNode) setTreePosition(tid trace.ThreadID, pred *Predicate) {
	stack := fn.thrdTreePos[int(tid)]
	stack[len(stack)-1] = pred
}

func (fn *FuncNode) addPredicateToTrace(tid trace.ThreadID, pred *Predicate) {
	id := int(tid)
	top := len(fn.thrdTrace[id]) - 1
	fn.thrdTrace[id][top] = append(fn.thrdTrace[id][top], pred)
}

// UpdateTree records one atomic action of a thread currently inside this
// function: location bookkeeping, site linking, and the predicate-tree
// walk. Only reads and writes are processed.
func (fn *FuncNode) UpdateTree(act *trace.Action) {
	if !act.IsRead() && !act.IsWrite() {
		return
	}

	funcInst := fn.Inst(act)
	if funcInst == nil {
		return
	}
	loc := act.Location()

	if act.IsWrite() {
		if _, ok := fn.writeLocations[loc]; !ok {
			fn.writeLocations[loc] = struct{}{}
			fn.history.UpdateLocWrFuncNodes(loc, fn)
		}
	}

	if act.IsRead() {
		// The first time a single-location site reads some location, import
		// all values that have been written there, and advertise this
		// function as a reader of the location.
		if _, ok := fn.readLocations[loc]; !ok && funcInst.IsSingleLocation() {
			fn.readLocations[loc] = struct{}{}
			for _, val := range fn.history.WriteValues(loc) {
				fn.addToValLocMap(val, loc)
			}
			fn.history.UpdateLocRdFuncNodes(loc, fn)
		}

		fn.history.ThrdInstActMap(fn.id, act.Tid())[funcInst] = act
	}

	fn.linkInst(act.Tid(), funcInst)
	fn.updatePredicateTree(act)
}

// linkInst threads the site into the per-activation instruction sequence:
// the first site of an activation is an entry site, later ones link up as
// predecessor/successor pairs.
func (fn *FuncNode) linkInst(tid trace.ThreadID, inst *FuncInst) {
	id := int(tid)
	stack := fn.thrdPrevInst[id]
	top := len(stack) - 1

	if prev := stack[top]; prev == nil {
		fn.addEntryInst(inst)
	} else if prev != inst {
		prev.AddSucc(inst)
		inst.AddPred(prev)
	}
	stack[top] = inst
}

func (fn *FuncNode) updatePredicateTree(nextAct *trace.Action) {
	tid := nextAct.Tid()
	id := int(tid)
	thisMarker := fn.thrdMarker[id]

	locInstMap := fn.thrdLocInstMap[id]
	instPredMap := fn.thrdInstPredMap[id]
	instIDMap := fn.thrdInstIDMap[id]

	currPred := fn.treePosition(tid)
	for {
		nextInst := fn.Inst(nextAct)
		if nextAct.IsRead() {
			nextInst.SetLastRead(tid, nextAct.ReadsFromValue(), thisMarker)
		}

		branch, unsetPredicate := fn.followBranch(currPred, nextInst, nextAct)

		// A branch with an unset predicate expression was detected.
		if branch == nil && unsetPredicate != nil {
			if fn.amendPredicateExpr(currPred, nextInst, nextAct) {
				continue
			}
			branch = unsetPredicate
		}

		// Detect loops.
		if branch == nil {
			if nextID, ok := instIDMap[nextInst]; ok {
				currID := instIDMap[currPred.FuncInst()]
				if currID >= nextID {
					oldPred := instPredMap[nextInst]
					backPred := oldPred.Parent()

					currPred.AddBackEdge(backPred)
					currPred = backPred
					continue
				}
			}
		}

		// Generate new branches.
		if branch == nil {
			halfExprs := fn.inferPredicates(nextInst, nextAct)
			fn.generatePredicates(currPred, nextInst, halfExprs)
			continue
		}

		currPred = branch

		if nextAct.IsWrite() {
			currPred.setWrite()
		}
		if nextAct.IsRead() {
			// Only the locations of read actions matter downstream.
			locInstMap[nextInst.Location()] = nextInst
		}

		instPredMap[nextInst] = currPred
		fn.setTreePosition(tid, currPred)

		if _, ok := instIDMap[nextInst]; !ok {
			instIDMap[nextInst] = fn.instCounter
			fn.instCounter++
		}

		currPred.IncrExplCount()
		fn.addPredicateToTrace(tid, currPred)
		break
	}
}

// followBranch searches the children of currPred for the branch whose site
// is nextInst and whose predicate expressions all hold of nextAct. When the
// only candidate has an empty expression set it is returned as the unset
// branch instead.
func (fn *FuncNode) followBranch(currPred *Predicate, nextInst *FuncInst,
	nextAct *trace.Action) (branch, unsetPredicate *Predicate) {

	tid := nextAct.Tid()
	thisMarker := fn.thrdMarker[int(tid)]

	for _, candidate := range currPred.Children() {
		if candidate.FuncInst() != nextInst {
			continue
		}

		// Only read and rmw sites may carry an unset expression set.
		exprs := candidate.Exprs()
		if len(exprs) == 0 {
			if unsetPredicate != nil {
				panic(fmt.Sprintf("funcnode %s: two unset branches under one predicate", fn.name))
			}
			unsetPredicate = candidate
			continue
		}

		correct := true
		for _, expr := range exprs {
			switch expr.Token {
			case NoPredicate:
				// Tautology.
			case Equality:
				lastRead := expr.Inst.LastRead(tid, thisMarker)
				if lastRead == trace.ValueNone {
					panic(fmt.Sprintf("funcnode %s: equality against a site with no last read", fn.name))
				}

				equality := lastRead == nextAct.ReadsFromValue()
				if equality != expr.Value {
					correct = false
				}
			case Nullity:
				if isNullValue(nextAct.ReadsFromValue()) != expr.Value {
					correct = false
				}
			default:
				panic(fmt.Sprintf("funcnode %s: unknown predicate token %d", fn.name, expr.Token))
			}
		}

		if correct {
			return candidate, unsetPredicate
		}
	}

	return nil, unsetPredicate
}

// halfPredExpr is an inferred expression whose polarity has not been chosen
// yet; branch generation enumerates both.
type halfPredExpr struct {
	token ExprToken
	inst  *FuncInst
}

func (fn *FuncNode) inferPredicates(nextInst *FuncInst, nextAct *trace.Action) []halfPredExpr {
	var half []halfPredExpr

	if !nextInst.IsRead() {
		// Pure writes carry no conditions.
		return nil
	}

	loc := nextAct.Location()
	locInstMap := fn.thrdLocInstMap[int(nextAct.Tid())]

	switch {
	case locInstMap[loc] != nil:
		half = append(half, halfPredExpr{Equality, locInstMap[loc]})

	case nextInst.IsSingleLocation():
		if mayEqual := fn.locMayEqual[loc]; mayEqual != nil {
			for _, neighbor := range mayEqual.List() {
				if lastInst := locInstMap[neighbor]; lastInst != nil {
					half = append(half, halfPredExpr{Equality, lastInst})
				}
			}
		}

	default:
		// Only infer a nullity split when the observed value actually is
		// null.
		if isNullValue(nextAct.ReadsFromValue()) {
			half = append(half, halfPredExpr{Nullity, nil})
		}
	}

	return half
}

// generatePredicates attaches new branches for nextInst under currPred: one
// per combination of polarities of the inferred half expressions, or a
// single branch when nothing was inferred (a tautology under the entry node
// or for a pure write, expression-free otherwise).
func (fn *FuncNode) generatePredicates(currPred *Predicate, nextInst *FuncInst, half []halfPredExpr) {
	if len(half) == 0 {
		newPred := NewPredicate(nextInst)
		currPred.AddChild(newPred)
		newPred.SetParent(currPred)

		fn.predicateLeaves[newPred] = struct{}{}
		delete(fn.predicateLeaves, currPred)

		// Entry branches and branches of pure writes are tautologies; read
		// branches stay unset until amended or split.
		if currPred.IsEntry() || nextInst.IsWrite() {
			newPred.AddPredExpr(NoPredicate, nil, true)
		}
		return
	}

	predicates := []*Predicate{NewPredicate(nextInst), NewPredicate(nextInst)}
	predicates[0].AddPredExpr(half[0].token, half[0].inst, true)
	predicates[1].AddPredExpr(half[0].token, half[0].inst, false)

	for _, h := range half[1:] {
		oldSize := len(predicates)
		for j := 0; j < oldSize; j++ {
			pred := predicates[j]
			newPred := NewPredicate(nextInst)
			newPred.CopyPredExprs(pred)

			pred.AddPredExpr(h.token, h.inst, true)
			newPred.AddPredExpr(h.token, h.inst, false)

			predicates = append(predicates, newPred)
		}
	}

	for _, pred := range predicates {
		currPred.AddChild(pred)
		pred.SetParent(currPred)
		fn.predicateLeaves[pred] = struct{}{}
	}

	delete(fn.predicateLeaves, currPred)
}

// amendPredicateExpr splits an expression-free branch with a nullity
// predicate. The split only fires for multi-location sites observing an
// actually-null value.
func (fn *FuncNode) amendPredicateExpr(currPred *Predicate, nextInst *FuncInst, nextAct *trace.Action) bool {
	var unsetPred *Predicate
	for _, child := range currPred.Children() {
		if child.FuncInst() == nextInst {
			unsetPred = child
			break
		}
	}
	if unsetPred == nil {
		return false
	}

	if !nextInst.IsSingleLocation() && isNullValue(nextAct.ReadsFromValue()) {
		newPred := NewPredicate(nextInst)
		currPred.AddChild(newPred)
		newPred.SetParent(currPred)
		fn.predicateLeaves[newPred] = struct{}{}

		unsetPred.AddPredExpr(Nullity, nil, false)
		newPred.AddPredExpr(Nullity, nil, true)

		return true
	}

	return false
}

// isNullValue tests the pointer-width truncation of a read value against
// the null bit pattern.
func isNullValue(v uint64) bool {
	return uint64(uintptr(v)) == 0
}

func (fn *FuncNode) addToValLocMap(val uint64, loc trace.Location) {
	locations, ok := fn.valLocMap.GetOk(val)
	if !ok {
		locations = newLocSet()
		fn.valLocMap.Set(val, locations)
	}

	fn.updateLocMayEqualMap(loc, locations)
	locations.Add(loc)
}

// updateLocMayEqualMap links a location with every location that previously
// received the same value, in both directions. The relation is deliberately
// not transitive: only direct value sharing makes two locations neighbors.
func (fn *FuncNode) updateLocMayEqualMap(newLoc trace.Location, oldLocations *locSet) {
	if oldLocations.Contains(newLoc) {
		return
	}

	neighbors := fn.locMayEqual[newLoc]
	if neighbors == nil {
		neighbors = newLocSet()
		fn.locMayEqual[newLoc] = neighbors
	}

	for _, member := range oldLocations.List() {
		neighbors.Add(member)

		others := fn.locMayEqual[member]
		if others == nil {
			others = newLocSet()
			fn.locMayEqual[member] = others
		}
		others.Add(newLoc)
	}
}

// AddFailedPredicate marks a branch whose speculative extension
// contradicted the graph: its failure count grows, which lowers its leaf
// weight in every later weight update. The failed set itself is cleared at
// the next function exit.
func (fn *FuncNode) AddFailedPredicate(pred *Predicate) {
	if pred == nil {
		return
	}
	fn.failedPredicates[pred] = struct{}{}
	pred.IncrFailCount()
}

func (fn *FuncNode) updatePredicateTreeWeight(tid trace.ThreadID) {
	for k := range fn.failedPredicates {
		delete(fn.failedPredicates, k)
	}

	id := int(tid)
	predTrace := fn.thrdTrace[id][len(fn.thrdTrace[id])-1]

	for i := len(predTrace) - 1; i >= 0; i-- {
		node := predTrace[i]

		if _, isLeaf := fn.predicateLeaves[node]; isLeaf {
			weight := 100.0 / math.Sqrt(float64(node.ExplCount()+node.FailCount()+1))
			node.SetWeight(weight)
		} else {
			weightSum := 0.0
			children := node.Children()
			for _, child := range children {
				weightSum += child.Weight()
			}

			average := weightSum / float64(len(children))
			node.SetWeight(average * math.Pow(0.9, float64(node.Depth())))
		}
	}
}

// Frontier returns up to k leaves in decreasing weight order: the branches
// an exploration scheduler should steer toward next. Ties resolve toward
// shallower leaves so the output is reproducible.
func (fn *FuncNode) Frontier(k int) []*Predicate {
	queue := pq.Empty(func(a, b *Predicate) bool {
		if a.Weight() != b.Weight() {
			return a.Weight() > b.Weight()
		}
		return a.Depth() < b.Depth()
	})

	var visit func(p *Predicate)
	visit = func(p *Predicate) {
		if _, isLeaf := fn.predicateLeaves[p]; isLeaf {
			queue.Add(p)
		}
		for _, child := range p.Children() {
			visit(child)
		}
	}
	visit(fn.predicateTreeEntry)

	res := make([]*Predicate, 0, k)
	for !queue.IsEmpty() && len(res) < k {
		res = append(res, queue.GetNext())
	}
	return res
}

// AddOutEdge records that other may run after this function. A pre-existing
// edge in the opposite direction upgrades to bidirectional.
func (fn *FuncNode) AddOutEdge(other *FuncNode) {
	if _, ok := fn.edgeTable[other]; !ok {
		fn.edgeTable[other] = outEdge
		fn.outEdges = append(fn.outEdges, other)
		if _, ok := other.edgeTable[fn]; !ok {
			other.edgeTable[fn] = inEdge
		}
		return
	}

	if fn.edgeTable[other] == inEdge {
		fn.edgeTable[other] = biEdge
		fn.outEdges = append(fn.outEdges, other)
	}
}

// ComputeDistance is the length of the shortest out-edge path to target.
// Returns -1 when target is unreachable or farther than maxStep.
func (fn *FuncNode) ComputeDistance(target *FuncNode, maxStep int) int {
	if target == nil {
		return -1
	} else if target == fn {
		return 0
	}

	G := graph.Of(func(n *FuncNode) []*FuncNode { return n.outEdges })

	distance := -1
	G.BFSWithDepth(fn, maxStep, func(n *FuncNode, depth int) bool {
		if n == target {
			distance = depth
			return true
		}
		return false
	})
	return distance
}
