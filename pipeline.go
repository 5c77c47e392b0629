package main

import (
	"Warp/analysis/cyclegraph"
	"Warp/analysis/funcnode"
	"Warp/analysis/history"
	"Warp/trace"
)

// pipeline replays a trace against the checker core. Model-scope state
// (function nodes, predicate trees) survives across executions; everything
// else is rebuilt per execution.
type pipeline struct {
	tr   *trace.Trace
	exec *trace.Execution
	hist *history.ModelHistory

	stats runStats

	// Per-execution state.
	graph        *cyclegraph.Graph
	lastWrite    map[trace.Location]*trace.Action
	writeByVal   map[trace.Location]map[uint64]*trace.Action
	outstanding  []*pendingPromise
	callStacks   map[trace.ThreadID][]*funcnode.FuncNode
	contradicted bool
}

// pendingPromise tracks an outstanding speculative read until a write
// resolves it or it is pruned as unsatisfiable.
type pendingPromise struct {
	promise  *trace.Promise
	resolved bool
	failed   bool
}

func newPipeline(tr *trace.Trace) *pipeline {
	exec := trace.NewExecution()
	return &pipeline{
		tr:   tr,
		exec: exec,
		hist: history.NewHistory(exec),
	}
}

// run replays the trace the requested number of times. Afterwards p.graph
// holds the constraint graph of the last execution.
func (p *pipeline) run(executions int) {
	for i := 0; i < executions; i++ {
		if i > 0 {
			p.exec.Advance()
			p.hist.SetNewExecFlag()
		}
		p.runOnce()
	}
}

func (p *pipeline) runOnce() {
	p.graph = cyclegraph.New()
	p.lastWrite = make(map[trace.Location]*trace.Action)
	p.writeByVal = make(map[trace.Location]map[uint64]*trace.Action)
	p.outstanding = nil
	p.callStacks = make(map[trace.ThreadID][]*funcnode.FuncNode)
	p.contradicted = false

	p.stats.executions++

	for _, act := range p.tr.Actions {
		p.process(act)
	}

	// Unwind activations left open by a truncated trace so that weights and
	// markers stay consistent for the next execution.
	for _, tid := range p.tr.Threads() {
		stack := p.callStacks[tid]
		for i := len(stack) - 1; i >= 0; i-- {
			stack[i].FunctionExit(tid)
		}
		delete(p.callStacks, tid)
	}

	for _, pending := range p.outstanding {
		if !pending.resolved && !pending.failed {
			p.stats.unresolvedPromises++
		}
	}

	if p.contradicted || p.graph.HasCycles() {
		p.stats.contradictoryExecutions++
	} else {
		p.stats.completeExecutions++
	}
}

func (p *pipeline) currentFunc(tid trace.ThreadID) *funcnode.FuncNode {
	stack := p.callStacks[tid]
	if len(stack) == 0 {
		return nil
	}
	return stack[len(stack)-1]
}

func (p *pipeline) process(act *trace.Action) {
	p.stats.actions++
	tid := act.Tid()

	switch act.Kind() {
	case trace.FunctionEnter:
		fn := p.hist.FuncNode(act.Function())
		if prev := p.currentFunc(tid); prev != nil {
			prev.AddOutEdge(fn)
		}
		p.callStacks[tid] = append(p.callStacks[tid], fn)
		fn.FunctionEntry(tid)
		return

	case trace.FunctionExit:
		stack := p.callStacks[tid]
		if len(stack) == 0 {
			return
		}
		fn := stack[len(stack)-1]
		p.callStacks[tid] = stack[:len(stack)-1]
		fn.FunctionExit(tid)
		return

	case trace.AtomicRead, trace.AtomicWrite, trace.AtomicRMW, trace.AtomicRMWRCAS:
		p.processMemoryAction(act)
		return
	}

	// Thread management, fences and lock operations carry no position and
	// add nothing to the graph under the modification-order rules the
	// driver implements.
}

func (p *pipeline) processMemoryAction(act *trace.Action) {
	tid := act.Tid()
	loc := act.Location()
	fn := p.currentFunc(tid)

	if fn != nil {
		fn.AddInst(act)
	}

	// Speculatively extend the constraint graph; a fresh contradiction
	// rolls the extension back and fails the current branch.
	before := p.graph.HasCycles()
	p.graph.StartChanges()

	if act.IsWrite() {
		if lw := p.lastWrite[loc]; lw != nil {
			p.graph.AddEdge(lw, act)
		}
	}

	if act.Kind() == trace.AtomicRMW {
		if from := p.writeWithValue(loc, act.ReadsFromValue()); from != nil {
			if err := p.graph.AddRMWEdge(from, act); err != nil {
				p.stats.rmwViolations++
			}
		}
	}

	if p.graph.HasCycles() && !before {
		p.graph.RollbackChanges()
		p.stats.contradictions++
		p.contradicted = true
		if fn != nil {
			fn.AddFailedPredicate(fn.CurrentPredicate(tid))
		}
	} else {
		p.graph.CommitChanges()
	}

	// Promise bookkeeping happens on committed state only: resolution
	// cannot be rolled back.
	if act.IsWrite() {
		p.recordWrite(act)
		p.resolvePromises(act)
		p.prunePromises(act)
	}

	if act.IsRead() && !act.IsWrite() || act.Kind() == trace.AtomicRMW {
		p.maybePromise(act)
	}

	if fn != nil {
		fn.UpdateTree(act)
	}
}

func (p *pipeline) writeWithValue(loc trace.Location, val uint64) *trace.Action {
	if byVal := p.writeByVal[loc]; byVal != nil {
		return byVal[val]
	}
	return nil
}

func (p *pipeline) recordWrite(act *trace.Action) {
	loc := act.Location()
	p.lastWrite[loc] = act
	if p.writeByVal[loc] == nil {
		p.writeByVal[loc] = make(map[uint64]*trace.Action)
	}
	p.writeByVal[loc][act.Value()] = act
	p.hist.AddWriteValue(loc, act.Value())
}

// maybePromise turns a read of a value no prior write produced into a
// promise: the writer is not known yet, but the constraint that it follows
// the current last write at the location is.
func (p *pipeline) maybePromise(act *trace.Action) {
	loc := act.Location()
	if p.writeWithValue(loc, act.ReadsFromValue()) != nil {
		return
	}

	promise := trace.NewPromise(act, p.tr.Threads())
	p.graph.GetOrCreatePromise(promise)
	p.outstanding = append(p.outstanding, &pendingPromise{promise: promise})
	p.stats.promisesCreated++

	if lw := p.lastWrite[loc]; lw != nil {
		before := p.graph.HasCycles()
		p.graph.StartChanges()
		p.graph.AddPromiseEdge(lw, promise)
		if p.graph.HasCycles() && !before {
			p.graph.RollbackChanges()
			p.stats.contradictions++
			p.contradicted = true
		} else {
			p.graph.CommitChanges()
		}
	}
}

// resolvePromises binds every outstanding promise the new write satisfies.
// Merging may force further promises onto the same writer; those are
// reported by the graph and marked resolved here.
func (p *pipeline) resolvePromises(writer *trace.Action) {
	// Merging re-anchors edges through the transactional insertion path, so
	// run resolution inside a transaction of its own. The merges themselves
	// cannot be undone; an incompatibility poisons the whole execution and
	// is committed as such.
	p.graph.StartChanges()
	defer p.graph.CommitChanges()

	for _, pending := range p.outstanding {
		if pending.resolved || pending.failed || !pending.promise.IsCompatible(writer) {
			continue
		}

		mustResolve, err := p.graph.ResolvePromise(pending.promise.Action(), writer)
		if err != nil {
			p.stats.incompatibleResolutions++
			p.contradicted = true
			pending.failed = true
			continue
		}

		pending.resolved = true
		p.stats.promisesResolved++

		for _, forced := range mustResolve {
			p.stats.forcedResolutions++
			for _, other := range p.outstanding {
				if other.promise == forced {
					other.resolved = true
				}
			}
		}
	}
}

// prunePromises eliminates the writing thread from outstanding promises at
// the same location that the write does not satisfy. A promise whose
// candidate writers run dry has failed.
func (p *pipeline) prunePromises(writer *trace.Action) {
	for _, pending := range p.outstanding {
		if pending.resolved || pending.failed {
			continue
		}
		pr := pending.promise
		if pr.Action().Location() != writer.Location() || pr.IsCompatible(writer) {
			continue
		}

		if p.graph.Node(writer) == nil {
			continue
		}

		if p.graph.CheckPromise(writer, pr) {
			pending.failed = true
			p.stats.failedPromises++
		}
	}
}
