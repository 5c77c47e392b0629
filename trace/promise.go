package trace

// A Promise is a speculative read: the reader has committed to observing a
// value whose writer has not been selected yet. The promise tracks which
// threads could still produce the write. Once every candidate thread has
// been eliminated the promise is unsatisfiable.
type Promise struct {
	reader     *Action
	value      uint64
	available  map[ThreadID]struct{}
	eliminated map[ThreadID]struct{}
}

// NewPromise creates a promise for the given reader action. The candidate
// writer threads are exactly the given candidates; callers restrict the set
// when scheduling knowledge allows it.
func NewPromise(reader *Action, candidates []ThreadID) *Promise {
	p := &Promise{
		reader:     reader,
		value:      reader.ReadsFromValue(),
		available:  make(map[ThreadID]struct{}, len(candidates)),
		eliminated: make(map[ThreadID]struct{}),
	}
	for _, tid := range candidates {
		p.available[tid] = struct{}{}
	}
	return p
}

// Action is the reader that generated this promise. Promises are keyed by
// their reader until resolution migrates their identity to the writer.
func (p *Promise) Action() *Action { return p.reader }

func (p *Promise) Value() uint64 { return p.value }

// IsCompatible reports whether the given write could satisfy this promise:
// same location, and it stores the promised value.
func (p *Promise) IsCompatible(writer *Action) bool {
	if writer == nil || !writer.IsWrite() {
		return false
	}
	return writer.Location() == p.reader.Location() && writer.Value() == p.value
}

// EliminateThread removes tid from the candidate writers and reports whether
// the promise has thereby failed.
func (p *Promise) EliminateThread(tid ThreadID) bool {
	if _, ok := p.available[tid]; ok {
		delete(p.available, tid)
		p.eliminated[tid] = struct{}{}
	}
	return p.HasFailed()
}

// HasFailed reports whether no thread can satisfy the promise anymore.
func (p *Promise) HasFailed() bool {
	return len(p.available) == 0
}

func (p *Promise) NumAvailableThreads() int {
	return len(p.available)
}
