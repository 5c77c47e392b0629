package trace

// A ThreadID identifies one of the threads whose interleavings are explored.
// Threads are a data-model concept: the checker replays them one at a time
// and never runs core code concurrently.
type ThreadID int

// Kind classifies an atomic action record.
type Kind int

const (
	ThreadCreate Kind = iota
	ThreadYield
	ThreadJoin
	AtomicRead
	AtomicWrite
	AtomicRMW
	// AtomicRMWRCAS marks the read part of a compare-and-swap that the
	// instrumentation decomposes into separate read and write actions.
	AtomicRMWRCAS
	AtomicFence
	AtomicLock
	AtomicUnlock
	AtomicTrylock
	FunctionEnter
	FunctionExit
)

var kindNames = map[Kind]string{
	ThreadCreate:  "create",
	ThreadYield:   "yield",
	ThreadJoin:    "join",
	AtomicRead:    "load",
	AtomicWrite:   "store",
	AtomicRMW:     "rmw",
	AtomicRMWRCAS: "cas",
	AtomicFence:   "fence",
	AtomicLock:    "lock",
	AtomicUnlock:  "unlock",
	AtomicTrylock: "trylock",
	FunctionEnter: "enter",
	FunctionExit:  "exit",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// MemoryOrder is the ordering constraint attached to an atomic action.
type MemoryOrder int

const (
	Relaxed MemoryOrder = iota
	Consume
	Acquire
	Release
	AcqRel
	SeqCst
)

var orderNames = map[MemoryOrder]string{
	Relaxed: "rlx",
	Consume: "cns",
	Acquire: "acq",
	Release: "rel",
	AcqRel:  "acqrel",
	SeqCst:  "sc",
}

func (mo MemoryOrder) String() string {
	if s, ok := orderNames[mo]; ok {
		return s
	}
	return "unknown"
}

// A Location is an interned memory location. The zero location is reserved
// so that a read of the null bit pattern can be distinguished from "no
// location".
type Location uint64

// ValueNone marks an absent value, e. g. a stale last-read observation.
const ValueNone = ^uint64(0)

// An Action is a single atomic operation performed by a thread, as recorded
// in a trace. Actions are immutable once constructed; the checker core keys
// its bookkeeping on action identity.
type Action struct {
	seq      int
	tid      ThreadID
	kind     Kind
	order    MemoryOrder
	loc      Location
	value    uint64 // value written (stores, rmw)
	rf       uint64 // value read (loads, rmw, cas)
	position string
	fun      string // function name for enter/exit records
}

func NewAction(seq int, tid ThreadID, kind Kind, order MemoryOrder, loc Location, position string) *Action {
	return &Action{
		seq:      seq,
		tid:      tid,
		kind:     kind,
		order:    order,
		loc:      loc,
		position: position,
	}
}

func (a *Action) SeqNumber() int         { return a.seq }
func (a *Action) Tid() ThreadID          { return a.tid }
func (a *Action) Kind() Kind             { return a.kind }
func (a *Action) MemoryOrder() MemoryOrder { return a.order }
func (a *Action) Location() Location     { return a.loc }
func (a *Action) Function() string       { return a.fun }

// Position reports the source position tag of the action, or "" for actions
// that the instrumentation does not tag (thread and lock operations).
func (a *Action) Position() string { return a.position }

// Value is the value written by a store or the update value of an RMW.
func (a *Action) Value() uint64 { return a.value }

// ReadsFromValue is the value observed by a read or by the read part of an
// RMW.
func (a *Action) ReadsFromValue() uint64 { return a.rf }

func (a *Action) SetValue(v uint64)          { a.value = v }
func (a *Action) SetReadsFromValue(v uint64) { a.rf = v }

func (a *Action) IsRead() bool {
	return a.kind == AtomicRead || a.kind == AtomicRMW || a.kind == AtomicRMWRCAS
}

func (a *Action) IsWrite() bool {
	return a.kind == AtomicWrite || a.kind == AtomicRMW
}

func (a *Action) IsRMW() bool {
	return a.kind == AtomicRMW
}

func (a *Action) IsAcquire() bool {
	switch a.order {
	case Acquire, AcqRel, SeqCst:
		return true
	}
	return false
}

func (a *Action) IsRelease() bool {
	switch a.order {
	case Release, AcqRel, SeqCst:
		return true
	}
	return false
}

func (a *Action) SameLocation(other *Action) bool {
	return a.loc == other.loc
}

func (a *Action) SameThread(other *Action) bool {
	return a.tid == other.tid
}
