package testutil

import (
	"strings"
	"testing"

	"Warp/trace"
)

// Helpers for constructing actions and traces in tests without going
// through a trace file on disk.

// MustParse parses an inline trace source, failing the test on error.
func MustParse(t *testing.T, src string) *trace.Trace {
	t.Helper()
	tr, err := trace.Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("parsing inline trace: %v", err)
	}
	return tr
}

// ActionBuilder hands out actions with increasing sequence numbers, the way
// a replayed trace would.
type ActionBuilder struct {
	seq int
}

func NewActionBuilder() *ActionBuilder {
	return &ActionBuilder{}
}

func (b *ActionBuilder) next() int {
	b.seq++
	return b.seq
}

func (b *ActionBuilder) Store(tid trace.ThreadID, loc trace.Location, val uint64, pos string) *trace.Action {
	act := trace.NewAction(b.next(), tid, trace.AtomicWrite, trace.Release, loc, pos)
	act.SetValue(val)
	return act
}

func (b *ActionBuilder) Load(tid trace.ThreadID, loc trace.Location, val uint64, pos string) *trace.Action {
	act := trace.NewAction(b.next(), tid, trace.AtomicRead, trace.Acquire, loc, pos)
	act.SetReadsFromValue(val)
	return act
}

func (b *ActionBuilder) RMW(tid trace.ThreadID, loc trace.Location, rf, val uint64, pos string) *trace.Action {
	act := trace.NewAction(b.next(), tid, trace.AtomicRMW, trace.AcqRel, loc, pos)
	act.SetReadsFromValue(rf)
	act.SetValue(val)
	return act
}

func (b *ActionBuilder) CAS(tid trace.ThreadID, loc trace.Location, rf, val uint64, pos string) *trace.Action {
	act := trace.NewAction(b.next(), tid, trace.AtomicRMWRCAS, trace.AcqRel, loc, pos)
	act.SetReadsFromValue(rf)
	act.SetValue(val)
	return act
}
