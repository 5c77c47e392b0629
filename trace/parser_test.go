package trace

import (
	"strings"
	"testing"
)

const sampleTrace = `
# enqueue/dequeue interleaving
1 enter main
1 store head 0x10 rel @queue.c:10
1 create 2
2 enter deq
2 load head 0x10 acq @queue.c:31
2 rmw count 1 2 acqrel @queue.c:34
2 cas tail 0 0x20 sc @queue.c:40
2 fence sc
2 exit deq
1 lock m
1 unlock m
1 yield
1 join 2
1 exit main
`

func TestParseSample(t *testing.T) {
	tr, err := Parse(strings.NewReader(sampleTrace))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if len(tr.Actions) != 14 {
		t.Fatalf("parsed %d actions, want 14", len(tr.Actions))
	}

	threads := tr.Threads()
	if len(threads) != 2 || threads[0] != 1 || threads[1] != 2 {
		t.Errorf("Threads() = %v, want [1 2]", threads)
	}

	if funcs := tr.Functions(); len(funcs) != 2 || funcs[0] != "main" || funcs[1] != "deq" {
		t.Errorf("Functions() = %v, want [main deq]", funcs)
	}

	store := tr.Actions[1]
	if store.Kind() != AtomicWrite || store.Value() != 0x10 ||
		store.MemoryOrder() != Release || store.Position() != "queue.c:10" {
		t.Errorf("store parsed as %v %d %v %q", store.Kind(), store.Value(),
			store.MemoryOrder(), store.Position())
	}
	if !store.IsWrite() || store.IsRead() {
		t.Error("store kind flags wrong")
	}

	load := tr.Actions[4]
	if load.Kind() != AtomicRead || load.ReadsFromValue() != 0x10 || load.MemoryOrder() != Acquire {
		t.Error("load record parsed wrong")
	}
	if load.Location() != store.Location() {
		t.Error("same symbolic location must intern to the same Location")
	}

	rmw := tr.Actions[5]
	if rmw.Kind() != AtomicRMW || rmw.ReadsFromValue() != 1 || rmw.Value() != 2 {
		t.Error("rmw record parsed wrong")
	}
	if !rmw.IsRead() || !rmw.IsWrite() {
		t.Error("rmw must be both read and write")
	}

	cas := tr.Actions[6]
	if cas.Kind() != AtomicRMWRCAS || cas.Value() != 0x20 || cas.MemoryOrder() != SeqCst {
		t.Error("cas record parsed wrong")
	}

	if tr.Actions[8].Kind() != FunctionExit || tr.Actions[8].Function() != "deq" {
		t.Error("exit record parsed wrong")
	}

	lock := tr.Actions[9]
	if lock.Kind() != AtomicLock || lock.Position() != "" {
		t.Error("lock actions must carry no position")
	}

	// Sequence numbers follow record order.
	for i, act := range tr.Actions {
		if act.SeqNumber() != i+1 {
			t.Fatalf("action %d has seq %d", i, act.SeqNumber())
		}
	}
}

func TestParseErrors(t *testing.T) {
	malformed := []string{
		"1",
		"x store a 1 rlx @f.c:1",
		"1 store a 1 rlx",
		"1 store a one rlx @f.c:1",
		"1 load a 1 wrong @f.c:1",
		"1 load a 1 rlx f.c:1",
		"1 frobnicate a",
		"1 fence",
		"1 join two",
		"1 yield now",
	}

	for _, src := range malformed {
		if _, err := Parse(strings.NewReader(src)); err == nil {
			t.Errorf("no error for malformed record %q", src)
		}
	}
}

func TestParseNullAndComments(t *testing.T) {
	tr, err := Parse(strings.NewReader("# only a comment\n\n1 load p null rlx @f.c:1\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(tr.Actions) != 1 || tr.Actions[0].ReadsFromValue() != 0 {
		t.Error("null keyword must parse as the zero value")
	}
}

func TestLocationInterning(t *testing.T) {
	tr := newTrace()
	a := tr.InternLocation("x")
	b := tr.InternLocation("y")
	if a == b {
		t.Error("distinct names must intern distinctly")
	}
	if tr.InternLocation("x") != a {
		t.Error("interning is not stable")
	}
	if a == 0 || b == 0 {
		t.Error("location 0 is reserved for the null bit pattern")
	}
	if tr.LocationName(a) != "x" || tr.LocationName(b) != "y" {
		t.Error("LocationName does not round-trip")
	}
}
