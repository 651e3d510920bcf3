package ring

import (
	"testing"

	"github.com/andersenlabs/brtrace/pkg/record"
)

func newTestRing(t *testing.T, capacity int) *Ring {
	t.Helper()
	buf := make([]byte, RequiredSize(capacity))
	r, err := New(buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func TestPushPopRoundTrip(t *testing.T) {
	r := newTestRing(t, 4)

	in := record.TracedInstruction{Type: record.Call, BranchSource: 0x1000, BranchTarget: 0x2000}
	if !r.Push(&in) {
		t.Fatalf("expected push to succeed on empty ring")
	}

	var out record.TracedInstruction
	if !r.Pop(&out) {
		t.Fatalf("expected pop to succeed after push")
	}
	if out.BranchSource != in.BranchSource || out.BranchTarget != in.BranchTarget {
		t.Fatalf("got %+v, want %+v", out, in)
	}
}

func TestPopFailsOnEmptyRing(t *testing.T) {
	r := newTestRing(t, 4)
	var out record.TracedInstruction
	if r.Pop(&out) {
		t.Fatalf("expected pop to fail on empty ring")
	}
}

func TestPushFailsWhenFull(t *testing.T) {
	r := newTestRing(t, 2)
	item := record.TracedInstruction{}

	if !r.Push(&item) {
		t.Fatalf("push 1 should succeed")
	}
	if !r.Push(&item) {
		t.Fatalf("push 2 should succeed")
	}
	if r.Push(&item) {
		t.Fatalf("push 3 should fail: ring capacity is 2 and nothing has been read yet")
	}
}

func TestWrapAroundAfterReaderAdvancesPastFirstSlot(t *testing.T) {
	r := newTestRing(t, 2)
	a := record.TracedInstruction{BranchSource: 1}
	b := record.TracedInstruction{BranchSource: 2}
	c := record.TracedInstruction{BranchSource: 3}

	if !r.Push(&a) || !r.Push(&b) {
		t.Fatalf("expected initial fill to succeed")
	}

	var out record.TracedInstruction
	if !r.Pop(&out) || out.BranchSource != 1 {
		t.Fatalf("expected to read back element 1 first")
	}
	if !r.Pop(&out) || out.BranchSource != 2 {
		t.Fatalf("expected to read back element 2 second")
	}

	// Reader is now past both slots (readOffset == maxElements), writer
	// is at maxElements too; a fresh push should wrap to slot 0.
	if !r.Push(&c) {
		t.Fatalf("expected push to wrap around once the reader has drained the ring")
	}
	if !r.Pop(&out) || out.BranchSource != 3 {
		t.Fatalf("expected wrapped element to read back correctly, got %+v", out)
	}
}

func TestPopAllDrainsUpToLimit(t *testing.T) {
	r := newTestRing(t, 4)
	for i := 0; i < 3; i++ {
		item := record.TracedInstruction{BranchSource: uint32(i)}
		if !r.Push(&item) {
			t.Fatalf("push %d should succeed", i)
		}
	}

	out := make([]record.TracedInstruction, 10)
	n := r.PopAll(out)
	if n != 3 {
		t.Fatalf("got %d, want 3", n)
	}
}

func TestOpenAttachesWithoutResettingOffsets(t *testing.T) {
	buf := make([]byte, RequiredSize(4))
	w, err := New(buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	item := record.TracedInstruction{BranchSource: 42}
	if !w.Push(&item) {
		t.Fatalf("expected push to succeed")
	}

	reader, err := Open(buf)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	var out record.TracedInstruction
	if !reader.Pop(&out) || out.BranchSource != 42 {
		t.Fatalf("expected Open to see the already-pushed element, got %+v", out)
	}
}
