package tlocal

import "testing"

func TestActiveBreakpointDefaultsToUnset(t *testing.T) {
	if got := ActiveBreakpoint(111); got != -1 {
		t.Fatalf("got %d, want -1", got)
	}
}

func TestActiveBreakpointRoundTrip(t *testing.T) {
	SetActiveBreakpoint(222, 2)
	if got := ActiveBreakpoint(222); got != 2 {
		t.Fatalf("got %d, want 2", got)
	}
	SetActiveBreakpoint(222, -1)
	if got := ActiveBreakpoint(222); got != -1 {
		t.Fatalf("got %d, want -1 after clear", got)
	}
}

func TestSuspendedBreakpointRoundTrip(t *testing.T) {
	SetSuspendedBreakpoint(333, 0)
	if got := SuspendedBreakpoint(333); got != 0 {
		t.Fatalf("got %d, want 0", got)
	}
}

func TestCurrentTraceRoundTrip(t *testing.T) {
	if _, ok := CurrentTrace(444); ok {
		t.Fatalf("expected no current trace before set")
	}
	SetCurrentTrace(444, 99)
	id, ok := CurrentTrace(444)
	if !ok || id != 99 {
		t.Fatalf("got (%d, %v), want (99, true)", id, ok)
	}
	ClearCurrentTrace(444)
	if _, ok := CurrentTrace(444); ok {
		t.Fatalf("expected no current trace after clear")
	}
}

func TestCallDepthAdjust(t *testing.T) {
	SetCallDepth(555, 0)
	if got := AdjustCallDepth(555, 1); got != 1 {
		t.Fatalf("got %d, want 1", got)
	}
	if got := AdjustCallDepth(555, -2); got != -1 {
		t.Fatalf("got %d, want -1", got)
	}
}

func TestForgetRemovesAllFields(t *testing.T) {
	SetActiveBreakpoint(666, 1)
	SetCurrentTrace(666, 7)
	Forget(666)
	if got := ActiveBreakpoint(666); got != -1 {
		t.Fatalf("got %d, want -1 after forget", got)
	}
	if _, ok := CurrentTrace(666); ok {
		t.Fatalf("expected no current trace after forget")
	}
}
