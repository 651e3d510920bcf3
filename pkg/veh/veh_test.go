package veh

import (
	"testing"

	"github.com/andersenlabs/brtrace/pkg/registry"
	"github.com/andersenlabs/brtrace/pkg/tlocal"
	"github.com/andersenlabs/brtrace/pkg/winapi"
)

func TestBreakpointIndexForAddress(t *testing.T) {
	ctx := &winapi.Context32{Dr0: 0x1000, Dr1: 0x2000, Dr2: 0x3000, Dr3: 0x4000}

	cases := map[uintptr]int{0x1000: 0, 0x2000: 1, 0x3000: 2, 0x4000: 3, 0x5000: -1}
	for addr, want := range cases {
		if got := breakpointIndexForAddress(ctx, addr); got != want {
			t.Fatalf("breakpointIndexForAddress(%#x) = %d, want %d", addr, got, want)
		}
	}
}

func TestSetTraceFlagsTogglesAllThreeBits(t *testing.T) {
	var ctx winapi.Context32

	setTraceFlags(&ctx, true)
	if ctx.Dr7&winapi.Dr7LastBranchRecord == 0 || ctx.Dr7&winapi.Dr7BranchTrapFlag == 0 {
		t.Fatalf("expected DR7 LBR and BTF bits set, got %#x", ctx.Dr7)
	}
	if ctx.EFlags&winapi.EFlagsTrapFlag == 0 {
		t.Fatalf("expected EFlags trap flag set, got %#x", ctx.EFlags)
	}

	setTraceFlags(&ctx, false)
	if ctx.Dr7 != 0 || ctx.EFlags != 0 {
		t.Fatalf("expected all flags cleared, got Dr7=%#x EFlags=%#x", ctx.Dr7, ctx.EFlags)
	}
}

func TestShouldSuspendOutsideModule(t *testing.T) {
	d := &Dispatcher{}
	trace := &registry.ActiveTrace{BaseOfCode: 0x400000, SizeOfCode: 0x1000}

	if !d.shouldSuspend(trace, 1, 0x500000) {
		t.Fatalf("expected suspend when address is outside the module's code section")
	}
	if d.shouldSuspend(trace, 1, 0x400100) {
		t.Fatalf("did not expect suspend when address is inside the module's code section")
	}
}

func TestShouldSuspendAtMaxDepth(t *testing.T) {
	d := &Dispatcher{}
	trace := &registry.ActiveTrace{BaseOfCode: 0x400000, SizeOfCode: 0x1000, MaxTraceDepth: 3}

	tlocal.SetCallDepth(999, 3)
	defer tlocal.Forget(999)

	if !d.shouldSuspend(trace, 999, 0x400100) {
		t.Fatalf("expected suspend once call depth reaches the configured maximum")
	}
}

func TestShouldSuspendUnboundedDepthNeverSuspendsOnDepthAlone(t *testing.T) {
	d := &Dispatcher{}
	trace := &registry.ActiveTrace{BaseOfCode: 0x400000, SizeOfCode: 0x1000, MaxTraceDepth: 0}

	tlocal.SetCallDepth(1000, 1000)
	defer tlocal.Forget(1000)

	if d.shouldSuspend(trace, 1000, 0x400100) {
		t.Fatalf("did not expect suspend: MaxTraceDepth <= 0 means unbounded")
	}
}
