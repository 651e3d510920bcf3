package registry

import "testing"

func TestRegisterAssignsIncreasingIDs(t *testing.T) {
	r := New()
	a := r.Register(&ActiveTrace{StartAddress: 0x1000, ThreadID: -1})
	b := r.Register(&ActiveTrace{StartAddress: 0x2000, ThreadID: -1})
	if a == 0 || b == 0 || a == b {
		t.Fatalf("got ids %d, %d, want distinct nonzero", a, b)
	}
}

func TestFindByStartAddressMatchesGlobalTrace(t *testing.T) {
	r := New()
	r.Register(&ActiveTrace{StartAddress: 0x1000, ThreadID: -1})

	got, ok := r.FindByStartAddress(0x1000, 42)
	if !ok || got.StartAddress != 0x1000 {
		t.Fatalf("expected global trace to match any thread")
	}
}

func TestFindByStartAddressRequiresThreadMatchWhenScoped(t *testing.T) {
	r := New()
	r.Register(&ActiveTrace{StartAddress: 0x1000, ThreadID: 7})

	if _, ok := r.FindByStartAddress(0x1000, 8); ok {
		t.Fatalf("expected no match for a different thread")
	}
	if _, ok := r.FindByStartAddress(0x1000, 7); !ok {
		t.Fatalf("expected match for the owning thread")
	}
}

func TestUnregisterRemovesTrace(t *testing.T) {
	r := New()
	id := r.Register(&ActiveTrace{StartAddress: 0x1000, ThreadID: -1})

	if r.Len() != 1 {
		t.Fatalf("expected 1 registered trace")
	}
	if _, ok := r.Unregister(id); !ok {
		t.Fatalf("expected unregister to succeed")
	}
	if r.Len() != 0 {
		t.Fatalf("expected 0 registered traces after unregister")
	}
}

func TestDecrementLifetimeReportsExpiry(t *testing.T) {
	r := New()
	id := r.Register(&ActiveTrace{StartAddress: 0x1000, ThreadID: -1, Lifetime: 2})

	if r.DecrementLifetime(id) {
		t.Fatalf("did not expect expiry on first decrement")
	}
	if !r.DecrementLifetime(id) {
		t.Fatalf("expected expiry on second decrement")
	}
}

func TestDecrementLifetimeIgnoresInfiniteTraces(t *testing.T) {
	r := New()
	id := r.Register(&ActiveTrace{StartAddress: 0x1000, ThreadID: -1, Lifetime: 0})

	for i := 0; i < 5; i++ {
		if r.DecrementLifetime(id) {
			t.Fatalf("infinite-lifetime trace should never expire")
		}
	}
}

func TestAddressInsideModule(t *testing.T) {
	tr := &ActiveTrace{BaseOfCode: 0x1000, SizeOfCode: 0x100}
	if !tr.AddressInsideModule(0x1050) {
		t.Fatalf("expected 0x1050 to be inside [0x1000, 0x1100)")
	}
	if tr.AddressInsideModule(0x1100) {
		t.Fatalf("expected 0x1100 to be outside [0x1000, 0x1100)")
	}
}
