package hwbreak

import (
	"testing"

	"github.com/andersenlabs/brtrace/pkg/winapi"
)

func TestLengthCodeValidSizes(t *testing.T) {
	cases := map[int]uint32{1: 0, 2: 1, 4: 3}
	for length, want := range cases {
		got, err := lengthCode(length)
		if err != nil {
			t.Fatalf("lengthCode(%d): unexpected error: %v", length, err)
		}
		if got != want {
			t.Fatalf("lengthCode(%d) = %d, want %d", length, got, want)
		}
	}
}

func TestLengthCodeRejectsUnsupportedSizes(t *testing.T) {
	for _, length := range []int{0, 3, 5, 8} {
		if _, err := lengthCode(length); err == nil {
			t.Fatalf("lengthCode(%d): expected error, got nil", length)
		}
	}
}

func TestRemoveRejectsNilHandle(t *testing.T) {
	if err := Remove(nil); err == nil {
		t.Fatalf("Remove(nil): expected error, got nil")
	}
}

// TestSetOnContextSkipsSuspendedButPopulatedSlot covers the free-slot
// scan bug: a slot whose DR7 enable bit is clear but whose debug
// register still holds a live address (the state a suspended-but-not-
// yet-removed breakpoint is left in) must not be reused.
func TestSetOnContextSkipsSuspendedButPopulatedSlot(t *testing.T) {
	var ctx winapi.Context32
	ctx.Dr0 = 0x401000 // slot 0 holds an address but is suspended (enable bit clear)

	index, err := SetOnContext(&ctx, 0x402000, 1, CondExecute)
	if err != nil {
		t.Fatalf("SetOnContext: unexpected error: %v", err)
	}
	if index == 0 {
		t.Fatalf("SetOnContext reused slot 0, which still held address %#x", ctx.Dr0)
	}
	if index != 1 {
		t.Fatalf("SetOnContext picked slot %d, want slot 1", index)
	}
	if ctx.Dr0 != 0x401000 {
		t.Fatalf("SetOnContext clobbered slot 0's address: got %#x", ctx.Dr0)
	}
}

// TestSetOnContextReusesClearedSlot confirms a slot with both the
// enable bit clear and DRi == 0 is still treated as free.
func TestSetOnContextReusesClearedSlot(t *testing.T) {
	var ctx winapi.Context32

	index, err := SetOnContext(&ctx, 0x402000, 1, CondExecute)
	if err != nil {
		t.Fatalf("SetOnContext: unexpected error: %v", err)
	}
	if index != 0 {
		t.Fatalf("SetOnContext picked slot %d, want slot 0", index)
	}
}
