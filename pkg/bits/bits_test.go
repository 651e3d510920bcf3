package bits

import "testing"

func TestGetSetRoundTrip(t *testing.T) {
	cases := []struct {
		lowBit, width int
		value         uint32
	}{
		{0, 1, 1},
		{1, 1, 0},
		{16, 2, 3},
		{18, 2, 1},
		{30, 2, 2},
	}

	var dw uint32 = 0xAAAA5555
	for _, c := range cases {
		before := dw
		Set(&dw, c.lowBit, c.width, c.value)
		got := Get(dw, c.lowBit, c.width)
		if got != c.value {
			t.Fatalf("Get(%#x, %d, %d) = %d, want %d (before=%#x after=%#x)",
				before, c.lowBit, c.width, got, c.value, before, dw)
		}
	}
}

func TestSetDoesNotDisturbNeighbours(t *testing.T) {
	var dw uint32
	Set(&dw, 16, 4, 0xF)
	Set(&dw, 20, 4, 0x3)
	if Get(dw, 16, 4) != 0xF {
		t.Fatalf("low field corrupted: %#x", dw)
	}
	if Get(dw, 20, 4) != 0x3 {
		t.Fatalf("high field corrupted: %#x", dw)
	}
}

func TestBitEnable(t *testing.T) {
	var dw uint32
	SetBit(&dw, 0, true)
	SetBit(&dw, 2, true)
	if !GetBit(dw, 0) || !GetBit(dw, 2) {
		t.Fatalf("expected bits 0 and 2 set, got %#x", dw)
	}
	if GetBit(dw, 1) {
		t.Fatalf("bit 1 should not be set: %#x", dw)
	}
	SetBit(&dw, 0, false)
	if GetBit(dw, 0) {
		t.Fatalf("bit 0 should have been cleared: %#x", dw)
	}
}
