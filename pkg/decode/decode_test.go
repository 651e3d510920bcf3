package decode

import (
	"testing"

	"github.com/andersenlabs/brtrace/pkg/record"
)

func TestDecodeClassifiesCall(t *testing.T) {
	// E8 00 00 00 00 -> CALL rel32 (call $+5)
	code := []byte{0xE8, 0x00, 0x00, 0x00, 0x00}
	d := New()
	typ, text, err := d.Decode(code, 0x401000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if typ != record.Call {
		t.Fatalf("got %v, want Call", typ)
	}
	if text == "" {
		t.Fatalf("expected non-empty formatted text")
	}
}

func TestDecodeClassifiesReturn(t *testing.T) {
	// C3 -> RET
	code := []byte{0xC3}
	d := New()
	typ, _, err := d.Decode(code, 0x401000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if typ != record.Return {
		t.Fatalf("got %v, want Return", typ)
	}
}

func TestDecodeClassifiesBranch(t *testing.T) {
	// EB FE -> JMP $ (short jump to itself)
	code := []byte{0xEB, 0xFE}
	d := New()
	typ, _, err := d.Decode(code, 0x401000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if typ != record.Branch {
		t.Fatalf("got %v, want Branch", typ)
	}
}

func TestDecodeInvalidBytes(t *testing.T) {
	d := New()
	_, _, err := d.Decode(nil, 0)
	if err == nil {
		t.Fatalf("expected an error decoding an empty buffer")
	}
}
