package record

import "testing"

func TestSetTextRoundTrip(t *testing.T) {
	var r TracedInstruction
	r.SetText("mov eax, [ebp-4]")
	if got := r.String(); got != "mov eax, [ebp-4]" {
		t.Fatalf("got %q", got)
	}
}

func TestSetTextTruncatesAndTerminates(t *testing.T) {
	var r TracedInstruction
	long := make([]byte, textSize+50)
	for i := range long {
		long[i] = 'a'
	}
	r.SetText(string(long))
	if len(r.String()) != textSize-1 {
		t.Fatalf("expected truncation to %d bytes, got %d", textSize-1, len(r.String()))
	}
	if r.Text[textSize-1] != 0 {
		t.Fatalf("expected NUL terminator at the end of the buffer")
	}
}

func TestInstructionTypeString(t *testing.T) {
	cases := map[InstructionType]string{
		Branch: "branch",
		Call:   "call",
		Return: "return",
	}
	for typ, want := range cases {
		if got := typ.String(); got != want {
			t.Fatalf("InstructionType(%d).String() = %q, want %q", typ, got, want)
		}
	}
}
