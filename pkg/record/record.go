// Package record defines the wire-format record emitted by the dispatcher
// into the shared ring, and the register snapshot it carries. The layout
// is part of the library's ABI: it is read back by a possibly different
// process through shared memory, so every field is a fixed-width value
// type and the struct carries no pointers or slices.
package record

// InstructionType classifies a TracedInstruction the way the dispatcher's
// decoder does: a branch that pushes a return address, one that pops and
// jumps to it, or anything else that transfers control.
type InstructionType int32

const (
	Branch InstructionType = iota
	Call
	Return
)

func (t InstructionType) String() string {
	switch t {
	case Call:
		return "call"
	case Return:
		return "return"
	default:
		return "branch"
	}
}

// textSize bounds the formatted instruction text, mirroring the fixed
// char buffer the original library embeds directly in the record so
// consumers in another process don't need a second out-of-band read.
const textSize = 96

// RegisterSet is the general-purpose and segment register snapshot
// captured from the thread's CONTEXT at the moment a branch was taken.
// Its own field order is fixed here and does not follow the 32-bit x86
// CONTEXT (pkg/winapi.Context32); the segment selectors, DWORDs in the
// CONTEXT, are stored truncated to 16 bits.
type RegisterSet struct {
	EAX, EBX, ECX, EDX uint32
	ESI, EDI           uint32
	EBP, ESP           uint32

	SegCS, SegDS, SegES, SegFS, SegGS, SegSS uint16
	_pad                                     uint16 // explicit padding after the selectors; the struct is 48 bytes
}

// TracedInstruction is the record pushed to the ring for every branch,
// call, and return observed while a trace is live.
type TracedInstruction struct {
	Type InstructionType

	TraceID  uint64
	ThreadID uint32
	_pad0    uint32

	CallDepth int32
	_pad1     int32

	BranchSource uint32
	BranchTarget uint32

	Registers RegisterSet

	TextLen int32
	Text    [textSize]byte
}

// SetText copies s into Text, truncating and NUL-terminating it so the
// fixed buffer is always safe to print as a C string by a peer process.
func (r *TracedInstruction) SetText(s string) {
	n := len(s)
	if n > textSize-1 {
		n = textSize - 1
	}
	copy(r.Text[:], s[:n])
	r.Text[n] = 0
	r.TextLen = int32(n)
}

// String returns the formatted instruction text as a Go string.
func (r *TracedInstruction) String() string {
	n := r.TextLen
	if n < 0 || int(n) > textSize {
		n = 0
	}
	return string(r.Text[:n])
}
