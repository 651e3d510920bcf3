// Package decode wraps the external x86 decoder/formatter collaborator
// the dispatcher depends on (spec section 4.6): given the bytes at a
// branch's source address, decode the instruction and classify it into
// Call / Return / Branch, and render it as text for the emitted record.
//
// The reference implementation decodes with Zydis; this port uses
// golang.org/x/arch/x86/x86asm, the pure-Go x86 decoder the teacher
// project already depends on (it backs delve's disassembly views).
package decode

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"

	"github.com/andersenlabs/brtrace/pkg/record"
)

// MaxInstructionLength bounds how many bytes must be readable at a
// branch source address to guarantee the decoder can make progress.
const MaxInstructionLength = 15

// Decoder classifies and formats a single x86 instruction. The dispatcher
// depends on this interface, not on x86asm directly, so the decoder can
// be swapped (or mocked in tests) without touching the dispatcher.
type Decoder interface {
	// Decode reads the instruction at address from code (code must hold
	// at least MaxInstructionLength bytes starting at the instruction,
	// or fewer if the caller knows the instruction is shorter) and
	// returns its control-flow category and a formatted Intel-syntax
	// string.
	Decode(code []byte, address uint32) (record.InstructionType, string, error)
}

// x86Decoder is the default 32-bit decoder used outside of tests.
type x86Decoder struct{}

// New returns the default decoder, targeting 32-bit (non-long) mode —
// this library only traces 32-bit x86 code.
func New() Decoder {
	return x86Decoder{}
}

func (x86Decoder) Decode(code []byte, address uint32) (record.InstructionType, string, error) {
	inst, err := x86asm.Decode(code, 32)
	if err != nil {
		return record.Branch, "", fmt.Errorf("decode at %#x: %w", address, err)
	}

	text := x86asm.IntelSyntax(inst, uint64(address), nil)

	return classify(inst), text, nil
}

// classify maps an x86asm opcode onto the three-way category the
// dispatcher's call-depth bookkeeping needs. Only CALL and RET change
// call depth; every other control transfer (conditional and
// unconditional jumps) is a plain Branch.
func classify(inst x86asm.Inst) record.InstructionType {
	switch inst.Op {
	case x86asm.CALL, x86asm.CALLF:
		return record.Call
	case x86asm.RET, x86asm.RETF:
		return record.Return
	default:
		return record.Branch
	}
}

// Len returns the length in bytes of the instruction at the start of
// code. The dispatcher and service.Manager.DecodeAndFormatAt do not call
// it; both read a fixed MaxInstructionLength bytes.
func Len(code []byte) (int, error) {
	inst, err := x86asm.Decode(code, 32)
	if err != nil {
		return 0, err
	}
	return inst.Len, nil
}
