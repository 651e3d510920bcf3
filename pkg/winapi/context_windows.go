package winapi

// Context flags, mirroring winnt.h's x86 (CONTEXT_i386) flag bits. The
// teacher's own mssys package only declared the amd64 CONTEXT; this
// library targets 32-bit x86 code so the bit values and field layout
// below are the i386 CONTEXT, not the amd64 one.
const (
	contextI386 = 0x00010000

	ContextControl           = contextI386 | 0x1
	ContextInteger           = contextI386 | 0x2
	ContextSegments          = contextI386 | 0x4
	ContextFloatingPoint     = contextI386 | 0x8
	ContextDebugRegisters    = contextI386 | 0x10
	ContextExtendedRegisters = contextI386 | 0x20

	ContextFull = ContextControl | ContextInteger | ContextSegments
	ContextAll  = ContextFull | ContextFloatingPoint | ContextDebugRegisters | ContextExtendedRegisters
)

// floatingSaveArea mirrors FLOATING_SAVE_AREA; this library never reads
// FPU state, so it is carried as an opaque blob sized to match the real
// structure (28 header bytes + 80 bytes of register area + 4 bytes of
// Cr0NpxState) purely to keep CONTEXT's field offsets correct.
type floatingSaveArea [112]byte

// Context32 is the 32-bit x86 CONTEXT structure, field order exactly as
// WinNT.h declares it. GetThreadContext/SetThreadContext require this
// exact layout; Dr0-Dr7 and EFlags are what the hardware-breakpoint
// allocator and the dispatcher manipulate.
type Context32 struct {
	ContextFlags uint32

	Dr0, Dr1, Dr2, Dr3, Dr6, Dr7 uint32

	FloatSave floatingSaveArea

	SegGs, SegFs, SegEs, SegDs uint32

	Edi, Esi, Ebx, Edx, Ecx, Eax uint32

	Ebp    uint32
	Eip    uint32
	SegCs  uint32
	EFlags uint32
	Esp    uint32
	SegSs  uint32

	ExtendedRegisters [512]byte
}

// EFlags trap flag (bit 8): causes a single-step exception after the
// next instruction.
const EFlagsTrapFlag = 0x100

// DR7 bits 8 and 9: last-branch-record and branch-trap-flag, the two
// bits that together make the CPU single-step on the next *taken branch*
// instead of the next instruction.
const (
	Dr7LastBranchRecord = 0x100
	Dr7BranchTrapFlag   = 0x200
)

// ExceptionRecord mirrors EXCEPTION_RECORD's fixed-size prefix (the
// variable-length tail beyond ExceptionInformation is never needed here).
type ExceptionRecord struct {
	ExceptionCode        uint32
	ExceptionFlags       uint32
	ExceptionRecord      uintptr
	ExceptionAddress     uintptr
	NumberParameters     uint32
	ExceptionInformation [15]uintptr
}

// ExceptionPointers mirrors EXCEPTION_POINTERS, the single argument
// passed to a vectored exception handler.
type ExceptionPointers struct {
	ExceptionRecord *ExceptionRecord
	ContextRecord   *Context32
}

// EXCEPTION_SINGLE_STEP, the only exception code this tracer reacts to;
// everything else must be passed through (EXCEPTION_CONTINUE_SEARCH).
const ExceptionSingleStep = 0x80000004

// Vectored handler return values.
const (
	ExceptionContinueExecution int32 = -1
	ExceptionContinueSearch    int32 = 0
)
