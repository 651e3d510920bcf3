// Package veh is the vectored exception dispatcher — the state machine
// that turns raw EXCEPTION_SINGLE_STEP interrupts into a stream of
// TracedInstruction records. It is the Go port of the C original's
// vetrace.c, generalized to keep per-thread trace ownership in
// pkg/tlocal instead of one process-wide "current trace" slot, so that
// two traces on two different threads can make progress independently.
package veh

import (
	"fmt"
	"runtime"
	"syscall"
	"unsafe"

	"github.com/sirupsen/logrus"

	"github.com/andersenlabs/brtrace/pkg/bits"
	"github.com/andersenlabs/brtrace/pkg/decode"
	"github.com/andersenlabs/brtrace/pkg/hwbreak"
	"github.com/andersenlabs/brtrace/pkg/record"
	"github.com/andersenlabs/brtrace/pkg/registry"
	"github.com/andersenlabs/brtrace/pkg/ring"
	"github.com/andersenlabs/brtrace/pkg/tlocal"
	"github.com/andersenlabs/brtrace/pkg/winapi"
)

// Dispatcher owns one vectored exception handler. service.Manager builds
// one per local Context; it shares that Context's registry with the
// trace controller, which holds no reference to the dispatcher itself.
type Dispatcher struct {
	registry *registry.Registry
	decoder  decode.Decoder
	out      *ring.Ring
	log      *logrus.Entry

	callback  uintptr
	vehHandle uintptr
}

// New builds a dispatcher over reg (the active-trace registry) that
// decodes instructions with dec and publishes records to out. dec and
// log may be nil; sensible defaults are used.
func New(reg *registry.Registry, dec decode.Decoder, out *ring.Ring, log *logrus.Entry) *Dispatcher {
	if dec == nil {
		dec = decode.New()
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Dispatcher{registry: reg, decoder: dec, out: out, log: log}
}

// Start registers the dispatcher's handler as the first vectored
// exception handler in the process.
func (d *Dispatcher) Start() error {
	if d.vehHandle != 0 {
		return fmt.Errorf("veh: dispatcher already started")
	}

	// syscall.NewCallback's result must stay reachable for as long as
	// the handler is registered with the OS; it is kept on d for that
	// reason rather than being a local.
	d.callback = syscall.NewCallback(d.onException)

	h, err := winapi.AddVectoredExceptionHandler(true, d.callback)
	if err != nil {
		return fmt.Errorf("veh: AddVectoredExceptionHandler: %w", err)
	}
	d.vehHandle = h
	d.log.Debug("vectored exception handler registered")
	return nil
}

// Stop unregisters the handler. Any traces still armed in the registry
// keep their hardware breakpoints set, but single-stepping them will no
// longer be observed by this dispatcher.
func (d *Dispatcher) Stop() error {
	if d.vehHandle == 0 {
		return nil
	}
	err := winapi.RemoveVectoredExceptionHandler(d.vehHandle)
	d.vehHandle = 0
	if err != nil {
		return fmt.Errorf("veh: RemoveVectoredExceptionHandler: %w", err)
	}
	return nil
}

// onException is the raw callback signature AddVectoredExceptionHandler
// expects: a single pointer-sized argument, a pointer-sized (here,
// sign-extended int32) result.
func (d *Dispatcher) onException(exPtr uintptr) uintptr {
	ex := (*winapi.ExceptionPointers)(unsafe.Pointer(exPtr))
	return uintptr(uint32(d.dispatch(ex)))
}

func breakpointIndexForAddress(ctx *winapi.Context32, address uintptr) int {
	switch uint32(address) {
	case ctx.Dr0:
		return 0
	case ctx.Dr1:
		return 1
	case ctx.Dr2:
		return 2
	case ctx.Dr3:
		return 3
	default:
		return -1
	}
}

func setTraceFlags(ctx *winapi.Context32, enable bool) {
	if enable {
		ctx.Dr7 |= winapi.Dr7LastBranchRecord | winapi.Dr7BranchTrapFlag
		ctx.EFlags |= winapi.EFlagsTrapFlag
	} else {
		ctx.Dr7 &^= winapi.Dr7LastBranchRecord | winapi.Dr7BranchTrapFlag
		ctx.EFlags &^= winapi.EFlagsTrapFlag
	}
}

// dispatch implements the state machine, run on the thread that took
// the exception. It must return promptly: it runs in place of the
// faulting instruction's normal continuation.
func (d *Dispatcher) dispatch(ex *winapi.ExceptionPointers) int32 {
	if ex.ExceptionRecord.ExceptionCode != winapi.ExceptionSingleStep {
		return winapi.ExceptionContinueSearch
	}

	ctx := ex.ContextRecord
	threadID := winapi.GetCurrentThreadId()
	exceptionAddr := ex.ExceptionRecord.ExceptionAddress

	index := tlocal.ActiveBreakpoint(threadID)

	if index == -1 {
		// No trace is active yet on this thread: check whether this
		// single-step was triggered by one of our own hardware
		// breakpoints rather than something else's.
		index = breakpointIndexForAddress(ctx, exceptionAddr)
		if index == -1 || !bits.GetBit(ctx.Dr7, index<<1) {
			return winapi.ExceptionContinueSearch
		}

		trace, ok := d.registry.FindByStartAddress(exceptionAddr, threadID)
		if !ok {
			return winapi.ExceptionContinueSearch
		}
		if _, owned := tlocal.CurrentTrace(threadID); owned {
			// Shouldn't normally happen: a thread can only own one
			// trace at a time and activeBpIndex would already be set.
			return winapi.ExceptionContinueExecution
		}

		tlocal.SetCurrentTrace(threadID, trace.TraceID)
		tlocal.SetCallDepth(threadID, 0)
		tlocal.SetActiveBreakpoint(threadID, index)

		// Mask this breakpoint's enable bit for now; it is restored the
		// next time this handler runs on this thread (the else branch),
		// which avoids re-triggering on the very instruction that set it.
		bits.SetBit(&ctx.Dr7, index<<1, false)
	} else {
		bits.SetBit(&ctx.Dr7, index<<1, true)
	}

	if resumeIndex := tlocal.SuspendedBreakpoint(threadID); resumeIndex != -1 {
		hwbreak.RemoveOnContext(ctx, resumeIndex)
		tlocal.SetSuspendedBreakpoint(threadID, -1)
		// The call that triggered suspension is now known to have
		// returned; undo the depth increment that was never traced.
		tlocal.AdjustCallDepth(threadID, -1)
	}

	traceID, ok := tlocal.CurrentTrace(threadID)
	if !ok {
		return winapi.ExceptionContinueExecution
	}
	trace, ok := d.registry.FindByID(traceID)
	if !ok {
		tlocal.ClearCurrentTrace(threadID)
		tlocal.SetActiveBreakpoint(threadID, -1)
		return winapi.ExceptionContinueExecution
	}

	resumeAddr, shouldContinue := d.traceInstruction(ex, threadID, trace)

	if shouldContinue {
		if d.shouldSuspend(trace, threadID, exceptionAddr) {
			if idx, err := hwbreak.SetOnContext(ctx, resumeAddr, 1, hwbreak.CondExecute); err == nil {
				tlocal.SetSuspendedBreakpoint(threadID, idx)
			} else {
				d.log.WithError(err).Warn("could not arm resume breakpoint, trace will free-run")
			}
			setTraceFlags(ctx, false)
		} else {
			setTraceFlags(ctx, true)
		}
	} else {
		d.endTrace(trace, threadID, ctx)
	}

	return winapi.ExceptionContinueExecution
}

// shouldSuspend decides whether branch tracing should be paused: either
// execution has left the module the trace was started against, or it
// has gone past the configured maximum call depth.
func (d *Dispatcher) shouldSuspend(trace *registry.ActiveTrace, threadID uint32, address uintptr) bool {
	if !trace.AddressInsideModule(address) {
		return true
	}
	if trace.MaxTraceDepth > 0 && tlocal.CallDepth(threadID) >= trace.MaxTraceDepth {
		return true
	}
	return false
}

func readCode(address uintptr, n int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(address)), n)
}

// traceInstruction decodes the instruction that caused the last taken
// branch, records it, and reports where execution should conceptually
// resume from (used only to arm a one-shot suspend breakpoint — the
// thread's own EIP is never rewritten) and whether tracing should
// continue.
func (d *Dispatcher) traceInstruction(ex *winapi.ExceptionPointers, threadID uint32, trace *registry.ActiveTrace) (resumeAddr uintptr, shouldContinue bool) {
	ctx := ex.ContextRecord
	lastBranch := ex.ExceptionRecord.ExceptionInformation[0]

	if lastBranch == 0 {
		// First single-step after arming: LBR has nothing to report yet.
		return ex.ExceptionRecord.ExceptionAddress, true
	}

	code := readCode(lastBranch, decode.MaxInstructionLength)
	kind, text, err := d.decoder.Decode(code, uint32(lastBranch))
	if err != nil {
		d.log.WithError(err).WithField("address", fmt.Sprintf("%#x", lastBranch)).Warn("failed to decode traced instruction")
		return ex.ExceptionRecord.ExceptionAddress, false
	}

	inst := record.TracedInstruction{
		Type:         kind,
		TraceID:      trace.TraceID,
		ThreadID:     threadID,
		BranchSource: uint32(lastBranch),
		BranchTarget: uint32(ex.ExceptionRecord.ExceptionAddress),
		Registers: record.RegisterSet{
			EAX: ctx.Eax, EBX: ctx.Ebx, ECX: ctx.Ecx, EDX: ctx.Edx,
			ESI: ctx.Esi, EDI: ctx.Edi, EBP: ctx.Ebp, ESP: ctx.Esp,
			SegCS: uint16(ctx.SegCs), SegDS: uint16(ctx.SegDs), SegES: uint16(ctx.SegEs),
			SegFS: uint16(ctx.SegFs), SegGS: uint16(ctx.SegGs), SegSS: uint16(ctx.SegSs),
		},
	}
	inst.SetText(text)

	switch kind {
	case record.Call:
		depth := tlocal.AdjustCallDepth(threadID, 1)
		inst.CallDepth = depth
		shouldContinue = depth >= 0
		resumeAddr = uintptr(*(*uint32)(unsafe.Pointer(uintptr(ctx.Esp))))
	case record.Return:
		depth := tlocal.AdjustCallDepth(threadID, -1)
		inst.CallDepth = depth
		shouldContinue = depth > 0
		resumeAddr = uintptr(ctx.Eip)
	default:
		depth := tlocal.CallDepth(threadID)
		inst.CallDepth = depth
		shouldContinue = depth >= 0
		resumeAddr = uintptr(ctx.Eip)
	}

	for !d.out.Push(&inst) {
		runtime.Gosched()
	}

	return resumeAddr, shouldContinue
}

// endTrace clears per-thread trace state and, once the trace's lifetime
// (if any) has run out, removes it from the registry and disarms its
// hardware breakpoint everywhere it was set.
func (d *Dispatcher) endTrace(trace *registry.ActiveTrace, threadID uint32, ctx *winapi.Context32) {
	setTraceFlags(ctx, false)
	tlocal.ClearCurrentTrace(threadID)
	tlocal.SetActiveBreakpoint(threadID, -1)
	tlocal.SetCallDepth(threadID, 0)

	if !d.registry.DecrementLifetime(trace.TraceID) {
		return
	}
	if _, ok := d.registry.Unregister(trace.TraceID); !ok {
		return
	}
	if trace.Breakpoint == nil {
		return
	}
	if err := trace.Breakpoint.RemoveExceptThread(threadID, func(index int) {
		hwbreak.RemoveOnContext(ctx, index)
	}); err != nil {
		d.log.WithError(err).Warn("failed to remove expired trace's hardware breakpoint on a foreign thread")
	}
}
