// Package winapi declares the handful of Win32/NT syscalls this tracer
// needs that golang.org/x/sys/windows does not expose: thread debug-register
// access, thread suspension, vectored exception handler registration, and
// thread id lookup. This mirrors the teacher project's own
// proc/internal/mssys package — same style (lazy DLL + NewProc, no cgo),
// scoped down to exactly what a VEH-driven debug-register tracer needs
// instead of a classic WaitForDebugEvent debugger loop.
package winapi

import (
	"syscall"
	"unsafe"
)

var (
	modKernel32 = syscall.NewLazyDLL("kernel32.dll")
	modNtdll    = syscall.NewLazyDLL("ntdll.dll")

	procGetCurrentThreadId             = modKernel32.NewProc("GetCurrentThreadId")
	procGetCurrentProcessId            = modKernel32.NewProc("GetCurrentProcessId")
	procOpenThread                     = modKernel32.NewProc("OpenThread")
	procSuspendThread                  = modKernel32.NewProc("SuspendThread")
	procResumeThread                   = modKernel32.NewProc("ResumeThread")
	procGetThreadContext               = modKernel32.NewProc("GetThreadContext")
	procSetThreadContext               = modKernel32.NewProc("SetThreadContext")
	procAddVectoredExceptionHandler    = modKernel32.NewProc("AddVectoredExceptionHandler")
	procRemoveVectoredExceptionHandler = modKernel32.NewProc("RemoveVectoredExceptionHandler")
	procNtQueryInformationThread       = modNtdll.NewProc("NtQueryInformationThread")
)

// Thread access rights needed to suspend a foreign thread and read/write
// its debug registers.
const (
	ThreadGetContext       = 0x0008
	ThreadSetContext       = 0x0010
	ThreadQueryInformation = 0x0040
	ThreadSuspendResume    = 0x0002

	ThreadAllAccessForHwBp = ThreadGetContext | ThreadSetContext | ThreadQueryInformation | ThreadSuspendResume
)

const invalidSuspendCount = 0xFFFFFFFF

// GetCurrentThreadId wraps kernel32!GetCurrentThreadId.
func GetCurrentThreadId() uint32 {
	r1, _, _ := procGetCurrentThreadId.Call()
	return uint32(r1)
}

// GetCurrentProcessId wraps kernel32!GetCurrentProcessId.
func GetCurrentProcessId() uint32 {
	r1, _, _ := procGetCurrentProcessId.Call()
	return uint32(r1)
}

// OpenThread wraps kernel32!OpenThread.
func OpenThread(access uint32, inheritHandle bool, threadID uint32) (syscall.Handle, error) {
	inherit := uintptr(0)
	if inheritHandle {
		inherit = 1
	}
	r1, _, err := procOpenThread.Call(uintptr(access), inherit, uintptr(threadID))
	if r1 == 0 {
		return 0, err
	}
	return syscall.Handle(r1), nil
}

// SuspendThread wraps kernel32!SuspendThread, returning the previous
// suspend count.
func SuspendThread(h syscall.Handle) (uint32, error) {
	r1, _, err := procSuspendThread.Call(uintptr(h))
	if uint32(r1) == invalidSuspendCount {
		return 0, err
	}
	return uint32(r1), nil
}

// ResumeThread wraps kernel32!ResumeThread, returning the previous
// suspend count.
func ResumeThread(h syscall.Handle) (uint32, error) {
	r1, _, err := procResumeThread.Call(uintptr(h))
	if uint32(r1) == invalidSuspendCount {
		return 0, err
	}
	return uint32(r1), nil
}

// GetThreadContext wraps kernel32!GetThreadContext for the 32-bit CONTEXT
// this library operates on.
func GetThreadContext(h syscall.Handle, ctx *Context32) error {
	r1, _, err := procGetThreadContext.Call(uintptr(h), uintptr(unsafe.Pointer(ctx)))
	if r1 == 0 {
		return err
	}
	return nil
}

// SetThreadContext wraps kernel32!SetThreadContext.
func SetThreadContext(h syscall.Handle, ctx *Context32) error {
	r1, _, err := procSetThreadContext.Call(uintptr(h), uintptr(unsafe.Pointer(ctx)))
	if r1 == 0 {
		return err
	}
	return nil
}

// VectoredHandler matches the signature kernel32 expects for a vectored
// exception handler callback: take an *ExceptionPointers and return one
// of the EXCEPTION_CONTINUE_* values.
type VectoredHandler func(ex *ExceptionPointers) int32

// AddVectoredExceptionHandler registers callback as a VEH, first in the chain
// iff first is true, and returns an opaque handle used to unregister it.
// callback must stay reachable for as long as the handler is registered — the
// caller is expected to keep a reference to the syscall.NewCallback
// result alive (see veh package).
func AddVectoredExceptionHandler(first bool, callback uintptr) (uintptr, error) {
	firstArg := uintptr(0)
	if first {
		firstArg = 1
	}
	r1, _, err := procAddVectoredExceptionHandler.Call(firstArg, callback)
	if r1 == 0 {
		return 0, err
	}
	return r1, nil
}

// RemoveVectoredExceptionHandler wraps kernel32!RemoveVectoredExceptionHandler.
func RemoveVectoredExceptionHandler(handle uintptr) error {
	r1, _, err := procRemoveVectoredExceptionHandler.Call(handle)
	if r1 == 0 {
		return err
	}
	return nil
}

// NTStatus mirrors NTSTATUS.
type NTStatus int32

// Success reports whether the NTSTATUS represents success, per the
// NT_SUCCESS(x) macro (x >= 0).
func (s NTStatus) Success() bool { return s >= 0 }

const threadBasicInformation = 0

type clientID struct {
	UniqueProcess uintptr
	UniqueThread  uintptr
}

type threadBasicInfo struct {
	ExitStatus   NTStatus
	TebBaseAddr  uintptr
	ClientID     clientID
	AffinityMask uintptr
	Priority     int32
	BasePriority int32
}

// ThreadIDFromHandle resolves the OS thread id behind a thread handle via
// NtQueryInformationThread, for the rare case a caller only has a handle.
func ThreadIDFromHandle(h syscall.Handle) (uint32, error) {
	var info threadBasicInfo
	status, _, _ := procNtQueryInformationThread.Call(
		uintptr(h), threadBasicInformation, uintptr(unsafe.Pointer(&info)), uintptr(unsafeSizeofThreadBasicInfo), 0)
	if !NTStatus(status).Success() {
		return 0, syscall.EINVAL
	}
	return uint32(info.ClientID.UniqueThread), nil
}
