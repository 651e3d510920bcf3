// Package errcode carries the tracer's flat, stable error enum and the
// thread-local "last error" slot that every public entry point updates.
//
// The set of codes and the convention (Success on entry, a specific code
// on failure, untouched by the dispatcher) come straight from the
// original tracer_lib's TracerError / tracerCoreSetLastError pair.
package errcode

import "sync"

// Code is a stable, numeric error code. Values must never be renumbered;
// they are part of the library's ABI.
type Code int32

const (
	Success Code = iota
	WrongVersion
	NotImplemented
	InvalidArgument
	InvalidProcess
	InvalidHandle
	InsufficientPermission
	NotEnoughMemory
	SystemCall
	WaitTimeout
	WaitIncomplete
	RemoteInterop
	PatternsNotFound
	OutOfResources
)

var names = map[Code]string{
	Success:                "success",
	WrongVersion:           "library version mismatch",
	NotImplemented:         "operation not implemented",
	InvalidArgument:        "invalid argument",
	InvalidProcess:         "invalid process id",
	InvalidHandle:          "invalid handle",
	InsufficientPermission: "insufficient permission",
	NotEnoughMemory:        "not enough memory",
	SystemCall:             "system call failed",
	WaitTimeout:            "wait timed out",
	WaitIncomplete:         "one of the wait handles failed",
	RemoteInterop:          "remote end returned an error",
	PatternsNotFound:       "pattern could not be found",
	OutOfResources:         "out of resources",
}

// String renders a code as a user-readable message. Unknown codes render
// as "unknown error" rather than panicking.
func (c Code) String() string {
	if s, ok := names[c]; ok {
		return s
	}
	return "unknown error"
}

// Error lets Code satisfy the error interface directly, so callers that
// only need a Go error can use a Code as one.
func (c Code) Error() string {
	return c.String()
}

// last is the thread-local last-error slot. Go has no native TLS, so it
// is keyed by goroutine-affine OS thread id the same way the engine's
// other per-thread state is (see pkg/tlocal) — except the last-error
// slot is consulted far more often and from far more goroutines, so it
// is backed by a sync.Map rather than the single-mutex map tlocal uses.
var last sync.Map // map[uint32]Code

// SetLast records the last error for the given OS thread id. Every
// public entry point calls this with Success on entry and a specific
// code on failure.
func SetLast(threadID uint32, c Code) {
	last.Store(threadID, c)
}

// Last returns the last error recorded for the given OS thread id, or
// Success if none has been recorded yet.
func Last(threadID uint32) Code {
	v, ok := last.Load(threadID)
	if !ok {
		return Success
	}
	return v.(Code)
}

// Clear removes the stored last-error slot for a thread id, used when a
// thread exits so the map doesn't grow unbounded over a long-lived host
// process.
func Clear(threadID uint32) {
	last.Delete(threadID)
}
