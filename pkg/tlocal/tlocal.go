// Package tlocal holds the per-thread state a running trace needs to
// consult on every single-step exception: which hardware breakpoint
// slot is currently armed for that thread, which slot (if any) is
// parked while tracing is suspended, which trace owns the thread right
// now, and the thread's current call-depth.
//
// The C original keeps this in Windows TLS (TlsAlloc/TlsGetValue). Go
// has no equivalent of per-OS-thread storage reachable from arbitrary
// goroutines, so this package keys the same four fields by OS thread
// id instead, guarded by a single mutex. Every caller in this tracer
// already has the OS thread id in hand (GetCurrentThreadId at the VEH
// boundary, or a tracked id from the hardware-breakpoint allocator).
package tlocal

import "sync"

// unset is the sentinel stored value meaning "no slot / no trace".
// Fields are kept as stored+1 internally so the zero value of a fresh
// map entry reads as unset without a separate "present" flag.
const unset = 0

type slot struct {
	activeBpIndex    int32
	suspendedBpIndex int32
	currentTraceID   uint64
	callDepth        int32
}

var (
	mu    sync.Mutex
	slots = map[uint32]*slot{}
)

func get(threadID uint32) *slot {
	s, ok := slots[threadID]
	if !ok {
		s = &slot{}
		slots[threadID] = s
	}
	return s
}

// ActiveBreakpoint returns the hardware breakpoint index currently
// armed for threadID, or -1 if none.
func ActiveBreakpoint(threadID uint32) int {
	mu.Lock()
	defer mu.Unlock()
	v := get(threadID).activeBpIndex
	if v == unset {
		return -1
	}
	return int(v - 1)
}

// SetActiveBreakpoint records which hardware breakpoint index is armed
// for threadID. Pass -1 to clear it.
func SetActiveBreakpoint(threadID uint32, index int) {
	mu.Lock()
	defer mu.Unlock()
	get(threadID).activeBpIndex = int32(index) + 1
}

// SuspendedBreakpoint returns the hardware breakpoint index parked for
// threadID while tracing is suspended, or -1 if none.
func SuspendedBreakpoint(threadID uint32) int {
	mu.Lock()
	defer mu.Unlock()
	v := get(threadID).suspendedBpIndex
	if v == unset {
		return -1
	}
	return int(v - 1)
}

// SetSuspendedBreakpoint records the parked hardware breakpoint index
// for threadID. Pass -1 to clear it.
func SetSuspendedBreakpoint(threadID uint32, index int) {
	mu.Lock()
	defer mu.Unlock()
	get(threadID).suspendedBpIndex = int32(index) + 1
}

// CurrentTrace returns the trace id owning threadID right now, and
// whether one is set at all.
func CurrentTrace(threadID uint32) (id uint64, ok bool) {
	mu.Lock()
	defer mu.Unlock()
	s := get(threadID)
	if s.currentTraceID == unset {
		return 0, false
	}
	return s.currentTraceID - 1, true
}

// SetCurrentTrace records which trace owns threadID. Call
// ClearCurrentTrace to release it.
func SetCurrentTrace(threadID uint32, id uint64) {
	mu.Lock()
	defer mu.Unlock()
	get(threadID).currentTraceID = id + 1
}

// ClearCurrentTrace releases threadID from whatever trace owns it.
func ClearCurrentTrace(threadID uint32) {
	mu.Lock()
	defer mu.Unlock()
	get(threadID).currentTraceID = unset
}

// CallDepth returns threadID's current call depth within its owning
// trace.
func CallDepth(threadID uint32) int32 {
	mu.Lock()
	defer mu.Unlock()
	return get(threadID).callDepth
}

// SetCallDepth overwrites threadID's call depth.
func SetCallDepth(threadID uint32, depth int32) {
	mu.Lock()
	defer mu.Unlock()
	get(threadID).callDepth = depth
}

// AdjustCallDepth adds delta to threadID's call depth and returns the
// new value.
func AdjustCallDepth(threadID uint32, delta int32) int32 {
	mu.Lock()
	defer mu.Unlock()
	s := get(threadID)
	s.callDepth += delta
	return s.callDepth
}

// Forget drops all state for threadID, e.g. once its trace has ended
// and the OS thread id may be reused.
func Forget(threadID uint32) {
	mu.Lock()
	defer mu.Unlock()
	delete(slots, threadID)
}
