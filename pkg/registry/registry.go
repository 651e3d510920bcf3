// Package registry tracks the set of traces that are currently armed in
// this process — the active-trace registry (ATR). The C original keeps
// this as a singly-linked list of TracerActiveTrace nodes guarded by a
// critical section (vetrace.c); this package keeps the same shape
// (register/unregister/lookup) behind a sync.Mutex-guarded slice, since
// a handful of simultaneously active traces never justifies anything
// fancier.
package registry

import (
	"sync"

	"github.com/andersenlabs/brtrace/pkg/hwbreak"
)

// ActiveTrace is one armed trace: a starting address, the code bounds
// of the module that address lives in (used to decide when a trace
// should suspend), an owning thread (or -1 for every thread in the
// process), and the hardware breakpoint that starts it.
type ActiveTrace struct {
	TraceID       uint64
	StartAddress  uintptr
	BaseOfCode    uintptr
	SizeOfCode    uintptr
	ThreadID      int32 // -1 means "any thread"
	MaxTraceDepth int32 // <= 0 means unbounded
	Lifetime      int32 // <= 0 means infinite; else decrements to 0 and expires
	Breakpoint    *hwbreak.Handle
}

// AddressInsideModule reports whether address falls within the code
// section this trace was started against.
func (t *ActiveTrace) AddressInsideModule(address uintptr) bool {
	return address >= t.BaseOfCode && address < t.BaseOfCode+t.SizeOfCode
}

// Registry is the set of traces currently armed in this process.
type Registry struct {
	mu     sync.Mutex
	nextID uint64
	traces []*ActiveTrace
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{}
}

// Register assigns a trace id to t and adds it to the registry.
func (r *Registry) Register(t *ActiveTrace) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	t.TraceID = r.nextID
	r.traces = append(r.traces, t)
	return t.TraceID
}

// Unregister removes the trace with the given id and returns it. The
// hardware breakpoint itself is not touched here — callers disarm it
// before or after unregistering, depending on whether they're running
// from inside the exception handler (where the context is already in
// hand) or from the StopTrace API (where it must go through
// hwbreak.Remove).
func (r *Registry) Unregister(traceID uint64) (*ActiveTrace, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, t := range r.traces {
		if t.TraceID == traceID {
			r.traces = append(r.traces[:i], r.traces[i+1:]...)
			return t, true
		}
	}
	return nil, false
}

// FindByStartAddress returns the trace armed at address that covers
// threadID (either because it was started on exactly that thread, or
// because it was started globally), if any.
func (r *Registry) FindByStartAddress(address uintptr, threadID uint32) (*ActiveTrace, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range r.traces {
		if t.StartAddress != address {
			continue
		}
		if t.ThreadID == -1 || uint32(t.ThreadID) == threadID {
			return t, true
		}
	}
	return nil, false
}

// FindByAddressAndThread removes and returns the trace that exactly
// matches (address, threadID), the lookup StopTrace uses: unlike
// FindByStartAddress it requires an exact thread match, not "covers".
func (r *Registry) FindByAddressAndThread(address uintptr, threadID int32) (*ActiveTrace, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, t := range r.traces {
		if t.StartAddress == address && t.ThreadID == threadID {
			r.traces = append(r.traces[:i], r.traces[i+1:]...)
			return t, true
		}
	}
	return nil, false
}

// FindByID returns the trace with the given id, if it is still
// registered.
func (r *Registry) FindByID(traceID uint64) (*ActiveTrace, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range r.traces {
		if t.TraceID == traceID {
			return t, true
		}
	}
	return nil, false
}

// DecrementLifetime decrements t's remaining lifetime by one and
// reports whether it has just reached zero (finite lifetimes only).
func (r *Registry) DecrementLifetime(traceID uint64) (expired bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range r.traces {
		if t.TraceID == traceID {
			if t.Lifetime <= 0 {
				return false
			}
			t.Lifetime--
			return t.Lifetime == 0
		}
	}
	return false
}

// Len reports how many traces are currently registered.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.traces)
}

// Snapshot returns a copy of the currently registered traces, safe to
// range over without holding the registry lock.
func (r *Registry) Snapshot() []*ActiveTrace {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*ActiveTrace, len(r.traces))
	copy(out, r.traces)
	return out
}
