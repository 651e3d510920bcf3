// Package controller implements the trace controller (TC): the
// entry point that resolves which module an address belongs to, arms
// the hardware breakpoint that will start a trace, and registers it in
// the active-trace registry — or rolls every step back cleanly if a
// later one fails. It is the Go counterpart of tracerVeTraceStart and
// tracerVeTraceStop in the C original's vetrace.c.
package controller

import (
	"fmt"
	"syscall"

	"github.com/andersenlabs/brtrace/pkg/errcode"
	"github.com/andersenlabs/brtrace/pkg/hwbreak"
	"github.com/andersenlabs/brtrace/pkg/registry"
	"github.com/andersenlabs/brtrace/pkg/winapi"
)

// Controller starts and stops traces against a shared registry.
type Controller struct {
	registry *registry.Registry
}

// New builds a controller over reg.
func New(reg *registry.Registry) *Controller {
	return &Controller{registry: reg}
}

// StartTrace arms a trace at address. threadID < 0 starts a global
// trace spanning every thread currently running in the process;
// otherwise the trace is scoped to exactly that thread. maxTraceDepth
// <= 0 means unbounded; lifetime <= 0 means the trace never expires on
// its own.
func (c *Controller) StartTrace(address uintptr, threadID int32, maxTraceDepth, lifetime int32) (uint64, error) {
	baseOfCode, sizeOfCode, err := resolveModuleBounds(address)
	if err != nil {
		return 0, fmt.Errorf("controller: resolve module for %#x: %w: %w", address, errcode.SystemCall, err)
	}

	bp, err := armBreakpoint(address, threadID)
	if err != nil {
		return 0, fmt.Errorf("controller: arm breakpoint at %#x: %w: %w", address, errcode.OutOfResources, err)
	}

	trace := &registry.ActiveTrace{
		StartAddress:  address,
		BaseOfCode:    baseOfCode,
		SizeOfCode:    uintptr(sizeOfCode),
		ThreadID:      threadID,
		MaxTraceDepth: maxTraceDepth,
		Lifetime:      lifetime,
		Breakpoint:    bp,
	}

	return c.registry.Register(trace), nil
}

// StopTrace removes the trace exactly matching (address, threadID) and
// disarms its hardware breakpoint on every thread it covers, returning
// the number of traces removed (0 or 1). No trace matching is not an
// error: stopping an already-stopped or already-expired trace is a
// no-op that still reports success, so callers can stop the same trace
// twice without special-casing it.
func (c *Controller) StopTrace(address uintptr, threadID int32) (int, error) {
	trace, ok := c.registry.FindByAddressAndThread(address, threadID)
	if !ok {
		return 0, nil
	}

	if err := hwbreak.Remove(trace.Breakpoint); err != nil {
		// The breakpoint is already gone from the registry at this
		// point; surface the error but don't try to put it back, the
		// underlying threads may no longer even exist.
		return 1, fmt.Errorf("controller: remove breakpoint at %#x: %w: %w", address, errcode.SystemCall, err)
	}
	return 1, nil
}

func armBreakpoint(address uintptr, threadID int32) (*hwbreak.Handle, error) {
	if threadID >= 0 {
		return hwbreak.SetOnThread(address, 1, uint32(threadID), hwbreak.CondExecute)
	}
	return hwbreak.SetGlobal(address, 1, hwbreak.CondExecute)
}

// resolveModuleBounds walks this process's loaded modules looking for
// the one whose code section contains address, returning that section's
// base and size. A trace can only ever run inside the process it was
// started from — by the time a remote trace reaches this call, its code
// has already been injected and is running inside the target.
func resolveModuleBounds(address uintptr) (baseOfCode uintptr, sizeOfCode uint32, err error) {
	pid := winapi.GetCurrentProcessId()

	snapshot, err := winapi.CreateToolhelp32Snapshot(winapi.Th32csSnapModule, pid)
	if err != nil {
		return 0, 0, fmt.Errorf("CreateToolhelp32Snapshot: %w", err)
	}
	defer syscall.CloseHandle(snapshot)

	var entry winapi.ModuleEntry32
	for ok := winapi.Module32First(snapshot, &entry); ok; ok = winapi.Module32Next(snapshot, &entry) {
		if entry.ProcessID != pid {
			continue
		}

		base, size, perr := winapi.ModuleCodeBounds(entry.ModBaseAddr)
		if perr != nil {
			continue
		}
		if address >= base && address < base+uintptr(size) {
			return base, size, nil
		}
	}

	return 0, 0, fmt.Errorf("address %#x does not belong to any loaded module's code section", address)
}
