// Package service is the process-facing façade the tracer exposes: the
// Go equivalent of tracer_lib.h's tracerInit/tracerAttachProcess/
// tracerStartTrace surface, minus the C ABI plumbing (version structs,
// TracerBool, TLIB_CALL) a Go caller has no use for.
package service

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/andersenlabs/brtrace/pkg/controller"
	"github.com/andersenlabs/brtrace/pkg/decode"
	"github.com/andersenlabs/brtrace/pkg/errcode"
	"github.com/andersenlabs/brtrace/pkg/memory"
	"github.com/andersenlabs/brtrace/pkg/record"
	"github.com/andersenlabs/brtrace/pkg/registry"
	"github.com/andersenlabs/brtrace/pkg/ring"
	"github.com/andersenlabs/brtrace/pkg/veh"
	"github.com/andersenlabs/brtrace/pkg/winapi"
	"github.com/andersenlabs/brtrace/service/inject"
)

// CurrentProcess is the sentinel process id meaning "the process this
// code is running in", mirroring tracerAttachProcess's pid == -1 rule.
const CurrentProcess int32 = -1

// DefaultRingCapacity is how many TracedInstruction slots a Context's
// ring gets when the caller doesn't request a specific size.
const DefaultRingCapacity = 4096

// Manager is the process-wide tracer state: every attached process
// context, and which context each calling thread currently has
// selected. Exactly one Manager should exist per host process.
type Manager struct {
	mu sync.Mutex

	log *logrus.Entry

	decoder decode.Decoder

	seDebugHeld bool

	injector inject.Injector

	contextsByPID   map[int32]*Context
	currentByThread map[uint32]*Context
}

// enterEntryPoint records Success in the calling OS thread's last-error
// slot, mirroring tracerCoreSetLastError's call at the top of every
// TLIB_CALL export in the C original. The returned func records err's
// code (or fallback, if err carries none of its own) when non-nil,
// leaving the slot at Success otherwise.
func enterEntryPoint() func(err error, fallback errcode.Code) error {
	tid := winapi.GetCurrentThreadId()
	errcode.SetLast(tid, errcode.Success)
	return func(err error, fallback errcode.Code) error {
		if err == nil {
			return nil
		}
		var code errcode.Code
		if !errors.As(err, &code) {
			code = fallback
		}
		errcode.SetLast(tid, code)
		return err
	}
}

// NewManager builds an unattached Manager. log may be nil, in which
// case logrus's standard logger is used.
func NewManager(log *logrus.Entry) *Manager {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Manager{
		log:             log,
		decoder:         decode.New(),
		injector:        inject.New(),
		contextsByPID:   make(map[int32]*Context),
		currentByThread: make(map[uint32]*Context),
	}
}

// InjectAndAttach loads dllPath (expected to be this library's own DLL,
// built with a cmd/brtrace-agent-style entry point) into pid and returns
// once the remote LoadLibraryW call has returned. It does not create a
// Context for pid in this manager; the injected code attaches from inside
// the target with AttachProcess(-1, ...) on its own side. Pid must not
// already host a context this manager knows about.
func (m *Manager) InjectAndAttach(pid uint32, dllPath string) error {
	leave := enterEntryPoint()

	if _, ok := m.ContextForPID(int32(pid)); ok {
		return leave(fmt.Errorf("service: pid %d is already attached", pid), errcode.InvalidProcess)
	}
	if _, err := m.injector.Inject(pid, dllPath); err != nil {
		return leave(fmt.Errorf("service: inject into pid %d: %w", pid, err), errcode.SystemCall)
	}
	return leave(nil, errcode.Success)
}

// Init prepares the manager for use. acquireSeDebugPrivilege mirrors
// TracerInit.mAcquireSeDebugPrivilege: without it, attaching to a
// process owned by another user will fail with insufficient permission.
func (m *Manager) Init(acquireSeDebugPrivilege bool) error {
	leave := enterEntryPoint()

	if !acquireSeDebugPrivilege {
		return leave(nil, errcode.Success)
	}
	if err := AcquireDebugPrivilege(); err != nil {
		m.log.WithError(err).Warn("could not acquire SeDebugPrivilege, attaching to other users' processes will fail")
		// Non-fatal by design: Init still succeeds, but a caller that
		// checks errcode.Last right after Init can see why attaching to
		// another user's process will fail later.
		leave(fmt.Errorf("service: acquire SeDebugPrivilege: %w", err), errcode.InsufficientPermission)
		return nil
	}
	m.seDebugHeld = true
	return leave(nil, errcode.Success)
}

// Shutdown detaches every process this manager is attached to and
// releases SeDebugPrivilege if Init acquired it.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	contexts := make([]*Context, 0, len(m.contextsByPID))
	for _, ctx := range m.contextsByPID {
		contexts = append(contexts, ctx)
	}
	m.mu.Unlock()

	var firstErr error
	for _, ctx := range contexts {
		if err := m.DetachProcess(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if m.seDebugHeld {
		if err := ReleaseDebugPrivilege(); err != nil && firstErr == nil {
			firstErr = err
		}
		m.seDebugHeld = false
	}
	return firstErr
}

// AttachProcess attaches to pid (CurrentProcess to attach to this
// process). sharedRegionName, if non-empty, backs the local context's
// ring with a named shared-memory mapping a collector process can open
// by the same name; an empty name keeps the ring private to this
// process. ringCapacity <= 0 uses DefaultRingCapacity.
func (m *Manager) AttachProcess(pid int32, sharedRegionName string, ringCapacity int) (*Context, error) {
	leave := enterEntryPoint()

	if ringCapacity <= 0 {
		ringCapacity = DefaultRingCapacity
	}

	var ctx *Context
	if pid == CurrentProcess || uint32(pid) == winapi.GetCurrentProcessId() {
		local, err := m.attachLocal(sharedRegionName, ringCapacity)
		if err != nil {
			return nil, leave(err, errcode.NotEnoughMemory)
		}
		local.ProcessID = pid
		ctx = local
	} else {
		remote, err := memory.NewRemote(uint32(pid))
		if err != nil {
			return nil, leave(fmt.Errorf("service: attach pid %d: %w", pid, err), errcode.InvalidProcess)
		}
		ctx = &Context{ProcessID: pid, Remote: remote}
	}

	m.mu.Lock()
	m.contextsByPID[pid] = ctx
	m.mu.Unlock()
	return ctx, leave(nil, errcode.Success)
}

func (m *Manager) attachLocal(sharedRegionName string, ringCapacity int) (*Context, error) {
	var (
		region *ring.SharedRegion
		out    *ring.Ring
		err    error
	)

	size := ring.RequiredSize(ringCapacity)
	if sharedRegionName != "" {
		region, err = ring.CreateSharedRegion(sharedRegionName, size)
		if err != nil {
			return nil, fmt.Errorf("service: create shared ring %q: %w", sharedRegionName, err)
		}
		out, err = ring.New(region.Bytes())
	} else {
		out, err = ring.New(make([]byte, size))
	}
	if err != nil {
		if region != nil {
			region.Close()
		}
		return nil, fmt.Errorf("service: initialize ring: %w", err)
	}

	reg := registry.New()
	ctrl := controller.New(reg)
	dispatcher := veh.New(reg, m.decoder, out, m.log)
	if err := dispatcher.Start(); err != nil {
		if region != nil {
			region.Close()
		}
		return nil, fmt.Errorf("service: start dispatcher: %w: %w", errcode.SystemCall, err)
	}

	return &Context{
		ProcessID:  CurrentProcess,
		Registry:   reg,
		Controller: ctrl,
		Dispatcher: dispatcher,
		Ring:       out,
		Region:     region,
	}, nil
}

// DetachProcess tears down ctx and forgets it. Passing the context
// currently selected by any thread clears that selection.
func (m *Manager) DetachProcess(ctx *Context) error {
	if ctx == nil {
		return fmt.Errorf("service: nil context")
	}

	m.mu.Lock()
	delete(m.contextsByPID, ctx.ProcessID)
	for tid, current := range m.currentByThread {
		if current == ctx {
			delete(m.currentByThread, tid)
		}
	}
	m.mu.Unlock()

	var firstErr error
	if ctx.Dispatcher != nil {
		if err := ctx.Dispatcher.Stop(); err != nil {
			firstErr = err
		}
	}
	if ctx.Region != nil {
		if err := ctx.Region.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if ctx.Remote != nil {
		if err := ctx.Remote.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// SetProcessContext selects ctx as the context future calls from
// threadID should apply to. Passing nil clears the selection.
func (m *Manager) SetProcessContext(threadID uint32, ctx *Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ctx == nil {
		delete(m.currentByThread, threadID)
		return
	}
	m.currentByThread[threadID] = ctx
}

// GetProcessContext returns the context threadID last selected, if any.
func (m *Manager) GetProcessContext(threadID uint32) (*Context, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ctx, ok := m.currentByThread[threadID]
	return ctx, ok
}

// ContextForPID returns the attached context for pid, if any.
func (m *Manager) ContextForPID(pid int32) (*Context, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ctx, ok := m.contextsByPID[pid]
	return ctx, ok
}

// StartTrace arms a trace in ctx. See controller.Controller.StartTrace.
func (m *Manager) StartTrace(ctx *Context, address uintptr, threadID int32, maxTraceDepth, lifetime int32) (uint64, error) {
	leave := enterEntryPoint()

	if !ctx.IsLocal() {
		return 0, leave(fmt.Errorf("service: process %d has no local trace controller (inject its tracer code first)", ctx.ProcessID), errcode.InvalidProcess)
	}
	id, err := ctx.Controller.StartTrace(address, threadID, maxTraceDepth, lifetime)
	return id, leave(err, errcode.SystemCall)
}

// StopTrace removes a trace from ctx, returning the number of traces
// removed (0 or 1). See controller.Controller.StopTrace — stopping a
// trace that doesn't match anything is success, not an error.
func (m *Manager) StopTrace(ctx *Context, address uintptr, threadID int32) (int, error) {
	leave := enterEntryPoint()

	if !ctx.IsLocal() {
		return 0, leave(fmt.Errorf("service: process %d has no local trace controller", ctx.ProcessID), errcode.InvalidProcess)
	}
	n, err := ctx.Controller.StopTrace(address, threadID)
	return n, leave(err, errcode.SystemCall)
}

// FetchTraces drains up to len(out) pending records from ctx's ring.
func (m *Manager) FetchTraces(ctx *Context, out []record.TracedInstruction) (int, error) {
	leave := enterEntryPoint()

	if ctx.Ring == nil {
		return 0, leave(fmt.Errorf("service: process %d has no ring to fetch from", ctx.ProcessID), errcode.InvalidArgument)
	}
	n := ctx.Ring.PopAll(out)
	return n, leave(nil, errcode.Success)
}

// DecodeAndFormat decodes a single instruction at address from code,
// for callers (the CLI's decode subcommand, mainly) that want to render
// a TracedInstruction's bytes without attaching to a process.
func (m *Manager) DecodeAndFormat(code []byte, address uint32) (record.InstructionType, string, error) {
	return m.decoder.Decode(code, address)
}

// DecodeAndFormatAt reads an instruction's bytes out of ctx's address
// space (its own, if local; through Remote, if attached from outside)
// and decodes it, the ctx-aware counterpart to DecodeAndFormat.
func (m *Manager) DecodeAndFormatAt(ctx *Context, address uint32) (record.InstructionType, string, error) {
	var mem memory.ReadWriter
	if ctx.IsLocal() {
		mem = memory.Local{}
	} else if ctx.Remote != nil {
		mem = ctx.Remote
	} else {
		return 0, "", fmt.Errorf("service: process %d has no readable memory", ctx.ProcessID)
	}

	code, err := mem.Read(uintptr(address), decode.MaxInstructionLength)
	if err != nil {
		return 0, "", fmt.Errorf("service: read instruction at %#x: %w", address, err)
	}
	return m.decoder.Decode(code, address)
}
