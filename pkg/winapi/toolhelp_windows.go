package winapi

import (
	"syscall"
	"unsafe"
)

var (
	procCreateToolhelp32Snapshot = modKernel32.NewProc("CreateToolhelp32Snapshot")
	procModule32First            = modKernel32.NewProc("Module32FirstW")
	procModule32Next             = modKernel32.NewProc("Module32NextW")
	procThread32First            = modKernel32.NewProc("Thread32First")
	procThread32Next             = modKernel32.NewProc("Thread32Next")
)

const (
	Th32csSnapModule = 0x00000008
	Th32csSnapThread = 0x00000004
	invalidHandleVal = ^uintptr(0)
	maxModuleNameLen = 255
)

// ModuleEntry32 mirrors MODULEENTRY32W, trimmed to the fields this
// library reads.
type ModuleEntry32 struct {
	Size         uint32
	ModuleID     uint32
	ProcessID    uint32
	GlblcntUsage uint32
	ProccntUsage uint32
	ModBaseAddr  uintptr
	ModBaseSize  uint32
	ModuleHandle uintptr
	ModuleName   [maxModuleNameLen + 1]uint16
	ExePath      [syscall.MAX_PATH]uint16
}

// ThreadEntry32 mirrors THREADENTRY32, trimmed to the fields this
// library reads.
type ThreadEntry32 struct {
	Size           uint32
	UsageCount     uint32
	ThreadID       uint32
	OwnerProcessID uint32
	BasePri        int32
	DeltaPri       int32
	Flags          uint32
}

// CreateToolhelp32Snapshot wraps kernel32!CreateToolhelp32Snapshot.
func CreateToolhelp32Snapshot(flags uint32, processID uint32) (syscall.Handle, error) {
	r1, _, err := procCreateToolhelp32Snapshot.Call(uintptr(flags), uintptr(processID))
	if r1 == invalidHandleVal {
		return 0, err
	}
	return syscall.Handle(r1), nil
}

// Module32First wraps kernel32!Module32FirstW.
func Module32First(snapshot syscall.Handle, entry *ModuleEntry32) bool {
	entry.Size = uint32(unsafe.Sizeof(*entry))
	r1, _, _ := procModule32First.Call(uintptr(snapshot), uintptr(unsafe.Pointer(entry)))
	return r1 != 0
}

// Module32Next wraps kernel32!Module32NextW.
func Module32Next(snapshot syscall.Handle, entry *ModuleEntry32) bool {
	r1, _, _ := procModule32Next.Call(uintptr(snapshot), uintptr(unsafe.Pointer(entry)))
	return r1 != 0
}

// Thread32First wraps kernel32!Thread32First.
func Thread32First(snapshot syscall.Handle, entry *ThreadEntry32) bool {
	entry.Size = uint32(unsafe.Sizeof(*entry))
	r1, _, _ := procThread32First.Call(uintptr(snapshot), uintptr(unsafe.Pointer(entry)))
	return r1 != 0
}

// Thread32Next wraps kernel32!Thread32Next.
func Thread32Next(snapshot syscall.Handle, entry *ThreadEntry32) bool {
	r1, _, _ := procThread32Next.Call(uintptr(snapshot), uintptr(unsafe.Pointer(entry)))
	return r1 != 0
}

// Name returns the module's base name as a Go string.
func (m *ModuleEntry32) Name() string {
	return syscall.UTF16ToString(m.ModuleName[:])
}
