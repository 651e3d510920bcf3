package winapi

import (
	"fmt"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/andersenlabs/brtrace/pkg/errcode"
)

// Memory allocation flags/protections for VirtualAllocEx, and the thread
// access rights CreateRemoteThread needs in addition to the VM rights
// golang.org/x/sys/windows already names.
const (
	MemCommit  = 0x1000
	MemReserve = 0x2000
	MemRelease = 0x8000

	PageReadWrite = 0x04

	ProcessCreateThread = 0x0002
)

var (
	procVirtualAllocEx     = modKernel32.NewProc("VirtualAllocEx")
	procVirtualFreeEx      = modKernel32.NewProc("VirtualFreeEx")
	procCreateRemoteThread = modKernel32.NewProc("CreateRemoteThread")
	procGetExitCodeThread  = modKernel32.NewProc("GetExitCodeThread")
)

// VirtualAllocEx reserves and commits size bytes of read-write memory in
// process, the staging area a DLL path or an IPC parameter struct is
// written into before the remote thread that consumes it is created.
func VirtualAllocEx(process syscall.Handle, size uintptr) (uintptr, error) {
	r1, _, err := procVirtualAllocEx.Call(uintptr(process), 0, size, MemCommit|MemReserve, PageReadWrite)
	if r1 == 0 {
		return 0, fmt.Errorf("winapi: VirtualAllocEx(%d bytes): %w: %w", size, errcode.NotEnoughMemory, err)
	}
	return r1, nil
}

// VirtualFreeEx releases memory VirtualAllocEx reserved in process.
func VirtualFreeEx(process syscall.Handle, addr uintptr) error {
	r1, _, err := procVirtualFreeEx.Call(uintptr(process), addr, 0, MemRelease)
	if r1 == 0 {
		return err
	}
	return nil
}

// CreateRemoteThread starts a thread in process at startAddress (an
// address valid in process's own address space, e.g. a function exported
// by a DLL mapped at the same base in every process) with the given
// parameter, returning the new thread's handle.
func CreateRemoteThread(process syscall.Handle, startAddress, parameter uintptr) (syscall.Handle, error) {
	r1, _, err := procCreateRemoteThread.Call(
		uintptr(process), 0, 0, startAddress, parameter, 0, 0)
	if r1 == 0 {
		return 0, err
	}
	return syscall.Handle(r1), nil
}

// GetExitCodeThread retrieves a finished thread's exit code — for a
// remote thread started on LoadLibraryW, that code doubles as the call's
// return value (the low 32 bits of the loaded module's handle).
func GetExitCodeThread(h syscall.Handle) (uint32, error) {
	var code uint32
	r1, _, err := procGetExitCodeThread.Call(uintptr(h), uintptr(unsafe.Pointer(&code)))
	if r1 == 0 {
		return 0, err
	}
	return code, nil
}

// WaitForRemoteThread blocks until h finishes or the timeout elapses,
// returning its exit code.
func WaitForRemoteThread(h syscall.Handle, timeout uint32) (uint32, error) {
	event, err := windows.WaitForSingleObject(windows.Handle(h), timeout)
	if err != nil {
		return 0, err
	}
	if event != windows.WAIT_OBJECT_0 {
		return 0, syscall.ETIMEDOUT
	}
	return GetExitCodeThread(h)
}

// LocalProcAddress resolves the address of exportName inside a module
// already loaded in this process — the same address a remote process
// sees for DLLs like kernel32.dll, which the loader maps at an identical
// base in every process of a session.
func LocalProcAddress(moduleName, exportName string) (uintptr, error) {
	mod := syscall.NewLazyDLL(moduleName)
	proc := mod.NewProc(exportName)
	if err := proc.Find(); err != nil {
		return 0, err
	}
	return proc.Addr(), nil
}
