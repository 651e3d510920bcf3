// Package inject loads this library's own DLL into a foreign process, the
// collaborator service.Manager needs before it can attach a *local*
// Context to a process it doesn't already run inside of.
//
// Grounded on tracer_lib's remote memory context (memory_remote.c):
// write the absolute path of the tracer DLL into the target's address
// space, then start a thread in the target pointed at kernel32!LoadLibraryW
// with that path as its argument. kernel32.dll is mapped at the same base
// in every process within a logon session, so the local address of
// LoadLibraryW is valid to hand to CreateRemoteThread unmodified — no
// GetProcAddress round trip into the remote process is needed.
package inject

import (
	"fmt"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/andersenlabs/brtrace/pkg/winapi"
)

const waitInfinite = 0xFFFFFFFF

// Injector loads a DLL into a target process and reports back the
// module handle the target process loaded it at.
type Injector interface {
	Inject(pid uint32, dllPath string) (moduleHandle uintptr, err error)
}

// windowsInjector is the only Injector this library ships; it exists as
// an interface so tests can substitute a fake instead of actually
// spawning a remote thread.
type windowsInjector struct{}

// New returns the Windows CreateRemoteThread/LoadLibraryW injector.
func New() Injector {
	return windowsInjector{}
}

func (windowsInjector) Inject(pid uint32, dllPath string) (uintptr, error) {
	access := uint32(windows.PROCESS_VM_OPERATION | windows.PROCESS_VM_READ | windows.PROCESS_VM_WRITE |
		windows.PROCESS_QUERY_INFORMATION | winapi.ProcessCreateThread)

	process, err := windows.OpenProcess(access, false, pid)
	if err != nil {
		return 0, fmt.Errorf("inject: OpenProcess(%d): %w", pid, err)
	}
	defer windows.CloseHandle(process)

	pathUTF16, err := windows.UTF16FromString(dllPath)
	if err != nil {
		return 0, fmt.Errorf("inject: invalid dll path %q: %w", dllPath, err)
	}
	pathBytes := uintptr(len(pathUTF16)) * unsafe.Sizeof(pathUTF16[0])

	remotePath, err := winapi.VirtualAllocEx(syscall.Handle(process), pathBytes)
	if err != nil {
		return 0, fmt.Errorf("inject: VirtualAllocEx: %w", err)
	}
	defer winapi.VirtualFreeEx(syscall.Handle(process), remotePath)

	var written uintptr
	if err := windows.WriteProcessMemory(process, remotePath,
		(*byte)(unsafe.Pointer(&pathUTF16[0])), pathBytes, &written); err != nil {
		return 0, fmt.Errorf("inject: WriteProcessMemory: %w", err)
	}

	loadLibraryW, err := winapi.LocalProcAddress("kernel32.dll", "LoadLibraryW")
	if err != nil {
		return 0, fmt.Errorf("inject: resolve LoadLibraryW: %w", err)
	}

	thread, err := winapi.CreateRemoteThread(syscall.Handle(process), loadLibraryW, remotePath)
	if err != nil {
		return 0, fmt.Errorf("inject: CreateRemoteThread: %w", err)
	}
	defer windows.CloseHandle(windows.Handle(thread))

	moduleHandle, err := winapi.WaitForRemoteThread(thread, waitInfinite)
	if err != nil {
		return 0, fmt.Errorf("inject: wait for LoadLibraryW: %w", err)
	}
	if moduleHandle == 0 {
		return 0, fmt.Errorf("inject: LoadLibraryW(%q) in pid %d returned NULL", dllPath, pid)
	}
	return uintptr(moduleHandle), nil
}
