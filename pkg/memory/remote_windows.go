package memory

import (
	"fmt"

	"golang.org/x/sys/windows"

	"github.com/andersenlabs/brtrace/pkg/errcode"
)

// Remote reads and writes another process's address space through
// ReadProcessMemory/WriteProcessMemory, for a collector process that
// wants to inspect a target before (or instead of) injecting a tracer
// DLL into it.
type Remote struct {
	Process windows.Handle
}

// NewRemote opens pid with the access rights Read and Write need.
func NewRemote(pid uint32) (*Remote, error) {
	h, err := windows.OpenProcess(
		windows.PROCESS_VM_READ|windows.PROCESS_VM_WRITE|windows.PROCESS_VM_OPERATION|windows.PROCESS_QUERY_INFORMATION,
		false, pid)
	if err != nil {
		return nil, fmt.Errorf("memory: OpenProcess(%d): %w: %w", pid, errcode.InsufficientPermission, err)
	}
	return &Remote{Process: h}, nil
}

// Close releases the process handle.
func (r *Remote) Close() error {
	return windows.CloseHandle(r.Process)
}

// Read reads size bytes at addr in the remote process.
func (r *Remote) Read(addr uintptr, size int) ([]byte, error) {
	buf := make([]byte, size)
	var read uintptr
	if err := windows.ReadProcessMemory(r.Process, addr, &buf[0], uintptr(size), &read); err != nil {
		return nil, fmt.Errorf("memory: ReadProcessMemory(%#x, %d): %w", addr, size, err)
	}
	return buf[:read], nil
}

// Write writes data to addr in the remote process.
func (r *Remote) Write(addr uintptr, data []byte) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}
	var written uintptr
	if err := windows.WriteProcessMemory(r.Process, addr, &data[0], uintptr(len(data)), &written); err != nil {
		return 0, fmt.Errorf("memory: WriteProcessMemory(%#x, %d bytes): %w", addr, len(data), err)
	}
	return int(written), nil
}
