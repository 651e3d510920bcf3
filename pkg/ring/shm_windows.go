package ring

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/andersenlabs/brtrace/pkg/errcode"
)

// SharedRegion is a named shared-memory mapping a Ring can be laid out
// over. The tracer running inside the traced process and the collector
// reading its output (possibly a separate process) map the same name to
// observe the same bytes, the same role CreateFileMapping/MapViewOfFile
// play in the C original's shared-memory handoff.
type SharedRegion struct {
	mapping windows.Handle
	addr    uintptr
	size    int
}

// CreateSharedRegion creates and maps a new named shared-memory region
// of the given size.
func CreateSharedRegion(name string, size int) (*SharedRegion, error) {
	namePtr, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return nil, fmt.Errorf("ring: invalid region name %q: %w", name, err)
	}

	h, err := windows.CreateFileMapping(windows.InvalidHandle, nil, windows.PAGE_READWRITE, 0, uint32(size), namePtr)
	if err != nil {
		return nil, fmt.Errorf("ring: CreateFileMapping(%q): %w: %w", name, errcode.NotEnoughMemory, err)
	}

	addr, err := windows.MapViewOfFile(h, windows.FILE_MAP_WRITE, 0, 0, uintptr(size))
	if err != nil {
		windows.CloseHandle(h)
		return nil, fmt.Errorf("ring: MapViewOfFile(%q): %w: %w", name, errcode.NotEnoughMemory, err)
	}

	return &SharedRegion{mapping: h, addr: addr, size: size}, nil
}

// OpenSharedRegion attaches to a region another process already created
// with CreateSharedRegion.
func OpenSharedRegion(name string, size int) (*SharedRegion, error) {
	namePtr, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return nil, fmt.Errorf("ring: invalid region name %q: %w", name, err)
	}

	h, err := windows.OpenFileMapping(windows.FILE_MAP_WRITE, false, namePtr)
	if err != nil {
		return nil, fmt.Errorf("ring: OpenFileMapping(%q): %w", name, err)
	}

	addr, err := windows.MapViewOfFile(h, windows.FILE_MAP_WRITE, 0, 0, uintptr(size))
	if err != nil {
		windows.CloseHandle(h)
		return nil, fmt.Errorf("ring: MapViewOfFile(%q): %w", name, err)
	}

	return &SharedRegion{mapping: h, addr: addr, size: size}, nil
}

// Bytes exposes the mapped region as a byte slice suitable for New/Open.
func (s *SharedRegion) Bytes() []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(s.addr)), s.size)
}

// Close unmaps and releases the region.
func (s *SharedRegion) Close() error {
	var err error
	if s.addr != 0 {
		err = windows.UnmapViewOfFile(s.addr)
		s.addr = 0
	}
	if s.mapping != 0 {
		if cerr := windows.CloseHandle(s.mapping); cerr != nil && err == nil {
			err = cerr
		}
		s.mapping = 0
	}
	return err
}
