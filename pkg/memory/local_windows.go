package memory

import "unsafe"

// Local reads and writes this process's own address space directly,
// with no syscall involved — what the tracer's own dispatcher and
// controller use once their code is running inside the traced process,
// whether it started out there or arrived by injection.
type Local struct{}

// Read copies size bytes starting at addr.
func (Local) Read(addr uintptr, size int) ([]byte, error) {
	src := unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
	out := make([]byte, size)
	copy(out, src)
	return out, nil
}

// Write copies data to addr, returning the number of bytes written.
func (Local) Write(addr uintptr, data []byte) (int, error) {
	dst := unsafe.Slice((*byte)(unsafe.Pointer(addr)), len(data))
	return copy(dst, data), nil
}
