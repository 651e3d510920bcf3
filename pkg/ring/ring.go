// Package ring implements the single-producer/single-consumer queue the
// tracer uses to hand traced instructions from the thread executing
// inside the vectored exception handler to whatever is draining the
// trace (a local goroutine, or a separate collector process reading the
// same shared-memory region). It is a direct port of the wrap-around
// discipline in the C original's rwqueue.c: a header plus a flat array
// of fixed-size elements, one writer, one reader, no locks.
package ring

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/andersenlabs/brtrace/pkg/record"
)

// elementSize is the fixed size of every slot in the ring.
const elementSize = int(unsafe.Sizeof(record.TracedInstruction{}))

type header struct {
	maxElements int32
	readOffset  int32
	writeOffset int32
}

const headerSize = int(unsafe.Sizeof(header{}))

// Ring is laid out over a caller-supplied byte buffer: a header
// followed by maxElements fixed-size slots. The buffer may be plain
// process memory or a view of a shared-memory mapping — Ring never
// allocates it.
type Ring struct {
	hdr  *header
	data []byte
}

// RequiredSize returns the number of bytes a buffer must have to hold a
// ring with room for maxElements instructions.
func RequiredSize(maxElements int) int {
	return headerSize + maxElements*elementSize
}

// New initializes a fresh ring over buf, resetting the read/write
// offsets. Use this the first time a region is laid out; use Open to
// attach to a region another process already initialized.
func New(buf []byte) (*Ring, error) {
	r, err := attach(buf)
	if err != nil {
		return nil, err
	}

	maxElements := (len(buf) - headerSize) / elementSize
	if maxElements <= 0 {
		return nil, fmt.Errorf("ring: buffer of %d bytes has no room for any %d-byte element", len(buf), elementSize)
	}

	r.hdr.maxElements = int32(maxElements)
	atomic.StoreInt32(&r.hdr.readOffset, 0)
	atomic.StoreInt32(&r.hdr.writeOffset, 0)
	return r, nil
}

// Open attaches to a ring a previous call to New already laid out over
// buf, without touching its offsets.
func Open(buf []byte) (*Ring, error) {
	return attach(buf)
}

func attach(buf []byte) (*Ring, error) {
	if len(buf) < headerSize {
		return nil, fmt.Errorf("ring: buffer of %d bytes is smaller than the %d-byte header", len(buf), headerSize)
	}
	return &Ring{
		hdr:  (*header)(unsafe.Pointer(&buf[0])),
		data: buf[headerSize:],
	}, nil
}

func itemBytes(item *record.TracedInstruction) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(item)), elementSize)
}

// Push appends item to the ring. It reports false if the ring has no
// room — the caller (the exception handler, per the original) is
// expected to retry rather than block indefinitely.
func (r *Ring) Push(item *record.TracedInstruction) bool {
	readOffset := atomic.LoadInt32(&r.hdr.readOffset)
	writeOffset := atomic.LoadInt32(&r.hdr.writeOffset)
	maxElements := r.hdr.maxElements

	if writeOffset == maxElements {
		// The writer has reached the end of the buffer. It can only
		// wrap back to the start once the reader has moved past the
		// first slot, otherwise it would overwrite unread data.
		if readOffset > 1 {
			writeOffset = 0
		} else {
			return false
		}
	}

	isNotAtEnd := writeOffset < maxElements
	isReaderBehindWriter := readOffset <= writeOffset
	isWriterBehindReader := writeOffset < readOffset-1

	if (isNotAtEnd && isReaderBehindWriter) || isWriterBehindReader {
		offset := int(writeOffset) * elementSize
		copy(r.data[offset:offset+elementSize], itemBytes(item))
		atomic.StoreInt32(&r.hdr.writeOffset, writeOffset+1)
		return true
	}
	return false
}

// Pop removes the oldest element from the ring into out. It reports
// false if the ring is empty.
func (r *Ring) Pop(out *record.TracedInstruction) bool {
	writeOffset := atomic.LoadInt32(&r.hdr.writeOffset)
	readOffset := atomic.LoadInt32(&r.hdr.readOffset)
	maxElements := r.hdr.maxElements

	if readOffset == maxElements {
		if writeOffset == maxElements {
			// Both offsets sit at the end: the writer has not wrapped
			// yet and everything it wrote has been read.
			return false
		}
		readOffset = 0
	}

	isNotAtEnd := readOffset < maxElements
	isReaderBehindWriter := readOffset < writeOffset
	isWriterBehindReader := writeOffset < readOffset

	if (isNotAtEnd && isWriterBehindReader) || isReaderBehindWriter {
		offset := int(readOffset) * elementSize
		copy(itemBytes(out), r.data[offset:offset+elementSize])
		atomic.StoreInt32(&r.hdr.readOffset, readOffset+1)
		return true
	}
	return false
}

// PopAll drains up to len(out) elements into out, returning how many
// were actually read.
func (r *Ring) PopAll(out []record.TracedInstruction) int {
	n := 0
	for n < len(out) {
		if !r.Pop(&out[n]) {
			break
		}
		n++
	}
	return n
}
