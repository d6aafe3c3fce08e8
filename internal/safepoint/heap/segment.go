// Package heap provides the region source that refills thread allocation
// contexts.
//
// It is deliberately not a collector: a Segment is one contiguous reservation
// carved into bump regions, handed out to one allocation context at a time.
// The collector side of the contract only needs "give this exhausted context
// a fresh region", and that is all this package does.
package heap

import (
	"sync"
	"unsafe"

	"github.com/kolkov/safepoint/internal/safepoint/fatal"
)

// DefaultRegionBytes is the region size handed to an allocation context on
// refill, unless a larger single allocation forces an oversized region.
const DefaultRegionBytes = 64 * 1024

// Segment is a contiguous memory reservation carved into allocation regions.
//
// Refill is called from allocation slow paths on different threads, so the
// carve cursor is mutex-protected; the regions themselves are single-owner
// once handed out.
type Segment struct {
	mu   sync.Mutex
	mem  []byte
	base uintptr
	next uintptr // carve offset from base
}

// NewSegment reserves size bytes.
func NewSegment(size int) *Segment {
	if size <= 0 {
		fatal.Violation("heap segment of %d bytes", size)
	}
	s := &Segment{mem: make([]byte, size)}
	s.base = uintptr(unsafe.Pointer(&s.mem[0]))
	return s
}

// Refill carves the next region of at least min bytes (rounded up to
// DefaultRegionBytes) and returns its bounds. ok is false when the segment
// cannot satisfy the request; the caller decides whether that is fatal.
func (s *Segment) Refill(min uintptr) (ptr, limit uintptr, ok bool) {
	size := uintptr(DefaultRegionBytes)
	if min > size {
		size = min
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if uintptr(len(s.mem))-s.next < size {
		return 0, 0, false
	}
	ptr = s.base + s.next
	s.next += size
	return ptr, ptr + size, true
}

// Contains reports whether p points into this segment.
func (s *Segment) Contains(p uintptr) bool {
	return p >= s.base && p < s.base+uintptr(len(s.mem))
}

// Remaining returns the bytes not yet carved into regions.
func (s *Segment) Remaining() uintptr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uintptr(len(s.mem)) - s.next
}
