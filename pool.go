// Package slabpool implements fixed-capacity memory pools for hosts that must not
// allocate dynamically once they are running.
//
// A SlabPool carves a single pre-allocated block into units of one fixed size and
// tracks them on a free and an allocated list. A BufferPool serves buffers of one
// fixed size from independently allocated buffers kept on a single free list.
// An Allocator exposes a pool through a realloc-shaped entry point that a host
// runtime can register as its only memory hook.
//
// Units are addressed by Handle rather than by pointer. Recovering a unit from a
// handle is O(1) and never requires pointer arithmetic.
//
// Pools are not safe for concurrent use. Wrap a SlabPool in a LockedPool when it
// is shared between goroutines.
package slabpool

// Pooler defines the contract between an Allocator and the pool it delegates to.
type Pooler interface {
	UnitSize() int                   // Returns the fixed capacity of a unit.
	Alloc(size int) (Handle, error)  // Checks out a unit able to hold size bytes.
	Free(h Handle) error             // Returns a checked out unit to the pool.
	Resize(h Handle, size int) error // Changes the payload length of a checked out unit in place.
	Bytes(h Handle) ([]byte, error)  // Returns the payload of a checked out unit.
}

// Stats represents pool stats.
type Stats struct {
	Allocs      uint64 // Successful allocations.
	Frees       uint64 // Successful frees or releases.
	Failures    uint64 // Rejected allocations and frees.
	GuardFaults uint64 // Free units found modified when handed out again.

	Capacity  int // Number of units.
	InUse     int // Units checked out.
	Available int // Units on the free list.

	BlockBytes    int // Bytes of backing memory.
	OverheadBytes int // Bytes spent on unit headers.
}

// Reset resets the counters for re-use.
func (s *Stats) Reset() {
	s.Allocs = 0
	s.Frees = 0
	s.Failures = 0
	s.GuardFaults = 0
}
