package slabpool

import (
	"fmt"
	"log/slog"

	"github.com/holmberd/go-slabpool/internal/list"
)

// slabUnitHeaderSize is the out-of-band header kept per unit: its list node and recorded length.
const slabUnitHeaderSize = list.NodeSize + 8

// SlabPool serves units of one fixed size carved from a single backing block.
//
// Every unit is on exactly one of two lists: the free list or the allocated list.
// Both are LIFO: the unit freed last is the next one handed out.
// A SlabPool is not safe for concurrent use.
type SlabPool struct {
	logger    *slog.Logger
	name      string
	blocks    blockAllocator
	block     []byte // Backing block; nil when the pool is degenerate.
	unitSize  int
	unitCount int
	stride    int
	tag       uint32

	// Unit headers, indexed by unit. Nodes unitCount and unitCount+1 are the
	// sentinels of the free and allocated lists.
	nodes     *list.Arena
	sizes     []int
	free      list.Ref
	allocated list.Ref
	nfree     int

	guard bool
	sums  []uint64 // Payload fingerprints of free units in guard mode.

	stats Stats
}

// NewSlabPool creates a pool of config.UnitCount units of config.UnitSize bytes.
//
// If the backing block cannot be allocated, NewSlabPool returns a degenerate pool
// together with an error wrapping ErrAllocationFailed. A degenerate pool reports
// false from Valid and fails every Alloc with ErrPoolExhausted.
func NewSlabPool(config SlabPoolConfig, logger *slog.Logger) (*SlabPool, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return newSlabPool(config, logger, newBlockAllocator(config.Backing))
}

func newSlabPool(config SlabPoolConfig, logger *slog.Logger, blocks blockAllocator) (*SlabPool, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &SlabPool{
		logger:    logger.With("pool", config.Name),
		name:      config.Name,
		blocks:    blocks,
		unitSize:  config.UnitSize,
		unitCount: config.UnitCount,
		stride:    unitStride(config.UnitSize),
		tag:       newPoolTag(config.Name),
		nodes:     list.NewArena(config.UnitCount),
		sizes:     make([]int, config.UnitCount),
		guard:     config.Guard,
	}
	p.free = p.nodes.NewList()
	p.allocated = p.nodes.NewList()
	if p.guard {
		p.sums = make([]uint64, config.UnitCount)
	}

	block, err := blocks.alloc(config.BlockSize())
	if err != nil {
		p.logger.Error("failed to allocate backing block", "size", config.BlockSize(), "error", err)
		return p, fmt.Errorf("%w: %d units of %d bytes: %w", ErrAllocationFailed, config.UnitCount, config.UnitSize, err)
	}
	p.block = block

	// Each unit goes to the head, so unit 0 ends up at the tail of the free list.
	for i := range p.unitCount {
		p.nodes.AddHead(p.free, list.Ref(i))
		if p.guard {
			p.sums[i] = fingerprint(p.payload(i))
		}
	}
	p.nfree = p.unitCount
	return p, nil
}

// Valid reports whether the pool has backing memory.
func (p *SlabPool) Valid() bool {
	return p.block != nil
}

// UnitSize returns the maximum payload size of a unit.
func (p *SlabPool) UnitSize() int {
	return p.unitSize
}

// UnitCount returns the number of units in the pool.
func (p *SlabPool) UnitCount() int {
	return p.unitCount
}

// Available returns the number of units on the free list.
func (p *SlabPool) Available() int {
	return p.nfree
}

// InUse returns the number of units checked out.
func (p *SlabPool) InUse() int {
	if !p.Valid() {
		return 0
	}
	return p.unitCount - p.nfree
}

// Alloc checks out a unit able to hold size bytes and returns its handle.
//
// It fails with ErrCapacityExceeded if size is negative or exceeds UnitSize, and
// with ErrPoolExhausted if no unit is free. A failed Alloc leaves both lists untouched.
func (p *SlabPool) Alloc(size int) (Handle, error) {
	if size < 0 || size > p.unitSize {
		p.stats.Failures++
		return Null, fmt.Errorf("%w: requested %d bytes, unit size is %d", ErrCapacityExceeded, size, p.unitSize)
	}
	if !p.Valid() || p.nodes.IsEmpty(p.free) {
		p.stats.Failures++
		return Null, fmt.Errorf("%w: %d of %d units in use", ErrPoolExhausted, p.InUse(), p.unitCount)
	}

	n, err := p.nodes.RemoveHead(p.free)
	if err != nil {
		panic(fmt.Errorf("free list of pool %q: %w", p.name, err))
	}
	idx := int(n)
	if p.guard && !intact(p.payload(idx), p.sums[idx]) {
		p.stats.GuardFaults++
		p.logger.Error("free unit was modified after it was freed", "unit", idx)
	}
	p.nodes.AddHead(p.allocated, n)
	p.nfree--
	p.sizes[idx] = size
	p.stats.Allocs++
	return makeHandle(p.tag, idx), nil
}

// Free returns a checked out unit to the head of the free list.
//
// It fails with ErrInvalidPointer if h was not handed out by this pool or its unit
// is not checked out. A failed Free leaves both lists untouched.
func (p *SlabPool) Free(h Handle) error {
	idx, err := p.checkedOut(h)
	if err != nil {
		p.stats.Failures++
		return err
	}
	n := list.Ref(idx)
	p.nodes.Remove(n)
	p.nodes.AddHead(p.free, n)
	p.nfree++
	p.sizes[idx] = 0
	if p.guard {
		p.sums[idx] = fingerprint(p.payload(idx))
	}
	p.stats.Frees++
	return nil
}

// Bytes returns the payload of a checked out unit. Its length is the size the
// unit was allocated or resized with, its capacity is UnitSize.
// The slice must not be used after the unit is freed.
func (p *SlabPool) Bytes(h Handle) ([]byte, error) {
	idx, err := p.checkedOut(h)
	if err != nil {
		return nil, err
	}
	return p.payload(idx)[:p.sizes[idx]], nil
}

// Resize changes the payload length of a checked out unit without moving it.
func (p *SlabPool) Resize(h Handle, size int) error {
	idx, err := p.checkedOut(h)
	if err != nil {
		return err
	}
	if size < 0 || size > p.unitSize {
		return fmt.Errorf("%w: requested %d bytes, unit size is %d", ErrCapacityExceeded, size, p.unitSize)
	}
	p.sizes[idx] = size
	return nil
}

// Outstanding returns the handles of all checked out units, most recently allocated first.
func (p *SlabPool) Outstanding() []Handle {
	out := make([]Handle, 0, p.InUse())
	for n := range p.nodes.All(p.allocated) {
		out = append(out, makeHandle(p.tag, int(n)))
	}
	return out
}

// Verify checks that the free and allocated lists are consistent and together hold every unit.
func (p *SlabPool) Verify() error {
	nfree, err := p.nodes.Verify(p.free)
	if err != nil {
		return fmt.Errorf("free list of pool %q: %w", p.name, err)
	}
	nalloc, err := p.nodes.Verify(p.allocated)
	if err != nil {
		return fmt.Errorf("allocated list of pool %q: %w", p.name, err)
	}
	if nfree != p.nfree {
		return fmt.Errorf("%w: pool %q counts %d free units, free list holds %d", list.ErrCorrupted, p.name, p.nfree, nfree)
	}
	if want := p.unitCount; p.Valid() && nfree+nalloc != want {
		return fmt.Errorf("%w: pool %q lists hold %d units, expected %d", list.ErrCorrupted, p.name, nfree+nalloc, want)
	}
	return nil
}

// Stats returns a snapshot of the pool's stats.
func (p *SlabPool) Stats() Stats {
	s := p.stats
	s.Capacity = p.unitCount
	s.InUse = p.InUse()
	s.Available = p.nfree
	s.BlockBytes = len(p.block)
	s.OverheadBytes = p.unitCount * slabUnitHeaderSize
	if p.guard {
		s.OverheadBytes += p.unitCount * 8
	}
	return s
}

// Close releases the backing block. Handles still checked out become invalid;
// the pool logs how many there were but cannot reclaim them.
// Afterwards the pool is degenerate. Close is idempotent.
func (p *SlabPool) Close() error {
	if !p.Valid() {
		return nil
	}
	if inUse := p.InUse(); inUse > 0 {
		p.logger.Warn("closing pool with units still in use", "inUse", inUse)
	}
	block := p.block
	p.block = nil
	p.nodes.Init(p.free)
	p.nodes.Init(p.allocated)
	p.nfree = 0
	if err := p.blocks.free(block); err != nil {
		p.logger.Error("failed to release backing block", "error", err)
		return fmt.Errorf("release backing block of pool %q: %w", p.name, err)
	}
	return nil
}

// checkedOut returns the unit index of h if h is a handle of this pool whose unit is allocated.
func (p *SlabPool) checkedOut(h Handle) (int, error) {
	if h.IsNull() {
		return -1, fmt.Errorf("%w: null handle", ErrInvalidPointer)
	}
	if h.tag() != p.tag {
		return -1, fmt.Errorf("%w: handle %v does not belong to pool %q", ErrInvalidPointer, h, p.name)
	}
	idx := h.index()
	if !p.Valid() || idx < 0 || idx >= p.unitCount {
		return -1, fmt.Errorf("%w: handle %v is outside of pool %q", ErrInvalidPointer, h, p.name)
	}
	if p.nodes.Owner(list.Ref(idx)) != p.allocated {
		return -1, fmt.Errorf("%w: unit %d of pool %q is not allocated", ErrInvalidPointer, idx, p.name)
	}
	return idx, nil
}

// payload returns the full-capacity payload slice of unit idx.
func (p *SlabPool) payload(idx int) []byte {
	off := idx * p.stride
	return p.block[off : off+p.unitSize : off+p.unitSize]
}
