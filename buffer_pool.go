package slabpool

import (
	"fmt"
	"log/slog"

	"github.com/holmberd/go-slabpool/internal/list"
)

// BufferPool serves buffers of one fixed size from independently allocated buffers.
//
// Only free buffers are tracked. A released buffer goes to the tail of the free
// list and buffers are handed out from the head, so reuse is FIFO.
// A BufferPool is not safe for concurrent use.
type BufferPool struct {
	logger     *slog.Logger
	name       string
	blocks     blockAllocator
	bufferSize int
	tag        uint32
	buffers    [][]byte
	sizes      []int
	nodes      *list.Arena
	free       list.Ref
	nfree      int
	closed     bool
	stats      Stats
}

// NewBufferPool allocates config.BufferCount buffers of config.BufferSize bytes.
//
// If any buffer cannot be allocated, the ones already allocated are released and
// a degenerate pool is returned together with an error wrapping ErrAllocationFailed.
func NewBufferPool(config BufferPoolConfig, logger *slog.Logger) (*BufferPool, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return newBufferPool(config, logger, newBlockAllocator(config.Backing))
}

func newBufferPool(config BufferPoolConfig, logger *slog.Logger, blocks blockAllocator) (*BufferPool, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &BufferPool{
		logger:     logger.With("pool", config.Name),
		name:       config.Name,
		blocks:     blocks,
		bufferSize: config.BufferSize,
		tag:        newPoolTag(config.Name),
		buffers:    make([][]byte, config.BufferCount),
		sizes:      make([]int, config.BufferCount),
		nodes:      list.NewArena(config.BufferCount),
	}
	p.free = p.nodes.NewList()

	for i := range p.buffers {
		buf, err := blocks.alloc(p.bufferSize)
		if err != nil {
			p.logger.Error("failed to allocate buffer", "buffer", i, "size", p.bufferSize, "error", err)
			p.releaseFree()
			p.closed = true
			return p, fmt.Errorf("%w: buffer %d of %d bytes: %w", ErrAllocationFailed, i, p.bufferSize, err)
		}
		p.buffers[i] = buf
		p.nodes.AddTail(p.free, list.Ref(i))
		p.nfree++
	}
	return p, nil
}

// Valid reports whether the pool holds its buffers.
func (p *BufferPool) Valid() bool {
	return !p.closed
}

// BufferSize returns the payload size of every buffer.
func (p *BufferPool) BufferSize() int {
	return p.bufferSize
}

// Available returns the number of buffers on the free list.
func (p *BufferPool) Available() int {
	return p.nfree
}

// Allocate takes the buffer at the head of the free list.
//
// It fails with ErrCapacityExceeded if size is negative or exceeds BufferSize,
// and with ErrPoolExhausted if no buffer is free.
func (p *BufferPool) Allocate(size int) (Handle, error) {
	if size < 0 || size > p.bufferSize {
		p.stats.Failures++
		return Null, fmt.Errorf("%w: requested %d bytes, buffer size is %d", ErrCapacityExceeded, size, p.bufferSize)
	}
	n, err := p.nodes.RemoveHead(p.free)
	if err != nil {
		p.stats.Failures++
		return Null, fmt.Errorf("%w: no free buffer in pool %q", ErrPoolExhausted, p.name)
	}
	idx := int(n)
	p.nfree--
	p.sizes[idx] = size
	p.stats.Allocs++
	return makeHandle(p.tag, idx), nil
}

// Release returns a buffer to the tail of the free list.
//
// It fails with ErrInvalidPointer if h was not handed out by this pool or the
// buffer is already on the free list.
func (p *BufferPool) Release(h Handle) error {
	idx, err := p.checkedOut(h)
	if err != nil {
		p.stats.Failures++
		return err
	}
	p.nodes.AddTail(p.free, list.Ref(idx))
	p.nfree++
	p.sizes[idx] = 0
	p.stats.Frees++
	return nil
}

// Bytes returns the payload of a checked out buffer, with the length it was allocated with.
func (p *BufferPool) Bytes(h Handle) ([]byte, error) {
	idx, err := p.checkedOut(h)
	if err != nil {
		return nil, err
	}
	return p.buffers[idx][:p.sizes[idx]:p.bufferSize], nil
}

// Verify checks the consistency of the free list.
func (p *BufferPool) Verify() error {
	n, err := p.nodes.Verify(p.free)
	if err != nil {
		return fmt.Errorf("free list of pool %q: %w", p.name, err)
	}
	if n != p.nfree {
		return fmt.Errorf("%w: pool %q counts %d free buffers, free list holds %d", list.ErrCorrupted, p.name, p.nfree, n)
	}
	return nil
}

// Stats returns a snapshot of the pool's stats.
func (p *BufferPool) Stats() Stats {
	s := p.stats
	s.Capacity = len(p.buffers)
	s.Available = p.nfree
	if !p.closed {
		s.InUse = len(p.buffers) - p.nfree
		s.BlockBytes = len(p.buffers) * p.bufferSize
	}
	s.OverheadBytes = len(p.buffers) * (list.NodeSize + 8)
	return s
}

// Close releases every buffer on the free list. Buffers still checked out are not
// reachable from the pool and are leaked; their handles become invalid.
// Close is idempotent.
func (p *BufferPool) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	if leaked := len(p.buffers) - p.nfree; leaked > 0 {
		p.logger.Warn("closing pool with buffers still in use", "leaked", leaked)
	}
	return p.releaseFree()
}

// releaseFree drains the free list, releasing every buffer on it.
func (p *BufferPool) releaseFree() error {
	var firstErr error
	for !p.nodes.IsEmpty(p.free) {
		n, _ := p.nodes.RemoveHead(p.free)
		buf := p.buffers[n]
		p.buffers[n] = nil
		p.nfree--
		if err := p.blocks.free(buf); err != nil {
			p.logger.Error("failed to release buffer", "buffer", int(n), "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("release buffer %d of pool %q: %w", n, p.name, err)
			}
		}
	}
	return firstErr
}

func (p *BufferPool) checkedOut(h Handle) (int, error) {
	if h.IsNull() {
		return -1, fmt.Errorf("%w: null handle", ErrInvalidPointer)
	}
	if h.tag() != p.tag {
		return -1, fmt.Errorf("%w: handle %v does not belong to pool %q", ErrInvalidPointer, h, p.name)
	}
	idx := h.index()
	if p.closed || idx < 0 || idx >= len(p.buffers) {
		return -1, fmt.Errorf("%w: handle %v is outside of pool %q", ErrInvalidPointer, h, p.name)
	}
	if !p.nodes.IsDetached(list.Ref(idx)) {
		return -1, fmt.Errorf("%w: buffer %d of pool %q is not checked out", ErrInvalidPointer, idx, p.name)
	}
	return idx, nil
}
