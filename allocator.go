package slabpool

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
)

// HostAllocFunc is the shape of a host runtime's custom allocator hook.
//
// A newSize of zero frees ptr and returns Null. A Null ptr allocates newSize bytes;
// oldSize then carries host specific information and is ignored. Otherwise ptr is
// resized to newSize bytes. A failed request returns Null.
type HostAllocFunc func(ud any, ptr Handle, oldSize, newSize int) Handle

// AllocatorStats represents allocator stats.
type AllocatorStats struct {
	Allocs    uint64 // Fresh allocations.
	Frees     uint64
	Moves     uint64 // Resizes served by moving to a new unit.
	InPlace   uint64 // Resizes served without moving.
	Failures  uint64
	Usage     int64 // Bytes currently requested by the host.
	PeakUsage int64
}

// Allocator adapts a pool to a realloc-shaped allocation entry point.
// An Allocator is as safe for concurrent use as the pool it wraps.
type Allocator[P Pooler] struct {
	logger *slog.Logger
	pool   P

	allocs   atomic.Uint64
	frees    atomic.Uint64
	moves    atomic.Uint64
	inPlace  atomic.Uint64
	failures atomic.Uint64
	usage    atomic.Int64
	peak     atomic.Int64
	lastErr  atomic.Pointer[error]
}

// NewAllocator creates an allocator delegating to pool.
func NewAllocator[P Pooler](pool P, logger *slog.Logger) *Allocator[P] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Allocator[P]{logger: logger, pool: pool}
}

// New creates an allocator backed by a new slab pool of unitCount units of unitSize bytes.
func New(unitCount, unitSize int) (*Allocator[*SlabPool], error) {
	config := DefaultSlabPoolConfig()
	config.UnitCount = unitCount
	config.UnitSize = unitSize
	pool, err := NewSlabPool(config, nil)
	if err != nil {
		return nil, err
	}
	return NewAllocator(pool, nil), nil
}

// Pool returns the pool the allocator delegates to.
func (a *Allocator[P]) Pool() P {
	return a.pool
}

// Realloc allocates, resizes or frees depending on ptr and newSize:
//
//   - newSize == 0: frees ptr, if not Null, and returns Null.
//   - ptr is Null: allocates a unit for newSize bytes.
//   - otherwise: moves the payload to a new unit of newSize bytes, copying
//     min(oldSize, newSize) bytes, and frees ptr.
//
// A resize that fails leaves ptr allocated and unchanged. When the pool is
// exhausted a shrinking resize is served in place, so shrinking never fails for a
// valid ptr.
func (a *Allocator[P]) Realloc(ptr Handle, oldSize, newSize int) (Handle, error) {
	if newSize == 0 {
		if ptr.IsNull() {
			return Null, nil
		}
		if err := a.pool.Free(ptr); err != nil {
			return Null, a.fail(err)
		}
		a.frees.Add(1)
		a.account(-oldSize)
		return Null, nil
	}
	if ptr.IsNull() {
		h, err := a.pool.Alloc(newSize)
		if err != nil {
			return Null, a.fail(err)
		}
		a.allocs.Add(1)
		a.account(newSize)
		return h, nil
	}
	return a.resize(ptr, oldSize, newSize)
}

func (a *Allocator[P]) resize(ptr Handle, oldSize, newSize int) (Handle, error) {
	src, err := a.pool.Bytes(ptr)
	if err != nil {
		return Null, a.fail(err)
	}
	if newSize > a.pool.UnitSize() {
		return Null, a.fail(fmt.Errorf("%w: resize to %d bytes, unit size is %d", ErrCapacityExceeded, newSize, a.pool.UnitSize()))
	}

	h, err := a.pool.Alloc(newSize)
	if err != nil {
		if errors.Is(err, ErrPoolExhausted) && newSize <= oldSize {
			if err := a.pool.Resize(ptr, newSize); err != nil {
				return Null, a.fail(err)
			}
			a.inPlace.Add(1)
			a.account(newSize - oldSize)
			return ptr, nil
		}
		return Null, a.fail(err)
	}
	dst, err := a.pool.Bytes(h)
	if err != nil {
		a.pool.Free(h)
		return Null, a.fail(err)
	}

	n := max(min(oldSize, newSize, len(src)), 0)
	copy(dst, src[:n])
	if err := a.pool.Free(ptr); err != nil {
		a.pool.Free(h)
		return Null, a.fail(err)
	}
	a.moves.Add(1)
	a.account(newSize - oldSize)
	return h, nil
}

// Hook returns the allocator as a host allocation hook together with the user
// context the host must pass back to it on every call.
func (a *Allocator[P]) Hook() (HostAllocFunc, any) {
	return hostAlloc[P], a
}

func hostAlloc[P Pooler](ud any, ptr Handle, oldSize, newSize int) Handle {
	a := ud.(*Allocator[P])
	h, err := a.Realloc(ptr, oldSize, newSize)
	if err != nil {
		a.lastErr.Store(&err)
		a.logger.Debug("host allocation failed",
			"handle", ptr, "oldSize", oldSize, "newSize", newSize, "error", err)
		return Null
	}
	return h
}

// LastError returns the error of the most recent failed hook call.
func (a *Allocator[P]) LastError() error {
	if err := a.lastErr.Load(); err != nil {
		return *err
	}
	return nil
}

// Usage returns the number of bytes currently requested by the host.
// It is derived from the sizes the host reports and is for diagnostics only.
func (a *Allocator[P]) Usage() int64 {
	return a.usage.Load()
}

func (a *Allocator[P]) Stats() AllocatorStats {
	return AllocatorStats{
		Allocs:    a.allocs.Load(),
		Frees:     a.frees.Load(),
		Moves:     a.moves.Load(),
		InPlace:   a.inPlace.Load(),
		Failures:  a.failures.Load(),
		Usage:     a.usage.Load(),
		PeakUsage: a.peak.Load(),
	}
}

// Close closes the underlying pool, if it can be closed.
func (a *Allocator[P]) Close() error {
	if c, ok := any(a.pool).(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (a *Allocator[P]) account(delta int) {
	usage := a.usage.Add(int64(delta))
	for {
		peak := a.peak.Load()
		if usage <= peak || a.peak.CompareAndSwap(peak, usage) {
			return
		}
	}
}

func (a *Allocator[P]) fail(err error) error {
	a.failures.Add(1)
	return err
}
