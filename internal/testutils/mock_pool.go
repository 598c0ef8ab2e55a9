package testutils

import (
	"fmt"
	"sync/atomic"

	slabpool "github.com/holmberd/go-slabpool"
)

// MockPool is a heap backed slabpool.Pooler with a fixed number of units, counting calls.
// It is not safe for concurrent use.
type MockPool struct {
	UnitBytes int
	Capacity  int

	units map[slabpool.Handle][]byte
	next  slabpool.Handle

	allocCalls  atomic.Int64
	freeCalls   atomic.Int64
	resizeCalls atomic.Int64
}

func (p *MockPool) UnitSize() int {
	return p.UnitBytes
}

func (p *MockPool) Alloc(size int) (slabpool.Handle, error) {
	p.allocCalls.Add(1)
	if size < 0 || size > p.UnitBytes {
		return slabpool.Null, fmt.Errorf("%w: %d", slabpool.ErrCapacityExceeded, size)
	}
	if len(p.units) >= p.Capacity {
		return slabpool.Null, slabpool.ErrPoolExhausted
	}
	if p.units == nil {
		p.units = make(map[slabpool.Handle][]byte)
	}
	p.next++
	p.units[p.next] = make([]byte, size, p.UnitBytes)
	return p.next, nil
}

func (p *MockPool) Free(h slabpool.Handle) error {
	p.freeCalls.Add(1)
	if _, ok := p.units[h]; !ok {
		return fmt.Errorf("%w: %v", slabpool.ErrInvalidPointer, h)
	}
	delete(p.units, h)
	return nil
}

func (p *MockPool) Resize(h slabpool.Handle, size int) error {
	p.resizeCalls.Add(1)
	b, ok := p.units[h]
	if !ok {
		return fmt.Errorf("%w: %v", slabpool.ErrInvalidPointer, h)
	}
	if size < 0 || size > p.UnitBytes {
		return fmt.Errorf("%w: %d", slabpool.ErrCapacityExceeded, size)
	}
	p.units[h] = b[:size]
	return nil
}

func (p *MockPool) Bytes(h slabpool.Handle) ([]byte, error) {
	b, ok := p.units[h]
	if !ok {
		return nil, fmt.Errorf("%w: %v", slabpool.ErrInvalidPointer, h)
	}
	return b, nil
}

func (p *MockPool) AllocCalls() int64 {
	return p.allocCalls.Load()
}

func (p *MockPool) FreeCalls() int64 {
	return p.freeCalls.Load()
}

func (p *MockPool) ResizeCalls() int64 {
	return p.resizeCalls.Load()
}

// UnitsInUse returns the number of units allocated and not freed.
func (p *MockPool) UnitsInUse() int {
	return len(p.units)
}

func (p *MockPool) Reset() {
	p.units = nil
	p.next = 0
	p.allocCalls.Store(0)
	p.freeCalls.Store(0)
	p.resizeCalls.Store(0)
}

var _ slabpool.Pooler = (*MockPool)(nil)
