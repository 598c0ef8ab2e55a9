package slabpool

import "sync"

// LockedPool serializes access to a SlabPool with a single mutex.
// A LockedPool is safe for concurrent use by multiple goroutines.
type LockedPool struct {
	mu   sync.Mutex
	pool *SlabPool
}

// NewLockedPool wraps p. p must not be used directly afterwards.
func NewLockedPool(p *SlabPool) *LockedPool {
	return &LockedPool{pool: p}
}

func (l *LockedPool) UnitSize() int {
	return l.pool.UnitSize() // Immutable.
}

func (l *LockedPool) Alloc(size int) (Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pool.Alloc(size)
}

func (l *LockedPool) Free(h Handle) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pool.Free(h)
}

func (l *LockedPool) Resize(h Handle, size int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pool.Resize(h, size)
}

// Bytes returns the payload of a checked out unit. The caller owns the unit,
// so reading and writing the returned slice needs no lock.
func (l *LockedPool) Bytes(h Handle) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pool.Bytes(h)
}

func (l *LockedPool) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pool.Stats()
}

func (l *LockedPool) Verify() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pool.Verify()
}

func (l *LockedPool) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pool.Close()
}
