package slabpool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// newTestBufferPool is a helper for creating a heap backed buffer pool that is closed on cleanup.
func newTestBufferPool(t *testing.T, count, size int) *BufferPool {
	t.Helper()
	config := BufferPoolConfig{Name: t.Name(), BufferSize: size, BufferCount: count, Backing: BackingHeap}
	p, err := NewBufferPool(config, discardLogger)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func TestBufferPoolNew(t *testing.T) {
	for _, backing := range []Backing{BackingHeap, BackingMmap} {
		t.Run(backing.String(), func(t *testing.T) {
			config := BufferPoolConfig{Name: "test", BufferSize: 100, BufferCount: 3, Backing: backing}
			p, err := NewBufferPool(config, discardLogger)
			require.NoError(t, err)
			defer p.Close()

			require.True(t, p.Valid())
			require.Equal(t, 100, p.BufferSize())
			require.Equal(t, 3, p.Available())
			require.NoError(t, p.Verify())

			s := p.Stats()
			require.Equal(t, 3, s.Capacity)
			require.Equal(t, 300, s.BlockBytes)
			require.Zero(t, s.InUse)
		})
	}

	_, err := NewBufferPool(BufferPoolConfig{BufferSize: 0, BufferCount: 1}, discardLogger)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestBufferPoolFIFO(t *testing.T) {
	p := newTestBufferPool(t, 3, 16)

	// Buffers are handed out in allocation order.
	var hs []Handle
	for i := range 3 {
		h, err := p.Allocate(16)
		require.NoError(t, err)
		require.Equal(t, i, h.index())
		hs = append(hs, h)
	}
	_, err := p.Allocate(1)
	require.ErrorIs(t, err, ErrPoolExhausted)

	require.NoError(t, p.Release(hs[2]))
	require.NoError(t, p.Release(hs[0]))
	require.NoError(t, p.Verify())

	h, err := p.Allocate(16)
	require.NoError(t, err)
	require.Equal(t, hs[2], h)
	h, err = p.Allocate(16)
	require.NoError(t, err)
	require.Equal(t, hs[0], h)
}

func TestBufferPoolCapacityExceeded(t *testing.T) {
	p := newTestBufferPool(t, 1, 16)
	for _, size := range []int{17, 1 << 20, -1} {
		h, err := p.Allocate(size)
		require.ErrorIs(t, err, ErrCapacityExceeded)
		require.True(t, h.IsNull())
	}
	require.Equal(t, 1, p.Available())
}

func TestBufferPoolReleaseInvalidPointer(t *testing.T) {
	p := newTestBufferPool(t, 2, 16)
	other := newTestBufferPool(t, 2, 16)
	h, err := p.Allocate(16)
	require.NoError(t, err)
	foreign, err := other.Allocate(16)
	require.NoError(t, err)

	require.ErrorIs(t, p.Release(Null), ErrInvalidPointer)
	require.ErrorIs(t, p.Release(foreign), ErrInvalidPointer)
	require.ErrorIs(t, p.Release(makeHandle(p.tag, 7)), ErrInvalidPointer)
	require.ErrorIs(t, p.Release(makeHandle(p.tag, 1)), ErrInvalidPointer, "buffer on the free list")
	require.Equal(t, 1, p.Available())

	require.NoError(t, p.Release(h))
	require.ErrorIs(t, p.Release(h), ErrInvalidPointer, "double release")
	require.Equal(t, 2, p.Available())
	require.NoError(t, p.Verify())
}

func TestBufferPoolBytes(t *testing.T) {
	p := newTestBufferPool(t, 2, 16)
	h1, err := p.Allocate(5)
	require.NoError(t, err)
	h2, err := p.Allocate(16)
	require.NoError(t, err)

	b1, err := p.Bytes(h1)
	require.NoError(t, err)
	require.Len(t, b1, 5)
	require.Equal(t, 16, cap(b1))
	copy(b1, "hello")

	b2, err := p.Bytes(h2)
	require.NoError(t, err)
	copy(b2, "0123456789abcdef")

	b1, err = p.Bytes(h1)
	require.NoError(t, err)
	require.Equal(t, "hello", string(b1))

	require.NoError(t, p.Release(h1))
	_, err = p.Bytes(h1)
	require.ErrorIs(t, err, ErrInvalidPointer)
}

func TestBufferPoolPartialAllocationFailure(t *testing.T) {
	blocks := &failingAllocator{okAllocs: 2}
	config := BufferPoolConfig{Name: "partial", BufferSize: 8, BufferCount: 4}
	p, err := newBufferPool(config, discardLogger, blocks)
	require.ErrorIs(t, err, ErrAllocationFailed)
	require.ErrorIs(t, err, errOutOfMemory)
	require.NotNil(t, p)

	require.False(t, p.Valid())
	require.Equal(t, 2, blocks.frees, "buffers allocated before the failure are released")
	require.Zero(t, p.Available())

	_, err = p.Allocate(1)
	require.ErrorIs(t, err, ErrPoolExhausted)
	require.NoError(t, p.Close())
}

func TestBufferPoolClose(t *testing.T) {
	blocks := &failingAllocator{okAllocs: 3}
	config := BufferPoolConfig{Name: "close", BufferSize: 8, BufferCount: 3}
	p, err := newBufferPool(config, discardLogger, blocks)
	require.NoError(t, err)

	h, err := p.Allocate(8)
	require.NoError(t, err)

	require.NoError(t, p.Close())
	require.Equal(t, 2, blocks.frees, "checked out buffers are not reachable")
	require.False(t, p.Valid())
	require.Zero(t, p.Available())
	require.ErrorIs(t, p.Release(h), ErrInvalidPointer)

	_, err = p.Allocate(1)
	require.ErrorIs(t, err, ErrPoolExhausted)

	require.NoError(t, p.Close())
	require.Equal(t, 2, blocks.frees)
}

func TestBufferPoolStats(t *testing.T) {
	p := newTestBufferPool(t, 2, 8)
	h, err := p.Allocate(8)
	require.NoError(t, err)
	_, _ = p.Allocate(9)
	require.NoError(t, p.Release(h))

	s := p.Stats()
	require.Equal(t, uint64(1), s.Allocs)
	require.Equal(t, uint64(1), s.Frees)
	require.Equal(t, uint64(1), s.Failures)
	require.Equal(t, 2, s.Available)
}
