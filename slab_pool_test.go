package slabpool

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil)) // Discard logs during testing.

var errOutOfMemory = errors.New("out of memory")

// failingAllocator fails every allocation after the first okAllocs and counts frees.
type failingAllocator struct {
	okAllocs int
	allocs   int
	frees    int
}

func (f *failingAllocator) alloc(size int) ([]byte, error) {
	if f.allocs >= f.okAllocs {
		return nil, errOutOfMemory
	}
	f.allocs++
	return make([]byte, size), nil
}

func (f *failingAllocator) free(b []byte) error {
	f.frees++
	return nil
}

// newTestSlabPool is a helper for creating a heap backed pool that is closed on cleanup.
func newTestSlabPool(t *testing.T, unitCount, unitSize int) *SlabPool {
	t.Helper()
	config := SlabPoolConfig{
		Name:      t.Name(),
		UnitCount: unitCount,
		UnitSize:  unitSize,
		Backing:   BackingHeap,
	}
	p, err := NewSlabPool(config, discardLogger)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

// allocN allocates n units of size bytes.
func allocN(t *testing.T, p *SlabPool, n, size int) []Handle {
	t.Helper()
	hs := make([]Handle, n)
	for i := range hs {
		h, err := p.Alloc(size)
		require.NoError(t, err)
		require.False(t, h.IsNull())
		hs[i] = h
	}
	return hs
}

func TestSlabPoolNew(t *testing.T) {
	for _, backing := range []Backing{BackingHeap, BackingMmap} {
		t.Run(backing.String(), func(t *testing.T) {
			config := SlabPoolConfig{Name: "test", UnitCount: 4, UnitSize: 13, Backing: backing}
			p, err := NewSlabPool(config, discardLogger)
			require.NoError(t, err)
			defer p.Close()

			require.True(t, p.Valid())
			require.Equal(t, 13, p.UnitSize())
			require.Equal(t, 4, p.UnitCount())
			require.Equal(t, 4, p.Available())
			require.Zero(t, p.InUse())
			require.NoError(t, p.Verify())

			s := p.Stats()
			require.Equal(t, 4*16, s.BlockBytes, "units are 8 byte aligned")
			require.Equal(t, 4, s.Capacity)
			require.Equal(t, 4*slabUnitHeaderSize, s.OverheadBytes)

			// Units were pushed to the head in order, so the last unit is handed out first.
			h, err := p.Alloc(1)
			require.NoError(t, err)
			require.Equal(t, 3, h.index())
		})
	}
}

func TestSlabPoolInvalidConfig(t *testing.T) {
	testCases := []struct {
		name   string
		config SlabPoolConfig
	}{
		{"Zero units", SlabPoolConfig{UnitCount: 0, UnitSize: 16}},
		{"Negative units", SlabPoolConfig{UnitCount: -1, UnitSize: 16}},
		{"Zero unit size", SlabPoolConfig{UnitCount: 1, UnitSize: 0}},
		{"Unknown backing", SlabPoolConfig{UnitCount: 1, UnitSize: 16, Backing: Backing(9)}},
		{"Block overflow", SlabPoolConfig{UnitCount: 1 << 20, UnitSize: math.MaxInt / 2}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := NewSlabPool(tc.config, discardLogger)
			require.ErrorIs(t, err, ErrInvalidConfig)
			require.Nil(t, p)
		})
	}
}

func TestSlabPoolExhaustion(t *testing.T) {
	const n = 5
	p := newTestSlabPool(t, n, 32)
	allocN(t, p, n, 32)
	before := p.Outstanding()

	h, err := p.Alloc(1)
	require.ErrorIs(t, err, ErrPoolExhausted)
	require.True(t, h.IsNull())
	require.Equal(t, before, p.Outstanding())
	require.Equal(t, n, p.InUse())
	require.NoError(t, p.Verify())
	require.Equal(t, uint64(1), p.Stats().Failures)
}

func TestSlabPoolRoundTrip(t *testing.T) {
	p := newTestSlabPool(t, 1, 64)

	h, err := p.Alloc(64)
	require.NoError(t, err)
	require.NoError(t, p.Free(h))
	require.Equal(t, 1, p.Available())

	h, err = p.Alloc(64)
	require.NoError(t, err)
	b, err := p.Bytes(h)
	require.NoError(t, err)
	require.Len(t, b, 64)
	for i := range b {
		b[i] = byte(i)
	}
	require.NoError(t, p.Verify())
}

func TestSlabPoolLIFO(t *testing.T) {
	p := newTestSlabPool(t, 5, 8)
	hs := allocN(t, p, 3, 8)
	u2, u3 := hs[1], hs[2]

	require.NoError(t, p.Free(u2))
	require.NoError(t, p.Free(u3))

	h, err := p.Alloc(8)
	require.NoError(t, err)
	require.Equal(t, u3, h)
	h, err = p.Alloc(8)
	require.NoError(t, err)
	require.Equal(t, u2, h)
	require.NoError(t, p.Verify())
}

func TestSlabPoolCapacityExceeded(t *testing.T) {
	for _, unitSize := range []int{1, 2, 7, 8, 16, 1000} {
		t.Run(fmt.Sprintf("unitSize=%d", unitSize), func(t *testing.T) {
			p := newTestSlabPool(t, 2, unitSize)
			for _, size := range []int{unitSize + 1, unitSize * 2, unitSize + Alignment, -1} {
				h, err := p.Alloc(size)
				require.ErrorIs(t, err, ErrCapacityExceeded, "size %d", size)
				require.True(t, h.IsNull())
			}
			require.Equal(t, 2, p.Available())

			_, err := p.Alloc(unitSize)
			require.NoError(t, err)
		})
	}
}

func TestSlabPoolScenario(t *testing.T) {
	p := newTestSlabPool(t, 2, 16)

	ptrA, err := p.Alloc(16)
	require.NoError(t, err)
	ptrB, err := p.Alloc(16)
	require.NoError(t, err)
	require.NotEqual(t, ptrA, ptrB)

	_, err = p.Alloc(16)
	require.ErrorIs(t, err, ErrPoolExhausted)

	require.NoError(t, p.Free(ptrA))
	h, err := p.Alloc(8)
	require.NoError(t, err)
	require.Equal(t, ptrA, h)

	b, err := p.Bytes(h)
	require.NoError(t, err)
	require.Len(t, b, 8)
	require.Equal(t, 16, cap(b))
}

func TestSlabPoolFreeInvalidPointer(t *testing.T) {
	p := newTestSlabPool(t, 3, 16)
	other := newTestSlabPool(t, 3, 16)
	hs := allocN(t, p, 2, 16)
	foreign, err := other.Alloc(16)
	require.NoError(t, err)

	require.NoError(t, p.Free(hs[0]))
	beforeOutstanding := p.Outstanding()
	beforeAvailable := p.Available()

	testCases := []struct {
		name string
		h    Handle
	}{
		{"Null", Null},
		{"Other pool", foreign},
		{"Out of range", makeHandle(p.tag, 3)},
		{"Far out of range", makeHandle(p.tag, 1<<30)},
		{"Double free", hs[0]},
		{"Never allocated", makeHandle(p.tag, 0)},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.ErrorIs(t, p.Free(tc.h), ErrInvalidPointer)
			require.Equal(t, beforeOutstanding, p.Outstanding())
			require.Equal(t, beforeAvailable, p.Available())
			require.NoError(t, p.Verify())

			_, err := p.Bytes(tc.h)
			require.ErrorIs(t, err, ErrInvalidPointer)
		})
	}
}

func TestSlabPoolFreeAnyOrder(t *testing.T) {
	p := newTestSlabPool(t, 4, 8)
	hs := allocN(t, p, 4, 8)

	// The allocated list holds the most recent unit at its head; free from the tail and middle.
	for _, i := range []int{0, 2, 3, 1} {
		require.NoError(t, p.Free(hs[i]))
		require.NoError(t, p.Verify())
	}
	require.Empty(t, p.Outstanding())
	require.Equal(t, 4, p.Available())
}

func TestSlabPoolUnitsDoNotOverlap(t *testing.T) {
	const n, size = 6, 12
	p := newTestSlabPool(t, n, size)
	hs := allocN(t, p, n, size)

	for i, h := range hs {
		b, err := p.Bytes(h)
		require.NoError(t, err)
		for j := range b[:cap(b)] {
			b[:cap(b)][j] = byte(i + 1)
		}
	}
	for i, h := range hs {
		b, err := p.Bytes(h)
		require.NoError(t, err)
		for _, c := range b {
			require.Equal(t, byte(i+1), c)
		}
	}
}

func TestSlabPoolResize(t *testing.T) {
	p := newTestSlabPool(t, 1, 32)
	h, err := p.Alloc(4)
	require.NoError(t, err)

	require.NoError(t, p.Resize(h, 32))
	b, err := p.Bytes(h)
	require.NoError(t, err)
	require.Len(t, b, 32)

	require.ErrorIs(t, p.Resize(h, 33), ErrCapacityExceeded)
	require.NoError(t, p.Free(h))
	require.ErrorIs(t, p.Resize(h, 1), ErrInvalidPointer)
}

func TestSlabPoolDegenerate(t *testing.T) {
	config := SlabPoolConfig{Name: "degenerate", UnitCount: 4, UnitSize: 16}
	p, err := newSlabPool(config, discardLogger, &failingAllocator{})
	require.ErrorIs(t, err, ErrAllocationFailed)
	require.ErrorIs(t, err, errOutOfMemory)
	require.NotNil(t, p)

	require.False(t, p.Valid())
	require.Zero(t, p.Available())
	require.Zero(t, p.InUse())
	require.NoError(t, p.Verify())

	_, err = p.Alloc(1)
	require.ErrorIs(t, err, ErrPoolExhausted)
	require.ErrorIs(t, p.Free(makeHandle(p.tag, 0)), ErrInvalidPointer)
	require.NoError(t, p.Close())
}

func TestSlabPoolClose(t *testing.T) {
	blocks := &failingAllocator{okAllocs: 1}
	config := SlabPoolConfig{Name: "close", UnitCount: 3, UnitSize: 16}
	p, err := newSlabPool(config, discardLogger, blocks)
	require.NoError(t, err)

	h, err := p.Alloc(16)
	require.NoError(t, err)

	require.NoError(t, p.Close())
	require.Equal(t, 1, blocks.frees)
	require.False(t, p.Valid())

	_, err = p.Alloc(1)
	require.ErrorIs(t, err, ErrPoolExhausted)
	require.ErrorIs(t, p.Free(h), ErrInvalidPointer)
	require.Empty(t, p.Outstanding())

	require.NoError(t, p.Close())
	require.Equal(t, 1, blocks.frees, "close is idempotent")
}

func TestSlabPoolGuard(t *testing.T) {
	config := SlabPoolConfig{Name: "guard", UnitCount: 2, UnitSize: 16, Backing: BackingHeap, Guard: true}
	p, err := NewSlabPool(config, discardLogger)
	require.NoError(t, err)
	defer p.Close()

	h, err := p.Alloc(16)
	require.NoError(t, err)
	stale, err := p.Bytes(h)
	require.NoError(t, err)
	require.NoError(t, p.Free(h))

	// Reusing a unit that was left alone is not a fault.
	h, err = p.Alloc(16)
	require.NoError(t, err)
	require.Zero(t, p.Stats().GuardFaults)
	require.NoError(t, p.Free(h))

	// Write through the stale slice after free.
	stale[3] ^= 0xff
	h, err = p.Alloc(16)
	require.NoError(t, err)
	require.Equal(t, uint64(1), p.Stats().GuardFaults)
	require.NoError(t, p.Free(h))
}

func TestSlabPoolOutstanding(t *testing.T) {
	p := newTestSlabPool(t, 4, 8)
	hs := allocN(t, p, 3, 8)
	require.Equal(t, []Handle{hs[2], hs[1], hs[0]}, p.Outstanding())

	require.NoError(t, p.Free(hs[1]))
	require.Equal(t, []Handle{hs[2], hs[0]}, p.Outstanding())
}

func TestSlabPoolStats(t *testing.T) {
	p := newTestSlabPool(t, 2, 8)
	hs := allocN(t, p, 2, 8)
	_, _ = p.Alloc(8)
	require.NoError(t, p.Free(hs[0]))
	_ = p.Free(hs[0])

	s := p.Stats()
	require.Equal(t, uint64(2), s.Allocs)
	require.Equal(t, uint64(1), s.Frees)
	require.Equal(t, uint64(2), s.Failures)
	require.Equal(t, 1, s.InUse)
	require.Equal(t, 1, s.Available)

	s.Reset()
	require.Zero(t, s.Allocs)
	require.Zero(t, s.Failures)
}
