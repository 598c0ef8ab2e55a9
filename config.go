package slabpool

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

const (
	KiB = 1024
	MiB = KiB * KiB

	// Alignment of every unit's payload within a slab pool's backing block.
	Alignment = 8

	// MaxUnits is the maximum number of units or buffers in a single pool.
	MaxUnits = math.MaxInt32 - 2
)

// Backing selects where pool memory is obtained from.
type Backing int

const (
	BackingHeap Backing = iota // Go heap, released by the garbage collector.
	BackingMmap                // Anonymous private mapping outside of the Go heap.
)

func (b Backing) String() string {
	switch b {
	case BackingHeap:
		return "heap"
	case BackingMmap:
		return "mmap"
	default:
		return fmt.Sprintf("Backing(%d)", int(b))
	}
}

// ParseBacking parses the name of a backing, as returned by Backing.String.
func ParseBacking(s string) (Backing, error) {
	switch strings.ToLower(s) {
	case "heap":
		return BackingHeap, nil
	case "mmap":
		return BackingMmap, nil
	default:
		return 0, fmt.Errorf("%w: unknown backing %q", ErrInvalidConfig, s)
	}
}

type SlabPoolConfig struct {
	// Name identifies the pool in logs. It also seeds the pool's handle tag.
	Name string

	UnitCount int // Number of units carved from the backing block.
	UnitSize  int // Maximum payload size of a unit, in bytes.

	Backing Backing

	// Guard fingerprints the payload of every freed unit and verifies the
	// fingerprint when the unit is handed out again, reporting writes made
	// through stale handles. It costs one hash of the unit per Free and Alloc.
	Guard bool
}

func DefaultSlabPoolConfig() SlabPoolConfig {
	return SlabPoolConfig{
		Name:      "slab",
		UnitCount: 50,
		UnitSize:  KiB,
		Backing:   BackingMmap,
	}
}

func (c SlabPoolConfig) Validate() error {
	var errs []error
	if c.UnitCount <= 0 || c.UnitCount > MaxUnits {
		errs = append(errs, fmt.Errorf("%w: unit count %d must be between 1 and %d", ErrInvalidConfig, c.UnitCount, MaxUnits))
	}
	if c.UnitSize <= 0 {
		errs = append(errs, fmt.Errorf("%w: unit size %d must be positive", ErrInvalidConfig, c.UnitSize))
	} else if c.UnitSize > math.MaxInt-Alignment ||
		(c.UnitCount > 0 && unitStride(c.UnitSize) > math.MaxInt/c.UnitCount) {
		errs = append(errs, fmt.Errorf("%w: %d units of %d bytes overflow the block size", ErrInvalidConfig, c.UnitCount, c.UnitSize))
	}
	if err := validateBacking(c.Backing); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// BlockSize returns the size of the backing block the configuration requires.
func (c SlabPoolConfig) BlockSize() int {
	return c.UnitCount * unitStride(c.UnitSize)
}

type BufferPoolConfig struct {
	Name        string
	BufferSize  int // Payload size of every buffer, in bytes.
	BufferCount int // Number of buffers allocated at construction.
	Backing     Backing
}

func DefaultBufferPoolConfig() BufferPoolConfig {
	return BufferPoolConfig{
		Name:        "buffer",
		BufferSize:  4 * KiB,
		BufferCount: 64,
		Backing:     BackingHeap,
	}
}

func (c BufferPoolConfig) Validate() error {
	var errs []error
	if c.BufferCount <= 0 || c.BufferCount > MaxUnits {
		errs = append(errs, fmt.Errorf("%w: buffer count %d must be between 1 and %d", ErrInvalidConfig, c.BufferCount, MaxUnits))
	}
	if c.BufferSize <= 0 {
		errs = append(errs, fmt.Errorf("%w: buffer size %d must be positive", ErrInvalidConfig, c.BufferSize))
	}
	if err := validateBacking(c.Backing); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func validateBacking(b Backing) error {
	if b != BackingHeap && b != BackingMmap {
		return fmt.Errorf("%w: unknown backing %v", ErrInvalidConfig, b)
	}
	return nil
}

// unitStride rounds a unit size up to Alignment.
func unitStride(unitSize int) int {
	return (unitSize + Alignment - 1) &^ (Alignment - 1)
}
