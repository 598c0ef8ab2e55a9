package slabpool

import "errors"

var (
	// ErrCapacityExceeded indicates a request larger than the pool's fixed unit size.
	ErrCapacityExceeded = errors.New("slabpool: requested size exceeds unit size")

	// ErrPoolExhausted indicates that no free unit is left, or that the pool has no backing memory.
	ErrPoolExhausted = errors.New("slabpool: pool exhausted")

	// ErrInvalidPointer indicates a handle that was not handed out by the pool,
	// or whose unit is not currently checked out.
	ErrInvalidPointer = errors.New("slabpool: invalid handle")

	// ErrAllocationFailed indicates that backing memory could not be obtained at construction.
	ErrAllocationFailed = errors.New("slabpool: backing allocation failed")

	ErrInvalidConfig = errors.New("slabpool: invalid config")
)
