package slabpool

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// blockAllocator is the underlying memory system pools draw their backing memory from.
type blockAllocator interface {
	alloc(size int) ([]byte, error)
	free(b []byte) error
}

func newBlockAllocator(b Backing) blockAllocator {
	switch b {
	case BackingMmap:
		return mmapAllocator{}
	case BackingHeap:
		return heapAllocator{}
	default:
		panic(fmt.Errorf("invalid backing: %v", b))
	}
}

// mmapAllocator maps anonymous memory that is not part of the Go heap,
// so large pools add nothing for the GC to scan.
type mmapAllocator struct{}

func (mmapAllocator) alloc(size int) ([]byte, error) {
	data, err := unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANON|unix.MAP_PRIVATE,
	)
	if err != nil {
		return nil, fmt.Errorf("cannot allocate %d bytes via mmap: %w", size, err)
	}
	return data, nil
}

func (mmapAllocator) free(b []byte) error {
	return unix.Munmap(b)
}

type heapAllocator struct{}

func (heapAllocator) alloc(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func (heapAllocator) free(b []byte) error {
	return nil
}
