package slabpool

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// Handle identifies a unit checked out of a pool.
// The upper 32 bits hold the tag of the owning pool, the lower 32 bits the unit index plus one.
// The zero Handle is Null.
type Handle uint64

// Null is the handle of no unit.
const Null Handle = 0

func makeHandle(tag uint32, idx int) Handle {
	return Handle(uint64(tag)<<32 | uint64(uint32(idx+1)))
}

// IsNull reports whether h refers to no unit.
func (h Handle) IsNull() bool {
	return h == Null
}

func (h Handle) tag() uint32 {
	return uint32(h >> 32)
}

// index returns the unit index, or -1 for Null.
func (h Handle) index() int {
	return int(uint32(h)) - 1
}

func (h Handle) String() string {
	if h.IsNull() {
		return "null"
	}
	return fmt.Sprintf("%08x:%d", h.tag(), h.index())
}

var poolSeq atomic.Uint64

// newPoolTag derives a non-zero tag for a new pool. Tags make handles of one
// pool unusable with another; two live pools share a tag with probability 2^-32.
func newPoolTag(name string) uint32 {
	var seq [8]byte
	binary.LittleEndian.PutUint64(seq[:], poolSeq.Add(1))
	d := xxhash.New()
	d.WriteString(name)
	d.Write(seq[:])
	tag := uint32(d.Sum64())
	if tag == 0 {
		tag = 1
	}
	return tag
}
