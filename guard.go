package slabpool

import "github.com/cespare/xxhash/v2"

// fingerprint hashes a free unit's payload so that a later write through a stale
// handle can be detected when the unit is handed out again.
func fingerprint(b []byte) uint64 {
	return xxhash.Sum64(b)
}

func intact(b []byte, sum uint64) bool {
	return xxhash.Sum64(b) == sum
}
