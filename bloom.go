// In-memory bloom filter accelerating path_index negative lookups.
//
// Sized for ~10k entries at 1% false positive rate. A GetByPath miss on
// a large database would otherwise cost a full btree descent just to
// learn the path was never indexed; checking the bloom filter first
// turns the common "definitely not found" case into a couple of hash
// computations and a handful of bit tests.
package mediadb

import (
	"github.com/zeebo/xxh3"
)

// Bloom filter sizing constants.
const (
	BloomSize = 11982 // bytes, ~96k bits for 10k entries at 1% FP
	BloomK    = 7      // number of hash functions
)

type bloom struct {
	bits []byte
}

// newBloom returns a zeroed bloom filter.
func newBloom() *bloom {
	return &bloom{bits: make([]byte, BloomSize)}
}

// Add inserts a canonical path into the filter.
func (b *bloom) Add(canonicalPath string) {
	for _, pos := range pathPositions(canonicalPath) {
		b.bits[pos/8] |= 1 << (pos % 8)
	}
}

// MaybeContains returns false if canonicalPath is definitely absent,
// true if it might be present (a full index lookup is still required
// to confirm).
func (b *bloom) MaybeContains(canonicalPath string) bool {
	for _, pos := range pathPositions(canonicalPath) {
		if b.bits[pos/8]&(1<<(pos%8)) == 0 {
			return false
		}
	}
	return true
}

// Reset clears all bits. Nothing in the package calls it: the filter is
// never rebuilt, and removed paths keep their bits set.
func (b *bloom) Reset() {
	clear(b.bits)
}

// pathPositions returns BloomK bit positions for canonicalPath using
// double hashing over two independent xxh3 passes (the same double-hash
// trick the teacher's hash.go used xxh3.HashString for, here paired with
// a salted second pass in place of the teacher's separate fnv32a call).
func pathPositions(canonicalPath string) [BloomK]uint {
	a := xxh3.HashString(canonicalPath)
	b := xxh3.HashString(canonicalPath + "\x00bloom")

	nbits := uint(BloomSize * 8)
	var pos [BloomK]uint
	for i := range BloomK {
		pos[i] = (uint(a) + uint(i)*uint(b)) % nbits
	}
	return pos
}
