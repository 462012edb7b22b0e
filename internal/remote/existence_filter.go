package remote

import (
	"encoding/binary"
	"fmt"

	"github.com/zeebo/blake3"
)

// BloomFilter is the server-provided membership digest attached to an
// existence filter. It answers "possibly present" or "definitely absent"
// for document names, letting the client purge deleted documents from a
// target without a full re-query.
type BloomFilter struct {
	bits      []byte
	bitCount  int
	hashCount int
}

func NewBloomFilter(bits []byte, padding, hashCount int) (*BloomFilter, error) {
	if padding < 0 || padding > 7 {
		return nil, fmt.Errorf("invalid padding %d", padding)
	}
	if hashCount < 0 {
		return nil, fmt.Errorf("invalid hash count %d", hashCount)
	}
	bitCount := len(bits)*8 - padding
	if bitCount < 0 {
		return nil, fmt.Errorf("padding %d exceeds bitmap size", padding)
	}
	if len(bits) > 0 && hashCount == 0 {
		return nil, fmt.Errorf("hash count is 0 for non-empty bitmap")
	}
	return &BloomFilter{bits: bits, bitCount: bitCount, hashCount: hashCount}, nil
}

// MightContain reports whether value may be in the set. False means the
// value is definitely not present.
func (f *BloomFilter) MightContain(value string) bool {
	if f.bitCount == 0 {
		return false
	}
	h1, h2 := hashValue(value)
	for i := 0; i < f.hashCount; i++ {
		if !f.isBitSet(f.indexFor(h1, h2, uint64(i))) {
			return false
		}
	}
	return true
}

// hashValue derives the two 64-bit halves used for double hashing.
func hashValue(value string) (uint64, uint64) {
	sum := blake3.Sum256([]byte(value))
	return binary.LittleEndian.Uint64(sum[0:8]), binary.LittleEndian.Uint64(sum[8:16])
}

func (f *BloomFilter) indexFor(h1, h2, i uint64) int {
	return int((h1 + i*h2) % uint64(f.bitCount))
}

func (f *BloomFilter) isBitSet(index int) bool {
	return f.bits[index/8]&(1<<(index%8)) != 0
}
