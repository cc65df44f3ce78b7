// Package fingerprint derives reproducible numeric encodings of payloads and
// the random streams seeded from them.
package fingerprint

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Size is the number of components in a fingerprint.
const Size = 10

// DefaultCacheSize bounds the number of cached fingerprints.
const DefaultCacheSize = 512

// Fingerprint is a fixed-length encoding of a payload with values in [0,1].
// Equal payload bytes always give equal fingerprints.
type Fingerprint struct {
	Values [Size]float64
	digest uint64
}

// Of computes the fingerprint of data.
func Of(data []byte) Fingerprint {
	sum := sha256.Sum256(data)

	var fp Fingerprint
	for i := 0; i < Size; i++ {
		fp.Values[i] = float64(sum[i]) / 255.0
	}
	fp.digest = binary.BigEndian.Uint64(sum[Size : Size+8])
	return fp
}

// Vector returns the values as a fresh slice.
func (f Fingerprint) Vector() []float64 {
	out := make([]float64, Size)
	copy(out, f.Values[:])
	return out
}

// Digest returns a 64-bit summary used for seeding.
func (f Fingerprint) Digest() uint64 {
	return f.digest
}

// Cache memoizes fingerprints by payload bytes.
type Cache struct {
	lru *lru.Cache[string, Fingerprint]
}

// NewCache creates a cache holding at most size fingerprints.
func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, err := lru.New[string, Fingerprint](size)
	if err != nil {
		return nil, fmt.Errorf("create fingerprint cache: %w", err)
	}
	return &Cache{lru: c}, nil
}

// Of returns the cached fingerprint for data, computing it on a miss.
func (c *Cache) Of(data []byte) Fingerprint {
	key := string(data)
	if fp, ok := c.lru.Get(key); ok {
		return fp
	}
	fp := Of(data)
	c.lru.Add(key, fp)
	return fp
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	return c.lru.Len()
}
