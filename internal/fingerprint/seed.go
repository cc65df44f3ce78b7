package fingerprint

import (
	"hash/fnv"
	"math/rand"
	"sync"
	"time"
)

// Seeder hands out random streams derived from one optional global seed.
//
// Input streams (ForInput) are always a pure function of the stream name and
// the fingerprint, mixed with the global seed when one is configured. Call
// streams (Stream) are deterministic only when a global seed is configured;
// otherwise they are seeded from the clock.
type Seeder struct {
	seed   int64
	seeded bool

	mu     sync.Mutex
	unique uint64
}

// NewSeeder creates a Seeder. A nil seed means no global seed.
func NewSeeder(seed *int64) *Seeder {
	s := &Seeder{}
	if seed != nil {
		s.seed = *seed
		s.seeded = true
	}
	return s
}

// Seeded reports whether a global seed is configured.
func (s *Seeder) Seeded() bool {
	return s.seeded
}

// ForInput returns a stream seeded from the stream name and fingerprint.
func (s *Seeder) ForInput(stream string, fp Fingerprint) *rand.Rand {
	v := nameHash(stream) ^ fp.Digest()
	if s.seeded {
		v ^= uint64(s.seed)
	}
	return rand.New(rand.NewSource(int64(mix(v))))
}

// Stream returns a per-call stream for the given name.
func (s *Seeder) Stream(stream string) *rand.Rand {
	v := nameHash(stream)
	if s.seeded {
		v ^= uint64(s.seed)
	} else {
		s.mu.Lock()
		s.unique++
		v ^= uint64(time.Now().UnixNano()) + s.unique
		s.mu.Unlock()
	}
	return rand.New(rand.NewSource(int64(mix(v))))
}

func nameHash(name string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return h.Sum64()
}

// mix is the splitmix64 finalizer.
func mix(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}
