// Package amplitude implements a quantum-inspired sampler: a register of
// complex amplitudes kept at unit norm, phase encoding, Hadamard-style mixing,
// and fingerprint-seeded measurement.
package amplitude

import (
	"fmt"
	"math"
	"math/cmplx"
	"math/rand"

	"github.com/normanking/cortexmind/pkg/brain"
)

// Qubit bounds.
const (
	MinQubits = 1
	MaxQubits = 10

	// NormTolerance is the allowed drift of the squared norm from 1.
	NormTolerance = 1e-9
)

// Pair is an advisory entanglement record between two qubits.
type Pair struct {
	A int `json:"a"`
	B int `json:"b"`
}

// Register is a length-2^n vector of complex amplitudes with unit norm.
// It is not safe for concurrent use.
type Register struct {
	qubits int
	amps   []complex128
	pairs  []Pair
	seen   map[Pair]bool
}

// NewRegister creates an n-qubit register in the uniform state.
func NewRegister(n int) (*Register, error) {
	if n < MinQubits || n > MaxQubits {
		return nil, fmt.Errorf("%w: register needs %d..%d qubits, got %d", brain.ErrInvalidInput, MinQubits, MaxQubits, n)
	}
	r := &Register{qubits: n, amps: make([]complex128, 1<<n)}
	r.Reset()
	return r, nil
}

// Qubits returns n.
func (r *Register) Qubits() int { return r.qubits }

// Dim returns 2^n.
func (r *Register) Dim() int { return len(r.amps) }

// Reset returns to the uniform state 1/sqrt(D) and clears entanglement records.
func (r *Register) Reset() {
	a := complex(1/math.Sqrt(float64(len(r.amps))), 0)
	for i := range r.amps {
		r.amps[i] = a
	}
	r.pairs = nil
	r.seen = make(map[Pair]bool)
}

// Encode applies a phase exp(i*pi*v_k) on qubit k for each of the first n
// components of the L2-normalized input. A zero vector is a no-op.
func (r *Register) Encode(vec []float64) error {
	var norm float64
	for i, v := range vec {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: encode component %d is not finite", brain.ErrInvalidInput, i)
		}
		norm += v * v
	}
	if norm == 0 {
		return nil
	}
	norm = math.Sqrt(norm)

	k := r.qubits
	if len(vec) < k {
		k = len(vec)
	}
	phases := make([]complex128, k)
	for q := 0; q < k; q++ {
		phases[q] = cmplx.Exp(complex(0, math.Pi*vec[q]/norm))
	}

	for i := range r.amps {
		for q := 0; q < k; q++ {
			if i&(1<<q) != 0 {
				r.amps[i] *= phases[q]
			}
		}
	}
	return nil
}

// MixAll applies a Hadamard to every qubit: within each pair of indices that
// differ only in bit q, the partner with bit q set takes the difference.
func (r *Register) MixAll() {
	s := complex(1/math.Sqrt2, 0)
	for q := 0; q < r.qubits; q++ {
		bit := 1 << q
		for i := range r.amps {
			if i&bit != 0 {
				continue
			}
			a, b := r.amps[i], r.amps[i|bit]
			r.amps[i] = (a + b) * s
			r.amps[i|bit] = (a - b) * s
		}
	}
}

// Entangle records neighbor pairs (2i,2i+1) then (2i+1,2i+2) for each layer.
// Amplitudes are not modified.
func (r *Register) Entangle(layers int) {
	for l := 0; l < layers; l++ {
		for i := 0; 2*i+1 < r.qubits; i++ {
			r.addPair(Pair{A: 2 * i, B: 2*i + 1})
		}
		for i := 0; 2*i+2 < r.qubits; i++ {
			r.addPair(Pair{A: 2*i + 1, B: 2*i + 2})
		}
	}
}

func (r *Register) addPair(p Pair) {
	if r.seen[p] {
		return
	}
	r.seen[p] = true
	r.pairs = append(r.pairs, p)
}

// Pairs returns the recorded entanglement pairs in insertion order.
func (r *Register) Pairs() []Pair {
	return append([]Pair(nil), r.pairs...)
}

// Distribution returns |psi_i|^2 for every basis state.
func (r *Register) Distribution() []float64 {
	p := make([]float64, len(r.amps))
	for i, a := range r.amps {
		p[i] = real(a * cmplx.Conj(a))
	}
	return p
}

// Entropy returns the Shannon entropy of the distribution in bits.
func (r *Register) Entropy() float64 {
	return Entropy(r.Distribution())
}

// Measure samples a basis state and collapses the register onto it.
func (r *Register) Measure(rng *rand.Rand) int {
	p := r.Distribution()
	x := rng.Float64()

	idx := len(p) - 1
	var cum float64
	for i, v := range p {
		cum += v
		if x < cum {
			idx = i
			break
		}
	}

	for i := range r.amps {
		r.amps[i] = 0
	}
	r.amps[idx] = 1
	return idx
}

// Norm returns the squared norm.
func (r *Register) Norm() float64 {
	var s float64
	for _, v := range r.Distribution() {
		s += v
	}
	return s
}

// Validate reports an invariant breach when the squared norm drifted.
func (r *Register) Validate() error {
	if n := r.Norm(); math.Abs(n-1) >= NormTolerance {
		return fmt.Errorf("%w: register norm %v", brain.ErrInvariantBreach, n)
	}
	return nil
}

// Entropy returns -sum p log2 p with 0 log 0 = 0.
func Entropy(p []float64) float64 {
	var h float64
	for _, v := range p {
		if v > 0 {
			h -= v * math.Log2(v)
		}
	}
	return h
}
