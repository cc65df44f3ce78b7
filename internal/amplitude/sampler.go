package amplitude

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/normanking/cortexmind/internal/fingerprint"
	"github.com/normanking/cortexmind/internal/logging"
	"github.com/normanking/cortexmind/pkg/brain"
)

// FeatureSize is the length of an option feature vector.
const FeatureSize = fingerprint.Size

// EntangleLayers is the number of entangle layers applied per sample.
const EntangleLayers = 1

// OptionSeparator splits a text payload into alternatives for Choose.
const OptionSeparator = "|"

// Option is an ordered list of field values. Numbers pass through, booleans
// map to 0/1, strings map to their length.
type Option []any

// Features converts an option to a vector of FeatureSize values.
func (o Option) Features() ([]float64, error) {
	vec := make([]float64, FeatureSize)
	for i, field := range o {
		if i >= FeatureSize {
			break
		}
		switch v := field.(type) {
		case float64:
			vec[i] = v
		case float32:
			vec[i] = float64(v)
		case int:
			vec[i] = float64(v)
		case int64:
			vec[i] = float64(v)
		case bool:
			if v {
				vec[i] = 1
			}
		case string:
			vec[i] = float64(len(v))
		default:
			return nil, fmt.Errorf("%w: unsupported option field %T", brain.ErrInvalidInput, field)
		}
	}
	return vec, nil
}

// Output is the result of one Process call.
type Output struct {
	Qubits       int       `json:"qubits"`
	Sample       int       `json:"sample"`
	Probability  float64   `json:"probability"`
	Entropy      float64   `json:"entropy"`
	Distribution []float64 `json:"distribution"`
	Pairs        []Pair    `json:"entangled_pairs"`

	// Set when the payload listed alternatives.
	Choice      int       `json:"choice"`
	ChoiceLabel string    `json:"choice_label,omitempty"`
	Scores      []float64 `json:"scores,omitempty"`
}

func (o *Output) String() string {
	if o.ChoiceLabel != "" {
		return fmt.Sprintf("choice: %s", o.ChoiceLabel)
	}
	return fmt.Sprintf("sample %0*b", o.Qubits, o.Sample)
}

// Confidence is 1 - entropy/n clipped to [0,1].
func (o *Output) Confidence() float64 {
	return brain.Clamp01(1 - o.Entropy/float64(o.Qubits))
}

// Sampler owns one register and serializes access to it.
type Sampler struct {
	mu     sync.Mutex
	qubits int
	reg    *Register
	seeder *fingerprint.Seeder
	prints *fingerprint.Cache
	log    zerolog.Logger

	calls int
}

// SamplerOption configures NewSampler.
type SamplerOption func(*Sampler)

// WithLogger sets the logger the sampler reports through.
func WithLogger(l *logging.Logger) SamplerOption {
	return func(s *Sampler) {
		if l != nil {
			s.log = l.WithComponent("amplitude").Zerolog()
		}
	}
}

// NewSampler creates a sampler over an n-qubit register.
func NewSampler(qubits int, seeder *fingerprint.Seeder, prints *fingerprint.Cache, opts ...SamplerOption) (*Sampler, error) {
	reg, err := NewRegister(qubits)
	if err != nil {
		return nil, err
	}
	if seeder == nil {
		seeder = fingerprint.NewSeeder(nil)
	}
	s := &Sampler{
		qubits: qubits,
		reg:    reg,
		seeder: seeder,
		prints: prints,
		log:    logging.Global().WithComponent("amplitude").Zerolog(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Qubits returns the register width.
func (s *Sampler) Qubits() int { return s.qubits }

// Calls returns the number of completed Process calls.
func (s *Sampler) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Reset returns the register to the uniform state.
func (s *Sampler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reg.Reset()
}

// Distribution returns the current register probabilities.
func (s *Sampler) Distribution() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reg.Distribution()
}

// Process encodes the payload, mixes, entangles, and measures. Numeric
// payloads are encoded directly; anything else goes through its fingerprint.
// Text listing alternatives separated by "|" also runs Choose over them.
//
// The work happens on a fresh register that replaces the sampler's only if
// ctx is still live, so a canceled call leaves the sampler as it was.
func (s *Sampler) Process(ctx context.Context, payload brain.Payload) (*Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fp := s.fingerprint(payload.Bytes())
	vec, ok := payload.Numeric()
	if !ok {
		vec = fp.Vector()
	}

	reg, err := NewRegister(s.qubits)
	if err != nil {
		return nil, err
	}
	if err := reg.Encode(vec); err != nil {
		return nil, err
	}
	reg.MixAll()
	reg.Entangle(EntangleLayers)

	dist := reg.Distribution()
	out := &Output{
		Qubits:       reg.Qubits(),
		Entropy:      Entropy(dist),
		Distribution: dist,
		Pairs:        reg.Pairs(),
		Choice:       -1,
	}
	if err := reg.Validate(); err != nil {
		return nil, err
	}

	out.Sample = reg.Measure(s.seeder.ForInput("amplitude.measure", fp))
	out.Probability = dist[out.Sample]

	if labels := alternatives(payload); len(labels) > 1 {
		opts := make([]Option, len(labels))
		for i, l := range labels {
			opts[i] = s.labelOption(l)
		}
		idx, scores, err := Choose(s.qubits, opts)
		if err != nil {
			return nil, err
		}
		out.Choice, out.Scores = idx, scores
		out.ChoiceLabel = labels[idx]
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.reg = reg
	s.calls++

	s.log.Debug().
		Int("sample", out.Sample).
		Float64("entropy", out.Entropy).
		Int("choice", out.Choice).
		Msg("amplitude: sampled register")

	return out, nil
}

// Choose scores each option as 1 - entropy/n after encode, mix and entangle,
// and returns the argmax (lowest index on ties). No options yields -1.
func Choose(qubits int, options []Option) (int, []float64, error) {
	if len(options) == 0 {
		return -1, nil, nil
	}
	reg, err := NewRegister(qubits)
	if err != nil {
		return -1, nil, err
	}

	best, bestScore := -1, math.Inf(-1)
	scores := make([]float64, len(options))
	for i, opt := range options {
		vec, err := opt.Features()
		if err != nil {
			return -1, nil, fmt.Errorf("option %d: %w", i, err)
		}
		reg.Reset()
		if err := reg.Encode(vec); err != nil {
			return -1, nil, fmt.Errorf("option %d: %w", i, err)
		}
		reg.MixAll()
		reg.Entangle(EntangleLayers)

		scores[i] = brain.Clamp01(1 - reg.Entropy()/float64(qubits))
		if scores[i] > bestScore {
			best, bestScore = i, scores[i]
		}
	}
	return best, scores, nil
}

// labelOption describes a text alternative by its label followed by the
// leading fingerprint components.
func (s *Sampler) labelOption(label string) Option {
	fp := s.fingerprint([]byte(label)).Vector()
	opt := Option{label}
	for _, v := range fp[:FeatureSize-1] {
		opt = append(opt, v)
	}
	return opt
}

func (s *Sampler) fingerprint(b []byte) fingerprint.Fingerprint {
	if s.prints != nil {
		return s.prints.Of(b)
	}
	return fingerprint.Of(b)
}

func alternatives(p brain.Payload) []string {
	if p.IsVector() || !strings.Contains(p.String(), OptionSeparator) {
		return nil
	}
	var labels []string
	for _, part := range strings.Split(p.String(), OptionSeparator) {
		if part = strings.TrimSpace(part); part != "" {
			labels = append(labels, part)
		}
	}
	return labels
}
