// Package spiking implements a small stateful spiking network that turns an
// input fingerprint into a firing trace and per-region activity.
package spiking

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/rs/zerolog"

	"github.com/normanking/cortexmind/internal/fingerprint"
	"github.com/normanking/cortexmind/internal/logging"
	"github.com/normanking/cortexmind/pkg/brain"
)

// Region is one of the four contiguous neuron id ranges.
type Region string

const (
	RegionDecision Region = "decision"
	RegionMemory   Region = "memory"
	RegionEmotion  Region = "emotion"
	RegionMotor    Region = "motor"
)

// Regions returns the regions in id order.
func Regions() []Region {
	return []Region{RegionDecision, RegionMemory, RegionEmotion, RegionMotor}
}

// Topology and dynamics constants.
const (
	MinThreshold = 0.3
	MaxThreshold = 0.7
	MinOutEdges  = 5
	MaxOutEdges  = 20
	MinWeight    = -2.0
	MaxWeight    = 2.0
	Decay        = 0.9
	SignalGain   = 1.0

	MinInjection = 0.5
	MaxInjection = 1.5

	// Trace-mean boundaries for the decision tag.
	MediumTraceMean = 15
	HighTraceMean   = 30
)

// Edge is a weighted connection to another neuron.
type Edge struct {
	Target int
	Weight float64
}

// Neuron is a leaky threshold unit.
type Neuron struct {
	ID              int
	Threshold       float64
	Activation      float64
	OutEdges        []Edge
	RecentFireCount int
}

// Config configures the network.
type Config struct {
	NeuronCount  int
	LearningRate float64
	Ticks        int
}

// Network is the spiking processor. All methods are safe for concurrent use;
// calls are serialized.
type Network struct {
	mu      sync.Mutex
	cfg     Config
	neurons []*Neuron
	seeder  *fingerprint.Seeder
	prints  *fingerprint.Cache
	log     zerolog.Logger

	calls        int
	totalFirings int
}

// Option configures New.
type Option func(*Network)

// WithLogger sets the logger the network reports through.
func WithLogger(l *logging.Logger) Option {
	return func(n *Network) {
		if l != nil {
			n.log = l.WithComponent("spiking").Zerolog()
		}
	}
}

// New builds a network. Thresholds and edges are drawn from the seeder's
// topology stream, so equal seeds give equal networks.
func New(cfg Config, seeder *fingerprint.Seeder, prints *fingerprint.Cache, opts ...Option) (*Network, error) {
	if cfg.NeuronCount < len(Regions()) {
		return nil, fmt.Errorf("%w: need at least %d neurons, got %d", brain.ErrInvalidInput, len(Regions()), cfg.NeuronCount)
	}
	if cfg.Ticks <= 0 {
		cfg.Ticks = 10
	}
	if seeder == nil {
		seeder = fingerprint.NewSeeder(nil)
	}

	n := &Network{
		cfg:    cfg,
		seeder: seeder,
		prints: prints,
		log:    logging.Global().WithComponent("spiking").Zerolog(),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.build(seeder.Stream("spiking.topology"))
	return n, nil
}

func (n *Network) build(rng *rand.Rand) {
	count := n.cfg.NeuronCount
	n.neurons = make([]*Neuron, count)

	for i := 0; i < count; i++ {
		nr := &Neuron{
			ID:        i,
			Threshold: MinThreshold + rng.Float64()*(MaxThreshold-MinThreshold),
		}

		edges := MinOutEdges + rng.Intn(MaxOutEdges-MinOutEdges+1)
		if edges > count-1 {
			edges = count - 1
		}
		seen := make(map[int]bool, edges)
		for len(nr.OutEdges) < edges {
			target := rng.Intn(count)
			if target == i || seen[target] {
				continue
			}
			seen[target] = true
			nr.OutEdges = append(nr.OutEdges, Edge{Target: target, Weight: rng.Float64()*2 - 1})
		}
		n.neurons[i] = nr
	}
}

// RegionOf returns the region a neuron id belongs to.
func (n *Network) RegionOf(id int) Region {
	size := n.cfg.NeuronCount / len(Regions())
	idx := id / size
	if idx >= len(Regions()) {
		idx = len(Regions()) - 1
	}
	return Regions()[idx]
}

// Output is the result of one Process call.
type Output struct {
	FiringTrace      []int              `json:"firing_trace"`
	TotalActivations int                `json:"total_activations"`
	RegionActivity   map[Region]float64 `json:"region_activity"`
	DecisionTag      string             `json:"decision_tag"`
}

func (o *Output) String() string {
	return fmt.Sprintf("%s (%d activations)", o.DecisionTag, o.TotalActivations)
}

// Confidence is min(1, total_activations/100).
func (o *Output) Confidence() float64 {
	return math.Min(1, float64(o.TotalActivations)/100)
}

// Process injects the payload, runs the propagation ticks, and applies the
// learning rule once. Cancellation is checked between ticks and before the
// learning rule; a canceled call restores activations and fire counts and
// leaves weights untouched.
func (n *Network) Process(ctx context.Context, payload brain.Payload) (*Output, error) {
	if err := validatePayload(payload); err != nil {
		return nil, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	saved := n.snapshot()
	fp := n.fingerprint(payload)
	rng := n.seeder.ForInput("spiking.encode", fp)
	n.inject(rng)

	ticks := n.cfg.Ticks
	fired := make([]bool, len(n.neurons))
	trace := make([]int, ticks)
	regionSum := make(map[Region]float64, 4)
	for _, nr := range n.neurons {
		nr.RecentFireCount = 0
	}

	for t := 0; t < ticks; t++ {
		if err := ctx.Err(); err != nil {
			n.restore(saved)
			return nil, err
		}

		var firing []int
		for i, nr := range n.neurons {
			regionSum[n.RegionOf(i)] += nr.Activation
			if nr.Activation >= nr.Threshold {
				firing = append(firing, i)
				fired[i] = true
				nr.RecentFireCount++
				nr.Activation = 0
			} else {
				nr.Activation *= Decay
			}
		}
		for _, u := range firing {
			for _, e := range n.neurons[u].OutEdges {
				n.neurons[e.Target].Activation += e.Weight * SignalGain
			}
		}
		trace[t] = len(firing)
	}

	out := &Output{
		FiringTrace:    trace,
		RegionActivity: make(map[Region]float64, 4),
	}
	for _, c := range trace {
		out.TotalActivations += c
	}

	regionSize := float64(n.cfg.NeuronCount/len(Regions())) * float64(ticks)
	for _, r := range Regions() {
		out.RegionActivity[r] = regionSum[r] / regionSize
	}
	// The motor region absorbs the remainder of an uneven split.
	if rem := n.cfg.NeuronCount % len(Regions()); rem != 0 {
		size := float64(n.cfg.NeuronCount/len(Regions())+rem) * float64(ticks)
		out.RegionActivity[RegionMotor] = regionSum[RegionMotor] / size
	}

	mean := float64(out.TotalActivations) / float64(ticks)
	switch {
	case mean >= HighTraceMean:
		out.DecisionTag = "high"
	case mean >= MediumTraceMean:
		out.DecisionTag = "medium"
	default:
		out.DecisionTag = "low"
	}

	if err := ctx.Err(); err != nil {
		n.restore(saved)
		return nil, err
	}
	n.learn(fired)
	n.calls++
	n.totalFirings += out.TotalActivations

	if err := n.validate(); err != nil {
		return nil, err
	}

	n.log.Debug().
		Int("total", out.TotalActivations).
		Str("tag", out.DecisionTag).
		Msg("spiking: processed input")

	return out, nil
}

// activity is the per-call neuron state a canceled call rolls back.
type activity struct {
	activation float64
	fires      int
}

func (n *Network) snapshot() []activity {
	out := make([]activity, len(n.neurons))
	for i, nr := range n.neurons {
		out[i] = activity{activation: nr.Activation, fires: nr.RecentFireCount}
	}
	return out
}

func (n *Network) restore(saved []activity) {
	for i, a := range saved {
		n.neurons[i].Activation = a.activation
		n.neurons[i].RecentFireCount = a.fires
	}
}

func (n *Network) fingerprint(p brain.Payload) fingerprint.Fingerprint {
	if n.prints != nil {
		return n.prints.Of(p.Bytes())
	}
	return fingerprint.Of(p.Bytes())
}

// inject picks up to N/10 input neurons and sets their activation.
func (n *Network) inject(rng *rand.Rand) {
	draws := len(n.neurons) / 10
	if draws < 1 {
		draws = 1
	}
	for i := 0; i < draws; i++ {
		idx := rng.Intn(len(n.neurons))
		n.neurons[idx].Activation = MinInjection + rng.Float64()*(MaxInjection-MinInjection)
	}
}

// learn applies the Hebbian-like rule: co-firing strengthens an edge,
// firing alone weakens it by half a step.
func (n *Network) learn(fired []bool) {
	eta := n.cfg.LearningRate
	for u, nr := range n.neurons {
		if !fired[u] {
			continue
		}
		for k := range nr.OutEdges {
			e := &nr.OutEdges[k]
			if fired[e.Target] {
				e.Weight = clip(e.Weight+eta, MinWeight, MaxWeight)
			} else {
				e.Weight = clip(e.Weight-eta/2, MinWeight, MaxWeight)
			}
		}
	}
}

func (n *Network) validate() error {
	for _, nr := range n.neurons {
		for _, e := range nr.OutEdges {
			if e.Weight < MinWeight || e.Weight > MaxWeight || math.IsNaN(e.Weight) {
				return fmt.Errorf("%w: neuron %d edge to %d has weight %v", brain.ErrInvariantBreach, nr.ID, e.Target, e.Weight)
			}
		}
	}
	return nil
}

func validatePayload(p brain.Payload) error {
	if !p.IsVector() {
		return nil
	}
	vec, _ := p.Numeric()
	for i, v := range vec {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: component %d is not finite", brain.ErrInvalidInput, i)
		}
	}
	return nil
}

// Reset zeroes all activations and fire counts. Weights are kept.
func (n *Network) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, nr := range n.neurons {
		nr.Activation = 0
		nr.RecentFireCount = 0
	}
}

// Stats summarizes the network.
type Stats struct {
	Neurons      int     `json:"neurons"`
	Edges        int     `json:"edges"`
	Calls        int     `json:"calls"`
	TotalFirings int     `json:"total_firings"`
	MinWeight    float64 `json:"min_weight"`
	MaxWeight    float64 `json:"max_weight"`
}

// Stats returns a snapshot of network statistics.
func (n *Network) Stats() Stats {
	n.mu.Lock()
	defer n.mu.Unlock()

	s := Stats{
		Neurons:      len(n.neurons),
		Calls:        n.calls,
		TotalFirings: n.totalFirings,
		MinWeight:    math.Inf(1),
		MaxWeight:    math.Inf(-1),
	}
	for _, nr := range n.neurons {
		s.Edges += len(nr.OutEdges)
		for _, e := range nr.OutEdges {
			s.MinWeight = math.Min(s.MinWeight, e.Weight)
			s.MaxWeight = math.Max(s.MaxWeight, e.Weight)
		}
	}
	return s
}

// Neuron returns a copy of neuron id.
func (n *Network) Neuron(id int) (Neuron, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if id < 0 || id >= len(n.neurons) {
		return Neuron{}, false
	}
	cp := *n.neurons[id]
	cp.OutEdges = append([]Edge(nil), cp.OutEdges...)
	return cp, true
}

func clip(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
