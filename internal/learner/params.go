package learner

import (
	"fmt"

	"github.com/normanking/cortexmind/pkg/brain"
)

// LayerSpec describes one layer in a parameter snapshot.
type LayerSpec struct {
	Kind       Kind           `json:"kind" yaml:"kind"`
	Activation ActivationKind `json:"activation,omitempty" yaml:"activation,omitempty"`
	Rate       float64        `json:"rate,omitempty" yaml:"rate,omitempty"`
	In         int            `json:"in,omitempty" yaml:"in,omitempty"`
	Out        int            `json:"out,omitempty" yaml:"out,omitempty"`
}

// Tensor is a named flat parameter array owned by one layer.
type Tensor struct {
	Layer int       `json:"layer"`
	Name  string    `json:"name"`
	Data  []float64 `json:"data"`
}

// Params is a self-contained snapshot: architecture descriptor plus every
// parameter tensor in layer order.
type Params struct {
	Architecture  []int          `json:"architecture"`
	Hidden        ActivationKind `json:"hidden_activation"`
	Layers        []LayerSpec    `json:"layers"`
	Tensors       []Tensor       `json:"tensors"`
	EpochsTrained int            `json:"epochs_trained"`
}

// Params returns a deep copy of the network's parameters.
func (n *Network) Params() Params {
	n.mu.Lock()
	defer n.mu.Unlock()

	p := Params{
		Architecture:  append([]int(nil), n.arch...),
		Hidden:        n.hidden,
		Tensors:       n.tensors(),
		EpochsTrained: n.epochsTrained,
	}
	for _, l := range n.layers {
		spec := LayerSpec{Kind: l.Kind()}
		switch v := l.(type) {
		case *Dense:
			spec.In, spec.Out = v.In, v.Out
		case *Activation:
			spec.Activation = v.Fn
		case *Dropout:
			spec.Rate = v.Rate
		case *BatchNorm:
			spec.In, spec.Out = v.D, v.D
		}
		p.Layers = append(p.Layers, spec)
	}
	return p
}

func (n *Network) tensors() []Tensor {
	var out []Tensor
	add := func(layer int, name string, data []float64) {
		out = append(out, Tensor{Layer: layer, Name: name, Data: append([]float64(nil), data...)})
	}
	for i, l := range n.layers {
		switch v := l.(type) {
		case *Dense:
			add(i, "weight", v.W)
			add(i, "bias", v.B)
			add(i, "weight_velocity", v.VW)
			add(i, "bias_velocity", v.VB)
		case *BatchNorm:
			add(i, "gamma", v.Gamma)
			add(i, "beta", v.Beta)
			add(i, "running_mean", v.RunMean)
			add(i, "running_var", v.RunVar)
		}
	}
	return out
}

func (n *Network) loadTensors(tensors []Tensor) error {
	targets := make(map[string][]float64)
	for i, l := range n.layers {
		switch v := l.(type) {
		case *Dense:
			targets[tensorKey(i, "weight")] = v.W
			targets[tensorKey(i, "bias")] = v.B
			targets[tensorKey(i, "weight_velocity")] = v.VW
			targets[tensorKey(i, "bias_velocity")] = v.VB
		case *BatchNorm:
			targets[tensorKey(i, "gamma")] = v.Gamma
			targets[tensorKey(i, "beta")] = v.Beta
			targets[tensorKey(i, "running_mean")] = v.RunMean
			targets[tensorKey(i, "running_var")] = v.RunVar
		}
	}
	if len(tensors) != len(targets) {
		return fmt.Errorf("%w: snapshot has %d tensors, network has %d", brain.ErrInvalidInput, len(tensors), len(targets))
	}
	for _, t := range tensors {
		dst, ok := targets[tensorKey(t.Layer, t.Name)]
		if !ok {
			return fmt.Errorf("%w: unexpected tensor %s", brain.ErrInvalidInput, tensorKey(t.Layer, t.Name))
		}
		if len(dst) != len(t.Data) {
			return fmt.Errorf("%w: tensor %s has %d values, want %d", brain.ErrInvalidInput, tensorKey(t.Layer, t.Name), len(t.Data), len(dst))
		}
	}
	for _, t := range tensors {
		copy(targets[tensorKey(t.Layer, t.Name)], t.Data)
	}
	return nil
}

func tensorKey(layer int, name string) string {
	return fmt.Sprintf("%d/%s", layer, name)
}

// FromParams rebuilds a network from a snapshot. The layer list in p is
// authoritative, so custom stacks such as batch-norm round-trip.
func FromParams(p Params, opts ...Option) (*Network, error) {
	if err := validateArch(p.Architecture, p.Hidden); err != nil {
		return nil, err
	}
	o := buildOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	n := newNetwork(p.Architecture, p.Hidden, o)
	width := p.Architecture[0]
	for i, spec := range p.Layers {
		switch spec.Kind {
		case KindDense:
			if spec.In != width || spec.Out <= 0 {
				return nil, fmt.Errorf("%w: layer %d dense %dx%d after width %d", brain.ErrInvalidInput, i, spec.In, spec.Out, width)
			}
			n.layers = append(n.layers, &Dense{
				In: spec.In, Out: spec.Out,
				W:  make([]float64, spec.In*spec.Out),
				B:  make([]float64, spec.Out),
				VW: make([]float64, spec.In*spec.Out),
				VB: make([]float64, spec.Out),
			})
			width = spec.Out
		case KindActivation:
			if !spec.Activation.Valid() {
				return nil, fmt.Errorf("%w: layer %d unknown activation %q", brain.ErrInvalidInput, i, spec.Activation)
			}
			n.layers = append(n.layers, NewActivation(spec.Activation))
		case KindDropout:
			if spec.Rate < 0 || spec.Rate >= 1 {
				return nil, fmt.Errorf("%w: layer %d dropout rate %v", brain.ErrInvalidInput, i, spec.Rate)
			}
			n.layers = append(n.layers, NewDropout(spec.Rate, n.dropoutRNG))
		case KindBatchNorm:
			n.layers = append(n.layers, NewBatchNorm(width))
		default:
			return nil, fmt.Errorf("%w: layer %d unknown kind %q", brain.ErrInvalidInput, i, spec.Kind)
		}
	}
	if width != n.OutputSize() {
		return nil, fmt.Errorf("%w: layers end at width %d, architecture at %d", brain.ErrInvalidInput, width, n.OutputSize())
	}
	if err := n.loadTensors(p.Tensors); err != nil {
		return nil, err
	}
	n.epochsTrained = p.EpochsTrained
	return n, nil
}
