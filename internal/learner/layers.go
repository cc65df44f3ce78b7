// Package learner is a small feed-forward network: dense, activation, dropout
// and batch-norm layers trained by mini-batch SGD with momentum.
package learner

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/normanking/cortexmind/pkg/brain"
)

// Kind tags a layer type.
type Kind string

const (
	KindDense      Kind = "dense"
	KindActivation Kind = "activation"
	KindDropout    Kind = "dropout"
	KindBatchNorm  Kind = "batchnorm"
)

// ActivationKind selects an element-wise function.
type ActivationKind string

const (
	ReLU      ActivationKind = "relu"
	Sigmoid   ActivationKind = "sigmoid"
	Tanh      ActivationKind = "tanh"
	LeakyReLU ActivationKind = "leaky_relu"
	Softmax   ActivationKind = "softmax"
	Linear    ActivationKind = "linear"
)

// Layer constants.
const (
	Momentum          = 0.9
	LeakySlope        = 0.01
	BatchNormMomentum = 0.1
	BatchNormEpsilon  = 1e-5
)

// Valid reports whether k is a known activation.
func (k ActivationKind) Valid() bool {
	switch k {
	case ReLU, Sigmoid, Tanh, LeakyReLU, Softmax, Linear:
		return true
	}
	return false
}

// Layer is one stage of the network. Rows of x are batch samples.
// Backward receives dLoss/dOutput, updates any parameters with lr, and
// returns dLoss/dInput.
type Layer interface {
	Kind() Kind
	Forward(x [][]float64, train bool) [][]float64
	Backward(grad [][]float64, lr float64) [][]float64
}

// ═══════════════════════════════════════════════════════════════════════════════
// DENSE
// ═══════════════════════════════════════════════════════════════════════════════

// Dense computes y = x·W + b. W is stored row-major as W[in*Out+out].
type Dense struct {
	In, Out int
	W, B    []float64
	VW, VB  []float64

	input [][]float64
}

// NewDense creates a dense layer with Xavier-uniform weights and zero bias.
func NewDense(in, out int, rng *rand.Rand) *Dense {
	d := &Dense{
		In: in, Out: out,
		W:  make([]float64, in*out),
		B:  make([]float64, out),
		VW: make([]float64, in*out),
		VB: make([]float64, out),
	}
	limit := math.Sqrt(6 / float64(in+out))
	for i := range d.W {
		d.W[i] = (rng.Float64()*2 - 1) * limit
	}
	return d
}

func (d *Dense) Kind() Kind { return KindDense }

func (d *Dense) Forward(x [][]float64, train bool) [][]float64 {
	d.input = x
	y := make([][]float64, len(x))
	for r, row := range x {
		out := append([]float64(nil), d.B...)
		for i, v := range row {
			if v == 0 {
				continue
			}
			w := d.W[i*d.Out : (i+1)*d.Out]
			for j := range out {
				out[j] += v * w[j]
			}
		}
		y[r] = out
	}
	return y
}

// Backward applies classical momentum: v = μv - lr·g, p += v.
func (d *Dense) Backward(grad [][]float64, lr float64) [][]float64 {
	gw := make([]float64, len(d.W))
	gb := make([]float64, d.Out)
	dx := make([][]float64, len(grad))

	for r, g := range grad {
		x := d.input[r]
		dx[r] = make([]float64, d.In)
		for i := 0; i < d.In; i++ {
			w := d.W[i*d.Out : (i+1)*d.Out]
			var s float64
			for j, gj := range g {
				gw[i*d.Out+j] += x[i] * gj
				s += w[j] * gj
			}
			dx[r][i] = s
		}
		for j, gj := range g {
			gb[j] += gj
		}
	}

	for i := range d.W {
		d.VW[i] = Momentum*d.VW[i] - lr*gw[i]
		d.W[i] += d.VW[i]
	}
	for j := range d.B {
		d.VB[j] = Momentum*d.VB[j] - lr*gb[j]
		d.B[j] += d.VB[j]
	}
	return dx
}

// ═══════════════════════════════════════════════════════════════════════════════
// ACTIVATION
// ═══════════════════════════════════════════════════════════════════════════════

// Activation applies an element-wise function. Softmax backward treats the
// Jacobian as the identity, so gradients pass through unchanged.
type Activation struct {
	Fn ActivationKind

	input, output [][]float64
}

// NewActivation creates an activation layer.
func NewActivation(fn ActivationKind) *Activation {
	return &Activation{Fn: fn}
}

func (a *Activation) Kind() Kind { return KindActivation }

func (a *Activation) Forward(x [][]float64, train bool) [][]float64 {
	a.input = x
	y := make([][]float64, len(x))
	for r, row := range x {
		if a.Fn == Softmax {
			y[r] = softmax(row)
			continue
		}
		out := make([]float64, len(row))
		for i, v := range row {
			out[i] = a.apply(v)
		}
		y[r] = out
	}
	a.output = y
	return y
}

func (a *Activation) apply(v float64) float64 {
	switch a.Fn {
	case ReLU:
		return math.Max(0, v)
	case Sigmoid:
		return sigmoid(v)
	case Tanh:
		return math.Tanh(v)
	case LeakyReLU:
		if v > 0 {
			return v
		}
		return LeakySlope * v
	default:
		return v
	}
}

func (a *Activation) derivative(in, out float64) float64 {
	switch a.Fn {
	case ReLU:
		if in > 0 {
			return 1
		}
		return 0
	case Sigmoid:
		return out * (1 - out)
	case Tanh:
		return 1 - out*out
	case LeakyReLU:
		if in > 0 {
			return 1
		}
		return LeakySlope
	default:
		return 1
	}
}

func (a *Activation) Backward(grad [][]float64, lr float64) [][]float64 {
	dx := make([][]float64, len(grad))
	for r, g := range grad {
		dx[r] = make([]float64, len(g))
		for i, gi := range g {
			dx[r][i] = gi * a.derivative(a.input[r][i], a.output[r][i])
		}
	}
	return dx
}

func sigmoid(v float64) float64 {
	return 1 / (1 + math.Exp(-v))
}

func softmax(row []float64) []float64 {
	out := make([]float64, len(row))
	if len(row) == 0 {
		return out
	}
	hi := row[0]
	for _, v := range row[1:] {
		if v > hi {
			hi = v
		}
	}
	var sum float64
	for i, v := range row {
		out[i] = math.Exp(v - hi)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// ═══════════════════════════════════════════════════════════════════════════════
// DROPOUT
// ═══════════════════════════════════════════════════════════════════════════════

// Dropout zeroes inputs with probability Rate during training and scales the
// survivors by 1/(1-Rate). Inference is a pass-through.
type Dropout struct {
	Rate float64

	rng  *rand.Rand
	mask [][]float64
}

// NewDropout creates a dropout layer drawing masks from rng.
func NewDropout(rate float64, rng *rand.Rand) *Dropout {
	return &Dropout{Rate: rate, rng: rng}
}

func (d *Dropout) Kind() Kind { return KindDropout }

func (d *Dropout) Forward(x [][]float64, train bool) [][]float64 {
	if !train || d.Rate <= 0 {
		d.mask = nil
		return x
	}
	scale := 1 / (1 - d.Rate)
	d.mask = make([][]float64, len(x))
	y := make([][]float64, len(x))
	for r, row := range x {
		d.mask[r] = make([]float64, len(row))
		y[r] = make([]float64, len(row))
		for i, v := range row {
			if d.rng.Float64() >= d.Rate {
				d.mask[r][i] = scale
				y[r][i] = v * scale
			}
		}
	}
	return y
}

func (d *Dropout) Backward(grad [][]float64, lr float64) [][]float64 {
	if d.mask == nil {
		return grad
	}
	dx := make([][]float64, len(grad))
	for r, g := range grad {
		dx[r] = make([]float64, len(g))
		for i, gi := range g {
			dx[r][i] = gi * d.mask[r][i]
		}
	}
	return dx
}

// ═══════════════════════════════════════════════════════════════════════════════
// BATCH NORM
// ═══════════════════════════════════════════════════════════════════════════════

// BatchNorm normalizes each feature over the batch with a learnable gain and
// shift, keeping running statistics for inference.
type BatchNorm struct {
	D           int
	Gamma, Beta []float64
	RunMean     []float64
	RunVar      []float64

	xhat   [][]float64
	invStd []float64
}

// NewBatchNorm creates a batch-norm layer over d features.
func NewBatchNorm(d int) *BatchNorm {
	bn := &BatchNorm{
		D:       d,
		Gamma:   make([]float64, d),
		Beta:    make([]float64, d),
		RunMean: make([]float64, d),
		RunVar:  make([]float64, d),
	}
	for i := 0; i < d; i++ {
		bn.Gamma[i] = 1
		bn.RunVar[i] = 1
	}
	return bn
}

func (b *BatchNorm) Kind() Kind { return KindBatchNorm }

func (b *BatchNorm) Forward(x [][]float64, train bool) [][]float64 {
	n := float64(len(x))
	y := make([][]float64, len(x))
	for r := range y {
		y[r] = make([]float64, b.D)
	}

	if !train {
		b.xhat, b.invStd = nil, nil
		for r, row := range x {
			for i, v := range row {
				xh := (v - b.RunMean[i]) / math.Sqrt(b.RunVar[i]+BatchNormEpsilon)
				y[r][i] = b.Gamma[i]*xh + b.Beta[i]
			}
		}
		return y
	}

	b.xhat = make([][]float64, len(x))
	for r := range b.xhat {
		b.xhat[r] = make([]float64, b.D)
	}
	b.invStd = make([]float64, b.D)
	for i := 0; i < b.D; i++ {
		var mean, variance float64
		for _, row := range x {
			mean += row[i]
		}
		mean /= n
		for _, row := range x {
			d := row[i] - mean
			variance += d * d
		}
		variance /= n

		b.invStd[i] = 1 / math.Sqrt(variance+BatchNormEpsilon)
		for r, row := range x {
			b.xhat[r][i] = (row[i] - mean) * b.invStd[i]
			y[r][i] = b.Gamma[i]*b.xhat[r][i] + b.Beta[i]
		}

		b.RunMean[i] = (1-BatchNormMomentum)*b.RunMean[i] + BatchNormMomentum*mean
		b.RunVar[i] = (1-BatchNormMomentum)*b.RunVar[i] + BatchNormMomentum*variance
	}
	return y
}

// Backward uses the full batch-norm gradient:
// dx = invStd/N · (N·dxhat - Σdxhat - xhat·Σ(dxhat·xhat)).
func (b *BatchNorm) Backward(grad [][]float64, lr float64) [][]float64 {
	dx := make([][]float64, len(grad))
	for r := range dx {
		dx[r] = make([]float64, b.D)
	}
	if b.xhat == nil {
		for r, g := range grad {
			for i, gi := range g {
				dx[r][i] = gi * b.Gamma[i] / math.Sqrt(b.RunVar[i]+BatchNormEpsilon)
			}
		}
		return dx
	}

	n := float64(len(grad))
	for i := 0; i < b.D; i++ {
		var dGamma, dBeta, sumDx, sumDxXhat float64
		for r, g := range grad {
			dGamma += g[i] * b.xhat[r][i]
			dBeta += g[i]
			dxh := g[i] * b.Gamma[i]
			sumDx += dxh
			sumDxXhat += dxh * b.xhat[r][i]
		}
		for r, g := range grad {
			dxh := g[i] * b.Gamma[i]
			dx[r][i] = b.invStd[i] / n * (n*dxh - sumDx - b.xhat[r][i]*sumDxXhat)
		}
		b.Gamma[i] -= lr * dGamma
		b.Beta[i] -= lr * dBeta
	}
	return dx
}

func checkRows(x [][]float64, width int, what string) error {
	for r, row := range x {
		if len(row) != width {
			return fmt.Errorf("%w: %s row %d has width %d, want %d", brain.ErrInvalidInput, what, r, len(row), width)
		}
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: %s row %d is not finite", brain.ErrInvalidInput, what, r)
			}
		}
	}
	return nil
}
