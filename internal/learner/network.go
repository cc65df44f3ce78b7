package learner

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

// DropoutRate is inserted after every hidden activation except the first.
const DropoutRate = 0.3

// Option configures Build.
type Option func(*buildOptions)

type buildOptions struct {
	seeder    *fingerprint.Seeder
	batchNorm bool
	logger    *logging.Logger
}

// WithSeeder derives weight init, dropout and shuffle streams from s.
func WithSeeder(s *fingerprint.Seeder) Option {
	return func(o *buildOptions) { o.seeder = s }
}

// WithLogger sets the logger training reports go to.
func WithLogger(l *logging.Logger) Option {
	return func(o *buildOptions) { o.logger = l }
}

// WithBatchNorm inserts a BatchNorm layer after each hidden Dense layer.
func WithBatchNorm() Option {
	return func(o *buildOptions) { o.batchNorm = true }
}

// Network is a sequence of layers. Fit and Predict serialize on an internal
// mutex.
type Network struct {
	mu sync.Mutex

	arch   []int
	hidden ActivationKind
	layers []Layer

	dropoutRNG *rand.Rand
	shuffleRNG *rand.Rand

	epochsTrained int
	log           zerolog.Logger
}

// Build constructs Dense(n[i-1], n[i]) + Activation(hidden) for each hidden
// layer, Dropout after every hidden activation but the first, and a final
// Dense followed by a sigmoid.
func Build(arch []int, hidden ActivationKind, opts ...Option) (*Network, error) {
	if err := validateArch(arch, hidden); err != nil {
		return nil, err
	}
	o := buildOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	n := newNetwork(arch, hidden, o)
	initRNG := streamFor(o.seeder, "learner.init")
	last := len(arch) - 1
	for i := 1; i <= last; i++ {
		n.layers = append(n.layers, NewDense(arch[i-1], arch[i], initRNG))
		if i == last {
			break
		}
		if o.batchNorm {
			n.layers = append(n.layers, NewBatchNorm(arch[i]))
		}
		n.layers = append(n.layers, NewActivation(hidden))
		if i > 1 {
			n.layers = append(n.layers, NewDropout(DropoutRate, n.dropoutRNG))
		}
	}
	n.layers = append(n.layers, NewActivation(Sigmoid))
	return n, nil
}

func newNetwork(arch []int, hidden ActivationKind, o buildOptions) *Network {
	logger := o.logger
	if logger == nil {
		logger = logging.Global()
	}
	return &Network{
		arch:       append([]int(nil), arch...),
		hidden:     hidden,
		dropoutRNG: streamFor(o.seeder, "learner.dropout"),
		shuffleRNG: streamFor(o.seeder, "learner.shuffle"),
		log:        logger.WithComponent("learner").Zerolog(),
	}
}

func streamFor(s *fingerprint.Seeder, name string) *rand.Rand {
	if s == nil {
		s = fingerprint.NewSeeder(nil)
	}
	return s.Stream(name)
}

func validateArch(arch []int, hidden ActivationKind) error {
	if len(arch) < 2 {
		return fmt.Errorf("%w: architecture needs at least 2 sizes, got %v", brain.ErrInvalidInput, arch)
	}
	for _, w := range arch {
		if w <= 0 {
			return fmt.Errorf("%w: architecture sizes must be positive, got %v", brain.ErrInvalidInput, arch)
		}
	}
	if !hidden.Valid() {
		return fmt.Errorf("%w: unknown activation %q", brain.ErrInvalidInput, hidden)
	}
	return nil
}

// Architecture returns the layer widths.
func (n *Network) Architecture() []int { return append([]int(nil), n.arch...) }

// InputSize returns the first layer width.
func (n *Network) InputSize() int { return n.arch[0] }

// OutputSize returns the last layer width.
func (n *Network) OutputSize() int { return n.arch[len(n.arch)-1] }

// Hidden returns the hidden activation kind.
func (n *Network) Hidden() ActivationKind { return n.hidden }

// Kinds lists the layer kinds in order.
func (n *Network) Kinds() []Kind {
	kinds := make([]Kind, len(n.layers))
	for i, l := range n.layers {
		kinds[i] = l.Kind()
	}
	return kinds
}

// EpochsTrained returns the number of completed training epochs.
func (n *Network) EpochsTrained() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.epochsTrained
}

func (n *Network) forward(x [][]float64, train bool) [][]float64 {
	for _, l := range n.layers {
		x = l.Forward(x, train)
	}
	return x
}

func (n *Network) backward(grad [][]float64, lr float64) {
	for i := len(n.layers) - 1; i >= 0; i-- {
		grad = n.layers[i].Backward(grad, lr)
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// PREDICT
// ═══════════════════════════════════════════════════════════════════════════════

// Prediction is an inference result.
type Prediction struct {
	Output     []float64 `json:"output"`
	Class      int       `json:"class"`
	Confidence float64   `json:"confidence"`
}

// Predict runs one sample with dropout and batch-norm in inference mode.
func (n *Network) Predict(x []float64) (*Prediction, error) {
	if err := checkRows([][]float64{x}, n.InputSize(), "input"); err != nil {
		return nil, err
	}

	n.mu.Lock()
	out := n.forward([][]float64{x}, false)[0]
	n.mu.Unlock()

	p := &Prediction{Output: out, Confidence: OutputConfidence(out)}
	for i, v := range out {
		if v > out[p.Class] {
			p.Class = i
		}
	}
	return p, nil
}

// OutputConfidence is 1 - H(p)/log|p| where p is the L1-normalized absolute
// output. A single output is fully confident; an all-zero output reports the
// default confidence.
func OutputConfidence(out []float64) float64 {
	if len(out) <= 1 {
		return 1
	}
	var sum float64
	for _, v := range out {
		sum += math.Abs(v)
	}
	if sum == 0 {
		return brain.DefaultConfidence
	}
	var h float64
	for _, v := range out {
		if p := math.Abs(v) / sum; p > 0 {
			h -= p * math.Log(p)
		}
	}
	return brain.Clamp01(1 - h/math.Log(float64(len(out))))
}

// ═══════════════════════════════════════════════════════════════════════════════
// FIT
// ═══════════════════════════════════════════════════════════════════════════════

// FitOptions controls training. Validation data enables early stopping.
type FitOptions struct {
	Epochs       int
	BatchSize    int
	LearningRate float64

	ValX, ValY [][]float64
	Patience   int
}

// FitReport summarizes one Fit call.
type FitReport struct {
	Epochs    int       `json:"epochs"`
	Loss      []float64 `json:"loss"`
	ValLoss   []float64 `json:"val_loss,omitempty"`
	BestEpoch int       `json:"best_epoch"`
	Stopped   bool      `json:"stopped_early"`
}

// Fit runs mini-batch SGD on mean squared error with a fresh permutation each
// epoch. With validation data, training stops after Patience epochs without
// improvement and the best parameters are restored.
func (n *Network) Fit(ctx context.Context, x, y [][]float64, opts FitOptions) (*FitReport, error) {
	if err := n.checkPairs(x, y, "training"); err != nil {
		return nil, err
	}
	validate := len(opts.ValX) > 0 || len(opts.ValY) > 0
	if validate {
		if err := n.checkPairs(opts.ValX, opts.ValY, "validation"); err != nil {
			return nil, err
		}
	}
	if opts.Epochs <= 0 {
		return nil, fmt.Errorf("%w: epochs must be positive", brain.ErrInvalidInput)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = len(x)
	}
	if opts.LearningRate <= 0 {
		opts.LearningRate = 0.01
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	report := &FitReport{BestEpoch: -1}
	bestLoss := math.Inf(1)
	var best []Tensor
	wait := 0

	for epoch := 0; epoch < opts.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		perm := n.shuffleRNG.Perm(len(x))
		var epochLoss float64
		for start := 0; start < len(perm); start += opts.BatchSize {
			end := start + opts.BatchSize
			if end > len(perm) {
				end = len(perm)
			}
			bx := make([][]float64, 0, end-start)
			by := make([][]float64, 0, end-start)
			for _, idx := range perm[start:end] {
				bx = append(bx, x[idx])
				by = append(by, y[idx])
			}

			pred := n.forward(bx, true)
			loss, grad := mse(pred, by)
			n.backward(grad, opts.LearningRate)
			epochLoss += loss * float64(len(bx))
		}
		epochLoss /= float64(len(x))
		report.Loss = append(report.Loss, epochLoss)
		report.Epochs++
		n.epochsTrained++

		if !validate {
			continue
		}
		valLoss, _ := mse(n.forward(opts.ValX, false), opts.ValY)
		report.ValLoss = append(report.ValLoss, valLoss)
		if valLoss < bestLoss {
			bestLoss, report.BestEpoch, wait = valLoss, epoch, 0
			best = n.tensors()
			continue
		}
		wait++
		if opts.Patience > 0 && wait >= opts.Patience {
			report.Stopped = true
			break
		}
	}

	if best != nil {
		if err := n.loadTensors(best); err != nil {
			return report, err
		}
	}

	n.log.Debug().
		Int("epochs", report.Epochs).
		Float64("loss", report.Loss[len(report.Loss)-1]).
		Bool("stopped_early", report.Stopped).
		Msg("learner: fit complete")

	return report, nil
}

func (n *Network) checkPairs(x, y [][]float64, what string) error {
	if len(x) == 0 {
		return fmt.Errorf("%w: %s set is empty", brain.ErrInvalidInput, what)
	}
	if len(x) != len(y) {
		return fmt.Errorf("%w: %s has %d inputs and %d targets", brain.ErrInvalidInput, what, len(x), len(y))
	}
	if err := checkRows(x, n.InputSize(), what+" input"); err != nil {
		return err
	}
	return checkRows(y, n.OutputSize(), what+" target")
}

// mse returns the mean squared error and its gradient with respect to pred.
func mse(pred, target [][]float64) (float64, [][]float64) {
	var count int
	for _, row := range pred {
		count += len(row)
	}
	grad := make([][]float64, len(pred))
	var loss float64
	for r, row := range pred {
		grad[r] = make([]float64, len(row))
		for i, v := range row {
			d := v - target[r][i]
			loss += d * d
			grad[r][i] = 2 * d / float64(count)
		}
	}
	return loss / float64(count), grad
}
