package learner

import (
	"context"
	"fmt"

	"github.com/normanking/cortexmind/internal/fingerprint"
	"github.com/normanking/cortexmind/pkg/brain"
)

// Output is the learner's answer to a payload.
type Output struct {
	Prediction
	Encoded []float64 `json:"encoded"`
}

func (o *Output) String() string {
	return fmt.Sprintf("class %d", o.Class)
}

// Encode maps a payload onto the input layer. Numeric payloads are padded with
// zeros or truncated; text goes through its fingerprint.
func (n *Network) Encode(p brain.Payload) []float64 {
	vec, ok := p.Numeric()
	if !ok {
		vec = fingerprint.Of(p.Bytes()).Vector()
	}
	return resize(vec, n.InputSize())
}

// Process predicts on the encoded payload.
func (n *Network) Process(ctx context.Context, p brain.Payload) (*Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	x := n.Encode(p)
	pred, err := n.Predict(x)
	if err != nil {
		return nil, err
	}
	return &Output{Prediction: *pred, Encoded: x}, nil
}

// CheckPair reports ErrInvalidInput unless x and y match the input and output
// layer widths.
func (n *Network) CheckPair(x, y []float64) error {
	return n.checkPairs([][]float64{x}, [][]float64{y}, "training")
}

// Learn fits a single (x, y) pair for the given number of epochs. Shapes must
// match the input and output layers exactly.
func (n *Network) Learn(ctx context.Context, x, y []float64, epochs int, lr float64) (*FitReport, error) {
	return n.Fit(ctx, [][]float64{x}, [][]float64{y}, FitOptions{
		Epochs:       epochs,
		BatchSize:    1,
		LearningRate: lr,
	})
}

func resize(v []float64, n int) []float64 {
	out := make([]float64, n)
	copy(out, v)
	return out
}
