package inference

import (
	"errors"
	"fmt"

	"github.com/echoguard/echoguard/scorer/internal/window"
)

// ErrShapeMismatch is returned when a batch does not fit the model's declared
// input or the model's output does not have the input's shape.
var ErrShapeMismatch = errors.New("inference: shape mismatch")

// IOInfo describes one declared model input or output.
type IOInfo struct {
	Name string
	// Dims as declared by the model. Values <= 0 mark dynamic axes.
	Dims []int64
}

// Tensor is a dense float32 tensor in row-major order.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// Model is a loaded reconstruction model.
type Model interface {
	Inputs() []IOInfo
	Outputs() []IOInfo
	// Run feeds in to the named input and returns the named output.
	Run(input, output string, in Tensor) (Tensor, error)
	Close() error
}

// Infer runs one forward pass of m over b and returns the reconstruction as a
// batch with b's geometry.
func Infer(m Model, b *window.Batch) (*window.Batch, error) {
	ins, outs := m.Inputs(), m.Outputs()
	if len(ins) == 0 || len(outs) == 0 {
		return nil, fmt.Errorf("inference: model declares %d inputs and %d outputs", len(ins), len(outs))
	}
	in, out := ins[0], outs[0]

	shape := b.Shape()
	if err := checkDims(in.Dims, shape); err != nil {
		return nil, err
	}

	res, err := m.Run(in.Name, out.Name, Tensor{Shape: shape, Data: b.Data})
	if err != nil {
		return nil, fmt.Errorf("inference: run %s -> %s: %w", in.Name, out.Name, err)
	}
	if !equalShape(res.Shape, shape) || len(res.Data) != len(b.Data) {
		return nil, fmt.Errorf("%w: output %v (%d values), input %v", ErrShapeMismatch, res.Shape, len(res.Data), shape)
	}

	return &window.Batch{N: b.N, Features: b.Features, Width: b.Width, Data: res.Data}, nil
}

// checkDims compares every axis but the first. A model with no declared dims
// accepts anything.
func checkDims(declared, shape []int64) error {
	if len(declared) == 0 {
		return nil
	}
	if len(declared) != len(shape) {
		return fmt.Errorf("%w: model expects rank %d, batch has shape %v", ErrShapeMismatch, len(declared), shape)
	}
	for i := 1; i < len(shape); i++ {
		if declared[i] > 0 && declared[i] != shape[i] {
			return fmt.Errorf("%w: axis %d is %d, model expects %d", ErrShapeMismatch, i, shape[i], declared[i])
		}
	}
	return nil
}

func equalShape(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
