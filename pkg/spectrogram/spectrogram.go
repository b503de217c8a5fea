package spectrogram

import (
	"errors"
	"fmt"
	"math"
)

// Errors returned by Decode and Normalize. Callers match them with errors.Is.
var (
	ErrBadMagic = errors.New("spectrogram: not an npy payload")
	ErrCorrupt  = errors.New("spectrogram: corrupt npy payload")
	ErrDType    = errors.New("spectrogram: unsupported dtype")
	ErrShape    = errors.New("spectrogram: invalid shape")
)

// Array is an n-dimensional float32 array in row-major (C) order, exactly as
// decoded from the wire before any shape normalization.
type Array struct {
	Shape []int
	Data  []float32
}

// Spectrogram is a 2-D (features × time steps) matrix stored row-major:
// the value for feature f at time t lives at Data[f*Steps+t].
type Spectrogram struct {
	Features int
	Steps    int
	Data     []float32
}

// Elements returns the number of elements in an array of the given dims. It
// reports false when a dim is negative or the product overflows int.
func Elements(dims ...int) (int, bool) {
	for _, d := range dims {
		if d < 0 {
			return 0, false
		}
		if d == 0 {
			return 0, true
		}
	}
	n := 1
	for _, d := range dims {
		if n > math.MaxInt/d {
			return 0, false
		}
		n *= d
	}
	return n, true
}

// New returns a zero-filled spectrogram of the given shape.
func New(features, steps int) *Spectrogram {
	return &Spectrogram{
		Features: features,
		Steps:    steps,
		Data:     make([]float32, features*steps),
	}
}

// At returns the value at feature f and time step t.
func (s *Spectrogram) At(f, t int) float32 {
	return s.Data[f*s.Steps+t]
}

// Set writes v at feature f and time step t.
func (s *Spectrogram) Set(f, t int, v float32) {
	s.Data[f*s.Steps+t] = v
}

// Normalize squeezes leading axes of size 1 from a until it is 2-D and
// returns it as a Spectrogram.
//
// Only leading singleton axes are removed, and only while the array has more
// than two dimensions. Anything that ends up 1-D, 0-D or still above 2-D is
// rejected with ErrShape; the data is never truncated or reshaped.
func Normalize(a *Array) (*Spectrogram, error) {
	if a == nil {
		return nil, fmt.Errorf("%w: nil array", ErrShape)
	}
	shape := a.Shape
	for len(shape) > 2 && shape[0] == 1 {
		shape = shape[1:]
	}
	if len(shape) != 2 {
		return nil, fmt.Errorf("%w: got %d-D %v after squeeze, want 2-D (features, steps)",
			ErrShape, len(shape), a.Shape)
	}
	if n, ok := Elements(shape[0], shape[1]); !ok || n != len(a.Data) {
		return nil, fmt.Errorf("%w: shape %v does not match %d elements", ErrShape, a.Shape, len(a.Data))
	}
	return &Spectrogram{
		Features: shape[0],
		Steps:    shape[1],
		Data:     a.Data,
	}, nil
}
