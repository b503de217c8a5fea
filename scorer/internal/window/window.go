package window

import (
	"fmt"

	"github.com/echoguard/echoguard/pkg/spectrogram"
)

// Default window geometry used by the scorer.
const (
	DefaultWidth  = 64
	DefaultStride = 32
)

// Batch is a stack of fixed-width windows with shape (N, Features, Width, 1),
// stored row-major in Data. The trailing channel axis always has size 1 and is
// implicit in the layout.
type Batch struct {
	N        int
	Features int
	Width    int
	Data     []float32
}

// Shape returns the 4-D tensor shape (N, Features, Width, 1).
func (b *Batch) Shape() []int64 {
	return []int64{int64(b.N), int64(b.Features), int64(b.Width), 1}
}

// Window returns the Features*Width values of window i. The slice aliases
// b.Data.
func (b *Batch) Window(i int) []float32 {
	size := b.Features * b.Width
	return b.Data[i*size : (i+1)*size]
}

// At returns the value of window n at feature f and column w.
func (b *Batch) At(n, f, w int) float32 {
	return b.Data[(n*b.Features+f)*b.Width+w]
}

// Count returns how many windows Make produces for a spectrogram with the
// given number of time steps. Inputs shorter than width are padded to exactly
// one window.
func Count(steps, width, stride int) int {
	if steps < width {
		return 1
	}
	return (steps-width)/stride + 1
}

// Make slices s into windows of the given width, starting every stride time
// steps, and appends a channel axis of size 1.
//
// When s has fewer than width time steps the time axis is right-padded with
// zeros to exactly width, so every valid input yields at least one window;
// an empty input becomes a single all-zero window. Windows start at 0,
// stride, 2*stride, ... and are kept while start+width <= steps. With
// stride >= width windows never overlap and the samples between them are
// skipped. The feature axis is never padded.
//
// Make is pure: s is not modified and identical inputs yield identical output.
func Make(s *spectrogram.Spectrogram, width, stride int) (*Batch, error) {
	if s == nil {
		return nil, fmt.Errorf("window: nil spectrogram")
	}
	if width <= 0 {
		return nil, fmt.Errorf("window: width must be positive, got %d", width)
	}
	if stride <= 0 {
		return nil, fmt.Errorf("window: stride must be positive, got %d", stride)
	}
	if size, ok := spectrogram.Elements(s.Features, s.Steps); !ok || size != len(s.Data) {
		return nil, fmt.Errorf("window: spectrogram %dx%d holds %d values", s.Features, s.Steps, len(s.Data))
	}

	n := Count(s.Steps, width, stride)
	b := &Batch{
		N:        n,
		Features: s.Features,
		Width:    width,
		Data:     make([]float32, n*s.Features*width),
	}

	for i := 0; i < n; i++ {
		start := i * stride
		avail := s.Steps - start
		if avail > width {
			avail = width
		}
		if avail <= 0 {
			// Only reachable for the padded window of an empty input.
			continue
		}
		for f := 0; f < s.Features; f++ {
			src := s.Data[f*s.Steps+start : f*s.Steps+start+avail]
			dst := b.Data[(i*s.Features+f)*width:]
			copy(dst[:avail], src)
		}
	}
	return b, nil
}
