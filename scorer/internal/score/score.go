package score

import (
	"fmt"

	"github.com/echoguard/echoguard/pkg/types"
)

// DefaultThreshold is the aggregate error above which an input is anomalous
// when no threshold file is present.
const DefaultThreshold = 0.002

// Verdict is the result of scoring one input.
type Verdict struct {
	// Aggregate is the arithmetic mean of PerWindow.
	Aggregate float64

	// PerWindow holds one mean squared error per window, in batch order.
	PerWindow []float64

	// Status is the classification of Aggregate against the threshold.
	Status types.Status
}

// Score computes the per-window mean squared error between input and
// reconstruction and their mean. Both slices hold n windows of size elements
// each in row-major order; size is F×W×1.
//
// A length mismatch is an error: the reconstruction contract requires the
// model output to have exactly the input's shape.
func Score(input, recon []float32, n, size int) (aggregate float64, perWindow []float64, err error) {
	if n < 1 {
		return 0, nil, fmt.Errorf("score: batch must hold at least one window, got %d", n)
	}
	if size < 0 {
		return 0, nil, fmt.Errorf("score: negative window size %d", size)
	}
	if len(input) != n*size {
		return 0, nil, fmt.Errorf("score: input holds %d values, want %d", len(input), n*size)
	}
	if len(recon) != len(input) {
		return 0, nil, fmt.Errorf("score: reconstruction holds %d values, input holds %d", len(recon), len(input))
	}

	perWindow = make([]float64, n)
	var sum float64
	for i := 0; i < n; i++ {
		perWindow[i] = mse(input[i*size:(i+1)*size], recon[i*size:(i+1)*size])
		sum += perWindow[i]
	}
	return sum / float64(n), perWindow, nil
}

// Classify maps an aggregate error to a status. Only values strictly above
// threshold are anomalous.
func Classify(aggregate, threshold float64) types.Status {
	if aggregate > threshold {
		return types.StatusAnomaly
	}
	return types.StatusHealthy
}

// Evaluate runs Score then Classify.
func Evaluate(input, recon []float32, n, size int, threshold float64) (Verdict, error) {
	agg, per, err := Score(input, recon, n, size)
	if err != nil {
		return Verdict{}, err
	}
	return Verdict{Aggregate: agg, PerWindow: per, Status: Classify(agg, threshold)}, nil
}

// mse accumulates in float64; an empty window has zero error.
func mse(a, b []float32) float64 {
	if len(a) == 0 {
		return 0
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum / float64(len(a))
}
