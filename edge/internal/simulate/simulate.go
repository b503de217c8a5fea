package simulate

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"math/rand"
	"os"
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/echoguard/echoguard/pkg/spectrogram"
)

// Shape and noise levels of generated snapshots.
const (
	FallbackFeatures = 128
	FallbackSteps    = 64

	fallbackSigma = 0.1
	anomalyGain   = 2.0
	anomalySigma  = 0.1
	normalSigma   = 0.001

	PrefixNormal  = "NORMAL_"
	PrefixAnomaly = "ANOMALY_"

	stampLayout = "2006-01-02-15-04-05"
)

// Snapshot is one generated spectrogram.
type Snapshot struct {
	Name    string
	Anomaly bool
	Data    *mat.Dense
}

// Encode returns the snapshot as a float64 .npy payload.
func (s Snapshot) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := spectrogram.Encode(&buf, toSpectrogram(s.Data)); err != nil {
		return nil, fmt.Errorf("simulate: encode %s: %w", s.Name, err)
	}
	return buf.Bytes(), nil
}

// Generator draws snapshots from a base spectrogram. It is safe for
// concurrent use; the anomaly probability can change while it runs.
type Generator struct {
	mu   sync.Mutex
	base *mat.Dense
	rng  *rand.Rand
	prob float64
	now  func() time.Time
}

// New returns a Generator over base. A zero seed seeds from the clock.
func New(base *mat.Dense, probability float64, seed int64) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{
		base: base,
		rng:  rand.New(rand.NewSource(seed)), //nolint:gosec // simulation noise
		prob: probability,
		now:  time.Now,
	}
}

// SetProbability changes the anomaly probability for subsequent snapshots.
func (g *Generator) SetProbability(p float64) {
	g.mu.Lock()
	g.prob = p
	g.mu.Unlock()
}

// Probability returns the current anomaly probability.
func (g *Generator) Probability() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.prob
}

// Next draws one snapshot: base*2 + N(0, 0.1) for an anomaly, otherwise
// base + N(0, 0.001).
func (g *Generator) Next() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	anomaly := g.rng.Float64() < g.prob
	r, c := g.base.Dims()
	out := mat.NewDense(r, c, nil)

	prefix, sigma := PrefixNormal, normalSigma
	if anomaly {
		prefix, sigma = PrefixAnomaly, anomalySigma
		out.Scale(anomalyGain, g.base)
	} else {
		out.Copy(g.base)
	}
	out.Add(out, noise(g.rng, r, c, sigma))

	return Snapshot{
		Name:    prefix + g.now().Format(stampLayout) + ".npy",
		Anomaly: anomaly,
		Data:    out,
	}
}

// LoadBase reads the base spectrogram from path. When path does not exist it
// returns N(0, 0.1) noise of shape (128, 64) and fallback true.
func LoadBase(path string, seed int64) (base *mat.Dense, fallback bool, err error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		rng := rand.New(rand.NewSource(seed)) //nolint:gosec // simulation noise
		return noise(rng, FallbackFeatures, FallbackSteps, fallbackSigma), true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("simulate: read base %q: %w", path, err)
	}

	a, err := spectrogram.Decode(b)
	if err != nil {
		return nil, false, fmt.Errorf("simulate: decode base %q: %w", path, err)
	}
	s, err := spectrogram.Normalize(a)
	if err != nil {
		return nil, false, fmt.Errorf("simulate: base %q: %w", path, err)
	}
	if s.Features == 0 || s.Steps == 0 {
		return nil, false, fmt.Errorf("simulate: base %q is empty (%dx%d)", path, s.Features, s.Steps)
	}
	vals := make([]float64, len(s.Data))
	for i, v := range s.Data {
		vals[i] = float64(v)
	}
	return mat.NewDense(s.Features, s.Steps, vals), false, nil
}

func noise(rng *rand.Rand, r, c int, sigma float64) *mat.Dense {
	vals := make([]float64, r*c)
	for i := range vals {
		vals[i] = rng.NormFloat64() * sigma
	}
	return mat.NewDense(r, c, vals)
}

func toSpectrogram(m *mat.Dense) *spectrogram.Spectrogram {
	r, c := m.Dims()
	s := spectrogram.New(r, c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			s.Set(i, j, float32(m.At(i, j)))
		}
	}
	return s
}
