package melspec

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/echoguard/echoguard/pkg/spectrogram"
)

// Defaults used to produce the training spectrograms.
const (
	DefaultSampleRate = 20000
	DefaultNFFT       = 2048
	DefaultHop        = 128
	DefaultMels       = 128
	DefaultFMax       = 10000

	// TopDB is the dynamic range kept below the peak.
	TopDB = 80.0

	amin = 1e-10
)

// Options configures a Transform.
type Options struct {
	SampleRate int
	NFFT       int
	Hop        int
	Mels       int
	FMin       float64
	FMax       float64
}

// DefaultOptions returns the training configuration.
func DefaultOptions() Options {
	return Options{
		SampleRate: DefaultSampleRate,
		NFFT:       DefaultNFFT,
		Hop:        DefaultHop,
		Mels:       DefaultMels,
		FMax:       DefaultFMax,
	}
}

// Transform computes mel spectrograms for a fixed Options. It is not safe
// for concurrent use.
type Transform struct {
	opts    Options
	fft     *fourier.FFT
	window  []float64
	filters *mat.Dense // Mels × (NFFT/2+1)

	frame []float64
	coeff []complex128
}

// New validates opts and precomputes the window and mel filterbank.
func New(opts Options) (*Transform, error) {
	switch {
	case opts.SampleRate <= 0:
		return nil, fmt.Errorf("melspec: sample rate must be positive, got %d", opts.SampleRate)
	case opts.NFFT < 2:
		return nil, fmt.Errorf("melspec: nfft must be at least 2, got %d", opts.NFFT)
	case opts.Hop <= 0:
		return nil, fmt.Errorf("melspec: hop must be positive, got %d", opts.Hop)
	case opts.Mels <= 0:
		return nil, fmt.Errorf("melspec: mels must be positive, got %d", opts.Mels)
	case opts.FMin < 0 || opts.FMax <= opts.FMin || opts.FMax > float64(opts.SampleRate)/2:
		return nil, fmt.Errorf("melspec: need 0 <= fmin < fmax <= %d, got %g..%g",
			opts.SampleRate/2, opts.FMin, opts.FMax)
	}

	// Periodic Hann: the symmetric window of length N+1 without its last point.
	w := make([]float64, opts.NFFT+1)
	for i := range w {
		w[i] = 1
	}
	return &Transform{
		opts:    opts,
		fft:     fourier.NewFFT(opts.NFFT),
		window:  window.Hann(w)[:opts.NFFT],
		filters: melFilters(opts),
		frame:   make([]float64, opts.NFFT),
		coeff:   make([]complex128, opts.NFFT/2+1),
	}, nil
}

// Frames returns how many STFT frames a signal of n samples yields.
func (t *Transform) Frames(n int) int { return 1 + n/t.opts.Hop }

// Power returns the (NFFT/2+1) × frames power spectrogram of signal. Frames
// are centred on multiples of Hop, with zeros outside the signal.
func (t *Transform) Power(signal []float64) *mat.Dense {
	nfft, bins := t.opts.NFFT, t.opts.NFFT/2+1
	frames := t.Frames(len(signal))
	out := mat.NewDense(bins, frames, nil)

	for f := 0; f < frames; f++ {
		start := f*t.opts.Hop - nfft/2
		for i := range t.frame {
			var v float64
			if j := start + i; j >= 0 && j < len(signal) {
				v = signal[j]
			}
			t.frame[i] = v * t.window[i]
		}
		t.fft.Coefficients(t.coeff, t.frame)
		for k, c := range t.coeff {
			m := cmplx.Abs(c)
			out.Set(k, f, m*m)
		}
	}
	return out
}

// Mel returns the Mels × frames mel power spectrogram of signal.
func (t *Transform) Mel(signal []float64) *mat.Dense {
	p := t.Power(signal)
	_, frames := p.Dims()
	out := mat.NewDense(t.opts.Mels, frames, nil)
	out.Mul(t.filters, p)
	return out
}

// Spectrogram runs the full chain: mel power, dB relative to the peak and
// rescaling onto [0, 1].
func (t *Transform) Spectrogram(signal []float64) (*spectrogram.Spectrogram, error) {
	if len(signal) == 0 {
		return nil, ErrNoSamples
	}
	m := Normalize(PowerToDB(t.Mel(signal), TopDB))
	r, c := m.Dims()
	s := spectrogram.New(r, c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			s.Set(i, j, float32(m.At(i, j)))
		}
	}
	return s, nil
}

// PowerToDB converts power to decibels relative to the matrix maximum and
// clamps everything more than topDB below the peak. A non-positive topDB
// disables the clamp.
func PowerToDB(p mat.Matrix, topDB float64) *mat.Dense {
	r, c := p.Dims()
	out := mat.NewDense(r, c, nil)
	out.Apply(func(_, _ int, v float64) float64 { return 10 * math.Log10(math.Max(amin, v)) }, p)

	ref := 10 * math.Log10(math.Max(amin, mat.Max(p)))
	floor := mat.Max(out) - ref - topDB
	out.Apply(func(_, _ int, v float64) float64 {
		v -= ref
		if topDB > 0 && v < floor {
			return floor
		}
		return v
	}, out)
	return out
}

// Normalize maps [-TopDB, 0] dB linearly onto [0, 1], clipping outside it.
func Normalize(db mat.Matrix) *mat.Dense {
	r, c := db.Dims()
	out := mat.NewDense(r, c, nil)
	out.Apply(func(_, _ int, v float64) float64 {
		return math.Min(1, math.Max(0, (v+TopDB)/TopDB))
	}, db)
	return out
}

// melFilters builds the Slaney-normalized triangular filterbank mapping
// NFFT/2+1 linear bins onto Mels bands between FMin and FMax.
func melFilters(o Options) *mat.Dense {
	bins := o.NFFT/2 + 1
	fftFreqs := make([]float64, bins)
	floats.Span(fftFreqs, 0, float64(o.SampleRate)/2)

	edges := make([]float64, o.Mels+2)
	floats.Span(edges, hzToMel(o.FMin), hzToMel(o.FMax))
	for i, m := range edges {
		edges[i] = melToHz(m)
	}

	w := mat.NewDense(o.Mels, bins, nil)
	for i := 0; i < o.Mels; i++ {
		lo, mid, hi := edges[i], edges[i+1], edges[i+2]
		norm := 2 / (hi - lo)
		for k, f := range fftFreqs {
			v := math.Min((f-lo)/(mid-lo), (hi-f)/(hi-mid))
			if v > 0 {
				w.Set(i, k, v*norm)
			}
		}
	}
	return w
}

// Slaney mel scale: linear below 1 kHz, logarithmic above.
const (
	melLinearStep = 200.0 / 3
	melBreakHz    = 1000.0
	melBreak      = melBreakHz / melLinearStep
)

var melLogStep = math.Log(6.4) / 27

func hzToMel(hz float64) float64 {
	if hz < melBreakHz {
		return hz / melLinearStep
	}
	return melBreak + math.Log(hz/melBreakHz)/melLogStep
}

func melToHz(mel float64) float64 {
	if mel < melBreak {
		return mel * melLinearStep
	}
	return melBreakHz * math.Exp(melLogStep*(mel-melBreak))
}

// Centers returns the centre frequency in Hz of each mel band.
func (t *Transform) Centers() []float64 {
	edges := make([]float64, t.opts.Mels+2)
	floats.Span(edges, hzToMel(t.opts.FMin), hzToMel(t.opts.FMax))
	out := make([]float64, t.opts.Mels)
	for i := range out {
		out[i] = melToHz(edges[i+1])
	}
	return out
}
