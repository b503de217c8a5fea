package melspec

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrNoSamples is returned for a recording without any rows.
var ErrNoSamples = errors.New("melspec: recording has no samples")

// LoadBearing reads channel (0-based) from the recording at path.
func LoadBearing(path string, channel int) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("melspec: open recording: %w", err)
	}
	defer f.Close()

	sig, err := ReadBearing(f, channel)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sig, nil
}

// ReadBearing parses tab-separated rows of per-channel samples and returns
// column channel. Every row must carry the same number of columns.
func ReadBearing(r io.Reader, channel int) ([]float64, error) {
	if channel < 0 {
		return nil, fmt.Errorf("melspec: negative channel %d", channel)
	}
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.ReuseRecord = true

	var sig []float64
	for row := 1; ; row++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("melspec: read row %d: %w", row, err)
		}
		if channel >= len(rec) {
			return nil, fmt.Errorf("melspec: row %d has %d channels, want channel %d", row, len(rec), channel)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[channel]), 64)
		if err != nil {
			return nil, fmt.Errorf("melspec: row %d: %w", row, err)
		}
		sig = append(sig, v)
	}
	if len(sig) == 0 {
		return nil, ErrNoSamples
	}
	return sig, nil
}

// ObjectKey is the object name a converted recording is uploaded under:
// the recording's base name with ".npy" appended.
func ObjectKey(path string) string { return filepath.Base(path) + ".npy" }
