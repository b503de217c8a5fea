package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"

	"github.com/tidwall/jsonc"
)

// thresholdFile is the shape of model_config.json. Comments and trailing
// commas are tolerated.
type thresholdFile struct {
	Threshold *float64 `json:"threshold"`
}

// loadThreshold reads the threshold from path. A missing file, a parse error,
// an absent field or a negative or non-finite value all yield def.
func loadThreshold(path string, def float64, log *slog.Logger) float64 {
	v, err := readThreshold(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Info("pipeline: no threshold file, using default", "path", path, "threshold", def)
		return def
	case err != nil:
		log.Warn("pipeline: unreadable threshold file, using default", "path", path, "threshold", def, "err", err)
		return def
	case v == nil:
		log.Info("pipeline: threshold file has no threshold, using default", "path", path, "threshold", def)
		return def
	}
	log.Info("pipeline: threshold loaded", "path", path, "threshold", *v)
	return *v
}

func readThreshold(path string) (*float64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f thresholdFile
	if err := json.Unmarshal(jsonc.ToJSON(b), &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if f.Threshold != nil {
		t := *f.Threshold
		if t < 0 || math.IsNaN(t) || math.IsInf(t, 0) {
			return nil, fmt.Errorf("threshold %v in %s is not a non-negative number", t, path)
		}
	}
	return f.Threshold, nil
}
