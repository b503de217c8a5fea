package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/echoguard/echoguard/pkg/spectrogram"
	"github.com/echoguard/echoguard/pkg/types"
	"github.com/echoguard/echoguard/scorer/internal/events"
	"github.com/echoguard/echoguard/scorer/internal/inference"
	"github.com/echoguard/echoguard/scorer/internal/results"
	"github.com/echoguard/echoguard/scorer/internal/score"
	"github.com/echoguard/echoguard/scorer/internal/storage"
	"github.com/echoguard/echoguard/scorer/internal/window"
)

// Defaults for Options.
const (
	DefaultModelPath  = "bearing_model.onnx"
	DefaultConfigPath = "model_config.json"
	DefaultDeviceID   = "test_rig_1"
)

// Loader opens the model at path.
type Loader func(path string) (inference.Model, error)

// Options configures a Controller. Zero values take the defaults above and
// window.DefaultWidth / window.DefaultStride.
type Options struct {
	ModelPath        string
	ConfigPath       string
	DefaultThreshold float64 // used when the config file gives none; 0 means score.DefaultThreshold
	Width            int
	Stride           int
	DeviceID         string

	Load      Loader
	Fetcher   storage.Fetcher
	Store     results.Store
	Observers []Observer

	Logger *slog.Logger
	Now    func() time.Time
}

// Result is the outcome of one successful invocation.
type Result struct {
	InvocationID string
	Event        events.Event
	DeviceID     string
	Timestamp    string
	Verdict      score.Verdict
	Threshold    float64
	Windows      int
	Record       results.Record
	// PersistErr is the swallowed result-store error, if any.
	PersistErr error
	ColdStart  bool
	Duration   time.Duration
}

// Observer is told about every finished invocation. On failure res carries
// only the invocation ID, event and cold-start flag.
type Observer interface {
	Observe(ctx context.Context, res *Result, err error) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, res *Result, err error) error

// Observe implements Observer.
func (f ObserverFunc) Observe(ctx context.Context, res *Result, err error) error {
	return f(ctx, res, err)
}

// Controller runs invocations against a lazily loaded model and threshold.
// All exported methods are safe for concurrent use; Handle calls run one at
// a time.
type Controller struct {
	opts Options
	log  *slog.Logger

	mu    sync.Mutex
	model inference.Model

	threshold atomic.Pointer[float64]
	state     atomic.Int32
	ready     atomic.Bool
}

// New returns a Controller with nothing loaded.
func New(opts Options) (*Controller, error) {
	if opts.Load == nil {
		return nil, fmt.Errorf("pipeline: no model loader")
	}
	if opts.Fetcher == nil {
		return nil, fmt.Errorf("pipeline: no fetcher")
	}
	if opts.ModelPath == "" {
		opts.ModelPath = DefaultModelPath
	}
	if opts.ConfigPath == "" {
		opts.ConfigPath = DefaultConfigPath
	}
	if opts.DefaultThreshold == 0 {
		opts.DefaultThreshold = score.DefaultThreshold
	}
	if opts.Width == 0 {
		opts.Width = window.DefaultWidth
	}
	if opts.Stride == 0 {
		opts.Stride = window.DefaultStride
	}
	if opts.Width < 0 || opts.Stride < 0 {
		return nil, fmt.Errorf("pipeline: window width %d and stride %d must be positive", opts.Width, opts.Stride)
	}
	if opts.DeviceID == "" {
		opts.DeviceID = DefaultDeviceID
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Controller{opts: opts, log: opts.Logger}, nil
}

// State reports where the controller is in its lifecycle.
func (c *Controller) State() State { return State(c.state.Load()) }

// Ready reports whether the model and threshold are loaded.
func (c *Controller) Ready() bool { return c.ready.Load() }

// Threshold returns the cached threshold, if loaded. It does not wait for a
// running invocation.
func (c *Controller) Threshold() (float64, bool) {
	t := c.threshold.Load()
	if t == nil {
		return 0, false
	}
	return *t, true
}

// DeviceID returns the device every record is written under.
func (c *Controller) DeviceID() string { return c.opts.DeviceID }

func (c *Controller) setState(s State) { c.state.Store(int32(s)) }

// Reset drops the cached model and threshold so the next invocation runs the
// cold path again.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.model != nil {
		if err := c.model.Close(); err != nil {
			c.log.Warn("pipeline: close model", "err", err)
		}
	}
	c.model = nil
	c.threshold.Store(nil)
	c.ready.Store(false)
	c.setState(StateUninitialized)
}

// Close releases the model handle.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.model == nil {
		return nil
	}
	err := c.model.Close()
	c.model = nil
	c.ready.Store(false)
	c.setState(StateUninitialized)
	return err
}

// Dispatch adapts the controller to events.Dispatch. Outcomes are reported
// through logs and observers only.
func (c *Controller) Dispatch(ctx context.Context, ev events.Event) {
	c.Handle(ctx, ev) //nolint:errcheck
}

// Handle runs one invocation for the object named by ev.
func (c *Controller) Handle(ctx context.Context, ev events.Event) (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := c.opts.Now()
	res := &Result{InvocationID: uuid.NewString(), Event: ev}
	log := c.log.With("invocation_id", res.InvocationID, "bucket", ev.Bucket, "key", ev.Key)
	log.Info("pipeline: invocation started")

	err := c.run(ctx, log, res)
	res.Duration = c.opts.Now().Sub(start)

	if err != nil {
		var pe *Error
		stage := ""
		if errors.As(err, &pe) {
			stage = pe.Stage.String()
		}
		log.Error("pipeline: invocation failed", "stage", stage, "err", err)
	} else {
		log.Info("pipeline: invocation done",
			"status", res.Verdict.Status, "mse", res.Verdict.Aggregate,
			"threshold", res.Threshold, "windows", res.Windows, "duration", res.Duration)
	}

	for _, o := range c.opts.Observers {
		if oerr := o.Observe(ctx, res, err); oerr != nil {
			log.Warn("pipeline: observer failed", "err", oerr)
		}
	}

	if c.model != nil {
		c.setState(StateReady)
	} else {
		c.setState(StateUninitialized)
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Controller) run(ctx context.Context, log *slog.Logger, res *Result) error {
	cold, err := c.ensureLoaded(log)
	res.ColdStart = cold
	if err != nil {
		return err
	}
	threshold := *c.threshold.Load()
	res.Threshold = threshold

	c.setState(StateFetching)
	log.Debug("pipeline: fetching", "stage", StateFetching.String())
	raw, err := c.opts.Fetcher.Fetch(ctx, res.Event.Bucket, res.Event.Key)
	if err != nil {
		return stageErr(KindFetch, StateFetching, err)
	}
	arr, err := spectrogram.Decode(raw)
	if err != nil {
		return stageErr(KindDecode, StateFetching, err)
	}

	c.setState(StateWindowing)
	spec, err := spectrogram.Normalize(arr)
	if err != nil {
		return stageErr(KindDecode, StateWindowing, err)
	}
	batch, err := window.Make(spec, c.opts.Width, c.opts.Stride)
	if err != nil {
		return stageErr(KindDecode, StateWindowing, err)
	}
	res.Windows = batch.N
	log.Debug("pipeline: windowed", "features", spec.Features, "steps", spec.Steps, "windows", batch.N)

	c.setState(StateScoring)
	recon, err := inference.Infer(c.model, batch)
	if err != nil {
		return stageErr(KindInference, StateScoring, err)
	}
	v, err := score.Evaluate(batch.Data, recon.Data, batch.N, batch.Features*batch.Width, threshold)
	if err != nil {
		return stageErr(KindInference, StateScoring, err)
	}
	res.Verdict = v
	if v.Status == types.StatusAnomaly {
		log.Warn("pipeline: anomaly detected", "mse", v.Aggregate, "threshold", threshold)
	}

	c.setState(StatePersisting)
	res.DeviceID = c.opts.DeviceID
	res.Timestamp = TimestampKey(res.Event.Key)
	res.Record = results.NewRecord(res.DeviceID, res.Timestamp, res.Event.Key,
		v.Aggregate, threshold, v.Status, batch.N, c.opts.Now())
	if c.opts.Store != nil {
		if err := c.opts.Store.Put(ctx, res.Record); err != nil {
			res.PersistErr = stageErr(KindPersistence, StatePersisting, err)
			log.Error("pipeline: persist failed, result kept", "stage", StatePersisting.String(), "err", res.PersistErr)
		}
	}

	c.setState(StateDone)
	return nil
}

// ensureLoaded runs the cold path for whatever is not cached yet and reports
// whether the model had to be loaded.
func (c *Controller) ensureLoaded(log *slog.Logger) (bool, error) {
	cold := c.model == nil
	if cold {
		c.ready.Store(false)
		c.setState(StateUninitialized)
		log.Info("pipeline: cold start, loading model", "path", c.opts.ModelPath)
		m, err := c.opts.Load(c.opts.ModelPath)
		if err != nil {
			return true, stageErr(KindInit, StateUninitialized, err)
		}
		c.model = m
		c.setState(StateModelLoaded)
	}
	if c.threshold.Load() == nil {
		t := loadThreshold(c.opts.ConfigPath, c.opts.DefaultThreshold, log)
		c.threshold.Store(&t)
		c.setState(StateThresholdSet)
	}
	c.setState(StateReady)
	c.ready.Store(true)
	return cold, nil
}
