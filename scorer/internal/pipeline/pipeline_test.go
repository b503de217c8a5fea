package pipeline

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sbinet/npyio/npy"

	"github.com/echoguard/echoguard/pkg/spectrogram"
	"github.com/echoguard/echoguard/pkg/types"
	"github.com/echoguard/echoguard/scorer/internal/events"
	"github.com/echoguard/echoguard/scorer/internal/inference"
	"github.com/echoguard/echoguard/scorer/internal/results"
	"github.com/echoguard/echoguard/scorer/internal/storage"
)

// --- fakes ---

// constModel reconstructs every value as out.
type constModel struct {
	out     float32
	dims    []int64
	active  atomic.Int32
	overlap atomic.Bool
	closed  bool
}

func (m *constModel) Inputs() []inference.IOInfo {
	return []inference.IOInfo{{Name: "input_1", Dims: m.dims}}
}
func (m *constModel) Outputs() []inference.IOInfo { return []inference.IOInfo{{Name: "output_1"}} }
func (m *constModel) Close() error                { m.closed = true; return nil }

func (m *constModel) Run(_, _ string, in inference.Tensor) (inference.Tensor, error) {
	if m.active.Add(1) > 1 {
		m.overlap.Store(true)
	}
	defer m.active.Add(-1)
	time.Sleep(time.Millisecond)
	data := make([]float32, len(in.Data))
	for i := range data {
		data[i] = m.out
	}
	return inference.Tensor{Shape: in.Shape, Data: data}, nil
}

// mapFetcher serves payloads from memory.
type mapFetcher struct {
	objects map[string][]byte
	err     error
	calls   int
}

func (f *mapFetcher) Fetch(_ context.Context, bucket, key string) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	b, ok := f.objects[bucket+"/"+key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return b, nil
}

type failingStore struct{ err error }

func (s failingStore) Put(context.Context, results.Record) error { return s.err }

// --- helpers ---

func npyOf(t *testing.T, features, steps int, v float32) []byte {
	t.Helper()
	s := spectrogram.New(features, steps)
	for i := range s.Data {
		s.Data[i] = v
	}
	var buf bytes.Buffer
	if err := spectrogram.Encode(&buf, s); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return buf.Bytes()
}

type fixture struct {
	dir     string
	model   *constModel
	loads   int
	fetcher *mapFetcher
	store   *results.Memory
	ctrl    *Controller
}

// npyHeader returns a version 1.0 preamble carrying header verbatim and no
// data.
func npyHeader(header string) []byte {
	b := []byte("\x93NUMPY\x01\x00")
	b = binary.LittleEndian.AppendUint16(b, uint16(len(header)))
	return append(b, header...)
}

func newFixture(t *testing.T, recon float32, mutate func(*Options)) *fixture {
	t.Helper()
	f := &fixture{
		dir:     t.TempDir(),
		model:   &constModel{out: recon, dims: []int64{-1, 128, 64, 1}},
		fetcher: &mapFetcher{objects: map[string][]byte{}},
		store:   results.NewMemory(0),
	}
	opts := Options{
		ModelPath:  filepath.Join(f.dir, DefaultModelPath),
		ConfigPath: filepath.Join(f.dir, DefaultConfigPath),
		Load: func(path string) (inference.Model, error) {
			f.loads++
			if _, err := os.Stat(path); err != nil {
				return nil, err
			}
			return f.model, nil
		},
		Fetcher: f.fetcher,
		Store:   f.store,
		Now:     func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) },
	}
	if mutate != nil {
		mutate(&opts)
	}
	ctrl, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.ctrl = ctrl
	return f
}

func (f *fixture) writeModel(t *testing.T) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(f.dir, DefaultModelPath), []byte("onnx"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) writeConfig(t *testing.T, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(f.dir, DefaultConfigPath), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) put(bucket, key string, b []byte) events.Event {
	f.fetcher.objects[bucket+"/"+key] = b
	return events.Event{Bucket: bucket, Key: key}
}

func wantKind(t *testing.T, err error, want Kind) *Error {
	t.Helper()
	var pe *Error
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *pipeline.Error", err)
	}
	if pe.Kind != want {
		t.Fatalf("kind = %s, want %s (err: %v)", pe.Kind, want, err)
	}
	return pe
}

// --- scenarios ---

func TestHandle_ZeroReconstructionIsHealthy(t *testing.T) {
	f := newFixture(t, 0, nil)
	f.writeModel(t)
	ev := f.put("raw", "NORMAL_2024-03-01-11-59-58.npy", npyOf(t, 128, 200, 0))

	res, err := f.ctrl.Handle(context.Background(), ev)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res.Verdict.Status != types.StatusHealthy || res.Verdict.Aggregate != 0 {
		t.Errorf("verdict = %+v, want HEALTHY with 0", res.Verdict)
	}
	if res.Windows != 5 {
		t.Errorf("windows = %d, want 5", res.Windows)
	}
}

func TestHandle_OnesReconstructionIsAnomaly(t *testing.T) {
	f := newFixture(t, 1, nil)
	f.writeModel(t)
	ev := f.put("raw", "ANOMALY_2024-03-01-11-59-58.npy", npyOf(t, 128, 64, 0))

	res, err := f.ctrl.Handle(context.Background(), ev)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res.Verdict.Status != types.StatusAnomaly {
		t.Errorf("status = %s, want ANOMALY_DETECTED", res.Verdict.Status)
	}
	if res.Verdict.Aggregate != 1.0 {
		t.Errorf("mse = %v, want 1.0", res.Verdict.Aggregate)
	}
	if res.Threshold != 0.002 {
		t.Errorf("threshold = %v, want default 0.002", res.Threshold)
	}

	code, body := Outcome(res, nil)
	if code != http.StatusOK {
		t.Errorf("code = %d, want 200", code)
	}
	want := types.ScoreResponse{File: ev.Key, Status: types.StatusAnomaly, MSE: 1, Threshold: 0.002, WindowsCount: 1}
	if body != want {
		t.Errorf("body = %+v, want %+v", body, want)
	}
}

func TestHandle_PersistFailureIsSwallowed(t *testing.T) {
	f := newFixture(t, 1, func(o *Options) {
		o.Store = failingStore{err: errors.New("ProvisionedThroughputExceededException")}
	})
	f.writeModel(t)
	ev := f.put("raw", "ANOMALY_2024-03-01-11-59-58.npy", npyOf(t, 128, 64, 0))

	res, err := f.ctrl.Handle(context.Background(), ev)
	if err != nil {
		t.Fatalf("Handle: %v, want success despite store failure", err)
	}
	if res.Verdict.Status != types.StatusAnomaly {
		t.Errorf("status = %s, want ANOMALY_DETECTED", res.Verdict.Status)
	}
	if k, _ := KindOf(res.PersistErr); k != KindPersistence {
		t.Errorf("PersistErr kind = %q, want PersistenceError", k)
	}
	if code, _ := Outcome(res, err); code != http.StatusOK {
		t.Errorf("code = %d, want 200", code)
	}
}

func TestHandle_MissingModelThenRetry(t *testing.T) {
	f := newFixture(t, 0, nil)
	ev := f.put("raw", "NORMAL_2024-03-01-11-59-58.npy", npyOf(t, 128, 64, 0))

	res, err := f.ctrl.Handle(context.Background(), ev)
	if res != nil {
		t.Errorf("res = %+v, want nil on failure", res)
	}
	pe := wantKind(t, err, KindInit)
	if pe.Stage != StateUninitialized {
		t.Errorf("stage = %s, want UNINITIALIZED", pe.Stage)
	}
	if f.fetcher.calls != 0 {
		t.Errorf("fetched %d times after init failure", f.fetcher.calls)
	}
	code, body := Outcome(res, err)
	if code != http.StatusInternalServerError {
		t.Errorf("code = %d, want 500", code)
	}
	eb := body.(types.ErrorResponse)
	if eb.Error != "InitError" || !strings.HasPrefix(eb.Message, "Init Error: ") {
		t.Errorf("body = %+v", eb)
	}
	if f.ctrl.Ready() || f.ctrl.State() != StateUninitialized {
		t.Errorf("after failed init: ready=%v state=%s", f.ctrl.Ready(), f.ctrl.State())
	}

	f.writeModel(t)
	if _, err := f.ctrl.Handle(context.Background(), ev); err != nil {
		t.Fatalf("second Handle: %v", err)
	}
	if f.loads != 2 {
		t.Errorf("loads = %d, want 2", f.loads)
	}
}

func TestHandle_FetchErrorIsVerbatim(t *testing.T) {
	f := newFixture(t, 0, nil)
	f.writeModel(t)
	f.fetcher.err = errors.New("An error occurred (403) when calling the HeadObject operation: Access Denied")

	_, err := f.ctrl.Handle(context.Background(), events.Event{Bucket: "raw", Key: "x.npy"})
	wantKind(t, err, KindFetch)
	_, body := Outcome(nil, err)
	if msg := body.(types.ErrorResponse).Message; !strings.Contains(msg, "Access Denied") {
		t.Errorf("message = %q, want the storage error verbatim", msg)
	}
}

func TestHandle_MissingObject(t *testing.T) {
	f := newFixture(t, 0, nil)
	f.writeModel(t)
	_, err := f.ctrl.Handle(context.Background(), events.Event{Bucket: "raw", Key: "gone.npy"})
	wantKind(t, err, KindFetch)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound in chain", err)
	}
}

func TestHandle_DecodeErrors(t *testing.T) {
	oneD := func(t *testing.T) []byte {
		var buf bytes.Buffer
		if err := npy.Write(&buf, make([]float64, 128)); err != nil {
			t.Fatal(err)
		}
		return buf.Bytes()
	}
	tests := []struct {
		name      string
		payload   func(t *testing.T) []byte
		wantStage State
		wantErr   error
	}{
		{
			name:      "not npy",
			payload:   func(*testing.T) []byte { return []byte("PK\x03\x04 zip") },
			wantStage: StateFetching,
			wantErr:   spectrogram.ErrBadMagic,
		},
		{
			name:      "header without newline",
			payload:   func(*testing.T) []byte { return npyHeader("{'descr': '<f4', 'fortran_order': False, 'shape': (2,), }") },
			wantStage: StateFetching,
			wantErr:   spectrogram.ErrCorrupt,
		},
		{
			name: "shape overflows with no body",
			payload: func(*testing.T) []byte {
				return npyHeader("{'descr': '<f4', 'fortran_order': False, 'shape': (4611686018427387904, 4), }\n")
			},
			wantStage: StateFetching,
			wantErr:   spectrogram.ErrCorrupt,
		},
		{
			name:      "one-dimensional array",
			payload:   oneD,
			wantStage: StateWindowing,
			wantErr:   spectrogram.ErrShape,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, 0, nil)
			f.writeModel(t)
			ev := f.put("raw", "x.npy", tc.payload(t))

			_, err := f.ctrl.Handle(context.Background(), ev)
			pe := wantKind(t, err, KindDecode)
			if pe.Stage != tc.wantStage {
				t.Errorf("stage = %s, want %s", pe.Stage, tc.wantStage)
			}
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("err = %v, want %v in chain", err, tc.wantErr)
			}
		})
	}
}

func TestHandle_ShapeMismatchIsInferenceError(t *testing.T) {
	f := newFixture(t, 0, nil)
	f.writeModel(t)
	ev := f.put("raw", "x.npy", npyOf(t, 64, 64, 0))

	_, err := f.ctrl.Handle(context.Background(), ev)
	wantKind(t, err, KindInference)
	if !errors.Is(err, inference.ErrShapeMismatch) {
		t.Errorf("err = %v, want ErrShapeMismatch", err)
	}
	if !f.ctrl.Ready() || f.ctrl.State() != StateReady {
		t.Errorf("after inference failure: ready=%v state=%s, want READY", f.ctrl.Ready(), f.ctrl.State())
	}
}

func TestHandle_WarmPathReusesCache(t *testing.T) {
	f := newFixture(t, 0, nil)
	f.writeModel(t)
	f.writeConfig(t, `{
		// tuned on the 2nd test set
		"threshold": 0.5,
	}`)
	ev := f.put("raw", "NORMAL_2024-03-01-11-59-58.npy", npyOf(t, 128, 64, 0))

	first, err := f.ctrl.Handle(context.Background(), ev)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !first.ColdStart || first.Threshold != 0.5 {
		t.Errorf("first: cold=%v threshold=%v, want cold with 0.5", first.ColdStart, first.Threshold)
	}

	// Neither file is read again on the warm path.
	f.writeConfig(t, `{"threshold": 0.9}`)
	os.Remove(filepath.Join(f.dir, DefaultModelPath))

	second, err := f.ctrl.Handle(context.Background(), ev)
	if err != nil {
		t.Fatalf("second Handle: %v", err)
	}
	if second.ColdStart || second.Threshold != 0.5 {
		t.Errorf("second: cold=%v threshold=%v, want warm with 0.5", second.ColdStart, second.Threshold)
	}
	if f.loads != 1 {
		t.Errorf("loads = %d, want 1", f.loads)
	}
}

func TestHandle_ThresholdFallbacks(t *testing.T) {
	tests := []struct {
		name   string
		config string
		want   float64
	}{
		{name: "absent file", want: 0.002},
		{name: "malformed", config: `{"threshold": `, want: 0.002},
		{name: "no field", config: `{"epochs": 50}`, want: 0.002},
		{name: "string value", config: `{"threshold": "high"}`, want: 0.002},
		{name: "negative", config: `{"threshold": -1}`, want: 0.002},
		{name: "zero is honoured", config: `{"threshold": 0}`, want: 0},
		{name: "value", config: `{"threshold": 0.0123}`, want: 0.0123},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, 0, nil)
			f.writeModel(t)
			if tc.config != "" {
				f.writeConfig(t, tc.config)
			}
			ev := f.put("raw", "x.npy", npyOf(t, 128, 64, 0))
			res, err := f.ctrl.Handle(context.Background(), ev)
			if err != nil {
				t.Fatalf("Handle: %v", err)
			}
			if res.Threshold != tc.want {
				t.Errorf("threshold = %v, want %v", res.Threshold, tc.want)
			}
			if got, ok := f.ctrl.Threshold(); !ok || got != tc.want {
				t.Errorf("Threshold() = %v, %v", got, ok)
			}
		})
	}
}

func TestHandle_PersistsRecord(t *testing.T) {
	f := newFixture(t, 1, nil)
	f.writeModel(t)
	ev := f.put("raw", "uploads/ANOMALY_2024-03-01-11-59-58.npy", npyOf(t, 128, 200, 0))

	if _, err := f.ctrl.Handle(context.Background(), ev); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	r, ok := f.store.Get(DefaultDeviceID, "2024-03-01-11-59-58")
	if !ok {
		t.Fatal("record not persisted under derived timestamp")
	}
	want := results.Record{
		DeviceID:         "test_rig_1",
		Timestamp:        "2024-03-01-11-59-58",
		MSEValue:         "1",
		Status:           "ANOMALY_DETECTED",
		Threshold:        "0.002",
		SourceFile:       "uploads/ANOMALY_2024-03-01-11-59-58.npy",
		WindowsProcessed: "5",
		ProcessedAt:      "2024-03-01T12:00:00Z",
	}
	if r != want {
		t.Errorf("record =\n%+v\nwant\n%+v", r, want)
	}
}

func TestReset_ForcesColdPath(t *testing.T) {
	f := newFixture(t, 0, nil)
	f.writeModel(t)
	ev := f.put("raw", "x.npy", npyOf(t, 128, 64, 0))

	if _, err := f.ctrl.Handle(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	f.ctrl.Reset()
	if f.ctrl.Ready() || !f.model.closed {
		t.Errorf("after Reset: ready=%v closed=%v", f.ctrl.Ready(), f.model.closed)
	}
	if _, ok := f.ctrl.Threshold(); ok {
		t.Error("threshold survived Reset")
	}

	res, err := f.ctrl.Handle(context.Background(), ev)
	if err != nil {
		t.Fatal(err)
	}
	if !res.ColdStart || f.loads != 2 {
		t.Errorf("cold=%v loads=%d, want a second cold start", res.ColdStart, f.loads)
	}
}

func TestHandle_ObserversSeeEveryInvocation(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []error
	)
	obs := ObserverFunc(func(_ context.Context, res *Result, err error) error {
		mu.Lock()
		defer mu.Unlock()
		if res == nil || res.InvocationID == "" {
			t.Error("observer got no invocation id")
		}
		seen = append(seen, err)
		return errors.New("observer errors are only logged")
	})
	f := newFixture(t, 0, func(o *Options) { o.Observers = []Observer{obs} })

	ev := f.put("raw", "x.npy", npyOf(t, 128, 64, 0))
	f.ctrl.Handle(context.Background(), ev) //nolint:errcheck
	f.writeModel(t)
	if _, err := f.ctrl.Handle(context.Background(), ev); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if len(seen) != 2 || seen[0] == nil || seen[1] != nil {
		t.Errorf("observer saw %v, want [InitError, nil]", seen)
	}
}

func TestHandle_SerializesConcurrentCalls(t *testing.T) {
	f := newFixture(t, 0, nil)
	f.writeModel(t)
	ev := f.put("raw", "x.npy", npyOf(t, 128, 64, 0))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.ctrl.Dispatch(context.Background(), ev)
		}()
	}
	wg.Wait()
	if f.model.overlap.Load() {
		t.Error("two invocations ran the model at the same time")
	}
	if f.loads != 1 {
		t.Errorf("loads = %d, want 1", f.loads)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Options{Fetcher: &mapFetcher{}}); err == nil {
		t.Error("New without loader: expected error")
	}
	if _, err := New(Options{Load: func(string) (inference.Model, error) { return nil, nil }}); err == nil {
		t.Error("New without fetcher: expected error")
	}
}

func TestTimestampKey(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"ANOMALY_2024-03-01-12-29-58.npy", "2024-03-01-12-29-58"},
		{"raw/device/NORMAL_2024-03-01-12-29-58.npy", "2024-03-01-12-29-58"},
		{"2004.02.12.10.32.39", "2004-02-12-10-32-39"},
		{"2nd_test/2004.02.12.10.32.39.npy", "2004-02-12-10-32-39"},
		{"bearing1.npy", "bearing1"},
		{"dir.with.dots/plain", "plain"},
		{"2024-03-01-12-29-58_then_2004.02.12.10.32.39.npy", "2024-03-01-12-29-58"},
	}
	for _, tc := range tests {
		if got := TimestampKey(tc.key); got != tc.want {
			t.Errorf("TimestampKey(%q) = %q, want %q", tc.key, got, tc.want)
		}
	}
}

func TestStateString(t *testing.T) {
	if StateReady.String() != "READY" || StatePersisting.String() != "PERSISTING" || State(99).String() != "UNKNOWN" {
		t.Error("unexpected state names")
	}
}
