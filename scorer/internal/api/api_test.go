package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/echoguard/echoguard/pkg/types"
	"github.com/echoguard/echoguard/scorer/internal/alerts"
	"github.com/echoguard/echoguard/scorer/internal/api"
	"github.com/echoguard/echoguard/scorer/internal/events"
	"github.com/echoguard/echoguard/scorer/internal/pipeline"
	"github.com/echoguard/echoguard/scorer/internal/results"
	"github.com/echoguard/echoguard/scorer/internal/score"
)

// --- test helpers -----------------------------------------------------------

// fakeController scores every key as HEALTHY except keys containing "bad",
// which fail at fetch.
type fakeController struct {
	mu        sync.Mutex
	handled   []events.Event
	threshold *float64
}

func (f *fakeController) Handle(_ context.Context, ev events.Event) (*pipeline.Result, error) {
	f.mu.Lock()
	f.handled = append(f.handled, ev)
	f.mu.Unlock()
	if strings.Contains(ev.Key, "bad") {
		return nil, &pipeline.Error{Kind: pipeline.KindFetch, Stage: pipeline.StateFetching, Err: errors.New("Access Denied")}
	}
	return &pipeline.Result{
		Event:     ev,
		Verdict:   score.Verdict{Aggregate: 0.001, Status: types.StatusHealthy},
		Threshold: 0.002,
		Windows:   5,
	}, nil
}

func (f *fakeController) State() pipeline.State {
	if f.threshold != nil {
		return pipeline.StateReady
	}
	return pipeline.StateUninitialized
}
func (f *fakeController) Ready() bool      { return f.threshold != nil }
func (f *fakeController) DeviceID() string { return "test_rig_1" }
func (f *fakeController) Threshold() (float64, bool) {
	if f.threshold == nil {
		return 0, false
	}
	return *f.threshold, true
}

type fakeAlerts []*alerts.Alert

func (a fakeAlerts) Active() []*alerts.Alert { return a }

type fakeCounters map[string]float64

func (c fakeCounters) Snapshot() map[string]float64 { return c }

type brokenLister struct{}

func (brokenLister) List(context.Context, int) ([]results.Record, error) {
	return nil, errors.New("scan failed")
}

func newHandler(ctrl *fakeController, mutate func(*api.Options)) http.Handler {
	opts := api.Options{
		Controller: ctrl,
		Backend:    "memory",
		Filter:     events.Filter{Suffix: ".npy"},
	}
	if mutate != nil {
		mutate(&opts)
	}
	return api.New(opts)
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, path, strings.NewReader(body)))
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q, want application/json", ct)
	}
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v (body: %s)", err, rr.Body.String())
	}
}

func notification(keys ...string) string {
	recs := make([]string, len(keys))
	for i, k := range keys {
		recs[i] = `{"s3":{"bucket":{"name":"uploads"},"object":{"key":"` + k + `"}}}`
	}
	return `{"Records":[` + strings.Join(recs, ",") + `]}`
}

// --- /api/v1/health ---------------------------------------------------------

func TestHealth_Cold(t *testing.T) {
	rr := do(t, newHandler(&fakeController{}, nil), http.MethodGet, "/api/v1/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var resp map[string]any
	decode(t, rr, &resp)
	if resp["state"] != "UNINITIALIZED" || resp["ready"] != false {
		t.Errorf("state/ready: got %v/%v", resp["state"], resp["ready"])
	}
	if _, ok := resp["threshold"]; ok {
		t.Error("threshold present before it is loaded")
	}
	if resp["store_backend"] != "memory" || resp["device_id"] != "test_rig_1" {
		t.Errorf("backend/device: got %v/%v", resp["store_backend"], resp["device_id"])
	}
}

func TestHealth_Warm(t *testing.T) {
	thr := 0.0
	ctrl := &fakeController{threshold: &thr}
	h := newHandler(ctrl, func(o *api.Options) {
		o.Counters = fakeCounters{"echoguard_invocations_total": 3}
	})
	var resp api.HealthResponse
	decode(t, do(t, h, http.MethodGet, "/api/v1/health", ""), &resp)

	if resp.State != "READY" || !resp.Ready {
		t.Errorf("state/ready: got %s/%v", resp.State, resp.Ready)
	}
	if resp.Threshold == nil || *resp.Threshold != 0 {
		t.Errorf("threshold: got %v, want 0", resp.Threshold)
	}
	if resp.Counters["echoguard_invocations_total"] != 3 {
		t.Errorf("counters: got %v", resp.Counters)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := newHandler(&fakeController{}, nil)
	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/api/v1/health"},
		{http.MethodPost, "/api/v1/results"},
		{http.MethodDelete, "/api/v1/alerts"},
		{http.MethodGet, "/api/v1/invoke"},
		{http.MethodGet, "/api/v1/events"},
	} {
		if rr := do(t, h, tc.method, tc.path, ""); rr.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s: got %d, want 405", tc.method, tc.path, rr.Code)
		}
	}
}

// --- /api/v1/results --------------------------------------------------------

func TestResults_NewestFirstWithLimit(t *testing.T) {
	st := results.NewMemory(0)
	for _, ts := range []string{"2024-01-01-00-00-00", "2024-01-03-00-00-00", "2024-01-02-00-00-00"} {
		st.Put(context.Background(), results.NewRecord("rig", ts, ts+".npy", 0.1, 0.002, types.StatusAnomaly, 5, time.Now())) //nolint:errcheck
	}
	h := newHandler(&fakeController{}, func(o *api.Options) { o.Results = st })

	var recs []results.Record
	rr := do(t, h, http.MethodGet, "/api/v1/results?limit=2", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	decode(t, rr, &recs)
	if len(recs) != 2 {
		t.Fatalf("len: got %d, want 2", len(recs))
	}
	if recs[0].Timestamp != "2024-01-03-00-00-00" || recs[1].Timestamp != "2024-01-02-00-00-00" {
		t.Errorf("order: got %s, %s", recs[0].Timestamp, recs[1].Timestamp)
	}
	if recs[0].MSEValue != "0.1" || recs[0].Status != "ANOMALY_DETECTED" {
		t.Errorf("record: %+v", recs[0])
	}
}

func TestResults_EmptyStoreIsEmptyArray(t *testing.T) {
	h := newHandler(&fakeController{}, func(o *api.Options) { o.Results = results.NewMemory(0) })
	rr := do(t, h, http.MethodGet, "/api/v1/results", "")
	if got := strings.TrimSpace(rr.Body.String()); got != "[]" {
		t.Errorf("body: got %s, want []", got)
	}
}

func TestResults_Errors(t *testing.T) {
	tests := []struct {
		name   string
		lister results.Lister
		query  string
		want   int
	}{
		{"no lister", nil, "", http.StatusNotImplemented},
		{"zero limit", results.NewMemory(0), "?limit=0", http.StatusBadRequest},
		{"bad limit", results.NewMemory(0), "?limit=ten", http.StatusBadRequest},
		{"backend error", brokenLister{}, "", http.StatusBadGateway},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHandler(&fakeController{}, func(o *api.Options) { o.Results = tc.lister })
			if rr := do(t, h, http.MethodGet, "/api/v1/results"+tc.query, ""); rr.Code != tc.want {
				t.Errorf("status: got %d, want %d", rr.Code, tc.want)
			}
		})
	}
}

// --- /api/v1/alerts ---------------------------------------------------------

func TestAlerts(t *testing.T) {
	rr := do(t, newHandler(&fakeController{}, nil), http.MethodGet, "/api/v1/alerts", "")
	if got := strings.TrimSpace(rr.Body.String()); got != "[]" {
		t.Errorf("no engine: got %s, want []", got)
	}

	h := newHandler(&fakeController{}, func(o *api.Options) {
		o.Alerts = fakeAlerts{{RuleName: "hot", DeviceID: "rig", State: "firing"}}
	})
	var out []alerts.Alert
	decode(t, do(t, h, http.MethodGet, "/api/v1/alerts", ""), &out)
	if len(out) != 1 || out[0].RuleName != "hot" {
		t.Errorf("alerts: got %+v", out)
	}
}

// --- /api/v1/invoke ---------------------------------------------------------

func TestInvoke_Success(t *testing.T) {
	ctrl := &fakeController{}
	rr := do(t, newHandler(ctrl, nil), http.MethodPost, "/api/v1/invoke", `{"bucket":"uploads","key":"NORMAL_2024-01-01-00-00-00.npy"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (%s)", rr.Code, rr.Body.String())
	}
	var resp types.ScoreResponse
	decode(t, rr, &resp)
	want := types.ScoreResponse{File: "NORMAL_2024-01-01-00-00-00.npy", Status: types.StatusHealthy, MSE: 0.001, Threshold: 0.002, WindowsCount: 5}
	if resp != want {
		t.Errorf("body: got %+v, want %+v", resp, want)
	}
}

func TestInvoke_IgnoresFilter(t *testing.T) {
	ctrl := &fakeController{}
	rr := do(t, newHandler(ctrl, nil), http.MethodPost, "/api/v1/invoke", `{"bucket":"uploads","key":"snap.bin"}`)
	if rr.Code != http.StatusOK || len(ctrl.handled) != 1 {
		t.Errorf("status %d, handled %d: explicit invoke must bypass the suffix filter", rr.Code, len(ctrl.handled))
	}
}

func TestInvoke_PipelineFailure(t *testing.T) {
	rr := do(t, newHandler(&fakeController{}, nil), http.MethodPost, "/api/v1/invoke", `{"bucket":"uploads","key":"bad.npy"}`)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status: got %d, want 500", rr.Code)
	}
	var resp types.ErrorResponse
	decode(t, rr, &resp)
	want := types.ErrorResponse{Error: "FetchError", Stage: "FETCHING", Message: "Fetch Error: Access Denied"}
	if resp != want {
		t.Errorf("body: got %+v, want %+v", resp, want)
	}
}

func TestInvoke_BadRequest(t *testing.T) {
	h := newHandler(&fakeController{}, nil)
	for _, body := range []string{`not json`, `{}`, `{"bucket":"b"}`, `{"key":"k.npy"}`} {
		if rr := do(t, h, http.MethodPost, "/api/v1/invoke", body); rr.Code != http.StatusBadRequest {
			t.Errorf("body %q: got %d, want 400", body, rr.Code)
		}
	}
}

// --- /api/v1/events ---------------------------------------------------------

func TestEvents_DispatchesMatchingRecords(t *testing.T) {
	ctrl := &fakeController{}
	body := notification("a%2B1.npy", "readme.txt", "bad.npy")
	rr := do(t, newHandler(ctrl, nil), http.MethodPost, "/api/v1/events", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (%s)", rr.Code, rr.Body.String())
	}

	var resp api.EventsResponse
	decode(t, rr, &resp)
	if resp.Dispatched != 2 || len(resp.Invocations) != 2 {
		t.Fatalf("dispatched: got %d (%d invocations), want 2", resp.Dispatched, len(resp.Invocations))
	}
	if inv := resp.Invocations[0]; inv.Key != "a+1.npy" || inv.StatusCode != 200 {
		t.Errorf("first: got %+v", inv)
	}
	if inv := resp.Invocations[1]; inv.Key != "bad.npy" || inv.StatusCode != 500 {
		t.Errorf("second: got %+v", inv)
	}
	if len(ctrl.handled) != 2 {
		t.Errorf("handled: got %d, want 2", len(ctrl.handled))
	}
}

func TestEvents_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"not json", `{{`, http.StatusBadRequest},
		{"no records", `{"Records":[]}`, http.StatusUnprocessableEntity},
		{"missing key", `{"Records":[{"s3":{"bucket":{"name":"b"},"object":{}}}]}`, http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := &fakeController{}
			if rr := do(t, newHandler(ctrl, nil), http.MethodPost, "/api/v1/events", tc.body); rr.Code != tc.want {
				t.Errorf("status: got %d, want %d", rr.Code, tc.want)
			}
			if len(ctrl.handled) != 0 {
				t.Errorf("handled %d events for a rejected notification", len(ctrl.handled))
			}
		})
	}
}
