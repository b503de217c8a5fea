package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/common/expfmt"

	"github.com/echoguard/echoguard/pkg/types"
	"github.com/echoguard/echoguard/scorer/internal/pipeline"
	"github.com/echoguard/echoguard/scorer/internal/score"
)

func success(status types.Status, mse float64, windows int, cold bool) *pipeline.Result {
	return &pipeline.Result{
		InvocationID: "id",
		Verdict:      score.Verdict{Aggregate: mse, Status: status},
		Windows:      windows,
		ColdStart:    cold,
		Duration:     20 * time.Millisecond,
	}
}

func TestRecorder_Observe(t *testing.T) {
	r := New()
	ctx := context.Background()

	r.Observe(ctx, success(types.StatusHealthy, 0.001, 5, true), nil)  //nolint:errcheck
	r.Observe(ctx, success(types.StatusAnomaly, 1.0, 1, false), nil)   //nolint:errcheck
	withPersistErr := success(types.StatusAnomaly, 0.5, 2, false)
	withPersistErr.PersistErr = &pipeline.Error{Kind: pipeline.KindPersistence, Stage: pipeline.StatePersisting, Err: errors.New("down")}
	r.Observe(ctx, withPersistErr, nil) //nolint:errcheck
	r.Observe(ctx, &pipeline.Result{InvocationID: "x", ColdStart: true},
		&pipeline.Error{Kind: pipeline.KindInit, Stage: pipeline.StateUninitialized, Err: errors.New("missing")}) //nolint:errcheck

	snap := r.Snapshot()
	want := map[string]float64{
		"echoguard_invocations_total":      4,
		"echoguard_stage_errors_total":     2,
		"echoguard_anomalies_total":        2,
		"echoguard_persist_failures_total": 1,
		"echoguard_cold_starts_total":      2,
		"echoguard_aggregate_error":        3,
		"echoguard_windows_per_invocation": 3,
	}
	for name, v := range want {
		if snap[name] != v {
			t.Errorf("%s = %v, want %v", name, snap[name], v)
		}
	}
	if _, ok := snap["go_goroutines"]; ok {
		t.Error("Snapshot includes non-echoguard families")
	}
}

func TestHandler_ServesTextFormat(t *testing.T) {
	r := New()
	r.Observe(context.Background(), success(types.StatusAnomaly, 1, 1, true), nil) //nolint:errcheck

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}

	var p expfmt.TextParser
	mfs, err := p.TextToMetricFamilies(rec.Body)
	if err != nil {
		t.Fatalf("parse exposition: %v", err)
	}
	if got := sumFamily(mfs["echoguard_anomalies_total"]); got != 1 {
		t.Errorf("echoguard_anomalies_total = %v, want 1", got)
	}
	inv := mfs["echoguard_invocations_total"]
	if inv == nil || len(inv.GetMetric()) != 1 || inv.GetMetric()[0].GetLabel()[0].GetValue() != "success" {
		t.Errorf("invocations family = %v", inv)
	}
}

func TestSumFamily_Nil(t *testing.T) {
	if sumFamily(nil) != 0 {
		t.Error("sumFamily(nil) != 0")
	}
}
