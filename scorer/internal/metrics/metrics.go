package metrics

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/echoguard/echoguard/pkg/types"
	"github.com/echoguard/echoguard/scorer/internal/pipeline"
)

const namespace = "echoguard"

// Recorder owns the pipeline metrics and the registry they live in.
type Recorder struct {
	reg *prometheus.Registry

	invocations  *prometheus.CounterVec
	stageErrors  *prometheus.CounterVec
	anomalies    prometheus.Counter
	persistFails prometheus.Counter
	coldStarts   prometheus.Counter
	aggregateErr prometheus.Histogram
	windows      prometheus.Histogram
	duration     prometheus.Histogram
}

// New registers the pipeline metrics plus the Go and process collectors on a
// fresh registry.
func New() *Recorder {
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invocations_total",
			Help:      "Pipeline invocations by outcome (success or failure).",
		}, []string{"outcome"}),
		stageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_errors_total",
			Help:      "Pipeline errors by kind, including swallowed persistence errors.",
		}, []string{"kind"}),
		anomalies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalies_total",
			Help:      "Invocations classified ANOMALY_DETECTED.",
		}),
		persistFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_failures_total",
			Help:      "Result-store writes that failed and were swallowed.",
		}),
		coldStarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cold_starts_total",
			Help:      "Invocations that had to load the model.",
		}),
		aggregateErr: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "aggregate_error",
			Help:      "Aggregate reconstruction error per successful invocation.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		windows: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "windows_per_invocation",
			Help:      "Windows scored per successful invocation.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "invocation_duration_seconds",
			Help:      "Wall time of each invocation.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	r.reg.MustRegister(
		r.invocations, r.stageErrors, r.anomalies, r.persistFails, r.coldStarts,
		r.aggregateErr, r.windows, r.duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Observe implements pipeline.Observer.
func (r *Recorder) Observe(_ context.Context, res *pipeline.Result, err error) error {
	if res != nil {
		if res.ColdStart {
			r.coldStarts.Inc()
		}
		r.duration.Observe(res.Duration.Seconds())
	}
	if err != nil {
		r.invocations.WithLabelValues("failure").Inc()
		kind, ok := pipeline.KindOf(err)
		if !ok {
			kind = "InternalError"
		}
		r.stageErrors.WithLabelValues(string(kind)).Inc()
		return nil
	}

	r.invocations.WithLabelValues("success").Inc()
	r.aggregateErr.Observe(res.Verdict.Aggregate)
	r.windows.Observe(float64(res.Windows))
	if res.Verdict.Status == types.StatusAnomaly {
		r.anomalies.Inc()
	}
	if res.PersistErr != nil {
		r.persistFails.Inc()
		r.stageErrors.WithLabelValues(string(pipeline.KindPersistence)).Inc()
	}
	return nil
}

// Handler serves the registry in the format the client negotiates.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		mfs, err := r.reg.Gather()
		if err != nil {
			slog.Warn("metrics: gather", "err", err)
		}
		format := expfmt.Negotiate(req.Header)
		w.Header().Set("Content-Type", string(format))
		enc := expfmt.NewEncoder(w, format)
		for _, mf := range mfs {
			if err := enc.Encode(mf); err != nil {
				slog.Warn("metrics: encode", "family", mf.GetName(), "err", err)
				return
			}
		}
		if c, ok := enc.(expfmt.Closer); ok {
			c.Close() //nolint:errcheck
		}
	})
}

// Snapshot returns the total of every echoguard_* family, keyed by name.
// Histograms report their sample count.
func (r *Recorder) Snapshot() map[string]float64 {
	mfs, err := r.reg.Gather()
	if err != nil {
		slog.Warn("metrics: gather", "err", err)
	}
	out := make(map[string]float64)
	for _, mf := range mfs {
		name := mf.GetName()
		if len(name) <= len(namespace) || name[:len(namespace)+1] != namespace+"_" {
			continue
		}
		out[name] = sumFamily(mf)
	}
	return out
}

// sumFamily adds up all counter, gauge, or untyped values in a MetricFamily.
// Histograms contribute their sample count.
func sumFamily(mf *dto.MetricFamily) float64 {
	if mf == nil {
		return 0
	}
	var total float64
	for _, m := range mf.GetMetric() {
		switch {
		case m.Counter != nil:
			total += m.Counter.GetValue()
		case m.Gauge != nil:
			total += m.Gauge.GetValue()
		case m.Untyped != nil:
			total += m.Untyped.GetValue()
		case m.Histogram != nil:
			total += float64(m.Histogram.GetSampleCount())
		}
	}
	return total
}
