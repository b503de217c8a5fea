package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/echoguard/echoguard/scorer/internal/alerts"
	"github.com/echoguard/echoguard/scorer/internal/events"
	"github.com/echoguard/echoguard/scorer/internal/pipeline"
	"github.com/echoguard/echoguard/scorer/internal/results"
)

const (
	defaultLimit = 50
	maxLimit     = 1000
	maxBodyBytes = 1 << 20
)

// Controller is the part of pipeline.Controller the API drives.
type Controller interface {
	Handle(ctx context.Context, ev events.Event) (*pipeline.Result, error)
	State() pipeline.State
	Ready() bool
	Threshold() (float64, bool)
	DeviceID() string
}

// Options wires the handler. Results, Alerts and Counters are optional.
type Options struct {
	Controller Controller
	Results    results.Lister
	Backend    string
	Filter     events.Filter
	Alerts     interface{ Active() []*alerts.Alert }
	Counters   interface{ Snapshot() map[string]float64 }
}

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	opts Options
	mux  *http.ServeMux
}

// New creates a Handler and registers all routes.
func New(opts Options) http.Handler {
	h := &Handler{opts: opts, mux: http.NewServeMux()}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/results", h.listResults)
	h.mux.HandleFunc("/api/v1/alerts", h.alerts)
	h.mux.HandleFunc("/api/v1/invoke", h.invoke)
	h.mux.HandleFunc("/api/v1/events", h.events)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	c := h.opts.Controller
	resp := HealthResponse{
		State:    c.State().String(),
		Ready:    c.Ready(),
		DeviceID: c.DeviceID(),
		Backend:  h.opts.Backend,
	}
	if t, ok := c.Threshold(); ok {
		resp.Threshold = &t
	}
	if h.opts.Counters != nil {
		resp.Counters = h.opts.Counters.Snapshot()
	}
	jsonResp(w, http.StatusOK, resp)
}

// listResults returns GET /api/v1/results?limit=N.
func (h *Handler) listResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.opts.Results == nil {
		jsonErr(w, http.StatusNotImplemented, "result store "+h.opts.Backend+" cannot list")
		return
	}

	limit := defaultLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			jsonErr(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxLimit)
	}

	recs, err := h.opts.Results.List(r.Context(), limit)
	if err != nil {
		jsonErr(w, http.StatusBadGateway, err.Error())
		return
	}
	if recs == nil {
		recs = []results.Record{}
	}
	jsonResp(w, http.StatusOK, recs)
}

func (h *Handler) alerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.opts.Alerts == nil {
		jsonResp(w, http.StatusOK, []struct{}{})
		return
	}
	jsonResp(w, http.StatusOK, h.opts.Alerts.Active())
}

// invoke runs one invocation synchronously. The key filter does not apply:
// the caller named the object explicitly.
func (h *Handler) invoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req InvokeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.Bucket == "" || req.Key == "" {
		jsonErr(w, http.StatusBadRequest, "bucket and key are required")
		return
	}

	code, body := pipeline.Outcome(h.opts.Controller.Handle(r.Context(), events.Event{Bucket: req.Bucket, Key: req.Key}))
	jsonResp(w, code, body)
}

// events runs one invocation per notification record that passes the filter.
func (h *Handler) events(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	body, err := readAll(w, r)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := EventsResponse{Invocations: []Invocation{}}
	n, err := events.DispatchNotification(r.Context(), body, h.opts.Filter, func(ctx context.Context, ev events.Event) {
		code, out := pipeline.Outcome(h.opts.Controller.Handle(ctx, ev))
		resp.Invocations = append(resp.Invocations, Invocation{
			Bucket: ev.Bucket, Key: ev.Key, StatusCode: code, Body: out,
		})
	})
	if err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, events.ErrNoRecords) {
			code = http.StatusUnprocessableEntity
		}
		jsonErr(w, code, err.Error())
		return
	}
	resp.Dispatched = n
	jsonResp(w, http.StatusOK, resp)
}

// --- helpers ----------------------------------------------------------------

func readAll(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&raw); err != nil {
		return nil, errors.New("invalid JSON body: " + err.Error())
	}
	return raw, nil
}

func jsonResp(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
