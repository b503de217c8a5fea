package api

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	State     string             `json:"state"`
	Ready     bool               `json:"ready"`
	Threshold *float64           `json:"threshold,omitempty"`
	DeviceID  string             `json:"device_id"`
	Backend   string             `json:"store_backend"`
	Counters  map[string]float64 `json:"counters,omitempty"`
}

// InvokeRequest is the body of POST /api/v1/invoke.
type InvokeRequest struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// Invocation is one dispatched record in an EventsResponse.
type Invocation struct {
	Bucket     string `json:"bucket"`
	Key        string `json:"key"`
	StatusCode int    `json:"status_code"`
	Body       any    `json:"body"`
}

// EventsResponse is the payload for POST /api/v1/events.
type EventsResponse struct {
	Dispatched  int          `json:"dispatched"`
	Invocations []Invocation `json:"invocations"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
