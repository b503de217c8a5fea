package types

// Status is the two-valued classification of one scored snapshot.
type Status string

const (
	StatusHealthy Status = "HEALTHY"
	StatusAnomaly Status = "ANOMALY_DETECTED"
)

// ScoreResponse is the success body returned for one pipeline invocation.
type ScoreResponse struct {
	File         string  `json:"file"`
	Status       Status  `json:"status"`
	MSE          float64 `json:"mse"`
	Threshold    float64 `json:"threshold"`
	WindowsCount int     `json:"windows_count"`
}

// ErrorResponse is the failure body returned for one pipeline invocation.
// Error carries the failure class (e.g. "InitError"), Stage the pipeline
// stage that failed.
type ErrorResponse struct {
	Error   string `json:"error"`
	Stage   string `json:"stage"`
	Message string `json:"message"`
}
