// Package api implements the HTTP REST API for the scorer.
//
// New(opts) returns an http.Handler that serves:
//
//	GET  /api/v1/health          controller state, threshold, store backend, counters
//	GET  /api/v1/results?limit=N newest stored results first (501 if the backend cannot list)
//	GET  /api/v1/alerts          firing and recently resolved alerts
//	POST /api/v1/invoke          {"bucket": ..., "key": ...}: one synchronous invocation
//	POST /api/v1/events          S3/MinIO bucket notification: one invocation per matching record
//
// All endpoints respond with Content-Type: application/json. Invocation
// bodies are the same ScoreResponse / ErrorResponse the other event sources
// produce. No external HTTP framework is used.
package api
