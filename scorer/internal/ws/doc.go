// Package ws implements the WebSocket live feed for the scorer.
//
// Hub manages a set of connected clients. Every interval it broadcasts the
// most recent stored results, and it pushes each invocation outcome as soon
// as the pipeline reports it (Hub implements pipeline.Observer).
//
// Message format sent to clients:
//
//	{"event": "results",    "data": {"generated_at": ..., "results": [...]}}
//	{"event": "invocation", "data": {"invocation_id": ..., "status_code": 200, "body": {...}}}
//
// The upgrader accepts all origins. The endpoint is mounted at /ws/stream.
package ws
