// Package rpc serves the scorer's gRPC surface: the standard grpc.health.v1
// service, reporting NOT_SERVING until the pipeline has loaded its model and
// SERVING afterwards.
//
// Server wraps a grpc.Server with the API-key interceptor from package auth.
// Watch polls a readiness function and keeps the health status in sync.
package rpc
