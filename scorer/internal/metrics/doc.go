// Package metrics records pipeline outcomes as Prometheus metrics and serves
// them in the exposition format negotiated with the scraper.
//
// Recorder implements pipeline.Observer. Handler encodes the registry with
// expfmt; Snapshot flattens it into name → value totals for the health
// endpoint.
package metrics
