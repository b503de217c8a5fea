// Package storage fetches raw spectrogram payloads by (bucket, key).
//
// S3 talks to AWS S3, MinIO or LocalStack through minio-go. Dir serves a local
// directory tree where the bucket is a subdirectory of the root. A missing
// object from either backend wraps ErrNotFound; every other failure is
// returned with the backend's message intact so callers can surface it
// verbatim.
package storage
