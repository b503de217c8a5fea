// Package uploader buffers encoded snapshots and puts them into an
// S3-compatible bucket with minio-go.
//
// Enqueue is non-blocking: when the buffer is full the oldest snapshot is
// dropped. Run drains the buffer and backs off exponentially (1s to 60s,
// ±25% jitter) while storage is unreachable. Errors that retrying cannot fix
// (access denied, missing bucket) discard the snapshot.
package uploader
