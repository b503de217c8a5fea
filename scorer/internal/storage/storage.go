package storage

import (
	"context"
	"errors"
)

// ErrNotFound is wrapped by Fetch when the bucket or object does not exist.
var ErrNotFound = errors.New("object not found")

// Fetcher retrieves the bytes of one object.
type Fetcher interface {
	Fetch(ctx context.Context, bucket, key string) ([]byte, error)
}
