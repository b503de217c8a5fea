package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Options configures an S3 client.
type S3Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// S3 fetches objects from an S3-compatible endpoint.
type S3 struct {
	client *minio.Client
}

// NewS3 builds a client. No request is made until the first Fetch.
func NewS3(opts S3Options) (*S3, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: create s3 client: %w", err)
	}
	return &S3{client: client}, nil
}

// Client exposes the underlying minio client for callers that also upload.
func (s *S3) Client() *minio.Client { return s.client }

// Fetch implements Fetcher.
func (s *S3) Fetch(ctx context.Context, bucket, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, s3Err(bucket, key, err)
	}
	defer obj.Close()

	// GetObject is lazy; Stat surfaces missing keys and denied access.
	if _, err := obj.Stat(); err != nil {
		return nil, s3Err(bucket, key, err)
	}
	b, err := io.ReadAll(obj)
	if err != nil {
		return nil, s3Err(bucket, key, err)
	}
	return b, nil
}

func s3Err(bucket, key string, err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return fmt.Errorf("%w: s3://%s/%s: %s", ErrNotFound, bucket, key, err.Error())
	}
	return fmt.Errorf("s3://%s/%s: %w", bucket, key, err)
}
