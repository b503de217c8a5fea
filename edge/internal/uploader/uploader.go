package uploader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	backoffInitial    = 1 * time.Second
	backoffMax        = 60 * time.Second
	backoffMultiplier = 2.0
	putTimeout        = 30 * time.Second

	contentType = "application/octet-stream"
)

// Putter is the subset of *minio.Client the uploader needs.
type Putter interface {
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Options configures the minio client.
type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// NewClient builds a minio client for an S3, MinIO or LocalStack endpoint.
func NewClient(opts Options) (*minio.Client, error) {
	c, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("uploader: new client %q: %w", opts.Endpoint, err)
	}
	return c, nil
}

// EnsureBucket creates bucket when it does not exist.
func EnsureBucket(ctx context.Context, c *minio.Client, bucket, region string) error {
	ok, err := c.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("uploader: check bucket %q: %w", bucket, err)
	}
	if ok {
		return nil
	}
	if err := c.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("uploader: make bucket %q: %w", bucket, err)
	}
	slog.Info("uploader: bucket created", "bucket", bucket)
	return nil
}

type item struct {
	key     string
	payload []byte
}

// Uploader buffers payloads and uploads them to one bucket.
type Uploader struct {
	putter Putter
	bucket string
	buf    chan item

	after func(time.Duration) <-chan time.Time // injectable for tests
}

// New creates an Uploader holding at most size pending payloads.
func New(p Putter, bucket string, size int) *Uploader {
	return &Uploader{
		putter: p,
		bucket: bucket,
		buf:    make(chan item, size),
		after:  time.After,
	}
}

// Enqueue adds a payload under key. When the buffer is full the oldest
// payload is evicted to make room.
func (u *Uploader) Enqueue(key string, payload []byte) {
	it := item{key: key, payload: payload}
	select {
	case u.buf <- it:
	default:
		select {
		case old := <-u.buf:
			slog.Warn("uploader: buffer full, evicted oldest snapshot",
				"evicted", old.key, "buffer_cap", cap(u.buf))
		default:
		}
		u.buf <- it
	}
}

// Pending returns the number of buffered payloads.
func (u *Uploader) Pending() int { return len(u.buf) }

// Put uploads one payload immediately.
func (u *Uploader) Put(ctx context.Context, key string, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, putTimeout)
	defer cancel()
	info, err := u.putter.PutObject(ctx, u.bucket, key, bytes.NewReader(payload), int64(len(payload)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("uploader: put %s/%s: %w", u.bucket, key, err)
	}
	slog.Info("uploader: snapshot uploaded", "bucket", u.bucket, "key", key, "size", info.Size)
	return nil
}

// Run drains the buffer until ctx is cancelled. A failed upload is retried
// after a backoff; permanent failures are logged and dropped.
func (u *Uploader) Run(ctx context.Context) {
	bo := newBackoff()

	for {
		select {
		case <-ctx.Done():
			return
		case it := <-u.buf:
			err := u.Put(ctx, it.key, it.payload)
			if err == nil {
				bo.reset()
				continue
			}
			if ctx.Err() != nil {
				return
			}
			if isPermanentError(err) {
				slog.Error("uploader: permanent upload error, discarding snapshot",
					"key", it.key, "err", err)
				continue
			}

			u.requeue(it)
			wait := bo.next()
			slog.Warn("uploader: upload failed, will retry",
				"key", it.key, "err", err, "retry_in", wait)
			select {
			case <-ctx.Done():
				return
			case <-u.after(wait):
			}
		}
	}
}

// requeue puts it back unless newer payloads have filled the buffer.
func (u *Uploader) requeue(it item) {
	select {
	case u.buf <- it:
	default:
		slog.Warn("uploader: buffer full, dropping failed snapshot", "key", it.key)
	}
}

// isPermanentError reports S3 errors that retrying cannot fix.
func isPermanentError(err error) bool {
	var resp minio.ErrorResponse
	if !errors.As(err, &resp) {
		return false
	}
	switch resp.Code {
	case "AccessDenied", "NoSuchBucket", "InvalidBucketName", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return true
	}
	return false
}

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	current time.Duration
}

func newBackoff() *backoff {
	return &backoff{current: backoffInitial}
}

// next returns the current backoff duration and advances the internal state.
func (b *backoff) next() time.Duration {
	d := b.current
	// ±25% jitter.
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}

	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > backoffMax {
		b.current = backoffMax
	}
	return d
}

func (b *backoff) reset() {
	b.current = backoffInitial
}
