package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Event names one stored object.
type Event struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

func (e Event) String() string { return e.Bucket + "/" + e.Key }

// Dispatch handles one event. Sources call it sequentially.
type Dispatch func(ctx context.Context, ev Event)

// Source produces events until ctx is cancelled.
type Source interface {
	Run(ctx context.Context, dispatch Dispatch) error
}

// DefaultSuffix is the object key suffix sources keep by default.
const DefaultSuffix = ".npy"

// Filter selects which keys are dispatched. An empty Suffix matches all.
type Filter struct {
	Suffix string
}

// Match reports whether key passes the filter.
func (f Filter) Match(key string) bool {
	return strings.HasSuffix(key, f.Suffix)
}

// ErrNoRecords is returned for a notification that names no objects.
var ErrNoRecords = errors.New("events: notification has no records")

type notification struct {
	Records []struct {
		S3 struct {
			Bucket struct {
				Name string `json:"name"`
			} `json:"bucket"`
			Object struct {
				Key string `json:"key"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`
}

// ParseNotification extracts every (bucket, key) pair from an S3 or MinIO
// bucket notification. Object keys arrive form-encoded and are unescaped.
func ParseNotification(body []byte) ([]Event, error) {
	var n notification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, fmt.Errorf("events: parse notification: %w", err)
	}
	if len(n.Records) == 0 {
		return nil, ErrNoRecords
	}
	out := make([]Event, 0, len(n.Records))
	for i, r := range n.Records {
		if r.S3.Bucket.Name == "" || r.S3.Object.Key == "" {
			return nil, fmt.Errorf("events: record %d: missing bucket or key", i)
		}
		key, err := url.QueryUnescape(r.S3.Object.Key)
		if err != nil {
			return nil, fmt.Errorf("events: record %d: unescape key %q: %w", i, r.S3.Object.Key, err)
		}
		out = append(out, Event{Bucket: r.S3.Bucket.Name, Key: key})
	}
	return out, nil
}

// DispatchNotification parses body and dispatches each record that passes f.
// It returns the number of events dispatched.
func DispatchNotification(ctx context.Context, body []byte, f Filter, dispatch Dispatch) (int, error) {
	evs, err := ParseNotification(body)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, ev := range evs {
		if !f.Match(ev.Key) {
			continue
		}
		dispatch(ctx, ev)
		n++
	}
	return n, nil
}
