package results

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

type memEntry struct {
	record    Record
	updatedAt time.Time
}

// Memory is a thread-safe in-process Store keyed by (device_id, timestamp).
// A background goroutine (Run) evicts entries not written within the TTL.
// A zero TTL keeps entries forever.
type Memory struct {
	mu   sync.RWMutex
	data map[string]*memEntry
	ttl  time.Duration
	now  func() time.Time // injectable for deterministic tests
}

// NewMemory creates a Memory store with the given TTL.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		data: make(map[string]*memEntry),
		ttl:  ttl,
		now:  time.Now,
	}
}

func memKey(deviceID, timestamp string) string { return deviceID + "\x00" + timestamp }

// Put implements Store.
func (m *Memory) Put(_ context.Context, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[memKey(r.DeviceID, r.Timestamp)] = &memEntry{record: r, updatedAt: m.now()}
	return nil
}

// Get returns the record for the given key.
func (m *Memory) Get(deviceID, timestamp string) (Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.data[memKey(deviceID, timestamp)]
	if !ok {
		return Record{}, false
	}
	return e.record, true
}

// List implements Lister. Entries past the TTL are excluded even before
// eviction.
func (m *Memory) List(_ context.Context, limit int) ([]Record, error) {
	m.mu.RLock()
	out := make([]Record, 0, len(m.data))
	cutoff := m.now().Add(-m.ttl)
	for _, e := range m.data {
		if m.ttl > 0 && !e.updatedAt.After(cutoff) {
			continue
		}
		out = append(out, e.record)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return newestFirst(out[i], out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Count returns the number of entries held, including stale ones.
func (m *Memory) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// Evict removes entries last written at or before now minus the TTL and
// returns how many were removed.
func (m *Memory) Evict(now time.Time) int {
	if m.ttl <= 0 {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := now.Add(-m.ttl)
	removed := 0
	for k, e := range m.data {
		if !e.updatedAt.After(cutoff) {
			delete(m.data, k)
			removed++
		}
	}
	return removed
}

// Run evicts stale entries every half TTL (minimum 1 second) until ctx is
// cancelled. It returns immediately when the TTL is zero.
func (m *Memory) Run(ctx context.Context) {
	if m.ttl <= 0 {
		return
	}
	interval := m.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := m.Evict(now); n > 0 {
				slog.Debug("results: evicted stale records", "count", n)
			}
		}
	}
}
