package events

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long a file must stay quiet before it is dispatched.
const DefaultDebounce = 500 * time.Millisecond

// DirWatch dispatches files created or written in Dir. The bucket is Dir's
// base name and the key is the file name.
type DirWatch struct {
	Dir      string
	Filter   Filter
	Debounce time.Duration

	started func() // test hook
}

// Run implements Source. Repeated writes to the same file within the
// debounce window produce one event.
func (w *DirWatch) Run(ctx context.Context, dispatch Dispatch) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("events: watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.Dir); err != nil {
		return fmt.Errorf("events: watch %s: %w", w.Dir, err)
	}
	debounce := w.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	bucket := filepath.Base(filepath.Clean(w.Dir))
	slog.Info("events: watching directory", "dir", w.Dir)
	if w.started != nil {
		w.started()
	}

	var (
		mu     sync.Mutex
		timers = make(map[string]*time.Timer)
	)
	ready := make(chan string, 64)
	defer func() {
		mu.Lock()
		for _, t := range timers {
			t.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			name := filepath.Base(ev.Name)
			if !w.Filter.Match(name) {
				continue
			}
			mu.Lock()
			if t, ok := timers[name]; ok {
				t.Reset(debounce)
			} else {
				timers[name] = time.AfterFunc(debounce, func() {
					mu.Lock()
					delete(timers, name)
					mu.Unlock()
					select {
					case ready <- name:
					case <-ctx.Done():
					}
				})
			}
			mu.Unlock()

		case name := <-ready:
			dispatch(ctx, Event{Bucket: bucket, Key: name})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("events: watcher error", "err", err)
		}
	}
}
