package aliasstore

import (
	"context"
	"crypto/sha256"
	"log/slog"
	"sync"
	"time"

	"github.com/vogelwacht/telling/pkg/docstore"
)

// Watcher monitors the master document for out-of-band edits (synced files,
// manual corrections on the host) and calls a callback when its content
// changes. It polls and hashes rather than relying on filesystem
// notifications, which the docstore boundary does not expose.
type Watcher struct {
	store     docstore.Store
	interval  time.Duration
	onChange  func()
	selfWrite func(hash [sha256.Size]byte) bool

	mu       sync.Mutex
	lastHash [sha256.Size]byte
	seen     bool
	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithSelfWriteFilter suppresses notifications for content this process wrote
// itself. A changed document whose hash the filter claims advances the
// baseline without firing the callback, so the process's own saves do not
// masquerade as external edits. Wire [Store.WroteMaster] here.
func WithSelfWriteFilter(f func(hash [sha256.Size]byte) bool) WatcherOption {
	return func(w *Watcher) {
		w.selfWrite = f
	}
}

// NewWatcher creates a watcher over the master document in store. The
// current content is hashed as the baseline; onChange fires only for later
// modifications. Polling starts immediately in a background goroutine.
func NewWatcher(store docstore.Store, onChange func(), opts ...WatcherOption) *Watcher {
	w := &Watcher{
		store:    store,
		interval: 5 * time.Second,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	if data, err := store.Read(context.Background(), aliasDir, masterName); err == nil {
		w.lastHash = sha256.Sum256(data)
		w.seen = true
	}

	go w.poll()
	return w
}

// Stop stops the watcher.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
}

func (w *Watcher) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

// check re-reads and re-hashes the master document. The first appearance of
// the document also counts as a change.
func (w *Watcher) check() {
	data, err := w.store.Read(context.Background(), aliasDir, masterName)
	if err != nil {
		// Absent or unreadable master is not a change; the tiers handle it.
		return
	}
	hash := sha256.Sum256(data)

	w.mu.Lock()
	changed := !w.seen || hash != w.lastHash
	w.lastHash = hash
	w.seen = true
	w.mu.Unlock()

	if !changed {
		return
	}
	if w.selfWrite != nil && w.selfWrite(hash) {
		slog.Debug("aliasstore: master document change was our own save")
		return
	}
	slog.Info("aliasstore: master document changed externally")
	if w.onChange != nil {
		w.onChange()
	}
}
