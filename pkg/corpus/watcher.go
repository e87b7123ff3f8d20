package corpus

import (
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher monitors a corpus snapshot file for changes and calls a callback
// with the freshly loaded snapshot when the file is modified. It uses polling
// (not fsnotify) to keep dependencies minimal; corpus rebuilds are rare, so a
// coarse interval is fine.
//
// A snapshot that fails to load or validate is skipped with a warning and the
// previous one stays in effect.
type Watcher struct {
	path     string
	interval time.Duration
	onSwap   func(old, new *Snapshot)

	mu       sync.Mutex
	current  *Snapshot
	done     chan struct{}
	stopOnce sync.Once

	// last known file state for change detection
	lastMtime time.Time
	lastHash  [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 minutes.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher creates a snapshot file watcher. It loads the initial snapshot
// immediately and starts polling in a background goroutine. onSwap runs on
// the watcher goroutine after each successful reload.
func NewWatcher(path string, onSwap func(old, new *Snapshot), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Minute,
		onSwap:   onSwap,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	snap, hash, mtime, err := w.loadAndHash()
	if err != nil {
		return nil, fmt.Errorf("corpus: watcher initial load: %w", err)
	}
	w.current = snap
	w.lastHash = hash
	w.lastMtime = mtime

	go w.poll()
	return w, nil
}

// Current returns the most recently loaded valid snapshot.
func (w *Watcher) Current() *Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop stops the file watcher.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
}

// poll runs in a background goroutine, checking the snapshot file
// periodically.
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

// check reads the snapshot file and, if it has changed and is valid, calls
// onSwap and updates the current snapshot.
func (w *Watcher) check() {
	// Quick mtime check first to avoid hashing unchanged files.
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("corpus watcher: cannot stat file", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	mtime := w.lastMtime
	w.mu.Unlock()

	if info.ModTime().Equal(mtime) {
		return
	}

	// Mtime changed — read and hash.
	snap, hash, newMtime, err := w.loadAndHash()
	if err != nil {
		slog.Warn("corpus watcher: failed to load snapshot", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()

	if hash == w.lastHash {
		// File was touched but content is identical.
		w.lastMtime = newMtime
		w.mu.Unlock()
		return
	}

	old := w.current
	w.current = snap
	w.lastHash = hash
	w.lastMtime = newMtime
	w.mu.Unlock()

	slog.Info("corpus watcher: snapshot reloaded",
		"path", w.path,
		"old_version", old.Metadata.Version,
		"new_version", snap.Metadata.Version,
		"documents", len(snap.Documents),
	)

	// Invoke the callback outside the lock so it can safely call Current().
	if w.onSwap != nil {
		w.onSwap(old, snap)
	}
}

// loadAndHash reads the snapshot file, parses + validates it, and returns the
// snapshot alongside the file's SHA-256 hash and modification time. If the
// snapshot is invalid, it returns an error (the caller should keep the old one).
func (w *Watcher) loadAndHash() (*Snapshot, [sha256.Size]byte, time.Time, error) {
	var zeroHash [sha256.Size]byte

	f, err := os.Open(w.path)
	if err != nil {
		return nil, zeroHash, time.Time{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, zeroHash, time.Time{}, err
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, zeroHash, time.Time{}, err
	}

	hash := sha256.Sum256(data)

	snap, err := LoadFromReader(bytesReader(data))
	if err != nil {
		return nil, zeroHash, time.Time{}, err
	}

	return snap, hash, info.ModTime(), nil
}

// bytesReader wraps a byte slice in a minimal io.Reader.
type bytesReaderImpl struct {
	data []byte
	pos  int
}

func bytesReader(b []byte) io.Reader {
	return &bytesReaderImpl{data: b}
}

func (r *bytesReaderImpl) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}
