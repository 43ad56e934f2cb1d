// Package watcher delivers batched filesystem-change events for a set of
// watched root directories, backed by fsnotify. Raw notifications are
// coalesced per path over a short latency window and handed to a single
// callback on a dedicated goroutine, so the callback never races itself.
package watcher

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Op classifies a filesystem change.
type Op int

const (
	OpUnknown Op = iota
	OpCreated
	OpModified
	OpDeleted
	OpRenamed
	OpDirCreated
	OpDirDeleted
)

func (o Op) String() string {
	switch o {
	case OpCreated:
		return "created"
	case OpModified:
		return "modified"
	case OpDeleted:
		return "deleted"
	case OpRenamed:
		return "renamed"
	case OpDirCreated:
		return "dir-created"
	case OpDirDeleted:
		return "dir-deleted"
	default:
		return "unknown"
	}
}

// Event is one coalesced filesystem change.
type Event struct {
	Path      string
	Op        Op
	IsDir     bool
	IsSymlink bool
}

// Callback receives a batch of events. It runs on the watcher's delivery
// goroutine and must return promptly.
type Callback func(events []Event)

// DefaultBatchLatency is the default event batching window.
const DefaultBatchLatency = 500 * time.Millisecond

var (
	// ErrRunning is returned when mutating a started watcher.
	ErrRunning = errors.New("watcher is running")
	// ErrNoPaths is returned by Start when no roots are registered.
	ErrNoPaths = errors.New("no paths registered")
)

// Watcher watches one or more directory trees. fsnotify watches are
// per-directory, so each subtree is walked on Start and newly created
// directories are added on the fly.
type Watcher struct {
	mu      sync.Mutex
	roots   []string
	cb      Callback
	latency time.Duration
	running bool

	fsw  *fsnotify.Watcher
	dirs map[string]bool // directories currently under watch
	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a stopped watcher with the default batch latency.
func New() *Watcher {
	return &Watcher{
		latency: DefaultBatchLatency,
		dirs:    make(map[string]bool),
	}
}

// AddPath registers a root to watch. Only callable while stopped.
func (w *Watcher) AddPath(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return ErrRunning
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	for _, r := range w.roots {
		if r == abs {
			return nil
		}
	}
	w.roots = append(w.roots, abs)
	return nil
}

// RemovePath unregisters a root. Only callable while stopped.
func (w *Watcher) RemovePath(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return ErrRunning
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	for i, r := range w.roots {
		if r == abs {
			w.roots = append(w.roots[:i], w.roots[i+1:]...)
			break
		}
	}
	return nil
}

// SetCallback installs the event handler. Only callable while stopped.
func (w *Watcher) SetCallback(cb Callback) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return ErrRunning
	}
	w.cb = cb
	return nil
}

// SetBatchLatency adjusts the batching window. Only callable while stopped.
func (w *Watcher) SetBatchLatency(d time.Duration) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return ErrRunning
	}
	if d <= 0 {
		d = DefaultBatchLatency
	}
	w.latency = d
	return nil
}

// Start begins watching and delivering batches. It fails when no roots are
// registered.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return ErrRunning
	}
	if len(w.roots) == 0 {
		return ErrNoPaths
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsw = fsw
	w.dirs = make(map[string]bool)

	for _, root := range w.roots {
		w.watchTree(root)
	}

	w.done = make(chan struct{})
	w.running = true
	w.wg.Add(1)
	go w.deliverLoop(fsw, w.done, w.latency, w.cb)
	return nil
}

// Stop ceases delivery and releases OS resources. Idempotent. In-flight
// callbacks that already started may complete; Stop joins the delivery
// goroutine before returning.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.done)
	_ = w.fsw.Close()
	w.mu.Unlock()

	w.wg.Wait()
}

// watchTree adds root and its subdirectories to the fsnotify watch set.
// Symlinks are never followed; unreadable subtrees are skipped.
func (w *Watcher) watchTree(root string) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // permission denied and friends: skip
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.fsw.Add(path); err == nil {
			w.dirs[path] = true
		}
		return nil
	})
}

// deliverLoop accumulates raw fsnotify events and flushes a coalesced batch
// every latency interval.
func (w *Watcher) deliverLoop(fsw *fsnotify.Watcher, done chan struct{}, latency time.Duration, cb Callback) {
	defer w.wg.Done()

	ticker := time.NewTicker(latency)
	defer ticker.Stop()

	var pending []Event
	index := make(map[string]int) // path -> position in pending

	flush := func() {
		if len(pending) == 0 {
			return
		}
		batch := pending
		pending = nil
		index = make(map[string]int)
		if cb != nil {
			cb(batch)
		}
	}

	for {
		select {
		case <-done:
			flush()
			return
		case <-ticker.C:
			flush()
		case raw, ok := <-fsw.Events:
			if !ok {
				flush()
				return
			}
			if raw.Has(fsnotify.Chmod) {
				continue // attribute churn carries no content change
			}
			ev := w.translate(raw)
			if ev.Op == OpUnknown {
				continue
			}
			if i, seen := index[ev.Path]; seen {
				pending[i] = coalesce(pending[i], ev)
			} else {
				index[ev.Path] = len(pending)
				pending = append(pending, ev)
			}
		case _, ok := <-fsw.Errors:
			if !ok {
				flush()
				return
			}
			// watch errors are non-fatal; the next crawl repairs any gap
		}
	}
}

// translate maps a raw fsnotify event onto the coalesced event model and
// maintains the directory watch set for creations and removals.
func (w *Watcher) translate(raw fsnotify.Event) Event {
	ev := Event{Path: raw.Name}

	switch {
	case raw.Has(fsnotify.Create):
		info, err := os.Lstat(raw.Name)
		if err == nil {
			ev.IsDir = info.IsDir()
			ev.IsSymlink = info.Mode()&fs.ModeSymlink != 0
		}
		if ev.IsDir {
			ev.Op = OpDirCreated
			w.mu.Lock()
			if w.running {
				w.watchTree(raw.Name)
			}
			w.mu.Unlock()
		} else {
			ev.Op = OpCreated
		}
	case raw.Has(fsnotify.Write):
		ev.Op = OpModified
	case raw.Has(fsnotify.Remove):
		w.mu.Lock()
		wasDir := w.dirs[raw.Name]
		delete(w.dirs, raw.Name)
		w.mu.Unlock()
		if wasDir {
			ev.IsDir = true
			ev.Op = OpDirDeleted
		} else {
			ev.Op = OpDeleted
		}
	case raw.Has(fsnotify.Rename):
		// Only the old name is reported here; the new name arrives as its
		// own Create event.
		ev.Op = OpRenamed
	default:
		ev.Op = OpUnknown
	}

	return ev
}

// coalesce merges two events at the same path within one batch window.
func coalesce(old, next Event) Event {
	switch {
	case old.Op == OpCreated && next.Op == OpModified:
		return old // created-then-written is still a creation
	case old.Op == OpCreated && next.Op == OpDeleted:
		return next
	case old.Op == OpDeleted && next.Op == OpCreated:
		// replaced in place: report as a modification
		next.Op = OpModified
		return next
	default:
		return next
	}
}
