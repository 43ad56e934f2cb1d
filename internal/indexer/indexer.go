package indexer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/filescope/filescope/internal/embed"
	"github.com/filescope/filescope/internal/store"
	"github.com/filescope/filescope/internal/watcher"
	"github.com/filescope/filescope/pkg/types"
)

// State is the indexer lifecycle state.
type State int32

const (
	StateStopped State = iota
	StateRunning
	StatePaused
	StateWatching
	StateError
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateWatching:
		return "watching"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

var (
	// ErrAlreadyRunning is returned by Start when the worker is active.
	ErrAlreadyRunning = errors.New("indexer already running")
	// ErrNoWatchDirs is returned by Start when no roots are configured.
	ErrNoWatchDirs = errors.New("no watch directories configured")
)

// StatusCallback observes state transitions. Handlers must not block.
type StatusCallback func(state State, message string)

// ProgressCallback observes stats snapshots. Handlers must not block.
type ProgressCallback func(stats Stats)

// task is one file queued for (re)embedding.
type task struct {
	path       string
	size       int64
	modifiedAt int64
	kind       types.FileKind
}

// Indexer drives discovery, staleness checks, embedding production, and
// store writes for a set of watched roots.
type Indexer struct {
	cfg Config

	mu       sync.Mutex
	files    *store.Store
	images   *store.ImageStore
	text     embed.TextProducer
	visual   embed.VisualProducer
	w        *watcher.Watcher
	onStatus StatusCallback
	onProg   ProgressCallback
	errMsg   string

	state    atomic.Int32
	stopFlag atomic.Bool
	paused   atomic.Bool
	pauseMu  sync.Mutex
	pauseCnd *sync.Cond

	indexed   atomic.Int64
	skipped   atomic.Int64
	pending   atomic.Int64
	bytes     atomic.Int64
	startTime atomic.Int64 // unix nanos

	taskCh chan task
	wg     sync.WaitGroup
}

// New creates a stopped indexer. A store and text producer must be set
// before Start.
func New(cfg Config) *Indexer {
	cfg.applyDefaults()
	idx := &Indexer{cfg: cfg}
	idx.pauseCnd = sync.NewCond(&idx.pauseMu)
	idx.state.Store(int32(StateStopped))
	return idx
}

// SetStore attaches the vector store. The image table rides on the same
// handle.
func (idx *Indexer) SetStore(s *store.Store) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.files = s
	idx.images = store.NewImageStore(s.RawDB())
}

// SetTextProducer attaches the text embedding producer.
func (idx *Indexer) SetTextProducer(p embed.TextProducer) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.text = p
}

// SetVisualProducer attaches the optional visual producer; without one,
// image files are skipped.
func (idx *Indexer) SetVisualProducer(p embed.VisualProducer) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.visual = p
}

// SetStatusCallback installs a state-transition observer.
func (idx *Indexer) SetStatusCallback(cb StatusCallback) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.onStatus = cb
}

// SetProgressCallback installs a stats observer invoked after each batch.
func (idx *Indexer) SetProgressCallback(cb ProgressCallback) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.onProg = cb
}

// AddWatchDir registers another root. Takes effect on the next Start.
func (idx *Indexer) AddWatchDir(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, d := range idx.cfg.WatchDirs {
		if d == abs {
			return nil
		}
	}
	idx.cfg.WatchDirs = append(idx.cfg.WatchDirs, abs)
	return nil
}

// RemoveWatchDir drops a root and removes its records from the store.
func (idx *Indexer) RemoveWatchDir(ctx context.Context, dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	idx.mu.Lock()
	for i, d := range idx.cfg.WatchDirs {
		if d == abs {
			idx.cfg.WatchDirs = append(idx.cfg.WatchDirs[:i], idx.cfg.WatchDirs[i+1:]...)
			break
		}
	}
	files, images := idx.files, idx.images
	idx.mu.Unlock()

	if files != nil {
		if err := files.DeleteUnder(ctx, abs); err != nil {
			return err
		}
	}
	if images != nil {
		if err := images.DeleteUnder(ctx, abs); err != nil {
			return err
		}
	}
	return nil
}

// AddExcludePattern appends an exclude pattern.
func (idx *Indexer) AddExcludePattern(pattern string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.cfg.ExcludePatterns = append(idx.cfg.ExcludePatterns, pattern)
}

// EnableWatching toggles watch mode for the next Start.
func (idx *Indexer) EnableWatching(enabled bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.cfg.EnableWatching = enabled
}

// State returns the current lifecycle state.
func (idx *Indexer) State() State {
	return State(idx.state.Load())
}

// LastError returns the message recorded on the transition to StateError.
func (idx *Indexer) LastError() string {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.errMsg
}

// Start launches the background worker. It fails if the worker is already
// active or nothing is configured to watch.
func (idx *Indexer) Start() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if State(idx.state.Load()) != StateStopped && State(idx.state.Load()) != StateError {
		return ErrAlreadyRunning
	}
	if len(idx.cfg.WatchDirs) == 0 {
		return ErrNoWatchDirs
	}
	if idx.files == nil {
		return fmt.Errorf("%w: store not set", types.ErrNotInitialized)
	}
	if idx.text == nil {
		return fmt.Errorf("%w: text producer not set", types.ErrNotInitialized)
	}

	idx.stopFlag.Store(false)
	idx.paused.Store(false)
	idx.errMsg = ""
	idx.indexed.Store(0)
	idx.skipped.Store(0)
	idx.pending.Store(0)
	idx.bytes.Store(0)
	idx.startTime.Store(time.Now().UnixNano())
	idx.taskCh = make(chan task, idx.cfg.BatchSize*4)

	// setState would re-lock mu; inline the transition
	idx.state.Store(int32(StateRunning))
	if cb := idx.onStatus; cb != nil {
		cb(StateRunning, "initial crawl")
	}
	idx.wg.Add(1)
	go idx.run()
	return nil
}

// Stop requests cancellation. Non-blocking; use Wait for deterministic
// teardown.
func (idx *Indexer) Stop() {
	idx.stopFlag.Store(true)
	// wake a paused worker so it can observe the stop flag
	idx.pauseMu.Lock()
	idx.paused.Store(false)
	idx.pauseCnd.Broadcast()
	idx.pauseMu.Unlock()
}

// Wait blocks until the worker goroutine has exited.
func (idx *Indexer) Wait() {
	idx.wg.Wait()
}

// Pause parks the worker at its next checkpoint without releasing state.
func (idx *Indexer) Pause() {
	if State(idx.state.Load()) == StateRunning {
		idx.paused.Store(true)
		idx.setState(StatePaused, "paused")
	}
}

// Resume wakes a paused worker.
func (idx *Indexer) Resume() {
	idx.pauseMu.Lock()
	if idx.paused.Load() {
		idx.paused.Store(false)
		idx.setState(StateRunning, "resumed")
		idx.pauseCnd.Broadcast()
	}
	idx.pauseMu.Unlock()
}

// checkpoint is polled at directory boundaries and before each encode.
// It blocks while paused and reports whether the worker should exit.
func (idx *Indexer) checkpoint() bool {
	idx.pauseMu.Lock()
	for idx.paused.Load() && !idx.stopFlag.Load() {
		idx.pauseCnd.Wait()
	}
	idx.pauseMu.Unlock()
	return idx.stopFlag.Load()
}

func (idx *Indexer) setState(s State, msg string) {
	idx.state.Store(int32(s))
	idx.mu.Lock()
	cb := idx.onStatus
	if s == StateError {
		idx.errMsg = msg
	}
	idx.mu.Unlock()
	if cb != nil {
		cb(s, msg)
	}
}

// abandon settles the pending counter for queued tasks dropped on stop.
func (idx *Indexer) abandon(n int) {
	if n > 0 {
		idx.pending.Add(int64(-n))
	}
}

func (idx *Indexer) fail(err error) {
	idx.stopFlag.Store(true)
	idx.setState(StateError, err.Error())
}

// run is the worker goroutine: initial crawl, then either watch mode or
// shutdown.
func (idx *Indexer) run() {
	defer idx.wg.Done()

	ctx := context.Background()

	idx.mu.Lock()
	roots := append([]string(nil), idx.cfg.WatchDirs...)
	idx.mu.Unlock()

	batch := make([]task, 0, idx.cfg.BatchSize)
	for _, root := range roots {
		if idx.crawl(ctx, root, &batch) {
			break // stop or error observed
		}
	}

	// flush the crawl remainder
	if !idx.stopFlag.Load() && len(batch) > 0 {
		if err := idx.flush(ctx, batch); err != nil {
			idx.fail(err)
		}
		batch = batch[:0]
	}

	if idx.stopFlag.Load() {
		if State(idx.state.Load()) != StateError {
			idx.setState(StateStopped, "stopped")
		}
		return
	}

	if !idx.cfg.EnableWatching {
		idx.setState(StateStopped, "crawl complete")
		return
	}

	idx.watchLoop(ctx, roots)
}

// crawl walks one root with an explicit stack. Returns true when the stop
// flag was observed.
func (idx *Indexer) crawl(ctx context.Context, root string, batch *[]task) bool {
	stack := []string{root}

	for len(stack) > 0 {
		if idx.checkpoint() {
			return true
		}

		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := os.ReadDir(dir)
		if err != nil {
			// unreadable directory: note it and move on
			idx.skipped.Add(1)
			continue
		}
		// deterministic order helps tests; ReadDir already sorts by name
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

		for _, entry := range entries {
			name := entry.Name()
			if name == "." || name == ".." || idx.cfg.excluded(name) {
				if !entry.IsDir() {
					idx.skipped.Add(1)
				}
				continue
			}

			full := filepath.Join(dir, name)

			if entry.Type()&fs.ModeSymlink != 0 {
				continue // never follow symlinks
			}

			if entry.IsDir() {
				if idx.cfg.Recursive {
					stack = append(stack, full)
				}
				continue
			}
			if !entry.Type().IsRegular() {
				continue
			}

			info, err := entry.Info()
			if err != nil {
				idx.skipped.Add(1)
				continue
			}

			if done := idx.consider(ctx, full, info.Size(), info.ModTime().Unix(), batch); done {
				return true
			}
		}
	}
	return false
}

// consider applies the size, kind, and staleness gates to one regular file
// and enqueues it when stale. Returns true when the stop flag was observed
// during a batch flush.
func (idx *Indexer) consider(ctx context.Context, path string, size, modifiedAt int64, batch *[]task) bool {
	if size > idx.cfg.MaxFileSizeMB*1024*1024 {
		idx.skipped.Add(1)
		return false
	}

	kind := types.KindForPath(path)
	isImage := kind == types.KindImage && idx.visual != nil && embed.IsSupportedImage(path)
	if !kind.IsTextual() && !isImage {
		idx.skipped.Add(1)
		return false
	}

	fresh, err := idx.freshness(ctx, path, modifiedAt, isImage)
	if err != nil {
		idx.fail(fmt.Errorf("freshness check %s: %w", path, err))
		return true
	}
	if fresh {
		idx.skipped.Add(1)
		return false
	}

	*batch = append(*batch, task{path: path, size: size, modifiedAt: modifiedAt, kind: kind})
	idx.pending.Add(1)

	if len(*batch) >= idx.cfg.BatchSize {
		if idx.checkpoint() {
			return true
		}
		if err := idx.flush(ctx, *batch); err != nil {
			idx.fail(err)
			return true
		}
		*batch = (*batch)[:0]
		if idx.cfg.BatchDelay > 0 {
			time.Sleep(idx.cfg.BatchDelay)
		}
	}
	return false
}

func (idx *Indexer) freshness(ctx context.Context, path string, modifiedAt int64, isImage bool) (bool, error) {
	if isImage {
		return idx.images.IsFresh(ctx, path, modifiedAt)
	}
	return idx.files.IsFresh(ctx, path, modifiedAt)
}

// flush embeds a batch and writes it in one store transaction. Per-file
// failures are counted and skipped; only a store write failure is returned.
func (idx *Indexer) flush(ctx context.Context, batch []task) error {
	var textTasks []task
	var imageTasks []task
	for _, t := range batch {
		if t.kind == types.KindImage {
			imageTasks = append(imageTasks, t)
		} else {
			textTasks = append(textTasks, t)
		}
	}

	if err := idx.flushText(ctx, textTasks); err != nil {
		return err
	}
	if err := idx.flushImages(ctx, imageTasks); err != nil {
		return err
	}

	idx.mu.Lock()
	cb := idx.onProg
	idx.mu.Unlock()
	if cb != nil {
		cb(idx.Stats())
	}
	return nil
}

func (idx *Indexer) flushText(ctx context.Context, tasks []task) error {
	if len(tasks) == 0 {
		return nil
	}

	contents := make([]string, 0, len(tasks))
	kept := make([]task, 0, len(tasks))
	for i, t := range tasks {
		if idx.checkpoint() {
			// in-flight results are discarded on stop; the kept tasks
			// and the rest of this batch are no longer pending
			idx.abandon(len(kept) + len(tasks) - i)
			return nil
		}
		text, err := readHead(t.path, idx.text.MaxInputBytes())
		if err != nil || len(text) == 0 {
			idx.skipped.Add(1)
			idx.pending.Add(-1)
			continue
		}
		contents = append(contents, string(text))
		kept = append(kept, t)
	}
	if len(kept) == 0 {
		return nil
	}

	vecs, err := idx.text.EncodeBatch(ctx, contents)
	if err != nil {
		// batch encode failed; retry per file so one bad input doesn't
		// sink its whole batch
		vecs = make([][]float32, len(kept))
		for i, content := range contents {
			if idx.checkpoint() {
				idx.abandon(len(kept))
				return nil
			}
			vec, encErr := idx.text.EncodeText(ctx, content)
			if encErr != nil {
				vecs[i] = nil
				continue
			}
			vecs[i] = vec
		}
	}

	now := time.Now().Unix()
	records := make([]*store.Record, 0, len(kept))
	for i, t := range kept {
		if vecs[i] == nil {
			idx.skipped.Add(1)
			idx.pending.Add(-1)
			continue
		}
		rec := store.NewRecord(t.path, t.size, t.modifiedAt)
		rec.Embedding = vecs[i]
		rec.IndexedAt = now
		records = append(records, rec)
	}

	if err := idx.files.UpsertBatch(ctx, records); err != nil {
		return fmt.Errorf("store batch: %w", err)
	}

	for _, rec := range records {
		idx.indexed.Add(1)
		idx.pending.Add(-1)
		idx.bytes.Add(rec.ByteSize)
	}
	return nil
}

func (idx *Indexer) flushImages(ctx context.Context, tasks []task) error {
	if len(tasks) == 0 {
		return nil
	}
	if idx.visual == nil {
		// the crawl and watch gates keep image tasks out without a
		// producer; if one slips through anyway, drop it, don't crash
		idx.skipped.Add(int64(len(tasks)))
		idx.abandon(len(tasks))
		return nil
	}
	for i, t := range tasks {
		if idx.checkpoint() {
			idx.abandon(len(tasks) - i)
			return nil
		}
		enc, err := idx.visual.EncodeImage(ctx, t.path)
		if err != nil {
			idx.skipped.Add(1)
			idx.pending.Add(-1)
			continue
		}
		rec := &store.ImageRecord{
			Path:       t.path,
			Name:       filepath.Base(t.path),
			Embedding:  enc.Vector,
			Width:      enc.Width,
			Height:     enc.Height,
			ByteSize:   t.size,
			ModifiedAt: t.modifiedAt,
		}
		if err := idx.images.Upsert(ctx, rec); err != nil {
			return fmt.Errorf("store image: %w", err)
		}
		idx.indexed.Add(1)
		idx.pending.Add(-1)
		idx.bytes.Add(t.size)
	}
	return nil
}

// readHead reads at most max bytes from a file.
func readHead(path string, max int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, max)
	n, err := f.Read(buf)
	if n == 0 && err != nil {
		return nil, err
	}
	return buf[:n], nil
}
