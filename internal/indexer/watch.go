package indexer

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/filescope/filescope/internal/embed"
	"github.com/filescope/filescope/internal/watcher"
	"github.com/filescope/filescope/pkg/types"
)

// watchLoop transitions to StateWatching after the initial crawl has
// quiesced and services filesystem events until Stop.
func (idx *Indexer) watchLoop(ctx context.Context, roots []string) {
	w := watcher.New()
	for _, root := range roots {
		if err := w.AddPath(root); err != nil {
			idx.fail(fmt.Errorf("watch %s: %w", root, err))
			return
		}
	}
	w.SetCallback(func(events []watcher.Event) {
		idx.handleEvents(ctx, events)
	})
	if err := w.Start(); err != nil {
		idx.fail(fmt.Errorf("start watcher: %w", err))
		return
	}

	idx.mu.Lock()
	idx.w = w
	idx.mu.Unlock()

	idx.setState(StateWatching, "watching")

	// drain tasks produced by event handling until Stop
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	batch := make([]task, 0, idx.cfg.BatchSize)
	for {
		select {
		case t := <-idx.taskCh:
			batch = append(batch, t)
			if len(batch) < idx.cfg.BatchSize {
				continue
			}
		case <-ticker.C:
			if idx.stopFlag.Load() {
				w.Stop()
				if State(idx.state.Load()) != StateError {
					idx.setState(StateStopped, "stopped")
				}
				return
			}
			if len(batch) == 0 {
				continue
			}
		}
		if err := idx.flush(ctx, batch); err != nil {
			w.Stop()
			idx.fail(err)
			return
		}
		batch = batch[:0]
	}
}

// handleEvents runs on the watcher's delivery goroutine. Deletions hit the
// store directly; content changes are queued for the worker.
func (idx *Indexer) handleEvents(ctx context.Context, events []watcher.Event) {
	for _, ev := range events {
		if idx.stopFlag.Load() {
			return
		}
		if idx.cfg.excludedPath(ev.Path) {
			continue
		}

		switch ev.Op {
		case watcher.OpDeleted, watcher.OpRenamed:
			// a rename away looks like a delete on the reported side;
			// the new name arrives as its own create
			_ = idx.files.Delete(ctx, ev.Path)
			_ = idx.images.Delete(ctx, ev.Path)

		case watcher.OpDirDeleted:
			_ = idx.files.DeleteUnder(ctx, ev.Path)
			_ = idx.images.DeleteUnder(ctx, ev.Path)

		case watcher.OpCreated, watcher.OpModified:
			idx.enqueuePath(ctx, ev.Path)

		case watcher.OpDirCreated:
			idx.enqueueTree(ctx, ev.Path)
		}
	}
}

// enqueueTree walks a newly created subtree and queues its files. It runs
// on the watcher's delivery goroutine, so it only stats and sends; encoding
// and store writes stay on the worker.
func (idx *Indexer) enqueueTree(ctx context.Context, root string) {
	stack := []string{root}
	for len(stack) > 0 {
		if idx.stopFlag.Load() {
			return
		}
		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if idx.cfg.excluded(entry.Name()) {
				continue
			}
			full := filepath.Join(dir, entry.Name())
			if entry.Type()&fs.ModeSymlink != 0 {
				continue
			}
			if entry.IsDir() {
				if idx.cfg.Recursive {
					stack = append(stack, full)
				}
				continue
			}
			if entry.Type().IsRegular() {
				idx.enqueuePath(ctx, full)
			}
		}
	}
}

func (idx *Indexer) enqueuePath(ctx context.Context, path string) {
	info, err := os.Lstat(path)
	if err != nil || !info.Mode().IsRegular() {
		return
	}
	if info.Size() > idx.cfg.MaxFileSizeMB*1024*1024 {
		return
	}
	kind := types.KindForPath(path)
	isImage := kind == types.KindImage && idx.visual != nil && embed.IsSupportedImage(path)
	if !kind.IsTextual() && !isImage {
		return
	}
	select {
	case idx.taskCh <- task{path: path, size: info.Size(), modifiedAt: info.ModTime().Unix(), kind: kind}:
		idx.pending.Add(1)
	default:
		// queue full: drop and let the next modify event retry
	}
}

// ForceReindex re-embeds one file regardless of freshness.
func (idx *Indexer) ForceReindex(ctx context.Context, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: not a regular file: %s", types.ErrInvalidInput, path)
	}
	kind := types.KindForPath(path)
	switch {
	case kind == types.KindImage:
		if idx.visual == nil {
			return fmt.Errorf("%w: no visual producer for %s", types.ErrNotInitialized, path)
		}
		if !embed.IsSupportedImage(path) {
			return fmt.Errorf("%w: %s", embed.ErrUnsupportedImage, path)
		}
	case !kind.IsTextual():
		return fmt.Errorf("%w: cannot embed %s: %s", types.ErrInvalidInput, kind, path)
	}
	batch := []task{{
		path:       path,
		size:       info.Size(),
		modifiedAt: info.ModTime().Unix(),
		kind:       kind,
	}}
	idx.pending.Add(1)
	return idx.flush(ctx, batch)
}

// ForceReindexDir drops the subtree's records and crawls it afresh.
func (idx *Indexer) ForceReindexDir(ctx context.Context, dir string) error {
	if err := idx.files.DeleteUnder(ctx, dir); err != nil {
		return err
	}
	if err := idx.images.DeleteUnder(ctx, dir); err != nil {
		return err
	}
	batch := make([]task, 0, idx.cfg.BatchSize)
	if idx.crawl(ctx, dir, &batch) {
		return types.ErrCancelled
	}
	if len(batch) > 0 {
		return idx.flush(ctx, batch)
	}
	return nil
}
