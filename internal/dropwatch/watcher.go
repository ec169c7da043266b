// Package dropwatch ingests files and folders that appear in a drop
// directory. Entries are collected until the directory has been quiet for
// the debounce period and are then submitted as one batch into the root of
// the tree.
package dropwatch

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"time"

	"github.com/dmitrijs2005/treevault/internal/ingest"
	"github.com/dmitrijs2005/treevault/internal/logging"
	"github.com/fsnotify/fsnotify"
)

// Submitter receives the collected paths.
type Submitter interface {
	Ingest(ctx context.Context, parentID *int64, paths []string) (*ingest.BatchResult, error)
}

type Watcher struct {
	dir      string
	debounce time.Duration
	submit   Submitter
	log      logging.Logger

	watcher *fsnotify.Watcher
	pending map[string]struct{}
}

// New starts watching dir. Run must be called to process events.
func New(dir string, debounce time.Duration, submit Submitter, log logging.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{
		dir:      dir,
		debounce: debounce,
		submit:   submit,
		log:      log,
		watcher:  fw,
		pending:  make(map[string]struct{}),
	}, nil
}

// Run processes events until ctx is done, then closes the watcher.
// Entries still pending at that point are dropped.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()
	w.log.Info(ctx, "watching drop folder", "dir", w.dir, "debounce", w.debounce)

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			if len(w.pending) > 0 {
				w.log.Warn(ctx, "drop folder entries not ingested", "count", len(w.pending))
			}
			return nil

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if w.observe(ev) {
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Error(ctx, "drop folder watcher error", "error", err)

		case <-timer.C:
			w.flush(ctx)
		}
	}
}

// observe records top-level entries that were created, and keeps
// extending the quiet period while pending entries are being written.
func (w *Watcher) observe(ev fsnotify.Event) bool {
	if filepath.Dir(ev.Name) != filepath.Clean(w.dir) {
		return false
	}
	switch {
	case ev.Has(fsnotify.Create):
		w.pending[ev.Name] = struct{}{}
		return true
	case ev.Has(fsnotify.Write):
		_, ok := w.pending[ev.Name]
		return ok
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		delete(w.pending, ev.Name)
		return len(w.pending) > 0
	}
	return false
}

func (w *Watcher) flush(ctx context.Context) {
	if len(w.pending) == 0 {
		return
	}
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	clear(w.pending)

	batch, err := w.submit.Ingest(ctx, nil, paths)
	if err != nil {
		w.log.Error(ctx, "drop folder batch interrupted", "error", err)
		return
	}
	up, skipped, failed := batch.Counts()
	w.log.Info(ctx, "drop folder batch done", "batch", batch.BatchID, "uploaded", up, "skipped", skipped, "failed", failed)
}
