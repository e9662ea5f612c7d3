// Package trigger watches a local raw directory and hands each newly
// written object to the batch runner, one at a time, once its writes have
// settled.
package trigger

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"

	perrors "github.com/clickstream/clickstream-etl/internal/errors"
	"github.com/clickstream/clickstream-etl/internal/observability"
	"github.com/clickstream/clickstream-etl/internal/runner/batch"
	"github.com/clickstream/clickstream-etl/internal/storage"
)

// Processor handles object notifications. *batch.Runner implements it.
type Processor interface {
	Process(ctx context.Context, refs []batch.ObjectRef) (batch.Response, error)
}

// Options configures a Watcher.
type Options struct {
	// Attempts is how many times a retryable failure is tried. Default 3.
	Attempts   int
	RetryDelay time.Duration
	// Settle is the quiet period after the last write before a file is
	// processed. Default 500ms.
	Settle time.Duration
	Clock  clockwork.Clock
	Logger     *slog.Logger
}

// Watcher emulates object-created notifications for a LocalStorage. Files
// written in place (cp, editors) are picked up once they stop changing;
// atomic renames (LocalStorage.Put) settle immediately after the rename.
type Watcher struct {
	store   *storage.LocalStorage
	proc    Processor
	opts    Options
	ready   chan struct{}
	pending *pendingSet

	// seen holds object keys already handed to the processor
	seen map[string]bool
}

// NewWatcher creates a watcher over store's base directory.
func NewWatcher(store *storage.LocalStorage, proc Processor, opts Options) *Watcher {
	if opts.Attempts < 1 {
		opts.Attempts = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	if opts.Settle <= 0 {
		opts.Settle = 500 * time.Millisecond
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger()
	}
	return &Watcher{
		store:   store,
		proc:    proc,
		opts:    opts,
		ready:   make(chan struct{}),
		pending: newPendingSet(opts.Settle),
		seen:    make(map[string]bool),
	}
}

// Ready is closed once the initial directory tree is being watched.
func (w *Watcher) Ready() <-chan struct{} {
	return w.ready
}

// Run watches until ctx is cancelled. Objects that exist before Run starts
// are not processed.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("trigger: watcher: %w", err)
	}
	defer fw.Close()

	if err := w.addTree(ctx, fw, w.store.BasePath(), false); err != nil {
		return err
	}
	ticker := w.opts.Clock.NewTicker(max(w.opts.Settle/2, time.Millisecond))
	defer ticker.Stop()

	close(w.ready)
	w.opts.Logger.Info("watching raw directory", "path", w.store.BasePath())

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.opts.Logger.Warn("watcher error", "error", err)
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			switch {
			case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
				w.handleWrite(ctx, fw, ev.Name)
			case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
				w.pending.drop(ev.Name)
			}
		case <-ticker.Chan():
			for _, path := range w.pending.due(w.opts.Clock.Now()) {
				w.dispatch(ctx, path)
			}
		}
	}
}

func (w *Watcher) handleWrite(ctx context.Context, fw *fsnotify.Watcher, path string) {
	if isHidden(path) {
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		// Removed or renamed before we looked
		return
	}
	if info.IsDir() {
		// Files may land in the new directory before it is watched
		if err := w.addTree(ctx, fw, path, true); err != nil {
			w.opts.Logger.Warn("failed to watch directory", "path", path, "error", err)
		}
		return
	}
	w.pending.touch(path, w.opts.Clock.Now())
}

// addTree watches dir and every directory below it. With track set, files
// already present are queued like new writes.
func (w *Watcher) addTree(ctx context.Context, fw *fsnotify.Watcher, dir string, track bool) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p != dir && isHidden(p) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if err := fw.Add(p); err != nil {
				return fmt.Errorf("trigger: watch %s: %w", p, err)
			}
			return nil
		}
		if track {
			w.pending.touch(p, w.opts.Clock.Now())
		}
		return nil
	})
}

func (w *Watcher) dispatch(ctx context.Context, path string) {
	key, ok := w.store.ObjectPath(path)
	if !ok || w.seen[key] {
		return
	}
	w.seen[key] = true

	refs := []batch.ObjectRef{{Key: key}}
	for attempt := 1; ; attempt++ {
		resp, err := w.proc.Process(ctx, refs)
		if err == nil {
			w.opts.Logger.Info("object processed", "key", key, "status", resp.StatusCode, "body", resp.Body)
			return
		}
		if !perrors.IsRetryable(err) || attempt >= w.opts.Attempts {
			w.opts.Logger.Error("object failed", "key", key, "attempts", attempt, "error", err)
			return
		}
		w.opts.Logger.Warn("retrying object", "key", key, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return
		case <-w.opts.Clock.After(w.opts.RetryDelay):
		}
	}
}

// pendingSet tracks files with recent writes until they have been quiet
// for settle.
type pendingSet struct {
	settle time.Duration
	last   map[string]time.Time
}

func newPendingSet(settle time.Duration) *pendingSet {
	return &pendingSet{settle: settle, last: make(map[string]time.Time)}
}

func (p *pendingSet) touch(path string, now time.Time) {
	p.last[path] = now
}

func (p *pendingSet) drop(path string) {
	delete(p.last, path)
}

// due removes and returns, sorted, the paths quiet for at least settle.
func (p *pendingSet) due(now time.Time) []string {
	var ready []string
	for path, t := range p.last {
		if now.Sub(t) >= p.settle {
			ready = append(ready, path)
			delete(p.last, path)
		}
	}
	sort.Strings(ready)
	return ready
}

func isHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
