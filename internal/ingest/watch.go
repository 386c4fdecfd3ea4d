package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long a path must stay quiet before its change is
// reported.
const DefaultDebounce = 300 * time.Millisecond

// Change is a settled change to one file below the root.
type Change struct {
	Path    string // relative, slash separated
	Removed bool
}

// ChangeFunc handles one batch of changes. An error stops the watch.
type ChangeFunc func(ctx context.Context, changes []Change) error

// Watcher reports file changes below a scanner's root. Directories the
// scanner ignores are not watched; directories created later are added as
// they appear.
type Watcher struct {
	scanner  *Scanner
	debounce time.Duration
	logger   *slog.Logger
}

// NewWatcher creates a watcher. A zero debounce means DefaultDebounce.
func NewWatcher(scanner *Scanner, debounce time.Duration, logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{scanner: scanner, debounce: debounce, logger: logger}
}

// Run watches until ctx is done or fn fails. It returns nil on
// cancellation.
func (w *Watcher) Run(ctx context.Context, fn ChangeFunc) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to start file watcher: %w", err)
	}
	defer func() { _ = fsw.Close() }()

	if err := w.addTree(fsw, w.scanner.Root()); err != nil {
		return err
	}
	w.logger.Info("watch_started", slog.String("root", w.scanner.Root()))

	deb := newDebouncer(w.debounce)
	defer deb.stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handle(fsw, deb, ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch_error", slog.String("error", err.Error()))
		case changes := <-deb.out:
			if err := fn(ctx, changes); err != nil {
				return err
			}
		}
	}
}

func (w *Watcher) handle(fsw *fsnotify.Watcher, deb *debouncer, ev fsnotify.Event) {
	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
		return
	}
	rel, err := w.scanner.Rel(ev.Name)
	if err != nil {
		return
	}
	if filepath.Base(ev.Name) == ignoreFileName {
		w.scanner.InvalidateIgnores()
	}
	if w.scanner.Ignored(rel, false) {
		return
	}

	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		deb.add(Change{Path: rel, Removed: true})
		return
	}

	info, err := os.Stat(ev.Name)
	if err != nil {
		deb.add(Change{Path: rel, Removed: true})
		return
	}
	if info.IsDir() {
		if ev.Has(fsnotify.Create) && !w.scanner.Ignored(rel, true) {
			if err := w.addTree(fsw, ev.Name); err != nil {
				w.logger.Warn("watch_add_failed", slog.String("path", rel), slog.String("error", err.Error()))
			}
		}
		return
	}
	if _, ok := w.scanner.Stat(ev.Name); ok {
		deb.add(Change{Path: rel})
	}
}

// addTree watches dir and every directory below it that is not ignored.
func (w *Watcher) addTree(fsw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != w.scanner.Root() {
			rel, relErr := w.scanner.Rel(p)
			if relErr != nil || w.scanner.Ignored(rel, true) {
				return filepath.SkipDir
			}
		}
		if err := fsw.Add(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipDir
			}
			return fmt.Errorf("failed to watch %s: %w", p, err)
		}
		return nil
	})
}

// debouncer holds the latest change per path and releases them together
// once no change arrived for the window.
type debouncer struct {
	window time.Duration
	out    chan []Change
	done   chan struct{}

	mu      sync.Mutex
	pending map[string]Change
	timer   *time.Timer
	stopped bool
}

func newDebouncer(window time.Duration) *debouncer {
	return &debouncer{
		window:  window,
		out:     make(chan []Change, 1),
		done:    make(chan struct{}),
		pending: make(map[string]Change),
	}
}

func (d *debouncer) add(c Change) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.pending[c.Path] = c
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

func (d *debouncer) flush() {
	d.mu.Lock()
	if d.stopped || len(d.pending) == 0 {
		d.mu.Unlock()
		return
	}
	batch := make([]Change, 0, len(d.pending))
	for _, c := range d.pending {
		batch = append(batch, c)
	}
	d.pending = make(map[string]Change)
	d.mu.Unlock()

	sort.Slice(batch, func(i, j int) bool { return batch[i].Path < batch[j].Path })
	select {
	case d.out <- batch:
	case <-d.done:
	}
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.done)
}
