// Package inbox watches a drop directory and reports capture files once
// they have stopped changing, so they can be submitted for analysis.
package inbox

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/text/unicode/norm"
)

// DefaultSettleDelay is how long a file must be quiet before it is reported.
const DefaultSettleDelay = 2 * time.Second

const (
	watchErrInitBackoff = time.Second
	watchErrMaxBackoff  = 30 * time.Second
	minCheckInterval    = 10 * time.Millisecond
)

// ignoredSuffixes are partial downloads and editor temporaries.
var ignoredSuffixes = []string{".partial", ".tmp", ".swp", ".crdownload", ".part"}

// File is a settled capture file in the inbox.
type File struct {
	Path string // absolute path on disk
	Name string // NFC-normalized base name, used as the upload name
	Size int64
}

// FsWatcher is the subset of *fsnotify.Watcher used here.
type FsWatcher interface {
	Add(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsnotifyWatcher struct {
	w *fsnotify.Watcher
}

func (f fsnotifyWatcher) Add(name string) error         { return f.w.Add(name) }
func (f fsnotifyWatcher) Close() error                  { return f.w.Close() }
func (f fsnotifyWatcher) Events() <-chan fsnotify.Event { return f.w.Events }
func (f fsnotifyWatcher) Errors() <-chan error          { return f.w.Errors }

func newFsnotifyWatcher() (FsWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return fsnotifyWatcher{w: w}, nil
}

// Watcher reports settled files in a single directory (not recursive).
type Watcher struct {
	dir    string
	settle time.Duration
	logger *slog.Logger

	newWatcher func() (FsWatcher, error)
	now        func() time.Time
	checkEvery time.Duration
}

// NewWatcher creates a Watcher for dir. settle <= 0 means DefaultSettleDelay.
func NewWatcher(dir string, settle time.Duration, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}

	if settle <= 0 {
		settle = DefaultSettleDelay
	}

	return &Watcher{
		dir:        dir,
		settle:     settle,
		logger:     logger,
		newWatcher: newFsnotifyWatcher,
		now:        time.Now,
		checkEvery: max(settle/4, minCheckInterval),
	}
}

// Watch sends every settled file to out until ctx is canceled. Files that
// are already in the directory are reported too. A file is reported once
// per quiet period; writing to it again makes it pending again.
func (w *Watcher) Watch(ctx context.Context, out chan<- File) error {
	watcher, err := w.newWatcher()
	if err != nil {
		return fmt.Errorf("inbox: creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("inbox: watching %s: %w", w.dir, err)
	}

	pending := make(map[string]time.Time)

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("inbox: reading %s: %w", w.dir, err)
	}

	for _, e := range entries {
		if !e.IsDir() && !Ignored(e.Name()) {
			pending[filepath.Join(w.dir, e.Name())] = w.now()
		}
	}

	w.logger.Info("watching inbox",
		slog.String("dir", w.dir),
		slog.Duration("settle_delay", w.settle),
		slog.Int("existing", len(pending)),
	)

	ticker := time.NewTicker(w.checkEvery)
	defer ticker.Stop()

	errBackoff := watchErrInitBackoff

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events():
			if !ok {
				return nil
			}

			w.handleEvent(ev, pending)

			errBackoff = watchErrInitBackoff

		case watchErr, ok := <-watcher.Errors():
			if !ok {
				return nil
			}

			w.logger.Warn("inbox watcher error",
				slog.String("error", watchErr.Error()),
				slog.Duration("backoff", errBackoff),
			)

			if sleepErr := timeSleep(ctx, errBackoff); sleepErr != nil {
				return nil
			}

			errBackoff = min(errBackoff*2, watchErrMaxBackoff)

		case <-ticker.C:
			if err := w.flush(ctx, pending, out); err != nil {
				return nil
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event, pending map[string]time.Time) {
	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}

	if Ignored(filepath.Base(ev.Name)) {
		return
	}

	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		pending[ev.Name] = w.now()
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		delete(pending, ev.Name)
	}
}

// flush reports pending files that have been quiet for the settle delay.
func (w *Watcher) flush(ctx context.Context, pending map[string]time.Time, out chan<- File) error {
	now := w.now()

	for path, seen := range pending {
		if now.Sub(seen) < w.settle {
			continue
		}

		delete(pending, path)

		info, err := os.Stat(path)
		if err != nil {
			w.logger.Debug("inbox file vanished", slog.String("path", path))
			continue
		}

		if !info.Mode().IsRegular() || info.Size() == 0 {
			continue
		}

		f := File{
			Path: path,
			Name: norm.NFC.String(filepath.Base(path)),
			Size: info.Size(),
		}

		w.logger.Debug("inbox file settled", slog.String("name", f.Name), slog.Int64("size", f.Size))

		select {
		case out <- f:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

// Ignored reports whether a file name is never picked up: dotfiles,
// editor backups, and partial or temporary files.
func Ignored(name string) bool {
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "~") {
		return true
	}

	lower := strings.ToLower(name)
	for _, suffix := range ignoredSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}

	return false
}

// timeSleep waits for the given duration or until the context is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
