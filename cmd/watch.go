package cmd

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 100 * time.Millisecond

// fileWatcher reports changes to a fixed set of files. It watches their
// directories, so files replaced by rename-on-save keep being tracked.
type fileWatcher struct {
	watcher  *fsnotify.Watcher
	files    map[string]bool
	debounce time.Duration
	logger   *slog.Logger
}

func newFileWatcher(paths []string, debounce time.Duration, logger *slog.Logger) (*fileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	fw := &fileWatcher{
		watcher:  w,
		files:    make(map[string]bool, len(paths)),
		debounce: debounce,
		logger:   logger,
	}
	dirs := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			w.Close()
			return nil, err
		}
		fw.files[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := w.Add(dir); err != nil {
			w.Close()
			return nil, err
		}
	}
	return fw, nil
}

// Run calls onChange with the changed files, once per burst of events, until
// ctx is done.
func (fw *fileWatcher) Run(ctx context.Context, onChange func(changed []string)) error {
	defer fw.watcher.Close()

	pending := make(map[string]bool)
	timer := time.NewTimer(fw.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.watcher.Events:
			if !ok {
				return nil
			}
			if !fw.relevant(ev) {
				continue
			}
			pending[filepath.Clean(ev.Name)] = true
			timer.Reset(fw.debounce)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return nil
			}
			fw.logger.Warn("file watcher error", "error", err)
		case <-timer.C:
			changed := make([]string, 0, len(pending))
			for p := range pending {
				changed = append(changed, p)
			}
			sort.Strings(changed)
			clear(pending)
			onChange(changed)
		}
	}
}

func (fw *fileWatcher) relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
		return false
	}
	return fw.files[filepath.Clean(ev.Name)]
}
