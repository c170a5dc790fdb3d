package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/ahrdadan/uicheck/internal/runner"
	"github.com/ahrdadan/uicheck/internal/scenario"
)

const watchDebounce = 300 * time.Millisecond

// fileWatcher calls onChange once per burst of writes to any of its files.
// Parent directories are watched so editors that replace files on save are
// still seen.
type fileWatcher struct {
	watcher  *fsnotify.Watcher
	files    map[string]bool
	debounce time.Duration
	onChange func()
}

// newFileWatcher registers the watches immediately; changes made before Run
// is called are delivered once it starts.
func newFileWatcher(paths []string, onChange func()) (*fileWatcher, error) {
	files := make(map[string]bool, len(paths))
	dirs := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, err
		}
		files[abs] = true
		dirs[filepath.Dir(abs)] = true
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	for d := range dirs {
		if err := watcher.Add(d); err != nil {
			_ = watcher.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", d, err)
		}
	}

	return &fileWatcher{
		watcher:  watcher,
		files:    files,
		debounce: watchDebounce,
		onChange: onChange,
	}, nil
}

// Close releases the underlying watches.
func (w *fileWatcher) Close() error {
	return w.watcher.Close()
}

// Run blocks until ctx is done.
func (w *fileWatcher) Run(ctx context.Context) error {
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-timer.C:
			w.onChange()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if !w.files[filepath.Clean(event.Name)] {
				continue
			}
			timer.Reset(w.debounce)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch error: %w", err)
		}
	}
}

// watchLoop runs the suites, then re-runs them after every change until
// interrupted. Files that fail to load are reported and skipped until fixed.
func (a *app) watchLoop(ctx context.Context, r *runner.Runner, paths []string, format string, suites []*scenario.Suite, logger *zap.Logger) error {
	runAll := func(suites []*scenario.Suite) {
		err := a.runOnce(ctx, r, suites, format)
		var exitErr *ExitError
		if err != nil && (!errors.As(err, &exitErr) || exitErr.Err != nil) {
			fmt.Fprintf(a.errOut, "Error: %v\n", err)
		}
		fmt.Fprintf(a.errOut, "Watching %d file(s) for changes. Press Ctrl+C to stop.\n", len(paths))
	}

	w, err := newFileWatcher(paths, func() {
		suites, err := scenario.LoadFiles(paths)
		if err == nil {
			err = runner.CheckStartURLs(r.Options().BaseURL, suites)
		}
		if err != nil {
			fmt.Fprintf(a.errOut, "Error: %v\n", err)
			return
		}
		logger.Debug("scenario files changed, re-running")
		runAll(suites)
	})
	if err != nil {
		return harnessError(err)
	}
	defer func() { _ = w.Close() }()

	runAll(suites)

	if err := w.Run(ctx); err != nil {
		return harnessError(err)
	}
	return nil
}
