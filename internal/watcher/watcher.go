// Package watcher reloads a file when it changes on disk.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce collapses bursts of editor writes into one reload
const DefaultDebounce = 500 * time.Millisecond

// Watcher watches a file for changes
type Watcher struct {
	path     string
	onChange func(path string)
	debounce time.Duration
	logger   *zap.Logger
}

// New creates a new file watcher
func New(path string, onChange func(path string)) *Watcher {
	return &Watcher{
		path:     path,
		onChange: onChange,
		debounce: DefaultDebounce,
		logger:   zap.NewNop(),
	}
}

// WithDebounce sets the debounce duration
func (w *Watcher) WithDebounce(d time.Duration) *Watcher {
	w.debounce = d
	return w
}

// WithLogger sets the logger
func (w *Watcher) WithLogger(l *zap.Logger) *Watcher {
	if l != nil {
		w.logger = l
	}
	return w
}

// Watch starts watching the file for changes.
// It blocks until the context is cancelled or an error occurs.
func (w *Watcher) Watch(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsw.Close()

	abs, err := filepath.Abs(w.path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", w.path, err)
	}

	// Watch the directory so replaced files (editor save-by-rename) are seen
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	filename := filepath.Base(abs)

	w.logger.Info("watching for changes", zap.String("path", abs))

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	stop := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
	}
	defer stop()

	for {
		select {
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != filename {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				if ctx.Err() != nil {
					return
				}
				w.logger.Info("file changed", zap.String("path", abs))
				w.onChange(abs)
			})
			mu.Unlock()

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", zap.Error(err))

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
