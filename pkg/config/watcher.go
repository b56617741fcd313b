package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounceInterval is how long the watcher waits for writes to settle.
const DefaultDebounceInterval = 200 * time.Millisecond

// Watcher reloads the configuration file when it changes on disk.
// The parent directory is watched rather than the file itself so that
// editors and config management tools that replace the file by rename
// are still observed.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
	interval time.Duration

	mu     sync.Mutex
	timer  *time.Timer
	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

// NewWatcher creates a watcher for the configuration file at path.
func NewWatcher(path string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", path, err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("failed to watch %q: %w", filepath.Dir(abs), err)
	}

	return &Watcher{
		path:     abs,
		watcher:  fw,
		logger:   logger,
		interval: DefaultDebounceInterval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Watch blocks until ctx is cancelled or Stop is called. After each burst
// of changes the file is reloaded through ReloadConfig, so environment and
// Load overrides are reapplied; onReload is called only with
// configurations that pass validation, after they became live.
func (w *Watcher) Watch(ctx context.Context, onReload func(*Config)) {
	defer close(w.doneCh)

	w.logger.Info("Config watcher started", "path", w.path)

	for {
		select {
		case <-ctx.Done():
			w.stopTimer()
			return
		case <-w.stopCh:
			w.stopTimer()
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path || event.Op&fsnotify.Chmod == fsnotify.Chmod {
				continue
			}
			w.logger.Debug("Config file event", "op", event.Op.String())
			w.schedule(func() { w.reload(onReload) })
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Config watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload(onReload func(*Config)) {
	cfg, err := ReloadConfig(w.path)
	if err != nil {
		w.logger.Error("Config reload rejected, keeping previous configuration", "error", err)
		return
	}
	w.logger.Info("Configuration reloaded", "path", w.path)
	if onReload != nil {
		onReload(cfg)
	}
}

func (w *Watcher) schedule(fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.interval, fn)
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

// Stop stops the watcher and releases the underlying fsnotify handle.
// It is safe to call more than once.
func (w *Watcher) Stop() error {
	var err error
	w.once.Do(func() {
		close(w.stopCh)
		err = w.watcher.Close()
	})
	return err
}

// Done is closed when Watch returns.
func (w *Watcher) Done() <-chan struct{} {
	return w.doneCh
}
