package daemon

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ConfigWatcher reloads the daemon when the config file or one of its
// included files changes on disk.
type ConfigWatcher struct {
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	files    map[string]bool
	onChange func()
	logger   *slog.Logger

	debounce time.Duration
	pending  time.Time
	stopCh   chan struct{}
	doneCh   chan struct{}
	running  bool
}

// NewConfigWatcher watches the directories holding files. Editors replace
// files by rename, so the directory is watched rather than the file.
func NewConfigWatcher(files []string, onChange func(), logger *slog.Logger) (*ConfigWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	cw := &ConfigWatcher{
		watcher:  w,
		files:    make(map[string]bool, len(files)),
		onChange: onChange,
		logger:   logger,
		debounce: 300 * time.Millisecond,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, f := range files {
		if abs, err := filepath.Abs(f); err == nil {
			cw.files[abs] = true
		}
	}
	return cw, nil
}

// Start begins watching. It does not block.
func (cw *ConfigWatcher) Start(ctx context.Context) error {
	cw.mu.Lock()
	if cw.running {
		cw.mu.Unlock()
		return nil
	}
	cw.running = true
	cw.mu.Unlock()

	dirs := make(map[string]bool)
	for f := range cw.files {
		dirs[filepath.Dir(f)] = true
	}
	for dir := range dirs {
		if _, err := os.Stat(dir); err != nil {
			cw.logger.Debug("config directory missing, not watching", "dir", dir)
			continue
		}
		if err := cw.watcher.Add(dir); err != nil {
			cw.logger.Warn("failed to watch config directory", "dir", dir, "error", err)
			continue
		}
		cw.logger.Debug("watching config directory", "dir", dir)
	}

	go cw.run(ctx)
	return nil
}

// Stop stops the watcher and waits for its goroutine.
func (cw *ConfigWatcher) Stop() {
	cw.mu.Lock()
	if !cw.running {
		cw.mu.Unlock()
		return
	}
	cw.running = false
	cw.mu.Unlock()

	close(cw.stopCh)
	<-cw.doneCh
	if err := cw.watcher.Close(); err != nil {
		cw.logger.Warn("failed to close config watcher", "error", err)
	}
}

func (cw *ConfigWatcher) run(ctx context.Context) {
	defer close(cw.doneCh)

	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-cw.stopCh:
			return
		case ev, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			cw.handleEvent(ev)
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.logger.Warn("config watcher error", "error", err)
		case <-tick.C:
			cw.flush()
		}
	}
}

func (cw *ConfigWatcher) handleEvent(ev fsnotify.Event) {
	if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Rename) {
		return
	}
	abs, err := filepath.Abs(ev.Name)
	if err != nil || !cw.files[abs] {
		return
	}
	cw.logger.Debug("config file changed", "file", abs, "op", ev.Op.String())
	cw.pending = time.Now()
}

// flush fires onChange once writes have settled.
func (cw *ConfigWatcher) flush() {
	if cw.pending.IsZero() || time.Since(cw.pending) < cw.debounce {
		return
	}
	cw.pending = time.Time{}
	if cw.onChange != nil {
		cw.onChange()
	}
}
