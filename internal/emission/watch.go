package emission

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize template watcher")

// Watcher reloads a Library whenever its template file changes. A reload
// that fails to parse keeps the previous templates.
type Watcher struct {
	lib     *Library
	path    string
	logger  *zap.Logger
	watcher *fsnotify.Watcher

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
	reloads  chan struct{}
}

// NewWatcher prepares a watcher for path. Call Start to begin watching.
func NewWatcher(lib *Library, path string, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving template path: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	return &Watcher{
		lib:     lib,
		path:    abs,
		logger:  logger,
		watcher: w,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		reloads: make(chan struct{}, 1),
	}, nil
}

// Start watches the file's directory so editors that replace the file by
// rename are still seen.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		_ = w.watcher.Close()
		close(w.done)
		return fmt.Errorf("watching %s: %w", filepath.Dir(w.path), err)
	}
	go w.run(ctx)
	return nil
}

// Stop ends watching and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.done
}

// Reloaded receives a value after each successful reload. Intended for tests.
func (w *Watcher) Reloaded() <-chan struct{} { return w.reloads }

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	defer func() { _ = w.watcher.Close() }()
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.reload()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("template watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	templates, err := readTemplates(w.path)
	if err == nil {
		err = w.lib.Replace(templates)
	}
	if err != nil {
		w.logger.Warn("template reload failed, keeping previous templates",
			zap.String("path", w.path), zap.Error(err))
		return
	}
	w.logger.Info("templates reloaded",
		zap.String("path", w.path), zap.Int("templates", len(templates)))
	select {
	case w.reloads <- struct{}{}:
	default:
	}
}
