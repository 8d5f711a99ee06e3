package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watcher marks a Loader dirty when files in its directory change. A
// task already running keeps the snapshot it started with.
type Watcher struct {
	loader  *Loader
	logger  *logrus.Logger
	watcher *fsnotify.Watcher

	onChange func()

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatcher creates a watcher for the loader's directory.
func NewWatcher(loader *Loader, logger *logrus.Logger) (*Watcher, error) {
	if err := os.MkdirAll(loader.Dir(), 0755); err != nil {
		return nil, fmt.Errorf("ensure config dir: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fw.Add(loader.Dir()); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", loader.Dir(), err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		loader:  loader,
		logger:  logger,
		watcher: fw,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// OnChange registers a callback invoked after the loader is marked dirty.
func (w *Watcher) OnChange(fn func()) {
	w.onChange = fn
}

// Start begins processing filesystem events.
func (w *Watcher) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop halts the watcher and releases its file descriptors.
func (w *Watcher) Stop() {
	w.cancel()
	w.watcher.Close()
	w.wg.Wait()
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !relevant(event.Name) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				w.logger.WithField("file", event.Name).Info("Configuration changed, next task will use the new snapshot")
				w.loader.MarkDirty()
				if w.onChange != nil {
					w.onChange()
				}
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Warn("Config watcher error")
		}
	}
}

func relevant(name string) bool {
	base := filepath.Base(name)
	return base == configFileName || base == envFileName
}
