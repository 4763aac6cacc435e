// Package modelwatch reloads the model registry when the models file changes.
package modelwatch

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce coalesces the bursts of events editors produce on save.
const DefaultDebounce = 500 * time.Millisecond

// ReloadFunc rebuilds the registry.
type ReloadFunc func(ctx context.Context) error

// Watcher monitors the models file and triggers a reload after it changes.
// It watches the parent directory so editors that replace the file via
// rename are still seen.
type Watcher struct {
	path     string
	reload   ReloadFunc
	debounce time.Duration
	log      zerolog.Logger

	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	timerMu sync.Mutex
	timer   *time.Timer

	reloads atomic.Int64
	errors  atomic.Int64
}

// New creates a watcher for path. Call Start to begin watching.
func New(path string, reload ReloadFunc, log zerolog.Logger) *Watcher {
	return &Watcher{
		path:     filepath.Clean(path),
		reload:   reload,
		debounce: DefaultDebounce,
		log:      log.With().Str("component", "modelwatch").Logger(),
		done:     make(chan struct{}),
	}
}

// Start adds the models file's directory to fsnotify and begins the event loop.
func (w *Watcher) Start() error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return err
	}
	w.watcher = fw
	w.ctx, w.cancel = context.WithCancel(context.Background())

	w.log.Info().Str("path", w.path).Msg("watching models file")
	go w.loop()
	return nil
}

// Stop closes the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() {
	if w == nil || w.watcher == nil {
		return
	}
	w.cancel()
	w.watcher.Close()
	<-w.done

	w.timerMu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timerMu.Unlock()

	w.log.Info().
		Int64("reloads", w.reloads.Load()).
		Int64("errors", w.errors.Load()).
		Msg("models watcher stopped")
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error().Err(err).Msg("fsnotify error")
		}
	}
}

// schedule debounces reloads: each event pushes the deadline back.
func (w *Watcher) schedule() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()

	if w.timer != nil {
		w.timer.Reset(w.debounce)
		return
	}
	w.timer = time.AfterFunc(w.debounce, w.fire)
}

func (w *Watcher) fire() {
	w.timerMu.Lock()
	w.timer = nil
	w.timerMu.Unlock()

	if w.ctx.Err() != nil {
		return
	}
	w.log.Info().Str("path", w.path).Msg("models file changed, reloading")
	w.reloads.Add(1)
	if err := w.reload(w.ctx); err != nil {
		w.errors.Add(1)
		w.log.Warn().Err(err).Msg("reload after models file change failed")
	}
}
