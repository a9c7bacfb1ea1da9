// Package watcher reports debounced change events for a replaceable set of files.
package watcher

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultDebounce is the window in which repeated events for one path are merged.
const DefaultDebounce = 100 * time.Millisecond

// ChangeEvent reports that a tracked file was written, created, renamed or removed.
type ChangeEvent struct {
	Path string
	Time time.Time
}

// Watcher watches the parent directories of the tracked files. fsnotify does
// not reliably follow a file replaced by an editor's rename-on-save, the
// directory does.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	debounce  time.Duration
	onError   func(error)
	logger    zerolog.Logger

	mu      sync.Mutex
	tracked map[string]struct{}
	dirs    map[string]struct{}
	timers  map[string]*pending
	closed  bool

	events chan ChangeEvent
	done   chan struct{}
	wg     sync.WaitGroup
}

// Option configures the watcher
type Option func(*Watcher)

// WithDebounce sets the debounce window
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// WithOnError sets the callback for watcher errors
func WithOnError(fn func(error)) Option {
	return func(w *Watcher) {
		w.onError = fn
	}
}

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// New creates a watcher with an empty tracked set and starts its event loop.
func New(opts ...Option) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		fsWatcher: fsWatcher,
		debounce:  DefaultDebounce,
		logger:    log.Logger,
		tracked:   make(map[string]struct{}),
		dirs:      make(map[string]struct{}),
		timers:    make(map[string]*pending),
		events:    make(chan ChangeEvent, 64),
		done:      make(chan struct{}),
	}

	for _, opt := range opts {
		opt(w)
	}

	w.wg.Add(1)
	go w.eventLoop()

	return w, nil
}

// Events returns the stream of debounced change events. It is never closed,
// receivers should also select on their own cancellation.
func (w *Watcher) Events() <-chan ChangeEvent {
	return w.events
}

// SetPaths replaces the tracked set. Directories no longer holding a tracked
// file are unwatched and pending events for untracked paths are dropped.
func (w *Watcher) SetPaths(paths []string) error {
	tracked := make(map[string]struct{}, len(paths))
	dirs := make(map[string]struct{})
	for _, p := range paths {
		p = filepath.Clean(p)
		tracked[p] = struct{}{}
		dirs[filepath.Dir(p)] = struct{}{}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errors.New("watcher is closed")
	}

	var errs []error
	for dir := range dirs {
		if _, ok := w.dirs[dir]; ok {
			continue
		}
		if err := w.fsWatcher.Add(dir); err != nil {
			errs = append(errs, fmt.Errorf("failed to watch %s: %w", dir, err))
			delete(dirs, dir)
		}
	}

	for dir := range w.dirs {
		if _, ok := dirs[dir]; ok {
			continue
		}
		// the directory may already be gone, inotify drops the watch itself then
		if err := w.fsWatcher.Remove(dir); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) {
			w.logger.Debug().Err(err).Str("dir", dir).Msg("Failed to unwatch directory")
		}
	}

	for path, p := range w.timers {
		if _, ok := tracked[path]; !ok {
			p.timer.Stop()
			delete(w.timers, path)
		}
	}

	w.tracked = tracked
	w.dirs = dirs

	w.logger.Debug().Int("files", len(tracked)).Int("dirs", len(dirs)).Msg("Updated watched paths")

	return errors.Join(errs...)
}

// Tracked returns the tracked paths in sorted order
func (w *Watcher) Tracked() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	paths := make([]string, 0, len(w.tracked))
	for p := range w.tracked {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Close stops the watcher and releases the underlying fsnotify handles.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	for path, p := range w.timers {
		p.timer.Stop()
		delete(w.timers, path)
	}
	close(w.done)
	w.mu.Unlock()

	err := w.fsWatcher.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) eventLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			if w.onError != nil {
				w.onError(err)
			}
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}

	path := filepath.Clean(event.Name)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	if _, ok := w.tracked[path]; !ok {
		return
	}

	if p, ok := w.timers[path]; ok && p.timer.Stop() {
		p.timer.Reset(w.debounce)
		return
	}

	p := &pending{}
	p.timer = time.AfterFunc(w.debounce, func() { w.emit(path, p) })
	w.timers[path] = p
}

// pending is a scheduled emit for one path. A fired timer whose entry was
// replaced in the meantime does not emit.
type pending struct {
	timer *time.Timer
}

func (w *Watcher) emit(path string, p *pending) {
	w.mu.Lock()
	if w.closed || w.timers[path] != p {
		w.mu.Unlock()
		return
	}
	delete(w.timers, path)
	w.mu.Unlock()

	select {
	case w.events <- ChangeEvent{Path: path, Time: time.Now()}:
	case <-w.done:
	}
}
