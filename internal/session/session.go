// Package session ties the graph builder, emitter, watcher and dev server
// together for one bundling session.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/devbundle/internal/assets"
	"github.com/wolfeidau/devbundle/internal/config"
	"github.com/wolfeidau/devbundle/internal/graph"
	"github.com/wolfeidau/devbundle/internal/telemetry"
	"github.com/wolfeidau/devbundle/internal/watcher"
)

// ErrNotStarted is returned by Run before a successful Start.
var ErrNotStarted = errors.New("session not started")

// Watcher reports changes to the files of the current graph.
type Watcher interface {
	SetPaths(paths []string) error
	Events() <-chan watcher.ChangeEvent
	Close() error
}

// Notifier pushes rebuild outcomes to connected clients.
type Notifier interface {
	NotifyUpdate(version int64) int
	NotifyError(message string) int
	Close()
}

// Result describes one finished rebuild.
type Result struct {
	Changed []string
	Graph   *graph.Graph
	Version int64
	// Unchanged is set when the rebuilt bundle is identical to the one served
	Unchanged bool
	Err       error
	Duration  time.Duration
}

// Session owns the served artifact and the watched file set for one entry.
type Session struct {
	cfg       config.Config
	store     *assets.Store
	pipeline  *pipeline
	watcher   Watcher
	notifier  Notifier
	logger    zerolog.Logger
	metrics   *telemetry.Metrics
	onRebuild []func(Result)

	// called at the start of every rebuild
	beforeRebuild func(changed []string)

	mu      sync.Mutex
	state   State
	graph   *graph.Graph
	tracked map[string]struct{}
	lastErr error
}

// Option configures a session
type Option func(*Session)

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithOnRebuild registers a callback run after every rebuild, successful or not.
func WithOnRebuild(fn func(Result)) Option {
	return func(s *Session) {
		s.onRebuild = append(s.onRebuild, fn)
	}
}

// New creates an idle session publishing into store.
func New(cfg config.Config, store *assets.Store, w Watcher, n Notifier, opts ...Option) *Session {
	s := &Session{
		cfg:      cfg,
		store:    store,
		watcher:  w,
		notifier: n,
		logger:   log.Logger,
		metrics:  telemetry.GetMetrics(),
		state:    Idle,
		tracked:  make(map[string]struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.pipeline = newPipeline(cfg, store, cfg.HotReload())

	return s
}

// State returns the current state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Graph returns the graph of the bundle being served
func (s *Session) Graph() *graph.Graph {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph
}

// LastError returns the error of the last rebuild, nil if it succeeded
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Current returns the snapshot being served
func (s *Session) Current() *assets.Snapshot {
	return s.store.Current()
}

// Start runs the initial build and starts watching its files. Any failure is
// returned and leaves the session stopped.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Idle {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("session cannot start from state %s", state)
	}
	s.state = Building
	s.mu.Unlock()

	ctx = s.logger.WithContext(ctx)
	started := time.Now()

	out, err := s.initialBuild(ctx)
	if err != nil {
		s.setState(Stopped)
		return err
	}

	if err := s.watcher.SetPaths(out.graph.Paths()); err != nil {
		s.setState(Stopped)
		return fmt.Errorf("failed to watch modules: %w", err)
	}

	s.mu.Lock()
	s.graph = out.graph
	s.tracked = pathSet(out.graph.Paths())
	s.state = Serving
	s.mu.Unlock()

	s.logger.Info().
		Str("entry", out.graph.Entry).
		Int("modules", out.graph.Len()).
		Int64("version", out.snapshot.Version).
		Str("file", out.snapshot.Path).
		Dur("duration", time.Since(started)).
		Msg("Bundle ready")

	return nil
}

func (s *Session) initialBuild(ctx context.Context) (*outcome, error) {
	if err := prepareOutput(ctx, s.cfg, s.store); err != nil {
		return nil, err
	}

	out, err := s.pipeline.run(ctx, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("initial build failed: %w", err)
	}

	return out, nil
}

// Run processes change events until ctx is cancelled. One rebuild runs at a
// time, events arriving meanwhile are batched into a single follow-up rebuild.
func (s *Session) Run(ctx context.Context) error {
	if s.State() != Serving {
		return ErrNotStarted
	}

	ctx = s.logger.WithContext(ctx)

	pending := make(map[string]struct{})
	var done chan Result

	for {
		select {
		case <-ctx.Done():
			if done != nil {
				s.finish(ctx, <-done)
			}
			return nil

		case ev := <-s.watcher.Events():
			if !s.isTracked(ev.Path) {
				s.logger.Debug().Str("file", ev.Path).Msg("Ignoring change to untracked file")
				continue
			}
			if done != nil {
				s.metrics.RebuildsCoalesced.Add(ctx, 1)
			}
			pending[ev.Path] = struct{}{}

		case res := <-done:
			done = nil
			s.finish(ctx, res)
		}

		if done == nil && len(pending) > 0 {
			changed := make([]string, 0, len(pending))
			for p := range pending {
				changed = append(changed, p)
			}
			sort.Strings(changed)
			clear(pending)

			done = s.rebuild(ctx, changed)
		}
	}
}

// rebuild runs off the event loop so events keep being collected.
func (s *Session) rebuild(ctx context.Context, changed []string) chan Result {
	s.mu.Lock()
	s.state = Rebuilding
	prior := s.graph
	s.mu.Unlock()

	s.logger.Info().Strs("changed", changed).Msg("Rebuilding")

	done := make(chan Result, 1)
	go func() {
		if s.beforeRebuild != nil {
			s.beforeRebuild(changed)
		}

		started := time.Now()
		out, err := s.pipeline.run(ctx, prior, changed)

		res := Result{Changed: changed, Err: err, Duration: time.Since(started)}
		if err == nil {
			res.Graph = out.graph
			res.Version = out.snapshot.Version
			res.Unchanged = out.unchanged
		}
		done <- res
	}()

	return done
}

func (s *Session) finish(ctx context.Context, res Result) {
	if res.Err != nil {
		s.failed(ctx, res)
	} else {
		s.succeeded(res)
	}

	s.mu.Lock()
	if s.state == Rebuilding {
		s.state = Serving
	}
	s.mu.Unlock()

	for _, fn := range s.onRebuild {
		fn(res)
	}
}

func (s *Session) succeeded(res Result) {
	paths := res.Graph.Paths()

	s.mu.Lock()
	s.graph = res.Graph
	s.tracked = pathSet(paths)
	recovered := s.lastErr != nil
	s.lastErr = nil
	s.mu.Unlock()

	if err := s.watcher.SetPaths(paths); err != nil {
		s.logger.Error().Err(err).Msg("Failed to update watched files")
	}

	// a bundle identical to the served one still has to clear a reported error
	if res.Unchanged && !recovered {
		s.logger.Info().Int64("version", res.Version).Dur("duration", res.Duration).Msg("Rebuild produced identical bundle")
		return
	}

	sent := s.notifier.NotifyUpdate(res.Version)

	s.logger.Info().
		Int64("version", res.Version).
		Int("modules", res.Graph.Len()).
		Int("clients", sent).
		Dur("duration", res.Duration).
		Msg("Rebuild complete")
}

// failed keeps the previous bundle and graph, but also watches the files the
// failed build reached so fixing them triggers a rebuild.
func (s *Session) failed(ctx context.Context, res Result) {
	if ctx.Err() != nil && errors.Is(res.Err, context.Canceled) {
		s.logger.Debug().Msg("Rebuild cancelled")
		return
	}

	s.mu.Lock()
	s.lastErr = res.Err
	paths := slices.Concat(s.graph.Paths(), graph.Visited(res.Err))
	slices.Sort(paths)
	paths = slices.Compact(paths)
	s.tracked = pathSet(paths)
	s.mu.Unlock()

	if err := s.watcher.SetPaths(paths); err != nil {
		s.logger.Error().Err(err).Msg("Failed to update watched files")
	}

	sent := s.notifier.NotifyError(res.Err.Error())

	ev := s.logger.Error().
		Err(res.Err).
		Strs("changed", res.Changed).
		Int("clients", sent)
	if file := cycleChange(res.Err, res.Changed); file != "" {
		ev = ev.Str("cycle_via", file)
	}
	ev.Msg("Rebuild failed, serving previous bundle")
}

// cycleChange returns the first changed file taking part in the import cycle
// err reports, or "" when err is not a cycle.
func cycleChange(err error, changed []string) string {
	var cycleErr *graph.CycleError
	if !errors.As(err, &cycleErr) {
		return ""
	}
	for _, path := range changed {
		if cycleErr.Contains(path) {
			return path
		}
	}
	return ""
}

// Shutdown stops watching and disconnects clients.
func (s *Session) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.state == Stopped {
		s.mu.Unlock()
		return nil
	}
	s.state = Stopped
	s.mu.Unlock()

	s.notifier.Close()

	if err := s.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	s.logger.Info().Msg("Session stopped")
	return nil
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

func (s *Session) isTracked(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tracked[path]
	return ok
}

func pathSet(paths []string) map[string]struct{} {
	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		set[p] = struct{}{}
	}
	return set
}
