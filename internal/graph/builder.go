package graph

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/wolfeidau/devbundle/internal/parse"
	"github.com/wolfeidau/devbundle/internal/resolve"
	"github.com/wolfeidau/devbundle/internal/util"
)

// Resolver maps import specifiers to canonical module ids
type Resolver interface {
	Resolve(specifier, fromDir string) (string, error)
	Canonical(path string) (string, error)
}

// Parser extracts imports from module source and transforms it
type Parser interface {
	Parse(ctx context.Context, path string, source []byte) (*parse.Result, error)
}

// Builder constructs dependency graphs.
type Builder struct {
	fs       afero.Fs
	resolver Resolver
	parser   Parser
}

// BuilderOption configures the builder
type BuilderOption func(*Builder)

// WithFs sets the filesystem module sources are read from
func WithFs(fs afero.Fs) BuilderOption {
	return func(b *Builder) {
		b.fs = fs
	}
}

// NewBuilder creates a new Builder
func NewBuilder(resolver Resolver, parser Parser, opts ...BuilderOption) *Builder {
	b := &Builder{
		fs:       afero.NewOsFs(),
		resolver: resolver,
		parser:   parser,
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Build constructs the graph of every module statically reachable from entryPath.
func (b *Builder) Build(ctx context.Context, entryPath string) (*Graph, error) {
	return b.build(ctx, entryPath, nil, nil)
}

// Rebuild constructs a new graph from the prior graph's entry. Modules listed in
// changed, or whose content no longer matches, are parsed and resolved again;
// modules which only depend on a changed module are resolved again; every other
// module is carried over from prior.
func (b *Builder) Rebuild(ctx context.Context, prior *Graph, changed []string) (*Graph, error) {
	if prior == nil {
		return nil, ErrNoEntry
	}

	changedSet := make(map[string]bool, len(changed))
	for _, id := range changed {
		changedSet[id] = true
	}

	return b.build(ctx, prior.Entry, prior, changedSet)
}

func (b *Builder) build(ctx context.Context, entryPath string, prior *Graph, changed map[string]bool) (*Graph, error) {
	if entryPath == "" {
		return nil, ErrNoEntry
	}

	started := time.Now()

	entry, err := b.resolver.Canonical(entryPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve entry: %w", err)
	}

	t := &traversal{
		ctx:      ctx,
		builder:  b,
		prior:    prior,
		changed:  changed,
		graph:    New(entry),
		visiting: make(map[string]bool),
	}

	if err := t.visit(entry, nil); err != nil {
		return nil, &BuildError{Visited: t.visitedPaths(), Err: err}
	}

	zerolog.Ctx(ctx).Debug().
		Str("entry", entry).
		Int("modules", t.graph.Len()).
		Int("parsed", t.parsed).
		Int("reused", t.reused).
		Dur("duration", time.Since(started)).
		Msg("Graph built")

	return t.graph, nil
}

// traversal holds the state of one depth first walk from the entry module.
type traversal struct {
	ctx     context.Context
	builder *Builder
	prior   *Graph
	changed map[string]bool

	graph    *Graph
	visiting map[string]bool
	stack    []string
	visited  []string

	parsed int
	reused int
}

func (t *traversal) visit(id string, via *Edge) error {
	if t.visiting[id] {
		return t.cycle(id)
	}
	if t.graph.Has(id) {
		return nil
	}

	if err := t.ctx.Err(); err != nil {
		return err
	}

	t.visiting[id] = true
	t.visited = append(t.visited, id)
	t.stack = append(t.stack, id)
	defer func() {
		t.stack = t.stack[:len(t.stack)-1]
		delete(t.visiting, id)
	}()

	m, err := t.load(id)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && via != nil {
			return &resolve.ResolutionError{
				Specifier: via.Specifier,
				Importer:  via.From,
				Err:       resolve.ErrModuleNotFound,
			}
		}
		return err
	}

	t.graph.AddModule(m)

	for _, spec := range m.Imports {
		edge := Edge{From: id, To: m.Deps[spec], Specifier: spec}
		t.graph.AddEdge(edge)

		if err := t.visit(edge.To, &edge); err != nil {
			return err
		}
	}

	return nil
}

func (t *traversal) visitedPaths() []string {
	paths := slices.Clone(t.visited)
	slices.Sort(paths)
	return slices.Compact(paths)
}

func (t *traversal) cycle(id string) error {
	start := 0
	for i, s := range t.stack {
		if s == id {
			start = i
			break
		}
	}

	path := make([]string, 0, len(t.stack)-start+1)
	path = append(path, t.stack[start:]...)
	path = append(path, id)

	return &CycleError{Path: path}
}

func (t *traversal) load(id string) (*Module, error) {
	source, err := afero.ReadFile(t.builder.fs, id)
	if err != nil {
		return nil, fmt.Errorf("failed to read module %s: %w", id, err)
	}

	fingerprint := util.Fingerprint(source)

	if prev, ok := t.reusable(id, fingerprint); ok {
		m := &Module{
			ID:          id,
			Source:      source,
			Imports:     prev.Imports,
			Fingerprint: fingerprint,
			Body:        prev.Body,
			Deps:        prev.Deps,
		}

		if t.dependsOnChanged(prev) {
			deps, err := t.resolveAll(m)
			if err != nil {
				return nil, err
			}
			m.Deps = deps
		}

		t.reused++
		return m, nil
	}

	result, err := t.builder.parser.Parse(t.ctx, id, source)
	if err != nil {
		return nil, err
	}
	t.parsed++

	m := &Module{
		ID:          id,
		Source:      source,
		Imports:     result.Imports,
		Fingerprint: fingerprint,
		Body:        result.Body,
	}

	deps, err := t.resolveAll(m)
	if err != nil {
		return nil, err
	}
	m.Deps = deps

	return m, nil
}

func (t *traversal) reusable(id, fingerprint string) (*Module, bool) {
	if t.prior == nil || t.changed[id] {
		return nil, false
	}

	prev, ok := t.prior.Module(id)
	if !ok || prev.Fingerprint != fingerprint {
		return nil, false
	}

	return prev, true
}

func (t *traversal) dependsOnChanged(m *Module) bool {
	for _, dep := range m.Deps {
		if t.changed[dep] {
			return true
		}
	}
	return false
}

func (t *traversal) resolveAll(m *Module) (map[string]string, error) {
	deps := make(map[string]string, len(m.Imports))

	for _, spec := range m.Imports {
		target, err := t.builder.resolver.Resolve(spec, m.Dir())
		if err != nil {
			var resErr *resolve.ResolutionError
			if errors.As(err, &resErr) {
				resErr.Importer = m.ID
			}
			return nil, err
		}
		deps[spec] = target
	}

	return deps, nil
}
