package graph

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/devbundle/internal/parse"
	"github.com/wolfeidau/devbundle/internal/resolve"
)

var importRe = regexp.MustCompile(`import\s+(?:[^'"]*?from\s+)?["']([^"']+)["']`)

// fakeParser extracts imports with a regexp and counts parses per module
type fakeParser struct {
	mu    sync.Mutex
	calls map[string]int
}

func newFakeParser() *fakeParser {
	return &fakeParser{calls: make(map[string]int)}
}

func (p *fakeParser) Parse(ctx context.Context, path string, source []byte) (*parse.Result, error) {
	p.mu.Lock()
	p.calls[path]++
	p.mu.Unlock()

	if strings.Contains(string(source), "SYNTAX ERROR") {
		return nil, &parse.ParseError{Path: path, Line: 1, Column: 1, Message: "Unexpected token"}
	}

	var imports []string
	for _, m := range importRe.FindAllStringSubmatch(string(source), -1) {
		imports = append(imports, m[1])
	}
	return &parse.Result{Imports: imports, Body: source}, nil
}

func (p *fakeParser) count(path string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[path]
}

type fixture struct {
	fs      afero.Fs
	parser  *fakeParser
	builder *Builder
}

func newFixture(t *testing.T, files map[string]string) *fixture {
	t.Helper()

	fs := afero.NewMemMapFs()
	f := &fixture{fs: fs, parser: newFakeParser()}
	for name, contents := range files {
		f.write(t, name, contents)
	}

	resolver := resolve.New(resolve.Options{Fs: fs})
	f.builder = NewBuilder(resolver, f.parser, WithFs(fs))
	return f
}

func (f *fixture) write(t *testing.T, name, contents string) {
	t.Helper()
	require.NoError(t, f.fs.MkdirAll(filepath.Dir(p(name)), 0755))
	require.NoError(t, afero.WriteFile(f.fs, p(name), []byte(contents), 0644))
}

// p converts a slash separated fixture path into a platform path
func p(name string) string {
	return filepath.FromSlash(name)
}

func ids(modules []*Module) []string {
	out := make([]string, 0, len(modules))
	for _, m := range modules {
		out = append(out, m.ID)
	}
	return out
}

var scenario = map[string]string{
	"/app/main.js": `import a from "./a"; import b from "./b";`,
	"/app/a.js":    `import c from "./c";`,
	"/app/b.js":    `export default 2;`,
	"/app/c.js":    `export default 3;`,
}

func TestBuild_scenario(t *testing.T) {
	f := newFixture(t, scenario)

	g, err := f.builder.Build(context.Background(), p("/app/main.js"))
	require.NoError(t, err)

	require.Equal(t, p("/app/main.js"), g.Entry)
	require.Equal(t, 4, g.Len())
	require.Equal(t, []string{p("/app/main.js"), p("/app/a.js"), p("/app/c.js"), p("/app/b.js")}, ids(g.Modules()))

	require.Equal(t, []Edge{
		{From: p("/app/main.js"), To: p("/app/a.js"), Specifier: "./a"},
		{From: p("/app/a.js"), To: p("/app/c.js"), Specifier: "./c"},
		{From: p("/app/main.js"), To: p("/app/b.js"), Specifier: "./b"},
	}, g.Edges())

	main, ok := g.Module(p("/app/main.js"))
	require.True(t, ok)
	require.Equal(t, []string{"./a", "./b"}, main.Imports)
	require.Equal(t, map[string]string{"./a": p("/app/a.js"), "./b": p("/app/b.js")}, main.Deps)
	require.NotEmpty(t, main.Fingerprint)
}

func TestBuild_noOrphanEdges(t *testing.T) {
	f := newFixture(t, scenario)

	g, err := f.builder.Build(context.Background(), p("/app/main.js"))
	require.NoError(t, err)

	for _, e := range g.Edges() {
		require.True(t, g.Has(e.From), "missing importer %s", e.From)
		require.True(t, g.Has(e.To), "missing imported %s", e.To)
	}
}

func TestBuild_sharedModuleParsedOnce(t *testing.T) {
	f := newFixture(t, map[string]string{
		"/app/main.js":   `import "./left"; import "./right";`,
		"/app/left.js":   `import "./shared";`,
		"/app/right.js":  `import "./shared";`,
		"/app/shared.js": `export const shared = 1;`,
	})

	g, err := f.builder.Build(context.Background(), p("/app/main.js"))
	require.NoError(t, err)

	require.Equal(t, 4, g.Len())
	require.Len(t, g.Edges(), 4)
	require.Equal(t, 1, f.parser.count(p("/app/shared.js")))
}

func TestBuild_sameTargetDifferentSpecifiers(t *testing.T) {
	f := newFixture(t, map[string]string{
		"/app/main.js": `import "./a"; import "./a.js";`,
		"/app/a.js":    ``,
	})

	g, err := f.builder.Build(context.Background(), p("/app/main.js"))
	require.NoError(t, err)

	require.Equal(t, 2, g.Len())
	require.Equal(t, []Edge{
		{From: p("/app/main.js"), To: p("/app/a.js"), Specifier: "./a"},
		{From: p("/app/main.js"), To: p("/app/a.js"), Specifier: "./a.js"},
	}, g.Edges())
}

func TestBuild_cycles(t *testing.T) {
	tests := []struct {
		name  string
		entry string
		files map[string]string
		cycle []string
	}{
		{
			name:  "direct cycle from a",
			entry: "/app/a.js",
			files: map[string]string{
				"/app/a.js": `import "./b";`,
				"/app/b.js": `import "./a";`,
			},
			cycle: []string{"/app/a.js", "/app/b.js", "/app/a.js"},
		},
		{
			name:  "cycle reached through entry",
			entry: "/app/main.js",
			files: map[string]string{
				"/app/main.js": `import "./a";`,
				"/app/a.js":    `import "./b";`,
				"/app/b.js":    `import "./a";`,
			},
			cycle: []string{"/app/a.js", "/app/b.js", "/app/a.js"},
		},
		{
			name:  "cycle entered from b",
			entry: "/app/main.js",
			files: map[string]string{
				"/app/main.js": `import "./b";`,
				"/app/a.js":    `import "./b";`,
				"/app/b.js":    `import "./a";`,
			},
			cycle: []string{"/app/b.js", "/app/a.js", "/app/b.js"},
		},
		{
			name:  "self import",
			entry: "/app/a.js",
			files: map[string]string{
				"/app/a.js": `import "./a";`,
			},
			cycle: []string{"/app/a.js", "/app/a.js"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.files)

			_, err := f.builder.Build(context.Background(), p(tt.entry))
			require.Error(t, err)

			var cycleErr *CycleError
			require.True(t, errors.As(err, &cycleErr))

			expected := make([]string, 0, len(tt.cycle))
			for _, c := range tt.cycle {
				expected = append(expected, p(c))
			}
			require.Equal(t, expected, cycleErr.Path)
			require.True(t, cycleErr.Contains(p("/app/a.js")))
			require.Contains(t, err.Error(), "import cycle detected")
		})
	}
}

func TestBuild_resolutionError(t *testing.T) {
	f := newFixture(t, map[string]string{
		"/app/main.js": `import "./missing";`,
	})

	_, err := f.builder.Build(context.Background(), p("/app/main.js"))
	require.Error(t, err)

	var resErr *resolve.ResolutionError
	require.True(t, errors.As(err, &resErr))
	require.Equal(t, "./missing", resErr.Specifier)
	require.Equal(t, p("/app/main.js"), resErr.Importer)
	require.ErrorIs(t, err, resolve.ErrModuleNotFound)
}

func TestBuild_missingEntry(t *testing.T) {
	f := newFixture(t, map[string]string{})

	_, err := f.builder.Build(context.Background(), p("/app/main.js"))
	require.ErrorIs(t, err, resolve.ErrModuleNotFound)
	require.ErrorContains(t, err, "failed to resolve entry")
}

func TestBuild_emptyEntry(t *testing.T) {
	f := newFixture(t, map[string]string{})

	_, err := f.builder.Build(context.Background(), "")
	require.ErrorIs(t, err, ErrNoEntry)
}

func TestBuild_parseError(t *testing.T) {
	f := newFixture(t, map[string]string{
		"/app/main.js":   `import "./broken";`,
		"/app/broken.js": `SYNTAX ERROR`,
	})

	_, err := f.builder.Build(context.Background(), p("/app/main.js"))
	require.True(t, parse.IsParseError(err))
}

func TestBuild_cancelled(t *testing.T) {
	f := newFixture(t, scenario)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.builder.Build(ctx, p("/app/main.js"))
	require.ErrorIs(t, err, context.Canceled)
}

func TestRebuild_noChanges(t *testing.T) {
	f := newFixture(t, scenario)
	ctx := context.Background()

	first, err := f.builder.Build(ctx, p("/app/main.js"))
	require.NoError(t, err)

	second, err := f.builder.Rebuild(ctx, first, nil)
	require.NoError(t, err)

	require.NotSame(t, first, second)
	require.Equal(t, ids(first.Modules()), ids(second.Modules()))
	require.Equal(t, first.Edges(), second.Edges())
	for _, path := range first.Paths() {
		require.Equal(t, 1, f.parser.count(path), "module %s parsed again", path)
	}
}

func TestRebuild_changedModuleReparsed(t *testing.T) {
	f := newFixture(t, scenario)
	ctx := context.Background()

	first, err := f.builder.Build(ctx, p("/app/main.js"))
	require.NoError(t, err)

	f.write(t, "/app/c.js", `export default 33;`)

	second, err := f.builder.Rebuild(ctx, first, []string{p("/app/c.js")})
	require.NoError(t, err)

	require.Equal(t, 2, f.parser.count(p("/app/c.js")))
	require.Equal(t, 1, f.parser.count(p("/app/a.js")))
	require.Equal(t, 1, f.parser.count(p("/app/main.js")))

	c, ok := second.Module(p("/app/c.js"))
	require.True(t, ok)
	require.Equal(t, "export default 33;", string(c.Source))
}

func TestRebuild_contentChangeDetectedWithoutEvent(t *testing.T) {
	f := newFixture(t, scenario)
	ctx := context.Background()

	first, err := f.builder.Build(ctx, p("/app/main.js"))
	require.NoError(t, err)

	f.write(t, "/app/b.js", `export default 22;`)

	_, err = f.builder.Rebuild(ctx, first, nil)
	require.NoError(t, err)
	require.Equal(t, 2, f.parser.count(p("/app/b.js")))
}

func TestRebuild_removedImportDropsModule(t *testing.T) {
	f := newFixture(t, scenario)
	ctx := context.Background()

	first, err := f.builder.Build(ctx, p("/app/main.js"))
	require.NoError(t, err)
	require.Contains(t, first.Paths(), p("/app/b.js"))

	f.write(t, "/app/main.js", `import a from "./a";`)

	second, err := f.builder.Rebuild(ctx, first, []string{p("/app/main.js")})
	require.NoError(t, err)

	require.False(t, second.Has(p("/app/b.js")))
	require.NotContains(t, second.Paths(), p("/app/b.js"))
	require.Equal(t, 3, second.Len())
	require.True(t, first.Has(p("/app/b.js")), "prior graph must not be mutated")
}

func TestRebuild_newImportDiscovered(t *testing.T) {
	f := newFixture(t, scenario)
	ctx := context.Background()

	first, err := f.builder.Build(ctx, p("/app/main.js"))
	require.NoError(t, err)

	f.write(t, "/app/d.js", `export default 4;`)
	f.write(t, "/app/b.js", `import d from "./d";`)

	second, err := f.builder.Rebuild(ctx, first, []string{p("/app/b.js")})
	require.NoError(t, err)

	require.True(t, second.Has(p("/app/d.js")))
	require.Equal(t, 5, second.Len())
}

func TestRebuild_deletedDependency(t *testing.T) {
	f := newFixture(t, scenario)
	ctx := context.Background()

	first, err := f.builder.Build(ctx, p("/app/main.js"))
	require.NoError(t, err)

	require.NoError(t, f.fs.Remove(p("/app/c.js")))

	_, err = f.builder.Rebuild(ctx, first, []string{p("/app/c.js")})
	require.Error(t, err)

	var resErr *resolve.ResolutionError
	require.True(t, errors.As(err, &resErr))
	require.Equal(t, "./c", resErr.Specifier)
	require.Equal(t, p("/app/a.js"), resErr.Importer)
}

func TestRebuild_introducedCycle(t *testing.T) {
	f := newFixture(t, scenario)
	ctx := context.Background()

	first, err := f.builder.Build(ctx, p("/app/main.js"))
	require.NoError(t, err)

	f.write(t, "/app/c.js", `import a from "./a";`)

	_, err = f.builder.Rebuild(ctx, first, []string{p("/app/c.js")})

	var cycleErr *CycleError
	require.True(t, errors.As(err, &cycleErr), fmt.Sprintf("unexpected error %v", err))
	require.Equal(t, []string{p("/app/a.js"), p("/app/c.js"), p("/app/a.js")}, cycleErr.Path)
}

func TestRebuild_nilPrior(t *testing.T) {
	f := newFixture(t, scenario)

	_, err := f.builder.Rebuild(context.Background(), nil, nil)
	require.ErrorIs(t, err, ErrNoEntry)
}

func TestRebuild_failureReportsVisited(t *testing.T) {
	f := newFixture(t, scenario)
	ctx := context.Background()

	first, err := f.builder.Build(ctx, p("/app/main.js"))
	require.NoError(t, err)

	f.write(t, "/app/b.js", `import "./d";`)
	f.write(t, "/app/d.js", `SYNTAX ERROR`)

	_, err = f.builder.Rebuild(ctx, first, []string{p("/app/b.js")})
	require.True(t, parse.IsParseError(err))
	require.Contains(t, Visited(err), p("/app/d.js"))
	require.Contains(t, Visited(err), p("/app/b.js"))

	require.Nil(t, Visited(errors.New("plain")))
}
