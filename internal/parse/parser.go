// Package parse extracts static imports from JavaScript modules and rewrites
// each module into a CommonJS body suitable for the bundle registry.
package parse

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/rs/zerolog"
)

// Options configures the parser
type Options struct {
	// Root is the working directory file names in the output are made relative to
	Root string
	// Minify shrinks module bodies, used in production mode
	Minify bool
}

// Result is the outcome of parsing one module.
type Result struct {
	// Imports holds the static import specifiers in source order, without duplicates
	Imports []string
	// Body is the module rewritten to CommonJS, imports left as require(specifier)
	Body []byte
}

// Parser parses modules with esbuild.
type Parser struct {
	opts Options
}

// New creates a new Parser
func New(opts Options) *Parser {
	return &Parser{opts: opts}
}

// Parse reads the static imports of source and transforms it into a module body.
func (p *Parser) Parse(ctx context.Context, path string, source []byte) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	root := p.opts.Root
	if root == "" {
		root = filepath.Dir(path)
	}

	collector := &importCollector{seen: make(map[string]bool)}

	result := api.Build(api.BuildOptions{
		Stdin: &api.StdinOptions{
			Contents:   string(source),
			ResolveDir: filepath.Dir(path),
			Sourcefile: displayName(root, path),
			Loader:     loaderFor(path),
		},
		AbsWorkingDir:     root,
		Bundle:            true,
		Write:             false,
		Format:            api.FormatCommonJS,
		Charset:           api.CharsetUTF8,
		LogLevel:          api.LogLevelSilent,
		MinifyWhitespace:  p.opts.Minify,
		MinifyIdentifiers: p.opts.Minify,
		MinifySyntax:      p.opts.Minify,
		Plugins:           []api.Plugin{collector.plugin()},
	})

	if len(result.Errors) > 0 {
		return nil, toParseError(path, result.Errors)
	}

	for _, msg := range result.Warnings {
		zerolog.Ctx(ctx).Debug().Str("file", path).Str("warning", msg.Text).Msg("Parse warning")
	}

	if len(result.OutputFiles) == 0 {
		return nil, &ParseError{Path: path, Line: 1, Message: "esbuild produced no output"}
	}

	return &Result{
		Imports: collector.ordered(string(source)),
		Body:    result.OutputFiles[0].Contents,
	}, nil
}

// importCollector records static import specifiers seen by esbuild and marks
// every import external so nothing is bundled or resolved by esbuild itself.
type importCollector struct {
	mu         sync.Mutex
	seen       map[string]bool
	specifiers []string
}

func (c *importCollector) plugin() api.Plugin {
	return api.Plugin{
		Name: "devbundle-imports",
		Setup: func(build api.PluginBuild) {
			build.OnResolve(api.OnResolveOptions{Filter: ".*"}, func(args api.OnResolveArgs) (api.OnResolveResult, error) {
				if args.Kind == api.ResolveJSImportStatement {
					c.add(args.Path)
				}
				return api.OnResolveResult{Path: args.Path, External: true}, nil
			})
		},
	}
}

func (c *importCollector) add(specifier string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.seen[specifier] {
		return
	}
	c.seen[specifier] = true
	c.specifiers = append(c.specifiers, specifier)
}

// ordered returns the specifiers sorted by where they first appear in source,
// resolve callbacks are not guaranteed to arrive in source order.
func (c *importCollector) ordered(source string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	specifiers := make([]string, len(c.specifiers))
	copy(specifiers, c.specifiers)

	offsets := make(map[string]int, len(specifiers))
	for _, s := range specifiers {
		offsets[s] = firstOffset(source, s)
	}

	sort.SliceStable(specifiers, func(i, j int) bool {
		return offsets[specifiers[i]] < offsets[specifiers[j]]
	})

	return specifiers
}

func firstOffset(source, specifier string) int {
	best := len(source)
	for _, quote := range []string{`"`, `'`, "`"} {
		if idx := strings.Index(source, quote+specifier+quote); idx >= 0 && idx < best {
			best = idx
		}
	}
	return best
}

func loaderFor(path string) api.Loader {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsx":
		return api.LoaderJSX
	default:
		return api.LoaderJS
	}
}

func displayName(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

func toParseError(path string, messages []api.Message) error {
	first := messages[0]

	perr := &ParseError{
		Path:       path,
		Message:    first.Text,
		Additional: len(messages) - 1,
	}
	if first.Location != nil {
		perr.Line = first.Location.Line
		// esbuild columns are zero based
		perr.Column = first.Location.Column + 1
	}

	return perr
}

// IsParseError reports whether err is or wraps a ParseError.
func IsParseError(err error) bool {
	var perr *ParseError
	return errors.As(err, &perr)
}
