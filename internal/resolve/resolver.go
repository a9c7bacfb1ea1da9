// Package resolve maps import specifiers to canonical module paths.
package resolve

import (
	"encoding/json"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// DefaultExtensions are probed, in order, when a specifier has no matching file.
var DefaultExtensions = []string{".js", ".mjs", ".cjs", ".jsx"}

// mainFields are read from package.json, in order, when resolving a directory.
var mainFields = []string{"module", "main"}

type alias struct {
	key   string
	dir   string
	exact bool
}

// Options configures a Resolver
type Options struct {
	// Aliases maps a specifier prefix to an absolute directory. A key ending
	// in "$" only matches the exact specifier.
	Aliases map[string]string
	// Extensions probed when the specifier does not name a file directly
	Extensions []string
	// Fs is the filesystem to probe, defaults to the OS filesystem
	Fs afero.Fs
}

// Resolver turns a specifier plus containing directory into a canonical path.
// Resolution is a pure function of its inputs and the filesystem state.
type Resolver struct {
	aliases    []alias
	extensions []string
	fs         afero.Fs
}

// New creates a Resolver with the given options
func New(opts Options) *Resolver {
	r := &Resolver{
		extensions: opts.Extensions,
		fs:         opts.Fs,
	}
	if len(r.extensions) == 0 {
		r.extensions = DefaultExtensions
	}
	if r.fs == nil {
		r.fs = afero.NewOsFs()
	}

	for key, dir := range opts.Aliases {
		a := alias{key: key, dir: dir}
		if strings.HasSuffix(key, "$") {
			a.key = strings.TrimSuffix(key, "$")
			a.exact = true
		}
		r.aliases = append(r.aliases, a)
	}

	// longest key first so the most specific alias wins, then by key for stable output
	sort.Slice(r.aliases, func(i, j int) bool {
		if len(r.aliases[i].key) != len(r.aliases[j].key) {
			return len(r.aliases[i].key) > len(r.aliases[j].key)
		}
		return r.aliases[i].key < r.aliases[j].key
	})

	return r
}

// Resolve maps specifier, found in a module living in fromDir, to a canonical path.
func (r *Resolver) Resolve(specifier, fromDir string) (string, error) {
	if specifier == "" {
		return "", &ResolutionError{Specifier: specifier, FromDir: fromDir, Err: ErrModuleNotFound}
	}

	target, aliased := r.substitute(specifier)

	var found string
	switch {
	case aliased:
		found = r.loadFileOrDir(target)
	case isPathSpecifier(specifier):
		found = r.loadFileOrDir(r.join(fromDir, specifier))
	default:
		found = r.loadNodeModules(specifier, fromDir)
	}

	if found == "" {
		return "", &ResolutionError{Specifier: specifier, FromDir: fromDir, Err: ErrModuleNotFound}
	}

	return r.canonical(found)
}

// Canonical returns the canonical identity of an existing file path.
func (r *Resolver) Canonical(p string) (string, error) {
	if !r.isFile(p) {
		return "", &ResolutionError{Specifier: p, FromDir: filepath.Dir(p), Err: ErrModuleNotFound}
	}
	return r.canonical(p)
}

func (r *Resolver) substitute(specifier string) (string, bool) {
	for _, a := range r.aliases {
		if specifier == a.key {
			return a.dir, true
		}
		if !a.exact && strings.HasPrefix(specifier, a.key+"/") {
			return filepath.Join(a.dir, filepath.FromSlash(strings.TrimPrefix(specifier, a.key+"/"))), true
		}
	}
	return specifier, false
}

func isPathSpecifier(specifier string) bool {
	return specifier == "." || specifier == ".." ||
		strings.HasPrefix(specifier, "./") || strings.HasPrefix(specifier, "../") ||
		path.IsAbs(specifier) || filepath.IsAbs(specifier)
}

func (r *Resolver) join(fromDir, specifier string) string {
	p := filepath.FromSlash(specifier)
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(fromDir, p)
}

func (r *Resolver) loadNodeModules(specifier, fromDir string) string {
	dir := filepath.Clean(fromDir)
	for {
		if filepath.Base(dir) != "node_modules" {
			candidate := filepath.Join(dir, "node_modules", filepath.FromSlash(specifier))
			if found := r.loadFileOrDir(candidate); found != "" {
				return found
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func (r *Resolver) loadFileOrDir(p string) string {
	if found := r.loadFile(p); found != "" {
		return found
	}
	return r.loadDir(p)
}

func (r *Resolver) loadFile(p string) string {
	if r.isFile(p) {
		return p
	}
	for _, ext := range r.extensions {
		if r.isFile(p + ext) {
			return p + ext
		}
	}
	return ""
}

func (r *Resolver) loadDir(dir string) string {
	if !r.isDir(dir) {
		return ""
	}

	if main := r.packageMain(dir); main != "" {
		target := filepath.Join(dir, filepath.FromSlash(main))
		if found := r.loadFile(target); found != "" {
			return found
		}
		if found := r.loadIndex(target); found != "" {
			return found
		}
	}

	return r.loadIndex(dir)
}

func (r *Resolver) loadIndex(dir string) string {
	for _, ext := range r.extensions {
		candidate := filepath.Join(dir, "index"+ext)
		if r.isFile(candidate) {
			return candidate
		}
	}
	return ""
}

func (r *Resolver) packageMain(dir string) string {
	data, err := afero.ReadFile(r.fs, filepath.Join(dir, "package.json"))
	if err != nil {
		return ""
	}

	var pkg map[string]any
	if err := json.Unmarshal(data, &pkg); err != nil {
		return ""
	}

	for _, field := range mainFields {
		if v, ok := pkg[field].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func (r *Resolver) isFile(p string) bool {
	info, err := r.fs.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

func (r *Resolver) isDir(p string) bool {
	info, err := r.fs.Stat(p)
	return err == nil && info.IsDir()
}

func (r *Resolver) canonical(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}

	// symlinks only exist on the real filesystem
	if _, ok := r.fs.(*afero.OsFs); ok {
		resolved, err := filepath.EvalSymlinks(abs)
		if err != nil {
			if os.IsNotExist(err) {
				return "", &ResolutionError{Specifier: p, FromDir: filepath.Dir(p), Err: ErrModuleNotFound}
			}
			return "", err
		}
		abs = resolved
	}

	return filepath.Clean(abs), nil
}
