package resolve

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func memTree(t *testing.T, files map[string]string) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	for name, contents := range files {
		require.NoError(t, fs.MkdirAll(filepath.Dir(name), 0755))
		require.NoError(t, afero.WriteFile(fs, name, []byte(contents), 0644))
	}
	return fs
}

func TestResolve(t *testing.T) {
	fs := memTree(t, map[string]string{
		"/proj/src/main.js":                        "",
		"/proj/src/a.js":                           "",
		"/proj/src/util.mjs":                       "",
		"/proj/src/lib/index.js":                   "",
		"/proj/src/pkg/package.json":               `{"main": "dist/entry.js"}`,
		"/proj/src/pkg/dist/entry.js":              "",
		"/proj/shared/board.js":                    "",
		"/proj/shared/index.js":                    "",
		"/proj/node_modules/lodash/package.json":   `{"module": "lodash.esm.js", "main": "lodash.js"}`,
		"/proj/node_modules/lodash/lodash.esm.js":  "",
		"/proj/node_modules/lodash/lodash.js":      "",
		"/proj/node_modules/tiny/index.mjs":        "",
		"/proj/node_modules/@scope/thing/index.js": "",
	})

	r := New(Options{
		Fs: fs,
		Aliases: map[string]string{
			"tictactoe": "/proj/shared",
			"exact$":    "/proj/src/a.js",
		},
		Extensions: []string{".js", ".mjs"},
	})

	tests := []struct {
		name      string
		specifier string
		fromDir   string
		expected  string
	}{
		{name: "relative with extension", specifier: "./a.js", fromDir: "/proj/src", expected: "/proj/src/a.js"},
		{name: "relative without extension", specifier: "./a", fromDir: "/proj/src", expected: "/proj/src/a.js"},
		{name: "second extension", specifier: "./util", fromDir: "/proj/src", expected: "/proj/src/util.mjs"},
		{name: "parent directory", specifier: "../src/a", fromDir: "/proj/src/lib", expected: "/proj/src/a.js"},
		{name: "directory index", specifier: "./lib", fromDir: "/proj/src", expected: "/proj/src/lib/index.js"},
		{name: "directory package main", specifier: "./pkg", fromDir: "/proj/src", expected: "/proj/src/pkg/dist/entry.js"},
		{name: "absolute path", specifier: "/proj/src/a", fromDir: "/elsewhere", expected: "/proj/src/a.js"},
		{name: "alias prefix", specifier: "tictactoe/board", fromDir: "/proj/src", expected: "/proj/shared/board.js"},
		{name: "alias exact directory", specifier: "tictactoe", fromDir: "/proj/src", expected: "/proj/shared/index.js"},
		{name: "exact alias", specifier: "exact", fromDir: "/proj/src", expected: "/proj/src/a.js"},
		{name: "node_modules module field", specifier: "lodash", fromDir: "/proj/src/lib", expected: "/proj/node_modules/lodash/lodash.esm.js"},
		{name: "node_modules index", specifier: "tiny", fromDir: "/proj/src", expected: "/proj/node_modules/tiny/index.mjs"},
		{name: "scoped package", specifier: "@scope/thing", fromDir: "/proj/src", expected: "/proj/node_modules/@scope/thing/index.js"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(tt.specifier, tt.fromDir)
			require.NoError(t, err)
			require.Equal(t, filepath.FromSlash(tt.expected), got)
		})
	}
}

func TestResolve_notFound(t *testing.T) {
	fs := memTree(t, map[string]string{
		"/proj/src/main.js": "",
	})
	r := New(Options{Fs: fs, Aliases: map[string]string{"exact$": "/proj/src/main.js"}})

	tests := []struct {
		name      string
		specifier string
	}{
		{name: "missing relative", specifier: "./missing"},
		{name: "missing package", specifier: "react"},
		{name: "exact alias does not match prefix", specifier: "exact/child"},
		{name: "empty specifier", specifier: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Resolve(tt.specifier, "/proj/src")
			require.Error(t, err)

			var resErr *ResolutionError
			require.True(t, errors.As(err, &resErr))
			require.Equal(t, tt.specifier, resErr.Specifier)
			require.ErrorIs(t, err, ErrModuleNotFound)
		})
	}
}

func TestResolve_longestAliasWins(t *testing.T) {
	fs := memTree(t, map[string]string{
		"/a/x.js":     "",
		"/b/inner.js": "",
	})
	r := New(Options{Fs: fs, Aliases: map[string]string{
		"app":       "/a",
		"app/inner": "/b/inner.js",
	}})

	got, err := r.Resolve("app/inner", "/")
	require.NoError(t, err)
	require.Equal(t, filepath.FromSlash("/b/inner.js"), got)

	got, err = r.Resolve("app/x", "/")
	require.NoError(t, err)
	require.Equal(t, filepath.FromSlash("/a/x.js"), got)
}

func TestResolve_deterministic(t *testing.T) {
	fs := memTree(t, map[string]string{
		"/proj/a.js":  "",
		"/proj/a.mjs": "",
	})
	r := New(Options{Fs: fs})

	for range 10 {
		got, err := r.Resolve("./a", "/proj")
		require.NoError(t, err)
		require.Equal(t, filepath.FromSlash("/proj/a.js"), got)
	}
}

func TestResolve_symlinkCanonical(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "real.js")
	require.NoError(t, os.WriteFile(target, []byte("export {}"), 0600))
	link := filepath.Join(dir, "link.js")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}

	r := New(Options{})

	viaLink, err := r.Resolve("./link", dir)
	require.NoError(t, err)
	direct, err := r.Resolve("./real", dir)
	require.NoError(t, err)

	require.Equal(t, direct, viaLink)
}

func TestCanonical_missing(t *testing.T) {
	r := New(Options{Fs: afero.NewMemMapFs()})

	_, err := r.Canonical("/nope/main.js")
	require.ErrorIs(t, err, ErrModuleNotFound)
}
