package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "devbundle.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
entry: ./src-gen/main.js
mode: development
output:
  path: public/dist
  filename: tictactoe-app.js
  publicPath: dist/
devServer:
  contentBase: public
  port: 8081
  hot: true
aliases:
  tictactoe: .
features: [clean, html]
`)
	root := filepath.Dir(path)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, root, cfg.Root)
	require.Equal(t, filepath.Join(root, "src-gen/main.js"), cfg.Entry)
	require.Equal(t, filepath.Join(root, "public/dist"), cfg.Output.Path)
	require.Equal(t, filepath.Join(root, "public"), cfg.DevServer.ContentBase)
	require.Equal(t, root, cfg.Aliases["tictactoe"])
	require.Equal(t, 8081, cfg.DevServer.Port)
	require.Equal(t, DefaultLiveReloadPath, cfg.DevServer.LiveReloadPath)
	require.Equal(t, "/dist/tictactoe-app.js", cfg.ArtifactURL())
	require.Equal(t, filepath.Join(root, "public/dist/tictactoe-app.js"), cfg.ArtifactPath())
	require.True(t, cfg.HotReload())
	require.True(t, cfg.Enabled(FeatureClean))
	require.True(t, cfg.Enabled(FeatureHTML))
	require.Equal(t, []string{".js", ".mjs", ".cjs", ".jsx"}, cfg.Extensions)
}

func TestLoad_missingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	require.ErrorContains(t, err, "failed to read config file")
}

func TestLoad_invalidYAML(t *testing.T) {
	path := writeConfig(t, "entry: [unterminated")

	_, err := Load(path)
	require.ErrorContains(t, err, "failed to parse YAML config")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing entry",
			mutate:  func(c *Config) { c.Entry = "" },
			wantErr: "entry is required",
		},
		{
			name:    "filename with directory",
			mutate:  func(c *Config) { c.Output.Filename = "js/app.js" },
			wantErr: "plain file name",
		},
		{
			name:    "unknown mode",
			mutate:  func(c *Config) { c.Mode = "staging" },
			wantErr: "mode must be",
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.DevServer.Port = 70000 },
			wantErr: "out of range",
		},
		{
			name:    "extension without dot",
			mutate:  func(c *Config) { c.Extensions = []string{"js"} },
			wantErr: "must start with a dot",
		},
		{
			name:    "unknown feature",
			mutate:  func(c *Config) { c.Features = []string{"hmr"} },
			wantErr: "unknown feature",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestHotReload_productionDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeProduction

	require.False(t, cfg.HotReload())
	require.False(t, cfg.IsDevelopment())
}

func TestPublicPath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{input: "", expected: "/"},
		{input: "/", expected: "/"},
		{input: "dist/", expected: "/dist/"},
		{input: "/dist", expected: "/dist/"},
		{input: "/assets/js/", expected: "/assets/js/"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			require.Equal(t, tt.expected, PublicPath(tt.input))
		})
	}
}

func TestSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devbundle.yaml")

	cfg := DefaultConfig()
	cfg.Aliases = map[string]string{"tictactoe": "."}
	require.NoError(t, cfg.Save(path, false))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(filepath.Dir(path), "src", "main.js"), loaded.Entry)
	require.Equal(t, filepath.Dir(path), loaded.Aliases["tictactoe"])
	require.Equal(t, DefaultFilename, loaded.Output.Filename)

	require.Error(t, cfg.Save(path, false), "existing file is kept")
	require.NoError(t, cfg.Save(path, true))
}
