package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Mode selects how the bundle is emitted.
type Mode string

const (
	ModeDevelopment Mode = "development"
	ModeProduction  Mode = "production"
)

// Features which can be switched on from the config file.
const (
	FeatureClean = "clean"
	FeatureHTML  = "html"
)

const (
	DefaultFilename       = "bundle.js"
	DefaultPort           = 8080
	DefaultLiveReloadPath = "/__livereload"
)

// Config is the resolved configuration handed to the bundler core.
type Config struct {
	// Entry module path, the root of the dependency graph
	Entry string `yaml:"entry"`
	// Mode is either development or production
	Mode       Mode              `yaml:"mode"`
	Output     Output            `yaml:"output"`
	DevServer  DevServer         `yaml:"devServer"`
	Aliases    map[string]string `yaml:"aliases"`
	Extensions []string          `yaml:"extensions"`
	Features   []string          `yaml:"features"`

	// Root is the directory relative paths are resolved against, normally the
	// directory holding the config file.
	Root string `yaml:"-"`
}

type Output struct {
	Path       string `yaml:"path"`
	Filename   string `yaml:"filename"`
	PublicPath string `yaml:"publicPath"`
}

type DevServer struct {
	ContentBase    string `yaml:"contentBase"`
	Port           int    `yaml:"port"`
	Hot            bool   `yaml:"hot"`
	LiveReloadPath string `yaml:"liveReloadPath"`
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() Config {
	return Config{
		Entry: "./src/main.js",
		Mode:  ModeDevelopment,
		Output: Output{
			Path:       "public/dist",
			Filename:   DefaultFilename,
			PublicPath: "/dist/",
		},
		DevServer: DevServer{
			ContentBase:    "public",
			Port:           DefaultPort,
			Hot:            true,
			LiveReloadPath: DefaultLiveReloadPath,
		},
		Extensions: []string{".js", ".mjs", ".cjs", ".jsx"},
		Root:       ".",
	}
}

// Load reads a YAML config file over the defaults and resolves relative paths
// against the directory containing the file.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	root, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return cfg, fmt.Errorf("failed to resolve config directory: %w", err)
	}
	cfg.Root = root

	if err := cfg.Resolve(); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

// Resolve makes every path in the config absolute relative to Root.
func (c *Config) Resolve() error {
	root, err := filepath.Abs(c.Root)
	if err != nil {
		return fmt.Errorf("failed to resolve root: %w", err)
	}
	c.Root = root

	c.Entry = c.abs(c.Entry)
	c.Output.Path = c.abs(c.Output.Path)
	if c.DevServer.ContentBase != "" {
		c.DevServer.ContentBase = c.abs(c.DevServer.ContentBase)
	}

	for key, dir := range c.Aliases {
		c.Aliases[key] = c.abs(dir)
	}

	if c.DevServer.LiveReloadPath == "" {
		c.DevServer.LiveReloadPath = DefaultLiveReloadPath
	}

	return nil
}

func (c *Config) abs(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Root, p)
}

// Validate checks the config is usable by the bundler.
func (c *Config) Validate() error {
	if c.Entry == "" {
		return errors.New("entry is required")
	}
	if c.Output.Path == "" {
		return errors.New("output.path is required")
	}
	if c.Output.Filename == "" {
		return errors.New("output.filename is required")
	}
	if strings.ContainsAny(c.Output.Filename, `/\`) {
		return fmt.Errorf("output.filename must be a plain file name, got %q", c.Output.Filename)
	}
	if c.Mode != ModeDevelopment && c.Mode != ModeProduction {
		return fmt.Errorf("mode must be %q or %q, got %q", ModeDevelopment, ModeProduction, c.Mode)
	}
	if c.DevServer.Port < 0 || c.DevServer.Port > 65535 {
		return fmt.Errorf("devServer.port out of range: %d", c.DevServer.Port)
	}
	for _, ext := range c.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("extension %q must start with a dot", ext)
		}
	}
	for _, f := range c.Features {
		if f != FeatureClean && f != FeatureHTML {
			return fmt.Errorf("unknown feature %q", f)
		}
	}
	return nil
}

// Enabled reports whether the named feature is switched on.
func (c *Config) Enabled(feature string) bool {
	return slices.Contains(c.Features, feature)
}

// IsDevelopment reports whether the config is in development mode
func (c *Config) IsDevelopment() bool {
	return c.Mode == ModeDevelopment
}

// HotReload reports whether clients should be told about rebuilds.
func (c *Config) HotReload() bool {
	return c.IsDevelopment() && c.DevServer.Hot
}

// ArtifactPath is the absolute path of the emitted bundle.
func (c *Config) ArtifactPath() string {
	return filepath.Join(c.Output.Path, c.Output.Filename)
}

// ArtifactURL is the URL path the bundle is served under.
func (c *Config) ArtifactURL() string {
	return PublicPath(c.Output.PublicPath) + c.Output.Filename
}

// PublicPath normalises a public path to start and end with a slash.
func PublicPath(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return "/"
	}
	return "/" + p + "/"
}

// Save writes the config as YAML. Paths are written as they are, so save a
// config before calling Resolve to keep them relative.
func (c *Config) Save(path string, overwrite bool) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !overwrite {
		flags |= os.O_EXCL
	}

	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return f.Close()
}
