// Package devserver serves the current bundle and static files and pushes
// live reload notifications to connected browsers.
package devserver

import (
	"bytes"
	"net/http"
	"path"
	"strings"

	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/devbundle/internal/assets"
	httpmiddleware "github.com/wolfeidau/devbundle/internal/http"
	"github.com/wolfeidau/devbundle/internal/logger"
)

// Artifacts provides the snapshot currently being served.
type Artifacts interface {
	Current() *assets.Snapshot
}

type Config struct {
	OutputDir      string
	Filename       string
	PublicPath     string
	ContentBase    string
	LiveReloadPath string
	AllowedOrigins []string
}

// Server is the development HTTP surface.
type Server struct {
	config    Config
	artifacts Artifacts
	hub       *Hub
	logger    zerolog.Logger
}

// Option configures the server
type Option func(*Server)

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a dev server for the given artifact source
func New(config Config, artifacts Artifacts, opts ...Option) *Server {
	if config.PublicPath == "" {
		config.PublicPath = "/"
	}

	s := &Server{
		config:    config,
		artifacts: artifacts,
		logger:    log.Logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = NewHub(s.logger)

	return s
}

// Hub returns the live reload hub
func (s *Server) Hub() *Hub {
	return s.hub
}

// NotifyUpdate broadcasts a new artifact version to live reload clients
func (s *Server) NotifyUpdate(version int64) int {
	return s.hub.NotifyUpdate(version)
}

// NotifyError broadcasts a failed rebuild to live reload clients
func (s *Server) NotifyError(message string) int {
	return s.hub.NotifyError(message)
}

// Close disconnects all live reload clients
func (s *Server) Close() {
	s.hub.Close()
}

// Handler returns the dev server handler. The live reload socket bypasses
// compression.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	if s.config.LiveReloadPath != "" {
		mux.Handle(s.config.LiveReloadPath, s.hub)
	}
	mux.Handle("/", gzhttp.GzipHandler(http.HandlerFunc(s.serveFiles)))

	origins := s.config.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodHead},
		ExposedHeaders: []string{"ETag"},
	})

	return httpmiddleware.Chain(mux,
		logger.NewHTTPRequests(s.logger).Wrap,
		httpmiddleware.ClientIPMiddleware(),
		corsMiddleware.Handler,
		httpmiddleware.NoCache(),
	)
}

func (s *Server) bundlePath() string {
	return s.config.PublicPath + s.config.Filename
}

func (s *Server) serveFiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	urlPath := path.Clean("/" + r.URL.Path)
	if urlPath == s.bundlePath() {
		s.serveBundle(w, r)
		return
	}

	if rel, ok := s.outputRelative(urlPath); ok && s.config.OutputDir != "" {
		if serveFromDir(w, r, http.Dir(s.config.OutputDir), rel) {
			return
		}
	}

	if s.config.ContentBase != "" && serveFromDir(w, r, http.Dir(s.config.ContentBase), urlPath) {
		return
	}

	http.NotFound(w, r)
}

// outputRelative maps a URL under the public path to a path inside the output directory.
func (s *Server) outputRelative(urlPath string) (string, bool) {
	if urlPath+"/" == s.config.PublicPath {
		return "/", true
	}
	rel, ok := strings.CutPrefix(urlPath, s.config.PublicPath)
	return "/" + rel, ok
}

// serveBundle serves the current snapshot from memory so a request never
// observes a partially written file.
func (s *Server) serveBundle(w http.ResponseWriter, r *http.Request) {
	snapshot := s.artifacts.Current()
	if snapshot == nil {
		http.Error(w, "bundle not built yet", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
	w.Header().Set("ETag", snapshot.ETag)
	http.ServeContent(w, r, s.config.Filename, snapshot.ModTime, bytes.NewReader(snapshot.Artifact.Contents))
}

// serveFromDir serves name from dir, using index.html for directories, and
// reports whether anything was found.
func serveFromDir(w http.ResponseWriter, r *http.Request, dir http.Dir, name string) bool {
	f, err := dir.Open(name)
	if err != nil {
		return false
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return false
	}

	if info.IsDir() {
		return serveFromDir(w, r, dir, path.Join(name, "index.html"))
	}

	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
	return true
}
