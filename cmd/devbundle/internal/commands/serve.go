package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/wolfeidau/devbundle/internal/config"
	"github.com/wolfeidau/devbundle/internal/devserver"
	"github.com/wolfeidau/devbundle/internal/logger"
	"github.com/wolfeidau/devbundle/internal/session"
	"github.com/wolfeidau/devbundle/internal/watcher"
	"golang.org/x/sync/errgroup"
)

type ServeCmd struct {
	ConfigFlags    `embed:""`
	TelemetryFlags `embed:""`

	Listen      string        `help:"HTTP listen host, the port comes from the config unless --port is set" default:"" env:"DEVBUNDLE_LISTEN"`
	Port        int           `help:"override devServer.port" default:"0" env:"DEVBUNDLE_PORT"`
	Debounce    time.Duration `help:"window in which repeated writes to one file are merged" default:"100ms" env:"DEVBUNDLE_DEBOUNCE"`
	CORSOrigins []string      `help:"allowed CORS origins" default:"*" env:"DEVBUNDLE_CORS_ORIGINS"`
}

func (c *ServeCmd) Run(ctx context.Context, globals *Globals) error {
	log := logger.Setup(globals.Debug)

	cfg, err := c.load()
	if err != nil {
		return err
	}
	if c.Port != 0 {
		cfg.DevServer.Port = c.Port
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log.Info().
		Str("version", globals.Version).
		Str("entry", cfg.Entry).
		Str("mode", string(cfg.Mode)).
		Bool("hot", cfg.HotReload()).
		Msg("Starting dev server")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	defer c.setup(ctx, log, globals)()

	w, err := watcher.New(
		watcher.WithDebounce(c.Debounce),
		watcher.WithLogger(log),
		watcher.WithOnError(func(err error) {
			log.Warn().Err(err).Msg("File watcher error")
		}),
	)
	if err != nil {
		return err
	}

	store := session.NewStore(cfg)

	liveReloadPath := ""
	if cfg.HotReload() {
		liveReloadPath = cfg.DevServer.LiveReloadPath
	}
	srv := devserver.New(devserver.Config{
		OutputDir:      cfg.Output.Path,
		Filename:       cfg.Output.Filename,
		PublicPath:     config.PublicPath(cfg.Output.PublicPath),
		ContentBase:    cfg.DevServer.ContentBase,
		LiveReloadPath: liveReloadPath,
		AllowedOrigins: c.CORSOrigins,
	}, store, devserver.WithLogger(log))

	sess := session.New(cfg, store, w, srv, session.WithLogger(log))

	if err := sess.Start(ctx); err != nil {
		_ = sess.Shutdown(context.Background())
		return err
	}

	log.Info().
		Str("file", cfg.ArtifactPath()).
		Int("watched", len(w.Tracked())).
		Msg("Watching modules")

	addr := net.JoinHostPort(c.Listen, strconv.Itoa(cfg.DevServer.Port))
	httpServer := configureHTTPServer(addr, srv.Handler())

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", addr).Str("bundle", cfg.ArtifactURL()).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return sess.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		return errors.Join(
			sess.Shutdown(shutdownCtx),
			httpServer.Shutdown(shutdownCtx),
		)
	})

	return g.Wait()
}
