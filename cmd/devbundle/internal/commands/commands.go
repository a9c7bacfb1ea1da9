package commands

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/wolfeidau/devbundle/internal/config"
	"github.com/wolfeidau/devbundle/internal/telemetry"
)

type Globals struct {
	Debug   bool
	Version string
}

// ConfigFlags are shared by the commands reading a config file.
type ConfigFlags struct {
	Config string `help:"path to the config file" default:"devbundle.yaml" env:"DEVBUNDLE_CONFIG" type:"path"`
	Mode   string `help:"override the config mode" enum:",development,production" default:"" env:"DEVBUNDLE_MODE"`
}

func (f *ConfigFlags) load() (config.Config, error) {
	cfg, err := config.Load(f.Config)
	if err != nil {
		return cfg, fmt.Errorf("failed to load config %s: %w", f.Config, err)
	}

	if f.Mode != "" {
		cfg.Mode = config.Mode(f.Mode)
	}

	return cfg, nil
}

// TelemetryFlags enable OTLP export, configured with the OTEL_* variables.
type TelemetryFlags struct {
	Telemetry   bool    `help:"export metrics and traces over OTLP" default:"false" env:"DEVBUNDLE_TELEMETRY"`
	SampleRatio float64 `help:"fraction of builds traced" default:"1" env:"DEVBUNDLE_TRACE_SAMPLE_RATIO"`
}

// setup returns a shutdown func which is a no-op when telemetry is disabled.
func (f *TelemetryFlags) setup(ctx context.Context, log zerolog.Logger, globals *Globals) func() {
	if !f.Telemetry {
		return func() {}
	}

	log.Info().Msg("Telemetry is enabled")
	shutdown, err := telemetry.InitTelemetry(ctx, telemetry.Config{
		ServiceName: "devbundle",
		Version:     globals.Version,
		SampleRatio: f.SampleRatio,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
		return func() {}
	}

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to shutdown telemetry")
		}
	}
}

func configureHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       5 * time.Minute,
		MaxHeaderBytes:    8 * 1024, // 8KiB
	}
}
