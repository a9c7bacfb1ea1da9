package session

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/wolfeidau/devbundle/internal/assets"
	"github.com/wolfeidau/devbundle/internal/bundle"
	"github.com/wolfeidau/devbundle/internal/config"
	"github.com/wolfeidau/devbundle/internal/graph"
	"github.com/wolfeidau/devbundle/internal/parse"
	"github.com/wolfeidau/devbundle/internal/resolve"
	"github.com/wolfeidau/devbundle/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// NewStore creates the artifact store for the configured output location.
func NewStore(cfg config.Config) *assets.Store {
	return assets.NewStore(assets.Config{
		OutputDir:  cfg.Output.Path,
		Filename:   cfg.Output.Filename,
		PublicPath: config.PublicPath(cfg.Output.PublicPath),
	})
}

// pipeline runs graph build, emit and publish as one step.
type pipeline struct {
	entry   string
	builder *graph.Builder
	emitter *bundle.Emitter
	store   *assets.Store
	metrics *telemetry.Metrics
}

func newPipeline(cfg config.Config, store *assets.Store, liveReload bool) *pipeline {
	resolver := resolve.New(resolve.Options{
		Aliases:    cfg.Aliases,
		Extensions: cfg.Extensions,
	})
	parser := parse.New(parse.Options{
		Root:   cfg.Root,
		Minify: !cfg.IsDevelopment(),
	})

	emitOpts := bundle.Options{}
	if liveReload {
		emitOpts.LiveReloadPath = cfg.DevServer.LiveReloadPath
	}

	return &pipeline{
		entry:   cfg.Entry,
		builder: graph.NewBuilder(resolver, parser),
		emitter: bundle.New(emitOpts),
		store:   store,
		metrics: telemetry.GetMetrics(),
	}
}

// outcome of one pipeline run
type outcome struct {
	graph    *graph.Graph
	snapshot *assets.Snapshot
	// unchanged is set when the emitted bundle matched the current one byte for
	// byte, nothing was published
	unchanged bool
}

// run builds from scratch when prior is nil, otherwise rebuilds from prior.
func (p *pipeline) run(ctx context.Context, prior *graph.Graph, changed []string) (*outcome, error) {
	kind := "initial"
	if prior != nil {
		kind = "rebuild"
	}

	ctx, span := telemetry.Tracer().Start(ctx, "devbundle.build", trace.WithAttributes(
		attribute.String("build.kind", kind),
		attribute.Int("build.changed", len(changed)),
	))
	defer span.End()

	started := time.Now()
	attrs := metric.WithAttributes(attribute.String("kind", kind))

	out, err := p.execute(ctx, prior, changed)

	p.metrics.BuildsTotal.Add(ctx, 1, attrs)
	p.metrics.BuildDuration.Record(ctx, float64(time.Since(started).Milliseconds()), attrs)

	if err != nil {
		p.metrics.BuildErrorsTotal.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	p.metrics.ModulesBundled.Record(ctx, int64(out.graph.Len()), attrs)
	p.metrics.ArtifactBytes.Record(ctx, int64(len(out.snapshot.Artifact.Contents)), attrs)
	span.SetAttributes(
		attribute.Int("build.modules", out.graph.Len()),
		attribute.Int64("build.version", out.snapshot.Version),
		attribute.Bool("build.unchanged", out.unchanged),
	)

	zerolog.Ctx(ctx).Debug().
		Str("kind", kind).
		Int("modules", out.graph.Len()).
		Int64("version", out.snapshot.Version).
		Bool("unchanged", out.unchanged).
		Dur("duration", time.Since(started)).
		Msg("Build finished")

	return out, nil
}

func (p *pipeline) execute(ctx context.Context, prior *graph.Graph, changed []string) (*outcome, error) {
	var (
		g   *graph.Graph
		err error
	)
	if prior == nil {
		g, err = p.builder.Build(ctx, p.entry)
	} else {
		g, err = p.builder.Rebuild(ctx, prior, changed)
	}
	if err != nil {
		return nil, err
	}

	artifact, err := p.emitter.Emit(g)
	if err != nil {
		return nil, err
	}

	if current := p.store.Current(); current != nil && bytes.Equal(current.Artifact.Contents, artifact.Contents) {
		return &outcome{graph: g, snapshot: current, unchanged: true}, nil
	}

	snapshot, err := p.store.Publish(ctx, artifact)
	if err != nil {
		return nil, err
	}

	return &outcome{graph: g, snapshot: snapshot}, nil
}

// prepareOutput applies the clean and html features before the first build.
func prepareOutput(ctx context.Context, cfg config.Config, store *assets.Store) error {
	if cfg.Enabled(config.FeatureClean) {
		if err := store.Clean(ctx); err != nil {
			return fmt.Errorf("failed to clean output: %w", err)
		}
	}

	if cfg.Enabled(config.FeatureHTML) {
		path, err := store.WriteIndexHTML(ctx)
		if err != nil {
			return err
		}
		zerolog.Ctx(ctx).Debug().Str("file", path).Msg("Wrote index.html")
	}

	return nil
}

// Build runs a single build of cfg and publishes the bundle, without watching
// or live reload.
func Build(ctx context.Context, cfg config.Config) (*assets.Snapshot, error) {
	store := NewStore(cfg)

	if err := prepareOutput(ctx, cfg, store); err != nil {
		return nil, err
	}

	out, err := newPipeline(cfg, store, false).run(ctx, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("build failed: %w", err)
	}

	return out.snapshot, nil
}
