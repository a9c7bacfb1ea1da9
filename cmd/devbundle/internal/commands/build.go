package commands

import (
	"context"

	"github.com/wolfeidau/devbundle/internal/logger"
	"github.com/wolfeidau/devbundle/internal/session"
)

type BuildCmd struct {
	ConfigFlags    `embed:""`
	TelemetryFlags `embed:""`
}

func (c *BuildCmd) Run(ctx context.Context, globals *Globals) error {
	log := logger.Setup(globals.Debug)

	cfg, err := c.load()
	if err != nil {
		return err
	}

	defer c.setup(ctx, log, globals)()

	snapshot, err := session.Build(log.WithContext(ctx), cfg)
	if err != nil {
		return err
	}

	log.Info().
		Str("file", snapshot.Path).
		Str("mode", string(cfg.Mode)).
		Int("modules", len(snapshot.Artifact.Modules)).
		Int("bytes", len(snapshot.Artifact.Contents)).
		Str("digest", snapshot.Artifact.Digest).
		Msg("Bundle written")

	return nil
}
