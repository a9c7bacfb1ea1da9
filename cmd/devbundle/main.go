package main

import (
	"context"

	"github.com/alecthomas/kong"
	"github.com/wolfeidau/devbundle/cmd/devbundle/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Debug   bool `help:"Enable debug mode." env:"DEVBUNDLE_DEBUG"`
		Version kong.VersionFlag
		Serve   commands.ServeCmd `cmd:"" default:"withargs" help:"Build, watch and serve the bundle with live reload"`
		Build   commands.BuildCmd `cmd:"" help:"Build the bundle once"`
		Init    commands.InitCmd  `cmd:"" help:"Write a default config file"`
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Name("devbundle"),
		kong.Description("A minimal JavaScript module bundler with a live reloading dev server."),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}
