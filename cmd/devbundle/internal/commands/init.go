package commands

import (
	"context"
	"fmt"

	"github.com/wolfeidau/devbundle/internal/config"
)

// InitCmd writes a config file with the default settings.
type InitCmd struct {
	Path  string `arg:"" optional:"" help:"config file to create" default:"devbundle.yaml"`
	Entry string `help:"entry module" default:"./src/main.js"`
	Force bool   `help:"overwrite an existing file" default:"false"`
}

func (c *InitCmd) Run(ctx context.Context, globals *Globals) error {
	cfg := config.DefaultConfig()
	cfg.Entry = c.Entry
	cfg.Features = []string{config.FeatureHTML}

	if err := cfg.Save(c.Path, c.Force); err != nil {
		return fmt.Errorf("%w\n\nTo overwrite:\n  devbundle init --force %s", err, c.Path)
	}

	fmt.Printf("Wrote %s\n", c.Path)
	fmt.Println()
	fmt.Println("To start the dev server:")
	fmt.Printf("  devbundle serve --config %s\n", c.Path)

	return nil
}
