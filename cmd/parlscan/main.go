// Package main wires together the parliamentary scan service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/oversightlabs/parlscan/internal/app"
	"github.com/oversightlabs/parlscan/internal/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "parlscan: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to YAML config file (optional; env vars apply either way)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()
	a, err := app.Build(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}

	return a.Run(ctx)
}
