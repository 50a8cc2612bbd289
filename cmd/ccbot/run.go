package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/g960059/ccbot/internal/bridge"
	"github.com/g960059/ccbot/internal/config"
)

// runRun is ccbot's default subcommand: load config, build the bridge,
// and run it until ctx is cancelled (SIGINT/SIGTERM) or a fatal startup
// error occurs. Exit codes follow §6's table: 0 on normal shutdown,
// non-zero on any startup failure.
func (r *Runner) runRun(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(r.errOut)
	verbose := fs.Bool("v", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(r.errOut, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(os.Getenv, os.Environ())
	if err != nil {
		_, _ = fmt.Fprintf(r.errOut, "ccbot: %v\n", err)
		return 1
	}

	b, err := bridge.New(cfg, logger)
	if err != nil {
		_, _ = fmt.Fprintf(r.errOut, "ccbot: %v\n", err)
		return 1
	}

	if err := b.Start(ctx); err != nil && err != context.Canceled {
		_, _ = fmt.Fprintf(r.errOut, "ccbot: %v\n", err)
		return 1
	}
	return 0
}
