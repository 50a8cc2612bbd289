// Command ccbot is the bridge's single entrypoint: the long-running
// "run" subcommand plus the two small helper subcommands ("hook" and
// "sync") that never touch the bot token. Thin on purpose — all the
// dispatch logic lives in Runner.Run.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	r := NewRunner(os.Stdin, os.Stdout, os.Stderr)
	os.Exit(r.Run(ctx, os.Args[1:]))
}
