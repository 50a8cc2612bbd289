// Package mux wraps the tmux control plane: enumerating and creating
// windows, sending keystrokes, and capturing pane text (§4.1).
package mux

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/g960059/ccbot/internal/config"
	"github.com/g960059/ccbot/internal/model"
)

// Runner executes one external command and returns its combined output.
// Exists so tests can substitute a fake without shelling out to a real
// tmux server.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type OSRunner struct{}

func (OSRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.CombinedOutput()
}

type executor struct {
	cfg    config.Config
	runner Runner
}

func newExecutor(cfg config.Config, runner Runner) *executor {
	if runner == nil {
		runner = OSRunner{}
	}
	return &executor{cfg: cfg, runner: runner}
}

// run shells out to tmux, retrying read-only queries with backoff+jitter
// on transient failure (e.g. the tmux server momentarily unavailable
// while restarting). Mutating commands (send-keys, kill-window, new-window)
// are never retried: retrying could duplicate a keystroke.
func (e *executor) run(ctx context.Context, args ...string) (string, error) {
	maxAttempts := 1
	if isRetryable(args) {
		maxAttempts += len(e.cfg.RetryBackoff)
	}
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		runCtx, cancel := context.WithTimeout(ctx, e.cfg.CommandTimeout)
		out, err := e.runner.Run(runCtx, "tmux", args...)
		cancel()
		if err == nil {
			return string(out), nil
		}
		lastErr = err
		if attempt < maxAttempts {
			backoff := e.cfg.RetryBackoff[attempt-1]
			jitter := time.Duration(0)
			if maxJitter := int64(backoff / 4); maxJitter > 0 {
				jitter = time.Duration(time.Now().UnixNano() % maxJitter)
			}
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff + jitter):
			}
		}
	}
	if errors.Is(lastErr, context.DeadlineExceeded) || errors.Is(lastErr, context.Canceled) {
		return "", fmt.Errorf("%s: %w", model.ErrMuxUnreachable, lastErr)
	}
	return "", fmt.Errorf("%s: %w", model.ErrMuxUnreachable, lastErr)
}

func isRetryable(args []string) bool {
	if len(args) == 0 {
		return false
	}
	switch args[0] {
	case "list-windows", "list-panes", "list-sessions", "display-message", "capture-pane", "has-session":
		return true
	default:
		return false
	}
}
