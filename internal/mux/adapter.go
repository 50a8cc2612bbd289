package mux

import (
	"context"
	"fmt"
	"strings"

	"github.com/g960059/ccbot/internal/config"
	"github.com/g960059/ccbot/internal/model"
	"github.com/g960059/ccbot/internal/tmuxfmt"
)

// homeWindowName is the one window in the bridge's tmux session that
// enumeration always ignores (§4.1).
const homeWindowName = "home"

const windowFormat = "#{window_id}" + tmuxfmt.FieldSeparator +
	"#{window_name}" + tmuxfmt.FieldSeparator +
	"#{pane_current_path}" + tmuxfmt.FieldSeparator +
	"#{pane_current_command}"

// Adapter is the multiplexer control plane for one named tmux session.
type Adapter struct {
	session string
	exec    *executor
}

func New(cfg config.Config, runner Runner) *Adapter {
	return &Adapter{session: cfg.MuxSessionName, exec: newExecutor(cfg, runner)}
}

// EnsureSession creates the bridge's tmux session with its home window
// if it does not already exist. Idempotent.
func (a *Adapter) EnsureSession(ctx context.Context) error {
	if _, err := a.exec.run(ctx, "has-session", "-t", a.session); err == nil {
		return nil
	}
	_, err := a.exec.run(ctx, "new-session", "-d", "-s", a.session, "-n", homeWindowName)
	return err
}

// ListWindows enumerates every window in the session except the home window.
func (a *Adapter) ListWindows(ctx context.Context) ([]model.WindowState, error) {
	out, err := a.exec.run(ctx, "list-windows", "-t", a.session, "-F", windowFormat)
	if err != nil {
		return nil, err
	}
	var windows []model.WindowState
	for _, line := range strings.Split(strings.TrimRight(out, "\n"), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := tmuxfmt.SplitLine(line, 4)
		if len(fields) < 4 {
			continue
		}
		if fields[1] == homeWindowName {
			continue
		}
		windows = append(windows, model.WindowState{
			WindowID:   fields[0],
			WindowName: fields[1],
			Cwd:        fields[2],
		})
	}
	return windows, nil
}

// FindByID returns the live window matching windowID, or ok=false if it
// no longer exists in the multiplexer (§4.1: treated as an external kill
// by the routing fabric).
func (a *Adapter) FindByID(ctx context.Context, windowID string) (model.WindowState, bool, error) {
	windows, err := a.ListWindows(ctx)
	if err != nil {
		return model.WindowState{}, false, err
	}
	for _, w := range windows {
		if w.WindowID == windowID {
			return w, true, nil
		}
	}
	return model.WindowState{}, false, nil
}

// FindByName returns the live window matching name, used by
// resolve_stale_ids (§4.4) to recover bindings after a bridge restart.
func (a *Adapter) FindByName(ctx context.Context, name string) (model.WindowState, bool, error) {
	windows, err := a.ListWindows(ctx)
	if err != nil {
		return model.WindowState{}, false, err
	}
	for _, w := range windows {
		if w.WindowName == name {
			return w, true, nil
		}
	}
	return model.WindowState{}, false, nil
}

// CreateWindow opens a new window at cwd, resolving name collisions by
// appending "-2", "-3", ... until unique, then sends startCommand with a
// trailing Enter (§4.1).
func (a *Adapter) CreateWindow(ctx context.Context, cwd, desiredName, startCommand string) (windowID, finalName string, err error) {
	existing, err := a.ListWindows(ctx)
	if err != nil {
		return "", "", err
	}
	used := make(map[string]bool, len(existing))
	for _, w := range existing {
		used[w.WindowName] = true
	}
	finalName = desiredName
	for suffix := 2; used[finalName]; suffix++ {
		finalName = fmt.Sprintf("%s-%d", desiredName, suffix)
	}

	out, err := a.exec.run(ctx, "new-window", "-t", a.session, "-n", finalName, "-c", cwd, "-P", "-F", "#{window_id}")
	if err != nil {
		return "", "", err
	}
	windowID = strings.TrimSpace(out)
	if windowID == "" {
		return "", "", fmt.Errorf("%s: tmux returned empty window id", model.ErrMuxUnreachable)
	}
	if strings.TrimSpace(startCommand) != "" {
		if err := a.SendKeys(ctx, windowID, startCommand, true, false); err != nil {
			return windowID, finalName, err
		}
	}
	return windowID, finalName, nil
}

// KillWindow kills windowID. Idempotent: killing an already-gone window
// is not an error.
func (a *Adapter) KillWindow(ctx context.Context, windowID string) error {
	_, err := a.exec.run(ctx, "kill-window", "-t", a.qualify(windowID))
	if err != nil && strings.Contains(err.Error(), "can't find window") {
		return nil
	}
	return err
}

// SendKeys delivers keys to windowID. literal=true suppresses
// escape-sequence interpretation; appendEnter issues a trailing Enter
// only after the content itself was delivered, matching tmux's own
// two-step send-keys convention for literal payloads.
func (a *Adapter) SendKeys(ctx context.Context, windowID, keys string, appendEnter, literal bool) error {
	args := []string{"send-keys", "-t", a.qualify(windowID)}
	if literal {
		args = append(args, "-l")
	}
	args = append(args, keys)
	if _, err := a.exec.run(ctx, args...); err != nil {
		return err
	}
	if appendEnter {
		if _, err := a.exec.run(ctx, "send-keys", "-t", a.qualify(windowID), "Enter"); err != nil {
			return err
		}
	}
	return nil
}

// CapturePane returns the visible pane text for windowID, optionally
// including ANSI SGR escape sequences.
func (a *Adapter) CapturePane(ctx context.Context, windowID string, withANSI bool) (string, error) {
	args := []string{"capture-pane", "-p", "-t", a.qualify(windowID)}
	if withANSI {
		args = append(args, "-e")
	}
	return a.exec.run(ctx, args...)
}

func (a *Adapter) qualify(windowID string) string {
	return a.session + ":" + windowID
}

