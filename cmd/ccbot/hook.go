package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/g960059/ccbot/internal/config"
	"github.com/g960059/ccbot/internal/store"
)

// hookPayload is the subset of Claude Code's SessionStart hook JSON ccbot
// reads from stdin. The full event schema is out of scope (spec.md §1);
// ccbot only needs these three fields to write a session-map row.
type hookPayload struct {
	SessionID string `json:"session_id"`
	Cwd       string `json:"cwd"`
	Event     string `json:"hook_event_name"`
}

const sessionStartEvent = "SessionStart"

// hookCommandSuffix is what ccbot looks for in an installed settings.json
// entry to decide the hook is already wired up.
const hookCommandSuffix = "ccbot hook"

// runHook implements both the ordinary hook invocation (consume one
// SessionStart payload from stdin, write one session-map entry, exit)
// and hook --install (append the hook declaration to the agent's config
// file idempotently). Grounded on original_source/src/ccmux/hook.py's
// hook_main, rewritten to write §6's "<mux_session>:<window_id>" key
// instead of a "<session_name>:<window_name>" one and to use
// github.com/google/uuid for validation instead of a hand-rolled regexp.
func (r *Runner) runHook(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("hook", flag.ContinueOnError)
	fs.SetOutput(r.errOut)
	install := fs.Bool("install", false, "install the SessionStart hook into the agent's settings file")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *install {
		return r.installHook()
	}

	var payload hookPayload
	if err := json.NewDecoder(r.in).Decode(&payload); err != nil {
		// A malformed or empty payload on stdin is not fatal to the agent
		// process that invoked this hook; exit quietly.
		return 0
	}
	if payload.Event != sessionStartEvent || payload.SessionID == "" {
		return 0
	}
	if _, err := uuid.Parse(payload.SessionID); err != nil {
		return 0
	}
	if payload.Cwd != "" && !filepath.IsAbs(payload.Cwd) {
		return 0
	}

	pane := os.Getenv("TMUX_PANE")
	if pane == "" {
		return 0
	}
	muxSession, windowID, windowName, ok := tmuxWindowIdentity(ctx, pane)
	if !ok {
		return 0
	}

	configDir := config.ConfigDirFromEnv(os.Getenv)
	sessionMap := store.NewSessionMapReader(configDir)
	key := store.Key(muxSession, windowID)
	entry := store.SessionMapEntry{SessionID: payload.SessionID, Cwd: payload.Cwd, WindowName: windowName}
	if err := sessionMap.WriteEntry(key, entry); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "ccbot hook: %v\n", err)
		return 0
	}
	return 0
}

// tmuxWindowIdentity asks tmux itself which session and window the
// calling pane lives in, the way the hook.py original shells out to
// `tmux display-message`.
func tmuxWindowIdentity(ctx context.Context, pane string) (muxSession, windowID, windowName string, ok bool) {
	cmd := exec.CommandContext(ctx, "tmux", "display-message", "-t", pane, "-p", "#{session_name}:#{window_id}:#{window_name}")
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return "", "", "", false
	}
	fields := strings.SplitN(strings.TrimSpace(stdout.String()), ":", 3)
	if len(fields) != 3 || fields[0] == "" || fields[1] == "" {
		return "", "", "", false
	}
	return fields[0], fields[1], fields[2], true
}

// claudeSettingsPath is where Claude Code's own hook declarations live,
// mirroring original_source/src/ccmux/hook.py's _CLAUDE_SETTINGS_FILE.
func claudeSettingsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".claude", "settings.json")
	}
	return filepath.Join(home, ".claude", "settings.json")
}

func (r *Runner) installHook() int {
	path := claudeSettingsPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "ccbot hook --install: %v\n", err)
		return 1
	}

	settings := map[string]any{}
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &settings); err != nil {
			_, _ = fmt.Fprintf(r.errOut, "ccbot hook --install: parsing %s: %v\n", path, err)
			return 1
		}
	} else if !os.IsNotExist(err) {
		_, _ = fmt.Fprintf(r.errOut, "ccbot hook --install: %v\n", err)
		return 1
	}

	if hookAlreadyInstalled(settings) {
		_, _ = fmt.Fprintf(r.out, "hook already installed in %s\n", path)
		return 0
	}

	exePath, err := os.Executable()
	if err != nil {
		exePath = "ccbot"
	}
	hookCmd := exePath + " hook"

	hooks, _ := settings["hooks"].(map[string]any)
	if hooks == nil {
		hooks = map[string]any{}
	}
	sessionStart, _ := hooks["SessionStart"].([]any)
	sessionStart = append(sessionStart, map[string]any{
		"hooks": []any{
			map[string]any{"type": "command", "command": hookCmd, "timeout": 5},
		},
	})
	hooks["SessionStart"] = sessionStart
	settings["hooks"] = hooks

	out, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		_, _ = fmt.Fprintf(r.errOut, "ccbot hook --install: %v\n", err)
		return 1
	}
	if err := os.WriteFile(path, append(out, '\n'), 0o600); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "ccbot hook --install: %v\n", err)
		return 1
	}

	msg := fmt.Sprintf("hook installed in %s", path)
	if colorEnabled(r.out) {
		msg = "\033[32m" + msg + "\033[0m"
	}
	_, _ = fmt.Fprintln(r.out, msg)
	return 0
}

// hookAlreadyInstalled detects a prior install the same way hook.py's
// _is_hook_installed does: scan every SessionStart entry for a command
// ending in "ccbot hook".
func hookAlreadyInstalled(settings map[string]any) bool {
	hooks, _ := settings["hooks"].(map[string]any)
	sessionStart, _ := hooks["SessionStart"].([]any)
	for _, entry := range sessionStart {
		entryMap, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		inner, _ := entryMap["hooks"].([]any)
		for _, h := range inner {
			hMap, ok := h.(map[string]any)
			if !ok {
				continue
			}
			cmd, _ := hMap["command"].(string)
			if cmd == hookCommandSuffix || strings.HasSuffix(cmd, "/"+hookCommandSuffix) {
				return true
			}
		}
	}
	return false
}
