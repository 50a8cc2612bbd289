package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInstallHookIsIdempotent(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	r := NewRunner(nil, &discardWriter{}, &discardWriter{})
	if code := r.installHook(); code != 0 {
		t.Fatalf("first install returned %d", code)
	}

	data, err := os.ReadFile(filepath.Join(home, ".claude", "settings.json"))
	if err != nil {
		t.Fatalf("reading settings: %v", err)
	}
	var settings map[string]any
	if err := json.Unmarshal(data, &settings); err != nil {
		t.Fatalf("parsing settings: %v", err)
	}
	if !hookAlreadyInstalled(settings) {
		t.Fatal("expected hook to be detected as installed")
	}

	if code := r.installHook(); code != 0 {
		t.Fatalf("second install returned %d", code)
	}
	data2, err := os.ReadFile(filepath.Join(home, ".claude", "settings.json"))
	if err != nil {
		t.Fatalf("reading settings after second install: %v", err)
	}
	if strings.Count(string(data2), "SessionStart") != strings.Count(string(data), "SessionStart") {
		t.Fatalf("expected second install to be a no-op, got:\nfirst=%s\nsecond=%s", data, data2)
	}
}

func TestRunHookRejectsNonSessionStartEvent(t *testing.T) {
	configDir := t.TempDir()
	t.Setenv("CCBOT_CONFIG_DIR", configDir)

	in := strings.NewReader(`{"session_id":"bad","cwd":"/tmp","hook_event_name":"SessionEnd"}`)
	r := NewRunner(in, &discardWriter{}, &discardWriter{})
	if code := r.runHook(context.Background(), nil); code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if _, err := os.Stat(filepath.Join(configDir, "session_map.json")); !os.IsNotExist(err) {
		t.Fatalf("expected no session_map.json to be written, stat err=%v", err)
	}
}

func TestRunHookRejectsNonUUIDSessionID(t *testing.T) {
	configDir := t.TempDir()
	t.Setenv("CCBOT_CONFIG_DIR", configDir)
	t.Setenv("TMUX_PANE", "%0")

	in := strings.NewReader(`{"session_id":"not-a-uuid","cwd":"/tmp","hook_event_name":"SessionStart"}`)
	r := NewRunner(in, &discardWriter{}, &discardWriter{})
	if code := r.runHook(context.Background(), nil); code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if _, err := os.Stat(filepath.Join(configDir, "session_map.json")); !os.IsNotExist(err) {
		t.Fatalf("expected no session_map.json to be written, stat err=%v", err)
	}
}
