package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/g960059/ccbot/internal/store"
)

func TestCommandNameFromPath(t *testing.T) {
	cases := map[string]string{
		"deploy.md":        "deploy",
		"gsd/progress.md":  "gsd:progress",
		"a/b/c.md":         "a:b:c",
	}
	for in, want := range cases {
		if got := commandNameFromPath(in); got != want {
			t.Errorf("commandNameFromPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTelegramSafeName(t *testing.T) {
	cases := map[string]string{
		"gsd:progress": "gsd_progress",
		"Deploy-Prod":  "deploy_prod",
		"123abc":       "s_123abc",
	}
	for in, want := range cases {
		got := telegramSafeName(in)
		if got != want {
			t.Errorf("telegramSafeName(%q) = %q, want %q", in, got, want)
		}
		if err := store.ValidateSkillName(got); err != nil {
			t.Errorf("telegramSafeName(%q) produced invalid name %q: %v", in, got, err)
		}
	}
}

func TestParseCommandFrontmatter(t *testing.T) {
	doc := "---\ndescription: restart the deploy\n---\n\nbody text\n"
	fm, ok := parseCommandFrontmatter(doc)
	if !ok {
		t.Fatal("expected frontmatter to parse")
	}
	if fm.Description != "restart the deploy" {
		t.Fatalf("unexpected description: %q", fm.Description)
	}

	if _, ok := parseCommandFrontmatter("no frontmatter here"); ok {
		t.Fatal("expected no frontmatter to be detected")
	}
}

func TestRunSyncWritesSkillsFile(t *testing.T) {
	projectDir := t.TempDir()
	commandsDir := filepath.Join(projectDir, ".claude", "commands")
	if err := os.MkdirAll(commandsDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(commandsDir, "deploy.md"), []byte("---\ndescription: ship it\n---\nbody\n"), 0o644); err != nil {
		t.Fatalf("write command: %v", err)
	}

	configDir := t.TempDir()
	t.Setenv("CCBOT_CONFIG_DIR", configDir)

	r := NewRunner(nil, &discardWriter{}, &discardWriter{})
	if code := r.runSync(nil, []string{projectDir}); code != 0 {
		t.Fatalf("runSync returned %d", code)
	}

	skills, err := store.NewSkillStore(configDir).Load()
	if err != nil {
		t.Fatalf("load skills: %v", err)
	}
	s, ok := skills["deploy"]
	if !ok {
		t.Fatalf("expected a 'deploy' skill, got %+v", skills)
	}
	if s.Command != "/deploy" || s.Description != "ship it" {
		t.Fatalf("unexpected skill row: %+v", s)
	}
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
