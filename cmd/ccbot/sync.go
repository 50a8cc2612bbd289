package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/g960059/ccbot/internal/config"
	"github.com/g960059/ccbot/internal/store"
)

// commandFrontmatter is the handful of fields ccbot's sync actually
// reads out of a command file's YAML frontmatter. The rest of the
// schema is the out-of-scope black box spec.md §1 names; ccbot never
// interprets anything beyond this.
type commandFrontmatter struct {
	Description string `yaml:"description"`
}

// runSync scans <project_dir>/.claude/commands/ for markdown files with
// YAML frontmatter and emits skills.json (§6). Frontmatter splitting
// follows quailyquaily-mistermorph/internal/markdown/frontmatter.go's
// leading/trailing "---" delimiter convention, parsed with
// gopkg.in/yaml.v3 instead of a hand-rolled key:value scanner.
func (r *Runner) runSync(ctx context.Context, args []string) int {
	if len(args) != 1 {
		_, _ = fmt.Fprintln(r.errOut, "usage: ccbot sync <project_dir>")
		return 2
	}
	projectDir := args[0]
	commandsDir := filepath.Join(projectDir, ".claude", "commands")

	skills := map[string]store.Skill{}
	var skipped []string

	walkErr := filepath.WalkDir(commandsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".md") {
			return nil
		}
		rel, err := filepath.Rel(commandsDir, path)
		if err != nil {
			return err
		}
		native := commandNameFromPath(rel)
		alias := telegramSafeName(native)
		if err := store.ValidateSkillName(alias); err != nil {
			skipped = append(skipped, fmt.Sprintf("%s: %v", rel, err))
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			skipped = append(skipped, fmt.Sprintf("%s: %v", rel, err))
			return nil
		}
		fm, ok := parseCommandFrontmatter(string(data))
		description := fm.Description
		if !ok || description == "" {
			description = native
		}

		skills[alias] = store.Skill{Command: "/" + native, Description: description}
		return nil
	})
	if walkErr != nil {
		_, _ = fmt.Fprintf(r.errOut, "ccbot sync: %v\n", walkErr)
		return 1
	}

	configDir := config.ConfigDirFromEnv(os.Getenv)
	if err := store.NewSkillStore(configDir).Save(skills); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "ccbot sync: %v\n", err)
		return 1
	}

	for _, s := range skipped {
		_, _ = fmt.Fprintf(r.errOut, "ccbot sync: skipping %s\n", s)
	}
	summary := fmt.Sprintf("synced %d skill(s) from %s", len(skills), commandsDir)
	if colorEnabled(r.out) {
		summary = "\033[36m" + summary + "\033[0m"
	}
	_, _ = fmt.Fprintln(r.out, summary)
	return 0
}

// commandNameFromPath turns a path relative to .claude/commands/ into the
// agent's native slash-command name, joining subdirectories with ":" the
// way Claude Code namespaces nested commands.
func commandNameFromPath(rel string) string {
	rel = strings.TrimSuffix(rel, ".md")
	parts := strings.Split(filepath.ToSlash(rel), "/")
	return strings.Join(parts, ":")
}

// telegramSafeName maps a native command name to the [a-z][a-z0-9_]{0,31}
// alphabet §6 requires, replacing every character outside that alphabet
// with an underscore.
func telegramSafeName(native string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(native) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	name := strings.Trim(b.String(), "_")
	if name == "" {
		name = "skill"
	}
	if name[0] >= '0' && name[0] <= '9' {
		name = "s_" + name
	}
	if len(name) > 32 {
		name = name[:32]
	}
	return name
}

// parseCommandFrontmatter splits a leading "---"-delimited YAML block
// off contents and decodes it; ok=false means no frontmatter was found
// or it failed to parse, in which case the caller falls back to the
// command's own name as its description.
func parseCommandFrontmatter(contents string) (commandFrontmatter, bool) {
	lines := strings.Split(strings.ReplaceAll(contents, "\r\n", "\n"), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return commandFrontmatter{}, false
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) != "---" {
			continue
		}
		var fm commandFrontmatter
		raw := strings.Join(lines[1:i], "\n")
		if err := yaml.Unmarshal([]byte(raw), &fm); err != nil {
			return commandFrontmatter{}, false
		}
		return fm, true
	}
	return commandFrontmatter{}, false
}
