package store

import (
	"fmt"
	"path/filepath"
	"regexp"
)

// skillNamePattern is the telegram-safe identifier shape required by §6.
var skillNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,31}$`)

// nativeBridgeCommands are ccbot's own reserved command names (§4.7);
// a skill alias may never collide with one.
var nativeBridgeCommands = map[string]bool{
	"start": true, "history": true, "resume": true, "screenshot": true, "esc": true,
}

// Skill is one entry of skills.json: a telegram-safe alias mapped to the
// agent's native slash command.
type Skill struct {
	Command     string `json:"command"`
	Description string `json:"description"`
}

// SkillStore persists skills.json, produced by the `sync` CLI subcommand
// and consumed by the command router's alias rewrite (§4.7).
type SkillStore struct {
	path string
}

func NewSkillStore(configDir string) *SkillStore {
	return &SkillStore{path: filepath.Join(configDir, "skills.json")}
}

func (s *SkillStore) Load() (map[string]Skill, error) {
	out := map[string]Skill{}
	if err := readJSON(s.path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SkillStore) Save(skills map[string]Skill) error {
	for name := range skills {
		if err := ValidateSkillName(name); err != nil {
			return err
		}
	}
	return writeJSONAtomic(s.path, skills)
}

// ValidateSkillName enforces the §6 naming rule: matches the telegram-safe
// pattern and does not collide with a native bridge command.
func ValidateSkillName(name string) error {
	if !skillNamePattern.MatchString(name) {
		return fmt.Errorf("invalid skill name %q: must match [a-z][a-z0-9_]{0,31}", name)
	}
	if nativeBridgeCommands[name] {
		return fmt.Errorf("skill name %q collides with a native bridge command", name)
	}
	return nil
}
