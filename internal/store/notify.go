package store

import (
	"path/filepath"

	"github.com/g960059/ccbot/internal/model"
)

// NotifyFilter is notify.json (§6): one on/off switch per content type.
// Interactive prompts and tool_use->tool_result edits always bypass this
// filter regardless of its contents.
type NotifyFilter struct {
	path string
}

func NewNotifyFilter(configDir string) *NotifyFilter {
	return &NotifyFilter{path: filepath.Join(configDir, "notify.json")}
}

func defaultNotifyMap() map[model.ContentType]bool {
	return map[model.ContentType]bool{
		model.ContentText:         true,
		model.ContentThinking:     true,
		model.ContentToolUse:      true,
		model.ContentToolResult:   true,
		model.ContentToolError:    true,
		model.ContentLocalCommand: true,
		model.ContentUser:         true,
	}
}

// Load reads notify.json, auto-creating it with all-on defaults the
// first time the bridge runs (§6).
func (n *NotifyFilter) Load() (map[model.ContentType]bool, error) {
	raw := map[string]bool{}
	if err := readJSON(n.path, &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		defaults := defaultNotifyMap()
		if err := n.save(defaults); err != nil {
			return nil, err
		}
		return defaults, nil
	}
	out := defaultNotifyMap()
	for k, v := range raw {
		out[model.ContentType(k)] = v
	}
	return out, nil
}

func (n *NotifyFilter) save(m map[model.ContentType]bool) error {
	raw := make(map[string]bool, len(m))
	for k, v := range m {
		raw[string(k)] = v
	}
	return writeJSONAtomic(n.path, raw)
}
