package store

import "path/filepath"

// WindowStateRow is the on-disk shape of model.WindowState, omitting the
// window_id key since that lives in the map.
type WindowStateRow struct {
	SessionID  string `json:"session_id,omitempty"`
	Cwd        string `json:"cwd"`
	WindowName string `json:"window_name"`
}

// BindingsFile is the full on-disk shape of state.json (§6). Keys:
//   - WindowStates: window_id -> row
//   - UserWindowOffsets: "<user_id>:<window_id>" -> last_delivered_byte_offset
//   - ThreadBindings: "<user_id>:<topic_id>" -> window_id
//   - GroupChatIDs: "<user_id>:<topic_id>" -> chat_id
//   - WindowDisplayNames: window_id -> display name (the §9 secondary key
//     used by resolve_stale_ids after a bridge restart)
type BindingsFile struct {
	WindowStates       map[string]WindowStateRow `json:"window_states"`
	UserWindowOffsets  map[string]int64          `json:"user_window_offsets"`
	ThreadBindings     map[string]string         `json:"thread_bindings"`
	GroupChatIDs       map[string]int64          `json:"group_chat_ids"`
	WindowDisplayNames map[string]string         `json:"window_display_names"`
}

func emptyBindingsFile() BindingsFile {
	return BindingsFile{
		WindowStates:       map[string]WindowStateRow{},
		UserWindowOffsets:  map[string]int64{},
		ThreadBindings:     map[string]string{},
		GroupChatIDs:       map[string]int64{},
		WindowDisplayNames: map[string]string{},
	}
}

// BindingsStore persists state.json atomically. It holds no business
// logic of its own; internal/hub owns the in-memory invariants and calls
// Save after every mutation.
type BindingsStore struct {
	path string
}

func NewBindingsStore(configDir string) *BindingsStore {
	return &BindingsStore{path: filepath.Join(configDir, "state.json")}
}

func (s *BindingsStore) Load() (BindingsFile, error) {
	f := emptyBindingsFile()
	if err := readJSON(s.path, &f); err != nil {
		return BindingsFile{}, err
	}
	if f.WindowStates == nil {
		f.WindowStates = map[string]WindowStateRow{}
	}
	if f.UserWindowOffsets == nil {
		f.UserWindowOffsets = map[string]int64{}
	}
	if f.ThreadBindings == nil {
		f.ThreadBindings = map[string]string{}
	}
	if f.GroupChatIDs == nil {
		f.GroupChatIDs = map[string]int64{}
	}
	if f.WindowDisplayNames == nil {
		f.WindowDisplayNames = map[string]string{}
	}
	return f, nil
}

func (s *BindingsStore) Save(f BindingsFile) error {
	return writeJSONAtomic(s.path, f)
}
