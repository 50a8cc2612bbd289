// Package model defines the shared data shapes used across the bridge:
// window/session tracking, topic bindings, and the two event types that
// flow between the transcript monitor and the delivery pipeline.
package model

import "time"

// ContentType is the closed set of transcript entry classifications.
type ContentType string

const (
	ContentText              ContentType = "text"
	ContentThinking          ContentType = "thinking"
	ContentToolUse           ContentType = "tool_use"
	ContentToolResult        ContentType = "tool_result"
	ContentToolError         ContentType = "tool_error"
	ContentLocalCommand      ContentType = "local_command"
	ContentUser              ContentType = "user"
	ContentInteractivePrompt ContentType = "interactive_prompt"
)

// Mergeable reports whether two adjacent content tasks of this type may be
// concatenated by the delivery worker (§4.5 merge policy).
func (c ContentType) Mergeable() bool {
	switch c {
	case ContentText, ContentThinking, ContentUser, ContentLocalCommand:
		return true
	default:
		return false
	}
}

// Role identifies who produced a transcript entry.
type Role string

const (
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
	RoleSystem    Role = "system"
)

// WindowState is one live multiplexer window the bridge knows about,
// keyed by WindowID. SessionID is empty until the lifecycle hook writes it.
type WindowState struct {
	WindowID    string
	SessionID   string
	Cwd         string
	WindowName  string
}

// Bound reports whether the hook has attached an agent session to this window.
func (w WindowState) Bound() bool {
	return w.SessionID != ""
}

// Binding is a (user, topic) -> window triple. UserID and TopicID are
// platform-assigned positive integers; WindowID matches "@[0-9]+".
type Binding struct {
	UserID    int64
	TopicID   int64
	WindowID  string
}

// ChatLocation resolves a (user, topic) pair to the chat it lives in, so
// the bridge can push content even when the user isn't actively typing.
type ChatLocation struct {
	UserID  int64
	TopicID int64
	ChatID  int64
}

// ReadCursor tracks how far, in the transcript, content has been
// delivered to a specific user. Distinct from the monitor's own offset:
// a user may subscribe to a window after the monitor has already tailed
// past some of its content.
type ReadCursor struct {
	UserID           int64
	WindowID         string
	LastDeliveredOff int64
}

// TrackedSession is one agent session the transcript monitor is currently
// tailing.
type TrackedSession struct {
	AgentSessionID string
	TranscriptPath string
	LastByteOffset int64
}

// NewMessage is a classified transcript event ready for routing.
type NewMessage struct {
	AgentSessionID string
	ContentType    ContentType
	Text           string
	Role           Role
	IsComplete     bool
	ToolUseID      string
	ToolName       string
}

// TaskKind distinguishes the three delivery work item shapes (§3, §4.5).
type TaskKind string

const (
	TaskContent      TaskKind = "content"
	TaskStatusUpdate TaskKind = "status_update"
	TaskStatusClear  TaskKind = "status_clear"
)

// MessageTask is one item in a user's delivery queue.
type MessageTask struct {
	Kind            TaskKind
	WindowID        string
	TopicID         int64
	ChatID          int64
	Parts           []string
	ToolUseID       string
	ContentType     ContentType
	TargetMessageID int64 // 0 means "no prior message to edit"
	EnqueuedAt      time.Time
}

// TargetMessage returns whether this task already has a message to edit
// rather than needing a fresh send.
func (t MessageTask) HasTarget() bool {
	return t.TargetMessageID != 0
}

// Error codes surfaced to callers, matching the taxonomy in spec §7.
const (
	ErrWindowNotFound     = "E_WINDOW_NOT_FOUND"
	ErrWindowBusy         = "E_WINDOW_BUSY"
	ErrBindingConflict    = "E_BINDING_CONFLICT"
	ErrTopicUnbound       = "E_TOPIC_UNBOUND"
	ErrSessionStale       = "E_SESSION_STALE"
	ErrTranscriptVanished = "E_TRANSCRIPT_VANISHED"
	ErrParseFailure       = "E_PARSE_FAILURE"
	ErrConfigInvalid      = "E_CONFIG_INVALID"
	ErrMuxUnreachable     = "E_MUX_UNREACHABLE"
)
