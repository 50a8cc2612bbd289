// Package transcript decodes one JSONL transcript line into zero or more
// classified entries, and pairs tool_use blocks with their later
// tool_result across poll cycles (§4.2).
package transcript

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/g960059/ccbot/internal/model"
)

// ThinkingCharBudget truncates an assistant's reasoning block before it
// is wrapped downstream as an expandable quote (§4.2).
const ThinkingCharBudget = 500

// rawLine is the on-disk transcript shape: one JSON object per line, with
// a role-tagged message containing a content block array.
type rawLine struct {
	Type      string        `json:"type"`
	Timestamp string        `json:"timestamp"`
	IsCommand bool          `json:"isCommand"`
	Message   *rawMessage   `json:"message"`
}

type rawMessage struct {
	Role    string           `json:"role"`
	Content json.RawMessage  `json:"content"`
}

type rawBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	Thinking  string          `json:"thinking"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
	IsError   bool            `json:"is_error"`
}

// Entry is one classified piece of a transcript line, ready to become a
// model.NewMessage.
type Entry struct {
	Role        model.Role
	ContentType model.ContentType
	Text        string
	Timestamp   time.Time
	ToolUseID   string
	ToolName    string
}

// ParseLine decodes one complete JSONL line into zero or more entries. A
// malformed line returns an error; the caller (the monitor) logs and
// skips it without retrying, per §4.3's failure model.
func ParseLine(line []byte) ([]Entry, error) {
	line = []byte(strings.TrimSpace(string(line)))
	if len(line) == 0 {
		return nil, nil
	}
	var raw rawLine
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, fmt.Errorf("%s: %w", model.ErrParseFailure, err)
	}
	if raw.Message == nil {
		return nil, nil
	}
	ts, _ := time.Parse(time.RFC3339, raw.Timestamp)

	role := model.Role(raw.Message.Role)

	// A plain string content body is a simple user/assistant text turn,
	// not a structured content-block array.
	var asString string
	if err := json.Unmarshal(raw.Message.Content, &asString); err == nil {
		return []Entry{classifyPlainText(role, asString, raw.IsCommand, ts)}, nil
	}

	var blocks []rawBlock
	if err := json.Unmarshal(raw.Message.Content, &blocks); err != nil {
		return nil, fmt.Errorf("%s: unrecognized content shape: %w", model.ErrParseFailure, err)
	}

	entries := make([]Entry, 0, len(blocks))
	for _, b := range blocks {
		entry, ok := classifyBlock(role, b, ts)
		if ok {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func classifyPlainText(role model.Role, text string, isCommand bool, ts time.Time) Entry {
	if role == model.RoleUser {
		if isCommand || strings.HasPrefix(strings.TrimSpace(text), "<command-") {
			return Entry{Role: role, ContentType: model.ContentLocalCommand, Text: text, Timestamp: ts}
		}
		return Entry{Role: role, ContentType: model.ContentUser, Text: text, Timestamp: ts}
	}
	return Entry{Role: role, ContentType: model.ContentText, Text: text, Timestamp: ts}
}

func classifyBlock(role model.Role, b rawBlock, ts time.Time) (Entry, bool) {
	switch b.Type {
	case "thinking":
		return Entry{Role: role, ContentType: model.ContentThinking, Text: truncateThinking(b.Thinking), Timestamp: ts}, true
	case "text":
		if role == model.RoleUser {
			return classifyPlainText(role, b.Text, false, ts), true
		}
		return Entry{Role: role, ContentType: model.ContentText, Text: b.Text, Timestamp: ts}, true
	case "tool_use":
		return Entry{
			Role:        role,
			ContentType: model.ContentToolUse,
			Text:        formatToolUse(b.Name, b.Input),
			Timestamp:   ts,
			ToolUseID:   b.ID,
			ToolName:    b.Name,
		}, true
	case "tool_result":
		text := flattenToolResultContent(b.Content)
		contentType := model.ContentToolResult
		if b.IsError || looksLikeToolError(text) {
			contentType = model.ContentToolError
		}
		return Entry{
			Role:        role,
			ContentType: contentType,
			Text:        text,
			Timestamp:   ts,
			ToolUseID:   b.ToolUseID,
		}, true
	default:
		return Entry{}, false
	}
}

func truncateThinking(text string) string {
	runes := []rune(text)
	if len(runes) <= ThinkingCharBudget {
		return text
	}
	return string(runes[:ThinkingCharBudget]) + "…"
}

// formatToolUse renders the bold tool name followed by a compact one-line
// argument summary (§4.2). Markdown bolding is applied at the send layer,
// not here; this returns plain text with the name first.
func formatToolUse(name string, input json.RawMessage) string {
	summary := summarizeInput(input)
	if summary == "" {
		return name
	}
	return fmt.Sprintf("%s(%s)", name, summary)
}

func summarizeInput(input json.RawMessage) string {
	var asMap map[string]any
	if err := json.Unmarshal(input, &asMap); err != nil {
		return ""
	}
	keys := make([]string, 0, len(asMap))
	for k := range asMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		val := fmt.Sprintf("%v", asMap[k])
		if len(val) > 60 {
			val = val[:60] + "…"
		}
		parts = append(parts, fmt.Sprintf("%s=%s", k, val))
	}
	return strings.Join(parts, ", ")
}

// flattenToolResultContent handles the two shapes a tool_result's content
// takes in practice: a plain string, or a nested content-block array
// whose text blocks are concatenated.
func flattenToolResultContent(raw json.RawMessage) string {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString
	}
	var blocks []rawBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		texts := make([]string, 0, len(blocks))
		for _, b := range blocks {
			if b.Text != "" {
				texts = append(texts, b.Text)
			}
		}
		return strings.Join(texts, "\n")
	}
	return string(raw)
}

func looksLikeToolError(text string) bool {
	trimmed := strings.TrimSpace(text)
	return strings.HasPrefix(trimmed, "Error:") || strings.Contains(trimmed, "Interrupted")
}
