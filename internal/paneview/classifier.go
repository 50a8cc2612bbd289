// Package paneview classifies a captured tmux pane as an interactive
// prompt, a status line, or idle, the way cmd/agtmuxd's pane classifier
// bottom-up line-scans for agent state, narrowed to the three states the
// status-polling loop needs (§4.6).
package paneview

import "strings"

// State is the three-way classification of a captured pane.
type State string

const (
	StateInteractivePrompt State = "interactive_prompt"
	StateStatusLine        State = "status_line"
	StateIdle              State = "idle"
)

// promptTemplate is a (top delimiter, bottom delimiter, minimum enclosed
// line count) triple. A pane matches a template when a top-delimiter line
// appears, a bottom-delimiter line appears at or after it, and at least
// minGapLines of content sit between them (§4.6).
type promptTemplate struct {
	name        string
	top         func(line string) bool
	bottom      func(line string) bool
	minGapLines int
}

var promptTemplates = []promptTemplate{
	{
		name:        "multi_choice",
		top:         boxTopLine,
		bottom:      boxBottomLine,
		minGapLines: 1,
	},
	{
		name:        "plan_approval",
		top:         containsFold("plan"),
		bottom:      containsAnyFold("proceed?", "yes, and", "no, keep"),
		minGapLines: 1,
	},
	{
		name:        "permission_request",
		top:         containsAnyFold("do you want to", "allow this"),
		bottom:      containsAnyFold("yes", "no"),
		minGapLines: 0,
	},
	{
		name:        "checkpoint_restore",
		top:         containsFold("restore checkpoint"),
		bottom:      containsAnyFold("continue", "cancel"),
		minGapLines: 0,
	},
	{
		name:        "settings",
		top:         containsFold("settings"),
		bottom:      containsAnyFold("save", "back"),
		minGapLines: 0,
	},
}

// statusLinePattern recognizes a spinner glyph followed by a running
// phrase near the footer of a pane, restricted to phrases that are
// spinner-adjacent rather than log-line noise.
var spinnerGlyphs = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏", "*", "·"}

var statusPhrases = []string{
	"esc to interrupt", "ctrl+c to interrupt", "processing", "thinking",
	"generating", "crunching", "working",
}

// Classification is the result of interpreting one captured pane.
type Classification struct {
	State      State
	PromptBody string // populated only when State == StateInteractivePrompt
	StatusText string // populated only when State == StateStatusLine
}

// Classify interprets rawPane (the plain-text capture_pane output, no
// ANSI) and returns its current state (§4.6).
func Classify(rawPane string) Classification {
	lines := strings.Split(strings.TrimRight(rawPane, "\n"), "\n")

	if body, ok := matchPromptTemplates(lines); ok {
		return Classification{State: StateInteractivePrompt, PromptBody: body}
	}
	if text, ok := matchStatusLine(lines); ok {
		return Classification{State: StateStatusLine, StatusText: text}
	}
	return Classification{State: StateIdle}
}

func matchPromptTemplates(lines []string) (string, bool) {
	for _, tmpl := range promptTemplates {
		topIdx := -1
		for i, line := range lines {
			if tmpl.top(line) {
				topIdx = i
				break
			}
		}
		if topIdx < 0 {
			continue
		}
		bottomIdx := -1
		for i := len(lines) - 1; i > topIdx; i-- {
			if tmpl.bottom(lines[i]) {
				bottomIdx = i
				break
			}
		}
		if bottomIdx < 0 {
			continue
		}
		if bottomIdx-topIdx-1 < tmpl.minGapLines {
			continue
		}
		return strings.TrimSpace(strings.Join(lines[topIdx:bottomIdx+1], "\n")), true
	}
	return "", false
}

func matchStatusLine(lines []string) (string, bool) {
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)
		hasGlyph := false
		for _, g := range spinnerGlyphs {
			if strings.HasPrefix(line, g) {
				hasGlyph = true
				break
			}
		}
		hasPhrase := false
		for _, p := range statusPhrases {
			if strings.Contains(lower, p) {
				hasPhrase = true
				break
			}
		}
		if hasGlyph || hasPhrase {
			return line, true
		}
		// Only the last non-blank line is eligible; stop at the first
		// one that fails so "working" chatter higher in scrollback
		// doesn't get misread as a live status.
		return "", false
	}
	return "", false
}

func boxTopLine(line string) bool {
	t := strings.TrimSpace(line)
	return strings.HasPrefix(t, "╭") || strings.HasPrefix(t, "┌")
}

func boxBottomLine(line string) bool {
	t := strings.TrimSpace(line)
	return strings.HasPrefix(t, "╰") || strings.HasPrefix(t, "└")
}

func containsFold(needle string) func(string) bool {
	return func(line string) bool {
		return strings.Contains(strings.ToLower(line), needle)
	}
}

func containsAnyFold(needles ...string) func(string) bool {
	return func(line string) bool {
		lower := strings.ToLower(line)
		for _, n := range needles {
			if strings.Contains(lower, n) {
				return true
			}
		}
		return false
	}
}
