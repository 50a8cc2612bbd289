// Package tmuxfmt builds and parses the tmux list-windows/list-panes
// format strings the multiplexer adapter uses.
package tmuxfmt

import "strings"

// FieldSeparator is the canonical tmux list format delimiter. The ASCII
// Unit Separator avoids collision with window names, paths, or pane
// titles that a user or agent might type.
const FieldSeparator = "\x1f"

// Join builds a tmux format string with the canonical delimiter.
func Join(fields ...string) string {
	return strings.Join(fields, FieldSeparator)
}

// SplitLine splits one formatted output line into at most maxParts
// fields. Falls back to a literal tab only when the canonical separator
// is absent, which should not happen against a tmux ccbot itself invokes
// with Join-built format strings, but guards against a stray shell
// wrapping the command.
func SplitLine(line string, maxParts int) []string {
	if maxParts <= 0 {
		return nil
	}
	if strings.Contains(line, FieldSeparator) {
		return strings.SplitN(line, FieldSeparator, maxParts)
	}
	if strings.Contains(line, "\t") {
		return strings.SplitN(line, "\t", maxParts)
	}
	return []string{line}
}
