package bridge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/g960059/ccbot/internal/audit"
	"github.com/g960059/ccbot/internal/chatapi"
	"github.com/g960059/ccbot/internal/config"
	"github.com/g960059/ccbot/internal/model"
)

// fallbackPresenter is the minimal, chat-message-only stand-in for
// router.Presenter. The real inline-keyboard window picker, directory
// browser, resume picker, and screenshot renderer are all named in
// spec.md §1 as out-of-scope external collaborators; this implementation
// exists only so the bridge has something to wire the router to, and
// informs the user in plain text of the deterministic choice it made
// instead of prompting interactively.
type fallbackPresenter struct {
	cfg   config.Config
	chat  *chatapi.Client
	audit *audit.Store
}

func newFallbackPresenter(cfg config.Config, chat *chatapi.Client, auditStore *audit.Store) *fallbackPresenter {
	return &fallbackPresenter{cfg: cfg, chat: chat, audit: auditStore}
}

// historyLimit bounds how many command_events rows ShowHistory renders.
const historyLimit = 20

// PickWindow auto-selects the candidate with the lexicographically
// smallest window_id — the same deterministic tie-break ccbot already
// uses for display-name collisions (§9) — rather than rendering an
// inline keyboard.
func (p *fallbackPresenter) PickWindow(ctx context.Context, userID, topicID, chatID int64, candidates []model.WindowState) (string, bool, error) {
	if len(candidates) == 0 {
		return "", false, nil
	}
	sorted := append([]model.WindowState{}, candidates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].WindowID < sorted[j].WindowID })
	picked := sorted[0]
	p.notify(ctx, chatID, topicID, fmt.Sprintf("binding this topic to existing window %s (%s)", picked.WindowID, picked.WindowName))
	return picked.WindowID, true, nil
}

// PickDirectory has no directory browser to defer to, so it falls back
// to the bridge operator's home directory.
func (p *fallbackPresenter) PickDirectory(ctx context.Context, userID, topicID, chatID int64) (string, string, bool, error) {
	cwd, err := os.UserHomeDir()
	if err != nil {
		cwd = "."
	}
	name := filepath.Base(cwd)
	if name == "" || name == "." || name == "/" {
		name = "session"
	}
	p.notify(ctx, chatID, topicID, fmt.Sprintf("no directory browser wired up; opening a new window at %s", cwd))
	return cwd, name, true, nil
}

// PickResumeSession has no resume picker to defer to.
func (p *fallbackPresenter) PickResumeSession(ctx context.Context, userID, topicID, chatID int64, windowID string) (string, bool, error) {
	p.notify(ctx, chatID, topicID, "resume picker is not wired up in this bridge")
	return "", false, nil
}

// ShowHistory renders the most recent command_events rows for this
// topic as plain text. spec.md's Non-goals rule out replaying past an
// advanced offset, so this only lists what was dispatched, never
// re-sends agent output.
func (p *fallbackPresenter) ShowHistory(ctx context.Context, userID, topicID, chatID int64, windowID string) error {
	if p.audit == nil {
		p.notify(ctx, chatID, topicID, "history is not available in this bridge")
		return nil
	}
	events, err := p.audit.RecentByTopic(ctx, userID, topicID, historyLimit)
	if err != nil {
		return fmt.Errorf("loading history: %w", err)
	}
	if len(events) == 0 {
		p.notify(ctx, chatID, topicID, "no commands recorded for this topic yet")
		return nil
	}
	var b strings.Builder
	b.WriteString("recent commands:\n")
	for _, e := range events {
		fmt.Fprintf(&b, "%s  %s  %s\n", e.OccurredAt, e.Kind, e.Body)
	}
	p.notify(ctx, chatID, topicID, strings.TrimRight(b.String(), "\n"))
	return nil
}

// RenderScreenshot has no terminal-to-image renderer to defer to.
func (p *fallbackPresenter) RenderScreenshot(ctx context.Context, userID, topicID, chatID int64, windowID string) error {
	p.notify(ctx, chatID, topicID, "screenshot rendering is not wired up in this bridge")
	return nil
}

func (p *fallbackPresenter) notify(ctx context.Context, chatID, topicID int64, text string) {
	_, _ = p.chat.SendMessage(ctx, chatID, topicID, text)
}
