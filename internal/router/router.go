// Package router dispatches inbound chat messages to the right topic
// handler (§4.7): bind the first message in an unbound topic, translate
// skill aliases, forward native and verbatim commands as keystrokes,
// capture "!shell" output, and clean up on topic close. The dispatch
// shape (parse command, switch on a small native set, forward everything
// else verbatim) is grounded on other_examples/wagok-ccc__main.go's
// message handler; the window-picker/directory-browser/resume-picker
// steps stay external UI black boxes behind the Presenter interface,
// resolved synchronously (no pending-bind-with-TTL machinery) since a
// single chat message already carries everything the bind needs.
package router

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/g960059/ccbot/internal/chatapi"
	"github.com/g960059/ccbot/internal/config"
	"github.com/g960059/ccbot/internal/delivery"
	"github.com/g960059/ccbot/internal/hub"
	"github.com/g960059/ccbot/internal/model"
	"github.com/g960059/ccbot/internal/security"
	"github.com/g960059/ccbot/internal/store"

	"github.com/dustin/go-humanize"
)

// MuxOps is the slice of internal/mux.Adapter the router drives directly.
type MuxOps interface {
	ListWindows(ctx context.Context) ([]model.WindowState, error)
	CreateWindow(ctx context.Context, cwd, desiredName, startCommand string) (windowID, finalName string, err error)
	KillWindow(ctx context.Context, windowID string) error
	SendKeys(ctx context.Context, windowID, keys string, appendEnter, literal bool) error
}

// Presenter renders the chat-platform UI surfaces spec.md lists as
// out-of-scope external collaborators (inline keyboards, the directory
// browser, the resume picker, screenshot rendering). The router calls
// these synchronously and acts on the result; it never builds the UI
// itself.
type Presenter interface {
	PickWindow(ctx context.Context, userID, topicID, chatID int64, candidates []model.WindowState) (windowID string, ok bool, err error)
	PickDirectory(ctx context.Context, userID, topicID, chatID int64) (cwd, displayName string, ok bool, err error)
	PickResumeSession(ctx context.Context, userID, topicID, chatID int64, windowID string) (sessionRef string, ok bool, err error)
	ShowHistory(ctx context.Context, userID, topicID, chatID int64, windowID string) error
	RenderScreenshot(ctx context.Context, userID, topicID, chatID int64, windowID string) error
}

// AuditLogger records every dispatched command for the audit trail
// (internal/audit). Declared here, not imported from internal/audit, so
// router depends on an interface it owns rather than reaching sideways
// into a sibling package.
type AuditLogger interface {
	RecordCommand(ctx context.Context, userID, topicID int64, windowID, kind, body string) error
}

// Router is the single entry point for inbound chat updates.
type Router struct {
	hub      *hub.Hub
	mux      MuxOps
	pipeline *delivery.Pipeline
	skills   *store.SkillStore
	presenter Presenter
	audit    AuditLogger
	cfg      config.Config
}

func New(h *hub.Hub, mux MuxOps, pipeline *delivery.Pipeline, skills *store.SkillStore, presenter Presenter, audit AuditLogger, cfg config.Config) *Router {
	return &Router{hub: h, mux: mux, pipeline: pipeline, skills: skills, presenter: presenter, audit: audit, cfg: cfg}
}

// HandleMessage routes one inbound chat message (§4.7). Topic roots
// (IsTopicRoot) are ignored; ccbot only acts on messages sent inside a
// forum topic thread.
func (r *Router) HandleMessage(ctx context.Context, upd chatapi.Update) error {
	if upd.IsTopicRoot || strings.TrimSpace(upd.Text) == "" {
		return nil
	}

	windowID, bound := r.hub.ResolveTopic(upd.UserID, upd.TopicID)
	if !bound {
		return r.handleUnboundFirstMessage(ctx, upd)
	}

	text := upd.Text
	switch {
	case strings.HasPrefix(text, "!"):
		return r.handleShell(ctx, upd, windowID, strings.TrimPrefix(text, "!"))
	case upd.IsCommand || strings.HasPrefix(text, "/"):
		return r.handleCommand(ctx, upd, windowID, text)
	default:
		return r.forwardKeystrokes(ctx, upd, windowID, text)
	}
}

// handleUnboundFirstMessage implements §4.7's first bullet: present a
// window picker if an unbound live window exists, else a directory
// browser, then bind and forward the triggering text as the agent's
// first input.
func (r *Router) handleUnboundFirstMessage(ctx context.Context, upd chatapi.Update) error {
	windows, err := r.mux.ListWindows(ctx)
	if err != nil {
		return fmt.Errorf("%s: listing windows: %w", model.ErrMuxUnreachable, err)
	}

	unbound := make([]model.WindowState, 0, len(windows))
	for _, w := range windows {
		if r.hub.IsBound(w.WindowID) {
			continue
		}
		unbound = append(unbound, w)
	}

	var windowID, displayName, cwd string
	if len(unbound) > 0 {
		picked, ok, err := r.presenter.PickWindow(ctx, upd.UserID, upd.TopicID, upd.ChatID, unbound)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		windowID = picked
		for _, w := range unbound {
			if w.WindowID == picked {
				displayName, cwd = w.WindowName, w.Cwd
				break
			}
		}
	} else {
		chosenCwd, chosenName, ok, err := r.presenter.PickDirectory(ctx, upd.UserID, upd.TopicID, upd.ChatID)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		newID, finalName, err := r.mux.CreateWindow(ctx, chosenCwd, chosenName, r.cfg.AgentCommand)
		if err != nil {
			return fmt.Errorf("%s: creating window: %w", model.ErrMuxUnreachable, err)
		}
		windowID, displayName, cwd = newID, finalName, chosenCwd
	}

	if err := r.hub.Bind(upd.UserID, upd.TopicID, windowID, displayName, upd.ChatID, cwd); err != nil {
		return err
	}
	if r.audit != nil {
		_ = r.audit.RecordCommand(ctx, upd.UserID, upd.TopicID, windowID, "bind", displayName)
	}
	return r.mux.SendKeys(ctx, windowID, upd.Text, true, true)
}

// handleCommand implements §4.7's second bullet.
func (r *Router) handleCommand(ctx context.Context, upd chatapi.Update, windowID, text string) error {
	name, args, _ := strings.Cut(strings.TrimPrefix(text, "/"), " ")
	name = strings.TrimSpace(name)

	if r.audit != nil {
		_ = r.audit.RecordCommand(ctx, upd.UserID, upd.TopicID, windowID, "command", text)
	}

	switch name {
	case "start":
		return r.mux.SendKeys(ctx, windowID, r.cfg.AgentCommand, true, false)
	case "esc":
		return r.mux.SendKeys(ctx, windowID, "Escape", false, false)
	case "history":
		return r.presenter.ShowHistory(ctx, upd.UserID, upd.TopicID, upd.ChatID, windowID)
	case "screenshot":
		return r.presenter.RenderScreenshot(ctx, upd.UserID, upd.TopicID, upd.ChatID, windowID)
	case "resume":
		ref, ok, err := r.presenter.PickResumeSession(ctx, upd.UserID, upd.TopicID, upd.ChatID, windowID)
		if err != nil || !ok {
			return err
		}
		return r.mux.SendKeys(ctx, windowID, fmt.Sprintf("/resume %s", ref), true, false)
	}

	skills, err := r.skills.Load()
	if err != nil {
		return fmt.Errorf("loading skills: %w", err)
	}
	if skill, ok := skills[name]; ok {
		forwarded := skill.Command
		if args != "" {
			forwarded = forwarded + " " + args
		}
		return r.mux.SendKeys(ctx, windowID, forwarded, true, false)
	}

	// Unrecognized command: forward verbatim, native slash syntax intact.
	return r.mux.SendKeys(ctx, windowID, text, true, false)
}

// handleShell implements §4.7's third bullet. Output is redacted before
// it ever reaches the delivery pipeline.
func (r *Router) handleShell(ctx context.Context, upd chatapi.Update, windowID, command string) error {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil
	}
	if r.audit != nil {
		_ = r.audit.RecordCommand(ctx, upd.UserID, upd.TopicID, windowID, "shell", command)
	}

	ws, _ := r.hub.WindowState(windowID)

	runCtx, cancel := context.WithTimeout(ctx, r.cfg.ShellTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Dir = ws.Cwd
	cmd.Env = []string{"PATH=" + restrictedPath()}

	out, runErr := cmd.CombinedOutput()
	truncated := false
	if int64(len(out)) > r.cfg.ShellMaxOutput {
		out = out[:r.cfg.ShellMaxOutput]
		truncated = true
	}

	text := security.RedactShellOutput(string(out))
	if runErr != nil {
		text = text + fmt.Sprintf("\n\n[exit error: %v]", runErr)
	}
	if truncated {
		text = text + fmt.Sprintf("\n\n…%s of output truncated…", humanize.Bytes(uint64(r.cfg.ShellMaxOutput)))
	}
	if text == "" {
		text = "(no output)"
	}

	r.pipeline.EnqueueContent(upd.UserID, model.MessageTask{
		WindowID:    windowID,
		TopicID:     upd.TopicID,
		ChatID:      upd.ChatID,
		ContentType: model.ContentLocalCommand,
		Parts:       []string{text},
		EnqueuedAt:  time.Now(),
	})
	return nil
}

// forwardKeystrokes implements §4.7's fourth bullet.
func (r *Router) forwardKeystrokes(ctx context.Context, upd chatapi.Update, windowID, text string) error {
	return r.mux.SendKeys(ctx, windowID, text, true, true)
}

// HandleTopicClosed implements §4.7's fifth bullet: kill the window,
// unbind, and flush anything still queued for it.
func (r *Router) HandleTopicClosed(ctx context.Context, userID, topicID int64) error {
	windowID, bound := r.hub.ResolveTopic(userID, topicID)
	if !bound {
		return nil
	}
	if err := r.mux.KillWindow(ctx, windowID); err != nil {
		return fmt.Errorf("%s: killing window %s: %w", model.ErrMuxUnreachable, windowID, err)
	}
	if err := r.hub.Unbind(userID, topicID); err != nil {
		return err
	}
	if err := r.hub.RemoveWindowState(windowID); err != nil {
		return err
	}
	r.pipeline.EnqueueStatusClear(userID, windowID, 0)
	return nil
}

// restrictedPath is the PATH a !shell invocation inherits: just enough
// to run common tools, nothing from the bridge process's own extended
// environment.
func restrictedPath() string {
	return "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"
}
