// Package bridge wires every other package into one running process:
// the multiplexer adapter, the four on-disk stores, the routing hub, the
// transcript monitor, the pane-status poller, the delivery pipeline, the
// command router, the audit trail, and the chat client, started and
// stopped together (§5): lockfile-guarded start, ordered goroutine
// cancellation on shutdown.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/g960059/ccbot/internal/audit"
	"github.com/g960059/ccbot/internal/chatapi"
	"github.com/g960059/ccbot/internal/config"
	"github.com/g960059/ccbot/internal/delivery"
	"github.com/g960059/ccbot/internal/hub"
	"github.com/g960059/ccbot/internal/model"
	"github.com/g960059/ccbot/internal/monitor"
	"github.com/g960059/ccbot/internal/mux"
	"github.com/g960059/ccbot/internal/paneview"
	"github.com/g960059/ccbot/internal/router"
	"github.com/g960059/ccbot/internal/store"
	"github.com/g960059/ccbot/internal/transcript"
)

// Bridge owns every long-lived dependency and the goroutines that drive
// them for one bridge session (one tmux session, one chat bot).
type Bridge struct {
	cfg    config.Config
	logger *slog.Logger

	mux      *mux.Adapter
	hub      *hub.Hub
	monitor  *monitor.Monitor
	poller   *paneview.Poller
	pipeline *delivery.Pipeline
	router   *router.Router
	audit    *audit.Store
	chat     *chatapi.Client
	notify   map[model.ContentType]bool

	lockFile *os.File

	wakeMonitor chan struct{}

	deliveredMu    sync.Mutex
	deliveredBytes map[string]int64 // "<user_id>:<window_id>" -> cumulative bytes delivered

	shutdown    sync.Once
	shutdownErr error
}

// New constructs every dependency but starts no goroutines.
func New(cfg config.Config, logger *slog.Logger) (*Bridge, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.ConfigDir, 0o700); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}

	chat, err := chatapi.New(cfg.BotToken)
	if err != nil {
		return nil, err
	}
	auditStore, err := audit.Open(context.Background(), cfg.ConfigDir)
	if err != nil {
		return nil, err
	}

	bindingsStore := store.NewBindingsStore(cfg.ConfigDir)
	sessionMap := store.NewSessionMapReader(cfg.ConfigDir)
	offsets := store.NewOffsetStore(cfg.ConfigDir)
	skills := store.NewSkillStore(cfg.ConfigDir)

	notifyMap, err := store.NewNotifyFilter(cfg.ConfigDir).Load()
	if err != nil {
		return nil, fmt.Errorf("load notify filter: %w", err)
	}

	h, err := hub.New(bindingsStore, sessionMap, cfg.MuxSessionName)
	if err != nil {
		return nil, fmt.Errorf("load routing hub: %w", err)
	}

	adapter := mux.New(cfg, nil)
	pending := transcript.NewPendingRegistry(cfg.PendingToolTTL)

	pipeline := delivery.New(delivery.Config{
		MaxQueueLen:     cfg.MaxQueueLen,
		CompactionKeepN: cfg.CompactionKeepN,
		MinSendGap:      cfg.MinSendGap,
		MergeCharBudget: cfg.MergeCharBudget,
	}, chat, pending)

	b := &Bridge{
		cfg:            cfg,
		logger:         logger,
		mux:            adapter,
		hub:            h,
		pipeline:       pipeline,
		audit:          auditStore,
		chat:           chat,
		notify:         notifyMap,
		wakeMonitor:    make(chan struct{}, 1),
		deliveredBytes: map[string]int64{},
	}

	m, err := monitor.New(sessionMap, offsets, h, pending, cfg.MuxSessionName, cfg.TranscriptsRoot, b.onTranscriptEntry, logger)
	if err != nil {
		return nil, fmt.Errorf("start transcript monitor: %w", err)
	}
	b.monitor = m
	b.poller = paneview.NewPoller(adapter, statusSink{b})
	b.router = router.New(h, adapter, pipeline, skills, newFallbackPresenter(cfg, chat, auditStore), auditStore, cfg)

	return b, nil
}

// Start acquires the bridge's lock, ensures the tmux session exists,
// re-resolves any bindings stale from a prior process (§4.4 property 7),
// then runs every driving goroutine until ctx is cancelled.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.acquireLock(); err != nil {
		return err
	}
	if err := b.mux.EnsureSession(ctx); err != nil {
		b.releaseLock() //nolint:errcheck
		return fmt.Errorf("%s: %w", model.ErrMuxUnreachable, err)
	}
	if err := b.hub.ResolveStaleIDs(ctx, b.mux); err != nil {
		b.releaseLock() //nolint:errcheck
		return fmt.Errorf("resolve stale window ids: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	for _, loop := range []func(context.Context){
		b.runMonitorLoop,
		b.runStatusPollLoop,
		b.runSessionMapWatch,
		b.runChatLoop,
	} {
		wg.Add(1)
		go func(run func(context.Context)) {
			defer wg.Done()
			run(runCtx)
		}(loop)
	}

	<-ctx.Done()
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		b.logger.Warn("shutdown timed out waiting for bridge goroutines")
	}

	return b.Shutdown()
}

// Shutdown drains the delivery pipeline's workers, closes the audit
// store, and releases the process lock. Safe to call more than once.
func (b *Bridge) Shutdown() error {
	b.shutdown.Do(func() {
		b.pipeline.Shutdown()
		var errs []error
		if err := b.audit.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := b.releaseLock(); err != nil {
			errs = append(errs, err)
		}
		if len(errs) > 0 {
			b.shutdownErr = fmt.Errorf("shutdown errors: %v", errs)
		}
	})
	return b.shutdownErr
}

func (b *Bridge) runMonitorLoop(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-b.wakeMonitor:
		}
		if err := b.monitor.Tick(ctx); err != nil {
			b.logger.Warn("monitor tick failed", "error", err)
		}
		b.monitor.EvictPending(time.Now())
	}
}

func (b *Bridge) runStatusPollLoop(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.StatusPollPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		b.poller.Tick(ctx, b.hub.BoundWindowIDs())
	}
}

// runSessionMapWatch wakes the monitor loop early whenever state.json's
// session_map.json changes, instead of waiting out the full poll
// interval — the regular ticker remains the source of truth and this is
// purely a latency optimization (§4.3 is specified as a tick loop; this
// just shortens the gap between ticks).
func (b *Bridge) runSessionMapWatch(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		b.logger.Warn("session map watcher unavailable, falling back to poll interval only", "error", err)
		return
	}
	defer watcher.Close() //nolint:errcheck

	if err := watcher.Add(b.cfg.ConfigDir); err != nil {
		b.logger.Warn("watching config dir failed, falling back to poll interval only", "error", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			b.logger.Debug("session map watcher error", "error", err)
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, "session_map.json") {
				continue
			}
			select {
			case b.wakeMonitor <- struct{}{}:
			default:
			}
		}
	}
}

func (b *Bridge) runChatLoop(ctx context.Context) {
	updates := b.chat.GetUpdatesChan(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case upd, ok := <-updates:
			if !ok {
				return
			}
			go b.handleUpdate(ctx, upd)
		}
	}
}

// handleUpdate runs off the receive loop per §5's suspension-point rule:
// a !shell invocation or a tmux round-trip can block well past one
// update's worth of time.
func (b *Bridge) handleUpdate(ctx context.Context, upd chatapi.Update) {
	if !b.cfg.AllowedUsers[upd.UserID] {
		return // §6: all other users are rejected silently
	}
	var err error
	if upd.IsTopicClosed {
		err = b.router.HandleTopicClosed(ctx, upd.UserID, upd.TopicID)
	} else {
		err = b.router.HandleMessage(ctx, upd)
	}
	if err != nil {
		b.logger.Warn("handling update failed", "update_id", upd.UpdateID, "error", err)
	}
}

// onTranscriptEntry is the transcript monitor's onEntry callback (§4.3
// step 3): fan one parsed entry out to every (user, topic) currently
// subscribed to its agent session, honoring the notification filter and
// advancing each subscriber's read cursor.
func (b *Bridge) onTranscriptEntry(msg model.NewMessage) {
	isInPlaceEdit := msg.ToolUseID != "" && (msg.ContentType == model.ContentToolResult || msg.ContentType == model.ContentToolError)
	if !isInPlaceEdit && !b.notify[msg.ContentType] {
		return
	}

	for _, sub := range b.hub.FindSubscribers(msg.AgentSessionID) {
		b.pipeline.EnqueueContent(sub.UserID, model.MessageTask{
			WindowID:    sub.WindowID,
			TopicID:     sub.TopicID,
			ChatID:      sub.ChatID,
			ContentType: msg.ContentType,
			Parts:       []string{msg.Text},
			ToolUseID:   msg.ToolUseID,
			EnqueuedAt:  time.Now(),
		})
		b.advanceCursor(sub.UserID, sub.WindowID, int64(len(msg.Text)+1))
	}
}

func (b *Bridge) advanceCursor(userID int64, windowID string, delta int64) {
	key := fmt.Sprintf("%d:%s", userID, windowID)
	b.deliveredMu.Lock()
	total := b.deliveredBytes[key] + delta
	b.deliveredBytes[key] = total
	b.deliveredMu.Unlock()
	if err := b.hub.AdvanceCursor(userID, windowID, total); err != nil {
		b.logger.Warn("advancing read cursor failed", "user_id", userID, "window_id", windowID, "error", err)
	}
}

// statusSink adapts the pane-status poller's callbacks (§4.6) onto the
// delivery pipeline, resolving a window_id to its current subscriber.
type statusSink struct{ b *Bridge }

func (s statusSink) OnStatusUpdate(windowID, text string) {
	sub, ok := s.b.hub.FindSubscriberByWindow(windowID)
	if !ok {
		return
	}
	s.b.pipeline.EnqueueStatusUpdate(sub.UserID, model.MessageTask{
		WindowID: windowID, TopicID: sub.TopicID, ChatID: sub.ChatID,
		ContentType: model.ContentText, Parts: []string{text}, EnqueuedAt: time.Now(),
	})
}

func (s statusSink) OnStatusClear(windowID string) {
	sub, ok := s.b.hub.FindSubscriberByWindow(windowID)
	if !ok {
		return
	}
	s.b.pipeline.EnqueueStatusClear(sub.UserID, windowID, sub.ChatID)
}

// OnInteractivePrompt forwards the prompt body as plain content instead
// of silently dropping it: the rich inline-keyboard rendering is the
// external subsystem spec.md names as out of scope, but notify.json
// still documents interactive prompts as bypassing the content filter
// (§6), which only makes sense if this core delivers them somehow.
func (s statusSink) OnInteractivePrompt(windowID, body string) {
	sub, ok := s.b.hub.FindSubscriberByWindow(windowID)
	if !ok {
		return
	}
	s.b.pipeline.EnqueueContent(sub.UserID, model.MessageTask{
		WindowID: windowID, TopicID: sub.TopicID, ChatID: sub.ChatID,
		ContentType: model.ContentInteractivePrompt, Parts: []string{body}, EnqueuedAt: time.Now(),
	})
}

func (b *Bridge) lockPath() string {
	return filepath.Join(b.cfg.ConfigDir, "ccbot.lock")
}

func (b *Bridge) acquireLock() error {
	f, err := os.OpenFile(b.lockPath(), os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close() //nolint:errcheck
		return fmt.Errorf("bridge already running against %s", b.cfg.ConfigDir)
	}
	b.lockFile = f
	return nil
}

func (b *Bridge) releaseLock() error {
	if b.lockFile == nil {
		return nil
	}
	f := b.lockFile
	b.lockFile = nil
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_UN); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Remove(b.lockPath())
}
