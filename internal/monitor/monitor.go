// Package monitor runs the single cooperative tick loop that tails every
// tracked agent transcript (§4.3): diff the tracked set against an
// external source of truth, poll what's left, emit synthetic work. The
// incremental-decode-with-persisted-cursor idiom for a single tracked
// item is adapted from a SQL event stream to line-oriented JSONL files.
package monitor

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/g960059/ccbot/internal/model"
	"github.com/g960059/ccbot/internal/store"
	"github.com/g960059/ccbot/internal/transcript"
)

// HubWriter is the slice of internal/hub.Hub the monitor needs to keep
// window state current as the session map changes.
type HubWriter interface {
	UpsertWindowState(ws model.WindowState) error
	RemoveWindowState(windowID string) error
}

type trackedSession struct {
	agentSessionID string
	windowID       string
	transcriptPath string
	lastByteOffset int64
	lastModTime    time.Time
}

// Monitor owns the tracked-session set and the offset file backing it.
type Monitor struct {
	sessionMap *store.SessionMapReader
	offsets    *store.OffsetStore
	hub        HubWriter
	pending    *transcript.PendingRegistry
	onEntry    func(model.NewMessage)
	muxSession string
	root       string
	logger     *slog.Logger

	mu        sync.Mutex
	tracked   map[string]*trackedSession // agent_session_id -> session
	byWindow  map[string]string          // window_id -> agent_session_id
	dirty     bool
	firstTick bool
}

func New(sessionMap *store.SessionMapReader, offsets *store.OffsetStore, h HubWriter, pending *transcript.PendingRegistry, muxSession, transcriptsRoot string, onEntry func(model.NewMessage), logger *slog.Logger) (*Monitor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Monitor{
		sessionMap: sessionMap,
		offsets:    offsets,
		hub:        h,
		pending:    pending,
		onEntry:    onEntry,
		muxSession: muxSession,
		root:       transcriptsRoot,
		logger:     logger,
		tracked:    map[string]*trackedSession{},
		byWindow:   map[string]string{},
		firstTick:  true,
	}
	f, err := offsets.Load()
	if err != nil {
		return nil, err
	}
	for id, row := range f.Sessions {
		m.tracked[id] = &trackedSession{agentSessionID: id, transcriptPath: row.FilePath, lastByteOffset: row.LastByteOffset}
	}
	return m, nil
}

// Tick executes one full cycle: §4.3 steps 1-4.
func (m *Monitor) Tick(ctx context.Context) error {
	if err := m.reconcileSessionMap(ctx); err != nil {
		return fmt.Errorf("reconcile session map: %w", err)
	}

	m.mu.Lock()
	sessions := make([]*trackedSession, 0, len(m.tracked))
	for _, s := range m.tracked {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		if err := m.pollSession(s); err != nil {
			m.logger.Warn("transcript poll failed, retrying next tick", "session_id", s.agentSessionID, "error", err)
		}
	}

	m.mu.Lock()
	dirty := m.dirty
	m.mu.Unlock()
	if dirty {
		return m.persist()
	}
	return nil
}

// reconcileSessionMap implements §4.3 step 1.
func (m *Monitor) reconcileSessionMap(ctx context.Context) error {
	entries, err := m.sessionMap.Read()
	if err != nil {
		return err
	}

	seen := map[string]bool{} // window_id -> still present this tick
	for key, entry := range entries {
		muxSession, windowID, ok := store.SplitKey(key)
		if !ok || muxSession != m.muxSession {
			continue
		}
		seen[windowID] = true

		if err := m.hub.UpsertWindowState(model.WindowState{
			WindowID:   windowID,
			SessionID:  entry.SessionID,
			Cwd:        entry.Cwd,
			WindowName: entry.WindowName,
		}); err != nil {
			return err
		}

		m.mu.Lock()
		prevSessionID, windowKnown := m.byWindow[windowID]
		m.mu.Unlock()

		if windowKnown && prevSessionID == entry.SessionID {
			continue // unchanged; already tracked
		}
		if windowKnown && prevSessionID != entry.SessionID {
			m.dropTracked(prevSessionID) // §8 property 6: drop before tracking the new one
		}

		path := resolveTranscriptPath(m.root, entry.Cwd, entry.SessionID)
		startOffset := int64(0)
		if m.firstTick {
			// Startup catch-up: on the bridge's very first reconcile,
			// every entry already existed before this process started,
			// so begin at EOF rather than retro-delivering old content.
			if info, statErr := os.Stat(path); statErr == nil {
				startOffset = info.Size()
			}
		}

		m.mu.Lock()
		if existing, ok := m.tracked[entry.SessionID]; ok {
			existing.windowID = windowID
			m.byWindow[windowID] = entry.SessionID
		} else {
			m.tracked[entry.SessionID] = &trackedSession{
				agentSessionID: entry.SessionID,
				windowID:       windowID,
				transcriptPath: path,
				lastByteOffset: startOffset,
			}
			m.byWindow[windowID] = entry.SessionID
			m.dirty = true
		}
		m.mu.Unlock()
	}

	// Entries that disappeared from the session map entirely.
	m.mu.Lock()
	var vanishedWindows []string
	for windowID := range m.byWindow {
		if !seen[windowID] {
			vanishedWindows = append(vanishedWindows, windowID)
		}
	}
	m.mu.Unlock()
	for _, windowID := range vanishedWindows {
		m.mu.Lock()
		sessionID := m.byWindow[windowID]
		m.mu.Unlock()
		m.dropTracked(sessionID)
		if err := m.hub.RemoveWindowState(windowID); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.firstTick = false
	m.mu.Unlock()

	return nil
}

func (m *Monitor) dropTracked(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.tracked[sessionID]; ok {
		delete(m.byWindow, s.windowID)
		delete(m.tracked, sessionID)
		m.dirty = true
	}
}

// pollSession implements §4.3 step 2-3 for one tracked session.
func (m *Monitor) pollSession(s *trackedSession) error {
	info, err := os.Stat(s.transcriptPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // transient: file not written yet, or vanished mid-poll
		}
		return err
	}
	if !info.ModTime().After(s.lastModTime) {
		return nil
	}

	f, err := os.Open(s.transcriptPath)
	if err != nil {
		return err
	}
	defer f.Close() //nolint:errcheck

	offset := s.lastByteOffset
	if offset > info.Size() {
		offset = 0 // truncation: §8 property 1
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return err
	}

	reader := bufio.NewReader(f)
	var consumed int64
	for {
		line, readErr := reader.ReadBytes('\n')
		if len(line) == 0 && readErr != nil {
			break
		}
		if readErr != nil && readErr != io.EOF {
			return readErr
		}
		if readErr == io.EOF && !bytes.HasSuffix(line, []byte("\n")) {
			break // partial trailing line, not consumed
		}

		entries, parseErr := transcript.ParseLine(bytes.TrimRight(line, "\n"))
		consumed += int64(len(line))
		if parseErr != nil {
			m.logger.Debug("skipping malformed transcript line", "session_id", s.agentSessionID, "error", parseErr)
			continue
		}
		for _, e := range entries {
			m.onEntry(model.NewMessage{
				AgentSessionID: s.agentSessionID,
				ContentType:    e.ContentType,
				Text:           e.Text,
				Role:           e.Role,
				IsComplete:     true,
				ToolUseID:      e.ToolUseID,
				ToolName:       e.ToolName,
			})
		}
		if readErr == io.EOF {
			break
		}
	}

	if consumed > 0 {
		m.mu.Lock()
		s.lastByteOffset = offset + consumed
		s.lastModTime = info.ModTime()
		m.dirty = true
		m.mu.Unlock()
	}
	return nil
}

func (m *Monitor) persist() error {
	m.mu.Lock()
	f := store.OffsetFile{Sessions: map[string]store.TrackedSessionRow{}}
	for id, s := range m.tracked {
		f.Sessions[id] = store.TrackedSessionRow{SessionID: id, FilePath: s.transcriptPath, LastByteOffset: s.lastByteOffset}
	}
	m.dirty = false
	m.mu.Unlock()
	return m.offsets.Save(f)
}

// EvictPending sweeps the tool_use/tool_result pending registry,
// resolving the §9 open question (24h default TTL).
func (m *Monitor) EvictPending(now time.Time) {
	if dropped := m.pending.Evict(now); dropped > 0 {
		m.logger.Debug("evicted stale pending tool_use entries", "count", dropped)
	}
}

// resolveTranscriptPath derives the on-disk transcript location from a
// working directory and session id, following the agent CLI's own
// project-directory convention: slashes in the absolute cwd become
// dashes, under root, one file per session.
func resolveTranscriptPath(root, cwd, sessionID string) string {
	return filepath.Join(root, encodeProjectDir(cwd), sessionID+".jsonl")
}

func encodeProjectDir(cwd string) string {
	cleaned := strings.TrimPrefix(cwd, "/")
	encoded := strings.Map(func(r rune) rune {
		if r == '/' || r == '.' {
			return '-'
		}
		return r
	}, cleaned)
	return "-" + encoded
}
