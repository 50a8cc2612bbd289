package hub

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/g960059/ccbot/internal/model"
	"github.com/g960059/ccbot/internal/store"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	dir := t.TempDir()
	bs := store.NewBindingsStore(dir)
	sm := store.NewSessionMapReader(dir)
	h, err := New(bs, sm, "ccbot")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return h
}

func TestBindAndResolveTopic(t *testing.T) {
	h := newTestHub(t)
	if err := h.Bind(1, 100, "@1", "work", 555, "/home/user/work"); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	windowID, ok := h.ResolveTopic(1, 100)
	if !ok || windowID != "@1" {
		t.Fatalf("ResolveTopic = %q, %v", windowID, ok)
	}
}

func TestBindRejectsWindowReuseAcrossTopics(t *testing.T) {
	h := newTestHub(t)
	if err := h.Bind(1, 100, "@1", "work", 555, "/tmp"); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	err := h.Bind(1, 200, "@1", "work", 555, "/tmp")
	if err == nil {
		t.Fatal("expected binding conflict")
	}
}

func TestUnbindClearsForwardAndReverse(t *testing.T) {
	h := newTestHub(t)
	if err := h.Bind(1, 100, "@1", "work", 555, "/tmp"); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if err := h.Unbind(1, 100); err != nil {
		t.Fatalf("Unbind: %v", err)
	}
	if _, ok := h.ResolveTopic(1, 100); ok {
		t.Fatal("expected unbound topic to miss")
	}
	// Rebinding the same window to a different topic must now succeed.
	if err := h.Bind(1, 200, "@1", "work", 555, "/tmp"); err != nil {
		t.Fatalf("rebind after unbind: %v", err)
	}
}

func TestFindSubscribersMatchesBySessionID(t *testing.T) {
	h := newTestHub(t)
	if err := h.Bind(1, 100, "@1", "work", 555, "/tmp"); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if err := h.UpsertWindowState(model.WindowState{WindowID: "@1", SessionID: "sess-abc", Cwd: "/tmp", WindowName: "work"}); err != nil {
		t.Fatalf("UpsertWindowState: %v", err)
	}
	subs := h.FindSubscribers("sess-abc")
	if len(subs) != 1 || subs[0].WindowID != "@1" || subs[0].ChatID != 555 {
		t.Fatalf("unexpected subscribers: %+v", subs)
	}
	if subs := h.FindSubscribers("sess-other"); len(subs) != 0 {
		t.Fatalf("expected no subscribers for unrelated session, got %+v", subs)
	}
}

func TestAdvanceCursorIsMonotonic(t *testing.T) {
	h := newTestHub(t)
	if err := h.AdvanceCursor(1, "@1", 100); err != nil {
		t.Fatalf("AdvanceCursor: %v", err)
	}
	if err := h.AdvanceCursor(1, "@1", 50); err != nil {
		t.Fatalf("AdvanceCursor backward: %v", err)
	}
	if got := h.Cursor(1, "@1"); got != 100 {
		t.Fatalf("expected cursor to stay at 100, got %d", got)
	}
	if err := h.AdvanceCursor(1, "@1", 150); err != nil {
		t.Fatalf("AdvanceCursor forward: %v", err)
	}
	if got := h.Cursor(1, "@1"); got != 150 {
		t.Fatalf("expected cursor to advance to 150, got %d", got)
	}
}

type fakeMux struct {
	byID   map[string]model.WindowState
	byName map[string]model.WindowState
}

func (f *fakeMux) FindByID(ctx context.Context, windowID string) (model.WindowState, bool, error) {
	ws, ok := f.byID[windowID]
	return ws, ok, nil
}

func (f *fakeMux) FindByName(ctx context.Context, name string) (model.WindowState, bool, error) {
	ws, ok := f.byName[name]
	return ws, ok, nil
}

func TestResolveStaleIDsRewritesByDisplayName(t *testing.T) {
	h := newTestHub(t)
	if err := h.Bind(1, 100, "@1", "work", 555, "/tmp"); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	fm := &fakeMux{
		byID:   map[string]model.WindowState{},
		byName: map[string]model.WindowState{"work": {WindowID: "@7", WindowName: "work", Cwd: "/tmp"}},
	}
	if err := h.ResolveStaleIDs(context.Background(), fm); err != nil {
		t.Fatalf("ResolveStaleIDs: %v", err)
	}
	windowID, ok := h.ResolveTopic(1, 100)
	if !ok || windowID != "@7" {
		t.Fatalf("expected rewritten window @7, got %q, %v", windowID, ok)
	}

	// Idempotent: a second pass with @7 now live must be a no-op.
	fm.byID["@7"] = model.WindowState{WindowID: "@7", WindowName: "work", Cwd: "/tmp"}
	if err := h.ResolveStaleIDs(context.Background(), fm); err != nil {
		t.Fatalf("second ResolveStaleIDs: %v", err)
	}
	windowID, ok = h.ResolveTopic(1, 100)
	if !ok || windowID != "@7" {
		t.Fatalf("expected binding to remain @7 after idempotent pass, got %q, %v", windowID, ok)
	}
}

func TestResolveStaleIDsDropsUnmatchedBinding(t *testing.T) {
	h := newTestHub(t)
	if err := h.Bind(1, 100, "@1", "work", 555, "/tmp"); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	fm := &fakeMux{byID: map[string]model.WindowState{}, byName: map[string]model.WindowState{}}
	if err := h.ResolveStaleIDs(context.Background(), fm); err != nil {
		t.Fatalf("ResolveStaleIDs: %v", err)
	}
	if _, ok := h.ResolveTopic(1, 100); ok {
		t.Fatal("expected unmatched binding to be dropped")
	}
}

func TestHubPersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()
	bs := store.NewBindingsStore(dir)
	sm := store.NewSessionMapReader(dir)
	h1, err := New(bs, sm, "ccbot")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := h1.Bind(1, 100, "@1", "work", 555, "/tmp"); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "state.json")); err != nil {
		t.Fatalf("expected state.json to exist: %v", err)
	}

	h2, err := New(bs, sm, "ccbot")
	if err != nil {
		t.Fatalf("reload New: %v", err)
	}
	windowID, ok := h2.ResolveTopic(1, 100)
	if !ok || windowID != "@1" {
		t.Fatalf("expected reloaded hub to resolve binding, got %q, %v", windowID, ok)
	}
}
