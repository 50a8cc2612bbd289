// Package hub owns every persistent routing mapping except TrackedSession
// (which lives in the offset store): bindings, window states, chat
// locations, and read cursors, plus their eager reverse index (§4.4).
package hub

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/g960059/ccbot/internal/model"
	"github.com/g960059/ccbot/internal/store"
)

type bindingKey struct {
	UserID  int64
	TopicID int64
}

type reverseKey struct {
	UserID   int64
	WindowID string
}

// muxAdapter is the slice of internal/mux.Adapter that resolve_stale_ids
// needs; declared locally so hub does not import mux. Routing state never
// reaches down into the control plane except through an interface it owns.
type muxAdapter interface {
	FindByID(ctx context.Context, windowID string) (model.WindowState, bool, error)
	FindByName(ctx context.Context, name string) (model.WindowState, bool, error)
}

// Hub is the single point of mutation for bindings (§4.4). Every public
// method that mutates state takes the internal lock, applies the change
// to the in-memory maps, persists the whole file, and only then releases
// the lock — so concurrent readers (FindSubscribers, ResolveTopic) always
// observe a consistent snapshot (§5).
type Hub struct {
	mu sync.Mutex

	bindingsStore *store.BindingsStore
	sessionMap    *store.SessionMapReader
	muxSession    string

	windowStates  map[string]model.WindowState
	forward       map[bindingKey]string
	reverse       map[reverseKey]int64
	chatLocations map[bindingKey]int64
	readCursors   map[reverseKey]int64
	displayNames  map[string]string
}

func New(bindingsStore *store.BindingsStore, sessionMap *store.SessionMapReader, muxSession string) (*Hub, error) {
	h := &Hub{
		bindingsStore: bindingsStore,
		sessionMap:    sessionMap,
		muxSession:    muxSession,
		windowStates:  map[string]model.WindowState{},
		forward:       map[bindingKey]string{},
		reverse:       map[reverseKey]int64{},
		chatLocations: map[bindingKey]int64{},
		readCursors:   map[reverseKey]int64{},
		displayNames:  map[string]string{},
	}
	if err := h.load(); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *Hub) load() error {
	f, err := h.bindingsStore.Load()
	if err != nil {
		return err
	}
	for id, row := range f.WindowStates {
		h.windowStates[id] = model.WindowState{WindowID: id, SessionID: row.SessionID, Cwd: row.Cwd, WindowName: row.WindowName}
	}
	for key, windowID := range f.ThreadBindings {
		user, topic, ok := splitPairKey(key)
		if !ok {
			continue
		}
		bk := bindingKey{UserID: user, TopicID: topic}
		h.forward[bk] = windowID
		h.reverse[reverseKey{UserID: user, WindowID: windowID}] = topic
	}
	for key, chatID := range f.GroupChatIDs {
		user, topic, ok := splitPairKey(key)
		if !ok {
			continue
		}
		h.chatLocations[bindingKey{UserID: user, TopicID: topic}] = chatID
	}
	for key, offset := range f.UserWindowOffsets {
		user, windowID, ok := splitUserWindowKey(key)
		if !ok {
			continue
		}
		h.readCursors[reverseKey{UserID: user, WindowID: windowID}] = offset
	}
	for id, name := range f.WindowDisplayNames {
		h.displayNames[id] = name
	}
	return nil
}

// Bind atomically inserts a forward-map entry, reverse-index entry,
// window state, display name, and chat location. Fails with
// model.ErrBindingConflict if windowID is already bound to a different
// (user, topic).
func (h *Hub) Bind(userID, topicID int64, windowID, displayName string, chatID int64, cwd string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	bk := bindingKey{UserID: userID, TopicID: topicID}
	if existing, ok := h.forward[bk]; ok && existing != windowID {
		return fmt.Errorf("%s: topic already bound to %s", model.ErrBindingConflict, existing)
	}
	for rk, topic := range h.reverse {
		if rk.WindowID == windowID && (rk.UserID != userID || topic != topicID) {
			return fmt.Errorf("%s: window %s already bound to user %d topic %d", model.ErrBindingConflict, windowID, rk.UserID, topic)
		}
	}

	h.forward[bk] = windowID
	h.reverse[reverseKey{UserID: userID, WindowID: windowID}] = topicID
	h.chatLocations[bk] = chatID
	h.displayNames[windowID] = displayName
	ws, known := h.windowStates[windowID]
	if !known {
		ws = model.WindowState{WindowID: windowID}
	}
	ws.Cwd = cwd
	ws.WindowName = displayName
	h.windowStates[windowID] = ws

	return h.persistLocked()
}

// Unbind removes the forward/reverse/chat-location/display-name entries
// for (userID, topicID). Does not kill the window; the caller decides
// (§4.4).
func (h *Hub) Unbind(userID, topicID int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	bk := bindingKey{UserID: userID, TopicID: topicID}
	windowID, ok := h.forward[bk]
	if !ok {
		return nil
	}
	delete(h.forward, bk)
	delete(h.reverse, reverseKey{UserID: userID, WindowID: windowID})
	delete(h.chatLocations, bk)
	delete(h.readCursors, reverseKey{UserID: userID, WindowID: windowID})
	return h.persistLocked()
}

// ResolveTopic returns the window bound to (userID, topicID), if any.
func (h *Hub) ResolveTopic(userID, topicID int64) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	windowID, ok := h.forward[bindingKey{UserID: userID, TopicID: topicID}]
	return windowID, ok
}

// Subscriber is one (user, topic) pair whose window currently maps to a
// given agent session.
type Subscriber struct {
	UserID   int64
	TopicID  int64
	ChatID   int64
	WindowID string
}

// FindSubscribers returns every (user, topic) whose bound window's
// WindowState currently carries agentSessionID.
func (h *Hub) FindSubscribers(agentSessionID string) []Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()

	var subs []Subscriber
	for bk, windowID := range h.forward {
		ws, ok := h.windowStates[windowID]
		if !ok || ws.SessionID != agentSessionID {
			continue
		}
		chatID := h.chatLocations[bk]
		subs = append(subs, Subscriber{UserID: bk.UserID, TopicID: bk.TopicID, ChatID: chatID, WindowID: windowID})
	}
	// Deterministic order for tests and for reproducible delivery order.
	sort.Slice(subs, func(i, j int) bool {
		if subs[i].UserID != subs[j].UserID {
			return subs[i].UserID < subs[j].UserID
		}
		return subs[i].TopicID < subs[j].TopicID
	})
	return subs
}

// UpsertWindowState records or updates the state the hook last wrote for
// a window, called by the transcript monitor during session-map
// reconciliation (§4.3 step 1).
func (h *Hub) UpsertWindowState(ws model.WindowState) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.windowStates[ws.WindowID] = ws
	return h.persistLocked()
}

// WindowState returns the current known state for windowID.
func (h *Hub) WindowState(windowID string) (model.WindowState, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ws, ok := h.windowStates[windowID]
	return ws, ok
}

// RemoveWindowState drops a window that no longer exists (killed
// externally or its hook entry disappeared).
func (h *Hub) RemoveWindowState(windowID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.windowStates, windowID)
	delete(h.displayNames, windowID)
	return h.persistLocked()
}

// AdvanceCursor moves (userID, windowID)'s read cursor forward. Attempts
// to move it backward are no-ops (monotonic, §4.4).
func (h *Hub) AdvanceCursor(userID int64, windowID string, newOffset int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	rk := reverseKey{UserID: userID, WindowID: windowID}
	if cur, ok := h.readCursors[rk]; ok && cur >= newOffset {
		return nil
	}
	h.readCursors[rk] = newOffset
	return h.persistLocked()
}

// IsBound reports whether windowID is currently the target of any
// (user, topic) binding, used by the command router to filter the
// window picker down to windows nobody has claimed yet (§4.7).
func (h *Hub) IsBound(windowID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for rk := range h.reverse {
		if rk.WindowID == windowID {
			return true
		}
	}
	return false
}

// BoundWindowIDs returns every window_id currently claimed by a (user,
// topic) binding, used by the status poller to scope its capture-pane
// loop to windows someone is actually watching (§4.6).
func (h *Hub) BoundWindowIDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.reverse))
	for rk := range h.reverse {
		ids = append(ids, rk.WindowID)
	}
	sort.Strings(ids)
	return ids
}

// FindSubscriberByWindow returns the (user, topic, chat) currently bound
// to windowID, if any — the inverse of FindSubscribers, keyed by window
// instead of agent session, used by the status poller and interactive
// prompt forwarding (§4.6) where only a window_id is known.
func (h *Hub) FindSubscriberByWindow(windowID string) (Subscriber, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for rk, topicID := range h.reverse {
		if rk.WindowID != windowID {
			continue
		}
		bk := bindingKey{UserID: rk.UserID, TopicID: topicID}
		return Subscriber{UserID: rk.UserID, TopicID: topicID, ChatID: h.chatLocations[bk], WindowID: windowID}, true
	}
	return Subscriber{}, false
}

// Cursor returns the current read cursor for (userID, windowID).
func (h *Hub) Cursor(userID int64, windowID string) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.readCursors[reverseKey{UserID: userID, WindowID: windowID}]
}

// ResolveStaleIDs is invoked once at startup after the multiplexer
// connection is established. Persisted bindings whose window_id no
// longer exists are re-resolved by display name; unmatched bindings are
// dropped. Idempotent: a second call is a no-op because every surviving
// binding's window_id already resolves live (§8 property 7).
func (h *Hub) ResolveStaleIDs(ctx context.Context, mux muxAdapter) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	rewrites := map[string]string{} // old window_id -> new window_id
	drops := map[string]bool{}      // old window_id with no match -> drop

	for windowID := range h.windowStates {
		if _, ok, err := mux.FindByID(ctx, windowID); err != nil {
			return err
		} else if ok {
			continue
		}
		name, hasName := h.displayNames[windowID]
		if !hasName {
			drops[windowID] = true
			continue
		}
		match, found, err := mux.FindByName(ctx, name)
		if err != nil {
			return err
		}
		if !found {
			drops[windowID] = true
			continue
		}
		rewrites[windowID] = match.WindowID
	}

	for oldID, newID := range rewrites {
		h.rewriteWindowIDLocked(oldID, newID)
	}
	for oldID := range drops {
		h.dropWindowLocked(oldID)
	}

	return h.persistLocked()
}

func (h *Hub) rewriteWindowIDLocked(oldID, newID string) {
	if ws, ok := h.windowStates[oldID]; ok {
		ws.WindowID = newID
		h.windowStates[newID] = ws
		delete(h.windowStates, oldID)
	}
	if name, ok := h.displayNames[oldID]; ok {
		h.displayNames[newID] = name
		delete(h.displayNames, oldID)
	}
	for bk, windowID := range h.forward {
		if windowID == oldID {
			h.forward[bk] = newID
		}
	}
	for rk, topic := range h.reverse {
		if rk.WindowID == oldID {
			delete(h.reverse, rk)
			h.reverse[reverseKey{UserID: rk.UserID, WindowID: newID}] = topic
		}
	}
	for rk, offset := range h.readCursors {
		if rk.WindowID == oldID {
			delete(h.readCursors, rk)
			h.readCursors[reverseKey{UserID: rk.UserID, WindowID: newID}] = offset
		}
	}
}

func (h *Hub) dropWindowLocked(windowID string) {
	delete(h.windowStates, windowID)
	delete(h.displayNames, windowID)
	for bk, wid := range h.forward {
		if wid == windowID {
			delete(h.forward, bk)
			delete(h.chatLocations, bk)
		}
	}
	for rk := range h.reverse {
		if rk.WindowID == windowID {
			delete(h.reverse, rk)
		}
	}
	for rk := range h.readCursors {
		if rk.WindowID == windowID {
			delete(h.readCursors, rk)
		}
	}
}

func (h *Hub) persistLocked() error {
	f := store.BindingsFile{
		WindowStates:       map[string]store.WindowStateRow{},
		UserWindowOffsets:  map[string]int64{},
		ThreadBindings:     map[string]string{},
		GroupChatIDs:       map[string]int64{},
		WindowDisplayNames: map[string]string{},
	}
	for id, ws := range h.windowStates {
		f.WindowStates[id] = store.WindowStateRow{SessionID: ws.SessionID, Cwd: ws.Cwd, WindowName: ws.WindowName}
	}
	for bk, windowID := range h.forward {
		f.ThreadBindings[pairKey(bk.UserID, bk.TopicID)] = windowID
	}
	for bk, chatID := range h.chatLocations {
		f.GroupChatIDs[pairKey(bk.UserID, bk.TopicID)] = chatID
	}
	for rk, offset := range h.readCursors {
		f.UserWindowOffsets[userWindowKey(rk.UserID, rk.WindowID)] = offset
	}
	for id, name := range h.displayNames {
		f.WindowDisplayNames[id] = name
	}
	return h.bindingsStore.Save(f)
}

func pairKey(userID, topicID int64) string {
	return fmt.Sprintf("%d:%d", userID, topicID)
}

func splitPairKey(key string) (userID, topicID int64, ok bool) {
	var u, t int64
	n, err := fmt.Sscanf(key, "%d:%d", &u, &t)
	if err != nil || n != 2 {
		return 0, 0, false
	}
	return u, t, true
}

func userWindowKey(userID int64, windowID string) string {
	return fmt.Sprintf("%d:%s", userID, windowID)
}

func splitUserWindowKey(key string) (userID int64, windowID string, ok bool) {
	var u int64
	var w string
	n, err := fmt.Sscanf(key, "%d:%s", &u, &w)
	if err != nil || n != 2 {
		return 0, "", false
	}
	return u, w, true
}
