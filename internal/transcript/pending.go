package transcript

import (
	"sync"
	"time"
)

// PendingTool records where a delivered tool_use message went, so the
// matching tool_result can edit it in place instead of sending anew
// (§4.2, §8 property 3).
type PendingTool struct {
	WindowID       string
	DeliveredMsgID int64
	RegisteredAt   time.Time
}

// PendingRegistry is the parser's pending_tool_use_id -> message_id map.
// It survives across poll cycles for the lifetime of the monitor process
// (§9: unbounded in principle, so Evict must be called periodically).
type PendingRegistry struct {
	mu  sync.Mutex
	ttl time.Duration
	m   map[string]PendingTool
}

func NewPendingRegistry(ttl time.Duration) *PendingRegistry {
	return &PendingRegistry{ttl: ttl, m: map[string]PendingTool{}}
}

// Register records that toolUseID's tool_use block was delivered as
// deliveredMsgID in windowID.
func (r *PendingRegistry) Register(toolUseID, windowID string, deliveredMsgID int64, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[toolUseID] = PendingTool{WindowID: windowID, DeliveredMsgID: deliveredMsgID, RegisteredAt: now}
}

// Resolve looks up and removes toolUseID's pending entry, returning
// ok=false if no tool_use with that id was ever registered (or it has
// since been evicted).
func (r *PendingRegistry) Resolve(toolUseID string) (PendingTool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.m[toolUseID]
	if ok {
		delete(r.m, toolUseID)
	}
	return p, ok
}

// Evict drops entries older than the registry's TTL, returning the count
// dropped so the caller can log at debug level only when it matters
// (§9's open question on pending-tool map lifetime, resolved at 24h).
func (r *PendingRegistry) Evict(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	dropped := 0
	for id, p := range r.m {
		if now.Sub(p.RegisteredAt) > r.ttl {
			delete(r.m, id)
			dropped++
		}
	}
	return dropped
}

// Len reports the current pending count, mostly useful in tests.
func (r *PendingRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.m)
}
