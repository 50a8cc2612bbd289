package paneview

import (
	"context"
)

// PaneCapturer is the slice of internal/mux.Adapter the poller needs.
type PaneCapturer interface {
	CapturePane(ctx context.Context, windowID string, withANSI bool) (string, error)
}

// Sink receives classification results for one bound window. Status and
// clear events become model.TaskStatusUpdate / model.TaskStatusClear
// delivery tasks (§4.5); interactive prompts bypass the delivery queue's
// notification filter entirely and are left for the uncovered external
// subsystem mentioned in §4.6 — the poller only needs to know to
// suppress ordinary status updates while one is showing.
type Sink interface {
	OnStatusUpdate(windowID, text string)
	OnStatusClear(windowID string)
	OnInteractivePrompt(windowID, body string)
}

// Poller runs the fixed-period status-polling loop (§4.6) over a
// caller-supplied set of currently bound window IDs.
type Poller struct {
	mux  PaneCapturer
	sink Sink

	lastState map[string]State
}

func NewPoller(mux PaneCapturer, sink Sink) *Poller {
	return &Poller{mux: mux, sink: sink, lastState: map[string]State{}}
}

// Tick captures and classifies every window in windowIDs once.
func (p *Poller) Tick(ctx context.Context, windowIDs []string) {
	live := make(map[string]bool, len(windowIDs))
	for _, windowID := range windowIDs {
		live[windowID] = true
		p.tickOne(ctx, windowID)
	}
	for windowID := range p.lastState {
		if !live[windowID] {
			delete(p.lastState, windowID)
		}
	}
}

func (p *Poller) tickOne(ctx context.Context, windowID string) {
	raw, err := p.mux.CapturePane(ctx, windowID, false)
	if err != nil {
		return
	}
	c := Classify(raw)
	prev := p.lastState[windowID]
	p.lastState[windowID] = c.State

	switch c.State {
	case StateInteractivePrompt:
		p.sink.OnInteractivePrompt(windowID, c.PromptBody)
	case StateStatusLine:
		p.sink.OnStatusUpdate(windowID, c.StatusText)
	case StateIdle:
		if prev == StateStatusLine {
			p.sink.OnStatusClear(windowID)
		}
	}
}
