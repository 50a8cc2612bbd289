package paneview

import "context"

type fakeCapturer struct {
	outputs map[string]string
}

func (f *fakeCapturer) CapturePane(ctx context.Context, windowID string, withANSI bool) (string, error) {
	return f.outputs[windowID], nil
}

type recordingSink struct {
	updates  []string
	clears   []string
	prompts  []string
}

func (r *recordingSink) OnStatusUpdate(windowID, text string) {
	r.updates = append(r.updates, windowID)
}

func (r *recordingSink) OnStatusClear(windowID string) {
	r.clears = append(r.clears, windowID)
}

func (r *recordingSink) OnInteractivePrompt(windowID, body string) {
	r.prompts = append(r.prompts, windowID)
}

func nilCtx() context.Context {
	return context.Background()
}
