package mux

import (
	"context"
	"strings"
	"testing"

	"github.com/g960059/ccbot/internal/config"
)

type fakeRunner struct {
	calls   [][]string
	outputs map[string]string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	key := strings.Join(args, " ")
	return []byte(f.outputs[key]), nil
}

func TestListWindowsExcludesHome(t *testing.T) {
	out := "@1\x1fhome\x1f/root\x1fbash\n@2\x1fproj\x1f/tmp/proj\x1fclaude\n"
	runner := &fakeRunner{outputs: map[string]string{
		"list-windows -t ccbot -F " + windowFormat: out,
	}}
	a := New(config.Default(), runner)
	windows, err := a.ListWindows(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(windows) != 1 {
		t.Fatalf("expected 1 window excluding home, got %d", len(windows))
	}
	if windows[0].WindowID != "@2" || windows[0].WindowName != "proj" {
		t.Fatalf("unexpected window: %+v", windows[0])
	}
}

func TestSendKeysAppendsEnterSeparately(t *testing.T) {
	runner := &fakeRunner{outputs: map[string]string{}}
	a := New(config.Default(), runner)
	if err := a.SendKeys(context.Background(), "@2", "hello", true, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(runner.calls) != 2 {
		t.Fatalf("expected 2 tmux calls (send-keys + Enter), got %d: %v", len(runner.calls), runner.calls)
	}
	if runner.calls[1][len(runner.calls[1])-1] != "Enter" {
		t.Fatalf("expected second call to send Enter, got %v", runner.calls[1])
	}
}
