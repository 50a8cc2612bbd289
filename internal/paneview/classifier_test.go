package paneview

import "testing"

func TestClassifyStatusLine(t *testing.T) {
	pane := "some earlier output\n⠋ Thinking… (esc to interrupt)"
	c := Classify(pane)
	if c.State != StateStatusLine {
		t.Fatalf("expected status_line, got %v", c)
	}
}

func TestClassifyIdleWhenNoMatch(t *testing.T) {
	pane := "$ ls\nfile1.go\nfile2.go\n$"
	c := Classify(pane)
	if c.State != StateIdle {
		t.Fatalf("expected idle, got %v", c)
	}
}

func TestClassifyMultiChoicePrompt(t *testing.T) {
	pane := "╭─ choose an option ─╮\n│ 1. yes            │\n│ 2. no             │\n╰────────────────────╯"
	c := Classify(pane)
	if c.State != StateInteractivePrompt {
		t.Fatalf("expected interactive_prompt, got %v", c)
	}
	if c.PromptBody == "" {
		t.Fatal("expected non-empty prompt body")
	}
}

func TestClassifyPlanApproval(t *testing.T) {
	pane := "Here is the plan for this change\nstep one\nstep two\nProceed? Yes, and auto-accept edits / No, keep planning"
	c := Classify(pane)
	if c.State != StateInteractivePrompt {
		t.Fatalf("expected interactive_prompt, got %v", c)
	}
}

func TestPollerEmitsStatusClearAfterStatusLine(t *testing.T) {
	fm := &fakeCapturer{outputs: map[string]string{
		"@1": "⠋ Thinking… (esc to interrupt)",
	}}
	sink := &recordingSink{}
	p := NewPoller(fm, sink)

	p.Tick(nilCtx(), []string{"@1"})
	if len(sink.updates) != 1 {
		t.Fatalf("expected 1 status update, got %d", len(sink.updates))
	}

	fm.outputs["@1"] = "$ done\n$"
	p.Tick(nilCtx(), []string{"@1"})
	if len(sink.clears) != 1 {
		t.Fatalf("expected 1 status clear, got %d", len(sink.clears))
	}
}
