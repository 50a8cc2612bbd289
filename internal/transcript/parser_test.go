package transcript

import (
	"strings"
	"testing"
	"time"

	"github.com/g960059/ccbot/internal/model"
)

func TestParseLineAssistantText(t *testing.T) {
	line := `{"type":"assistant","timestamp":"2024-01-02T15:04:05Z","message":{"role":"assistant","content":[{"type":"text","text":"hello there"}]}}`
	entries, err := ParseLine([]byte(line))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 || entries[0].ContentType != model.ContentText || entries[0].Text != "hello there" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestParseLineThinkingTruncates(t *testing.T) {
	long := strings.Repeat("a", 600)
	line := `{"type":"assistant","message":{"role":"assistant","content":[{"type":"thinking","thinking":"` + long + `"}]}}`
	entries, err := ParseLine([]byte(line))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 || entries[0].ContentType != model.ContentThinking {
		t.Fatalf("unexpected entries: %+v", entries)
	}
	if len([]rune(entries[0].Text)) != ThinkingCharBudget+1 {
		t.Fatalf("expected truncated thinking text with ellipsis, got %d runes", len([]rune(entries[0].Text)))
	}
}

func TestParseLineToolUseAndResultPairing(t *testing.T) {
	useLine := `{"type":"assistant","message":{"role":"assistant","content":[{"type":"tool_use","id":"T1","name":"Read","input":{"file":"x.go"}}]}}`
	entries, err := ParseLine([]byte(useLine))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 || entries[0].ContentType != model.ContentToolUse || entries[0].ToolUseID != "T1" {
		t.Fatalf("unexpected tool_use entry: %+v", entries)
	}

	resultLine := `{"type":"user","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"T1","content":"Read 50 lines"}]}}`
	entries, err = ParseLine([]byte(resultLine))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 || entries[0].ContentType != model.ContentToolResult || entries[0].Text != "Read 50 lines" {
		t.Fatalf("unexpected tool_result entry: %+v", entries)
	}
}

func TestParseLineToolResultReclassifiesError(t *testing.T) {
	line := `{"type":"user","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"T2","content":"Error: file not found"}]}}`
	entries, err := ParseLine([]byte(line))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 || entries[0].ContentType != model.ContentToolError {
		t.Fatalf("expected tool_error, got %+v", entries)
	}
}

func TestParseLineLocalCommand(t *testing.T) {
	line := `{"type":"user","isCommand":true,"message":{"role":"user","content":"/gsd:progress"}}`
	entries, err := ParseLine([]byte(line))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 || entries[0].ContentType != model.ContentLocalCommand {
		t.Fatalf("expected local_command, got %+v", entries)
	}
}

func TestParseLineMalformedReturnsError(t *testing.T) {
	if _, err := ParseLine([]byte("not json")); err == nil {
		t.Fatal("expected parse error for malformed line")
	}
}

func TestParseLineEmptyReturnsNothing(t *testing.T) {
	entries, err := ParseLine([]byte("   "))
	if err != nil || entries != nil {
		t.Fatalf("expected nil, nil for blank line, got %v, %v", entries, err)
	}
}

func TestPendingRegistryResolveAndEvict(t *testing.T) {
	r := NewPendingRegistry(time.Hour)
	now := time.Now()
	r.Register("T1", "@2", 99, now)
	if r.Len() != 1 {
		t.Fatalf("expected 1 pending entry, got %d", r.Len())
	}
	p, ok := r.Resolve("T1")
	if !ok || p.DeliveredMsgID != 99 {
		t.Fatalf("unexpected resolve result: %+v, ok=%v", p, ok)
	}
	if _, ok := r.Resolve("T1"); ok {
		t.Fatal("expected second resolve of same id to miss")
	}

	r.Register("T2", "@2", 100, now.Add(-2*time.Hour))
	if dropped := r.Evict(now); dropped != 1 {
		t.Fatalf("expected eviction to drop 1 stale entry, got %d", dropped)
	}
}
