package delivery

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/g960059/ccbot/internal/model"
	"github.com/g960059/ccbot/internal/transcript"
)

type fakeSender struct {
	mu    sync.Mutex
	nextID int64
	sent  []string
	sentTopics []int64
	edits []string
	deletes []int64
}

func (f *fakeSender) SendMessage(ctx context.Context, chatID, topicID int64, text string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.sent = append(f.sent, text)
	f.sentTopics = append(f.sentTopics, topicID)
	return f.nextID, nil
}

func (f *fakeSender) EditMessageText(ctx context.Context, chatID, messageID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, fmt.Sprintf("%d:%s", messageID, text))
	return nil
}

func (f *fakeSender) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, messageID)
	return nil
}

func testConfig() Config {
	return Config{MaxQueueLen: 5, CompactionKeepN: 3, MinSendGap: time.Millisecond, MergeCharBudget: 3800}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestPipelineMergesAdjacentContent(t *testing.T) {
	fs := &fakeSender{}
	p := New(testConfig(), fs, transcript.NewPendingRegistry(time.Hour))
	defer p.Shutdown()

	p.EnqueueContent(1, model.MessageTask{WindowID: "@1", TopicID: 10, ChatID: 100, ContentType: model.ContentText, Parts: []string{"hello"}})
	p.EnqueueContent(1, model.MessageTask{WindowID: "@1", TopicID: 10, ChatID: 100, ContentType: model.ContentText, Parts: []string{"world"}})

	waitFor(t, func() bool {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		return len(fs.sent) == 1
	})
	if fs.sent[0] != "hello\n\nworld" {
		t.Fatalf("expected merged send, got %q", fs.sent[0])
	}
	if fs.sentTopics[0] != 10 {
		t.Fatalf("expected send threaded into topic 10, got %d", fs.sentTopics[0])
	}
}

func TestPipelineToolUseThenResultEditsInPlace(t *testing.T) {
	fs := &fakeSender{}
	reg := transcript.NewPendingRegistry(time.Hour)
	p := New(testConfig(), fs, reg)
	defer p.Shutdown()

	p.EnqueueContent(1, model.MessageTask{WindowID: "@1", TopicID: 10, ChatID: 100, ContentType: model.ContentToolUse, ToolUseID: "T1", Parts: []string{"Read(file.go)"}})
	waitFor(t, func() bool {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		return len(fs.sent) == 1
	})

	p.EnqueueContent(1, model.MessageTask{WindowID: "@1", TopicID: 10, ChatID: 100, ContentType: model.ContentToolResult, ToolUseID: "T1", Parts: []string{"Read 50 lines"}})
	waitFor(t, func() bool {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		return len(fs.edits) == 1
	})
	if fs.edits[0] != "1:Read 50 lines" {
		t.Fatalf("expected edit of message 1, got %v", fs.edits)
	}
}

func TestPipelineStatusDedupKeepsOnlyLatest(t *testing.T) {
	fs := &fakeSender{}
	p := New(testConfig(), fs, transcript.NewPendingRegistry(time.Hour))
	defer p.Shutdown()

	q := p.queueFor(1)
	q.mu.Lock()
	q.tasks = append(q.tasks,
		model.MessageTask{Kind: model.TaskStatusUpdate, WindowID: "@1", ChatID: 100, Parts: []string{"first"}},
	)
	q.mu.Unlock()

	p.EnqueueStatusUpdate(1, model.MessageTask{WindowID: "@1", ChatID: 100, Parts: []string{"second"}})

	q.mu.Lock()
	defer q.mu.Unlock()
	count := 0
	var last string
	for _, task := range q.tasks {
		if task.Kind == model.TaskStatusUpdate {
			count++
			last = task.Parts[0]
		}
	}
	if count != 1 || last != "second" {
		t.Fatalf("expected exactly 1 deduped status update with latest text, got count=%d last=%q", count, last)
	}
}

func TestCompactionKeepsOldestAndNewestWithNotice(t *testing.T) {
	fs := &fakeSender{}
	p := New(testConfig(), fs, transcript.NewPendingRegistry(time.Hour))
	defer p.Shutdown()

	// Mutate the queue directly (bypassing Enqueue*) so the worker is
	// never woken and can't race the assertions below.
	q := p.queueFor(1)

	for i := 0; i < 7; i++ {
		q.mu.Lock()
		q.tasks = append(q.tasks, model.MessageTask{WindowID: "@1", TopicID: 10, ChatID: 100, ContentType: model.ContentToolUse, ToolUseID: fmt.Sprintf("T%d", i), Parts: []string{fmt.Sprintf("msg%d", i)}})
		p.compactLocked(q)
		q.mu.Unlock()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) != 5 {
		t.Fatalf("expected 5 tasks after compaction (oldest+notice+3 newest), got %d: %+v", len(q.tasks), q.tasks)
	}
	if q.tasks[0].Parts[0] != "msg0" {
		t.Fatalf("expected oldest task kept first, got %+v", q.tasks[0])
	}
	if len(q.tasks[1].Parts) == 0 {
		t.Fatal("expected synthetic drop notice")
	}
}
