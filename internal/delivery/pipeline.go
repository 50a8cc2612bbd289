// Package delivery runs one bounded FIFO queue and one worker per user,
// merging, rate-limiting, and dispatching content to the chat platform
// (§4.5). The worker shape (goroutine-per-user, mutex-guarded queue,
// signal channel) is a small hand-rolled worker loop; the
// merge/compaction/status-collapse policy and the per-user
// rate.Limiter are grounded on other_examples/batalabs-muxd__adapter.go's
// Telegram adapter (EditInterval-style pacing, per-chat rate limiters).
package delivery

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/g960059/ccbot/internal/model"
	"github.com/g960059/ccbot/internal/transcript"
)

// Sender is the slice of internal/chatapi.Client the pipeline needs.
// SendMessage takes a topicID so every dispatch lands in the user's
// bound forum topic rather than the chat's General thread (§3
// ChatLocation exists precisely so sends can be threaded).
type Sender interface {
	SendMessage(ctx context.Context, chatID, topicID int64, text string) (int64, error)
	EditMessageText(ctx context.Context, chatID, messageID int64, text string) error
	DeleteMessage(ctx context.Context, chatID, messageID int64) error
}

// Config holds the tunables §4.5 and §9 name.
type Config struct {
	MaxQueueLen     int
	CompactionKeepN int
	MinSendGap      time.Duration
	MergeCharBudget int
}

type userQueue struct {
	mu         sync.Mutex
	tasks      []model.MessageTask
	statusMsgs map[string]int64 // window_id -> currently displayed status message id
	limiter    *rate.Limiter
	signal     chan struct{}
	started    bool
}

// Pipeline owns every user's queue and worker goroutine.
type Pipeline struct {
	cfg    Config
	sender Sender
	pending *transcript.PendingRegistry

	mu      sync.Mutex
	queues  map[int64]*userQueue
	cancel  context.Context
	stopAll context.CancelFunc
}

func New(cfg Config, sender Sender, pending *transcript.PendingRegistry) *Pipeline {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		cfg:     cfg,
		sender:  sender,
		pending: pending,
		queues:  map[int64]*userQueue{},
		cancel:  ctx,
		stopAll: cancel,
	}
}

// Shutdown cancels every worker. Workers drain in-flight sends with a
// bounded deadline enforced by the caller wrapping ctx (§5).
func (p *Pipeline) Shutdown() {
	p.stopAll()
}

func (p *Pipeline) queueFor(userID int64) *userQueue {
	p.mu.Lock()
	defer p.mu.Unlock()
	q, ok := p.queues[userID]
	if !ok {
		q = &userQueue{
			statusMsgs: map[string]int64{},
			limiter:    rate.NewLimiter(rate.Every(p.cfg.MinSendGap), 1),
			signal:     make(chan struct{}, 1),
		}
		p.queues[userID] = q
	}
	if !q.started {
		q.started = true
		go p.runWorker(userID, q)
	}
	return q
}

func (q *userQueue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// EnqueueContent appends a content task to the tail, compacting if the
// queue has grown past MaxQueueLen.
func (p *Pipeline) EnqueueContent(userID int64, task model.MessageTask) {
	task.Kind = model.TaskContent
	q := p.queueFor(userID)
	q.mu.Lock()
	q.tasks = append(q.tasks, task)
	p.compactLocked(q)
	q.mu.Unlock()
	q.wake()
}

// EnqueueStatusUpdate removes any prior status_update for the same
// window before appending the new one (status dedup, §4.5).
func (p *Pipeline) EnqueueStatusUpdate(userID int64, task model.MessageTask) {
	task.Kind = model.TaskStatusUpdate
	q := p.queueFor(userID)
	q.mu.Lock()
	filtered := q.tasks[:0]
	for _, t := range q.tasks {
		if t.Kind == model.TaskStatusUpdate && t.WindowID == task.WindowID {
			continue
		}
		filtered = append(filtered, t)
	}
	q.tasks = append(filtered, task)
	q.mu.Unlock()
	q.wake()
}

// EnqueueStatusClear appends a status_clear task for windowID.
func (p *Pipeline) EnqueueStatusClear(userID int64, windowID string, chatID int64) {
	q := p.queueFor(userID)
	q.mu.Lock()
	q.tasks = append(q.tasks, model.MessageTask{Kind: model.TaskStatusClear, WindowID: windowID, ChatID: chatID, EnqueuedAt: time.Now()})
	q.mu.Unlock()
	q.wake()
}

// compactLocked keeps the oldest task plus the newest CompactionKeepN
// when the queue exceeds MaxQueueLen, inserting a synthetic drop notice
// between them (§4.5, §9). Caller must hold q.mu.
func (p *Pipeline) compactLocked(q *userQueue) {
	if len(q.tasks) <= p.cfg.MaxQueueLen {
		return
	}
	keepN := p.cfg.CompactionKeepN
	if keepN < 1 {
		keepN = 1
	}
	if len(q.tasks) <= keepN+1 {
		return
	}
	oldest := q.tasks[0]
	newest := append([]model.MessageTask{}, q.tasks[len(q.tasks)-keepN:]...)
	dropped := len(q.tasks) - 1 - keepN
	notice := model.MessageTask{
		Kind:        model.TaskContent,
		WindowID:    oldest.WindowID,
		TopicID:     oldest.TopicID,
		ChatID:      oldest.ChatID,
		ContentType: model.ContentText,
		Parts:       []string{fmt.Sprintf("…%d messages dropped…", dropped)},
		EnqueuedAt:  time.Now(),
	}
	rebuilt := make([]model.MessageTask, 0, keepN+2)
	rebuilt = append(rebuilt, oldest, notice)
	rebuilt = append(rebuilt, newest...)
	q.tasks = rebuilt
}

func (p *Pipeline) runWorker(userID int64, q *userQueue) {
	for {
		select {
		case <-p.cancel.Done():
			return
		case <-q.signal:
		}
		for {
			task, ok := p.dequeueBatch(q)
			if !ok {
				break
			}
			if err := q.limiter.Wait(p.cancel); err != nil {
				return
			}
			p.dispatch(userID, q, task)
		}
	}
}

// dequeueBatch pops the head task and merges as many mergeable
// successors as fit within MergeCharBudget (§4.5).
func (p *Pipeline) dequeueBatch(q *userQueue) (model.MessageTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return model.MessageTask{}, false
	}
	head := q.tasks[0]
	consumed := 1

	if head.Kind == model.TaskContent && head.ContentType.Mergeable() {
		combined := strings.Join(head.Parts, "\n")
		for consumed < len(q.tasks) {
			next := q.tasks[consumed]
			if next.Kind != model.TaskContent || !next.ContentType.Mergeable() {
				break
			}
			if next.WindowID != head.WindowID || next.TopicID != head.TopicID {
				break
			}
			candidate := strings.Join(next.Parts, "\n")
			if len(combined)+2+len(candidate) > p.cfg.MergeCharBudget {
				break
			}
			combined = combined + "\n\n" + candidate
			consumed++
		}
		head.Parts = []string{combined}
	}

	q.tasks = q.tasks[consumed:]
	return head, true
}

func (p *Pipeline) dispatch(userID int64, q *userQueue, task model.MessageTask) {
	ctx := p.cancel
	text := strings.Join(task.Parts, "\n")

	switch task.Kind {
	case model.TaskStatusClear:
		q.mu.Lock()
		msgID, had := q.statusMsgs[task.WindowID]
		delete(q.statusMsgs, task.WindowID)
		q.mu.Unlock()
		if had {
			_ = p.sender.DeleteMessage(ctx, task.ChatID, msgID)
		}
		return

	case model.TaskStatusUpdate:
		q.mu.Lock()
		msgID, had := q.statusMsgs[task.WindowID]
		q.mu.Unlock()
		if had {
			if err := p.sender.EditMessageText(ctx, task.ChatID, msgID, text); err == nil {
				return
			}
		}
		newID, err := p.sender.SendMessage(ctx, task.ChatID, task.TopicID, text)
		if err != nil {
			return
		}
		q.mu.Lock()
		q.statusMsgs[task.WindowID] = newID
		q.mu.Unlock()
		return
	}

	// task.Kind == TaskContent.
	isResultLike := task.ContentType == model.ContentToolResult || task.ContentType == model.ContentToolError
	if task.ToolUseID != "" && isResultLike {
		if pt, ok := p.pending.Resolve(task.ToolUseID); ok {
			_ = p.sender.EditMessageText(ctx, task.ChatID, pt.DeliveredMsgID, text)
			return
		}
	}

	// Status-into-content collapse: an active status message for this
	// window absorbs the first content dispatch instead of a fresh send.
	q.mu.Lock()
	statusID, hadStatus := q.statusMsgs[task.WindowID]
	if hadStatus {
		delete(q.statusMsgs, task.WindowID)
	}
	q.mu.Unlock()

	var msgID int64
	var err error
	if hadStatus {
		err = p.sender.EditMessageText(ctx, task.ChatID, statusID, text)
		msgID = statusID
	} else {
		msgID, err = p.sender.SendMessage(ctx, task.ChatID, task.TopicID, text)
	}
	if err != nil {
		return
	}

	if task.ContentType == model.ContentToolUse && task.ToolUseID != "" {
		p.pending.Register(task.ToolUseID, task.WindowID, msgID, time.Now())
	}
}
