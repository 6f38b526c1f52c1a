package queue

import (
	"context"
	"sync"
	"time"

	"github.com/arkstead/keepsake/models"
)

// MemoryQueue is a process-local Queue with the same semantics as the Redis
// implementation. Used in tests and single-process development mode.
type MemoryQueue struct {
	mu         sync.Mutex
	ready      map[models.JobKind]chan string
	delayed    map[models.JobKind][]delayedMsg
	processing map[models.JobKind][]string
	dead       map[models.JobKind][]string
	deliveries map[string]int
}

type delayedMsg struct {
	body string
	due  time.Time
}

func NewMemory() *MemoryQueue {
	return &MemoryQueue{
		ready:      make(map[models.JobKind]chan string),
		delayed:    make(map[models.JobKind][]delayedMsg),
		processing: make(map[models.JobKind][]string),
		dead:       make(map[models.JobKind][]string),
		deliveries: make(map[string]int),
	}
}

func (q *MemoryQueue) channel(kind models.JobKind) chan string {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch, ok := q.ready[kind]
	if !ok {
		ch = make(chan string, 1024)
		q.ready[kind] = ch
	}
	return ch
}

func (q *MemoryQueue) QueueRequest(ctx context.Context, kind models.JobKind, id string) error {
	select {
	case q.channel(kind) <- id:
		return nil
	default:
		return models.NewUnknown(errQueueFull)
	}
}

var errQueueFull = &models.Error{Code: models.CodeUnknown, Message: "queue full", Retryable: true}

func (q *MemoryQueue) Dequeue(ctx context.Context, kind models.JobKind, wait time.Duration) (*Message, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case body := <-q.channel(kind):
		q.mu.Lock()
		q.processing[kind] = append(q.processing[kind], body)
		q.deliveries[body]++
		deliveries := q.deliveries[body]
		q.mu.Unlock()
		return &Message{JobID: unwrap(body), Kind: kind, Deliveries: deliveries, body: body}, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, nil
	}
}

func (q *MemoryQueue) Acknowledge(ctx context.Context, m *Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.removeProcessing(m)
	delete(q.deliveries, m.body)
	return nil
}

func (q *MemoryQueue) Release(ctx context.Context, m *Message, delay time.Duration) error {
	q.mu.Lock()
	q.removeProcessing(m)
	q.mu.Unlock()
	if delay <= 0 {
		return q.QueueRequest(ctx, m.Kind, m.body)
	}
	q.mu.Lock()
	q.delayed[m.Kind] = append(q.delayed[m.Kind], delayedMsg{body: m.body, due: time.Now().Add(delay)})
	q.mu.Unlock()
	return nil
}

func (q *MemoryQueue) DeadLetter(ctx context.Context, m *Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.removeProcessing(m)
	delete(q.deliveries, m.body)
	q.dead[m.Kind] = append(q.dead[m.Kind], m.body)
	return nil
}

func (q *MemoryQueue) MoveDue(ctx context.Context, kind models.JobKind) (int, error) {
	q.mu.Lock()
	now := time.Now()
	var due []string
	var rest []delayedMsg
	for _, d := range q.delayed[kind] {
		if d.due.Before(now) || d.due.Equal(now) {
			due = append(due, d.body)
		} else {
			rest = append(rest, d)
		}
	}
	q.delayed[kind] = rest
	q.mu.Unlock()
	for _, body := range due {
		if err := q.QueueRequest(ctx, kind, body); err != nil {
			return 0, err
		}
	}
	return len(due), nil
}

// Depth reports how many messages are waiting for a kind, counting both
// ready and delayed messages.
func (q *MemoryQueue) Depth(ctx context.Context, kind models.JobKind) (int64, error) {
	ch := q.channel(kind)
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(ch) + len(q.delayed[kind])), nil
}

// DeadLetters returns the dead-letter list for a kind, oldest first.
func (q *MemoryQueue) DeadLetters(kind models.JobKind) []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, len(q.dead[kind]))
	copy(out, q.dead[kind])
	return out
}

// caller must hold mu
func (q *MemoryQueue) removeProcessing(m *Message) {
	list := q.processing[m.Kind]
	for i, body := range list {
		if body == m.body {
			q.processing[m.Kind] = append(list[:i], list[i+1:]...)
			return
		}
	}
}
