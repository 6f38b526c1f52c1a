// Package queue provides at-least-once delivery of job identifiers, one
// queue per job kind.
package queue

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/arkstead/keepsake/models"
)

// A Message is one delivery of a job identifier. The body never carries job
// content: executors load the job from the record store, which makes
// redelivery safe as long as execution is idempotent.
type Message struct {
	// JobID is the job identifier after envelope unwrapping.
	JobID string

	Kind models.JobKind

	// Deliveries counts how many times this identifier has been delivered,
	// including this one.
	Deliveries int

	// body is the raw queue entry, kept so acknowledge/release can remove
	// exactly what was dequeued.
	body string
}

// Queue decouples job submission from execution. Delivery is at-least-once:
// the same identifier may arrive more than once, and a message that is
// neither acknowledged nor released stays on the processing list until the
// watchdog or a restart sweep reclaims it.
type Queue interface {
	// QueueRequest enqueues the job identifier on the kind's queue.
	QueueRequest(ctx context.Context, kind models.JobKind, id string) error

	// Dequeue pops one message, waiting at most wait. Returns (nil, nil)
	// when the queue is empty for the full wait: it never blocks
	// indefinitely.
	Dequeue(ctx context.Context, kind models.JobKind, wait time.Duration) (*Message, error)

	// Acknowledge removes a delivered message permanently.
	Acknowledge(ctx context.Context, m *Message) error

	// Release returns the message to the queue for redelivery after delay.
	Release(ctx context.Context, m *Message, delay time.Duration) error

	// DeadLetter moves the message to the kind's dead-letter list.
	DeadLetter(ctx context.Context, m *Message) error

	// MoveDue promotes released messages whose delay has elapsed back onto
	// the ready queue, returning how many were moved.
	MoveDue(ctx context.Context, kind models.JobKind) (int, error)
}

// notificationEnvelope is the fanout wrapper some producers put around the
// raw message. The Type marker distinguishes it from a bare identifier.
type notificationEnvelope struct {
	Type    string `json:"Type"`
	Message string `json:"Message"`
}

// unwrap returns the job identifier from either a raw body or a
// notification-wrapped one.
func unwrap(body string) string {
	if !strings.HasPrefix(strings.TrimSpace(body), "{") {
		return body
	}
	var env notificationEnvelope
	if err := json.Unmarshal([]byte(body), &env); err == nil && env.Type == "Notification" {
		return env.Message
	}
	return body
}
