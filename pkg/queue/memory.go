// Copyright (c) 2025 The gfsbak Authors
//
// This file is part of gfsbak.
//
// gfsbak is licensed under the GNU Affero General Public License v3.0 (AGPL-3.0).
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gfsbak/gfsbak/pkg/common"
)

// DefaultMaxAttempts is the delivery attempt bound before a message is
// considered poison and moved to the dead-letter list.
const DefaultMaxAttempts = 3

type memoryMessage struct {
	id        string
	body      []byte
	attempts  int
	invisible time.Time
	acked     bool
}

// MemoryQueue is an in-process Transport with visibility-timeout redelivery
// and automatic dead-lettering after DefaultMaxAttempts (or a configured
// bound). It doubles as the Producer for the local filesystem watcher.
type MemoryQueue struct {
	mu          sync.Mutex
	messages    []*memoryMessage
	dead        []*Message
	visibility  time.Duration
	maxAttempts int

	now func() time.Time
}

// NewMemoryQueue creates a queue with the given visibility timeout and
// delivery attempt bound. Zero values fall back to 30s and DefaultMaxAttempts.
func NewMemoryQueue(visibility time.Duration, maxAttempts int) *MemoryQueue {
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &MemoryQueue{
		visibility:  visibility,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

// Enqueue adds a change event to the queue.
func (q *MemoryQueue) Enqueue(event *common.ChangeEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode change event: %w", err)
	}
	q.EnqueueRaw(body)
	return nil
}

// EnqueueRaw adds an opaque message body. Bodies that fail to decode as a
// ChangeEvent are delivered as poison messages.
func (q *MemoryQueue) EnqueueRaw(body []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.messages = append(q.messages, &memoryMessage{
		id:   uuid.NewString(),
		body: body,
	})
}

// Receive returns up to max visible messages, making each invisible for the
// visibility timeout. Messages past the attempt bound are moved to the
// dead-letter list instead of being delivered again.
func (q *MemoryQueue) Receive(ctx context.Context, max int) ([]*Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if max <= 0 {
		max = 10
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var out []*Message
	remaining := q.messages[:0]
	for _, m := range q.messages {
		if m.acked {
			continue
		}
		if m.attempts >= q.maxAttempts {
			q.dead = append(q.dead, q.toMessage(m, "max delivery attempts exceeded"))
			continue
		}
		if len(out) < max && now.After(m.invisible) {
			m.attempts++
			m.invisible = now.Add(q.visibility)
			out = append(out, q.toMessage(m, ""))
		}
		remaining = append(remaining, m)
	}
	q.messages = remaining
	return out, nil
}

func (q *MemoryQueue) toMessage(m *memoryMessage, deadReason string) *Message {
	msg := &Message{
		ID:       m.id,
		Body:     append([]byte(nil), m.body...),
		Receipt:  m.id,
		Attempts: m.attempts,
	}
	var event common.ChangeEvent
	if err := json.Unmarshal(m.body, &event); err != nil {
		msg.Err = fmt.Errorf("failed to decode change event: %w", err)
	} else if err := event.Validate(); err != nil {
		msg.Err = err
	} else {
		msg.Events = []*common.ChangeEvent{&event}
	}
	if deadReason != "" && msg.Err == nil {
		msg.Err = fmt.Errorf("dead-lettered: %s", deadReason)
	}
	return msg
}

// Ack removes a message permanently.
func (q *MemoryQueue) Ack(ctx context.Context, m *Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for _, candidate := range q.messages {
		if candidate.id == m.Receipt {
			candidate.acked = true
			return nil
		}
	}
	return nil
}

// DeadLetter moves a message to the dead-letter list immediately.
func (q *MemoryQueue) DeadLetter(ctx context.Context, m *Message, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	remaining := q.messages[:0]
	for _, candidate := range q.messages {
		if candidate.id == m.Receipt {
			q.dead = append(q.dead, q.toMessage(candidate, reason))
			continue
		}
		remaining = append(remaining, candidate)
	}
	q.messages = remaining
	return nil
}

// DeadLetters returns the accumulated dead-letter messages.
func (q *MemoryQueue) DeadLetters() []*Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*Message(nil), q.dead...)
}

// Pending returns the count of messages not yet acked or dead-lettered.
func (q *MemoryQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	var n int
	for _, m := range q.messages {
		if !m.acked {
			n++
		}
	}
	return n
}
