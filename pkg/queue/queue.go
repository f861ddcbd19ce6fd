// Copyright (c) 2025 The gfsbak Authors
//
// This file is part of gfsbak.
//
// gfsbak is licensed under the GNU Affero General Public License v3.0 (AGPL-3.0).
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

// Package queue provides the at-least-once change-event transport feeding the
// aggregator. Messages stay invisible for a visibility timeout after receipt
// and are redelivered unless acknowledged; malformed messages are routed to a
// dead-letter destination after bounded attempts.
package queue

import (
	"context"
	"errors"

	"github.com/gfsbak/gfsbak/pkg/common"
)

var (
	// ErrQueueURLNotSet is returned when an SQS transport is built without a queue URL.
	ErrQueueURLNotSet = errors.New("queue url not set")

	// ErrNoDeadLetterTarget is returned when dead-lettering without a configured destination.
	ErrNoDeadLetterTarget = errors.New("dead-letter destination not configured")
)

// Message is one delivery from the transport. A message that failed to decode
// carries a nil Events slice and a non-nil Err; such messages are poison and
// must be dead-lettered by the consumer, never retried forever.
type Message struct {
	ID       string
	Body     []byte
	Events   []*common.ChangeEvent
	Err      error
	Receipt  string
	Attempts int
}

// Transport is the at-least-once delivery contract. Receive makes messages
// invisible for the transport's visibility timeout; a message not Acked
// within that timeout becomes eligible for redelivery.
type Transport interface {
	// Receive returns up to max pending messages.
	Receive(ctx context.Context, max int) ([]*Message, error)

	// Ack removes a successfully processed message from the queue.
	Ack(ctx context.Context, m *Message) error

	// DeadLetter moves a poison message to the dead-letter destination.
	DeadLetter(ctx context.Context, m *Message, reason string) error
}

// Producer enqueues change events. Implemented by the memory queue and the
// local filesystem watcher's sink.
type Producer interface {
	Enqueue(event *common.ChangeEvent) error
}
