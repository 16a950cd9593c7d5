package queue

import (
	"context"
	"encoding/json"
	"time"
)

// Message represents work to be processed.
type Message struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Body    json.RawMessage `json:"body"`
	Attempt int             `json:"attempt"`

	// Receipt identifies the delivery for backends that need it to ack.
	Receipt string `json:"-"`
}

// Queue is the abstraction over different backends. Consumers must call Ack
// or Retry for each message they receive.
type Queue interface {
	Publish(ctx context.Context, msg Message) error
	Consume(ctx context.Context) (<-chan Message, error)
	Ack(ctx context.Context, msg Message) error
	// Retry makes msg visible again after delay with Attempt incremented.
	Retry(ctx context.Context, msg Message, delay time.Duration) error
}

// InMemory is a minimal channel-backed queue for dev/testing.
type InMemory struct {
	ch chan Message
}

// NewInMemory creates a bounded in-memory queue.
func NewInMemory(size int) *InMemory {
	return &InMemory{ch: make(chan Message, size)}
}

// Publish enqueues a message.
func (q *InMemory) Publish(ctx context.Context, msg Message) error {
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume returns a channel for workers.
func (q *InMemory) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			select {
			case msg := <-q.ch:
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (q *InMemory) Ack(context.Context, Message) error { return nil }

// Retry re-enqueues msg once delay has elapsed.
func (q *InMemory) Retry(_ context.Context, msg Message, delay time.Duration) error {
	msg.Attempt++
	msg.Receipt = ""
	time.AfterFunc(delay, func() {
		_ = q.Publish(context.Background(), msg)
	})
	return nil
}

// Len reports the number of buffered messages.
func (q *InMemory) Len() int { return len(q.ch) }
