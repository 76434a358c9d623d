package queue

import "context"

// Message is a received, not yet acknowledged job body.
type Message struct {
	ID      string
	Body    []byte
	Attempt int
	// Receipt is the transport handle needed to ack or release the message.
	Receipt string
}

type Enqueuer interface {
	// Enqueue submits jobs. Jobs whose idempotency key was seen within the
	// transport's dedupe window are dropped silently.
	Enqueue(ctx context.Context, jobs ...*Job) error
}

type Receiver interface {
	// Receive blocks until at least one message is available or ctx ends.
	Receive(ctx context.Context, limit int) ([]*Message, error)
	// Ack removes processed messages.
	Ack(ctx context.Context, msgs ...*Message) error
	// Release hands failed messages back for redelivery.
	Release(ctx context.Context, msgs ...*Message) error
}

type Queue interface {
	Enqueuer
	Receiver
}
