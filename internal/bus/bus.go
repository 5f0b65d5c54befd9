// Package bus abstracts the durable message broker the orchestrator sits on:
// a prefetch-1 consumer for classified comments and a persistent publisher
// for speak requests.
package bus

import "context"

// Handler processes one raw message body. A non-nil error is logged by the
// consumer; the message is acknowledged either way so a poison message can
// never wedge the queue.
type Handler func(ctx context.Context, body []byte) error

// Consumer delivers messages from a named queue, one at a time, until the
// context is cancelled.
type Consumer interface {
	Consume(ctx context.Context, queue string, h Handler) error
}

// Publisher sends messages to a named queue with durable delivery.
type Publisher interface {
	Publish(ctx context.Context, queue string, body []byte) error
}
