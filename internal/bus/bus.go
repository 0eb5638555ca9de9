// Package bus abstracts the message broker behind a small publish/subscribe +
// request/response interface so the server and its tests can run against
// either a real NATS connection or an in-process bus.
//
// Delivery semantics
// ------------------
//   - Publish delivers to every current subscriber of the topic, at least once.
//   - Handlers are invoked concurrently and independently per message; nothing
//     may assume ordering between two handler invocations.
//   - Request blocks until one responder answers or ctx is done.
package bus

import (
	"context"
	"errors"
)

// ErrNoResponder is returned by Request when no responder is registered for
// the topic (or the broker reports the same condition).
var ErrNoResponder = errors.New("bus: no responder for topic")

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("bus: closed")

// Handler consumes one published message.
type Handler func(data []byte)

// Responder answers one request.  The returned bytes are sent back to the
// requester; a nil return sends an empty reply.
type Responder func(data []byte) []byte

// Bus is the broker abstraction the chat server is written against.
type Bus interface {
	// Publish sends data to every subscriber of topic.
	Publish(topic string, data []byte) error

	// Subscribe registers fn for topic and returns an unsubscribe function.
	Subscribe(topic string, fn Handler) (func(), error)

	// Request publishes data on topic and waits for a single reply.
	Request(ctx context.Context, topic string, data []byte) ([]byte, error)

	// Respond registers fn as the responder for topic and returns an
	// unsubscribe function.
	Respond(topic string, fn Responder) (func(), error)

	// Close releases the underlying broker resources.
	Close() error
}
