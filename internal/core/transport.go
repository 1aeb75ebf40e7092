package core

import "context"

// Frame is a raw signaling payload.
type Frame []byte

// SignalTransport abstracts the publish/subscribe signaling channel.
// Implementations must reconnect on their own; the core assumes
// at-least-once delivery ordered per topic.
// Owned by the adapter; the adapter must Close() it.
type SignalTransport interface {
	// Connect dials the broker and starts delivery. Subscriptions made
	// before Connect are honored once the link is up.
	Connect(ctx context.Context) error
	// Subscribe registers a handler for a topic. Handlers run on the
	// delivery goroutine and must not block.
	Subscribe(topic string, handler func(Frame))
	// Publish serializes body as JSON and sends it to destination.
	Publish(destination string, body any) error
	Close()
}
