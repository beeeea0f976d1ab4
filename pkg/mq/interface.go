package mq

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher is the publish side of the client, used by the simulator's AMQP
// transport.
type Publisher interface {
	// Push will push data onto the queue, and wait for a confirmation.
	// This will block until the server sends a confirmation.
	// The context is used for cancellation and timeout.
	Push(ctx context.Context, data []byte) error

	// Close will cleanly shut down the channel and connection.
	Close() error
}

// Consumer is the consume side of the client, used by the collector's AMQP
// ingestion path. Extracted as an interface so the ingestion consumer can be
// tested without a broker.
type Consumer interface {
	// Consume will continuously put queue items on the channel.
	// It is required to call delivery.Ack when it has been successfully
	// processed, or delivery.Nack when it fails.
	Consume() (<-chan amqp.Delivery, error)

	// Close will cleanly shut down the channel and connection.
	Close() error
}

// Ensure Client satisfies both sides.
var (
	_ Publisher = (*Client)(nil)
	_ Consumer  = (*Client)(nil)
)
