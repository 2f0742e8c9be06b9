package outbox

import "context"

// Publisher delivers events to the external message sink. Implementations
// must preserve the relative order of messages sharing a partition key when
// one is provided; no other ordering guarantee is required.
//
// The relay is the only caller, and always goes through the resilience
// policy layer.
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(ctx context.Context, eventType string, payload []byte, partitionKey string) error

// Publish implements Publisher.
func (fn PublisherFunc) Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error {
	return fn(ctx, eventType, payload, partitionKey)
}
