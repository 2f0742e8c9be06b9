// Package outbox implements the transactional outbox pattern: event
// intents are appended inside the host's business transaction and drained
// asynchronously by a Relay, giving at-least-once delivery with
// per-partition ordering.
//
// The package defines the storage and publisher ports; concrete adapters
// live in outbox/memory, outbox/postgres, and the rabbitmq package.
package outbox
