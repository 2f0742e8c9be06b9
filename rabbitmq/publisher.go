// Package rabbitmq adapts an AMQP channel to the outbox Publisher port.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/lightframe/lib-relay/log"
	"github.com/lightframe/lib-relay/resilience"
)

// Channel is the slice of *amqp.Channel the publisher needs.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

var (
	ErrChannelRequired  = errors.New("amqp channel is required")
	ErrExchangeRequired = errors.New("exchange name is required")
)

// Publisher publishes outbox events to a single exchange. The partition key
// becomes the routing key, so a broker topology that routes one key to one
// queue preserves the relay's per-partition ordering end to end.
type Publisher struct {
	channel     Channel
	exchange    string
	contentType string
	logger      log.Logger
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithContentType sets the content type stamped on every message.
// Defaults to application/json.
func WithContentType(contentType string) PublisherOption {
	return func(publisher *Publisher) {
		if contentType != "" {
			publisher.contentType = contentType
		}
	}
}

// WithPublisherLogger sets the publisher logger.
func WithPublisherLogger(logger log.Logger) PublisherOption {
	return func(publisher *Publisher) {
		if logger != nil {
			publisher.logger = logger
		}
	}
}

// NewPublisher creates a publisher bound to the given exchange.
func NewPublisher(channel Channel, exchange string, opts ...PublisherOption) (*Publisher, error) {
	if channel == nil {
		return nil, ErrChannelRequired
	}

	if strings.TrimSpace(exchange) == "" {
		return nil, ErrExchangeRequired
	}

	publisher := &Publisher{
		channel:     channel,
		exchange:    exchange,
		contentType: "application/json",
		logger:      log.NewNop(),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(publisher)
		}
	}

	return publisher, nil
}

// Publish implements outbox.Publisher. Broker failures are marked transient
// so the resilience layer retries them; a reconnecting channel wrapper
// turns most of them into momentary blips.
func (publisher *Publisher) Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error {
	msg := amqp.Publishing{
		ContentType:  publisher.contentType,
		DeliveryMode: amqp.Persistent,
		Type:         eventType,
		Timestamp:    time.Now().UTC(),
		Body:         payload,
	}

	if err := publisher.channel.PublishWithContext(ctx, publisher.exchange, partitionKey, false, false, msg); err != nil {
		return resilience.MarkTransient(fmt.Errorf("publish to exchange %s: %w", publisher.exchange, err))
	}

	publisher.logger.Log(ctx, log.LevelDebug, "event published",
		log.String("exchange", publisher.exchange),
		log.String("event_type", eventType),
		log.String("routing_key", partitionKey))

	return nil
}
