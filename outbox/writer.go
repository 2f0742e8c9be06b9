package outbox

import (
	"context"
	"fmt"

	"github.com/lightframe/lib-relay/log"
)

// Writer appends event intents to the outbox inside the caller's
// transaction, so the business mutation and the publish intent become
// durable as one atomic unit.
//
// The writer propagates every failure to its caller. It never swallows a
// failed append: an aborted host transaction must abort the intent too.
type Writer struct {
	store  Store
	clock  Clock
	logger log.Logger
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithWriterClock overrides the writer's time source.
func WithWriterClock(clock Clock) WriterOption {
	return func(writer *Writer) {
		if clock != nil {
			writer.clock = clock
		}
	}
}

// WithWriterLogger sets the writer logger.
func WithWriterLogger(logger log.Logger) WriterOption {
	return func(writer *Writer) {
		if logger != nil {
			writer.logger = logger
		}
	}
}

// NewWriter creates a writer over the given store.
func NewWriter(store Store, opts ...WriterOption) (*Writer, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}

	writer := &Writer{
		store:  store,
		clock:  SystemClock{},
		logger: log.NewNop(),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(writer)
		}
	}

	return writer, nil
}

// Append validates and stores a new record using the caller-supplied
// transactional executor. The record's sequence number is assigned by the
// store and is strictly increasing, surviving process restarts.
func (writer *Writer) Append(
	ctx context.Context,
	exec Execer,
	eventType string,
	payload []byte,
	partitionKey string,
) (*Record, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	record, err := NewRecord(eventType, payload, partitionKey, writer.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("new outbox record: %w", err)
	}

	stored, err := writer.store.Append(ctx, exec, record)
	if err != nil {
		return nil, fmt.Errorf("append outbox record: %w", err)
	}

	writer.logger.Log(ctx, log.LevelDebug, "outbox record appended",
		log.String("record_id", stored.ID.String()),
		log.String("event_type", stored.EventType),
		log.Int64("sequence", stored.SequenceNumber))

	return stored, nil
}
