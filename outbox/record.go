package outbox

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxPayloadBytes bounds the stored payload size.
const MaxPayloadBytes = 1 << 20

// Record is one durable event intent. It is created atomically with the
// business mutation that produced it and drained asynchronously by the Relay.
//
// SequenceNumber is assigned by the store at append time and is the sole
// ordering key: records sharing a PartitionKey are dispatched in
// non-decreasing sequence order. Processed is monotone, false to true,
// never reversed.
type Record struct {
	ID             uuid.UUID
	EventType      string
	Payload        []byte
	PartitionKey   string
	SequenceNumber int64
	RetryCount     int
	ErrorMessage   string
	Processed      bool
	CreatedAt      time.Time
	ScheduledAt    *time.Time
	ProcessedAt    *time.Time
}

// NewRecord creates a pending record. The payload is opaque to the core and
// is never interpreted, only bounded.
func NewRecord(eventType string, payload []byte, partitionKey string, now time.Time) (*Record, error) {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return nil, ErrEventTypeRequired
	}

	if len(payload) == 0 {
		return nil, ErrPayloadRequired
	}

	if len(payload) > MaxPayloadBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}

	return &Record{
		ID:           uuid.New(),
		EventType:    eventType,
		Payload:      payload,
		PartitionKey: strings.TrimSpace(partitionKey),
		CreatedAt:    now.UTC(),
	}, nil
}

// Due reports whether the record is eligible for dispatch at the given time.
func (record *Record) Due(now time.Time) bool {
	if record == nil || record.Processed {
		return false
	}

	return record.ScheduledAt == nil || !record.ScheduledAt.After(now)
}

// Dead reports whether the record exhausted its retry budget and is
// excluded from automatic dispatch. Dead records stay unprocessed and are
// surfaced to operators via Store.ListDead.
func (record *Record) Dead(maxRetries int) bool {
	if record == nil {
		return false
	}

	return !record.Processed && record.RetryCount >= maxRetries
}

// markProcessed transitions the record to its terminal success state.
func (record *Record) markProcessed(now time.Time) {
	processedAt := now.UTC()
	record.Processed = true
	record.ProcessedAt = &processedAt
	record.ScheduledAt = nil
	record.ErrorMessage = ""
}

// markFailed records one failed dispatch attempt. Under the ceiling the
// record is rescheduled with exponential backoff; at the ceiling it becomes
// dead and no further attempt is scheduled.
func (record *Record) markFailed(now time.Time, cause error, backoffDelay time.Duration, maxRetries int) {
	record.RetryCount++
	record.ErrorMessage = sanitizeErrorForStorage(cause)

	if record.RetryCount >= maxRetries {
		record.ScheduledAt = nil

		return
	}

	next := now.UTC().Add(backoffDelay)
	record.ScheduledAt = &next
}

// Clone returns a deep copy of the record.
func (record *Record) Clone() *Record {
	if record == nil {
		return nil
	}

	clone := *record

	clone.Payload = append([]byte(nil), record.Payload...)

	if record.ScheduledAt != nil {
		scheduledAt := *record.ScheduledAt
		clone.ScheduledAt = &scheduledAt
	}

	if record.ProcessedAt != nil {
		processedAt := *record.ProcessedAt
		clone.ProcessedAt = &processedAt
	}

	return &clone
}
