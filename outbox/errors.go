package outbox

import "errors"

var (
	ErrStoreRequired         = errors.New("outbox store is required")
	ErrPublisherRequired     = errors.New("publisher is required")
	ErrRecordRequired        = errors.New("outbox record is required")
	ErrEventTypeRequired     = errors.New("event type is required")
	ErrPayloadRequired       = errors.New("payload is required")
	ErrPayloadTooLarge       = errors.New("payload exceeds maximum allowed size")
	ErrExecerRequired        = errors.New("transactional executor is required")
	ErrRelayRunning          = errors.New("relay is already running")
	ErrNoRecords             = errors.New("no records due for dispatch")
	ErrBatchCommitted        = errors.New("batch already committed or closed")
	ErrLeaseUnavailable      = errors.New("dispatch lease is held by another instance")
	ErrLimitMustBePositive   = errors.New("limit must be greater than zero")
	ErrRetriesMustBePositive = errors.New("max retries must be greater than zero")
)
