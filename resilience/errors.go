package resilience

import "errors"

var (
	// ErrCircuitOpen is returned when the breaker rejects a call without
	// attempting it and no fallback is configured. Callers can use it to
	// distinguish "service is known-down" from an ordinary failure.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrOperationRequired is returned when Execute is called with a nil operation.
	ErrOperationRequired = errors.New("operation is required")

	// ErrPolicyNameRequired is returned when a policy is created without a name.
	ErrPolicyNameRequired = errors.New("policy name is required")

	// ErrEndpointUnknown is returned by manager lookups for endpoints that
	// were never registered via GetOrCreate.
	ErrEndpointUnknown = errors.New("no policy registered for endpoint")

	// ErrManagerRequired is returned when an observer is created without a state source.
	ErrManagerRequired = errors.New("state source is required")
)
