package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// Classifier decides whether a failure is transient and therefore safe to
// retry. Validation and business errors must never be classified transient.
type Classifier interface {
	IsTransient(err error) bool
}

// ClassifierFunc adapts a function to the Classifier interface.
type ClassifierFunc func(err error) bool

// IsTransient implements Classifier.
func (fn ClassifierFunc) IsTransient(err error) bool {
	if fn == nil {
		return false
	}

	return fn(err)
}

// transientMarker is implemented by errors that self-declare retryability.
type transientMarker interface {
	Transient() bool
}

type markedError struct {
	err       error
	transient bool
}

func (e *markedError) Error() string   { return e.err.Error() }
func (e *markedError) Unwrap() error   { return e.err }
func (e *markedError) Transient() bool { return e.transient }

// MarkTransient wraps err so the default classifier retries it.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}

	return &markedError{err: err, transient: true}
}

// MarkPermanent wraps err so the default classifier never retries it,
// even when the underlying cause would otherwise look transient.
func MarkPermanent(err error) error {
	if err == nil {
		return nil
	}

	return &markedError{err: err, transient: false}
}

// DefaultClassifier classifies network-shaped failures as transient:
// timeouts, refused or reset connections, and unexpected stream ends.
// Unknown errors are treated as permanent so business failures are not
// retried by accident; callers designate additional transient classes via
// MarkTransient or a custom Classifier.
//
//nolint:ireturn
func DefaultClassifier() Classifier {
	return ClassifierFunc(isTransientError)
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	var marker transientMarker
	if errors.As(err, &marker) {
		return marker.Transient()
	}

	if errors.Is(err, context.Canceled) {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	return false
}

// TransientError wraps err with a message and marks it transient.
func TransientError(format string, args ...any) error {
	return MarkTransient(fmt.Errorf(format, args...))
}
