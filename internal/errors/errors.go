// Package errors provides the structured error taxonomy used across the
// collection pipeline. Collection failures are classified so the
// coordinator can decide between retrying on the next cycle and skipping
// the device until reconfiguration.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Base error values for errors.Is checks.
var (
	ErrNotFound         = errors.New("not found")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrTimeout          = errors.New("timeout")
	ErrInvalidInput     = errors.New("invalid input")
	ErrConnectionFailed = errors.New("connection failed")
	ErrUnavailable      = errors.New("temporarily unavailable")
)

// Kind categorizes a collection error. The string form is recorded as the
// error_kind metadata on synthetic collection_error points.
type Kind string

const (
	KindConnection Kind = "connection"
	KindAuth       Kind = "auth"
	KindTimeout    Kind = "timeout"
	KindParse      Kind = "parse"
	KindValidation Kind = "validation"
	KindInternal   Kind = "internal"
)

// CollectError is a structured error for collection operations.
type CollectError struct {
	Kind      Kind
	Op        string // operation that failed, e.g. "scrape_status_page"
	DeviceID  string
	Err       error
	Timestamp time.Time
	Retryable bool
}

func (e *CollectError) Error() string {
	if e.DeviceID != "" {
		return fmt.Sprintf("%s failed on %s: %v", e.Op, e.DeviceID, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *CollectError) Unwrap() error {
	return e.Err
}

// Is maps the taxonomy onto the base error values.
func (e *CollectError) Is(target error) bool {
	switch target {
	case ErrTimeout:
		return e.Kind == KindTimeout
	case ErrUnauthorized:
		return e.Kind == KindAuth
	case ErrConnectionFailed:
		return e.Kind == KindConnection
	}
	return errors.Is(e.Err, target)
}

// New creates a classified collection error.
func New(kind Kind, op, deviceID string, err error) *CollectError {
	return &CollectError{
		Kind:      kind,
		Op:        op,
		DeviceID:  deviceID,
		Err:       err,
		Timestamp: time.Now(),
		Retryable: retryable(kind),
	}
}

func retryable(kind Kind) bool {
	switch kind {
	case KindConnection, KindTimeout, KindParse, KindInternal:
		return true
	default: // auth, validation
		return false
	}
}

// KindOf extracts the taxonomy kind from any error, defaulting to internal.
func KindOf(err error) Kind {
	var ce *CollectError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, ErrTimeout) {
		return KindTimeout
	}
	if errors.Is(err, ErrConnectionFailed) {
		return KindConnection
	}
	if errors.Is(err, ErrUnauthorized) {
		return KindAuth
	}
	return KindInternal
}

// IsRetryable reports whether the next collection cycle should try again.
func IsRetryable(err error) bool {
	var ce *CollectError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrConnectionFailed) || errors.Is(err, ErrUnavailable)
}
