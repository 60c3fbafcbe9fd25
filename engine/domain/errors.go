package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the collection engine.
var (
	ErrInvalidResource  = errors.New("invalid resource identifier")
	ErrMalformedSegment = errors.New("malformed danmaku segment")
	ErrUpstream         = errors.New("upstream request failed")
	ErrNotFound         = errors.New("not found")
)

// ValidationError wraps a sentinel with context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

// DecodeError reports where a danmaku segment stopped parsing.
type DecodeError struct {
	Offset int
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode segment at byte %d: %v", e.Offset, e.Err)
}

// Is lets errors.Is(err, ErrMalformedSegment) match any DecodeError.
func (e *DecodeError) Is(target error) bool { return target == ErrMalformedSegment }

func (e *DecodeError) Unwrap() error { return e.Err }

// UpstreamError is a non-success answer from the remote API, either an HTTP
// status outside 2xx or an envelope with a non-zero code.
type UpstreamError struct {
	Endpoint string
	Status   int
	Code     int
	Message  string
}

func (e *UpstreamError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s: code %d: %s", e.Endpoint, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: unexpected status %d", e.Endpoint, e.Status)
}

func (e *UpstreamError) Unwrap() error { return ErrUpstream }
