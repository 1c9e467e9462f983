package domain

import (
	"errors"
	"fmt"
)

// Error kinds, used as the errorKind log field and metric label.
const (
	ErrKindParse           = "parse"
	ErrKindUnknownTopic    = "unknown_topic"
	ErrKindCapability      = "capability"
	ErrKindProcessNotFound = "process_not_found"
	ErrKindInternal        = "internal"
)

// ParseError is a malformed or out-of-range payload.
type ParseError struct {
	Payload string
	Reason  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid payload %q: %s", e.Payload, e.Reason)
}

func (e *ParseError) Kind() string { return ErrKindParse }

// UnknownTopicError means no enabled binding owns the topic.
type UnknownTopicError struct {
	Topic string
}

func (e *UnknownTopicError) Error() string {
	return fmt.Sprintf("no binding for topic %q", e.Topic)
}

func (e *UnknownTopicError) Kind() string { return ErrKindUnknownTopic }

// CapabilityError wraps a failed call to an external capability port.
type CapabilityError struct {
	Port string // e.g. "audio", "launcher"
	Op   string // e.g. "set_volume"
	Err  error
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("%s.%s failed: %v", e.Port, e.Op, e.Err)
}

func (e *CapabilityError) Unwrap() error { return e.Err }

func (e *CapabilityError) Kind() string { return ErrKindCapability }

// ProcessNotFoundError means a kill was requested but no live record matched.
type ProcessNotFoundError struct {
	Topic string
}

func (e *ProcessNotFoundError) Error() string {
	return fmt.Sprintf("no running process for topic %q", e.Topic)
}

func (e *ProcessNotFoundError) Kind() string { return ErrKindProcessNotFound }

// ErrorKind returns the taxonomy kind of err, or ErrKindInternal.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	var k interface{ Kind() string }
	if errors.As(err, &k) {
		return k.Kind()
	}
	return ErrKindInternal
}

// NewCapabilityError wraps err as a CapabilityError, or returns nil.
func NewCapabilityError(port, op string, err error) error {
	if err == nil {
		return nil
	}
	return &CapabilityError{Port: port, Op: op, Err: err}
}
