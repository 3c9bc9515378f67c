// internal/types/errors.go
package types

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by components used after Close.
	ErrClosed = errors.New("component closed")

	// ErrNotFound is returned when the upstream has no record for a signature.
	ErrNotFound = errors.New("transaction not found")

	// ErrMalformedFrame is returned for frames that do not match the expected shape.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrSubscriberPanic wraps a recovered panic from an event subscriber.
	ErrSubscriberPanic = errors.New("subscriber panicked")
)

// ConnectionError is a socket open, subscribe or read failure. It moves a
// stream source into backoff and is never fatal.
type ConnectionError struct {
	Endpoint string
	Op       string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error [%s] at %s: %v", e.Op, e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ParseError is a frame that could not be decoded. The frame is discarded.
type ParseError struct {
	Feed  FeedKind
	Frame string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error [%s]: %v", e.Feed, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// NewParseError truncates the offending frame so it can be logged safely.
func NewParseError(feed FeedKind, frame []byte, err error) *ParseError {
	const maxFrame = 256
	s := string(frame)
	if len(s) > maxFrame {
		s = s[:maxFrame] + "..."
	}
	return &ParseError{Feed: feed, Frame: s, Err: err}
}

// FetchError is a failed or timed out transaction fetch. The transaction is
// analyzed with a minimal analysis instead.
type FetchError struct {
	Signature string
	Err       error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Signature, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// SubscriberError is a failure inside one event subscriber.
type SubscriberError struct {
	Subscriber string
	EventType  string
	Err        error
}

func (e *SubscriberError) Error() string {
	return fmt.Sprintf("subscriber %s failed on %s: %v", e.Subscriber, e.EventType, e.Err)
}

func (e *SubscriberError) Unwrap() error {
	return e.Err
}
