// internal/blockchain/solbc/rpc/errors.go
package rpc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	solanarpc "github.com/gagliardetto/solana-go/rpc"
)

var (
	// ErrNoActiveClients is returned when the pool has no node to try.
	ErrNoActiveClients = errors.New("no active RPC clients available")

	// ErrRateLimit is returned when a node throttles the request.
	ErrRateLimit = errors.New("rate limit exceeded")

	// ErrTimeout is returned when a request exceeds its deadline.
	ErrTimeout = errors.New("request timeout")

	// ErrInvalidResponse is returned for responses that cannot be decoded.
	ErrInvalidResponse = errors.New("invalid RPC response")

	// ErrConnectionFailed is returned when the node cannot be reached.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrUnauthorized is returned when the node rejects the api key.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidRequest is returned when the node rejects the request parameters.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrNotFound is returned when the node has no record of the requested item.
	ErrNotFound = errors.New("not found")
)

// Error is an RPC failure with the node and method that produced it.
type Error struct {
	Err     error
	NodeURL string
	Method  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("RPC error [%s] at %s: %v", e.Method, e.NodeURL, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new RPC error.
func NewError(err error, nodeURL, method string) error {
	return &Error{
		Err:     err,
		NodeURL: nodeURL,
		Method:  method,
	}
}

// classify wraps err with the sentinel describing its class.
func classify(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, solanarpc.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		return err
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"),
		strings.Contains(msg, "too many requests"),
		strings.Contains(msg, "rate limit"):
		return fmt.Errorf("%w: %w", ErrRateLimit, err)
	case strings.Contains(msg, "timeout"):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "eof"):
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	case strings.Contains(msg, "401"),
		strings.Contains(msg, "403"),
		strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "forbidden"):
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	case strings.Contains(msg, "invalid param"),
		strings.Contains(msg, "-32602"),
		strings.Contains(msg, "invalid request"):
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	case strings.Contains(msg, "cannot unmarshal"),
		strings.Contains(msg, "invalid character"):
		return fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}
	return err
}

// IsRetryableError reports whether the operation may succeed on another attempt.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrInvalidRequest),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}

// IsCriticalError reports whether the node itself is unusable and should be
// taken out of rotation.
func IsCriticalError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrInvalidResponse)
}
