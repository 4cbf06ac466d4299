package socket

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrClosed is returned when sending on a closed connection.
	ErrClosed = errors.New("socket: connection closed")

	// ErrSchemaMismatch is returned by Dial when the server rejected the
	// client's schema fingerprint.
	ErrSchemaMismatch = errors.New("socket: schema mismatch")
)

// ConnError wraps an error with connection context.
type ConnError struct {
	ConnID string
	Op     string // Operation that failed
	Err    error  // Underlying error
}

// Error returns the error message with connection context.
func (e *ConnError) Error() string {
	if e.ConnID == "" {
		return fmt.Sprintf("socket: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("socket: conn %s: %s: %v", e.ConnID, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *ConnError) Unwrap() error {
	return e.Err
}

// SubscriberPanicError reports a subscriber that panicked while handling a
// frame.
type SubscriberPanicError struct {
	ConnID string
	Panic  any
	Stack  []byte
}

// Error returns the error message.
func (e *SubscriberPanicError) Error() string {
	return fmt.Sprintf("socket: subscriber panic in conn %s: %v", e.ConnID, e.Panic)
}
