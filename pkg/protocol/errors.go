package protocol

import (
	"errors"
	"fmt"
)

// Protocol errors.
var (
	// ErrMalformed is returned when a frame is not a valid sealed value.
	ErrMalformed = errors.New("protocol: malformed sealed value")

	// ErrMissingPayload is returned when a bare value is opened for a packet
	// that carries a payload.
	ErrMissingPayload = errors.New("protocol: missing payload")

	// ErrPacketMismatch is returned when a sealed value is opened with a
	// packet of a different identity.
	ErrPacketMismatch = errors.New("protocol: packet mismatch")
)

// PayloadError wraps a failure to encode or decode a packet payload.
type PayloadError struct {
	ID  ID
	Op  string // "seal" or "open"
	Err error
}

// Error returns the error message.
func (e *PayloadError) Error() string {
	return fmt.Sprintf("protocol: %s packet %d: %v", e.Op, e.ID, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *PayloadError) Unwrap() error {
	return e.Err
}
