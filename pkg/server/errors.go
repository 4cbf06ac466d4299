package server

import (
	"errors"
)

// Sentinel errors for server conditions.
var (
	// ErrMaxConnectionsReached is returned when the connection limit is reached.
	ErrMaxConnectionsReached = errors.New("server: max connections reached")

	// ErrServerClosed is returned when accepting after Shutdown.
	ErrServerClosed = errors.New("server: closed")
)
