package router

import "github.com/vango-dev/vsock/pkg/protocol"

// Reason classifies why a frame was dropped.
type Reason string

const (
	// DropMalformed: the frame is not a sealed value.
	DropMalformed Reason = "malformed"

	// DropUnknownPacket: the identity is not defined in the router's schema
	// and nobody subscribed to it. Usually a schema mismatch between peers.
	DropUnknownPacket Reason = "unknown_packet"

	// DropUnsubscribed: the identity is known but has no bus on this
	// connection.
	DropUnsubscribed Reason = "unsubscribed"

	// DropPayload: the payload does not decode as the subscribed type.
	DropPayload Reason = "payload"
)

// Reasons lists every drop reason.
var Reasons = []Reason{DropMalformed, DropUnknownPacket, DropUnsubscribed, DropPayload}

// Drop describes a dropped frame.
type Drop struct {
	Reason Reason
	ID     protocol.ID // zero for DropMalformed
	Err    error       // decode error, if any
}

// DropHook observes dropped frames.
type DropHook func(Drop)

// Outcome is the result of handling one frame.
type Outcome struct {
	Sealed    protocol.Sealed
	Delivered bool
	Drop      *Drop
}
