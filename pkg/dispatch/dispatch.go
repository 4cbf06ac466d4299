// Package dispatch provides Dispatch, a map from packet identity to a
// single handler.
//
// Unlike event.Bus, which accumulates subscribers, Dispatch keeps at most
// one handler per identity: registering a handler replaces the previous one.
package dispatch

import (
	"encoding/json"
	"sync"

	"github.com/vango-dev/vsock/pkg/protocol"
)

// Handler receives the raw JSON payload of a packet. The payload is nil for
// bare packets.
type Handler func(payload json.RawMessage)

// Dispatch routes packets to one handler per identity.
// The zero value is an empty Dispatch ready to use.
type Dispatch struct {
	mu       sync.RWMutex
	handlers map[protocol.ID]Handler

	// OnDecodeError, if set, is called when a handler registered with Handle
	// cannot decode its payload. The value is dropped either way.
	OnDecodeError func(id protocol.ID, err error)
}

// New creates an empty Dispatch.
func New() *Dispatch {
	return &Dispatch{handlers: make(map[protocol.ID]Handler)}
}

// On registers h for id, replacing any previous handler.
func (d *Dispatch) On(id protocol.ID, h Handler) {
	d.mu.Lock()
	if d.handlers == nil {
		d.handlers = make(map[protocol.ID]Handler)
	}
	d.handlers[id] = h
	d.mu.Unlock()
}

// Off removes the handler for id.
func (d *Dispatch) Off(id protocol.ID) {
	d.mu.Lock()
	delete(d.handlers, id)
	d.mu.Unlock()
}

// Has reports whether a handler is registered for id.
func (d *Dispatch) Has(id protocol.ID) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.handlers[id]
	return ok
}

// Emit invokes the handler registered for id with payload.
// It returns false if no handler is registered.
func (d *Dispatch) Emit(id protocol.ID, payload json.RawMessage) bool {
	d.mu.RLock()
	h, ok := d.handlers[id]
	d.mu.RUnlock()

	if !ok {
		return false
	}
	h(payload)
	return true
}

// Route emits a sealed value.
func (d *Dispatch) Route(s protocol.Sealed) bool {
	if !s.HasPayload() {
		return d.Emit(s.ID, nil)
	}
	return d.Emit(s.ID, s.Payload)
}

// Handle registers fn for packet p, decoding the payload as T.
func Handle[T any](d *Dispatch, p protocol.Packet[T], fn func(T)) {
	d.On(p.ID(), func(payload json.RawMessage) {
		sealed := protocol.Bare(p.ID())
		if payload != nil {
			sealed = protocol.WithPayload(p.ID(), payload)
		}

		v, err := protocol.Open(p, sealed)
		if err != nil {
			if d.OnDecodeError != nil {
				d.OnDecodeError(p.ID(), err)
			}
			return
		}
		fn(v)
	})
}

// Send emits v for packet p without going through the wire.
func Send[T any](d *Dispatch, p protocol.Packet[T], v T) (bool, error) {
	sealed, err := protocol.Seal(p, v)
	if err != nil {
		return false, err
	}
	return d.Route(sealed), nil
}
