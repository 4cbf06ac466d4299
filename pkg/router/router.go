package router

import (
	"fmt"
	"sort"
	"sync"

	"github.com/vango-dev/vsock/pkg/event"
	"github.com/vango-dev/vsock/pkg/protocol"
)

// Router routes the inbound frames of one connection.
type Router struct {
	schema *protocol.Schema
	onDrop DropHook

	mu      sync.Mutex
	entries map[protocol.ID]*entry
}

type entry struct {
	bus     any
	deliver func(protocol.Sealed) error
	clear   func()
}

// Option configures a Router.
type Option func(*Router)

// WithDropHook sets the hook called for every dropped frame.
func WithDropHook(h DropHook) Option {
	return func(r *Router) {
		r.onDrop = h
	}
}

// New creates a Router for a connection speaking schema.
// A nil schema classifies every unsubscribed identity as unknown.
func New(schema *protocol.Schema, opts ...Option) *Router {
	r := &Router{schema: schema}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Schema returns the router's schema.
func (r *Router) Schema() *protocol.Schema {
	return r.schema
}

// Initialized reports whether the identity→bus map has been created.
func (r *Router) Initialized() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries != nil
}

// ensureLocked creates the map on first use. r.mu must be held.
func (r *Router) ensureLocked() {
	if r.entries == nil {
		r.entries = make(map[protocol.ID]*entry)
	}
}

// Receive returns the bus for packet p, creating it on first use.
// Repeated calls with the same packet return the same bus.
//
// Receive panics if p's identity is already bound to a bus of a different
// payload type, which can only happen when packets of two schemas are mixed
// on one connection.
func Receive[T any](r *Router, p protocol.Packet[T]) *event.Bus[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensureLocked()

	if e, ok := r.entries[p.ID()]; ok {
		bus, ok := e.bus.(*event.Bus[T])
		if !ok {
			panic(fmt.Sprintf("router: packet %s is bound to %T, not %T", p, e.bus, bus))
		}
		return bus
	}

	bus := event.New[T]()
	r.entries[p.ID()] = &entry{
		bus: bus,
		deliver: func(s protocol.Sealed) error {
			v, err := protocol.Open(p, s)
			if err != nil {
				return err
			}
			bus.Emit(v)
			return nil
		},
		clear: bus.Clear,
	}
	return bus
}

// HandleFrame decodes one inbound frame and emits its payload to the bus
// subscribed for its identity. Frames that cannot be delivered are dropped
// and reported to the drop hook; HandleFrame never returns an error.
func (r *Router) HandleFrame(data []byte) Outcome {
	sealed, err := protocol.Unseal(data)
	if err != nil {
		return r.drop(Outcome{}, Drop{Reason: DropMalformed, Err: err})
	}
	out := Outcome{Sealed: sealed}

	r.mu.Lock()
	r.ensureLocked()
	e := r.entries[sealed.ID]
	r.mu.Unlock()

	if e == nil {
		reason := DropUnsubscribed
		if r.schema == nil || !r.schema.Known(sealed.ID) {
			reason = DropUnknownPacket
		}
		return r.drop(out, Drop{Reason: reason, ID: sealed.ID})
	}

	if err := e.deliver(sealed); err != nil {
		return r.drop(out, Drop{Reason: DropPayload, ID: sealed.ID, Err: err})
	}

	out.Delivered = true
	return out
}

func (r *Router) drop(out Outcome, d Drop) Outcome {
	out.Drop = &d
	if r.onDrop != nil {
		r.onDrop(d)
	}
	return out
}

// Subscribed returns the identities that have a bus, in ascending order.
func (r *Router) Subscribed() []protocol.ID {
	r.mu.Lock()
	ids := make([]protocol.ID, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Reset unsubscribes every subscriber and forgets every bus. Buses handed
// out before Reset no longer receive frames.
func (r *Router) Reset() {
	r.mu.Lock()
	entries := r.entries
	r.entries = nil
	r.mu.Unlock()

	for _, e := range entries {
		e.clear()
	}
}
