// Package event provides Bus, an ordered multi-subscriber notification
// channel.
//
// A Bus delivers every emitted value to its subscribers synchronously, in
// subscription order. Emission works on a copy of the subscriber list, so a
// callback that subscribes or unsubscribes while a value is being delivered
// only changes what later emissions see:
//
//	bus := event.New[string]()
//	sub := bus.Subscribe(func(s string) { fmt.Println("got", s) })
//	bus.Emit("hello")
//	bus.Unsubscribe(sub)
//
// Subscribers are not isolated from each other. A callback that panics stops
// delivery to the remaining subscribers of that emission and the panic
// propagates to the caller of Emit.
package event

import "sync"

// Subscription identifies one registration on a Bus.
// Subscribing the same function twice yields two distinct subscriptions.
type Subscription struct {
	seq uint64
}

// Bus is an ordered list of subscriber callbacks for values of type T.
// The zero value is ready to use.
type Bus[T any] struct {
	mu   sync.Mutex
	seq  uint64
	subs []*subscriber[T]
}

type subscriber[T any] struct {
	handle *Subscription
	fn     func(T)
}

// New creates an empty Bus.
func New[T any]() *Bus[T] {
	return &Bus[T]{}
}

// Subscribe appends fn to the subscriber list and returns its handle.
func (b *Bus[T]) Subscribe(fn func(T)) *Subscription {
	b.mu.Lock()
	b.seq++
	s := &subscriber[T]{handle: &Subscription{seq: b.seq}, fn: fn}
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	return s.handle
}

// Unsubscribe removes the first registration matching sub.
// It is a no-op if sub is nil or not subscribed.
func (b *Bus[T]) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subs {
		if s.handle == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Emit delivers v to a snapshot of the current subscribers, in order.
func (b *Bus[T]) Emit(v T) {
	b.mu.Lock()
	snapshot := make([]*subscriber[T], len(b.subs))
	copy(snapshot, b.subs)
	b.mu.Unlock()

	for _, s := range snapshot {
		s.fn(v)
	}
}

// Len returns the number of registrations.
func (b *Bus[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Clear removes every subscriber.
func (b *Bus[T]) Clear() {
	b.mu.Lock()
	b.subs = nil
	b.mu.Unlock()
}
