package socket

import (
	"context"

	"github.com/vango-dev/vsock/pkg/protocol"
	"github.com/vango-dev/vsock/pkg/router"
)

// FrameFunc handles one inbound frame of c.
type FrameFunc func(ctx context.Context, c *Conn, data []byte) router.Outcome

// SendFunc writes one sealed packet to c.
type SendFunc func(ctx context.Context, c *Conn, s protocol.Sealed) error

// Middleware wraps frame handling and sending of every Conn it is
// installed on. The first middleware in a list is the outermost.
type Middleware interface {
	Frame(next FrameFunc) FrameFunc
	Send(next SendFunc) SendFunc
}

// ConnObserver is implemented by middleware that tracks connection
// lifetimes.
type ConnObserver interface {
	ConnOpened(c *Conn)
	ConnClosed(c *Conn, cause error)
}

// MiddlewareFuncs adapts plain functions to Middleware. Nil fields pass
// through.
type MiddlewareFuncs struct {
	FrameFunc func(next FrameFunc) FrameFunc
	SendFunc  func(next SendFunc) SendFunc
}

// Frame implements Middleware.
func (m MiddlewareFuncs) Frame(next FrameFunc) FrameFunc {
	if m.FrameFunc == nil {
		return next
	}
	return m.FrameFunc(next)
}

// Send implements Middleware.
func (m MiddlewareFuncs) Send(next SendFunc) SendFunc {
	if m.SendFunc == nil {
		return next
	}
	return m.SendFunc(next)
}

func chainFrame(base FrameFunc, mws []Middleware) FrameFunc {
	h := base
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i].Frame(h)
	}
	return h
}

func chainSend(base SendFunc, mws []Middleware) SendFunc {
	h := base
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i].Send(h)
	}
	return h
}
