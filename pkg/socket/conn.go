package socket

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/vango-dev/vsock/pkg/event"
	"github.com/vango-dev/vsock/pkg/protocol"
	"github.com/vango-dev/vsock/pkg/router"
)

// Params are the connection parameters parsed from the query string of the
// URL a connection was opened with. They are never modified after the
// connection is created.
type Params map[string]string

// Get returns the value for key, or "" if absent.
func (p Params) Get(key string) string {
	return p[key]
}

// Conn is one side of a packet connection.
type Conn struct {
	id        string
	params    Params
	schema    *protocol.Schema
	transport Transport
	router    *router.Router
	logger    *slog.Logger

	middleware []Middleware
	frame      FrameFunc
	send       SendFunc

	closed    *event.Bus[error]
	done      chan struct{}
	closeOnce sync.Once
	isClosed  atomic.Bool
	cause     error
	causeMu   sync.Mutex
}

// NewConn creates a Conn over t. The read loop is not started; call Serve.
func NewConn(t Transport, schema *protocol.Schema, params Params, config *Config, mws ...Middleware) *Conn {
	config = config.withDefaults()
	if params == nil {
		params = Params{}
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Conn{
		id:         uuid.NewString(),
		params:     params,
		schema:     schema,
		transport:  t,
		middleware: mws,
		closed:     event.New[error](),
		done:       make(chan struct{}),
	}
	c.logger = logger.With("component", "socket", "conn_id", c.id)
	c.router = router.New(schema, router.WithDropHook(c.logDrop))
	c.frame = chainFrame(baseFrame, mws)
	c.send = chainSend(baseSend, mws)

	for _, mw := range mws {
		if o, ok := mw.(ConnObserver); ok {
			o.ConnOpened(c)
		}
	}

	return c
}

// ID returns the connection's unique identifier.
func (c *Conn) ID() string { return c.id }

// Params returns the connection parameters.
func (c *Conn) Params() Params { return c.params }

// Schema returns the packet schema the connection speaks.
func (c *Conn) Schema() *protocol.Schema { return c.schema }

// Router returns the connection's router.
func (c *Conn) Router() *router.Router { return c.router }

// Logger returns the connection logger.
func (c *Conn) Logger() *slog.Logger { return c.logger }

// Closed returns the bus emitted once when the connection closes. The value
// is the cause, nil for a normal close.
func (c *Conn) Closed() *event.Bus[error] { return c.closed }

// Done returns a channel closed when the connection closes.
func (c *Conn) Done() <-chan struct{} { return c.done }

// IsClosed reports whether the connection has been closed.
func (c *Conn) IsClosed() bool { return c.isClosed.Load() }

// Err returns the close cause, nil while open or after a normal close.
func (c *Conn) Err() error {
	c.causeMu.Lock()
	defer c.causeMu.Unlock()
	return c.cause
}

// Close closes the connection. Calling Close more than once is a no-op.
func (c *Conn) Close() error {
	return c.closeWith(nil)
}

func (c *Conn) closeWith(cause error) error {
	var err error
	c.closeOnce.Do(func() {
		c.isClosed.Store(true)
		if isNormalClose(cause) {
			cause = nil
		}
		c.causeMu.Lock()
		c.cause = cause
		c.causeMu.Unlock()

		err = c.transport.Close()
		close(c.done)

		if cause != nil {
			c.logger.Info("connection closed", "cause", cause)
		} else {
			c.logger.Debug("connection closed")
		}

		for _, mw := range c.middleware {
			if o, ok := mw.(ConnObserver); ok {
				o.ConnClosed(c, cause)
			}
		}
		c.closed.Emit(cause)
	})
	return err
}

// Serve runs the read loop until the connection closes or ctx is done.
// It returns nil when the connection ends normally, otherwise the close
// cause.
func (c *Conn) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		c.closeWith(ctx.Err())
	})
	defer stop()

	for {
		data, err := c.transport.Read()
		if err != nil {
			c.closeWith(err)
			return c.Err()
		}

		if err := c.handle(ctx, data); err != nil {
			c.closeWith(err)
			return err
		}
	}
}

// handle routes one frame, turning a subscriber panic into an error.
func (c *Conn) handle(ctx context.Context, data []byte) (err error) {
	defer func() {
		if v := recover(); v != nil {
			stack := debug.Stack()
			c.logger.Error("subscriber panic", "panic", v, "stack", string(stack))
			err = &SubscriberPanicError{ConnID: c.id, Panic: v, Stack: stack}
		}
	}()

	c.frame(ctx, c, data)
	return nil
}

func baseFrame(_ context.Context, c *Conn, data []byte) router.Outcome {
	return c.router.HandleFrame(data)
}

func (c *Conn) logDrop(d router.Drop) {
	if d.Err != nil {
		c.logger.Debug("frame dropped", "reason", d.Reason, "packet", d.ID, "error", d.Err)
		return
	}
	c.logger.Debug("frame dropped", "reason", d.Reason, "packet", d.ID)
}

// SendSealed writes a sealed packet.
func (c *Conn) SendSealed(ctx context.Context, s protocol.Sealed) error {
	if c.IsClosed() {
		return ErrClosed
	}
	return c.send(ctx, c, s)
}

func baseSend(ctx context.Context, c *Conn, s protocol.Sealed) error {
	data, err := s.Encode()
	if err != nil {
		return &ConnError{ConnID: c.id, Op: "encode", Err: err}
	}
	return c.transport.Write(ctx, data)
}

// Send seals v as packet p and writes it to c.
func Send[T any](ctx context.Context, c *Conn, p protocol.Packet[T], v T) error {
	sealed, err := protocol.Seal(p, v)
	if err != nil {
		return &ConnError{ConnID: c.id, Op: "seal", Err: err}
	}
	return c.SendSealed(ctx, sealed)
}

// Notify sends a packet without payload.
func Notify(ctx context.Context, c *Conn, p protocol.Packet[protocol.None]) error {
	return c.SendSealed(ctx, protocol.Bare(p.ID()))
}

// Receive returns the bus for packet p on c, creating it on first use.
func Receive[T any](c *Conn, p protocol.Packet[T]) *event.Bus[T] {
	return router.Receive(c.router, p)
}
