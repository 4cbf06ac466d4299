package socket

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is the raw frame transport under a Conn.
type Transport interface {
	// Write sends one text frame.
	Write(ctx context.Context, data []byte) error

	// Read blocks until the next frame arrives.
	Read() ([]byte, error)

	// Close tears the transport down. It is safe to call more than once.
	Close() error
}

// wsTransport implements Transport on a gorilla/websocket connection.
type wsTransport struct {
	conn   *websocket.Conn
	config *Config

	// gorilla allows one concurrent writer; writes and pings share mu.
	mu     sync.Mutex
	closed atomic.Bool
	done   chan struct{}
}

// NewWebSocketTransport wraps ws. It applies the read limit and, when
// PingInterval is set, starts a keepalive goroutine that lives until Close.
func NewWebSocketTransport(ws *websocket.Conn, config *Config) Transport {
	config = config.withDefaults()

	t := &wsTransport{
		conn:   ws,
		config: config,
		done:   make(chan struct{}),
	}

	ws.SetReadLimit(config.MaxMessageSize)
	if config.PingInterval > 0 {
		ws.SetReadDeadline(time.Now().Add(config.PongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(config.PongWait))
		})
		go t.pingLoop()
	}

	return t
}

func (t *wsTransport) Write(ctx context.Context, data []byte) error {
	if t.closed.Load() {
		return ErrClosed
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	deadline := time.Now().Add(t.config.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	t.conn.SetWriteDeadline(deadline)

	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		if t.closed.Load() {
			return ErrClosed
		}
		return err
	}
	return nil
}

func (t *wsTransport) Read() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		if t.closed.Load() {
			return nil, ErrClosed
		}
		return nil, err
	}
	if t.config.PingInterval > 0 {
		t.conn.SetReadDeadline(time.Now().Add(t.config.PongWait))
	}
	return data, nil
}

func (t *wsTransport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	close(t.done)

	t.mu.Lock()
	t.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	t.mu.Unlock()

	return t.conn.Close()
}

// pingLoop sends keepalive pings until the transport closes.
func (t *wsTransport) pingLoop() {
	ticker := time.NewTicker(t.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.mu.Lock()
			err := t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.config.WriteTimeout))
			t.mu.Unlock()
			if err != nil {
				return
			}

		case <-t.done:
			return
		}
	}
}

// isNormalClose reports whether err is the expected end of a connection.
func isNormalClose(err error) bool {
	if err == nil || errors.Is(err, ErrClosed) {
		return true
	}
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived)
}
