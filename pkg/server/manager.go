package server

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/vango-dev/vsock/pkg/protocol"
	"github.com/vango-dev/vsock/pkg/socket"
	"golang.org/x/sync/errgroup"
)

// ConnManager tracks the live connections of a server.
type ConnManager struct {
	mu     sync.RWMutex
	conns  map[string]*socket.Conn
	closed bool

	// Limits
	maxConns int

	// Metrics
	totalCreated atomic.Uint64
	totalClosed  atomic.Uint64
	peak         int

	logger *slog.Logger
}

// NewConnManager creates a ConnManager. maxConns of 0 means no limit.
func NewConnManager(maxConns int, logger *slog.Logger) *ConnManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConnManager{
		conns:    make(map[string]*socket.Conn),
		maxConns: maxConns,
		logger:   logger.With("component", "conn_manager"),
	}
}

// Reserve checks that one more connection may be added.
func (m *ConnManager) Reserve() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrServerClosed
	}
	if m.maxConns > 0 && len(m.conns) >= m.maxConns {
		return ErrMaxConnectionsReached
	}
	return nil
}

// Add tracks c until it closes.
func (m *ConnManager) Add(c *socket.Conn) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrServerClosed
	}
	if m.maxConns > 0 && len(m.conns) >= m.maxConns {
		m.mu.Unlock()
		return ErrMaxConnectionsReached
	}
	m.conns[c.ID()] = c
	if len(m.conns) > m.peak {
		m.peak = len(m.conns)
	}
	m.mu.Unlock()

	m.totalCreated.Add(1)
	c.Closed().Subscribe(func(error) {
		m.remove(c.ID())
	})
	if c.IsClosed() {
		m.remove(c.ID())
	}
	return nil
}

func (m *ConnManager) remove(id string) {
	m.mu.Lock()
	_, ok := m.conns[id]
	delete(m.conns, id)
	m.mu.Unlock()

	if ok {
		m.totalClosed.Add(1)
	}
}

// Get returns the connection with id, or nil.
func (m *ConnManager) Get(id string) *socket.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conns[id]
}

// Count returns the number of live connections.
func (m *ConnManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// ForEach iterates over a snapshot of the live connections until fn
// returns false.
func (m *ConnManager) ForEach(fn func(*socket.Conn) bool) {
	for _, c := range m.snapshot() {
		if !fn(c) {
			return
		}
	}
}

func (m *ConnManager) snapshot() []*socket.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conns := make([]*socket.Conn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	return conns
}

// Broadcast sends s to every live connection for which filter returns true.
// A nil filter selects all. Every connection is attempted; the first send
// error is returned.
func (m *ConnManager) Broadcast(ctx context.Context, s protocol.Sealed, filter func(*socket.Conn) bool) error {
	var g errgroup.Group
	for _, c := range m.snapshot() {
		if filter != nil && !filter(c) {
			continue
		}
		g.Go(func() error {
			return c.SendSealed(ctx, s)
		})
	}
	return g.Wait()
}

// Broadcast seals v as packet p and sends it to every live connection
// selected by filter.
func Broadcast[T any](ctx context.Context, m *ConnManager, p protocol.Packet[T], v T, filter func(*socket.Conn) bool) error {
	sealed, err := protocol.Seal(p, v)
	if err != nil {
		return err
	}
	return m.Broadcast(ctx, sealed, filter)
}

// Shutdown stops accepting connections and closes every live one.
func (m *ConnManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	conns := m.snapshot()

	g, ctx := errgroup.WithContext(ctx)
	for _, c := range conns {
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			return c.Close()
		})
	}
	err := g.Wait()

	m.logger.Info("connection manager shutdown", "closed_connections", len(conns))
	return err
}

// ManagerStats contains aggregated connection statistics.
type ManagerStats struct {
	Active       int
	TotalCreated uint64
	TotalClosed  uint64
	Peak         int
}

// Stats returns aggregated connection statistics.
func (m *ConnManager) Stats() ManagerStats {
	m.mu.RLock()
	active := len(m.conns)
	peak := m.peak
	m.mu.RUnlock()

	return ManagerStats{
		Active:       active,
		TotalCreated: m.totalCreated.Load(),
		TotalClosed:  m.totalClosed.Load(),
		Peak:         peak,
	}
}
