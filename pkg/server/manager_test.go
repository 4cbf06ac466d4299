package server

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/vango-dev/vsock/pkg/protocol"
	"github.com/vango-dev/vsock/pkg/socket"
)

// memTransport records writes and blocks reads until closed.
type memTransport struct {
	mu     sync.Mutex
	frames []string
	once   sync.Once
	done   chan struct{}
}

func newMemTransport() *memTransport {
	return &memTransport{done: make(chan struct{})}
}

func (m *memTransport) Write(_ context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = append(m.frames, string(data))
	return nil
}

func (m *memTransport) Read() ([]byte, error) {
	<-m.done
	return nil, socket.ErrClosed
}

func (m *memTransport) Close() error {
	m.once.Do(func() { close(m.done) })
	return nil
}

func (m *memTransport) written() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.frames...)
}

func TestConnManagerLifecycle(t *testing.T) {
	tp := newTestPackets("1")
	m := NewConnManager(2, nil)

	a := socket.NewConn(newMemTransport(), tp.schema, nil, nil)
	b := socket.NewConn(newMemTransport(), tp.schema, nil, nil)
	c := socket.NewConn(newMemTransport(), tp.schema, nil, nil)

	if err := m.Add(a); err != nil {
		t.Fatal(err)
	}
	if err := m.Add(b); err != nil {
		t.Fatal(err)
	}
	if err := m.Add(c); !errors.Is(err, ErrMaxConnectionsReached) {
		t.Fatalf("Add() over limit error = %v", err)
	}
	if m.Get(a.ID()) != a {
		t.Error("Get() did not return added connection")
	}

	a.Close()
	if m.Count() != 1 || m.Get(a.ID()) != nil {
		t.Errorf("closed connection still tracked, count=%d", m.Count())
	}

	stats := m.Stats()
	if stats.Active != 1 || stats.TotalCreated != 2 || stats.TotalClosed != 1 || stats.Peak != 2 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestConnManagerAddClosed(t *testing.T) {
	tp := newTestPackets("1")
	m := NewConnManager(0, nil)

	c := socket.NewConn(newMemTransport(), tp.schema, nil, nil)
	c.Close()
	if err := m.Add(c); err != nil {
		t.Fatal(err)
	}
	if m.Count() != 0 {
		t.Errorf("Count() = %d, want 0 for closed connection", m.Count())
	}
}

func TestConnManagerBroadcast(t *testing.T) {
	tp := newTestPackets("1")
	m := NewConnManager(0, nil)

	var transports []*memTransport
	for i := 0; i < 3; i++ {
		tr := newMemTransport()
		transports = append(transports, tr)
		params := socket.Params{"room": "a"}
		if i == 2 {
			params["room"] = "b"
		}
		if err := m.Add(socket.NewConn(tr, tp.schema, params, nil)); err != nil {
			t.Fatal(err)
		}
	}

	inRoomA := func(c *socket.Conn) bool { return c.Params().Get("room") == "a" }
	if err := Broadcast(context.Background(), m, tp.echo, "hello", inRoomA); err != nil {
		t.Fatalf("Broadcast() error: %v", err)
	}
	if err := m.Broadcast(context.Background(), protocol.Bare(tp.ping.ID()), nil); err != nil {
		t.Fatalf("Broadcast(nil filter) error: %v", err)
	}

	for i, tr := range transports {
		got := tr.written()
		want := []string{`[1,"hello"]`, `0`}
		if i == 2 {
			want = []string{`0`}
		}
		if len(got) != len(want) {
			t.Fatalf("transport %d frames = %v, want %v", i, got, want)
		}
		for j := range want {
			if got[j] != want[j] {
				t.Errorf("transport %d frame %d = %s, want %s", i, j, got[j], want[j])
			}
		}
	}
}

func TestConnManagerShutdown(t *testing.T) {
	tp := newTestPackets("1")
	m := NewConnManager(0, nil)

	var conns []*socket.Conn
	for i := 0; i < 3; i++ {
		c := socket.NewConn(newMemTransport(), tp.schema, nil, nil)
		conns = append(conns, c)
		m.Add(c)
	}

	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	for _, c := range conns {
		if !c.IsClosed() {
			t.Errorf("conn %s not closed", c.ID())
		}
	}
	if err := m.Reserve(); !errors.Is(err, ErrServerClosed) {
		t.Errorf("Reserve() after shutdown = %v", err)
	}
	if err := m.Add(socket.NewConn(newMemTransport(), tp.schema, nil, nil)); !errors.Is(err, ErrServerClosed) {
		t.Errorf("Add() after shutdown = %v", err)
	}
}
