package demo

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vango-dev/vsock/pkg/protocol"
	"github.com/vango-dev/vsock/pkg/server"
	"github.com/vango-dev/vsock/pkg/socket"
)

func startServer(t *testing.T, p *Packets) string {
	t.Helper()
	svc := NewService(p, nil)
	srv := server.New(p.Schema, svc.Handle, &server.ServerConfig{
		ConnConfig:           &socket.Config{WriteTimeout: time.Second},
		RejectSchemaMismatch: true,
	})
	svc.Bind(srv.Conns())

	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		srv.Shutdown(context.Background())
		ts.Close()
	})
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/socket"
}

func dial(t *testing.T, url string, p *Packets, onOpen ...func(*socket.Conn)) *socket.Conn {
	t.Helper()
	cfg := &socket.Config{
		WriteTimeout:    time.Second,
		SendFingerprint: true,
	}
	if len(onOpen) > 0 {
		cfg.OnOpen = onOpen[0]
	}
	c, err := socket.Dial(context.Background(), url, p.Schema, cfg)
	if err != nil {
		t.Fatalf("Dial(%s) error: %v", url, err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func collect[T any](c *socket.Conn, pkt protocol.Packet[T]) <-chan T {
	ch := make(chan T, 8)
	socket.Receive(c, pkt).Subscribe(func(v T) { ch <- v })
	return ch
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for packet")
	}
	var zero T
	return zero
}

func TestNewPackets(t *testing.T) {
	a, b := NewPackets(), NewPackets()
	if !a.Schema.Frozen() {
		t.Error("schema not frozen")
	}
	if a.Schema.Fingerprint() != b.Schema.Fingerprint() {
		t.Error("identically built schemas differ")
	}

	want := []string{"ping", "pong", "echo", "chat", "joined", "left"}
	ds := a.Schema.Descriptors()
	if len(ds) != len(want) {
		t.Fatalf("descriptors = %d, want %d", len(ds), len(want))
	}
	for i, d := range ds {
		if int(d.ID) != i || d.Name != want[i] {
			t.Errorf("descriptor %d = %+v, want %d %s", i, d, i, want[i])
		}
	}
	if !a.Ping.Bare() || !a.Pong.Bare() || a.Echo.Bare() {
		t.Error("unexpected bare flags")
	}
}

func TestPingEcho(t *testing.T) {
	p := NewPackets()
	c := dial(t, startServer(t, p), p)
	pongs := collect(c, p.Pong)
	echoes := collect(c, p.Echo)
	ctx := context.Background()

	if err := socket.Notify(ctx, c, p.Ping); err != nil {
		t.Fatalf("Notify() error: %v", err)
	}
	recv(t, pongs)

	if err := socket.Send(ctx, c, p.Echo, "hello"); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if got := recv(t, echoes); got != "hello" {
		t.Errorf("echo = %q, want hello", got)
	}
}

func TestChatRooms(t *testing.T) {
	p := NewPackets()
	url := startServer(t, p)
	ctx := context.Background()

	var (
		aliceChat   <-chan ChatMessage
		aliceJoined <-chan Presence
		aliceLeft   <-chan Presence
	)
	alice := dial(t, url+"?room=r1&name=alice", p, func(c *socket.Conn) {
		aliceChat = collect(c, p.Chat)
		aliceJoined = collect(c, p.Joined)
		aliceLeft = collect(c, p.Left)
	})

	// The join announcement is sent from the accept handler.
	joined := recv(t, aliceJoined)
	if joined.Name != "alice" || joined.Room != "r1" || joined.Members != 1 {
		t.Errorf("own join = %+v", joined)
	}

	bob := dial(t, url+"?room=r1&name=bob", p)
	bobChat := collect(bob, p.Chat)

	joined = recv(t, aliceJoined)
	if joined.Name != "bob" || joined.Room != "r1" || joined.Members != 2 {
		t.Errorf("joined = %+v", joined)
	}

	carol := dial(t, url+"?room=r2&name=carol", p)
	carolChat := collect(carol, p.Chat)
	carolEcho := collect(carol, p.Echo)

	if err := socket.Send(ctx, alice, p.Chat, ChatMessage{Text: "hi", From: "spoofed"}); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	want := ChatMessage{Room: "r1", From: "alice", Text: "hi"}
	if got := recv(t, bobChat); got != want {
		t.Errorf("bob got %+v, want %+v", got, want)
	}
	if got := recv(t, aliceChat); got != want {
		t.Errorf("alice got %+v, want %+v", got, want)
	}

	if err := socket.Send(ctx, carol, p.Echo, "sync"); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	recv(t, carolEcho)
	select {
	case msg := <-carolChat:
		t.Errorf("carol received chat from another room: %+v", msg)
	default:
	}

	bob.Close()
	left := recv(t, aliceLeft)
	if left.Name != "bob" || left.Members != 1 {
		t.Errorf("left = %+v", left)
	}
}

func TestDefaultRoomAndName(t *testing.T) {
	p := NewPackets()
	url := startServer(t, p)

	a := dial(t, url, p)
	chat := collect(a, p.Chat)

	if err := socket.Send(context.Background(), a, p.Chat, ChatMessage{Text: "x"}); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	got := recv(t, chat)
	if got.Room != DefaultRoom {
		t.Errorf("room = %q, want %q", got.Room, DefaultRoom)
	}
	if !strings.HasPrefix(got.From, "anon-") {
		t.Errorf("from = %q, want anon- prefix", got.From)
	}
}
