package server

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vango-dev/vsock/pkg/protocol"
	"github.com/vango-dev/vsock/pkg/socket"
)

type testPackets struct {
	schema *protocol.Schema
	ping   protocol.Packet[protocol.None]
	echo   protocol.Packet[string]
}

func newTestPackets(version string) testPackets {
	s := protocol.NewSchema("test", version)
	tp := testPackets{
		schema: s,
		ping:   protocol.Define[protocol.None](s, "ping"),
		echo:   protocol.Define[string](s, "echo"),
	}
	s.Freeze()
	return tp
}

func wsURL(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

func testConnConfig() *socket.Config {
	return &socket.Config{WriteTimeout: time.Second}
}

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
	var zero T
	return zero
}

func TestServerPassesParams(t *testing.T) {
	tp := newTestPackets("1")
	got := make(chan socket.Params, 1)

	srv := New(tp.schema, func(c *socket.Conn, params socket.Params) {
		got <- params
	}, &ServerConfig{ConnConfig: testConnConfig()})
	ts := httptest.NewServer(srv)
	defer ts.Close()
	defer srv.Shutdown(context.Background())

	c, err := socket.Dial(context.Background(), wsURL(ts, "/socket?room=42&name=ava"), tp.schema, testConnConfig())
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer c.Close()

	params := waitFor(t, got)
	if len(params) != 2 || params["room"] != "42" || params["name"] != "ava" {
		t.Errorf("params = %v", params)
	}
}

func TestServerEmptyParams(t *testing.T) {
	tp := newTestPackets("1")
	got := make(chan socket.Params, 1)

	srv := New(tp.schema, func(c *socket.Conn, params socket.Params) {
		got <- params
	}, &ServerConfig{ConnConfig: testConnConfig()})
	ts := httptest.NewServer(srv)
	defer ts.Close()
	defer srv.Shutdown(context.Background())

	c, err := socket.Dial(context.Background(), wsURL(ts, "/socket"), tp.schema, testConnConfig())
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer c.Close()

	if params := waitFor(t, got); params == nil || len(params) != 0 {
		t.Errorf("params = %#v, want empty map", params)
	}
}

func TestServerStripsSchemaParam(t *testing.T) {
	tp := newTestPackets("1")
	got := make(chan socket.Params, 1)

	srv := New(tp.schema, func(c *socket.Conn, params socket.Params) {
		got <- params
	}, &ServerConfig{ConnConfig: testConnConfig()})
	ts := httptest.NewServer(srv)
	defer ts.Close()
	defer srv.Shutdown(context.Background())

	cfg := testConnConfig()
	cfg.SendFingerprint = true
	c, err := socket.Dial(context.Background(), wsURL(ts, "/socket?room=42"), tp.schema, cfg)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer c.Close()

	params := waitFor(t, got)
	if _, ok := params[socket.SchemaParam]; ok {
		t.Errorf("handler params include %q: %v", socket.SchemaParam, params)
	}
	if len(params) != 1 || params["room"] != "42" {
		t.Errorf("params = %v, want only room", params)
	}
}

func TestServerSendOnAccept(t *testing.T) {
	tp := newTestPackets("1")

	srv := New(tp.schema, func(c *socket.Conn, _ socket.Params) {
		socket.Send(context.Background(), c, tp.echo, "welcome")
	}, &ServerConfig{ConnConfig: testConnConfig()})
	ts := httptest.NewServer(srv)
	defer ts.Close()
	defer srv.Shutdown(context.Background())

	for i := 0; i < 10; i++ {
		greetings := make(chan string, 1)
		cfg := testConnConfig()
		cfg.OnOpen = func(c *socket.Conn) {
			socket.Receive(c, tp.echo).Subscribe(func(s string) { greetings <- s })
		}

		c, err := socket.Dial(context.Background(), wsURL(ts, "/socket"), tp.schema, cfg)
		if err != nil {
			t.Fatalf("Dial() error: %v", err)
		}
		// Work done after Dial must not cost the greeting.
		time.Sleep(5 * time.Millisecond)

		if got := waitFor(t, greetings); got != "welcome" {
			t.Errorf("greeting = %q", got)
		}
		c.Close()
	}
}

func TestServerEchoRoundTrip(t *testing.T) {
	tp := newTestPackets("1")

	srv := New(tp.schema, func(c *socket.Conn, _ socket.Params) {
		socket.Receive(c, tp.ping).Subscribe(func(protocol.None) {
			socket.Notify(context.Background(), c, tp.ping)
		})
		socket.Receive(c, tp.echo).Subscribe(func(s string) {
			socket.Send(context.Background(), c, tp.echo, "echo: "+s)
		})
	}, &ServerConfig{ConnConfig: testConnConfig()})
	ts := httptest.NewServer(srv)
	defer ts.Close()
	defer srv.Shutdown(context.Background())

	c, err := socket.Dial(context.Background(), wsURL(ts, "/socket"), tp.schema, testConnConfig())
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer c.Close()

	pongs := make(chan struct{}, 1)
	echoes := make(chan string, 1)
	socket.Receive(c, tp.ping).Subscribe(func(protocol.None) { pongs <- struct{}{} })
	socket.Receive(c, tp.echo).Subscribe(func(s string) { echoes <- s })

	ctx := context.Background()
	if err := socket.Notify(ctx, c, tp.ping); err != nil {
		t.Fatal(err)
	}
	waitFor(t, pongs)

	if err := socket.Send(ctx, c, tp.echo, "hi"); err != nil {
		t.Fatal(err)
	}
	if got := waitFor(t, echoes); got != "echo: hi" {
		t.Errorf("echo = %q", got)
	}
}

func TestServerRawWireFrames(t *testing.T) {
	tp := newTestPackets("1")
	echoes := make(chan string, 4)

	srv := New(tp.schema, func(c *socket.Conn, _ socket.Params) {
		socket.Receive(c, tp.echo).Subscribe(func(s string) { echoes <- s })
	}, &ServerConfig{ConnConfig: testConnConfig()})
	ts := httptest.NewServer(srv)
	defer ts.Close()
	defer srv.Shutdown(context.Background())

	ws, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/socket"), nil)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer ws.Close()

	// Malformed frames are dropped without closing the connection.
	for _, frame := range []string{`{oops`, `[1]`, `[1,"hi"]`} {
		if err := ws.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			t.Fatal(err)
		}
	}
	if got := waitFor(t, echoes); got != "hi" {
		t.Errorf("echo = %q, want hi", got)
	}
}

func TestServerSchemaMismatch(t *testing.T) {
	server := newTestPackets("1")
	client := newTestPackets("2")

	t.Run("rejected", func(t *testing.T) {
		srv := New(server.schema, nil, &ServerConfig{
			ConnConfig:           testConnConfig(),
			RejectSchemaMismatch: true,
		})
		ts := httptest.NewServer(srv)
		defer ts.Close()

		cfg := testConnConfig()
		cfg.SendFingerprint = true
		_, err := socket.Dial(context.Background(), wsURL(ts, "/socket"), client.schema, cfg)
		if !errors.Is(err, socket.ErrSchemaMismatch) {
			t.Fatalf("Dial() error = %v, want ErrSchemaMismatch", err)
		}
	})

	t.Run("observed", func(t *testing.T) {
		obs := &mismatchObserver{}
		accepted := make(chan struct{}, 1)
		srv := New(server.schema, func(*socket.Conn, socket.Params) {
			accepted <- struct{}{}
		}, &ServerConfig{ConnConfig: testConnConfig()})
		srv.Use(obs)
		ts := httptest.NewServer(srv)
		defer ts.Close()
		defer srv.Shutdown(context.Background())

		cfg := testConnConfig()
		cfg.SendFingerprint = true
		c, err := socket.Dial(context.Background(), wsURL(ts, "/socket"), client.schema, cfg)
		if err != nil {
			t.Fatalf("Dial() error: %v", err)
		}
		defer c.Close()

		waitFor(t, accepted)
		if obs.count() != 1 {
			t.Errorf("mismatches = %d, want 1", obs.count())
		}
	})

	t.Run("matching", func(t *testing.T) {
		srv := New(server.schema, nil, &ServerConfig{
			ConnConfig:           testConnConfig(),
			RejectSchemaMismatch: true,
		})
		ts := httptest.NewServer(srv)
		defer ts.Close()
		defer srv.Shutdown(context.Background())

		cfg := testConnConfig()
		cfg.SendFingerprint = true
		same := newTestPackets("1")
		c, err := socket.Dial(context.Background(), wsURL(ts, "/socket"), same.schema, cfg)
		if err != nil {
			t.Fatalf("Dial() error: %v", err)
		}
		c.Close()
	})
}

type mismatchObserver struct {
	socket.MiddlewareFuncs
	mu sync.Mutex
	n  int
}

func (o *mismatchObserver) SchemaMismatch(remote, local string) {
	o.mu.Lock()
	o.n++
	o.mu.Unlock()
}

func (o *mismatchObserver) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.n
}

func TestServerMaxConnections(t *testing.T) {
	tp := newTestPackets("1")
	accepted := make(chan struct{}, 1)
	srv := New(tp.schema, func(*socket.Conn, socket.Params) {
		accepted <- struct{}{}
	}, &ServerConfig{ConnConfig: testConnConfig(), MaxConnections: 1})
	ts := httptest.NewServer(srv)
	defer ts.Close()
	defer srv.Shutdown(context.Background())

	first, err := socket.Dial(context.Background(), wsURL(ts, "/socket"), tp.schema, testConnConfig())
	if err != nil {
		t.Fatalf("first Dial() error: %v", err)
	}
	defer first.Close()
	waitFor(t, accepted)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, "/socket"), nil)
	if err == nil {
		t.Fatal("second connection should be refused")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("response = %v, want 503", resp)
	}
}

func TestServerShutdownClosesConnections(t *testing.T) {
	tp := newTestPackets("1")
	accepted := make(chan struct{}, 1)
	srv := New(tp.schema, func(*socket.Conn, socket.Params) {
		accepted <- struct{}{}
	}, &ServerConfig{ConnConfig: testConnConfig()})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	c, err := socket.Dial(context.Background(), wsURL(ts, "/socket"), tp.schema, testConnConfig())
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	waitFor(t, accepted)

	if n := srv.Conns().Count(); n != 1 {
		t.Fatalf("Count() = %d, want 1", n)
	}

	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client connection not closed after server shutdown")
	}
	if n := srv.Conns().Count(); n != 0 {
		t.Errorf("Count() after shutdown = %d", n)
	}
}

func TestServerHandlerPanicClosesConn(t *testing.T) {
	tp := newTestPackets("1")
	srv := New(tp.schema, func(*socket.Conn, socket.Params) {
		panic("handler failed")
	}, &ServerConfig{ConnConfig: testConnConfig()})
	ts := httptest.NewServer(srv)
	defer ts.Close()
	defer srv.Shutdown(context.Background())

	c, err := socket.Dial(context.Background(), wsURL(ts, "/socket"), tp.schema, testConnConfig())
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client connection not closed after handler panic")
	}
}

func TestValidateConfig(t *testing.T) {
	cfg := DefaultServerConfig()
	if err := cfg.ValidateConfig(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	cfg.MaxConnections = -1
	if err := cfg.ValidateConfig(); err == nil {
		t.Error("negative MaxConnections should be invalid")
	}

	cfg = DefaultServerConfig()
	cfg.Path = "socket"
	if err := cfg.ValidateConfig(); err == nil {
		t.Error("relative Path should be invalid")
	}
}

func TestServerServeAndShutdown(t *testing.T) {
	tp := newTestPackets("1")
	accepted := make(chan struct{}, 1)
	srv := New(tp.schema, func(*socket.Conn, socket.Params) {
		accepted <- struct{}{}
	}, &ServerConfig{ConnConfig: testConnConfig()})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx, ln, nil) }()

	c, err := socket.Dial(context.Background(), "ws://"+ln.Addr().String()+"/socket", tp.schema, testConnConfig())
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	waitFor(t, accepted)

	cancel()
	if err := waitFor(t, served); err != nil {
		t.Errorf("Serve() error: %v", err)
	}
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client connection not closed after shutdown")
	}
	if n := srv.Conns().Count(); n != 0 {
		t.Errorf("Count() after shutdown = %d", n)
	}
	if _, err := net.DialTimeout("tcp", ln.Addr().String(), 200*time.Millisecond); err == nil {
		t.Error("listener still accepting after shutdown")
	}
}

func TestServerServeHandler(t *testing.T) {
	tp := newTestPackets("1")
	srv := New(tp.schema, nil, &ServerConfig{ConnConfig: testConnConfig()})

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.Handle("/ws", srv)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx, ln, mux) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /healthz status = %d", resp.StatusCode)
	}

	c, err := socket.Dial(context.Background(), "ws://"+ln.Addr().String()+"/ws", tp.schema, testConnConfig())
	if err != nil {
		t.Fatalf("Dial(/ws) error: %v", err)
	}
	defer c.Close()

	cancel()
	if err := waitFor(t, served); err != nil {
		t.Errorf("Serve() error: %v", err)
	}
}

func TestServerRunInvalidConfig(t *testing.T) {
	tp := newTestPackets("1")
	srv := New(tp.schema, nil, &ServerConfig{ConnConfig: testConnConfig(), Path: "socket"})

	if err := srv.Run(context.Background(), nil); err == nil {
		t.Fatal("Run() with an invalid path should fail")
	}
}

func TestServerLogsComponentOnce(t *testing.T) {
	var buf bytes.Buffer
	cfg := testConnConfig()
	cfg.Logger = slog.New(slog.NewTextHandler(&buf, nil))

	srv := New(newTestPackets("1").schema, nil, &ServerConfig{ConnConfig: cfg})
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}

	var seen int
	for _, line := range strings.Split(buf.String(), "\n") {
		if !strings.Contains(line, "connection manager shutdown") {
			continue
		}
		seen++
		if n := strings.Count(line, "component="); n != 1 {
			t.Errorf("component key appears %d times: %s", n, line)
		}
		if !strings.Contains(line, "component=conn_manager") {
			t.Errorf("missing component=conn_manager: %s", line)
		}
	}
	if seen != 1 {
		t.Errorf("manager shutdown lines = %d, want 1\n%s", seen, buf.String())
	}
}
