package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/vango-dev/vsock/pkg/protocol"
	"github.com/vango-dev/vsock/pkg/socket"
)

// Handler is called once for every accepted connection, before its read
// loop starts. Params hold the query parameters of the upgrade request,
// without the socket.SchemaParam fingerprint.
type Handler func(c *socket.Conn, params socket.Params)

// SchemaObserver is implemented by middleware that counts schema
// fingerprint mismatches.
type SchemaObserver interface {
	SchemaMismatch(remote, local string)
}

// Server accepts WebSocket connections for one packet schema.
type Server struct {
	schema  *protocol.Schema
	handler Handler
	config  *ServerConfig

	upgrader   websocket.Upgrader
	conns      *ConnManager
	middleware []socket.Middleware

	// Connections are served under baseCtx; Shutdown cancels it.
	baseCtx context.Context
	cancel  context.CancelFunc

	mu         sync.Mutex
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a Server. A nil config uses DefaultServerConfig.
func New(schema *protocol.Schema, handler Handler, config *ServerConfig) *Server {
	config = withDefaults(config)

	base := config.ConnConfig.Logger
	if base == nil {
		base = slog.Default()
	}
	logger := base.With("component", "server")

	if err := config.ValidateConfig(); err != nil {
		logger.Error("config validation failed", "error", err)
	}
	if schema != nil && !schema.Frozen() {
		logger.Warn("schema is not frozen; define every packet before serving", "schema", schema.Name())
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		schema:  schema,
		handler: handler,
		config:  config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		conns:   NewConnManager(config.MaxConnections, base),
		baseCtx: ctx,
		cancel:  cancel,
		logger:  logger,
	}
}

// Use adds connection middleware. It must be called before serving.
func (s *Server) Use(mws ...socket.Middleware) {
	s.middleware = append(s.middleware, mws...)
}

// Schema returns the server schema.
func (s *Server) Schema() *protocol.Schema { return s.schema }

// Conns returns the connection manager.
func (s *Server) Conns() *ConnManager { return s.conns }

// Config returns the server configuration.
func (s *Server) Config() *ServerConfig { return s.config }

// Logger returns the server logger.
func (s *Server) Logger() *slog.Logger { return s.logger }

// ServeHTTP upgrades the request and serves the connection until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := s.conns.Reserve(); err != nil {
		s.logger.Warn("connection refused", "error", err, "remote", r.RemoteAddr)
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	params := socket.ParamsFromQuery(r.URL.Query())

	if remote := params.Get(socket.SchemaParam); remote != "" && s.schema != nil {
		if local := s.schema.Fingerprint(); remote != local {
			s.logger.Warn("schema fingerprint mismatch",
				"remote", remote,
				"local", local,
				"remote_addr", r.RemoteAddr)
			for _, mw := range s.middleware {
				if o, ok := mw.(SchemaObserver); ok {
					o.SchemaMismatch(remote, local)
				}
			}
			if s.config.RejectSchemaMismatch {
				http.Error(w, socket.ErrSchemaMismatch.Error(), http.StatusConflict)
				return
			}
		}
	}
	delete(params, socket.SchemaParam)

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := socket.NewConn(
		socket.NewWebSocketTransport(ws, s.config.ConnConfig),
		s.schema,
		params,
		s.config.ConnConfig,
		s.middleware...,
	)
	if err := s.conns.Add(c); err != nil {
		s.logger.Warn("connection refused", "error", err, "conn_id", c.ID())
		c.Close()
		return
	}

	if !s.accept(c, params) {
		return
	}

	if err := c.Serve(s.baseCtx); err != nil && !errors.Is(err, context.Canceled) {
		c.Logger().Warn("connection ended", "error", err)
	}
}

// accept runs the handler, closing the connection if it panics.
func (s *Server) accept(c *socket.Conn, params socket.Params) (ok bool) {
	defer func() {
		if v := recover(); v != nil {
			c.Logger().Error("connection handler panic", "panic", v)
			c.Close()
			ok = false
		}
	}()

	c.Logger().Debug("connection accepted", "params", len(params))
	if s.handler != nil {
		s.handler(c, params)
	}
	return true
}

// Run listens on config.Address and calls Serve.
func (s *Server) Run(ctx context.Context, handler http.Handler) error {
	if err := s.config.ValidateConfig(); err != nil {
		return err
	}
	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln, handler)
}

// Serve serves handler on ln until ctx is done, then shuts the server
// down. A nil handler serves only the WebSocket endpoint at config.Path.
// It returns early if the listener fails.
func (s *Server) Serve(ctx context.Context, ln net.Listener, handler http.Handler) error {
	if handler == nil {
		mux := http.NewServeMux()
		mux.Handle(s.config.Path, s)
		handler = mux
	}

	hs := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
	}
	s.mu.Lock()
	s.httpServer = hs
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "address", ln.Addr().String(), "path", s.config.Path)
		errCh <- hs.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down...")
	return s.Shutdown(context.Background())
}

// Shutdown closes every connection and then, if Serve started one, the
// HTTP server. Sockets are closed first because http.Server.Shutdown does
// not wait for hijacked connections.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	err := s.conns.Shutdown(ctx)
	s.cancel()

	s.mu.Lock()
	hs := s.httpServer
	s.mu.Unlock()

	if hs != nil {
		if herr := hs.Shutdown(ctx); herr != nil {
			s.logger.Error("shutdown error", "error", herr)
			return herr
		}
	}

	s.logger.Info("server shutdown complete")
	return err
}
