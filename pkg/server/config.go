package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/vango-dev/vsock/pkg/socket"
)

// ServerConfig holds configuration for the WebSocket server.
type ServerConfig struct {
	// Address is the address Run listens on (e.g., ":8080").
	// Default: ":8080".
	Address string

	// Path is the WebSocket endpoint Serve mounts when given no handler.
	// Default: "/socket".
	Path string

	// ReadBufferSize is the WebSocket read buffer size.
	// Default: 4096.
	ReadBufferSize int

	// WriteBufferSize is the WebSocket write buffer size.
	// Default: 4096.
	WriteBufferSize int

	// CheckOrigin is called to validate the request origin.
	// Default: allows all origins.
	CheckOrigin func(r *http.Request) bool

	// ConnConfig is the per-connection transport configuration.
	// Default: socket.DefaultConfig().
	ConnConfig *socket.Config

	// MaxConnections is the maximum number of live connections.
	// 0 means no limit.
	MaxConnections int

	// RejectSchemaMismatch refuses connections whose "schema" query
	// parameter differs from the server schema fingerprint.
	RejectSchemaMismatch bool

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	// Default: 30 seconds.
	ShutdownTimeout time.Duration

	// ReadHeaderTimeout bounds reading request headers in Serve.
	// Default: 5 seconds.
	ReadHeaderTimeout time.Duration
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Address:         ":8080",
		Path:            "/socket",
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
		ConnConfig:        socket.DefaultConfig(),
		ShutdownTimeout:   30 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// withDefaults fills unset fields of config in place and returns it.
func withDefaults(config *ServerConfig) *ServerConfig {
	defaults := DefaultServerConfig()
	if config == nil {
		return defaults
	}

	if config.Address == "" {
		config.Address = defaults.Address
	}
	if config.Path == "" {
		config.Path = defaults.Path
	}
	if config.ReadBufferSize == 0 {
		config.ReadBufferSize = defaults.ReadBufferSize
	}
	if config.WriteBufferSize == 0 {
		config.WriteBufferSize = defaults.WriteBufferSize
	}
	if config.CheckOrigin == nil {
		config.CheckOrigin = defaults.CheckOrigin
	}
	if config.ConnConfig == nil {
		config.ConnConfig = defaults.ConnConfig
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if config.ReadHeaderTimeout == 0 {
		config.ReadHeaderTimeout = defaults.ReadHeaderTimeout
	}
	return config
}

// ValidateConfig reports configuration errors.
func (c *ServerConfig) ValidateConfig() error {
	if c.MaxConnections < 0 {
		return fmt.Errorf("server: MaxConnections must be >= 0, got %d", c.MaxConnections)
	}
	if c.ReadBufferSize < 0 || c.WriteBufferSize < 0 {
		return fmt.Errorf("server: buffer sizes must be >= 0")
	}
	if c.Path != "" && c.Path[0] != '/' {
		return fmt.Errorf("server: Path must start with '/', got %q", c.Path)
	}
	return nil
}
