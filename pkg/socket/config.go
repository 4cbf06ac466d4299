package socket

import (
	"log/slog"
	"time"
)

// Config holds per-connection transport settings.
type Config struct {
	// WriteTimeout is the maximum time to wait when sending a frame.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// PingInterval is the time between keepalive pings. Zero disables
	// pings and read deadlines.
	// Default: 30 seconds.
	PingInterval time.Duration

	// PongWait is how long to wait for any inbound traffic, pong included,
	// before the connection is considered dead. Only used with pings.
	// Default: 60 seconds.
	PongWait time.Duration

	// MaxMessageSize is the maximum size of an inbound frame.
	// Default: 64KB.
	MaxMessageSize int64

	// HandshakeTimeout bounds the WebSocket handshake when dialing.
	// Default: 10 seconds.
	HandshakeTimeout time.Duration

	// SendFingerprint adds the schema fingerprint to the dial URL as the
	// "schema" query parameter so the server can detect mismatches.
	SendFingerprint bool

	// OnOpen, if set, is called by Dial with the new connection before its
	// read loop starts. Subscribers registered here see every frame,
	// including those the server sends as soon as it accepts.
	OnOpen func(*Conn)

	// Logger is the base logger. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		WriteTimeout:     10 * time.Second,
		PingInterval:     30 * time.Second,
		PongWait:         60 * time.Second,
		MaxMessageSize:   64 * 1024, // 64KB
		HandshakeTimeout: 10 * time.Second,
	}
}

// Clone returns a copy of the Config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// withDefaults returns a copy of c with unset fields filled in.
func (c *Config) withDefaults() *Config {
	defaults := DefaultConfig()
	if c == nil {
		return defaults
	}

	out := c.Clone()
	if out.WriteTimeout == 0 {
		out.WriteTimeout = defaults.WriteTimeout
	}
	if out.PingInterval > 0 && out.PongWait == 0 {
		out.PongWait = defaults.PongWait
	}
	if out.PongWait > 0 && out.PongWait <= out.PingInterval {
		out.PongWait = out.PingInterval * 2
	}
	if out.MaxMessageSize == 0 {
		out.MaxMessageSize = defaults.MaxMessageSize
	}
	if out.HandshakeTimeout == 0 {
		out.HandshakeTimeout = defaults.HandshakeTimeout
	}
	return out
}
