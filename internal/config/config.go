package config

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/vango-dev/vsock/internal/errors"
	"github.com/vango-dev/vsock/pkg/server"
	"github.com/vango-dev/vsock/pkg/socket"
)

const (
	// DefaultFileName is the config file looked up when none is given.
	DefaultFileName = "vsock.toml"

	// DefaultAddress is the default listen address.
	DefaultAddress = ":8080"

	// DefaultPath is the default WebSocket endpoint.
	DefaultPath = "/socket"

	// DefaultMetricsPath is the default Prometheus endpoint.
	DefaultMetricsPath = "/metrics"

	// EnvAddress overrides server.address.
	EnvAddress = "VSOCK_ADDR"

	// EnvLogLevel overrides log.level.
	EnvLogLevel = "VSOCK_LOG_LEVEL"
)

// Config represents the complete vsock configuration.
type Config struct {
	// Server contains listener and upgrade settings.
	Server ServerConfig `json:"server" toml:"server"`

	// Conn contains per-connection transport settings.
	Conn ConnConfig `json:"conn" toml:"conn"`

	// Metrics contains Prometheus settings.
	Metrics MetricsConfig `json:"metrics" toml:"metrics"`

	// Tracing contains OpenTelemetry settings.
	Tracing TracingConfig `json:"tracing" toml:"tracing"`

	// Log contains logging settings.
	Log LogConfig `json:"log" toml:"log"`

	// configPath stores the path where the config was loaded from.
	configPath string
}

// ServerConfig contains listener and upgrade settings.
type ServerConfig struct {
	// Address is the listen address (e.g., ":8080").
	Address string `json:"address,omitempty" toml:"address,omitempty"`

	// Path is the WebSocket endpoint.
	Path string `json:"path,omitempty" toml:"path,omitempty"`

	// ReadBufferSize is the WebSocket read buffer size in bytes.
	ReadBufferSize int `json:"readBufferSize,omitempty" toml:"readBufferSize,omitempty"`

	// WriteBufferSize is the WebSocket write buffer size in bytes.
	WriteBufferSize int `json:"writeBufferSize,omitempty" toml:"writeBufferSize,omitempty"`

	// MaxConnections limits live connections. 0 means no limit.
	MaxConnections int `json:"maxConnections,omitempty" toml:"maxConnections,omitempty"`

	// RejectSchemaMismatch refuses clients whose schema fingerprint differs.
	RejectSchemaMismatch bool `json:"rejectSchemaMismatch,omitempty" toml:"rejectSchemaMismatch,omitempty"`

	// AllowedOrigins lists the hosts browsers may connect from. Empty
	// allows every origin.
	AllowedOrigins []string `json:"allowedOrigins,omitempty" toml:"allowedOrigins,omitempty"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout Duration `json:"shutdownTimeout,omitempty" toml:"shutdownTimeout,omitempty"`
}

// ConnConfig contains per-connection transport settings.
type ConnConfig struct {
	// WriteTimeout bounds each frame write.
	WriteTimeout Duration `json:"writeTimeout,omitempty" toml:"writeTimeout,omitempty"`

	// PingInterval is the keepalive interval. "0s" disables pings.
	PingInterval Duration `json:"pingInterval" toml:"pingInterval"`

	// PongWait is how long a silent peer is tolerated.
	PongWait Duration `json:"pongWait,omitempty" toml:"pongWait,omitempty"`

	// MaxMessageSize is the largest accepted inbound frame in bytes.
	MaxMessageSize int64 `json:"maxMessageSize,omitempty" toml:"maxMessageSize,omitempty"`

	// HandshakeTimeout bounds the client handshake.
	HandshakeTimeout Duration `json:"handshakeTimeout,omitempty" toml:"handshakeTimeout,omitempty"`
}

// MetricsConfig contains Prometheus settings.
type MetricsConfig struct {
	// Enabled exposes the metrics endpoint and installs the middleware.
	Enabled bool `json:"enabled" toml:"enabled"`

	// Path is the metrics endpoint.
	Path string `json:"path,omitempty" toml:"path,omitempty"`

	// Namespace prefixes every metric name.
	Namespace string `json:"namespace,omitempty" toml:"namespace,omitempty"`
}

// TracingConfig contains OpenTelemetry settings.
type TracingConfig struct {
	// Enabled installs the tracing middleware.
	Enabled bool `json:"enabled" toml:"enabled"`

	// TracerName names the tracer.
	TracerName string `json:"tracerName,omitempty" toml:"tracerName,omitempty"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `json:"level,omitempty" toml:"level,omitempty"`

	// Format is "text" or "json".
	Format string `json:"format,omitempty" toml:"format,omitempty"`
}

// Default returns a Config with default values.
func Default() *Config {
	conn := socket.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			Address:         DefaultAddress,
			Path:            DefaultPath,
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			ShutdownTimeout: Duration(30 * time.Second),
		},
		Conn: ConnConfig{
			WriteTimeout:     Duration(conn.WriteTimeout),
			PingInterval:     Duration(conn.PingInterval),
			PongWait:         Duration(conn.PongWait),
			MaxMessageSize:   conn.MaxMessageSize,
			HandshakeTimeout: Duration(conn.HandshakeTimeout),
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Path:      DefaultMetricsPath,
			Namespace: "vsock",
		},
		Tracing: TracingConfig{
			TracerName: "vsock",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from path and applies environment overrides.
// An empty path loads DefaultFileName if it exists and the defaults
// otherwise.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		if _, err := os.Stat(DefaultFileName); err == nil {
			path = DefaultFileName
		}
	}
	if path != "" {
		var err error
		if cfg, err = LoadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads configuration from the specified file path without
// environment overrides.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("E100").
				WithDetail("No config file at " + path).
				WithSuggestion("Run 'vsock config init' to write one, or omit --config to use defaults")
		}
		return nil, errors.New("E101").Wrap(err)
	}

	cfg := Default()
	if err := decode(path, bytes.NewReader(data), cfg); err != nil {
		return nil, err
	}
	cfg.configPath = path
	cfg.applyDefaults()
	return cfg, nil
}

func decode(path string, r io.Reader, cfg *Config) error {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		dec := toml.NewDecoder(r).DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			detail := err.Error()
			var derr *toml.DecodeError
			if stderrors.As(err, &derr) {
				row, col := derr.Position()
				detail = fmt.Sprintf("line %d, column %d: %s", row, col, derr.Error())
			}
			return errors.New("E102").
				WithDetail("Failed to parse " + path + ": " + detail).
				WithSuggestion("Check that " + filepath.Base(path) + " is valid TOML")
		}
	case ".json":
		dec := json.NewDecoder(r)
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return errors.New("E102").
				WithDetail("Failed to parse " + path + ": " + err.Error()).
				WithSuggestion("Check that " + filepath.Base(path) + " is valid JSON")
		}
	default:
		return errors.New("E103").
			WithDetail("Unknown extension " + ext + " for " + path)
	}
	return nil
}

// Save writes the configuration to the file it was loaded from.
func (c *Config) Save() error {
	if c.configPath == "" {
		return errors.Newf(errors.CategoryConfig, "no config path set")
	}
	return c.SaveTo(c.configPath)
}

// SaveTo writes the configuration to path, as TOML or JSON by extension.
func (c *Config) SaveTo(path string) error {
	var (
		data []byte
		err  error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		data, err = toml.Marshal(c)
	case ".json":
		data, err = json.MarshalIndent(c, "", "  ")
		data = append(data, '\n')
	default:
		return errors.New("E103").WithDetail("Unknown extension " + ext + " for " + path)
	}
	if err != nil {
		return errors.New("E102").Wrap(err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.New("E101").Wrap(err)
	}

	c.configPath = path
	return nil
}

// Path returns the path where the config was loaded from.
func (c *Config) Path() string {
	return c.configPath
}

// ApplyEnv applies environment overrides using getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv(EnvAddress); v != "" {
		c.Server.Address = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
}

// applyDefaults fills in default values for empty fields.
func (c *Config) applyDefaults() {
	d := Default()
	if c.Server.Address == "" {
		c.Server.Address = d.Server.Address
	}
	if c.Server.Path == "" {
		c.Server.Path = d.Server.Path
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = d.Server.ShutdownTimeout
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = d.Metrics.Path
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = d.Metrics.Namespace
	}
	if c.Tracing.TracerName == "" {
		c.Tracing.TracerName = d.Tracing.TracerName
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.MaxConnections < 0 {
		return errors.New("E104").
			WithDetail("server.maxConnections must be >= 0")
	}
	if c.Server.ReadBufferSize < 0 || c.Server.WriteBufferSize < 0 {
		return errors.New("E104").
			WithDetail("server buffer sizes must be >= 0")
	}
	if !strings.HasPrefix(c.Server.Path, "/") {
		return errors.New("E104").
			WithDetail("server.path must start with '/', got " + c.Server.Path)
	}
	if c.Metrics.Enabled {
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return errors.New("E104").
				WithDetail("metrics.path must start with '/', got " + c.Metrics.Path)
		}
		if c.Metrics.Path == c.Server.Path {
			return errors.New("E104").
				WithDetail("metrics.path and server.path are both " + c.Server.Path)
		}
	}
	if c.Conn.MaxMessageSize < 0 {
		return errors.New("E104").
			WithDetail("conn.maxMessageSize must be >= 0")
	}
	if c.Conn.PingInterval < 0 || c.Conn.PongWait < 0 || c.Conn.WriteTimeout < 0 {
		return errors.New("E104").
			WithDetail("conn durations must be >= 0")
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return errors.New("E104").
			WithDetail("log.format must be text or json, got " + c.Log.Format).
			WithSuggestion("Set log.format to \"text\" or \"json\"")
	}
	return nil
}

// SocketConfig returns the per-connection settings.
func (c *Config) SocketConfig(logger *slog.Logger) *socket.Config {
	return &socket.Config{
		WriteTimeout:     c.Conn.WriteTimeout.Std(),
		PingInterval:     c.Conn.PingInterval.Std(),
		PongWait:         c.Conn.PongWait.Std(),
		MaxMessageSize:   c.Conn.MaxMessageSize,
		HandshakeTimeout: c.Conn.HandshakeTimeout.Std(),
		Logger:           logger,
	}
}

// ServerConfig returns the server settings.
func (c *Config) ServerConfig(logger *slog.Logger) *server.ServerConfig {
	sc := server.DefaultServerConfig()
	sc.Address = c.Server.Address
	sc.Path = c.Server.Path
	sc.ReadBufferSize = c.Server.ReadBufferSize
	sc.WriteBufferSize = c.Server.WriteBufferSize
	sc.MaxConnections = c.Server.MaxConnections
	sc.RejectSchemaMismatch = c.Server.RejectSchemaMismatch
	sc.ShutdownTimeout = c.Server.ShutdownTimeout.Std()
	sc.ConnConfig = c.SocketConfig(logger)
	if len(c.Server.AllowedOrigins) > 0 {
		sc.CheckOrigin = originChecker(c.Server.AllowedOrigins)
	}
	return sc
}

// originChecker allows requests without an Origin header and requests
// whose Origin host is listed.
func originChecker(allowed []string) func(*http.Request) bool {
	hosts := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		if u, err := url.Parse(a); err == nil && u.Host != "" {
			a = u.Host
		}
		hosts[strings.ToLower(a)] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return hosts[strings.ToLower(u.Host)]
	}
}

// Logger builds the process logger described by the log section.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, errors.New("E104").
			WithDetail("log.level " + s + " is not one of debug, info, warn, error").
			Wrap(err)
	}
	return level, nil
}
