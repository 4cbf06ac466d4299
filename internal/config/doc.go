// Package config provides configuration parsing for the vsock command.
//
// Configuration lives in vsock.toml or vsock.json. Both formats share one
// schema; the file extension picks the decoder. Every field is optional
// and falls back to its default.
//
// # Configuration File Structure
//
//	[server]
//	address = ":8080"
//	path = "/socket"
//	maxConnections = 1000
//	rejectSchemaMismatch = true
//	allowedOrigins = ["https://example.com"]
//	shutdownTimeout = "30s"
//
//	[conn]
//	writeTimeout = "10s"
//	pingInterval = "30s"
//	pongWait = "60s"
//	maxMessageSize = 65536
//
//	[metrics]
//	enabled = true
//	path = "/metrics"
//
//	[tracing]
//	enabled = false
//
//	[log]
//	level = "info"
//	format = "text"
//
// # Environment
//
// VSOCK_ADDR and VSOCK_LOG_LEVEL override server.address and log.level.
//
// # Usage
//
//	cfg, err := config.Load("vsock.toml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	srv := server.New(schema, handler, cfg.ServerConfig(logger))
package config
