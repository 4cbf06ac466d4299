// Package middleware provides observability middleware for socket
// connections.
//
// This package includes:
//   - Prometheus metrics for frames, drops, sends and connections
//   - OpenTelemetry spans for frame handling and sends
//
// Both are socket.Middleware and can be installed on a server or passed to
// socket.Dial:
//
//	metrics := middleware.Prometheus(middleware.WithNamespace("chat"))
//	tracing := middleware.OpenTelemetry(middleware.WithTracerName("chat"))
//
//	srv := server.New(schema, handler, nil)
//	srv.Use(metrics, tracing)
//
//	// Expose metrics endpoint
//	http.Handle("/metrics", promhttp.Handler())
//
// # Prometheus Metrics
//
//   - vsock_frames_received_total: Counter of inbound frames
//   - vsock_frames_delivered_total: Counter of frames delivered, by packet
//   - vsock_frames_dropped_total: Counter of dropped frames, by reason
//   - vsock_frames_sent_total: Counter of frames sent, by packet
//   - vsock_send_errors_total: Counter of failed sends
//   - vsock_subscriber_panics_total: Counter of subscriber panics
//   - vsock_active_connections: Gauge of open connections
//   - vsock_schema_mismatches_total: Counter of schema fingerprint mismatches
//   - vsock_frame_duration_seconds: Histogram of frame handling time
//
// # OpenTelemetry Spans
//
// Every inbound frame gets a "vsock.frame" span and every send a
// "vsock.send" span, carrying the connection ID and packet identity. The
// tracer comes from the global OpenTelemetry tracer provider.
package middleware
