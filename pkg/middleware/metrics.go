package middleware

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/vango-dev/vsock/pkg/protocol"
	"github.com/vango-dev/vsock/pkg/router"
	"github.com/vango-dev/vsock/pkg/socket"
)

// MetricsConfig configures the Prometheus metrics middleware.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "vsock").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for frame duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus metrics middleware.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

// defaultMetricsConfig returns the default metrics configuration.
func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "vsock",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics is a socket.Middleware that records Prometheus metrics.
type Metrics struct {
	framesReceived    prometheus.Counter
	framesDelivered   *prometheus.CounterVec
	framesDropped     *prometheus.CounterVec
	framesSent        *prometheus.CounterVec
	sendErrors        prometheus.Counter
	subscriberPanics  prometheus.Counter
	activeConnections prometheus.Gauge
	schemaMismatches  prometheus.Counter
	frameDuration     prometheus.Histogram
}

// Prometheus creates the metrics middleware and registers its collectors.
// It panics if the collectors are already registered with the registry.
func Prometheus(opts ...MetricsOption) *Metrics {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}

	factory := promauto.With(config.Registry)
	counterOpts := func(name, help string) prometheus.CounterOpts {
		return prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		}
	}

	m := &Metrics{
		framesReceived: factory.NewCounter(counterOpts(
			"frames_received_total", "Total number of inbound frames")),

		framesDelivered: factory.NewCounterVec(counterOpts(
			"frames_delivered_total", "Total number of frames delivered to subscribers"),
			[]string{"packet"}),

		framesDropped: factory.NewCounterVec(counterOpts(
			"frames_dropped_total", "Total number of dropped inbound frames by reason"),
			[]string{"reason"}),

		framesSent: factory.NewCounterVec(counterOpts(
			"frames_sent_total", "Total number of frames sent"),
			[]string{"packet"}),

		sendErrors: factory.NewCounter(counterOpts(
			"send_errors_total", "Total number of failed sends")),

		subscriberPanics: factory.NewCounter(counterOpts(
			"subscriber_panics_total", "Total number of subscriber panics")),

		activeConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "active_connections",
			Help:        "Number of open connections",
			ConstLabels: config.ConstLabels,
		}),

		schemaMismatches: factory.NewCounter(counterOpts(
			"schema_mismatches_total", "Total number of schema fingerprint mismatches")),

		frameDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "frame_duration_seconds",
			Help:        "Inbound frame handling duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}),
	}

	// Pre-create the drop series so dashboards see zeroes.
	for _, r := range router.Reasons {
		m.framesDropped.WithLabelValues(string(r))
	}

	return m
}

// Frame implements socket.Middleware.
func (m *Metrics) Frame(next socket.FrameFunc) socket.FrameFunc {
	return func(ctx context.Context, c *socket.Conn, data []byte) router.Outcome {
		m.framesReceived.Inc()
		start := time.Now()

		panicked := true
		defer func() {
			m.frameDuration.Observe(time.Since(start).Seconds())
			if panicked {
				m.subscriberPanics.Inc()
			}
		}()

		out := next(ctx, c, data)
		panicked = false

		switch {
		case out.Delivered:
			m.framesDelivered.WithLabelValues(packetLabel(c.Schema(), out.Sealed.ID)).Inc()
		case out.Drop != nil:
			m.framesDropped.WithLabelValues(string(out.Drop.Reason)).Inc()
		}
		return out
	}
}

// Send implements socket.Middleware.
func (m *Metrics) Send(next socket.SendFunc) socket.SendFunc {
	return func(ctx context.Context, c *socket.Conn, s protocol.Sealed) error {
		err := next(ctx, c, s)
		if err != nil {
			m.sendErrors.Inc()
			return err
		}
		m.framesSent.WithLabelValues(packetLabel(c.Schema(), s.ID)).Inc()
		return nil
	}
}

// ConnOpened implements socket.ConnObserver.
func (m *Metrics) ConnOpened(*socket.Conn) {
	m.activeConnections.Inc()
}

// ConnClosed implements socket.ConnObserver.
func (m *Metrics) ConnClosed(*socket.Conn, error) {
	m.activeConnections.Dec()
}

// SchemaMismatch implements server.SchemaObserver.
func (m *Metrics) SchemaMismatch(remote, local string) {
	m.schemaMismatches.Inc()
}

// RecordDrop counts a drop observed outside the middleware chain, for use
// as a router.DropHook.
func (m *Metrics) RecordDrop(d router.Drop) {
	m.framesDropped.WithLabelValues(string(d.Reason)).Inc()
}

// packetLabel names a packet by its schema name, keeping label cardinality
// bounded by the schema. Unknown identities share one label.
func packetLabel(s *protocol.Schema, id protocol.ID) string {
	if s == nil {
		return "unknown"
	}
	if d, ok := s.Lookup(id); ok {
		return d.Name
	}
	return "unknown"
}
