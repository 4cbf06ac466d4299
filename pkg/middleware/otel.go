package middleware

import (
	"context"
	"errors"

	"github.com/vango-dev/vsock/pkg/protocol"
	"github.com/vango-dev/vsock/pkg/router"
	"github.com/vango-dev/vsock/pkg/socket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Default tracer name for vsock connections.
const defaultTracerName = "vsock"

// Span names.
const (
	SpanFrame = "vsock.frame"
	SpanSend  = "vsock.send"
)

// Span attribute keys.
const (
	AttrConnID     = attribute.Key("vsock.conn.id")
	AttrPacketID   = attribute.Key("vsock.packet.id")
	AttrPacketName = attribute.Key("vsock.packet.name")
	AttrDelivered  = attribute.Key("vsock.frame.delivered")
	AttrDropReason = attribute.Key("vsock.drop.reason")
	AttrFrameSize  = attribute.Key("vsock.frame.size")
)

// OTelConfig configures the OpenTelemetry middleware.
type OTelConfig struct {
	// TracerName is the name of the tracer (default: "vsock").
	TracerName string

	// TracerProvider overrides the global tracer provider.
	TracerProvider trace.TracerProvider

	// IncludeParams records connection parameters as span attributes.
	// Parameters may carry sensitive values - disabled by default.
	IncludeParams bool

	// AttributeExtractor adds custom attributes per connection.
	// Called for each traced frame and send.
	AttributeExtractor func(c *socket.Conn) []attribute.KeyValue

	tracer trace.Tracer
}

// OTelOption configures the OpenTelemetry middleware.
type OTelOption func(*OTelConfig)

// WithTracerName sets the tracer name.
func WithTracerName(name string) OTelOption {
	return func(c *OTelConfig) {
		c.TracerName = name
	}
}

// WithTracerProvider sets the tracer provider used instead of the global one.
func WithTracerProvider(tp trace.TracerProvider) OTelOption {
	return func(c *OTelConfig) {
		c.TracerProvider = tp
	}
}

// WithIncludeParams enables recording connection parameters on spans.
func WithIncludeParams(include bool) OTelOption {
	return func(c *OTelConfig) {
		c.IncludeParams = include
	}
}

// WithAttributeExtractor sets a custom attribute extractor.
func WithAttributeExtractor(extractor func(c *socket.Conn) []attribute.KeyValue) OTelOption {
	return func(c *OTelConfig) {
		c.AttributeExtractor = extractor
	}
}

// defaultOTelConfig returns the default OpenTelemetry configuration.
func defaultOTelConfig() OTelConfig {
	return OTelConfig{
		TracerName: defaultTracerName,
	}
}

// Tracing is a socket.Middleware that records OpenTelemetry spans.
type Tracing struct {
	config OTelConfig
}

// OpenTelemetry creates middleware that traces every inbound frame and
// every send.
//
// The tracer uses the global OpenTelemetry tracer provider unless
// WithTracerProvider is given. Configure it in main() before serving:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	otel.SetTracerProvider(tp)
func OpenTelemetry(opts ...OTelOption) *Tracing {
	config := defaultOTelConfig()
	for _, opt := range opts {
		opt(&config)
	}

	if config.TracerProvider != nil {
		config.tracer = config.TracerProvider.Tracer(config.TracerName)
	} else {
		config.tracer = otel.Tracer(config.TracerName)
	}

	return &Tracing{config: config}
}

// Frame implements socket.Middleware. The packet identity is only known
// once the frame has been unsealed, so it is attached when next returns.
func (t *Tracing) Frame(next socket.FrameFunc) socket.FrameFunc {
	return func(ctx context.Context, c *socket.Conn, data []byte) router.Outcome {
		attrs := append(t.connAttrs(c), AttrFrameSize.Int(len(data)))
		ctx, span := t.config.tracer.Start(ctx, SpanFrame,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attrs...),
		)
		defer span.End()

		out := next(ctx, c, data)

		if out.Drop == nil || out.Drop.Reason != router.DropMalformed {
			span.SetAttributes(packetAttrs(c.Schema(), out.Sealed.ID)...)
		}
		span.SetAttributes(AttrDelivered.Bool(out.Delivered))

		if out.Drop != nil {
			span.SetAttributes(AttrDropReason.String(string(out.Drop.Reason)))
			err := out.Drop.Err
			if err == nil {
				err = errors.New(string(out.Drop.Reason))
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, string(out.Drop.Reason))
		} else {
			span.SetStatus(codes.Ok, "")
		}
		return out
	}
}

// Send implements socket.Middleware.
func (t *Tracing) Send(next socket.SendFunc) socket.SendFunc {
	return func(ctx context.Context, c *socket.Conn, s protocol.Sealed) error {
		attrs := append(t.connAttrs(c), packetAttrs(c.Schema(), s.ID)...)
		ctx, span := t.config.tracer.Start(ctx, SpanSend,
			trace.WithSpanKind(trace.SpanKindProducer),
			trace.WithAttributes(attrs...),
		)
		defer span.End()

		err := next(ctx, c, s)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		return err
	}
}

func (t *Tracing) connAttrs(c *socket.Conn) []attribute.KeyValue {
	attrs := []attribute.KeyValue{AttrConnID.String(c.ID())}
	if t.config.IncludeParams {
		for k, v := range c.Params() {
			attrs = append(attrs, attribute.String("vsock.param."+k, v))
		}
	}
	if t.config.AttributeExtractor != nil {
		attrs = append(attrs, t.config.AttributeExtractor(c)...)
	}
	return attrs
}

func packetAttrs(s *protocol.Schema, id protocol.ID) []attribute.KeyValue {
	attrs := []attribute.KeyValue{AttrPacketID.Int(int(id))}
	if s != nil {
		if d, ok := s.Lookup(id); ok {
			attrs = append(attrs, AttrPacketName.String(d.Name))
		}
	}
	return attrs
}
