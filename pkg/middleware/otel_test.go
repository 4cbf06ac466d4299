package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/vango-dev/vsock/pkg/protocol"
	"github.com/vango-dev/vsock/pkg/socket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// recordingProvider hands out a tracer that keeps every span it starts.
type recordingProvider struct {
	noop.TracerProvider
	tracer *recordingTracer
}

func newRecordingProvider() *recordingProvider {
	return &recordingProvider{tracer: &recordingTracer{}}
}

func (p *recordingProvider) Tracer(string, ...trace.TracerOption) trace.Tracer {
	return p.tracer
}

type recordingTracer struct {
	noop.Tracer
	mu    sync.Mutex
	spans []*recordingSpan
}

func (t *recordingTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	cfg := trace.NewSpanStartConfig(opts...)
	s := &recordingSpan{
		name:  name,
		kind:  cfg.SpanKind(),
		attrs: map[attribute.Key]attribute.Value{},
	}
	for _, kv := range cfg.Attributes() {
		s.attrs[kv.Key] = kv.Value
	}

	t.mu.Lock()
	t.spans = append(t.spans, s)
	t.mu.Unlock()
	return trace.ContextWithSpan(ctx, s), s
}

func (t *recordingTracer) recorded() []*recordingSpan {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*recordingSpan(nil), t.spans...)
}

type recordingSpan struct {
	noop.Span
	name   string
	kind   trace.SpanKind
	attrs  map[attribute.Key]attribute.Value
	status codes.Code
	errs   []error
	ended  bool
}

func (s *recordingSpan) SetAttributes(kv ...attribute.KeyValue) {
	for _, a := range kv {
		s.attrs[a.Key] = a.Value
	}
}

func (s *recordingSpan) SetStatus(code codes.Code, _ string) { s.status = code }

func (s *recordingSpan) RecordError(err error, _ ...trace.EventOption) {
	s.errs = append(s.errs, err)
}

func (s *recordingSpan) End(...trace.SpanEndOption) { s.ended = true }

func (s *recordingSpan) IsRecording() bool { return !s.ended }

func TestOpenTelemetry_FrameSpans(t *testing.T) {
	tp := newTestPackets()
	provider := newRecordingProvider()
	mw := OpenTelemetry(WithTracerProvider(provider))

	tr := &scriptTransport{frames: []string{`[1,"hi"]`, `garbage`, `0`}}
	c := socket.NewConn(tr, tp.schema, nil, nil, mw)

	socket.Receive(c, tp.echo).Subscribe(func(string) {})

	if err := c.Serve(context.Background()); err != nil {
		t.Fatalf("Serve() error: %v", err)
	}

	spans := provider.tracer.recorded()
	if len(spans) != 3 {
		t.Fatalf("spans = %d, want 3", len(spans))
	}

	delivered := spans[0]
	if delivered.name != SpanFrame {
		t.Errorf("name = %q, want %q", delivered.name, SpanFrame)
	}
	if delivered.kind != trace.SpanKindServer {
		t.Errorf("kind = %v, want server", delivered.kind)
	}
	if !delivered.ended {
		t.Error("frame span not ended")
	}
	if got := delivered.attrs[AttrConnID].AsString(); got != c.ID() {
		t.Errorf("conn id = %q, want %q", got, c.ID())
	}
	if got := delivered.attrs[AttrPacketID].AsInt64(); got != 1 {
		t.Errorf("packet id = %d, want 1", got)
	}
	if got := delivered.attrs[AttrPacketName].AsString(); got != "echo" {
		t.Errorf("packet name = %q, want echo", got)
	}
	if !delivered.attrs[AttrDelivered].AsBool() {
		t.Error("expected delivered=true")
	}
	if delivered.status != codes.Ok {
		t.Errorf("status = %v, want Ok", delivered.status)
	}

	malformed := spans[1]
	if _, ok := malformed.attrs[AttrPacketID]; ok {
		t.Error("malformed frame should not carry a packet id")
	}
	if got := malformed.attrs[AttrDropReason].AsString(); got != "malformed" {
		t.Errorf("drop reason = %q, want malformed", got)
	}
	if malformed.status != codes.Error || len(malformed.errs) != 1 {
		t.Errorf("status = %v errs = %v, want Error with one error", malformed.status, malformed.errs)
	}

	unsubscribed := spans[2]
	if got := unsubscribed.attrs[AttrPacketName].AsString(); got != "ping" {
		t.Errorf("packet name = %q, want ping", got)
	}
	if got := unsubscribed.attrs[AttrDropReason].AsString(); got != "unsubscribed" {
		t.Errorf("drop reason = %q, want unsubscribed", got)
	}
}

func TestOpenTelemetry_SendSpans(t *testing.T) {
	tp := newTestPackets()
	provider := newRecordingProvider()
	mw := OpenTelemetry(
		WithTracerProvider(provider),
		WithIncludeParams(true),
		WithAttributeExtractor(func(*socket.Conn) []attribute.KeyValue {
			return []attribute.KeyValue{attribute.String("test.attr", "ok")}
		}),
	)

	tr := &scriptTransport{}
	c := socket.NewConn(tr, tp.schema, socket.Params{"room": "42"}, nil, mw)
	ctx := context.Background()

	if err := socket.Send(ctx, c, tp.echo, "hi"); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	tr.failWrites = true
	if err := socket.Send(ctx, c, tp.echo, "lost"); !errors.Is(err, errWriteFailed) {
		t.Fatalf("Send() error = %v, want %v", err, errWriteFailed)
	}

	spans := provider.tracer.recorded()
	if len(spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(spans))
	}

	ok := spans[0]
	if ok.name != SpanSend || ok.kind != trace.SpanKindProducer {
		t.Errorf("span = %q/%v, want %q/producer", ok.name, ok.kind, SpanSend)
	}
	if got := ok.attrs["vsock.param.room"].AsString(); got != "42" {
		t.Errorf("param attr = %q, want 42", got)
	}
	if got := ok.attrs["test.attr"].AsString(); got != "ok" {
		t.Errorf("custom attr = %q, want ok", got)
	}
	if got := ok.attrs[AttrPacketName].AsString(); got != "echo" {
		t.Errorf("packet name = %q, want echo", got)
	}
	if ok.status != codes.Ok {
		t.Errorf("status = %v, want Ok", ok.status)
	}

	failed := spans[1]
	if failed.status != codes.Error || len(failed.errs) != 1 || !errors.Is(failed.errs[0], errWriteFailed) {
		t.Errorf("failed span status = %v errs = %v", failed.status, failed.errs)
	}
}

func TestOpenTelemetry_SpanReachesSend(t *testing.T) {
	tp := newTestPackets()
	provider := newRecordingProvider()
	mw := OpenTelemetry(WithTracerProvider(provider))

	var sawSpan bool
	probe := socket.MiddlewareFuncs{
		SendFunc: func(next socket.SendFunc) socket.SendFunc {
			return func(ctx context.Context, c *socket.Conn, s protocol.Sealed) error {
				_, sawSpan = trace.SpanFromContext(ctx).(*recordingSpan)
				return next(ctx, c, s)
			}
		},
	}

	c := socket.NewConn(&scriptTransport{}, tp.schema, nil, nil, mw, probe)
	if err := socket.Notify(context.Background(), c, tp.ping); err != nil {
		t.Fatalf("Notify() error: %v", err)
	}
	if !sawSpan {
		t.Fatal("expected inner middleware to see the send span in its context")
	}
}
