// OpenTelemetry tracing for command dispatch and failsafe execution.
package telemetry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Tracer wraps OpenTelemetry tracing with protocol-specific helpers.
type Tracer struct {
	tracer trace.Tracer
	debug  bool // When true, include command args in span attributes
}

var (
	globalTracer *Tracer
	tracerMu     sync.RWMutex
)

// SetGlobalTracer sets the global tracer instance.
func SetGlobalTracer(t *Tracer) {
	tracerMu.Lock()
	defer tracerMu.Unlock()
	globalTracer = t
}

// GetTracer returns the global tracer, or a no-op tracer if not set.
func GetTracer() *Tracer {
	tracerMu.RLock()
	defer tracerMu.RUnlock()
	if globalTracer == nil {
		return NoopTracer()
	}
	return globalTracer
}

// NoopTracer returns a tracer that records nothing.
func NoopTracer() *Tracer {
	return &Tracer{tracer: noop.NewTracerProvider().Tracer("")}
}

// NewTracer creates a tracer from the global provider.
func NewTracer(name string, debug bool) *Tracer {
	return &Tracer{
		tracer: otel.Tracer(name),
		debug:  debug,
	}
}

// NewTracerFromProvider creates a tracer from an explicit provider.
func NewTracerFromProvider(tp trace.TracerProvider, name string, debug bool) *Tracer {
	return &Tracer{
		tracer: tp.Tracer(name),
		debug:  debug,
	}
}

// SetDebug enables or disables debug mode (args in spans).
func (t *Tracer) SetDebug(debug bool) {
	t.debug = debug
}

// Debug returns whether debug mode is enabled.
func (t *Tracer) Debug() bool {
	return t.debug
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// --- Dispatch Spans ---

// DispatchSpanOptions contains the outcome of a command dispatch.
type DispatchSpanOptions struct {
	Signer    string
	Targets   int
	Delivered int
	Failed    int
	Args      map[string]any // Only included if debug=true
}

// StartDispatchSpan starts a span for a server-side command dispatch. An
// empty target means broadcast.
func (t *Tracer) StartDispatchSpan(ctx context.Context, command, target string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "dispatch."+command, trace.WithSpanKind(trace.SpanKindProducer))
	if target == "" {
		target = "*"
	}
	span.SetAttributes(
		attribute.String("failsafe.command", command),
		attribute.String("failsafe.target", target),
	)
	return ctx, span
}

// EndDispatchSpan ends a dispatch span with attributes.
func (t *Tracer) EndDispatchSpan(span trace.Span, opts DispatchSpanOptions, err error) {
	attrs := []attribute.KeyValue{
		attribute.Int("failsafe.targets", opts.Targets),
		attribute.Int("failsafe.delivered", opts.Delivered),
		attribute.Int("failsafe.failed", opts.Failed),
	}
	if opts.Signer != "" {
		attrs = append(attrs, attribute.String("failsafe.signer", opts.Signer))
	}
	if t.debug {
		attrs = append(attrs, argAttributes(opts.Args)...)
	}
	span.SetAttributes(attrs...)
	endSpan(span, err)
}

// --- Failsafe Spans ---

// FailsafeSpanOptions contains the outcome of a failsafe run.
type FailsafeSpanOptions struct {
	Commands int
	Failed   int
}

// StartFailsafeSpan starts a span for a client-side failsafe execution.
func (t *Tracer) StartFailsafeSpan(ctx context.Context, clientID string, reason error) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "failsafe", trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(attribute.String("failsafe.client_id", clientID))
	if reason != nil {
		span.SetAttributes(attribute.String("failsafe.reason", reason.Error()))
	}
	return ctx, span
}

// EndFailsafeSpan ends a failsafe span with attributes.
func (t *Tracer) EndFailsafeSpan(span trace.Span, opts FailsafeSpanOptions) {
	span.SetAttributes(
		attribute.Int("failsafe.commands", opts.Commands),
		attribute.Int("failsafe.commands_failed", opts.Failed),
	)
	var err error
	if opts.Failed > 0 {
		err = fmt.Errorf("%d of %d break commands failed", opts.Failed, opts.Commands)
	}
	endSpan(span, err)
}

// --- Command Spans ---

// StartCommandSpan starts a span for one executed command.
//
// Parameters:
//   - source: "remote" for server-sent commands, "break" for failsafe
func (t *Tracer) StartCommandSpan(ctx context.Context, source, command string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "command."+command, trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(
		attribute.String("failsafe.command", command),
		attribute.String("failsafe.source", source),
	)
	return ctx, span
}

// EndCommandSpan ends a command span.
func (t *Tracer) EndCommandSpan(span trace.Span, args map[string]any, err error) {
	if t.debug {
		span.SetAttributes(argAttributes(args)...)
	}
	endSpan(span, err)
}

// --- Context Propagation ---

// InjectContext injects trace context into a carrier for cross-process propagation.
func InjectContext(ctx context.Context, carrier propagation.TextMapCarrier) {
	otel.GetTextMapPropagator().Inject(ctx, carrier)
}

// ExtractContext extracts trace context from a carrier.
func ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// --- Helpers ---

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func argAttributes(args map[string]any) []attribute.KeyValue {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := make([]attribute.KeyValue, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, attribute.String("failsafe.arg."+k, truncate(fmt.Sprint(args[k]), 500)))
	}
	return attrs
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
