// Package hubotel provides OpenTelemetry instrumentation for hub calls. It
// implements hook.Hook, so the same hook serves the dispatcher on the hub
// and the facade on a client:
//
//	d := server.NewDispatcher(c, server.WithHook(hubotel.New(hubotel.DefaultConfig())))
package hubotel

import (
	"context"
	"time"

	"hubrpc/hook"
	"hubrpc/rpcerr"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "hubrpc"

// Config configures the hook.
type Config struct {
	// TracerProvider supplies the tracer. Defaults to otel.GetTracerProvider().
	TracerProvider trace.TracerProvider
	// MeterProvider supplies the meter. Defaults to otel.GetMeterProvider().
	MeterProvider metric.MeterProvider
	// EnableTracing enables span creation. Default true.
	EnableTracing bool
	// EnableMetrics enables counter and histogram recording. Default true.
	EnableMetrics bool
	// Client selects client span kind and the rpc.client.* instrument names.
	Client bool
	// ServiceName is the rpc.service attribute value. Defaults to "hub".
	ServiceName string
	// CustomAttributes are added to every span.
	CustomAttributes []attribute.KeyValue
}

// DefaultConfig returns a Config with tracing and metrics enabled. The
// providers are resolved from the global OTel SDK in New.
func DefaultConfig() Config {
	return Config{
		EnableTracing: true,
		EnableMetrics: true,
	}
}

// Hook records a span and metrics per call.
type Hook struct {
	cfg      Config
	tracer   trace.Tracer
	kind     trace.SpanKind
	calls    metric.Int64Counter
	duration metric.Float64Histogram
}

var _ hook.Hook = (*Hook)(nil)

// New builds the hook from cfg.
func New(cfg Config) *Hook {
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = otel.GetMeterProvider()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "hub"
	}

	h := &Hook{
		cfg:    cfg,
		tracer: cfg.TracerProvider.Tracer(instrumentationName),
		kind:   trace.SpanKindServer,
	}
	side := "server"
	if cfg.Client {
		h.kind = trace.SpanKindClient
		side = "client"
	}
	if cfg.EnableMetrics {
		meter := cfg.MeterProvider.Meter(instrumentationName)
		h.calls, _ = meter.Int64Counter("rpc."+side+".calls",
			metric.WithUnit("{call}"),
			metric.WithDescription("Number of hub calls"),
		)
		h.duration, _ = meter.Float64Histogram("rpc."+side+".duration",
			metric.WithUnit("s"),
			metric.WithDescription("Duration of hub calls"),
		)
	}
	return h
}

// BeforeCall starts the call span; the returned context carries it to
// AfterCall.
func (h *Hook) BeforeCall(ctx context.Context, info *hook.CallInfo) context.Context {
	if !h.cfg.EnableTracing {
		return ctx
	}
	attrs := append([]attribute.KeyValue{
		attribute.String("rpc.system", instrumentationName),
		attribute.String("rpc.service", h.cfg.ServiceName),
		attribute.String("rpc.method", info.Interface+"."+info.Method),
		attribute.String("hubrpc.client_id", info.ClientID),
		attribute.String("hubrpc.request_id", info.RequestID),
		attribute.Bool("hubrpc.one_way", info.OneWay),
	}, h.cfg.CustomAttributes...)
	ctx, span := h.tracer.Start(ctx, instrumentationName+"/"+info.Interface+"."+info.Method,
		trace.WithSpanKind(h.kind),
		trace.WithAttributes(attrs...),
	)
	return context.WithValue(ctx, spanKey{}, span)
}

// spanKey marks the span this hook started, so AfterCall never ends a
// parent span it did not create.
type spanKey struct{}

// AfterCall records metrics and ends the span started by BeforeCall.
func (h *Hook) AfterCall(ctx context.Context, info *hook.CallInfo, _ any, elapsed time.Duration, err error) {
	code := "OK"
	if err != nil {
		code = rpcerr.Code(err)
	}

	if h.cfg.EnableMetrics {
		attrs := metric.WithAttributes(
			attribute.String("rpc.service", h.cfg.ServiceName),
			attribute.String("rpc.interface", info.Interface),
			attribute.String("rpc.method", info.Method),
			attribute.Bool("hubrpc.one_way", info.OneWay),
			attribute.Bool("hubrpc.direct", info.Direct),
			attribute.String("hubrpc.code", code),
		)
		if h.calls != nil {
			h.calls.Add(ctx, 1, attrs)
		}
		if h.duration != nil {
			h.duration.Record(ctx, elapsed.Seconds(), attrs)
		}
	}

	if !h.cfg.EnableTracing {
		return
	}
	span, ok := ctx.Value(spanKey{}).(trace.Span)
	if !ok || !span.IsRecording() {
		return
	}
	span.SetAttributes(
		attribute.Bool("hubrpc.direct", info.Direct),
		attribute.String("hubrpc.code", code),
	)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
