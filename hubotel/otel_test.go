package hubotel

import (
	"context"
	"fmt"
	"testing"
	"time"

	"hubrpc/hook"
	"hubrpc/rpcerr"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

type harness struct {
	spans  *tracetest.SpanRecorder
	reader *sdkmetric.ManualReader
	hook   *Hook
}

func newHarness(cfg Config) *harness {
	h := &harness{
		spans:  tracetest.NewSpanRecorder(),
		reader: sdkmetric.NewManualReader(),
	}
	cfg.TracerProvider = sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(h.spans))
	cfg.MeterProvider = sdkmetric.NewMeterProvider(sdkmetric.WithReader(h.reader))
	h.hook = New(cfg)
	return h
}

func (h *harness) call(info *hook.CallInfo, err error) {
	ctx := hook.Before(context.Background(), nil, h.hook, info)
	hook.After(ctx, nil, h.hook, info, nil, 3*time.Millisecond, err)
}

func (h *harness) sums(t *testing.T, name string) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := h.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	byCode := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s is %T, want Sum[int64]", name, m.Data)
			}
			for _, dp := range sum.DataPoints {
				code, _ := dp.Attributes.Value("hubrpc.code")
				byCode[code.AsString()] += dp.Value
			}
		}
	}
	return byCode
}

func TestSpanPerCall(t *testing.T) {
	h := newHarness(DefaultConfig())
	h.call(&hook.CallInfo{Interface: "IRemoteCall1", Method: "Echo", ClientID: "Client-1", RequestID: "r1"}, nil)
	h.call(&hook.CallInfo{Interface: "IRemoteCall1", Method: "Foo", Direct: true}, &rpcerr.CallError{Kind: rpcerr.ErrInvocation, Err: fmt.Errorf("bad args")})

	spans := h.spans.Ended()
	if len(spans) != 2 {
		t.Fatalf("expect 2 ended spans, got %d", len(spans))
	}
	if spans[0].Name() != "hubrpc/IRemoteCall1.Echo" || spans[0].SpanKind() != trace.SpanKindServer {
		t.Fatalf("unexpected span %s kind %v", spans[0].Name(), spans[0].SpanKind())
	}
	if spans[0].Status().Code != codes.Ok {
		t.Fatalf("expect ok status, got %v", spans[0].Status())
	}
	if spans[1].Status().Code != codes.Error || len(spans[1].Events()) == 0 {
		t.Fatalf("expect error status with recorded error, got %v", spans[1].Status())
	}
	found := false
	for _, kv := range spans[1].Attributes() {
		if kv == attribute.String("hubrpc.code", "InvocationFailure") {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing code attribute in %v", spans[1].Attributes())
	}
}

func TestCallCounter(t *testing.T) {
	h := newHarness(DefaultConfig())
	for range 3 {
		h.call(&hook.CallInfo{Interface: "IRemoteCall2", Method: "Echo"}, nil)
	}
	h.call(&hook.CallInfo{Interface: "IRemoteCall2", Method: "Nope"}, &rpcerr.CallError{Kind: rpcerr.ErrUnknownMethod})

	got := h.sums(t, "rpc.server.calls")
	if got["OK"] != 3 || got["UnknownMethod"] != 1 {
		t.Fatalf("unexpected counts %v", got)
	}
}

func TestClientSide(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Client = true
	h := newHarness(cfg)
	h.call(&hook.CallInfo{Interface: "IRemoteCall3", Method: "GetIdAndParam"}, nil)

	if spans := h.spans.Ended(); len(spans) != 1 || spans[0].SpanKind() != trace.SpanKindClient {
		t.Fatalf("expect one client span, got %v", spans)
	}
	if got := h.sums(t, "rpc.client.calls"); got["OK"] != 1 {
		t.Fatalf("unexpected counts %v", got)
	}
}

func TestDisabled(t *testing.T) {
	h := newHarness(Config{})
	h.call(&hook.CallInfo{Interface: "IRemoteCall1", Method: "Echo"}, nil)

	if n := len(h.spans.Ended()); n != 0 {
		t.Fatalf("expect no spans, got %d", n)
	}
	if got := h.sums(t, "rpc.server.calls"); len(got) != 0 {
		t.Fatalf("expect no metrics, got %v", got)
	}
}
