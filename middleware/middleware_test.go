package middleware

import (
	"bytes"
	"context"
	"errors"
	"hubrpc/message"
	"hubrpc/rpcerr"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// echoHandler answers immediately.
func echoHandler(ctx context.Context, req *message.Request, oneWay bool) (*message.Response, error) {
	if oneWay {
		return nil, nil
	}
	return message.ReplyTo(req, message.StatusProcessed), nil
}

// slowHandler sleeps 200ms or until cancelled.
func slowHandler(ctx context.Context, req *message.Request, oneWay bool) (*message.Response, error) {
	select {
	case <-time.After(200 * time.Millisecond):
	case <-ctx.Done():
	}
	return message.ReplyTo(req, message.StatusProcessed), nil
}

func newRequest(clientID string) *message.Request {
	return &message.Request{ID: "r", ClientID: clientID, Interface: "IRemoteCall1", Method: "Echo"}
}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	handler := LoggingMiddleware(logger)(echoHandler)

	resp, err := handler(context.Background(), newRequest("c"), false)
	if err != nil || resp == nil {
		t.Fatalf("expect response, got %v, %v", resp, err)
	}
	if !strings.Contains(buf.String(), "method=Echo") {
		t.Fatalf("expect call to be logged, got %q", buf.String())
	}
}

func TestTimeoutPass(t *testing.T) {
	handler := TimeOutMiddleware(500 * time.Millisecond)(echoHandler)

	if _, err := handler(context.Background(), newRequest("c"), false); err != nil {
		t.Fatalf("expect no error, got '%v'", err)
	}
}

func TestTimeoutExceeded(t *testing.T) {
	handler := TimeOutMiddleware(50 * time.Millisecond)(slowHandler)

	_, err := handler(context.Background(), newRequest("c"), false)
	if !errors.Is(err, rpcerr.ErrCancelled) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expect timeout error, got '%v'", err)
	}
}

func TestRateLimit(t *testing.T) {
	// rate=1 per second, burst=2: two pass, the third is rejected
	handler := RateLimitMiddleware(1, 2)(echoHandler)

	for i := 0; i < 2; i++ {
		if _, err := handler(context.Background(), newRequest("a"), false); err != nil {
			t.Fatalf("request %d should pass, got error: %v", i, err)
		}
	}

	if _, err := handler(context.Background(), newRequest("a"), false); !errors.Is(err, rpcerr.ErrRateLimited) {
		t.Fatalf("request 3 should be rate limited, got: '%v'", err)
	}

	// Buckets are per client.
	if _, err := handler(context.Background(), newRequest("b"), false); err != nil {
		t.Fatalf("another client should have its own bucket, got %v", err)
	}
}

func TestRateLimitDropsIdleBuckets(t *testing.T) {
	now := time.Unix(1000, 0)
	clock := func() time.Time { return now }
	// rate=1 per second, burst=2: a bucket refills within 2s.
	limiters := newLimiterSet(1, 2, clock)

	for i := 0; i < 2; i++ {
		if !limiters.allow("gone") {
			t.Fatalf("request %d should pass", i)
		}
	}
	if limiters.allow("gone") {
		t.Fatal("third request should be limited")
	}
	limiters.allow("stays")
	if limiters.len() != 2 {
		t.Fatalf("expect 2 buckets, got %d", limiters.len())
	}

	now = now.Add(1500 * time.Millisecond)
	limiters.allow("stays")
	now = now.Add(1500 * time.Millisecond)
	limiters.allow("stays")
	if limiters.len() != 1 {
		t.Fatalf("expect the idle bucket to be dropped, have %d", limiters.len())
	}

	// A client coming back gets a full bucket, as it would have anyway.
	if !limiters.allow("gone") || !limiters.allow("gone") {
		t.Fatal("returning client should have a full bucket")
	}
}

func TestRetryOnRateLimit(t *testing.T) {
	var calls atomic.Int32
	flaky := func(ctx context.Context, req *message.Request, oneWay bool) (*message.Response, error) {
		if calls.Add(1) < 3 {
			return nil, rpcerr.ErrRateLimited
		}
		return echoHandler(ctx, req, oneWay)
	}

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	handler := RetryMiddleware(3, time.Millisecond, logger)(flaky)
	if _, err := handler(context.Background(), newRequest("c"), false); err != nil {
		t.Fatalf("expect success after retries, got %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expect 3 attempts, got %d", calls.Load())
	}
	if n := strings.Count(buf.String(), "retrying call"); n != 2 {
		t.Fatalf("expect 2 retries logged, got %d", n)
	}
}

func TestRetrySkipsInvocationFailures(t *testing.T) {
	var calls atomic.Int32
	failing := func(ctx context.Context, req *message.Request, oneWay bool) (*message.Response, error) {
		calls.Add(1)
		return nil, rpcerr.ErrInvocation
	}

	handler := RetryMiddleware(3, time.Millisecond, nil)(failing)
	if _, err := handler(context.Background(), newRequest("c"), false); !errors.Is(err, rpcerr.ErrInvocation) {
		t.Fatalf("expect invocation failure, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("invocation failures must not be retried, got %d attempts", calls.Load())
	}
}

func TestChain(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, req *message.Request, oneWay bool) (*message.Response, error) {
				order = append(order, name)
				return next(ctx, req, oneWay)
			}
		}
	}

	chained := Chain(mark("a"), LoggingMiddleware(nil), TimeOutMiddleware(500*time.Millisecond), mark("b"))
	resp, err := chained(echoHandler)(context.Background(), newRequest("c"), false)
	if err != nil || resp == nil {
		t.Fatalf("expect response, got %v, %v", resp, err)
	}
	if strings.Join(order, "") != "ab" {
		t.Fatalf("expect a before b, got %v", order)
	}
}
