// Package hook defines the observers called around every remote call, on
// the server by the dispatcher and on the client by the facade.
//
// Hooks observe; they cannot change the outcome of a call. A panicking hook
// is recovered and logged.
package hook

import (
	"context"
	"log/slog"
	"time"
)

// CallInfo identifies one call.
type CallInfo struct {
	Direct    bool // server: the instance was called through contract.Invoker
	OneWay    bool
	RequestID string
	ClientID  string
	Interface string
	Method    string
	Args      []any
}

// Hook observes calls. BeforeCall may return a derived context (for example
// one carrying a trace span) which is handed back to AfterCall.
type Hook interface {
	BeforeCall(ctx context.Context, info *CallInfo) context.Context
	AfterCall(ctx context.Context, info *CallInfo, result any, elapsed time.Duration, err error)
}

// Funcs adapts plain functions to Hook. Either field may be nil.
type Funcs struct {
	Before func(ctx context.Context, info *CallInfo)
	After  func(ctx context.Context, info *CallInfo, result any, elapsed time.Duration, err error)
}

func (f Funcs) BeforeCall(ctx context.Context, info *CallInfo) context.Context {
	if f.Before != nil {
		f.Before(ctx, info)
	}
	return ctx
}

func (f Funcs) AfterCall(ctx context.Context, info *CallInfo, result any, elapsed time.Duration, err error) {
	if f.After != nil {
		f.After(ctx, info, result, elapsed, err)
	}
}

// Chain runs hooks in order on BeforeCall and in reverse order on AfterCall.
type Chain []Hook

func (c Chain) BeforeCall(ctx context.Context, info *CallInfo) context.Context {
	for _, h := range c {
		ctx = Before(ctx, nil, h, info)
	}
	return ctx
}

func (c Chain) AfterCall(ctx context.Context, info *CallInfo, result any, elapsed time.Duration, err error) {
	for i := len(c) - 1; i >= 0; i-- {
		After(ctx, nil, c[i], info, result, elapsed, err)
	}
}

// Before calls h.BeforeCall, recovering panics and reporting them to l
// (slog.Default when nil). h may be nil. The hooks of a Chain are guarded
// one by one.
func Before(ctx context.Context, l *slog.Logger, h Hook, info *CallInfo) (out context.Context) {
	out = ctx
	if c, ok := h.(Chain); ok {
		for _, e := range c {
			out = Before(out, l, e, info)
		}
		return
	}
	if h == nil {
		return
	}
	defer func() {
		if rv := recover(); rv != nil {
			orDefault(l).ErrorContext(ctx, "before-call hook panic", "interface", info.Interface, "method", info.Method, "panic", rv)
			out = ctx
		}
	}()
	if derived := h.BeforeCall(ctx, info); derived != nil {
		out = derived
	}
	return
}

// After calls h.AfterCall like Before does BeforeCall. A Chain runs in
// reverse order.
func After(ctx context.Context, l *slog.Logger, h Hook, info *CallInfo, result any, elapsed time.Duration, err error) {
	if c, ok := h.(Chain); ok {
		for i := len(c) - 1; i >= 0; i-- {
			After(ctx, l, c[i], info, result, elapsed, err)
		}
		return
	}
	if h == nil {
		return
	}
	defer func() {
		if rv := recover(); rv != nil {
			orDefault(l).ErrorContext(ctx, "after-call hook panic", "interface", info.Interface, "method", info.Method, "panic", rv)
		}
	}()
	h.AfterCall(ctx, info, result, elapsed, err)
}

func orDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

// Logger returns a hook that logs every completed call, at Info on success
// and at Error on failure.
func Logger(l *slog.Logger) Hook {
	if l == nil {
		l = slog.Default()
	}
	return Funcs{
		After: func(ctx context.Context, info *CallInfo, _ any, elapsed time.Duration, err error) {
			attrs := []any{
				"interface", info.Interface,
				"method", info.Method,
				"client", info.ClientID,
				"request", info.RequestID,
				"one_way", info.OneWay,
				"direct", info.Direct,
				"elapsed", elapsed,
			}
			if err != nil {
				l.ErrorContext(ctx, "call failed", append(attrs, "err", err)...)
				return
			}
			l.InfoContext(ctx, "call completed", attrs...)
		},
	}
}
