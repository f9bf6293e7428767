package middleware

import (
	"context"
	"hubrpc/message"
	"log/slog"
	"time"
)

// LoggingMiddleware logs every call with its duration, and its error if any.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request, oneWay bool) (*message.Response, error) {
			start := time.Now()
			resp, err := next(ctx, req, oneWay)
			attrs := []any{
				"interface", req.Interface,
				"method", req.Method,
				"client", req.ClientID,
				"request", req.ID,
				"one_way", oneWay,
				"duration", time.Since(start),
			}
			if err != nil {
				logger.ErrorContext(ctx, "call", append(attrs, "err", err)...)
			} else {
				logger.DebugContext(ctx, "call", attrs...)
			}
			return resp, err
		}
	}
}
