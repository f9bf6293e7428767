package middleware

import (
	"context"
	"errors"
	"fmt"
	"hubrpc/message"
	"hubrpc/rpcerr"
	"log/slog"
	"time"
)

// RetryMiddleware retries calls the server rejected before invocation
// (rpcerr.ErrRateLimited) with exponential backoff. Failures that may have
// had side effects are never retried. Intended for the client side. Retries
// are logged at Debug to logger, or slog.Default when nil.
func RetryMiddleware(maxRetries int, baseDelay time.Duration, logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request, oneWay bool) (*message.Response, error) {
			resp, err := next(ctx, req, oneWay)
			for i := 0; i < maxRetries; i++ {
				if err == nil || !errors.Is(err, rpcerr.ErrRateLimited) {
					return resp, err
				}
				logger.DebugContext(ctx, "retrying call", "attempt", i+1, "interface", req.Interface, "method", req.Method, "err", err)

				select {
				case <-time.After(baseDelay * time.Duration(1<<i)):
				case <-ctx.Done():
					return nil, fmt.Errorf("%w: %w", rpcerr.ErrCancelled, ctx.Err())
				}
				resp, err = next(ctx, req, oneWay)
			}
			return resp, err
		}
	}
}
