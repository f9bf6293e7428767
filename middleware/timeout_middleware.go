package middleware

import (
	"context"
	"fmt"
	"hubrpc/message"
	"hubrpc/rpcerr"
	"time"
)

type result struct {
	resp *message.Response
	err  error
}

// TimeOutMiddleware fails a call with rpcerr.ErrCancelled when it runs
// longer than timeout. The handler keeps running in the background and sees
// its context cancelled.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request, oneWay bool) (*message.Response, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan result, 1)
			go func() {
				resp, err := next(ctx, req, oneWay)
				done <- result{resp, err}
			}()

			select {
			case r := <-done:
				return r.resp, r.err
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: request timed out after %s: %w", rpcerr.ErrCancelled, timeout, ctx.Err())
			}
		}
	}
}
