package client

import (
	"context"
	"errors"
	"fmt"
	"hubrpc/contract"
	"hubrpc/rpcerr"
	"hubrpc/transport"
)

// Subscribe opens the hub's broadcast stream and calls fn with every value
// received, in order, until ctx is done or the hub ends the stream. Values
// published faster than fn runs are skipped; fn always sees the latest.
//
// A failing or panicking fn is logged and the stream continues, unless the
// client was built WithStopOnCallbackError, in which case the error is
// returned. Cancelling ctx or the hub ending the stream returns nil; losing
// the connection returns an rpcerr.ErrCancelled error.
func Subscribe[T any](ctx context.Context, c *Client, fn func(T) error) error {
	if !c.Ready() {
		return fmt.Errorf("subscribe: %w", rpcerr.ErrNotReady)
	}
	c.types.Add(contract.Of[T]())

	s, err := c.t.OpenStream()
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer s.Close()

	for {
		env, err := s.Next(ctx)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, transport.ErrStreamEnded):
			if cause := c.t.Err(); cause != nil && !errors.Is(cause, transport.ErrClosed) {
				return fmt.Errorf("subscribe: %w: %w", rpcerr.ErrCancelled, cause)
			}
			return nil
		default:
			return fmt.Errorf("subscribe: %w", err)
		}

		v, err := c.types.Decode(env)
		if err != nil {
			c.logger.Warn("undecodable stream value", "type", env.TypeID, "err", err)
			continue
		}
		value, ok := v.(T)
		if !ok {
			c.logger.Warn("unexpected stream value", "type", env.TypeID, "want", contract.Of[T]().ID)
			continue
		}
		if err := runCallback(fn, value); err != nil {
			if c.stopOnErr {
				return err
			}
			c.logger.Error("stream callback failed", "err", err)
		}
	}
}

func runCallback[T any](fn func(T) error, v T) (err error) {
	defer func() {
		if rv := recover(); rv != nil {
			err = fmt.Errorf("stream callback panic: %v", rv)
		}
	}()
	return fn(v)
}
