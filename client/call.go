package client

import (
	"context"
	"errors"
	"fmt"
	"hubrpc/contract"
	"hubrpc/hook"
	"hubrpc/message"
	"hubrpc/rpcerr"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Call invokes method on the hub's instance of iface and waits for the
// result. A method without a result yields nil. Failures are
// *rpcerr.CallError values, so errors.Is works against the rpcerr kinds.
func (c *Client) Call(ctx context.Context, iface, method string, args ...any) (any, error) {
	return c.call(ctx, iface, method, args, false)
}

// CallOneWay sends the call without waiting for it to run. Only a failure
// to send is reported; failures on the hub are logged there.
func (c *Client) CallOneWay(ctx context.Context, iface, method string, args ...any) error {
	_, err := c.call(ctx, iface, method, args, true)
	return err
}

// CallAs is Call with the result asserted to R.
func CallAs[R any](ctx context.Context, c *Client, iface, method string, args ...any) (R, error) {
	var zero R
	v, err := c.Call(ctx, iface, method, args...)
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	r, ok := v.(R)
	if !ok {
		return zero, &rpcerr.CallError{
			Kind:      rpcerr.ErrUnknownType,
			Interface: iface,
			Method:    method,
			ClientID:  c.id,
			Err:       fmt.Errorf("result is %s, want %s", contract.IDOf(v), contract.Of[R]().ID),
		}
	}
	return r, nil
}

// Terminate drops every per-session instance the hub holds for this client
// and returns how many interfaces held one. Afterwards the client is no
// longer ready and every call fails with rpcerr.ErrNotReady.
func (c *Client) Terminate(ctx context.Context) (int, error) {
	defer c.ready.Store(false)
	n, err := CallAs[int](ctx, c, contract.SessionInterface, contract.TerminateSessionMethod, c.id)
	if err != nil {
		return 0, err
	}
	c.logger.Info("session terminated", "interfaces", n)
	return n, nil
}

func (c *Client) call(ctx context.Context, iface, method string, args []any, oneWay bool) (any, error) {
	req := &message.Request{
		ID:        uuid.NewString(),
		ClientID:  c.id,
		Interface: iface,
		Method:    method,
		Status:    message.StatusCreated,
	}
	fail := func(kind, cause error, elapsed time.Duration) error {
		var ce *rpcerr.CallError
		if errors.As(cause, &ce) {
			return ce
		}
		return &rpcerr.CallError{
			Kind:      kind,
			Interface: iface,
			Method:    method,
			ClientID:  c.id,
			RequestID: req.ID,
			Elapsed:   elapsed,
			Err:       cause,
		}
	}

	if !c.Ready() {
		return nil, fail(rpcerr.ErrNotReady, nil, 0)
	}
	envs, err := c.types.EncodeAll(args)
	if err != nil {
		return nil, fail(rpcerr.ErrArgumentDecode, err, 0)
	}
	req.Args = envs

	info := &hook.CallInfo{
		OneWay:    oneWay,
		RequestID: req.ID,
		ClientID:  c.id,
		Interface: iface,
		Method:    method,
		Args:      args,
	}
	ctx = hook.Before(ctx, c.logger, c.hooks, info)
	start := time.Now()

	var result any
	resp, err := c.handler(ctx, req, oneWay)
	if err == nil && !oneWay {
		result, err = c.decodeResult(resp)
	}
	elapsed := time.Since(start)
	if err != nil {
		err = fail(kindOf(err), err, elapsed)
	}
	hook.After(ctx, c.logger, c.hooks, info, result, elapsed, err)
	return result, err
}

// send is the innermost handler of the client middleware chain.
func (c *Client) send(ctx context.Context, req *message.Request, oneWay bool) (*message.Response, error) {
	if oneWay {
		return nil, c.t.Notify(req)
	}
	resp, err := c.t.Call(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Status == message.StatusError {
		return nil, &remoteError{kind: rpcerr.FromCode(resp.Code), msg: resp.Error}
	}
	return resp, nil
}

func (c *Client) decodeResult(resp *message.Response) (any, error) {
	if resp == nil || resp.Result == nil {
		return nil, nil
	}
	return c.types.Decode(*resp.Result)
}

// remoteError is a failure reported by the hub, carrying the kind it
// arrived with.
type remoteError struct {
	kind error
	msg  string
}

func (e *remoteError) Error() string {
	if strings.Contains(e.msg, e.kind.Error()) {
		return e.msg
	}
	return e.kind.Error() + ": " + e.msg
}

func (e *remoteError) Is(target error) bool {
	return target == e.kind
}

func kindOf(err error) error {
	for _, kind := range []error{
		rpcerr.ErrUnknownInterface,
		rpcerr.ErrUnknownMethod,
		rpcerr.ErrArgumentDecode,
		rpcerr.ErrUnknownType,
		rpcerr.ErrNotReady,
		rpcerr.ErrCancelled,
		rpcerr.ErrRateLimited,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return rpcerr.ErrInvocation
}
