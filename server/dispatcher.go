package server

import (
	"context"
	"errors"
	"fmt"
	"hubrpc/container"
	"hubrpc/contract"
	"hubrpc/hook"
	"hubrpc/message"
	"hubrpc/rpcerr"
	"log/slog"
	"time"
)

// Dispatcher turns a decoded request into an invocation on the instance the
// container resolves for it. It is transport-agnostic: the Server feeds it
// frames, tests can call Handle directly.
type Dispatcher struct {
	container *container.Container
	hooks     hook.Chain
	logger    *slog.Logger
}

type DispatcherOption func(*Dispatcher)

// WithHook adds a hook called around every invocation. Hooks run in the
// order they were added.
func WithHook(h hook.Hook) DispatcherOption {
	return func(d *Dispatcher) { d.hooks = append(d.hooks, h) }
}

// WithDispatchLogger sets the logger failures are reported to.
func WithDispatchLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

func NewDispatcher(c *container.Container, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{container: c, logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Container returns the container requests are resolved against.
func (d *Dispatcher) Container() *container.Container {
	return d.container
}

// Handle executes one call:
//
//	lookup descriptor → lookup method → decode args → resolve instance
//	  → BeforeCall → invoke → encode result → AfterCall
//
// Everything from argument decoding to result encoding is timed and the
// elapsed time is handed to AfterCall. For one-way calls the response is
// nil; a failure is still returned so the caller can log it. Every failure
// is a *rpcerr.CallError.
func (d *Dispatcher) Handle(ctx context.Context, req *message.Request, oneWay bool) (*message.Response, error) {
	fail := func(kind, cause error, elapsed time.Duration) error {
		ce := &rpcerr.CallError{
			Kind:      kind,
			Interface: req.Interface,
			Method:    req.Method,
			ClientID:  req.ClientID,
			RequestID: req.ID,
			Elapsed:   elapsed,
			Err:       cause,
		}
		d.logger.ErrorContext(ctx, "call failed",
			"interface", req.Interface,
			"method", req.Method,
			"client", req.ClientID,
			"request", req.ID,
			"one_way", oneWay,
			"elapsed", elapsed,
			"err", ce.Message(),
		)
		return ce
	}

	desc, ok := d.container.Lookup(req.Interface)
	if !ok {
		return nil, fail(rpcerr.ErrUnknownInterface, nil, 0)
	}
	method, ok := desc.Interface.Method(req.Method)
	if !ok {
		return nil, fail(rpcerr.ErrUnknownMethod, nil, 0)
	}

	start := time.Now()
	args, err := desc.Types.DecodeAll(req.Args)
	if err != nil {
		return nil, fail(rpcerr.ErrArgumentDecode, err, time.Since(start))
	}
	if err := checkArgs(method, args); err != nil {
		return nil, fail(rpcerr.ErrArgumentDecode, err, time.Since(start))
	}

	instance, err := d.container.ResolveDescriptor(desc, req.ClientID)
	if err != nil {
		return nil, fail(rpcerr.ErrInvocation, err, time.Since(start))
	}

	_, direct := instance.(contract.Invoker)
	info := &hook.CallInfo{
		Direct:    direct,
		OneWay:    oneWay,
		RequestID: req.ID,
		ClientID:  req.ClientID,
		Interface: req.Interface,
		Method:    req.Method,
		Args:      args,
	}
	ctx = hook.Before(ctx, d.logger, d.hooks, info)

	result, err := invoke(instance, method, args)
	var resp *message.Response
	if err == nil && !oneWay {
		resp, err = d.reply(req, desc, result)
	}
	elapsed := time.Since(start)

	if err != nil {
		err = fail(kindOf(err), err, elapsed)
	}
	hook.After(ctx, d.logger, d.hooks, info, result, elapsed, err)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (d *Dispatcher) reply(req *message.Request, desc *container.Descriptor, result any) (*message.Response, error) {
	resp := message.ReplyTo(req, message.StatusProcessed)
	if result == nil {
		return resp, nil
	}
	env, err := desc.Types.Encode(result)
	if err != nil {
		return nil, fmt.Errorf("%w: encode result: %w", rpcerr.ErrInvocation, err)
	}
	resp.Result = &env
	return resp, nil
}

// checkArgs verifies arity and argument types before anything is invoked,
// so a mismatch fails the same way on the bound and the direct path.
func checkArgs(m *contract.Method, args []any) error {
	if len(args) != len(m.Params) {
		return fmt.Errorf("%s expects %d arguments, got %d", m.Name, len(m.Params), len(args))
	}
	for i, p := range m.Params {
		if !p.Accepts(args[i]) {
			return fmt.Errorf("argument %d: %s is not %s", i, contract.IDOf(args[i]), p.ID)
		}
	}
	return nil
}

// kindOf classifies a failure raised by the invocation itself. Instances may
// report taxonomy errors (an Invoker that does not know a method); anything
// else is an invocation failure.
func kindOf(err error) error {
	for _, kind := range []error{rpcerr.ErrUnknownMethod, rpcerr.ErrArgumentDecode, rpcerr.ErrNotReady, rpcerr.ErrCancelled} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return rpcerr.ErrInvocation
}
