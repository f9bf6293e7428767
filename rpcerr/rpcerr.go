// Package rpcerr defines the failure taxonomy shared by the server and the
// client facade.
//
// Every failure that crosses the wire is tagged with one of the sentinel
// kinds below. On the server the dispatcher wraps failures in a CallError;
// the kind travels as Response.Code and the client rebuilds an equivalent
// CallError, so errors.Is works the same on both sides.
package rpcerr

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrUnknownInterface = errors.New("unknown interface")
	ErrUnknownMethod    = errors.New("unknown method")
	ErrUnknownType      = errors.New("unknown type")
	ErrArgumentDecode   = errors.New("argument decode error")
	ErrInvocation       = errors.New("invocation failure")
	ErrNotReady         = errors.New("not ready")
	ErrCancelled        = errors.New("cancelled")

	ErrRateLimited       = errors.New("rate limit exceeded")
	ErrReservedInterface = errors.New("reserved interface name")
)

// codes maps sentinels to their wire names. Order matters for Code: the
// first sentinel matched wins, so ErrArgumentDecode precedes ErrUnknownType.
var codes = []struct {
	code string
	err  error
}{
	{"UnknownInterface", ErrUnknownInterface},
	{"UnknownMethod", ErrUnknownMethod},
	{"ArgumentDecodeError", ErrArgumentDecode},
	{"UnknownType", ErrUnknownType},
	{"InvocationFailure", ErrInvocation},
	{"NotReady", ErrNotReady},
	{"Cancelled", ErrCancelled},
	{"RateLimited", ErrRateLimited},
	{"ReservedInterface", ErrReservedInterface},
}

// Code returns the wire name of the first taxonomy kind err matches, or
// "InvocationFailure" for anything unclassified.
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "InvocationFailure"
}

// FromCode is the inverse of Code. Unknown codes map to ErrInvocation.
func FromCode(code string) error {
	for _, c := range codes {
		if c.code == code {
			return c.err
		}
	}
	return ErrInvocation
}

// CallError is a failed call together with its calling context.
type CallError struct {
	Kind      error // one of the sentinels above
	Interface string
	Method    string
	ClientID  string
	RequestID string
	Elapsed   time.Duration
	Err       error // underlying cause, may be nil
}

func (e *CallError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s.%s", e.Interface, e.Method)
	if e.ClientID != "" || e.RequestID != "" {
		fmt.Fprintf(&b, " (client %s, request %s)", e.ClientID, e.RequestID)
	}
	b.WriteString(": ")
	switch {
	case e.Err == nil:
		b.WriteString(e.Kind.Error())
	case errors.Is(e.Err, e.Kind):
		// The cause already names the kind.
		b.WriteString(e.Err.Error())
	default:
		b.WriteString(e.Kind.Error())
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *CallError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Message returns the cause text without the calling context prefix, which
// is what goes on the wire.
func (e *CallError) Message() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return e.Err.Error()
}
