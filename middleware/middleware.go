// Package middleware wraps call handlers, on the server around the
// dispatcher and on the client around the transport round trip.
//
// Chain wraps middlewares in reverse order to build the onion:
//
//	Chain(A, B, C)(handler) → A(B(C(handler)))
//	A.before → B.before → C.before → handler → C.after → B.after → A.after
package middleware

import (
	"context"
	"hubrpc/message"
)

// HandlerFunc handles one request. One-way calls return a nil Response.
type HandlerFunc func(ctx context.Context, req *message.Request, oneWay bool) (*message.Response, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes several middlewares into one.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
