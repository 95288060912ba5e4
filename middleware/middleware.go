// Package middleware wraps bridge calls with cross-cutting behavior.
//
// The chain is an onion: Chain(A, B, C)(h) == A(B(C(h))), so A runs first on the
// way in and last on the way out. The same HandlerFunc shape is used by the client
// (around the socket round trip) and by the loopback server (around the method call).
package middleware

import (
	"context"

	"cmbc-pay/message"
)

type HandlerFunc func(ctx context.Context, call *message.Call) (*message.Reply, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain 将多个中间件组合成一个中间件
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
