package middleware

import (
	"context"
	"time"

	"cmbc-pay/message"
)

// TimeOutMiddleware bounds the whole call, dial to last byte read. The transport
// honors the deadline by aborting blocked socket I/O. A timeout <= 0 disables it.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if timeout <= 0 {
			return next
		}
		return func(ctx context.Context, call *message.Call) (*message.Reply, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return next(ctx, call)
		}
	}
}
