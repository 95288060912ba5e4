package middleware

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"cmbc-pay/message"
	"cmbc-pay/transport"
)

// RetryMiddleware re-sends a call whose connection could not be established.
// Nothing else is retried: once bytes have been written the bridge may have acted
// on the request. Backoff doubles from baseDelay.
func RetryMiddleware(maxRetries int, baseDelay time.Duration, logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) (*message.Reply, error) {
			reply, err := next(ctx, call)
			for i := 0; i < maxRetries; i++ {
				if err == nil || !errors.Is(err, transport.ErrConnect) {
					return reply, err
				}
				logger.Info("retrying bridge call",
					zap.Int("attempt", i+1),
					zap.String("method", call.Method),
					zap.Error(err))

				select {
				case <-time.After(baseDelay * time.Duration(1<<i)):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
				reply, err = next(ctx, call)
			}
			return reply, err
		}
	}
}
