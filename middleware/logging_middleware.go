package middleware

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cmbc-pay/message"
)

type callIDKey struct{}

// CallID returns the id LoggingMiddleware attached to ctx, if any.
func CallID(ctx context.Context) string {
	id, _ := ctx.Value(callIDKey{}).(string)
	return id
}

// LoggingMiddleware logs every call with a generated call id and its duration.
// Parameters are never logged: they carry key paths and passwords.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) (*message.Reply, error) {
			id := uuid.NewString()
			ctx = context.WithValue(ctx, callIDKey{}, id)

			start := time.Now()
			reply, err := next(ctx, call)
			fields := []zap.Field{
				zap.String("call_id", id),
				zap.String("method", call.Method),
				zap.Duration("duration", time.Since(start)),
			}
			if err != nil {
				logger.Warn("bridge call failed", append(fields, zap.Error(err))...)
				return reply, err
			}
			logger.Debug("bridge call", fields...)
			return reply, nil
		}
	}
}
