package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"cmbc-pay/message"
	"cmbc-pay/protocol"
	"cmbc-pay/transport"
)

// Metrics holds the bridge call collectors.
type Metrics struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics registers the bridge collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cmbc",
			Subsystem: "bridge",
			Name:      "calls_total",
			Help:      "Signing bridge calls by method and outcome.",
		}, []string{"method", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cmbc",
			Subsystem: "bridge",
			Name:      "call_duration_seconds",
			Help:      "Signing bridge round trip latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
	reg.MustRegister(m.calls, m.duration)
	return m
}

// Middleware records one observation per call.
func (m *Metrics) Middleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) (*message.Reply, error) {
			_, method, ok := message.SplitMethod(call.Method)
			if !ok {
				method = call.Method
			}

			start := time.Now()
			reply, err := next(ctx, call)
			m.duration.WithLabelValues(method).Observe(time.Since(start).Seconds())
			m.calls.WithLabelValues(method, outcome(err)).Inc()
			return reply, err
		}
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case protocol.IsRemote(err):
		return "remote_error"
	case errors.Is(err, transport.ErrConnect):
		return "connect_error"
	case errors.Is(err, transport.ErrWrite), errors.Is(err, transport.ErrRead):
		return "io_error"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	default:
		return "error"
	}
}
