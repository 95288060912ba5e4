package client

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cmbc-pay/codec"
	"cmbc-pay/loadbalance"
	"cmbc-pay/middleware"
	"cmbc-pay/protocol"
	"cmbc-pay/registry"
	"cmbc-pay/server"
	"cmbc-pay/transport"
)

const bridgeService = "cmbc-bridge"

type Echo struct{}

func (e *Echo) Upper(s string) (string, error) {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b), nil
}

func (e *Echo) Touch(s string) error {
	return nil
}

func (e *Echo) Refuse(s string) error {
	return errors.New("ERROR: " + s)
}

// startBridge runs a bridge registered in reg and returns its address.
func startBridge(t *testing.T, reg registry.Registry, ct codec.CodecType) string {
	t.Helper()

	svr := server.NewServer(server.WithCodec(ct))
	require.NoError(t, svr.Register("test.Echo", &Echo{}))
	require.NoError(t, svr.Register(server.LoopbackKitClass, &server.LoopbackKit{}))

	go svr.Serve("tcp", "127.0.0.1:0", bridgeService, "", reg)
	addr := svr.Addr().String()
	t.Cleanup(func() { svr.Shutdown(time.Second) })
	return addr
}

func newClient(t *testing.T, reg registry.Registry, ct codec.CodecType, mws ...middleware.Middleware) *Client {
	t.Helper()

	c, err := NewClient(Options{
		Registry:    reg,
		Service:     bridgeService,
		CodecType:   ct,
		Transport:   transport.New(transport.Options{ConnectTimeout: time.Second, ReadTimeout: 2 * time.Second}),
		Middlewares: mws,
	})
	require.NoError(t, err)
	return c
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Options{Service: bridgeService})
	assert.Error(t, err)

	_, err = NewClient(Options{Registry: registry.NewStaticRegistry()})
	assert.Error(t, err)
}

func TestClientCall(t *testing.T) {
	for _, ct := range []codec.CodecType{codec.CodecTypeBinary, codec.CodecTypeJSON} {
		t.Run(ct.String(), func(t *testing.T) {
			reg := registry.NewStaticRegistry()
			startBridge(t, reg, ct)
			c := newClient(t, reg, ct, middleware.LoggingMiddleware(zap.NewNop()))

			reply, err := c.Call(context.Background(), "test.Echo::Upper", "pay")
			require.NoError(t, err)
			assert.False(t, reply.Void)
			assert.Equal(t, "PAY", reply.Value)
		})
	}
}

func TestDefaultClientTalksToDefaultBridge(t *testing.T) {
	reg := registry.NewStaticRegistry()
	svr := server.NewServer()
	require.NoError(t, svr.Register("test.Echo", &Echo{}))
	go svr.Serve("tcp", "127.0.0.1:0", bridgeService, "", reg)
	svr.Addr()
	t.Cleanup(func() { svr.Shutdown(time.Second) })

	c, err := NewClient(Options{Registry: reg, Service: bridgeService})
	require.NoError(t, err)

	reply, err := c.Call(context.Background(), "test.Echo::Upper", "default")
	require.NoError(t, err)
	assert.Equal(t, "DEFAULT", reply.Value)
}

func TestClientVoid(t *testing.T) {
	reg := registry.NewStaticRegistry()
	startBridge(t, reg, codec.CodecTypeBinary)
	c := newClient(t, reg, codec.CodecTypeBinary)

	reply, err := c.Call(context.Background(), "test.Echo::Touch", "x")
	require.NoError(t, err)
	assert.True(t, reply.Void)
	assert.Nil(t, reply.Value)
}

func TestClientRemoteFailure(t *testing.T) {
	reg := registry.NewStaticRegistry()
	startBridge(t, reg, codec.CodecTypeBinary)
	c := newClient(t, reg, codec.CodecTypeBinary)

	_, err := c.Call(context.Background(), "test.Echo::Refuse", "bad sign")
	require.Error(t, err)
	assert.True(t, protocol.IsRemote(err))

	var re *protocol.RemoteError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "ERROR: bad sign", re.Message)
}

func TestClientMalformedMethod(t *testing.T) {
	reg := registry.NewStaticRegistry()
	startBridge(t, reg, codec.CodecTypeBinary)
	c := newClient(t, reg, codec.CodecTypeBinary)

	_, err := c.Call(context.Background(), "Upper", "x")
	assert.ErrorIs(t, err, protocol.ErrEncoding)
}

func TestClientNoBridge(t *testing.T) {
	c := newClient(t, registry.NewStaticRegistry(), codec.CodecTypeBinary)

	_, err := c.Call(context.Background(), "test.Echo::Upper", "x")
	assert.ErrorIs(t, err, registry.ErrNoInstances)
}

func TestClientConnectErrorIsRetried(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	dead := ln.Addr().String()
	ln.Close()

	reg := registry.NewStaticRegistry()
	reg.Register(bridgeService, registry.ServiceInstance{Addr: dead, Weight: 1}, 0)
	c := newClient(t, reg, codec.CodecTypeBinary, middleware.RetryMiddleware(2, time.Millisecond, zap.NewNop()))

	_, err = c.Call(context.Background(), "test.Echo::Upper", "x")
	assert.ErrorIs(t, err, transport.ErrConnect)
}

func TestClientBalancesAcrossBridges(t *testing.T) {
	reg := registry.NewStaticRegistry()
	startBridge(t, reg, codec.CodecTypeBinary)
	startBridge(t, reg, codec.CodecTypeBinary)

	insts, err := reg.Discover(bridgeService)
	require.NoError(t, err)
	require.Len(t, insts, 2)

	c, err := NewClient(Options{
		Registry: reg,
		Service:  bridgeService,
		Balancer: &loadbalance.RoundRobinBalancer{},
	})
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		reply, err := c.Call(context.Background(), "test.Echo::Upper", "rr")
		require.NoError(t, err)
		assert.Equal(t, "RR", reply.Value)
	}
}

func TestClientConcurrentCalls(t *testing.T) {
	reg := registry.NewStaticRegistry()
	startBridge(t, reg, codec.CodecTypeBinary)
	c := newClient(t, reg, codec.CodecTypeBinary)

	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		go func() {
			reply, err := c.Call(context.Background(), "test.Echo::Upper", "abc")
			if err == nil && reply.Value != "ABC" {
				err = errors.New("unexpected reply")
			}
			errs <- err
		}()
	}
	for i := 0; i < 20; i++ {
		assert.NoError(t, <-errs)
	}
}

func BenchmarkClientCall(b *testing.B) {
	reg := registry.NewStaticRegistry()
	svr := server.NewServer()
	if err := svr.Register("test.Echo", &Echo{}); err != nil {
		b.Fatal(err)
	}
	go svr.Serve("tcp", "127.0.0.1:0", bridgeService, "", reg)
	svr.Addr()
	defer svr.Shutdown(time.Second)

	c, err := NewClient(Options{Registry: reg, Service: bridgeService})
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := c.Call(context.Background(), "test.Echo::Upper", "bench"); err != nil {
			b.Fatal(err)
		}
	}
}
