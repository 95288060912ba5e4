package server

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cmbc-pay/codec"
	"cmbc-pay/message"
	"cmbc-pay/protocol"
	"cmbc-pay/registry"
	"cmbc-pay/transport"
)

type Kit struct{}

func (k *Kit) Concat(a, b string) (string, error) {
	return a + b, nil
}

func (k *Kit) Ping() error {
	return nil
}

func (k *Kit) Fail(msg string) error {
	return errors.New(msg)
}

// Skipped: not all parameters are strings.
func (k *Kit) Sum(a, b int) (int, error) {
	return a + b, nil
}

func startServer(t *testing.T, reg registry.Registry) *Server {
	t.Helper()

	svr := NewServer(WithIOTimeout(2 * time.Second))
	require.NoError(t, svr.Register("test.Kit", &Kit{}))
	require.NoError(t, svr.Register(LoopbackKitClass, &LoopbackKit{}))

	go svr.Serve("tcp", "127.0.0.1:0", "cmbc-bridge", "", reg)
	svr.Addr()
	t.Cleanup(func() { svr.Shutdown(time.Second) })
	return svr
}

// roundTrip frames args, sends them over a fresh connection and returns the raw reply.
func roundTrip(t *testing.T, addr string, args ...any) []byte {
	t.Helper()

	framed, err := protocol.Frame(codec.GetCodec(codec.CodecTypeBinary), args)
	require.NoError(t, err)

	raw, err := transport.New(transport.Options{ReadTimeout: 2 * time.Second}).Call(context.Background(), addr, framed)
	require.NoError(t, err)
	return raw
}

func TestRegisterSkipsNonStringMethods(t *testing.T) {
	svc, err := newService("test.Kit", &Kit{})
	require.NoError(t, err)

	assert.Contains(t, svc.method, "Concat")
	assert.Contains(t, svc.method, "Ping")
	assert.NotContains(t, svc.method, "Sum")
}

func TestRegisterRejectsValueReceiver(t *testing.T) {
	_, err := newService("test.Kit", Kit{})
	assert.Error(t, err)
}

func TestServerResult(t *testing.T) {
	svr := startServer(t, nil)

	raw := roundTrip(t, svr.Addr().String(), "test.Kit::Concat", "foo", "bar")
	reply, err := protocol.ParseResponse(raw, codec.GetCodec(codec.CodecTypeBinary))
	require.NoError(t, err)
	assert.Equal(t, "foobar", reply.Value)
}

func TestServerVoid(t *testing.T) {
	svr := startServer(t, nil)

	raw := roundTrip(t, svr.Addr().String(), "test.Kit::Ping")
	assert.Equal(t, "S"+message.VoidSentinel, string(raw))
}

func TestServerFailure(t *testing.T) {
	svr := startServer(t, nil)

	cases := map[string][]any{
		"boom":                     {"test.Kit::Fail", "boom"},
		"class nope.Kit not found": {"nope.Kit::Fail", "x"},
		"method test.Kit::Nope":    {"test.Kit::Nope"},
		"expects 2 arguments":      {"test.Kit::Concat", "only-one"},
		"key path not configured":  {LoopbackKitClass + "::SignAndEncryptMessage", "", "", "", "cGF5"},
	}
	for want, args := range cases {
		raw := roundTrip(t, svr.Addr().String(), args...)
		require.NotEmpty(t, raw)
		assert.Equal(t, byte(message.StatusFailure), raw[0])
		assert.True(t, strings.Contains(string(raw[1:]), want), "got %q, want %q", raw[1:], want)
	}
}

func TestServerCoercesScalarParams(t *testing.T) {
	svr := startServer(t, nil)

	raw := roundTrip(t, svr.Addr().String(), "test.Kit::Concat", int64(12), true)
	reply, err := protocol.ParseResponse(raw, codec.GetCodec(codec.CodecTypeBinary))
	require.NoError(t, err)
	assert.Equal(t, "12true", reply.Value)
}

func TestServerBadFrame(t *testing.T) {
	svr := startServer(t, nil)

	raw, err := transport.New(transport.Options{ReadTimeout: 2 * time.Second}).
		Call(context.Background(), svr.Addr().String(), []byte("3,abc"))
	require.NoError(t, err)
	require.NotEmpty(t, raw)
	assert.Equal(t, byte(message.StatusFailure), raw[0])
}

func TestServerRegistersAndDeregisters(t *testing.T) {
	reg := registry.NewStaticRegistry()

	svr := NewServer()
	require.NoError(t, svr.Register(LoopbackKitClass, &LoopbackKit{}))
	go svr.Serve("tcp", "127.0.0.1:0", "cmbc-bridge", "", reg)
	addr := svr.Addr().String()

	require.Eventually(t, func() bool {
		insts, err := reg.Discover("cmbc-bridge")
		return err == nil && len(insts) == 1 && insts[0].Addr == addr
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, svr.Shutdown(time.Second))
	_, err := reg.Discover("cmbc-bridge")
	assert.ErrorIs(t, err, registry.ErrNoInstances)

	_, err = net.DialTimeout("tcp", addr, 200*time.Millisecond)
	assert.Error(t, err, "listener must be closed after shutdown")
}

func TestLoopbackKit(t *testing.T) {
	kit := &LoopbackKit{}

	signed, err := kit.SignAndEncryptMessage("priv.sm2", "pwd", "pub.cer", "eyJhIjoxfQ==")
	require.NoError(t, err)
	assert.Equal(t, "ZXlKaElqb3hmUT09", signed)

	plain, err := kit.DecryptAndVerifyMessage("priv.sm2", "pwd", "pub.cer", "eyJhIjoxfQ==")
	require.NoError(t, err)
	assert.Equal(t, "eyJhIjoxfQ==", plain)
}
