package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cmbc-pay/cashier"
	"cmbc-pay/message"
)

// loopCaller signs by wrapping in base64 and verifies as the identity, like the
// loopback bridge, without a socket.
type loopCaller struct {
	methods []string
}

func (c *loopCaller) Call(ctx context.Context, method string, params ...any) (*message.Reply, error) {
	c.methods = append(c.methods, method)
	arg := params[len(params)-1].(string)
	switch {
	case strings.HasSuffix(method, "::SignAndEncryptMessage"):
		return &message.Reply{Value: base64.StdEncoding.EncodeToString([]byte(arg))}, nil
	case strings.HasSuffix(method, "::DecryptAndVerifyMessage"):
		return &message.Reply{Value: arg}, nil
	}
	return nil, errors.New("unknown method " + method)
}

var fixedNow = time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)

func newApp(t *testing.T, opts ...Option) (*Cmbc, *loopCaller) {
	t.Helper()

	caller := &loopCaller{}
	codec, err := cashier.NewCodec(cashier.Options{Caller: caller, MerchantID: "MERCH123"})
	require.NoError(t, err)

	cfg := Config{
		JumpURL:   "https://shop.example/return",
		CorpID:    "MERCH123",
		NotifyURL: "https://shop.example/cmbc/notify",
	}
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	app, err := New(cfg, codec, zap.NewNop(), opts...)
	require.NoError(t, err)
	return app, caller
}

// unwrap reverses the loop caller's signing and returns the JSON payload.
func unwrap(t *testing.T, envelope string) map[string]any {
	t.Helper()

	inner, err := base64.StdEncoding.DecodeString(envelope)
	require.NoError(t, err)
	plain, err := base64.StdEncoding.DecodeString(string(inner))
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(plain, &m))
	return m
}

func TestNewRejectsUnknownMode(t *testing.T) {
	codec, err := cashier.NewCodec(cashier.Options{Caller: &loopCaller{}})
	require.NoError(t, err)

	_, err = New(Config{Mode: "sandbox"}, codec, nil)
	assert.Error(t, err)

	_, err = New(Config{}, nil, nil)
	assert.Error(t, err)

	app, err := New(Config{}, codec, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://uat.zwmedia.com/", app.BaseURI())
}

func TestPayCashier(t *testing.T) {
	app, caller := newApp(t)

	res, err := app.Pay(context.Background(), "cashier", map[string]any{
		"orderNo": "MERCH123ORDER1",
		"amount":  "9.90",
		"remark":  "",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://uat.zwmedia.com/", res.Endpoint)
	assert.Equal(t, []string{cashier.DefaultKitClass + "::SignAndEncryptMessage"}, caller.methods)

	sent := unwrap(t, res.Context)
	assert.Equal(t, "https://shop.example/return", sent["_CallBackUrl"])
	assert.Equal(t, "MERCH123", sent["merchInfo"])
	assert.Equal(t, "https://shop.example/cmbc/notify", sent["url"])
	assert.Equal(t, float64(fixedNow.UnixMilli()), sent["timestamp"])
	assert.Equal(t, "0", sent["payWay"])
	assert.Equal(t, "MERCH123ORDER1", sent["orderNo"])
	assert.NotContains(t, sent, "remark", "empty values are filtered")

	assert.Equal(t, "0", res.Payload["payWay"])
}

func TestPayOverridesURLs(t *testing.T) {
	app, _ := newApp(t)

	res, err := app.Pay(context.Background(), "Cashier", map[string]any{
		"_CallBackUrl": "https://other.example/back",
		"url":          "https://other.example/notify",
	})
	require.NoError(t, err)

	sent := unwrap(t, res.Context)
	assert.Equal(t, "https://other.example/back", sent["_CallBackUrl"])
	assert.Equal(t, "https://other.example/notify", sent["url"])

	// Overrides apply to one order only.
	res, err = app.Pay(context.Background(), "cashier", nil)
	require.NoError(t, err)
	sent = unwrap(t, res.Context)
	assert.Equal(t, "https://shop.example/return", sent["_CallBackUrl"])
}

func TestPayEmptyConfigFieldsFiltered(t *testing.T) {
	codec, err := cashier.NewCodec(cashier.Options{Caller: &loopCaller{}})
	require.NoError(t, err)
	app, err := New(Config{CorpID: "M1"}, codec, nil)
	require.NoError(t, err)

	res, err := app.Pay(context.Background(), "cashier", map[string]any{"orderNo": "M1X"})
	require.NoError(t, err)

	sent := unwrap(t, res.Context)
	assert.NotContains(t, sent, "_CallBackUrl")
	assert.NotContains(t, sent, "url")
	assert.Equal(t, "M1", sent["merchInfo"])
}

func TestPayUnknownGateway(t *testing.T) {
	app, caller := newApp(t)

	_, err := app.Pay(context.Background(), "wap", nil)
	assert.ErrorIs(t, err, ErrInvalidGateway)
	assert.Empty(t, caller.methods)
}

type stubGateway struct{}

func (stubGateway) Pay(ctx context.Context, endpoint string, payload cashier.Payload) (*PayResult, error) {
	return &PayResult{Endpoint: endpoint + "scan", Payload: payload}, nil
}

func TestWithGateway(t *testing.T) {
	app, _ := newApp(t, WithGateway("Scan", func(*cashier.Codec, *zap.Logger) Gateway { return stubGateway{} }))
	assert.Equal(t, []string{"cashier", "scan"}, app.Gateways())

	res, err := app.Pay(context.Background(), "scan", map[string]any{"orderNo": "1"})
	require.NoError(t, err)
	assert.Equal(t, "https://uat.zwmedia.com/scan", res.Endpoint)
	assert.Equal(t, "1", res.Payload["orderNo"])
}

func TestVerify(t *testing.T) {
	app, _ := newApp(t)

	res, err := app.Pay(context.Background(), "cashier", map[string]any{"orderNo": "MERCH123ORDER9"})
	require.NoError(t, err)

	p, err := app.Verify(context.Background(), res.Context)
	require.NoError(t, err)
	assert.Equal(t, "ORDER9", p.String(cashier.OrderNumField))
	assert.Equal(t, "0", p.String("payWay"))
}

func TestUnsupportedOperations(t *testing.T) {
	app, _ := newApp(t)
	ctx := context.Background()

	_, err := app.Cancel(ctx, nil)
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = app.Close(ctx, nil)
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = app.Find(ctx, nil, false)
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = app.Refund(ctx, nil)
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = app.Success()
	assert.ErrorIs(t, err, ErrUnsupported)
}
