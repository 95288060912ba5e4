// Package gateway is the CMBC payment application: it composes the cashier payload
// from merchant configuration and per-order parameters, dispatches it to a named
// pay gateway, and verifies inbound callbacks.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"cmbc-pay/cashier"
)

const (
	ModeNormal = "normal"

	// ContextField is the form field carrying the signed envelope, both when posting
	// to the cashier and in its callbacks.
	ContextField = "context"

	fieldCallbackURL = "_CallBackUrl"
	fieldMerchInfo   = "merchInfo"
	fieldNotifyURL   = "url"
	fieldTimestamp   = "timestamp"
)

// URLs maps a mode to the cashier base URI.
var URLs = map[string]string{
	ModeNormal: "https://uat.zwmedia.com/",
}

var (
	ErrInvalidGateway = errors.New("gateway: pay gateway not found")
	ErrUnsupported    = errors.New("gateway: operation not supported by cmbc")
)

type Config struct {
	Mode      string // key into URLs, default ModeNormal
	JumpURL   string // where the cashier sends the browser afterwards
	CorpID    string // merchant id, sent as merchInfo
	NotifyURL string // server-to-server callback
}

// PayResult is what the caller needs to hand the customer to the cashier: post
// Context as the ContextField form value to Endpoint.
type PayResult struct {
	Endpoint string          `json:"endpoint"`
	Context  string          `json:"context"`
	Payload  cashier.Payload `json:"payload"`
}

// Gateway is one way of paying, e.g. the hosted cashier page.
type Gateway interface {
	Pay(ctx context.Context, endpoint string, payload cashier.Payload) (*PayResult, error)
}

// Factory builds a pay gateway bound to an application's codec and logger.
type Factory func(codec *cashier.Codec, logger *zap.Logger) Gateway

type Option func(*Cmbc)

// WithGateway registers f under name, replacing any existing entry.
func WithGateway(name string, f Factory) Option {
	return func(a *Cmbc) { a.gateways[normalizeName(name)] = f }
}

// WithClock overrides the time source used for the payload timestamp.
func WithClock(now func() time.Time) Option {
	return func(a *Cmbc) { a.now = now }
}

// Cmbc is the gateway application. It is immutable after New and safe for
// concurrent use.
type Cmbc struct {
	cfg      Config
	baseURI  string
	codec    *cashier.Codec
	logger   *zap.Logger
	gateways map[string]Factory
	now      func() time.Time
}

func New(cfg Config, codec *cashier.Codec, logger *zap.Logger, opts ...Option) (*Cmbc, error) {
	if codec == nil {
		return nil, errors.New("gateway: codec is required")
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeNormal
	}
	baseURI, ok := URLs[cfg.Mode]
	if !ok {
		return nil, fmt.Errorf("gateway: unknown mode %q", cfg.Mode)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &Cmbc{
		cfg:      cfg,
		baseURI:  baseURI,
		codec:    codec,
		logger:   logger,
		gateways: map[string]Factory{"cashier": NewCashier},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// BaseURI returns the cashier endpoint for the configured mode.
func (a *Cmbc) BaseURI() string {
	return a.baseURI
}

// Gateways lists the registered pay gateway names.
func (a *Cmbc) Gateways() []string {
	names := make([]string, 0, len(a.gateways))
	for name := range a.gateways {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Pay builds the payload for one order and hands it to the gateway called name.
//
// params may override _CallBackUrl and url; every other key is merged over the
// base fields. Empty values are dropped before the gateway sees the payload.
func (a *Cmbc) Pay(ctx context.Context, name string, params map[string]any) (*PayResult, error) {
	factory, ok := a.gateways[normalizeName(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidGateway, name)
	}

	a.logger.Info("pay starting", zap.String("gateway", name), zap.Int("params", len(params)))

	payload := a.basePayload()
	rest := make(map[string]any, len(params))
	for k, v := range params {
		switch k {
		case fieldCallbackURL, fieldNotifyURL:
			if v != nil {
				payload[k] = v
			}
		default:
			rest[k] = v
		}
	}
	payload = payload.Merge(rest).Filter()

	return factory(a.codec, a.logger).Pay(ctx, a.baseURI, payload)
}

// Verify decodes and verifies a callback's context field.
func (a *Cmbc) Verify(ctx context.Context, content string) (cashier.Payload, error) {
	p, err := a.codec.Decode(ctx, content)
	if err != nil {
		return nil, err
	}
	a.logger.Info("callback verified", zap.String("orderNum", p.String(cashier.OrderNumField)))
	return p, nil
}

// Cancel is not offered by the cmbc cashier.
func (a *Cmbc) Cancel(ctx context.Context, order map[string]any) (cashier.Payload, error) {
	return nil, fmt.Errorf("%w: cancel", ErrUnsupported)
}

func (a *Cmbc) Close(ctx context.Context, order map[string]any) (cashier.Payload, error) {
	return nil, fmt.Errorf("%w: close", ErrUnsupported)
}

func (a *Cmbc) Find(ctx context.Context, order map[string]any, refund bool) (cashier.Payload, error) {
	return nil, fmt.Errorf("%w: find", ErrUnsupported)
}

func (a *Cmbc) Refund(ctx context.Context, order map[string]any) (cashier.Payload, error) {
	return nil, fmt.Errorf("%w: refund", ErrUnsupported)
}

// Success would render the acknowledgement body the cashier expects; none is
// documented.
func (a *Cmbc) Success() (string, error) {
	return "", fmt.Errorf("%w: success", ErrUnsupported)
}

func (a *Cmbc) basePayload() cashier.Payload {
	return cashier.Payload{
		fieldCallbackURL: a.cfg.JumpURL,
		fieldMerchInfo:   a.cfg.CorpID,
		fieldNotifyURL:   a.cfg.NotifyURL,
		fieldTimestamp:   a.now().UnixMilli(),
	}
}

// normalizeName maps "Cashier", "cashier" and "CASHIER" to one key.
func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
