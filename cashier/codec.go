package cashier

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"cmbc-pay/message"
)

const (
	// DefaultKitClass is the bridge class that holds the CFCA envelope helpers.
	DefaultKitClass = "cfca.sadk.cmbc.patch.tools.php.PHPDecryptKitAllInOne"
	// DefaultErrorMarker appears in a decrypt-and-verify result when the bridge
	// could not verify the envelope.
	DefaultErrorMarker = "ERROR"

	methodSign   = "SignAndEncryptMessage"
	methodVerify = "DecryptAndVerifyMessage"

	// OrderNoField and OrderNumField are the raw and merchant-stripped order ids.
	OrderNoField  = "orderNo"
	OrderNumField = "orderNum"
)

var (
	ErrEmptyResult   = errors.New("cashier: bridge returned no value")
	ErrMalformedBody = errors.New("cashier: malformed envelope")
)

// InvalidSignError is returned by Decode when the bridge reported a verification
// failure twice in a row. Text is the bridge's result verbatim.
type InvalidSignError struct {
	Text string
}

func (e *InvalidSignError) Error() string {
	return "cashier: invalid sign: " + e.Text
}

// Caller invokes a bridge method. *client.Client satisfies it.
type Caller interface {
	Call(ctx context.Context, method string, params ...any) (*message.Reply, error)
}

// Credentials are the key material paths handed to the bridge on every call.
type Credentials struct {
	PrivateKeyPath     string
	PrivateKeyPassword string
	PublicKeyPath      string
}

type Options struct {
	Caller      Caller
	Credentials Credentials
	KitClass    string // default DefaultKitClass
	MerchantID  string // stripped from orderNo to derive orderNum
	ErrorMarker string // default DefaultErrorMarker
	Logger      *zap.Logger
}

// Codec encodes outbound payloads and decodes inbound callbacks. It holds only
// immutable settings and is safe for concurrent use.
type Codec struct {
	caller     Caller
	creds      Credentials
	kitClass   string
	merchantID string
	marker     string
	logger     *zap.Logger
}

func NewCodec(opts Options) (*Codec, error) {
	if opts.Caller == nil {
		return nil, errors.New("cashier: caller is required")
	}
	c := &Codec{
		caller:     opts.Caller,
		creds:      opts.Credentials,
		kitClass:   opts.KitClass,
		merchantID: opts.MerchantID,
		marker:     opts.ErrorMarker,
		logger:     opts.Logger,
	}
	if c.kitClass == "" {
		c.kitClass = DefaultKitClass
	}
	if c.marker == "" {
		c.marker = DefaultErrorMarker
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c, nil
}

// Encode signs and encrypts p and returns the opaque envelope the cashier expects.
func (c *Codec) Encode(ctx context.Context, p Payload) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p); err != nil {
		return "", fmt.Errorf("cashier: marshal payload: %w", err)
	}
	plain := base64.StdEncoding.EncodeToString(bytes.TrimRight(buf.Bytes(), "\n"))

	signed, err := c.invoke(ctx, methodSign, plain)
	if err != nil {
		return "", fmt.Errorf("cashier: sign and encrypt: %w", err)
	}
	return signed, nil
}

// Decode verifies a callback envelope and returns its payload with orderNum set.
//
// A result carrying the error marker is retried once with the same ciphertext; a
// second marker fails with *InvalidSignError.
func (c *Codec) Decode(ctx context.Context, encoded string) (Payload, error) {
	cipher, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}

	text, err := c.invoke(ctx, methodVerify, string(cipher))
	if err != nil {
		return nil, fmt.Errorf("cashier: decrypt and verify: %w", err)
	}
	if strings.Contains(text, c.marker) {
		c.logger.Warn("verify returned error marker, retrying", zap.String("result", text))

		text, err = c.invoke(ctx, methodVerify, string(cipher))
		if err != nil {
			return nil, fmt.Errorf("cashier: decrypt and verify: %w", err)
		}
		if strings.Contains(text, c.marker) {
			return nil, &InvalidSignError{Text: text}
		}
	}

	plain, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("%w: verified body: %v", ErrMalformedBody, err)
	}

	var p Payload
	dec := json.NewDecoder(bytes.NewReader(plain))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}
	if p == nil {
		p = Payload{}
	}
	for k, v := range p {
		p[k] = normalizeNumber(v)
	}

	if _, ok := p[OrderNoField]; ok {
		p[OrderNumField] = StripMerchant(p.String(OrderNoField), c.merchantID)
	}
	return p, nil
}

// normalizeNumber turns integral numbers that fit an int64 back into int64 so a
// payload built with integers decodes to the same values. Decimals and integers
// out of range stay json.Number with their exact text.
func normalizeNumber(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		return t
	case map[string]any:
		for k, e := range t {
			t[k] = normalizeNumber(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = normalizeNumber(e)
		}
		return t
	default:
		return v
	}
}

// StripMerchant removes the first len(merchantID) bytes of orderNo. Order numbers
// shorter than the merchant id are returned unchanged.
func StripMerchant(orderNo, merchantID string) string {
	if len(orderNo) < len(merchantID) {
		return orderNo
	}
	return orderNo[len(merchantID):]
}

// invoke calls kitClass::method with the credentials followed by arg and requires a
// string result.
func (c *Codec) invoke(ctx context.Context, method, arg string) (string, error) {
	reply, err := c.caller.Call(ctx, c.kitClass+message.MethodSeparator+method,
		c.creds.PrivateKeyPath, c.creds.PrivateKeyPassword, c.creds.PublicKeyPath, arg)
	if err != nil {
		return "", err
	}
	if reply == nil || reply.Void {
		return "", ErrEmptyResult
	}
	s, ok := reply.Value.(string)
	if !ok {
		return "", fmt.Errorf("cashier: %s returned %T, want string", method, reply.Value)
	}
	return s, nil
}
