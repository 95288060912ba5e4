// Package protocol implements the length-prefixed request frame and the
// status-prefixed response used to talk to the signing bridge.
//
// Request:
//
//	"<decimal byte length>,<encoded args>"
//	 e.g. "57,l\x00\x00\x00\x02s..."   args[0] = "Type::method"
//
// Response (sent once, then the peer closes the connection):
//
//	'S' "N"                  success, no value
//	'S' <encoded value>      success with a result
//	'F' <error text>         failure, text is not encoded
package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"

	"cmbc-pay/codec"
	"cmbc-pay/message"
)

const (
	// LengthSeparator ends the decimal length prefix.
	LengthSeparator byte = ','
	// maxLengthDigits bounds the prefix so a garbage stream cannot stall the reader.
	maxLengthDigits = 10
)

// Limits constrains how much a peer is willing to buffer for one request.
type Limits struct {
	MaxBodyBytes int
}

func DefaultLimits() Limits {
	return Limits{MaxBodyBytes: 8 * 1024 * 1024}
}

// Frame serializes args with c and prepends the decimal length and separator.
// args[0] must be a "Type::method" string.
func Frame(c codec.Codec, args []any) ([]byte, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: no arguments", ErrEncoding)
	}
	method, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("%w: first argument must be a \"Type::method\" string, got %T", ErrEncoding, args[0])
	}
	if _, _, ok := message.SplitMethod(method); !ok {
		return nil, fmt.Errorf("%w: malformed method %q", ErrEncoding, method)
	}

	body, err := c.Encode(args)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}

	prefix := strconv.Itoa(len(body))
	buf := make([]byte, 0, len(prefix)+1+len(body))
	buf = append(buf, prefix...)
	buf = append(buf, LengthSeparator)
	return append(buf, body...), nil
}

// ReadRequest reads one framed request from r and decodes its arguments.
// It is the peer-side inverse of Frame.
func ReadRequest(r io.Reader, c codec.Codec, limits Limits) ([]any, error) {
	br, ok := r.(io.ByteReader)
	if !ok {
		br = bufio.NewReader(r)
		r = br.(io.Reader)
	}

	// Step 1: decimal length up to the separator
	digits := make([]byte, 0, maxLengthDigits)
	for {
		b, err := br.ReadByte()
		if err != nil {
			return nil, err
		}
		if b == LengthSeparator {
			break
		}
		if b < '0' || b > '9' {
			return nil, fmt.Errorf("%w: invalid length byte %q", ErrFrame, b)
		}
		if len(digits) == maxLengthDigits {
			return nil, fmt.Errorf("%w: length prefix too long", ErrFrame)
		}
		digits = append(digits, b)
	}
	if len(digits) == 0 {
		return nil, fmt.Errorf("%w: empty length prefix", ErrFrame)
	}

	n, err := strconv.Atoi(string(digits))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFrame, err)
	}
	if n > limits.MaxBodyBytes {
		return nil, fmt.Errorf("%w: body of %d bytes exceeds %d", ErrFrame, n, limits.MaxBodyBytes)
	}

	// Step 2: exactly n body bytes
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	var args []any
	if err := c.Decode(body, &args); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: no arguments", ErrEncoding)
	}
	if _, ok := args[0].(string); !ok {
		return nil, fmt.Errorf("%w: first argument must be a string, got %T", ErrEncoding, args[0])
	}
	return args, nil
}

// WriteResponse writes the reply for one call. A non-nil callErr becomes an 'F'
// response carrying its text; a nil value becomes the void sentinel.
func WriteResponse(w io.Writer, c codec.Codec, value any, callErr error) error {
	var buf []byte
	switch {
	case callErr != nil:
		buf = append([]byte{byte(message.StatusFailure)}, callErr.Error()...)
	case value == nil:
		buf = append([]byte{byte(message.StatusSuccess)}, message.VoidSentinel...)
	default:
		body, err := c.Encode(value)
		if err != nil {
			return WriteResponse(w, c, nil, fmt.Errorf("encode result: %w", err))
		}
		buf = append([]byte{byte(message.StatusSuccess)}, body...)
	}
	_, err := w.Write(buf)
	return err
}

// ParseResponse splits raw into status and body and decodes the body with c.
func ParseResponse(raw []byte, c codec.Codec) (*message.Reply, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrDecode)
	}

	status, body := message.Status(raw[0]), raw[1:]
	switch status {
	case message.StatusFailure:
		return nil, &RemoteError{Message: string(body)}
	case message.StatusSuccess:
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrDecode, raw[0])
	}

	if string(body) == message.VoidSentinel {
		return &message.Reply{Void: true}, nil
	}

	var value any
	if err := c.Decode(body, &value); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return &message.Reply{Value: value}, nil
}

// IsRemote reports whether err is a failure reported by the bridge itself.
func IsRemote(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}
