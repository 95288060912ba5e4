// Package cashier builds and reads the signed envelopes exchanged with the CMBC
// hosted cashier.
//
// Outbound, a payload is serialized to JSON, base64-encoded and handed to the
// signing bridge's sign-and-encrypt method. Inbound, the callback's context field is
// base64-decoded, decrypted and verified by the bridge, base64-decoded again and
// parsed back into a payload.
package cashier

import (
	"github.com/spf13/cast"
)

// Payload is one cashier request or callback body. Values are scalars: strings,
// integers, or json.Number for decimals and oversized integers in a callback.
type Payload map[string]any

// Merge returns a copy of p overlaid with other.
func (p Payload) Merge(other map[string]any) Payload {
	out := make(Payload, len(p)+len(other))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Filter returns a copy of p without nil or empty-string values. Zero numbers and
// false are kept.
func (p Payload) Filter() Payload {
	out := make(Payload, len(p))
	for k, v := range p {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		out[k] = v
	}
	return out
}

// String returns the value at key coerced to a string, or "" if absent.
func (p Payload) String(key string) string {
	return cast.ToString(p[key])
}

// Int64 returns the value at key coerced to an int64, or 0 if it is not numeric.
func (p Payload) Int64(key string) int64 {
	return cast.ToInt64(p[key])
}
