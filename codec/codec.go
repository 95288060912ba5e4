// Package codec serializes bridge call arguments and results.
//
// Two encodings are supported. The binary codec is a self-describing tagged format
// that is binary-safe (ciphertext travels as raw bytes inside strings). The JSON codec
// is kept for bridge deployments that speak JSON and only carry text.
package codec

import (
	"errors"
	"fmt"
	"strings"
)

// CodecType selects the argument encoding. The zero value is the binary codec, so a
// client and a server built without options agree on the wire.
type CodecType byte

const (
	CodecTypeBinary CodecType = 0
	CodecTypeJSON   CodecType = 1
)

// ErrUnsupportedTarget is returned when Decode is given a destination it cannot fill.
var ErrUnsupportedTarget = errors.New("codec: unsupported decode target")

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType // 0=Binary, 1=JSON
}

func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeJSON {
		return &JSONCodec{}
	}

	return &BinaryCodec{}
}

// ParseCodecType maps a config value ("binary", "json") to a CodecType.
func ParseCodecType(name string) (CodecType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "binary":
		return CodecTypeBinary, nil
	case "json":
		return CodecTypeJSON, nil
	default:
		return 0, fmt.Errorf("codec: unknown codec type %q", name)
	}
}

func (t CodecType) String() string {
	if t == CodecTypeJSON {
		return "json"
	}
	return "binary"
}
