package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
)

// Value tags of the binary encoding. Lengths and counts are big-endian uint32,
// integers are big-endian int64.
//
//	n                      nil
//	s <len> <bytes>        string (binary-safe)
//	i <8 bytes>            int64
//	t | f                  bool
//	l <count> <value>...   list
//	m <count> (<len> <key> <value>)...   map with string keys, keys sorted
const (
	tagNil    byte = 'n'
	tagString byte = 's'
	tagInt    byte = 'i'
	tagTrue   byte = 't'
	tagFalse  byte = 'f'
	tagList   byte = 'l'
	tagMap    byte = 'm'
)

var errTruncated = errors.New("codec: truncated binary value")

type BinaryCodec struct{}

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	return appendValue(nil, v)
}

func (c *BinaryCodec) Decode(data []byte, v any) error {
	val, offset, err := readValue(data, 0)
	if err != nil {
		return err
	}
	if offset != len(data) {
		return fmt.Errorf("codec: %d trailing bytes after binary value", len(data)-offset)
	}
	return assign(v, val)
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}

func appendValue(buf []byte, v any) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return append(buf, tagNil), nil
	case string:
		return appendBytes(append(buf, tagString), []byte(val)), nil
	case []byte:
		return appendBytes(append(buf, tagString), val), nil
	case bool:
		if val {
			return append(buf, tagTrue), nil
		}
		return append(buf, tagFalse), nil
	case int:
		return appendInt(buf, int64(val)), nil
	case int32:
		return appendInt(buf, int64(val)), nil
	case int64:
		return appendInt(buf, val), nil
	case uint32:
		return appendInt(buf, int64(val)), nil
	case []any:
		buf = append(buf, tagList)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(val)))
		for _, item := range val {
			var err error
			if buf, err = appendValue(buf, item); err != nil {
				return nil, err
			}
		}
		return buf, nil
	case []string:
		buf = append(buf, tagList)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(val)))
		for _, item := range val {
			buf = appendBytes(append(buf, tagString), []byte(item))
		}
		return buf, nil
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf = append(buf, tagMap)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(keys)))
		for _, k := range keys {
			buf = appendBytes(buf, []byte(k))
			var err error
			if buf, err = appendValue(buf, val[k]); err != nil {
				return nil, err
			}
		}
		return buf, nil
	default:
		return nil, fmt.Errorf("codec: cannot encode %T", v)
	}
}

func appendBytes(buf, b []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(b)))
	return append(buf, b...)
}

func appendInt(buf []byte, n int64) []byte {
	buf = append(buf, tagInt)
	return binary.BigEndian.AppendUint64(buf, uint64(n))
}

func readValue(data []byte, offset int) (any, int, error) {
	if offset >= len(data) {
		return nil, offset, errTruncated
	}
	tag := data[offset]
	offset++

	switch tag {
	case tagNil:
		return nil, offset, nil
	case tagTrue:
		return true, offset, nil
	case tagFalse:
		return false, offset, nil
	case tagString:
		b, next, err := readBytes(data, offset)
		if err != nil {
			return nil, offset, err
		}
		return string(b), next, nil
	case tagInt:
		if len(data)-offset < 8 {
			return nil, offset, errTruncated
		}
		return int64(binary.BigEndian.Uint64(data[offset : offset+8])), offset + 8, nil
	case tagList:
		count, next, err := readCount(data, offset)
		if err != nil {
			return nil, offset, err
		}
		list := make([]any, 0, min(count, len(data)-next))
		for i := 0; i < count; i++ {
			var item any
			if item, next, err = readValue(data, next); err != nil {
				return nil, offset, err
			}
			list = append(list, item)
		}
		return list, next, nil
	case tagMap:
		count, next, err := readCount(data, offset)
		if err != nil {
			return nil, offset, err
		}
		m := make(map[string]any, min(count, len(data)-next))
		for i := 0; i < count; i++ {
			var key []byte
			if key, next, err = readBytes(data, next); err != nil {
				return nil, offset, err
			}
			var item any
			if item, next, err = readValue(data, next); err != nil {
				return nil, offset, err
			}
			m[string(key)] = item
		}
		return m, next, nil
	default:
		return nil, offset, fmt.Errorf("codec: unknown binary tag %q at offset %d", tag, offset-1)
	}
}

func readCount(data []byte, offset int) (int, int, error) {
	if len(data)-offset < 4 {
		return 0, offset, errTruncated
	}
	return int(binary.BigEndian.Uint32(data[offset : offset+4])), offset + 4, nil
}

func readBytes(data []byte, offset int) ([]byte, int, error) {
	n, offset, err := readCount(data, offset)
	if err != nil {
		return nil, offset, err
	}
	if len(data)-offset < n {
		return nil, offset, errTruncated
	}
	return data[offset : offset+n], offset + n, nil
}

// assign stores a decoded value into one of the supported destination pointers.
func assign(dst any, val any) error {
	switch d := dst.(type) {
	case *any:
		*d = val
	case *string:
		s, ok := val.(string)
		if !ok {
			return fmt.Errorf("%w: have %T, want string", ErrUnsupportedTarget, val)
		}
		*d = s
	case *int64:
		n, ok := val.(int64)
		if !ok {
			return fmt.Errorf("%w: have %T, want int64", ErrUnsupportedTarget, val)
		}
		*d = n
	case *bool:
		b, ok := val.(bool)
		if !ok {
			return fmt.Errorf("%w: have %T, want bool", ErrUnsupportedTarget, val)
		}
		*d = b
	case *[]any:
		l, ok := val.([]any)
		if !ok {
			return fmt.Errorf("%w: have %T, want list", ErrUnsupportedTarget, val)
		}
		*d = l
	case *map[string]any:
		m, ok := val.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: have %T, want map", ErrUnsupportedTarget, val)
		}
		*d = m
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedTarget, dst)
	}
	return nil
}
