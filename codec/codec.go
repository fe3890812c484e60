// Package codec converts dynamically typed MessagePack values into Go values.
//
// Responses carry message.Value payloads whose concrete type depends on how the
// peer encoded them (a small positive integer may arrive as int64 or uint64, a
// float as float32 or float64). The helpers here absorb those differences and
// report a *ParseError when the payload does not have the expected shape. A
// ParseError is local to the caller: the connection is unaffected.
package codec

import (
	"bytes"
	"fmt"
	"math"

	"github.com/vmihailenco/msgpack/v5"

	"msgpack-rpc/message"
)

// ParseError reports a payload that does not match what the caller expected.
type ParseError struct {
	Want string
	Got  message.Value
	Err  error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("codec: cannot parse %T as %s: %v", e.Got, e.Want, e.Err)
	}
	return fmt.Sprintf("codec: cannot parse %T as %s", e.Got, e.Want)
}

func (e *ParseError) Unwrap() error { return e.Err }

func parseErr(want string, got message.Value) error {
	return &ParseError{Want: want, Got: got}
}

// AsInt64 accepts every integer representation that fits in an int64.
func AsInt64(v message.Value) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, &ParseError{Want: "int64", Got: v, Err: fmt.Errorf("%d overflows int64", n)}
		}
		return int64(n), nil
	case uint:
		if uint64(n) > math.MaxInt64 {
			return 0, &ParseError{Want: "int64", Got: v, Err: fmt.Errorf("%d overflows int64", n)}
		}
		return int64(n), nil
	default:
		return 0, parseErr("int64", v)
	}
}

// AsUint64 accepts every non-negative integer representation.
func AsUint64(v message.Value) (uint64, error) {
	if n, ok := v.(uint64); ok {
		return n, nil
	}
	i, err := AsInt64(v)
	if err != nil {
		return 0, parseErr("uint64", v)
	}
	if i < 0 {
		return 0, &ParseError{Want: "uint64", Got: v, Err: fmt.Errorf("%d is negative", i)}
	}
	return uint64(i), nil
}

// AsFloat64 accepts floats and integers.
func AsFloat64(v message.Value) (float64, error) {
	switch f := v.(type) {
	case float64:
		return f, nil
	case float32:
		return float64(f), nil
	case uint64:
		return float64(f), nil
	}
	i, err := AsInt64(v)
	if err != nil {
		return 0, parseErr("float64", v)
	}
	return float64(i), nil
}

// AsString accepts str and bin values. Older peers send strings as raw bytes.
func AsString(v message.Value) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case []byte:
		return string(s), nil
	default:
		return "", parseErr("string", v)
	}
}

// AsBool accepts bool values only.
func AsBool(v message.Value) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, parseErr("bool", v)
	}
	return b, nil
}

// AsBytes accepts bin and str values.
func AsBytes(v message.Value) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	default:
		return nil, parseErr("bytes", v)
	}
}

// AsArray accepts arrays.
func AsArray(v message.Value) ([]message.Value, error) {
	a, ok := v.([]any)
	if !ok {
		return nil, parseErr("array", v)
	}
	return a, nil
}

// AsMap accepts string-keyed maps only.
func AsMap(v message.Value) (map[string]message.Value, error) {
	switch m := v.(type) {
	case map[string]any:
		return m, nil
	case map[any]any:
		out := make(map[string]message.Value, len(m))
		for k, val := range m {
			ks, ok := k.(string)
			if !ok {
				return nil, parseErr("map with string keys", v)
			}
			out[ks] = val
		}
		return out, nil
	default:
		return nil, parseErr("map", v)
	}
}

// Int64s converts every element with AsInt64. The index of the first bad
// element is reported in the error.
func Int64s(values []message.Value) ([]int64, error) {
	out := make([]int64, len(values))
	for i, v := range values {
		n, err := AsInt64(v)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out[i] = n
	}
	return out, nil
}

// Decode copies a dynamic value into dst (a pointer), going through the
// MessagePack representation so struct tags and custom decoders apply.
func Decode(v message.Value, dst any) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return &ParseError{Want: fmt.Sprintf("%T", dst), Got: v, Err: err}
	}
	if err := msgpack.Unmarshal(data, dst); err != nil {
		return &ParseError{Want: fmt.Sprintf("%T", dst), Got: v, Err: err}
	}
	return nil
}

// Encode turns a Go value into the dynamic representation a peer would decode.
func Encode(v any) (message.Value, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, err
	}
	return msgpack.NewDecoder(bytes.NewReader(data)).DecodeInterfaceLoose()
}
