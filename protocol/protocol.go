// Package protocol implements the MessagePack-RPC frame codec.
//
// A frame is one top-level MessagePack array, there is no length prefix:
//
//	┌───┬──────────┬──────────┬──────────┐
//	│ 0 │ id u32   │ method   │ params[] │  Request
//	├───┼──────────┼──────────┼──────────┤
//	│ 1 │ id u32   │ error    │ result   │  Response (exactly one of error/result is nil)
//	├───┼──────────┼──────────┼──────────┘
//	│ 2 │ method   │ params[] │             Notification
//	└───┴──────────┴──────────┘
//
// There is no length prefix, so the frame boundary is found by walking the
// MessagePack headers. Decode works on a buffer and reports "need more bytes"
// instead of an error when the buffer ends in the middle of a frame. Reader
// builds the incremental stream decoder on top of it.
//
// The codec is purely structural. It never interprets method names or payloads.
package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"

	"msgpack-rpc/message"
)

// ErrInvalidFrame is wrapped by every structural decode error.
// It is fatal for the connection that produced it and must not be retried.
var ErrInvalidFrame = errors.New("protocol: invalid frame")

const (
	maxPreallocParams = 64
	maxDepth          = 512
	timestampExt      = -1
)

func invalidFrame(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidFrame, fmt.Sprintf(format, args...))
}

// Marshal encodes msg into a new byte slice.
func Marshal(msg message.Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, msg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Encode writes one frame to w.
// The caller must serialize concurrent writers on the same w, otherwise frames interleave.
func Encode(w io.Writer, msg message.Message) error {
	return encode(msgpack.NewEncoder(w), msg)
}

func encode(enc *msgpack.Encoder, msg message.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	switch m := msg.(type) {
	case *message.Request:
		return sequence(
			func() error { return enc.EncodeArrayLen(4) },
			func() error { return enc.EncodeUint(uint64(message.TypeRequest)) },
			func() error { return enc.EncodeUint(uint64(m.ID)) },
			func() error { return enc.EncodeString(m.Method) },
			func() error { return encodeParams(enc, m.Params) },
		)
	case *message.Response:
		errValue, result := m.Error, m.Result
		if errValue != nil {
			result = nil
		}
		return sequence(
			func() error { return enc.EncodeArrayLen(4) },
			func() error { return enc.EncodeUint(uint64(message.TypeResponse)) },
			func() error { return enc.EncodeUint(uint64(m.ID)) },
			func() error { return enc.Encode(errValue) },
			func() error { return enc.Encode(result) },
		)
	case *message.Notification:
		return sequence(
			func() error { return enc.EncodeArrayLen(3) },
			func() error { return enc.EncodeUint(uint64(message.TypeNotification)) },
			func() error { return enc.EncodeString(m.Method) },
			func() error { return encodeParams(enc, m.Params) },
		)
	default:
		return fmt.Errorf("protocol: cannot encode %T", msg)
	}
}

func sequence(steps ...func() error) error {
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

func encodeParams(enc *msgpack.Encoder, params []message.Value) error {
	if err := enc.EncodeArrayLen(len(params)); err != nil {
		return err
	}
	for i, p := range params {
		if err := enc.Encode(p); err != nil {
			return fmt.Errorf("encode param %d: %w", i, err)
		}
	}
	return nil
}

// Decode parses one frame from the beginning of data.
//
// It returns the message and the number of bytes consumed. When data holds only
// a prefix of a frame it returns (nil, 0, nil): the caller should read more bytes
// and try again. Malformed input returns an error wrapping ErrInvalidFrame.
func Decode(data []byte) (message.Message, int, error) {
	size, ok := frameSize(data)
	if !ok {
		return nil, 0, nil
	}
	var br bytes.Reader
	msg, err := decodeFrame(&br, newDecoder(), data[:size])
	if err != nil {
		return nil, 0, err
	}
	return msg, size, nil
}

func newDecoder() *msgpack.Decoder {
	return msgpack.NewDecoder(bytes.NewReader(nil))
}

// decodeFrame decodes frame, which frameSize has measured as exactly one
// complete value. Running short of bytes therefore means a malformed frame.
func decodeFrame(br *bytes.Reader, dec *msgpack.Decoder, frame []byte) (message.Message, error) {
	br.Reset(frame)
	dec.Reset(br)
	dec.UseLooseInterfaceDecoding(true)

	msg, err := decodeMessage(dec)
	if err == nil && br.Len() != 0 {
		err = invalidFrame("%d trailing bytes in frame", br.Len())
	}
	if err != nil {
		if errors.Is(err, ErrInvalidFrame) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	return msg, nil
}

func decodeMessage(dec *msgpack.Decoder) (message.Message, error) {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, err
	}
	if n != 3 && n != 4 {
		return nil, invalidFrame("expected array of length 3 or 4, got %d", n)
	}

	rawTag, err := dec.DecodeInterfaceLoose()
	if err != nil {
		return nil, err
	}
	tag, ok := asUint(rawTag)
	if !ok {
		return nil, invalidFrame("message type is %T, not an integer", rawTag)
	}

	switch message.Type(tag) {
	case message.TypeRequest:
		if n != 4 {
			return nil, invalidFrame("request must have 4 elements, got %d", n)
		}
		id, err := decodeID(dec)
		if err != nil {
			return nil, err
		}
		method, err := decodeMethod(dec)
		if err != nil {
			return nil, err
		}
		params, err := decodeParams(dec)
		if err != nil {
			return nil, err
		}
		return &message.Request{ID: id, Method: method, Params: params}, nil

	case message.TypeResponse:
		if n != 4 {
			return nil, invalidFrame("response must have 4 elements, got %d", n)
		}
		id, err := decodeID(dec)
		if err != nil {
			return nil, err
		}
		errValue, err := decodeValue(dec, 0)
		if err != nil {
			return nil, err
		}
		result, err := decodeValue(dec, 0)
		if err != nil {
			return nil, err
		}
		if errValue != nil {
			result = nil
		}
		return &message.Response{ID: id, Error: errValue, Result: result}, nil

	case message.TypeNotification:
		if n != 3 {
			return nil, invalidFrame("notification must have 3 elements, got %d", n)
		}
		method, err := decodeMethod(dec)
		if err != nil {
			return nil, err
		}
		params, err := decodeParams(dec)
		if err != nil {
			return nil, err
		}
		return &message.Notification{Method: method, Params: params}, nil

	default:
		return nil, invalidFrame("unknown message type %d", tag)
	}
}

func decodeID(dec *msgpack.Decoder) (uint32, error) {
	raw, err := dec.DecodeInterfaceLoose()
	if err != nil {
		return 0, err
	}
	id, ok := asUint(raw)
	if !ok {
		return 0, invalidFrame("message id is %T, not an integer", raw)
	}
	if id > math.MaxUint32 {
		return 0, invalidFrame("message id %d overflows uint32", id)
	}
	return uint32(id), nil
}

func decodeMethod(dec *msgpack.Decoder) (string, error) {
	raw, err := dec.DecodeInterfaceLoose()
	if err != nil {
		return "", err
	}
	method, ok := raw.(string)
	if !ok {
		return "", invalidFrame("method is %T, not a string", raw)
	}
	return method, nil
}

func decodeParams(dec *msgpack.Decoder) ([]message.Value, error) {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, err
	}
	// nil is accepted as an empty argument list
	if n == -1 {
		return []message.Value{}, nil
	}
	// the length prefix is peer controlled, don't trust it for the allocation
	params := make([]message.Value, 0, min(n, maxPreallocParams))
	for i := 0; i < n; i++ {
		p, err := decodeValue(dec, 1)
		if err != nil {
			return nil, err
		}
		params = append(params, p)
	}
	return params, nil
}

// decodeValue decodes one payload value. Containers and ext values are
// walked here, scalars are left to the msgpack decoder.
func decodeValue(dec *msgpack.Decoder, depth int) (any, error) {
	if depth > maxDepth {
		return nil, invalidFrame("values nested deeper than %d", maxDepth)
	}
	c, err := dec.PeekCode()
	if err != nil {
		return nil, err
	}

	switch {
	case msgpcode.IsFixedArray(c) || c == msgpcode.Array16 || c == msgpcode.Array32:
		return decodeArray(dec, depth)
	case msgpcode.IsFixedMap(c) || c == msgpcode.Map16 || c == msgpcode.Map32:
		return decodeMap(dec, depth)
	case msgpcode.IsExt(c):
		return decodeExt(dec)
	default:
		return dec.DecodeInterfaceLoose()
	}
}

func decodeArray(dec *msgpack.Decoder, depth int) (any, error) {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, err
	}
	arr := make([]any, 0, min(n, maxPreallocParams))
	for i := 0; i < n; i++ {
		v, err := decodeValue(dec, depth+1)
		if err != nil {
			return nil, err
		}
		arr = append(arr, v)
	}
	return arr, nil
}

// decodeExt returns a message.Ext for every ext type but the timestamp.
func decodeExt(dec *msgpack.Decoder) (any, error) {
	typ, n, err := dec.DecodeExtHeader()
	if err != nil {
		return nil, err
	}
	data := make([]byte, n)
	if err := dec.ReadFull(data); err != nil {
		return nil, err
	}
	if typ == timestampExt {
		return decodeTimestamp(data)
	}
	return message.Ext{Type: typ, Data: data}, nil
}

// decodeTimestamp reads the three layouts of the timestamp extension.
func decodeTimestamp(data []byte) (time.Time, error) {
	switch len(data) {
	case 4:
		return time.Unix(int64(binary.BigEndian.Uint32(data)), 0), nil
	case 8:
		v := binary.BigEndian.Uint64(data)
		return time.Unix(int64(v&(1<<34-1)), int64(v>>34)), nil
	case 12:
		nsec := binary.BigEndian.Uint32(data)
		return time.Unix(int64(binary.BigEndian.Uint64(data[4:])), int64(nsec)), nil
	default:
		return time.Time{}, invalidFrame("timestamp of %d bytes", len(data))
	}
}

// decodeMap keeps string-keyed maps as map[string]any and falls back to
// map[any]any as soon as a key of another type shows up.
func decodeMap(dec *msgpack.Decoder, depth int) (any, error) {
	n, err := dec.DecodeMapLen()
	if err != nil {
		return nil, err
	}
	if n == -1 {
		return nil, nil
	}

	strMap := make(map[string]any, min(n, maxPreallocParams))
	var anyMap map[any]any
	for i := 0; i < n; i++ {
		k, err := decodeValue(dec, depth+1)
		if err != nil {
			return nil, err
		}
		v, err := decodeValue(dec, depth+1)
		if err != nil {
			return nil, err
		}

		if s, ok := k.(string); ok && anyMap == nil {
			strMap[s] = v
			continue
		}
		if !hashable(k) {
			return nil, invalidFrame("map key of type %T is not supported", k)
		}
		if anyMap == nil {
			anyMap = make(map[any]any, len(strMap)+1)
			for sk, sv := range strMap {
				anyMap[sk] = sv
			}
		}
		anyMap[k] = v
	}

	if anyMap != nil {
		return anyMap, nil
	}
	return strMap, nil
}

func hashable(k any) bool {
	switch k.(type) {
	case []any, []byte, map[string]any, map[any]any, message.Ext:
		return false
	}
	return true
}

func asUint(v any) (uint64, bool) {
	switch n := v.(type) {
	case int64:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case uint64:
		return n, true
	default:
		return 0, false
	}
}
