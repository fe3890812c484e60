package codec

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"msgpack-rpc/message"
)

func TestAsInt64(t *testing.T) {
	for _, v := range []message.Value{int64(6), uint64(6), int8(6), uint16(6), int(6), uint32(6)} {
		n, err := AsInt64(v)
		require.NoError(t, err, "%T", v)
		assert.Equal(t, int64(6), n)
	}

	_, err := AsInt64("6")
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, "int64", parseErr.Want)
	assert.Equal(t, "6", parseErr.Got)

	_, err = AsInt64(uint64(math.MaxUint64))
	require.ErrorAs(t, err, &parseErr)
	assert.Error(t, errors.Unwrap(err))
}

func TestAsUint64(t *testing.T) {
	n, err := AsUint64(int64(3))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)

	n, err = AsUint64(uint64(math.MaxUint64))
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64), n)

	_, err = AsUint64(int64(-1))
	assert.IsType(t, &ParseError{}, err)
}

func TestScalars(t *testing.T) {
	f, err := AsFloat64(float32(1.5))
	require.NoError(t, err)
	assert.Equal(t, 1.5, f)
	f, err = AsFloat64(int64(2))
	require.NoError(t, err)
	assert.Equal(t, 2.0, f)

	s, err := AsString([]byte("raw"))
	require.NoError(t, err)
	assert.Equal(t, "raw", s)
	_, err = AsString(int64(1))
	assert.IsType(t, &ParseError{}, err)

	b, err := AsBool(true)
	require.NoError(t, err)
	assert.True(t, b)
	_, err = AsBool(nil)
	assert.IsType(t, &ParseError{}, err)

	raw, err := AsBytes("abc")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), raw)
}

func TestContainers(t *testing.T) {
	arr, err := AsArray([]any{int64(1), "x"})
	require.NoError(t, err)
	assert.Len(t, arr, 2)
	_, err = AsArray(map[string]any{})
	assert.IsType(t, &ParseError{}, err)

	m, err := AsMap(map[any]any{"k": int64(1)})
	require.NoError(t, err)
	assert.Equal(t, map[string]message.Value{"k": int64(1)}, m)
	_, err = AsMap(map[any]any{int64(1): "v"})
	assert.IsType(t, &ParseError{}, err)
}

func TestInt64s(t *testing.T) {
	ns, err := Int64s([]message.Value{int64(1), uint64(2), int64(-3)})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, -3}, ns)

	_, err = Int64s([]message.Value{int64(1), "two"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "element 1")
	var parseErr *ParseError
	assert.ErrorAs(t, err, &parseErr)
}

type point struct {
	X int    `msgpack:"x"`
	Y int    `msgpack:"y"`
	L string `msgpack:"label"`
}

func TestDecodeEncodeStruct(t *testing.T) {
	v, err := Encode(point{X: 1, Y: -2, L: "p"})
	require.NoError(t, err)
	m, err := AsMap(v)
	require.NoError(t, err)
	assert.Equal(t, "p", m["label"])

	var p point
	require.NoError(t, Decode(v, &p))
	assert.Equal(t, point{X: 1, Y: -2, L: "p"}, p)

	err = Decode("not a struct", &p)
	assert.IsType(t, &ParseError{}, err)
}
