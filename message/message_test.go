package message

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructorsNormalizeParams(t *testing.T) {
	req := NewRequest(7, "add")
	require.NotNil(t, req.Params)
	assert.Empty(t, req.Params)
	assert.Equal(t, TypeRequest, req.Type())

	n := NewNotification("ping")
	require.NotNil(t, n.Params)
	assert.Equal(t, TypeNotification, n.Type())
}

func TestValidate(t *testing.T) {
	require.NoError(t, NewRequest(1, "add", int64(1)).Validate())
	require.NoError(t, NewNotification("").Validate())

	err := NewRequest(1, string([]byte{0xff, 0xfe})).Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidMethod))

	err = NewNotification(string([]byte{0xc3, 0x28})).Validate()
	assert.ErrorIs(t, err, ErrInvalidMethod)
}

func TestResponseOutcome(t *testing.T) {
	ok := NewResult(3, int64(6))
	assert.False(t, ok.Failed())
	v, err := ok.Outcome()
	require.NoError(t, err)
	assert.Equal(t, int64(6), v)

	// nil result is still a success
	v, err = NewResult(4, nil).Outcome()
	require.NoError(t, err)
	assert.Nil(t, v)

	failed := NewErrorResponse(5, "boom")
	assert.True(t, failed.Failed())
	_, err = failed.Outcome()
	var appErr *Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "boom", appErr.Value)
	assert.Equal(t, "boom", err.Error())

	assert.True(t, NewErrorResponse(6, nil).Failed())
}

func TestErrorString(t *testing.T) {
	assert.Equal(t, "x 1", Errorf("x %d", 1).Error())
	assert.Equal(t, "raw", NewError([]byte("raw")).Error())
	assert.Equal(t, "42", NewError(int64(42)).Error())
}

func TestTypeString(t *testing.T) {
	assert.Equal(t, "request", TypeRequest.String())
	assert.Equal(t, "response", TypeResponse.String())
	assert.Equal(t, "notification", TypeNotification.String())
	assert.Equal(t, "type(9)", Type(9).String())
}
