package message

import "fmt"

// Error is an application-level error payload. A service returns it to choose the
// exact value sent as the Response error, and callers receive it when the peer
// answered with an error.
//
// It is data, not a fault: the connection that carried it stays usable.
type Error struct {
	Value Value
}

// NewError wraps v as an application error payload.
func NewError(v Value) *Error {
	return &Error{Value: v}
}

// Errorf builds an Error whose payload is the formatted string.
func Errorf(format string, args ...any) *Error {
	return &Error{Value: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	switch v := e.Value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
