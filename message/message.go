// Package message defines the MessagePack-RPC messages exchanged between two endpoints.
//
// Every message on the wire is a MessagePack array whose first element is the type tag:
//
//	Request:      [0, id, method, params]
//	Response:     [1, id, error, result]
//	Notification: [2, method, params]
//
// The types here carry no network or concurrency logic. They are produced by the
// protocol layer when decoding and consumed by it when encoding.
package message

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// Value is a dynamically typed MessagePack value. The engine never inspects it,
// it only carries it between the codec and the application.
type Value = any

// Type is the numeric tag in the first element of every message.
type Type int

const (
	TypeRequest      Type = 0 // Call expecting a Response
	TypeResponse     Type = 1 // Reply to exactly one Request
	TypeNotification Type = 2 // Call with no reply
)

func (t Type) String() string {
	switch t {
	case TypeRequest:
		return "request"
	case TypeResponse:
		return "response"
	case TypeNotification:
		return "notification"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// ErrInvalidMethod is returned by Validate when a method name is not valid UTF-8.
var ErrInvalidMethod = errors.New("message: method is not a valid utf-8 string")

// Message is one of *Request, *Response or *Notification.
type Message interface {
	Type() Type
	Validate() error
}

// Request is a call that expects a Response carrying the same ID.
type Request struct {
	ID     uint32
	Method string
	Params []Value
}

// NewRequest builds a Request. Missing params are sent as an empty array.
func NewRequest(id uint32, method string, params ...Value) *Request {
	return &Request{ID: id, Method: method, Params: normalize(params)}
}

func (r *Request) Type() Type { return TypeRequest }

func (r *Request) Validate() error { return validateMethod(r.Method) }

// Response answers the Request with the same ID.
//
// The call failed iff Error is non-nil; Result is ignored in that case.
// A successful call may carry a nil Result.
type Response struct {
	ID     uint32
	Error  Value
	Result Value
}

// NewResult builds a successful Response.
func NewResult(id uint32, result Value) *Response {
	return &Response{ID: id, Result: result}
}

// NewErrorResponse builds a failed Response. A nil errValue is replaced by an
// empty string so the failure survives the wire.
func NewErrorResponse(id uint32, errValue Value) *Response {
	if errValue == nil {
		errValue = ""
	}
	return &Response{ID: id, Error: errValue}
}

func (r *Response) Type() Type { return TypeResponse }

func (r *Response) Validate() error { return nil }

// Failed reports whether the peer answered with an application error.
func (r *Response) Failed() bool { return r.Error != nil }

// Outcome returns the result, or the error payload as *Error.
func (r *Response) Outcome() (Value, error) {
	if r.Failed() {
		return nil, &Error{Value: r.Error}
	}
	return r.Result, nil
}

// Notification is a call without a reply.
type Notification struct {
	Method string
	Params []Value
}

// NewNotification builds a Notification. Missing params are sent as an empty array.
func NewNotification(method string, params ...Value) *Notification {
	return &Notification{Method: method, Params: normalize(params)}
}

func (n *Notification) Type() Type { return TypeNotification }

func (n *Notification) Validate() error { return validateMethod(n.Method) }

func validateMethod(method string) error {
	if !utf8.ValidString(method) {
		return fmt.Errorf("%w: %q", ErrInvalidMethod, method)
	}
	return nil
}

// params must always be array shaped on the wire
func normalize(params []Value) []Value {
	if params == nil {
		return []Value{}
	}
	return params
}
