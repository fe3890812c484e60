package service

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"unicode"
	"unicode/utf8"

	"msgpack-rpc/message"
	"msgpack-rpc/middleware"
)

// NotifyFunc handles one notification.
type NotifyFunc func(ctx context.Context, n *message.Notification)

// Mux routes calls to handlers by method name.
//
// Request handlers are wrapped by the middlewares added with Use, in order.
// A request for an unknown method is answered with the application error
// "unknown method: <name>"; an unknown notification is passed to the fallback
// set with OnUnknownNotification, or dropped.
type Mux struct {
	mu            sync.RWMutex
	handlers      map[string]middleware.HandlerFunc
	notifications map[string]NotifyFunc
	unknownNotify NotifyFunc
	middlewares   []middleware.Middleware
	chain         middleware.Middleware
}

// NewMux returns an empty Mux.
func NewMux() *Mux {
	return &Mux{
		handlers:      make(map[string]middleware.HandlerFunc),
		notifications: make(map[string]NotifyFunc),
		chain:         middleware.Chain(),
	}
}

// Use appends a middleware. It applies to every request, including those
// for handlers registered before the call.
func (m *Mux) Use(mw middleware.Middleware) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.middlewares = append(m.middlewares, mw)
	m.chain = middleware.Chain(m.middlewares...)
}

// Handle registers the request handler for method, replacing any previous one.
func (m *Mux) Handle(method string, h middleware.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[method] = h
}

// OnNotification registers the notification handler for method.
func (m *Mux) OnNotification(method string, h NotifyFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications[method] = h
}

// OnUnknownNotification sets the handler for notifications without a registered method.
func (m *Mux) OnUnknownNotification(h NotifyFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unknownNotify = h
}

// Methods returns the registered request method names.
func (m *Mux) Methods() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.handlers))
	for name := range m.handlers {
		names = append(names, name)
	}
	return names
}

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	paramsType  = reflect.TypeOf([]message.Value(nil))
	valueType   = reflect.TypeOf((*message.Value)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// Register scans rcvr for exported methods of the form
//
//	func (r *T) Name(ctx context.Context, params []message.Value) (message.Value, error)
//
// and registers each one under its name with the first letter lower-cased
// ("Add" answers "add"). Methods of other shapes are skipped. It returns the
// registered names, or an error if none matched.
func (m *Mux) Register(rcvr any) ([]string, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil {
		return nil, fmt.Errorf("service: cannot register nil receiver")
	}
	val := reflect.ValueOf(rcvr)

	var names []string
	for i := 0; i < typ.NumMethod(); i++ {
		method := typ.Method(i)
		mt := method.Type
		// receiver, ctx, params -> value, error
		if mt.NumIn() != 3 || mt.NumOut() != 2 ||
			mt.In(1) != contextType || mt.In(2) != paramsType ||
			mt.Out(0) != valueType || mt.Out(1) != errorType {
			continue
		}

		fn := val.Method(i)
		name := lowerFirst(method.Name)
		m.Handle(name, func(ctx context.Context, req *message.Request) (message.Value, error) {
			out := fn.Call([]reflect.Value{reflect.ValueOf(ctx), reflect.ValueOf(req.Params)})
			err, _ := out[1].Interface().(error)
			return out[0].Interface(), err
		})
		names = append(names, name)
	}

	if len(names) == 0 {
		return nil, fmt.Errorf("service: type %s has no exported methods of suitable type", typ)
	}
	return names, nil
}

func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToLower(r)) + s[size:]
}

func (m *Mux) HandleRequest(ctx context.Context, req *message.Request) (message.Value, error) {
	m.mu.RLock()
	h, ok := m.handlers[req.Method]
	chain := m.chain
	m.mu.RUnlock()

	if !ok {
		h = func(context.Context, *message.Request) (message.Value, error) {
			return nil, message.Errorf("unknown method: %s", req.Method)
		}
	}
	return chain(h)(ctx, req)
}

func (m *Mux) HandleNotification(ctx context.Context, n *message.Notification) {
	m.mu.RLock()
	h, ok := m.notifications[n.Method]
	if !ok {
		h = m.unknownNotify
	}
	m.mu.RUnlock()

	if h != nil {
		h(ctx, n)
	}
}
