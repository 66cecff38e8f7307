package gojanng

import (
	"github.com/dop251/goja"
	"github.com/joeycumines/goja-nng/socket"
)

// endpointKind distinguishes the Dialer and Listener constructors, which
// share one implementation.
type endpointKind struct {
	create    func(t *socket.Table, h socket.Handle, url string) (socket.EndpointID, error)
	start     func(t *socket.Table, id socket.EndpointID) error
	close     func(t *socket.Table, id socket.EndpointID) error
	errClosed error
}

var (
	dialerKind = endpointKind{
		create:    (*socket.Table).NewDialer,
		start:     (*socket.Table).StartDialer,
		close:     (*socket.Table).CloseDialer,
		errClosed: errDialerClosed,
	}
	listenerKind = endpointKind{
		create:    (*socket.Table).NewListener,
		start:     (*socket.Table).StartListener,
		close:     (*socket.Table).CloseListener,
		errClosed: errListenerClosed,
	}
)

// jsDialer is the Dialer constructor: new Dialer(socket, url).
func (m *Module) jsDialer(call goja.ConstructorCall) *goja.Object {
	return m.newEndpoint(call, dialerKind)
}

// jsListener is the Listener constructor: new Listener(socket, url).
func (m *Module) jsListener(call goja.ConstructorCall) *goja.Object {
	return m.newEndpoint(call, listenerKind)
}

func (m *Module) newEndpoint(call goja.ConstructorCall, kind endpointKind) *goja.Object {
	s := m.socketState(call.Argument(0))
	if s == nil {
		m.throw(errNotSocket)
	}
	m.checkOpen(s)
	id, err := kind.create(m.table, s.sock.Handle(), call.Argument(1).String())
	if err != nil {
		m.throw(err)
	}

	closed := false
	obj := call.This

	_ = obj.DefineAccessorProperty("id",
		m.runtime.ToValue(func(goja.FunctionCall) goja.Value {
			return m.runtime.ToValue(uint32(id))
		}),
		nil,
		goja.FLAG_FALSE,
		goja.FLAG_TRUE,
	)

	_ = obj.Set("start", m.runtime.ToValue(func(goja.FunctionCall) goja.Value {
		if closed {
			m.throw(kind.errClosed)
		}
		if err := kind.start(m.table, id); err != nil {
			m.throw(err)
		}
		return goja.Undefined()
	}))

	_ = obj.Set("close", m.runtime.ToValue(func(goja.FunctionCall) goja.Value {
		if closed {
			return goja.Undefined()
		}
		closed = true
		// the endpoint is gone already if its socket was closed
		_ = kind.close(m.table, id)
		return goja.Undefined()
	}))

	return obj
}
