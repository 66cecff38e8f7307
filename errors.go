package gojanng

import (
	"errors"

	"github.com/dop251/goja"
	"github.com/joeycumines/goja-nng/receiver"
	"github.com/joeycumines/goja-nng/socket"
)

var (
	errSocketClosed   = errors.New("Socket is closed")
	errDialerClosed   = errors.New("Dialer is closed")
	errListenerClosed = errors.New("Listener is closed")
	errNotSocket      = errors.New("First argument must be a Socket instance")
	errBadData        = errors.New("Data must be a Buffer or string")
	errBadOptionValue = errors.New("Value must be a string, number or boolean")
)

// errorCode returns the nng error number reported to JS for err.
func errorCode(err error) socket.Code {
	if errors.Is(err, receiver.ErrResourceExhausted) {
		return socket.ENOMEM
	}
	if code := socket.CodeOf(err); code != 0 {
		return code
	}
	switch {
	case errors.Is(err, receiver.ErrCanceled):
		return socket.ECANCELED
	case errors.Is(err, receiver.ErrClosed):
		return socket.ECLOSED
	}
	return 0
}

// jsError converts err to a JS error object. Errors carrying an nng error
// number expose it as the code property.
func (m *Module) jsError(err error) *goja.Object {
	obj := m.runtime.NewGoError(err)
	switch err {
	case errSocketClosed, errDialerClosed, errListenerClosed, errNotSocket, errBadData, errBadOptionValue:
		return obj
	}
	if code := errorCode(err); code != 0 {
		_ = obj.Set("code", int(code))
	}
	return obj
}

// throw panics with err as a JS exception, for use from native functions.
func (m *Module) throw(err error) {
	panic(m.jsError(err))
}
