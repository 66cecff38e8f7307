package gojanng

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/buffer"
	"github.com/joeycumines/goja-nng/bridge"
	"github.com/joeycumines/goja-nng/receiver"
	"github.com/joeycumines/goja-nng/socket"
)

// socketKey is the hidden property holding a JS socket's [*jsSocketState].
const socketKey = "_nngSocket"

// jsSocketState is only accessed on the loop goroutine.
type jsSocketState struct {
	sock       *socket.Socket
	closed     bool
	receiving  bool
	// bumped by each startRecv, so an ended subscription is only released
	// by its own callback
	generation uint64
}

// jsSocket is the Socket constructor: new Socket(protocol).
func (m *Module) jsSocket(call goja.ConstructorCall) *goja.Object {
	p := socket.Protocol(call.Argument(0).ToInteger())
	sock, err := m.table.Open(p)
	if err != nil {
		m.throw(err)
	}
	s := &jsSocketState{sock: sock}
	obj := call.This

	_ = obj.DefineDataProperty(socketKey, m.runtime.ToValue(s), goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_FALSE)

	_ = obj.DefineAccessorProperty("id",
		m.runtime.ToValue(func(goja.FunctionCall) goja.Value {
			return m.runtime.ToValue(uint32(sock.Handle()))
		}),
		nil,
		goja.FLAG_FALSE,
		goja.FLAG_TRUE,
	)

	_ = obj.Set("listen", m.runtime.ToValue(func(call goja.FunctionCall) goja.Value {
		m.checkOpen(s)
		if err := sock.Listen(call.Argument(0).String()); err != nil {
			m.throw(err)
		}
		return goja.Undefined()
	}))

	_ = obj.Set("dial", m.runtime.ToValue(func(call goja.FunctionCall) goja.Value {
		m.checkOpen(s)
		if err := sock.Dial(call.Argument(0).String()); err != nil {
			m.throw(err)
		}
		return goja.Undefined()
	}))

	_ = obj.Set("send", m.runtime.ToValue(func(call goja.FunctionCall) goja.Value {
		promise, resolve, reject := m.runtime.NewPromise()
		if s.closed {
			_ = reject(m.jsError(errSocketClosed))
			return m.runtime.ToValue(promise)
		}
		data, err := m.payload(call.Argument(0))
		if err != nil {
			_ = reject(m.jsError(err))
			return m.runtime.ToValue(promise)
		}
		m.keepAlive.Ref()
		go func() {
			m.settle(resolve, reject, nil, sock.Send(data))
		}()
		return m.runtime.ToValue(promise)
	}))

	_ = obj.Set("recv", m.runtime.ToValue(func(call goja.FunctionCall) goja.Value {
		promise, resolve, reject := m.runtime.NewPromise()
		if s.closed {
			_ = reject(m.jsError(errSocketClosed))
			return m.runtime.ToValue(promise)
		}
		m.keepAlive.Ref()
		go func() {
			data, err := sock.Recv(context.Background())
			m.settle(resolve, reject, func() goja.Value {
				return buffer.WrapBytes(m.runtime, data)
			}, err)
		}()
		return m.runtime.ToValue(promise)
	}))

	_ = obj.Set("setOpt", m.runtime.ToValue(func(call goja.FunctionCall) goja.Value {
		m.checkOpen(s)
		if err := m.setOption(sock, call.Argument(0).String(), call.Argument(1)); err != nil {
			m.throw(err)
		}
		return goja.Undefined()
	}))

	_ = obj.Set("getOpt", m.runtime.ToValue(func(call goja.FunctionCall) goja.Value {
		m.checkOpen(s)
		v, err := m.getOption(sock, call.Argument(0).String())
		if err != nil {
			m.throw(err)
		}
		return v
	}))

	_ = obj.Set("startRecv", m.runtime.ToValue(func(call goja.FunctionCall) goja.Value {
		m.checkOpen(s)
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			panic(m.runtime.NewTypeError("callback must be a function"))
		}
		s.generation++
		if err := m.receiver.Start(sock.Handle(), m.receiveCallback(s, s.generation, fn)); err != nil {
			m.throw(err)
		}
		if !s.receiving {
			s.receiving = true
			m.keepAlive.Ref()
		}
		return goja.Undefined()
	}))

	_ = obj.Set("stopRecv", m.runtime.ToValue(func(goja.FunctionCall) goja.Value {
		if s.closed {
			return goja.Undefined()
		}
		m.receiver.Stop(sock.Handle())
		m.stopReceiving(s)
		return goja.Undefined()
	}))

	_ = obj.Set("close", m.runtime.ToValue(func(goja.FunctionCall) goja.Value {
		if s.closed {
			return goja.Undefined()
		}
		s.closed = true
		m.stopReceiving(s)
		if err := m.table.Close(sock.Handle()); err != nil {
			m.logger.Debug().
				Uint64("socket", uint64(sock.Handle())).
				Err(err).
				Log("gojanng: close failed")
		}
		return goja.Undefined()
	}))

	return obj
}

func (m *Module) checkOpen(s *jsSocketState) {
	if s.closed {
		m.throw(errSocketClosed)
	}
}

func (m *Module) stopReceiving(s *jsSocketState) {
	if s.receiving {
		s.receiving = false
		m.keepAlive.Unref()
	}
}

// socketState returns the state behind a JS Socket, or nil.
func (m *Module) socketState(v goja.Value) *jsSocketState {
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil
	}
	s, _ := obj.Get(socketKey).Export().(*jsSocketState)
	return s
}

// receiveCallback adapts fn to a delivery callback, called as
// fn(err, data) with exactly one of the two set and the other null. A
// delivery ending the subscription releases its keep-alive reference.
func (m *Module) receiveCallback(s *jsSocketState, generation uint64, fn goja.Callable) bridge.Callback {
	h := s.sock.Handle()
	return func(d bridge.Delivery) {
		if d.Err != nil && s.generation == generation &&
			(errors.Is(d.Err, receiver.ErrCanceled) || errors.Is(d.Err, receiver.ErrClosed)) {
			m.stopReceiving(s)
		}
		var args [2]goja.Value
		if d.Err != nil {
			args[0] = m.jsError(d.Err)
			args[1] = goja.Null()
		} else {
			args[0] = goja.Null()
			args[1] = buffer.WrapBytes(m.runtime, d.Payload)
		}
		if _, err := fn(goja.Undefined(), args[:]...); err != nil {
			m.logger.Err().
				Uint64("socket", uint64(h)).
				Err(err).
				Log("gojanng: receive callback threw")
		}
	}
}

// payload returns an owned copy of a Buffer, ArrayBuffer or string.
func (m *Module) payload(v goja.Value) (data []byte, err error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, errBadData
	}
	switch v.Export().(type) {
	case string, goja.ArrayBuffer:
	default:
		if _, ok := v.(*goja.Object); !ok {
			return nil, errBadData
		}
	}
	defer func() {
		if r := recover(); r != nil {
			data, err = nil, errBadData
		}
	}()
	return bytes.Clone(buffer.DecodeBytes(m.runtime, v, goja.Undefined())), nil
}

// setOption sets an option by the type of the JS value. Numbers are
// milliseconds for duration options.
func (m *Module) setOption(sock *socket.Socket, name string, v goja.Value) error {
	switch x := v.Export().(type) {
	case string:
		return sock.SetOptionString(name, x)
	case bool:
		return sock.SetOptionBool(name, x)
	case int64:
		if socket.IsDurationOption(name) {
			return sock.SetOptionMs(name, time.Duration(x)*time.Millisecond)
		}
		return sock.SetOptionInt(name, int(x))
	case float64:
		if socket.IsDurationOption(name) {
			return sock.SetOptionMs(name, time.Duration(x*float64(time.Millisecond)))
		}
		return sock.SetOptionInt(name, int(x))
	default:
		return errBadOptionValue
	}
}

// getOption tries durations (as milliseconds), then integers, strings and
// booleans. The integer error is reported if every type fails.
func (m *Module) getOption(sock *socket.Socket, name string) (goja.Value, error) {
	if socket.IsDurationOption(name) {
		d, err := sock.GetOptionMs(name)
		if err != nil {
			return nil, err
		}
		if d < 0 {
			return m.runtime.ToValue(-1), nil
		}
		return m.runtime.ToValue(d.Milliseconds()), nil
	}
	i, err := sock.GetOptionInt(name)
	if err == nil {
		return m.runtime.ToValue(i), nil
	}
	if s, serr := sock.GetOptionString(name); serr == nil {
		return m.runtime.ToValue(s), nil
	}
	if b, berr := sock.GetOptionBool(name); berr == nil {
		return m.runtime.ToValue(b), nil
	}
	return nil, err
}
