package gojanng

import (
	"strings"

	"github.com/dop251/goja"
	eventloop "github.com/joeycumines/go-eventloop"
	"github.com/joeycumines/goja-nng/receiver"
	"github.com/joeycumines/goja-nng/socket"
	"github.com/joeycumines/logiface"
)

// Module provides nng sockets for a [goja.Runtime]. Each Module instance
// is bound to a single runtime, which must only be used from the goroutine
// running its [eventloop.Loop].
type Module struct {
	runtime   *goja.Runtime
	loop      *eventloop.Loop
	table     *socket.Table
	receiver  *receiver.Subsystem
	logger    *logiface.Logger[logiface.Event]
	keepAlive KeepAlive

	socketCtor *goja.Object
}

// New creates a new [Module] bound to the given [goja.Runtime].
//
// New panics if runtime is nil. It returns an error if option validation
// fails or if required options are missing:
//   - [WithLoop]: the event loop driving the runtime
//   - [WithTable]: the socket table
//   - [WithReceiver]: the continuous receive subsystem
//
// Payloads are Node.js style Buffers, so the runtime must have a
// require registry enabled.
func New(runtime *goja.Runtime, opts ...Option) (*Module, error) {
	if runtime == nil {
		panic("gojanng: runtime must not be nil")
	}

	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	return &Module{
		runtime:   runtime,
		loop:      cfg.loop,
		table:     cfg.table,
		receiver:  cfg.receiver,
		logger:    cfg.logger,
		keepAlive: cfg.keepAlive,
	}, nil
}

// Runtime returns the [goja.Runtime] this module is bound to.
func (m *Module) Runtime() *goja.Runtime {
	return m.runtime
}

// SetupExports wires the module's JS API onto the given exports object,
// as [Require] does.
func (m *Module) SetupExports(exports *goja.Object) {
	m.setupExports(exports)
}

// setupExports wires the module's JS API onto the given exports object.
//
// Exports:
//   - Protocol: protocol numbers, by name
//   - Socket, Dialer, Listener: constructors
//   - bus, pair, pull, push, pub, sub, rep, req: socket factories
func (m *Module) setupExports(exports *goja.Object) {
	m.socketCtor = m.runtime.ToValue(m.jsSocket).ToObject(m.runtime)

	protocols := m.runtime.NewObject()
	for _, p := range socket.Protocols() {
		_ = protocols.Set(strings.ToUpper(p.String()), int(p))
		_ = exports.Set(p.String(), m.runtime.ToValue(func(goja.FunctionCall) goja.Value {
			obj, err := m.runtime.New(m.socketCtor, m.runtime.ToValue(int(p)))
			if err != nil {
				panic(err)
			}
			return obj
		}))
	}
	m.freeze(protocols)

	_ = exports.Set("Protocol", protocols)
	_ = exports.Set("Socket", m.socketCtor)
	_ = exports.Set("Dialer", m.runtime.ToValue(m.jsDialer))
	_ = exports.Set("Listener", m.runtime.ToValue(m.jsListener))
}

func (m *Module) freeze(obj *goja.Object) {
	freezeVal := m.runtime.Get("Object").ToObject(m.runtime).Get("freeze")
	if freezeFn, ok := goja.AssertFunction(freezeVal); ok {
		_, _ = freezeFn(goja.Undefined(), obj)
	}
}

// settle resolves or rejects a promise from any goroutine, by submitting
// to the loop. The promise holds a keep-alive reference until then.
func (m *Module) settle(resolve, reject func(any) error, value func() goja.Value, err error) {
	if submitErr := m.loop.Submit(func() {
		defer m.keepAlive.Unref()
		if err != nil {
			_ = reject(m.jsError(err))
			return
		}
		var v goja.Value = goja.Undefined()
		if value != nil {
			v = value()
		}
		_ = resolve(v)
	}); submitErr != nil {
		m.logger.Debug().
			Err(submitErr).
			Log("gojanng: promise abandoned, loop not accepting tasks")
	}
}
