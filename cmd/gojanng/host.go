package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/buffer"
	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/require"
	eventloop "github.com/joeycumines/go-eventloop"
	gojanng "github.com/joeycumines/goja-nng"
	"github.com/joeycumines/goja-nng/receiver"
	"github.com/joeycumines/goja-nng/socket"
	"github.com/joeycumines/logiface"
)

// host owns the JS runtime. Every field other than done and code is only
// touched on the loop goroutine.
type host struct {
	js      *eventloop.JS
	runtime *goja.Runtime
	logger  *logiface.Logger[logiface.Event]

	refs    int
	started bool
	code    int
	done    chan struct{}
	stopped bool
}

func newHost(loop *eventloop.Loop, table *socket.Table, sub *receiver.Subsystem, stdout io.Writer, logger *logiface.Logger[logiface.Event]) (*host, error) {
	js, err := eventloop.NewJS(loop)
	if err != nil {
		return nil, err
	}
	h := &host{
		js:      js,
		runtime: goja.New(),
		logger:  logger,
		done:    make(chan struct{}),
	}

	registry := require.NewRegistry()
	registry.RegisterNativeModule("nng", gojanng.Require(
		gojanng.WithLoop(loop),
		gojanng.WithTable(table),
		gojanng.WithReceiver(sub),
		gojanng.WithLogger(logger),
		gojanng.WithKeepAlive(h),
	))
	registry.RegisterNativeModule(console.ModuleName, console.RequireWithPrinter(&printer{out: stdout, logger: logger}))
	registry.Enable(h.runtime)
	console.Enable(h.runtime)
	buffer.Enable(h.runtime)

	_ = h.runtime.Set("setTimeout", h.setTimeout)
	_ = h.runtime.Set("clearTimeout", h.clearTimeout)
	_ = h.runtime.Set("setInterval", h.setInterval)
	_ = h.runtime.Set("clearInterval", h.clearInterval)
	_ = h.runtime.Set("exit", h.exit)

	return h, nil
}

// Ref implements [gojanng.KeepAlive].
func (h *host) Ref() { h.refs++ }

// Unref implements [gojanng.KeepAlive].
func (h *host) Unref() {
	h.refs--
	h.maybeStop()
}

// run evaluates the script, then waits for outstanding work.
func (h *host) run(name, src string) {
	_, err := h.runtime.RunScript(name, src)
	h.started = true
	if err != nil && !h.stopped {
		var ex *goja.Exception
		if errors.As(err, &ex) {
			h.logger.Err().Str("script", name).Str("stack", ex.String()).Log("uncaught exception")
		} else {
			h.logger.Err().Str("script", name).Err(err).Log("script failed")
		}
		h.stop(1)
		return
	}
	h.maybeStop()
}

func (h *host) maybeStop() {
	if h.started && h.refs <= 0 {
		h.stop(h.code)
	}
}

func (h *host) stop(code int) {
	if h.stopped {
		return
	}
	h.stopped = true
	h.code = code
	h.runtime.Interrupt("exit")
	close(h.done)
}

func (h *host) setTimeout(call goja.FunctionCall) goja.Value {
	return h.schedule(call, func(fn func(), ms int) (uint64, error) { return h.js.SetTimeout(fn, ms) }, true)
}

func (h *host) setInterval(call goja.FunctionCall) goja.Value {
	return h.schedule(call, func(fn func(), ms int) (uint64, error) { return h.js.SetInterval(fn, ms) }, false)
}

// schedule holds a keep-alive reference until the timer fires (once) or is
// cleared.
func (h *host) schedule(call goja.FunctionCall, set func(func(), int) (uint64, error), once bool) goja.Value {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(h.runtime.NewTypeError("callback must be a function"))
	}
	delayMs := max(int(call.Argument(1).ToInteger()), 0)
	args := append([]goja.Value(nil), call.Arguments[min(2, len(call.Arguments)):]...)

	id, err := set(func() {
		if h.stopped {
			return
		}
		if _, err := fn(goja.Undefined(), args...); err != nil && !h.stopped {
			h.logger.Err().Err(err).Log("timer callback threw")
		}
		if once {
			h.Unref()
		}
	}, delayMs)
	if err != nil {
		panic(h.runtime.NewGoError(err))
	}
	h.Ref()
	return h.runtime.ToValue(id)
}

func (h *host) clearTimeout(call goja.FunctionCall) goja.Value {
	return h.clear(call, h.js.ClearTimeout)
}

func (h *host) clearInterval(call goja.FunctionCall) goja.Value {
	return h.clear(call, h.js.ClearInterval)
}

// clear releases the timer's reference only if it was still pending, so a
// fired or unknown id is ignored.
func (h *host) clear(call goja.FunctionCall, cancel func(uint64) error) goja.Value {
	if id := call.Argument(0).ToInteger(); id > 0 && cancel(uint64(id)) == nil {
		h.Unref()
	}
	return goja.Undefined()
}

func (h *host) exit(call goja.FunctionCall) goja.Value {
	h.stop(int(call.Argument(0).ToInteger()))
	return goja.Undefined()
}

// printer routes console.log to stdout, and warnings and errors to the
// logger.
type printer struct {
	out    io.Writer
	logger *logiface.Logger[logiface.Event]
}

func (p *printer) Log(s string) { _, _ = fmt.Fprintln(p.out, s) }

func (p *printer) Warn(s string) { p.logger.Warning().Str("source", "console").Log(s) }

func (p *printer) Error(s string) { p.logger.Err().Str("source", "console").Log(s) }
