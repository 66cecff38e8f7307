package gojanng

import (
	"errors"

	eventloop "github.com/joeycumines/go-eventloop"
	"github.com/joeycumines/goja-nng/receiver"
	"github.com/joeycumines/goja-nng/socket"
	"github.com/joeycumines/logiface"
)

// KeepAlive is notified of work that should keep the host running: a
// pending promise or an active receive subscription holds one reference.
// Calls happen on the loop goroutine.
type KeepAlive interface {
	Ref()
	Unref()
}

// moduleOptions holds configuration for a [Module] instance.
type moduleOptions struct {
	loop      *eventloop.Loop
	table     *socket.Table
	receiver  *receiver.Subsystem
	logger    *logiface.Logger[logiface.Event]
	keepAlive KeepAlive
}

// Option configures a [Module] instance. Options are applied during
// module construction.
type Option interface {
	applyOption(*moduleOptions) error
}

// optionFunc implements [Option] via a closure.
type optionFunc struct {
	fn func(*moduleOptions) error
}

func (o *optionFunc) applyOption(opts *moduleOptions) error {
	return o.fn(opts)
}

// WithLoop configures the event loop that drives the runtime. Promise
// settlement is submitted to it. This option is required.
func WithLoop(loop *eventloop.Loop) Option {
	return &optionFunc{fn: func(opts *moduleOptions) error {
		if loop == nil {
			return errors.New("gojanng: loop must not be nil")
		}
		opts.loop = loop
		return nil
	}}
}

// WithTable configures the socket table sockets are opened in. This option
// is required.
func WithTable(table *socket.Table) Option {
	return &optionFunc{fn: func(opts *moduleOptions) error {
		if table == nil {
			return errors.New("gojanng: table must not be nil")
		}
		opts.table = table
		return nil
	}}
}

// WithReceiver configures the continuous receive subsystem backing
// startRecv. It must deliver on the same loop given to [WithLoop], and be
// registered as a closing hook of the table. This option is required.
func WithReceiver(r *receiver.Subsystem) Option {
	return &optionFunc{fn: func(opts *moduleOptions) error {
		if r == nil {
			return errors.New("gojanng: receiver must not be nil")
		}
		opts.receiver = r
		return nil
	}}
}

// WithLogger configures the logger. Errors thrown by receive callbacks are
// logged, having nowhere else to go.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionFunc{fn: func(opts *moduleOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithKeepAlive configures the [KeepAlive] notified of outstanding work.
func WithKeepAlive(k KeepAlive) Option {
	return &optionFunc{fn: func(opts *moduleOptions) error {
		opts.keepAlive = k
		return nil
	}}
}

// resolveOptions applies the given options to a default [moduleOptions]
// and validates that all required fields are set.
func resolveOptions(opts []Option) (*moduleOptions, error) {
	cfg := &moduleOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyOption(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.loop == nil {
		return nil, errors.New("gojanng: loop is required (use WithLoop)")
	}
	if cfg.table == nil {
		return nil, errors.New("gojanng: table is required (use WithTable)")
	}
	if cfg.receiver == nil {
		return nil, errors.New("gojanng: receiver is required (use WithReceiver)")
	}
	if cfg.keepAlive == nil {
		cfg.keepAlive = noKeepAlive{}
	}
	return cfg, nil
}

type noKeepAlive struct{}

func (noKeepAlive) Ref()   {}
func (noKeepAlive) Unref() {}
