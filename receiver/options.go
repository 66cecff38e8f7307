package receiver

import (
	"errors"
	"time"

	"github.com/joeycumines/goja-nng/bridge"
	"github.com/joeycumines/logiface"
)

const (
	// DefaultErrorBackoff is the delay before resubmitting after a transport
	// error. It doubles with each consecutive error.
	DefaultErrorBackoff = 10 * time.Millisecond

	// DefaultMaxErrorBackoff caps the error backoff.
	DefaultMaxErrorBackoff = time.Second
)

type options struct {
	logger      *logiface.Logger[logiface.Event]
	metrics     *Metrics
	bridgeOpts  []bridge.Option
	capacity    int
	backoff     time.Duration
	backoffMax  time.Duration
	bridgeLimit int
}

// Option configures a [Subsystem].
type Option interface {
	applyOption(*options) error
}

type optionFunc struct {
	fn func(*options) error
}

func (o *optionFunc) applyOption(opts *options) error {
	return o.fn(opts)
}

// WithCapacity bounds the number of sockets with a receive context, see
// [DefaultCapacity].
func WithCapacity(n int) Option {
	return &optionFunc{fn: func(opts *options) error {
		if n <= 0 {
			return errors.New("receiver: capacity must be positive")
		}
		opts.capacity = n
		return nil
	}}
}

// WithBridgeCapacity bounds the undelivered deliveries queued per
// subscription. Deliveries beyond it are dropped. Zero means unbounded.
func WithBridgeCapacity(n int) Option {
	return &optionFunc{fn: func(opts *options) error {
		if n < 0 {
			return errors.New("receiver: bridge capacity must not be negative")
		}
		opts.bridgeLimit = n
		return nil
	}}
}

// WithErrorBackoff configures the delay before resubmitting after
// consecutive transport errors: base after the first, doubling up to max.
// A zero base disables the backoff.
func WithErrorBackoff(base, max time.Duration) Option {
	return &optionFunc{fn: func(opts *options) error {
		if base < 0 || max < base {
			return errors.New("receiver: invalid error backoff")
		}
		opts.backoff = base
		opts.backoffMax = max
		return nil
	}}
}

// WithLogger sets the logger. A nil logger disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionFunc{fn: func(opts *options) error {
		opts.logger = logger
		return nil
	}}
}

// WithMetrics sets the collectors updated by the subsystem.
func WithMetrics(m *Metrics) Option {
	return &optionFunc{fn: func(opts *options) error {
		opts.metrics = m
		return nil
	}}
}

func resolveOptions(opts []Option) (*options, error) {
	cfg := &options{
		capacity:    DefaultCapacity,
		backoff:     DefaultErrorBackoff,
		backoffMax:  DefaultMaxErrorBackoff,
		bridgeLimit: bridge.DefaultCapacity,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyOption(cfg); err != nil {
			return nil, err
		}
	}
	cfg.bridgeOpts = []bridge.Option{
		bridge.WithCapacity(cfg.bridgeLimit),
		bridge.WithLogger(cfg.logger),
	}
	return cfg, nil
}
