package bridge

import (
	"errors"

	"github.com/joeycumines/logiface"
)

// DefaultCapacity is the default bound on undelivered deliveries per bridge.
const DefaultCapacity = 1024

type options struct {
	logger   *logiface.Logger[logiface.Event]
	capacity int
}

// Option configures a [Bridge].
type Option interface {
	applyOption(*options) error
}

type optionFunc struct {
	fn func(*options) error
}

func (o *optionFunc) applyOption(opts *options) error {
	return o.fn(opts)
}

// WithCapacity bounds the number of queued deliveries. Zero means unbounded.
func WithCapacity(n int) Option {
	return &optionFunc{fn: func(opts *options) error {
		if n < 0 {
			return errors.New("bridge: capacity must not be negative")
		}
		opts.capacity = n
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

func resolveOptions(opts []Option) (*options, error) {
	cfg := &options{capacity: DefaultCapacity}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyOption(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
