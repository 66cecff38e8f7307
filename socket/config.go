package socket

import (
	"errors"
	"time"

	"github.com/joeycumines/logiface"
)

// DefaultPollInterval is the receive deadline armed on sockets, bounding how
// long a canceled receive takes to return.
const DefaultPollInterval = 50 * time.Millisecond

type tableOptions struct {
	logger       *logiface.Logger[logiface.Event]
	pollInterval time.Duration
}

// TableOption configures a [Table].
type TableOption interface {
	applyTableOption(*tableOptions) error
}

type tableOptionFunc func(*tableOptions) error

func (f tableOptionFunc) applyTableOption(opts *tableOptions) error { return f(opts) }

// WithLogger sets the logger used by the table and its sockets. A nil
// logger disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) TableOption {
	return tableOptionFunc(func(opts *tableOptions) error {
		opts.logger = logger
		return nil
	})
}

// WithPollInterval sets the receive poll interval, see [DefaultPollInterval].
func WithPollInterval(d time.Duration) TableOption {
	return tableOptionFunc(func(opts *tableOptions) error {
		if d <= 0 {
			return errors.New("socket: poll interval must be positive")
		}
		opts.pollInterval = d
		return nil
	})
}

func resolveTableOptions(opts []TableOption) (*tableOptions, error) {
	cfg := &tableOptions{pollInterval: DefaultPollInterval}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyTableOption(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
