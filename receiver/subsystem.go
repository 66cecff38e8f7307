// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package receiver

import (
	"errors"
	"fmt"
	"sync"

	"github.com/joeycumines/goja-nng/bridge"
	"github.com/joeycumines/goja-nng/socket"
	"github.com/joeycumines/logiface"
)

// Sockets is the socket lifecycle a [Subsystem] borrows handles from,
// typically a *socket.Table.
type Sockets interface {
	Get(h socket.Handle) (*socket.Socket, error)
	IsOpen(h socket.Handle) bool
}

// Subsystem runs continuous receives: a callback registered once for a
// socket is invoked, on the host, for every message the socket receives
// until the subscription is stopped or the socket is closed.
type Subsystem struct {
	host     bridge.Host
	sockets  Sockets
	registry *registry
	opts     *options
	logger   *logiface.Logger[logiface.Event]
	mu       sync.RWMutex
	closed   bool
}

// New returns a subsystem delivering on host. The caller must arrange for
// [Subsystem.OnSocketClosing] to run before any socket is closed, e.g. via
// [socket.Table.OnClosing].
func New(host bridge.Host, sockets Sockets, opts ...Option) (*Subsystem, error) {
	if host == nil {
		return nil, errors.New("receiver: nil host")
	}
	if sockets == nil {
		return nil, errors.New("receiver: nil sockets")
	}
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	return &Subsystem{
		host:     host,
		sockets:  sockets,
		registry: newRegistry(cfg.capacity),
		opts:     cfg,
		logger:   cfg.logger,
	}, nil
}

// Start subscribes cb to every message received on h, replacing any
// existing subscription. Once the previous subscription has been replaced,
// it is never invoked again.
//
// Start blocks while a previous subscription is quiesced, which is bounded
// by the socket's poll interval.
func (s *Subsystem) Start(h socket.Handle, cb bridge.Callback) error {
	if cb == nil {
		return errors.New("receiver: nil callback")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrShutdown
	}

	for {
		sock, err := s.sockets.Get(h)
		if err != nil {
			return err
		}
		if !sock.CanRecv() {
			return socket.ErrRecvNotSupported
		}

		c := s.registry.find(h)
		if c == nil {
			c = newReceiveContext(s, h, sock)
			switch err := s.registry.insert(c); {
			case errors.Is(err, errAlreadyRegistered):
				c.op.Free()
				continue
			case err != nil:
				c.op.Free()
				s.logger.Warning().
					Uint64("socket", uint64(h)).
					Int("capacity", s.registry.capacity).
					Log("receiver: registry full")
				return fmt.Errorf("%w: %w", ErrResourceExhausted, err)
			}
			s.opts.metrics.contextAdded()

			// a close that ran before the insert could not have seen c
			if !s.sockets.IsOpen(h) {
				c.close()
				return socket.ErrInvalidHandle
			}
		}

		ok, err := c.start(cb)
		if !ok {
			continue
		}
		return err
	}
}

// Stop ends the subscription for h, if any, without waiting. The receive
// in flight is canceled, and the subscriber sees a final [ErrCanceled]
// delivery. A later [Subsystem.Start] resumes receiving.
func (s *Subsystem) Stop(h socket.Handle) {
	if c := s.registry.find(h); c != nil {
		c.stop()
	}
}

// OnSocketClosing tears down the receive state for h. It must be called
// before the socket is closed, and returns once no receive is outstanding
// and no delivery for h will be invoked.
func (s *Subsystem) OnSocketClosing(h socket.Handle) {
	if c := s.registry.find(h); c != nil {
		c.close()
	}
}

// Close tears down every subscription. Later calls to [Subsystem.Start] fail
// with [ErrShutdown]. Close is idempotent.
func (s *Subsystem) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	for _, c := range s.registry.snapshot() {
		c.close()
	}
	return nil
}

// Active returns the number of sockets with receive state.
func (s *Subsystem) Active() int {
	return s.registry.size()
}
