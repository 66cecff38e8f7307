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
	"time"

	"github.com/joeycumines/goja-nng/aio"
	"github.com/joeycumines/goja-nng/bridge"
	"github.com/joeycumines/goja-nng/socket"
	"go.nanomsg.org/mangos/v3"
)

// receiveContext is the receive state of one socket. It is created by the
// first start for the socket, reused across stop and start, and destroyed by
// close.
//
// Lock order is ctl, then mu, then the operation's own lock. The registry
// lock is never held together with either.
type receiveContext struct {
	sub    *Subsystem
	sock   aio.Receiver
	op     *aio.Operation
	bridge *bridge.Bridge
	idle   *sync.Cond

	// ctl serializes start and close
	ctl sync.Mutex
	mu  sync.Mutex

	handle    socket.Handle
	errStreak int

	// active is cleared once, by close
	active bool
	// receiving is set while the loop should resubmit
	receiving bool
	// inCallback is set while a completion is being handled
	inCallback bool
	// replacing suppresses delivery of completions racing a start
	replacing bool
}

func newReceiveContext(sub *Subsystem, h socket.Handle, sock aio.Receiver) *receiveContext {
	c := &receiveContext{
		sub:    sub,
		sock:   sock,
		handle: h,
		active: true,
	}
	c.idle = sync.NewCond(&c.mu)
	c.op = aio.Alloc(c.complete)
	return c
}

// start binds cb and submits the first receive, first quiescing any previous
// subscription. It returns false if the context was closed concurrently, in
// which case nothing was changed.
func (c *receiveContext) start(cb bridge.Callback) (bool, error) {
	b, err := bridge.New(c.sub.host, cb, c.sub.opts.bridgeOpts...)
	if err != nil {
		return true, fmt.Errorf("%w: %w", ErrResourceExhausted, err)
	}

	c.ctl.Lock()
	defer c.ctl.Unlock()

	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		b.Release(bridge.ReleaseAbort)
		return false, nil
	}
	replace := c.bridge != nil
	c.receiving = false
	c.replacing = true
	c.mu.Unlock()

	c.op.Cancel()
	c.op.Wait()
	c.waitIdle()

	c.mu.Lock()
	old := c.bridge
	c.bridge = b
	c.replacing = false
	c.receiving = true
	c.errStreak = 0
	err = c.op.Submit(c.sock, 0)
	if err != nil {
		c.receiving = false
	}
	c.mu.Unlock()

	if old != nil {
		old.Release(bridge.ReleaseAbort)
	}

	c.sub.logger.Debug().
		Uint64("socket", uint64(c.handle)).
		Bool("replace", replace).
		Err(err).
		Log("receiver: started")

	if err != nil {
		return true, fmt.Errorf("%w: %w", ErrResourceExhausted, err)
	}
	return true, nil
}

// stop prevents resubmission and cancels the outstanding receive, without
// waiting for it.
func (c *receiveContext) stop() {
	c.mu.Lock()
	c.receiving = false
	c.mu.Unlock()
	c.op.Cancel()
}

// close tears the context down. Once it returns, no receive is outstanding
// and no delivery will be invoked. It is idempotent.
func (c *receiveContext) close() {
	c.ctl.Lock()
	defer c.ctl.Unlock()

	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	c.active = false
	c.receiving = false
	c.mu.Unlock()

	c.sub.registry.remove(c)

	c.op.Cancel()
	c.op.Wait()
	c.waitIdle()

	c.mu.Lock()
	b := c.bridge
	c.bridge = nil
	c.mu.Unlock()
	if b != nil {
		b.Release(bridge.ReleaseAbort)
	}

	c.op.Free()
	c.sub.opts.metrics.contextRemoved()

	c.sub.logger.Debug().
		Uint64("socket", uint64(c.handle)).
		Log("receiver: closed")
}

func (c *receiveContext) waitIdle() {
	c.mu.Lock()
	for c.inCallback {
		c.idle.Wait()
	}
	c.mu.Unlock()
}

// complete is the completion callback of the operation, run on the
// submission's goroutine.
func (c *receiveContext) complete(op *aio.Operation) {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		if msg := op.TakeMessage(); msg != nil {
			msg.Free()
		}
		return
	}
	c.inCallback = true
	b := c.bridge
	suppress := c.replacing
	c.mu.Unlock()

	d, result := classify(op)
	terminal := result == resultCanceled || result == resultClosed

	if !suppress && b != nil {
		if err := b.Dispatch(d); err != nil {
			c.sub.opts.metrics.drop()
			c.sub.logger.Warning().
				Limit().
				Uint64("socket", uint64(c.handle)).
				Str("result", result).
				Err(err).
				Log("receiver: delivery dropped")
		} else {
			c.sub.opts.metrics.delivered(result)
		}
	}

	c.mu.Lock()
	if result == resultError {
		c.errStreak++
		c.sub.logger.Debug().
			Uint64("socket", uint64(c.handle)).
			Int("streak", c.errStreak).
			Err(d.Err).
			Log("receiver: transport error")
	} else {
		c.errStreak = 0
	}
	var ended error
	if c.active && c.receiving && !terminal {
		if err := op.Submit(c.sock, c.sub.backoff(c.errStreak)); err != nil {
			c.receiving = false
			ended = fmt.Errorf("%w: resubmit: %w", ErrCanceled, err)
			c.sub.logger.Err().
				Uint64("socket", uint64(c.handle)).
				Err(err).
				Log("receiver: resubmit failed")
		} else {
			c.sub.opts.metrics.resubmit()
		}
	}
	c.inCallback = false
	c.idle.Broadcast()
	c.mu.Unlock()

	// the subscriber learns the subscription ended
	if ended != nil && !suppress && b != nil {
		if err := b.Dispatch(bridge.Delivery{Err: ended}); err == nil {
			c.sub.opts.metrics.delivered(resultCanceled)
		}
	}
}

// classify turns the result of op into a delivery, taking ownership of any
// received message.
func classify(op *aio.Operation) (bridge.Delivery, string) {
	err := op.Result()
	if err == nil {
		msg := op.TakeMessage()
		if msg == nil {
			return bridge.Delivery{Payload: []byte{}}, resultMessage
		}
		payload := make([]byte, len(msg.Body))
		copy(payload, msg.Body)
		msg.Free()
		return bridge.Delivery{Payload: payload}, resultMessage
	}
	switch {
	case errors.Is(err, aio.ErrCanceled), socket.CodeOf(err) == socket.ECANCELED:
		return bridge.Delivery{Err: fmt.Errorf("%w: %w", ErrCanceled, err)}, resultCanceled
	case errors.Is(err, mangos.ErrClosed), socket.CodeOf(err) == socket.ECLOSED:
		return bridge.Delivery{Err: fmt.Errorf("%w: %w", ErrClosed, err)}, resultClosed
	default:
		return bridge.Delivery{Err: &TransportError{Err: err}}, resultError
	}
}

// backoff returns the delay before the next receive after streak
// consecutive transport errors.
func (s *Subsystem) backoff(streak int) time.Duration {
	base, limit := s.opts.backoff, s.opts.backoffMax
	if streak <= 0 || base <= 0 {
		return 0
	}
	d := base
	for i := 1; i < streak && d < limit; i++ {
		d *= 2
	}
	return min(d, limit)
}
